// Package persist synchronizes the canonical door list with the backend
// estimate store. Every call retries transient failures with scaled
// timeouts and jittered backoff, classifies what finally went wrong, and
// never touches local state on failure, so nothing the field worker
// captured is lost to a bad tunnel.
package persist

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// Class buckets a sync failure for retry decisions and user guidance.
type Class string

const (
	// ClassNetwork covers connection resets, refusals, and requests that
	// never got a response.
	ClassNetwork Class = "network"
	// ClassTimeout covers per-attempt deadline expiry and HTTP 408.
	ClassTimeout Class = "timeout"
	// ClassCrossOrigin is the gateway refusing the request origin. Never
	// retried: the same request would be refused again.
	ClassCrossOrigin Class = "cross_origin"
	// ClassServer covers HTTP 5xx and 2xx bodies that signal failure.
	ClassServer Class = "server"
	// ClassClient covers 4xx responses. Only 408 and 429 are retried.
	ClassClient Class = "client"
	// ClassExhausted means every allowed attempt was spent on a
	// retryable condition.
	ClassExhausted Class = "exhausted_retries"
)

// SyncError is the classified outcome of a failed Persist call.
type SyncError struct {
	Class      Class
	Attempts   int
	StatusCode int
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync failed (%s) after %d attempt(s): %v", e.Class, e.Attempts, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// classifyTransport buckets an error from http.Client.Do: no response was
// received at all.
func classifyTransport(err error) Class {
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return ClassNetwork
	}
	if isCrossOriginMessage(err.Error()) {
		return ClassCrossOrigin
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassNetwork
	}
	return ClassNetwork
}

// classifyStatus buckets a received HTTP status.
func classifyStatus(status int) Class {
	switch {
	case status >= 500:
		return ClassServer
	case status == 408:
		return ClassTimeout
	case status >= 400:
		return ClassClient
	default:
		return ClassServer
	}
}

// retryable reports whether another attempt is allowed for this class and
// status. Cross-origin refusals and plain 4xx fail immediately; 408 and
// 429 are the 4xx exceptions.
func retryable(class Class, status int) bool {
	switch class {
	case ClassNetwork, ClassTimeout, ClassServer:
		return true
	case ClassClient:
		return status == 408 || status == 429
	default:
		return false
	}
}

func isCrossOriginMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "cross-origin") || strings.Contains(lower, "cors")
}
