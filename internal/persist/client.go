package persist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fieldsmith/doorvox/internal/door"
)

const originRejectedCode = "origin_rejected"

// Prober answers whether the backend looks reachable right now. The
// result only stretches backoff; it never aborts a sync.
type Prober interface {
	Online(ctx context.Context) bool
}

// Config configures the sync client.
type Config struct {
	// BaseURL is the estimate backend, e.g. "https://api.example.com".
	BaseURL string

	// MaxRetries is the number of extra attempts after the first
	// (default 5, i.e. 6 total tries).
	MaxRetries int

	// DegradedHosts flags endpoints known to be unstable or
	// high-latency; matching hosts get longer timeouts and backoff.
	DegradedHosts []string
}

// Result is the outcome of a successful Persist call.
type Result struct {
	// Doors is the canonical list after the sync: the server's echo when
	// it materially differs from what was sent, otherwise the sent list.
	Doors []door.Record

	// Attempts is how many tries the call used, including the first.
	Attempts int

	// Updated reports whether Doors differs from what was sent. Callers
	// only rewrite local state when this is true.
	Updated bool
}

// Client persists canonical door lists to the estimate backend.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	maxRetries int
	degraded   bool
	prober     Prober
	logger     *zap.Logger
	metrics    *Metrics

	jitterMu sync.Mutex
	rng      *rand.Rand
	jitter   func(max time.Duration) time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport. The client must not carry its
// own Timeout: per-attempt deadlines come from the schedule.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithProber replaces the connectivity probe.
func WithProber(p Prober) Option {
	return func(c *Client) { c.prober = p }
}

// WithMetrics attaches sync metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithJitter replaces the backoff jitter source, for deterministic tests.
func WithJitter(j func(max time.Duration) time.Duration) Option {
	return func(c *Client) { c.jitter = j }
}

// WithSleep replaces the backoff wait, for tests that must not sleep.
func WithSleep(s func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = s }
}

// NewClient creates a sync client for the given backend.
func NewClient(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("backend base URL is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	c := &Client{
		baseURL:    base,
		httpClient: &http.Client{},
		maxRetries: maxRetries,
		degraded:   hostListed(base, cfg.DegradedHosts),
		logger:     logger,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	c.prober = &dialProber{addr: dialAddr(base), timeout: 2 * time.Second}
	c.jitter = c.randomJitter
	c.sleep = sleepCtx
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// syncRequest is the persist wire shape.
type syncRequest struct {
	Doors    []door.Record `json:"doors"`
	Metadata syncMetadata  `json:"metadata"`
}

type syncMetadata struct {
	Timestamp  string `json:"timestamp"`
	Attempt    int    `json:"attempt"`
	DoorsCount int    `json:"doorsCount"`
}

// syncResponse is the backend reply. A 2xx body counts as success unless
// it explicitly signals otherwise.
type syncResponse struct {
	Success *bool         `json:"success,omitempty"`
	Doors   []door.Record `json:"doors,omitempty"`
	Error   *apiError     `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// attemptError is the classified failure of one try.
type attemptError struct {
	Class  Class
	Status int
	Err    error
}

// Persist pushes the canonical list for one estimate to the backend.
//
// Records are normalized before any network traffic, then the request is
// retried per the schedule in schedule.go. On success the result carries
// the attempt count and the list the caller should hold going forward; on
// failure the returned *SyncError is classified and local state is left
// for the caller to retry manually. Retries reuse this one logical call:
// no duplicate concurrent requests are issued.
func (c *Client) Persist(ctx context.Context, estimateID string, doors []door.Record) (*Result, error) {
	normalized := door.Normalize(doors)
	endpoint := c.baseURL.JoinPath("api", "v1", "estimates", estimateID, "doors", "sync").String()
	profile := Profile{Degraded: c.degraded}

	totalTries := c.maxRetries + 1
	var last *attemptError

	for attempt := 0; attempt < totalTries; attempt++ {
		if attempt > 0 {
			profile.Offline = !c.prober.Online(ctx)
			delay := Backoff(attempt-1, profile, c.jitter)
			c.logger.Info("retrying sync",
				zap.String("estimate_id", estimateID),
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", delay),
				zap.Bool("offline", profile.Offline),
				zap.String("last_class", string(last.Class)),
			)
			if err := c.sleep(ctx, delay); err != nil {
				c.metrics.observeOutcome("canceled")
				return nil, &SyncError{Class: last.Class, Attempts: attempt, StatusCode: last.Status, Err: err}
			}
		}

		body, err := json.Marshal(syncRequest{
			Doors: normalized,
			Metadata: syncMetadata{
				Timestamp:  time.Now().UTC().Format(time.RFC3339),
				Attempt:    attempt + 1,
				DoorsCount: len(normalized),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("marshal sync request: %w", err)
		}

		timeout := AttemptTimeout(attempt, len(body), profile)
		start := time.Now()
		serverDoors, aerr := c.doAttempt(ctx, endpoint, body, timeout)
		elapsed := time.Since(start)

		if aerr == nil {
			c.metrics.observeAttempt("ok", elapsed)
			c.metrics.observeOutcome("success")
			result := &Result{Doors: normalized, Attempts: attempt + 1}
			if len(serverDoors) > 0 && !door.Equal(normalized, serverDoors) {
				result.Doors = serverDoors
				result.Updated = true
			}
			c.logger.Info("sync complete",
				zap.String("estimate_id", estimateID),
				zap.Int("attempts", result.Attempts),
				zap.Int("doors", len(result.Doors)),
				zap.Bool("updated", result.Updated),
			)
			return result, nil
		}

		c.metrics.observeAttempt(string(aerr.Class), elapsed)
		c.logger.Warn("sync attempt failed",
			zap.String("estimate_id", estimateID),
			zap.Int("attempt", attempt+1),
			zap.String("class", string(aerr.Class)),
			zap.Int("status", aerr.Status),
			zap.Duration("timeout", timeout),
			zap.Error(aerr.Err),
		)
		last = aerr

		if !retryable(aerr.Class, aerr.Status) {
			c.metrics.observeOutcome(string(aerr.Class))
			return nil, &SyncError{Class: aerr.Class, Attempts: attempt + 1, StatusCode: aerr.Status, Err: aerr.Err}
		}
	}

	c.metrics.observeOutcome(string(ClassExhausted))
	return nil, &SyncError{Class: ClassExhausted, Attempts: totalTries, StatusCode: last.Status, Err: last.Err}
}

// doAttempt performs one HTTP try under its own deadline.
func (c *Client) doAttempt(ctx context.Context, endpoint string, body []byte, timeout time.Duration) ([]door.Record, *attemptError) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &attemptError{Class: ClassClient, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &attemptError{Class: classifyTransport(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &attemptError{Class: ClassNetwork, Status: resp.StatusCode, Err: err}
	}

	var sr syncResponse
	decoded := json.Unmarshal(data, &sr) == nil

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if decoded && sr.Success != nil && !*sr.Success {
			return nil, &attemptError{
				Class:  bodyClass(ClassServer, sr.Error),
				Status: resp.StatusCode,
				Err:    fmt.Errorf("backend rejected sync: %s", apiErrorMessage(sr.Error)),
			}
		}
		return sr.Doors, nil
	}

	class := classifyStatus(resp.StatusCode)
	if decoded {
		class = bodyClass(class, sr.Error)
	}
	return nil, &attemptError{
		Class:  class,
		Status: resp.StatusCode,
		Err:    fmt.Errorf("backend error (%d): %s", resp.StatusCode, apiErrorMessage(sr.Error)),
	}
}

// bodyClass upgrades a classification when the response body names the
// gateway's origin rejection.
func bodyClass(fallback Class, e *apiError) Class {
	if e == nil {
		return fallback
	}
	if e.Code == originRejectedCode || isCrossOriginMessage(e.Message) {
		return ClassCrossOrigin
	}
	return fallback
}

func apiErrorMessage(e *apiError) string {
	if e == nil {
		return "no error detail"
	}
	if e.Message != "" {
		return e.Message
	}
	return e.Code
}

func (c *Client) randomJitter(max time.Duration) time.Duration {
	c.jitterMu.Lock()
	defer c.jitterMu.Unlock()
	return time.Duration(c.rng.Int63n(int64(max)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func hostListed(base *url.URL, hosts []string) bool {
	for _, h := range hosts {
		if h != "" && base.Hostname() == h {
			return true
		}
	}
	return false
}

func dialAddr(base *url.URL) string {
	host := base.Hostname()
	port := base.Port()
	if port == "" {
		if base.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return net.JoinHostPort(host, port)
}

// dialProber checks reachability with a short TCP dial to the backend.
type dialProber struct {
	addr    string
	timeout time.Duration
}

func (p *dialProber) Online(ctx context.Context) bool {
	d := net.Dialer{Timeout: p.timeout}
	conn, err := d.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
