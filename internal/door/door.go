// Package door defines the door survey records captured for an estimate
// and the canonical per-estimate door list, including the merge algorithm
// that folds freshly extracted candidates into an existing list without
// number collisions.
package door

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Record is a single door in an estimate's survey.
type Record struct {
	// ID is the unique identifier for this door record.
	ID string `json:"id"`

	// DoorNumber is unique within an estimate and never reused once
	// assigned, even after the record is removed.
	DoorNumber int `json:"doorNumber"`

	// Description is the headline text for the door.
	Description string `json:"description"`

	// Details are free-text notes in spoken order.
	Details []string `json:"details,omitempty"`

	// RecordingID links back to the recording this door was extracted
	// from. Empty for manually entered doors.
	RecordingID string `json:"recordingId,omitempty"`
}

// Clone returns a deep copy so callers can mutate freely.
func (r Record) Clone() Record {
	out := r
	if r.Details != nil {
		out.Details = make([]string, len(r.Details))
		copy(out.Details, r.Details)
	}
	return out
}

// recordAlias avoids UnmarshalJSON recursion.
type recordAlias struct {
	ID          string          `json:"id"`
	DoorNumber  json.RawMessage `json:"doorNumber"`
	Description string          `json:"description"`
	Details     json.RawMessage `json:"details"`
	RecordingID string          `json:"recordingId"`
}

// UnmarshalJSON tolerates the loose shapes the extraction service emits:
// doorNumber as a number or a quoted string, details as an array or a
// single string. Anything unreadable is left zero for Normalize to fix.
func (r *Record) UnmarshalJSON(data []byte) error {
	var a recordAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	r.ID = a.ID
	r.Description = a.Description
	r.RecordingID = a.RecordingID
	r.DoorNumber = coerceInt(a.DoorNumber)
	r.Details = coerceStrings(a.Details)
	return nil
}

func coerceInt(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return n
		}
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	return 0
}

func coerceStrings(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return []string{s}
	}
	return nil
}

// Equal reports whether two lists are materially identical: same length,
// order, numbers, text, and detail lines. IDs and recording links count;
// a sync response that only echoes what was sent compares equal.
func Equal(a, b []Record) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID ||
			a[i].DoorNumber != b[i].DoorNumber ||
			a[i].Description != b[i].Description ||
			a[i].RecordingID != b[i].RecordingID {
			return false
		}
		if len(a[i].Details) != len(b[i].Details) {
			return false
		}
		for j := range a[i].Details {
			if a[i].Details[j] != b[i].Details[j] {
				return false
			}
		}
	}
	return true
}

const idSuffixAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// NewID generates a record identifier from the current timestamp plus a
// random suffix, matching what the backend produces for manual entries.
func NewID() string {
	suffix := make([]byte, 6)
	for i := range suffix {
		suffix[i] = idSuffixAlphabet[rand.Intn(len(idSuffixAlphabet))]
	}
	return fmt.Sprintf("door_%d_%s", time.Now().UnixMilli(), suffix)
}
