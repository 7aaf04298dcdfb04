package persist

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldsmith/doorvox/internal/door"
)

type onlineProber struct{ online bool }

func (p onlineProber) Online(context.Context) bool { return p.online }

// newTestClient wires a client that never sleeps, jitters, or dials out.
func newTestClient(t *testing.T, baseURL string, maxRetries int) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: baseURL, MaxRetries: maxRetries}, nil,
		WithProber(onlineProber{online: true}),
		WithJitter(func(time.Duration) time.Duration { return 0 }),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestPersist_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5)
	res, err := c.Persist(context.Background(), "est-1", []door.Record{
		{ID: "a", DoorNumber: 1, Description: "Front"},
	})

	require.NoError(t, err)
	assert.Equal(t, 4, res.Attempts) // 3 scripted failures + 1 success
	assert.False(t, res.Updated)
	assert.Equal(t, int32(4), calls.Load())
}

func TestPersist_CrossOriginFailsWithZeroRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusForbidden, map[string]any{
			"success": false,
			"error":   map[string]string{"code": "origin_rejected", "message": "origin not allowed"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5)
	_, err := c.Persist(context.Background(), "est-1", nil)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, ClassCrossOrigin, syncErr.Class)
	assert.Equal(t, 1, syncErr.Attempts)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPersist_NonRetryableClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"success": false,
			"error":   map[string]string{"code": "bad_payload", "message": "doors rejected"},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5)
	_, err := c.Persist(context.Background(), "est-1", nil)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, ClassClient, syncErr.Class)
	assert.Equal(t, 422, syncErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPersist_RateLimitedIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5)
	res, err := c.Persist(context.Background(), "est-1", nil)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestPersist_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	_, err := c.Persist(context.Background(), "est-1", nil)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, ClassExhausted, syncErr.Class)
	assert.Equal(t, 3, syncErr.Attempts)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPersist_ConnectionRefusedIsNetworkClass(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	c := newTestClient(t, srv.URL, 1)
	_, err := c.Persist(context.Background(), "est-1", nil)

	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.Equal(t, ClassExhausted, syncErr.Class)
	assert.Equal(t, 2, syncErr.Attempts)
}

func TestPersist_BodySignaledFailureIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// 200 whose body still reports failure.
			writeJSON(w, http.StatusOK, map[string]any{
				"success": false,
				"error":   map[string]string{"code": "storage_unavailable"},
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5)
	res, err := c.Persist(context.Background(), "est-1", nil)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestPersist_NormalizesBeforeSending(t *testing.T) {
	var got syncRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 0)
	_, err := c.Persist(context.Background(), "est-1", []door.Record{
		{Description: "   ", Details: []string{" note ", ""}},
	})
	require.NoError(t, err)

	require.Len(t, got.Doors, 1)
	assert.NotEmpty(t, got.Doors[0].ID)
	assert.Equal(t, 1, got.Doors[0].DoorNumber)
	assert.Equal(t, "Door #1", got.Doors[0].Description)
	assert.Equal(t, []string{"note"}, got.Doors[0].Details)
	assert.Equal(t, 1, got.Metadata.DoorsCount)
	assert.Equal(t, 1, got.Metadata.Attempt)
}

func TestPersist_MetadataCountsAttempts(t *testing.T) {
	var attempts []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req syncRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		attempts = append(attempts, req.Metadata.Attempt)
		if len(attempts) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, 5)
	_, err := c.Persist(context.Background(), "est-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestPersist_ServerEchoOnlyReplacesWhenDifferent(t *testing.T) {
	sent := []door.Record{{ID: "a", DoorNumber: 1, Description: "Front"}}

	t.Run("identical echo", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req syncRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "doors": req.Doors})
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, 0)
		res, err := c.Persist(context.Background(), "est-1", sent)
		require.NoError(t, err)
		assert.False(t, res.Updated)
	})

	t.Run("materially different echo", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "doors": []door.Record{
				{ID: "a", DoorNumber: 1, Description: "Front (server revised)"},
			}})
		}))
		defer srv.Close()

		c := newTestClient(t, srv.URL, 0)
		res, err := c.Persist(context.Background(), "est-1", sent)
		require.NoError(t, err)
		assert.True(t, res.Updated)
		assert.Equal(t, "Front (server revised)", res.Doors[0].Description)
	})
}

func TestPersist_CanceledDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c, err := NewClient(Config{BaseURL: srv.URL, MaxRetries: 5}, nil,
		WithProber(onlineProber{online: true}),
		WithJitter(func(time.Duration) time.Duration { return 0 }),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		}),
	)
	require.NoError(t, err)

	_, err = c.Persist(ctx, "est-1", nil)
	var syncErr *SyncError
	require.ErrorAs(t, err, &syncErr)
	assert.ErrorIs(t, syncErr, context.Canceled)
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(Config{}, nil)
	require.Error(t, err)

	c, err := NewClient(Config{BaseURL: "https://api.example.com", DegradedHosts: []string{"api.example.com"}}, nil)
	require.NoError(t, err)
	assert.True(t, c.degraded)
	assert.Equal(t, DefaultMaxRetries, c.maxRetries)
}
