// Package upload sends captured audio artifacts to the storage gateway
// and tracks the recordings it hands back. The gateway is an external
// collaborator: one call, no retry of its own — a failed upload means the
// field worker re-records or re-attaches.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fieldsmith/doorvox/internal/capture"
)

// Recording is a stored audio artifact. Immutable after creation except
// for transcript attachment.
type Recording struct {
	ID         string    `json:"id"`
	EstimateID string    `json:"estimateId"`
	StorageRef string    `json:"storageRef"`
	Transcript string    `json:"transcript,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Client uploads artifacts to the storage gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates an upload client.
func NewClient(baseURL string, logger *zap.Logger) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("upload base URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger,
	}, nil
}

// uploadResponse is the gateway's reply.
type uploadResponse struct {
	RecordingID string `json:"recordingId"`
	StorageRef  string `json:"storageRef"`
}

// Upload stores one artifact and returns the created recording.
func (c *Client) Upload(ctx context.Context, estimateID string, art *capture.Artifact) (*Recording, error) {
	if art == nil || len(art.Data) == 0 {
		return nil, errors.New("artifact is empty")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("estimateId", estimateID); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	part, err := mw.CreateFormFile("audio", art.Filename)
	if err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if _, err := part.Write(art.Data); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("build form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/recordings", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("gateway error (%d): %s", resp.StatusCode, string(body))
	}

	var ur uploadResponse
	if err := json.Unmarshal(body, &ur); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if ur.RecordingID == "" {
		// Older gateways return only a storage ref.
		ur.RecordingID = uuid.NewString()
	}

	rec := &Recording{
		ID:         ur.RecordingID,
		EstimateID: estimateID,
		StorageRef: ur.StorageRef,
		CreatedAt:  time.Now().UTC(),
	}
	c.logger.Info("artifact uploaded",
		zap.String("estimate_id", estimateID),
		zap.String("recording_id", rec.ID),
		zap.Int("bytes", len(art.Data)),
	)
	return rec, nil
}

// RecordingStore keeps the recordings created during this run.
type RecordingStore struct {
	mu         sync.RWMutex
	recordings map[string]*Recording
}

// Store errors.
var ErrRecordingNotFound = errors.New("recording not found")

// NewRecordingStore creates an empty store.
func NewRecordingStore() *RecordingStore {
	return &RecordingStore{recordings: make(map[string]*Recording)}
}

// Put saves a recording.
func (s *RecordingStore) Put(rec *Recording) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings[rec.ID] = rec
}

// Get returns a recording by ID.
func (s *RecordingStore) Get(id string) (*Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recordings[id]
	if !ok {
		return nil, ErrRecordingNotFound
	}
	return rec, nil
}

// AttachTranscript records the transcript for a recording. This is the
// only mutation a recording accepts after creation.
func (s *RecordingStore) AttachTranscript(id, transcript string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recordings[id]
	if !ok {
		return ErrRecordingNotFound
	}
	rec.Transcript = transcript
	return nil
}
