// Package extraction turns an uploaded recording into transcript text
// and structured door candidates by driving the remote speech service:
// transcription first, then structured extraction. The two stages fail
// distinctly because they need different user guidance — a bad transcript
// means re-record, a bad extraction means try the pass again.
package extraction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fieldsmith/doorvox/internal/door"
)

// Default client tuning. The speech service allows 30 requests per minute
// per key.
const (
	defaultTimeout   = 60 * time.Second
	defaultRateLimit = 30.0 / 60.0
	defaultBurst     = 4
)

// Stage identifies which remote call failed.
type Stage string

const (
	// StageTranscribe is the speech-to-text call.
	StageTranscribe Stage = "transcribe"
	// StageExtract is the structured-record extraction call.
	StageExtract Stage = "extract"
)

// StageError reports a failure with the stage it happened in.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Config configures the extraction client.
type Config struct {
	// BaseURL is the speech service endpoint.
	BaseURL string
	// APIKey authenticates against the speech service.
	APIKey string
	// Timeout bounds each remote call (default 60s).
	Timeout time.Duration
}

// Client calls the remote transcription and extraction service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient creates an extraction client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("extraction base URL is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
		logger:  logger,
	}, nil
}

// transcribeResponse is the reply from the transcription call.
type transcribeResponse struct {
	Transcript string `json:"transcript"`
}

// extractResponse is the reply from the structured extraction call.
type extractResponse struct {
	Doors []door.Record `json:"doors"`
}

// serviceError is the speech service's error envelope.
type serviceError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Transcribe converts the recording's audio to text.
func (c *Client) Transcribe(ctx context.Context, recordingID string) (string, error) {
	var out transcribeResponse
	if err := c.post(ctx, recordingID, "transcribe", &out); err != nil {
		return "", &StageError{Stage: StageTranscribe, Err: err}
	}
	if out.Transcript == "" {
		return "", &StageError{Stage: StageTranscribe, Err: errors.New("empty transcript")}
	}
	return out.Transcript, nil
}

// Extract pulls structured door candidates out of a transcribed
// recording. Candidates come back locally numbered 1..n for the pass.
func (c *Client) Extract(ctx context.Context, recordingID string) ([]door.Record, error) {
	var out extractResponse
	if err := c.post(ctx, recordingID, "extract", &out); err != nil {
		return nil, &StageError{Stage: StageExtract, Err: err}
	}
	return out.Doors, nil
}

// Process runs both stages sequentially and returns the transcript along
// with the extracted candidates. The returned error carries the failed
// stage.
func (c *Client) Process(ctx context.Context, recordingID string) (string, []door.Record, error) {
	transcript, err := c.Transcribe(ctx, recordingID)
	if err != nil {
		return "", nil, err
	}
	c.logger.Debug("transcription complete",
		zap.String("recording_id", recordingID),
		zap.Int("transcript_chars", len(transcript)),
	)

	doors, err := c.Extract(ctx, recordingID)
	if err != nil {
		return transcript, nil, err
	}
	c.logger.Info("extraction complete",
		zap.String("recording_id", recordingID),
		zap.Int("candidates", len(doors)),
	)
	return transcript, doors, nil
}

func (c *Client) post(ctx context.Context, recordingID, op string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/recordings/%s/%s", c.baseURL, recordingID, op)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var se serviceError
		if json.Unmarshal(body, &se) == nil && se.Error.Message != "" {
			return fmt.Errorf("service error (%d): %s", resp.StatusCode, se.Error.Message)
		}
		return fmt.Errorf("service error (%d)", resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	return nil
}
