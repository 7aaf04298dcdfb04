// Package pipeline coordinates the capture-to-backend flow for an
// estimate: uploaded artifact → extraction pass → merge into the
// canonical door list → sync. One pipeline may be in flight per estimate
// at a time; a busy flag guards re-entry rather than queueing work, and
// manual door edits take the same guard so the list is never mutated
// under an in-flight sync.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fieldsmith/doorvox/internal/capture"
	"github.com/fieldsmith/doorvox/internal/door"
	"github.com/fieldsmith/doorvox/internal/persist"
	"github.com/fieldsmith/doorvox/internal/upload"
)

// Service errors.
var (
	ErrEstimateBusy = errors.New("estimate already has a pipeline in flight")
)

// Uploader stores artifacts and yields recordings.
type Uploader interface {
	Upload(ctx context.Context, estimateID string, art *capture.Artifact) (*upload.Recording, error)
}

// Extractor runs the transcribe-then-extract pass for a recording.
type Extractor interface {
	Process(ctx context.Context, recordingID string) (string, []door.Record, error)
}

// Syncer persists a canonical door list to the backend.
type Syncer interface {
	Persist(ctx context.Context, estimateID string, doors []door.Record) (*persist.Result, error)
}

// Service runs the pipeline for all estimates in this session.
type Service struct {
	uploader   Uploader
	extractor  Extractor
	syncer     Syncer
	doors      *door.Store
	recordings *upload.RecordingStore
	logger     *zap.Logger

	mu   sync.Mutex
	busy map[string]bool
}

// NewService wires a pipeline service.
func NewService(uploader Uploader, extractor Extractor, syncer Syncer, doors *door.Store, logger *zap.Logger) (*Service, error) {
	if uploader == nil || extractor == nil || syncer == nil {
		return nil, errors.New("uploader, extractor, and syncer are all required")
	}
	if doors == nil {
		doors = door.NewStore()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		uploader:   uploader,
		extractor:  extractor,
		syncer:     syncer,
		doors:      doors,
		recordings: upload.NewRecordingStore(),
		logger:     logger,
		busy:       make(map[string]bool),
	}, nil
}

// acquire takes the per-estimate busy flag. No queue: a second trigger
// while one is in flight is rejected outright.
func (s *Service) acquire(estimateID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[estimateID] {
		return fmt.Errorf("%w: %s", ErrEstimateBusy, estimateID)
	}
	s.busy[estimateID] = true
	return nil
}

func (s *Service) release(estimateID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.busy, estimateID)
}

// SubmitArtifact uploads a finished capture artifact and registers the
// resulting recording.
func (s *Service) SubmitArtifact(ctx context.Context, estimateID string, art *capture.Artifact) (*upload.Recording, error) {
	rec, err := s.uploader.Upload(ctx, estimateID, art)
	if err != nil {
		return nil, fmt.Errorf("upload artifact: %w", err)
	}
	s.recordings.Put(rec)
	return rec, nil
}

// Recording returns a previously submitted recording.
func (s *Service) Recording(id string) (*upload.Recording, error) {
	return s.recordings.Get(id)
}

// ProcessRecording runs one extraction pass for a recording and merges
// the candidates into the estimate's canonical list. Returns how many
// doors the pass added.
func (s *Service) ProcessRecording(ctx context.Context, estimateID, recordingID string) (int, error) {
	if err := s.acquire(estimateID); err != nil {
		return 0, err
	}
	defer s.release(estimateID)

	if _, err := s.recordings.Get(recordingID); err != nil {
		return 0, err
	}

	transcript, candidates, err := s.extractor.Process(ctx, recordingID)
	if transcript != "" {
		// Keep the transcript even when the extract stage failed, so
		// a later retry does not need to transcribe again.
		if attachErr := s.recordings.AttachTranscript(recordingID, transcript); attachErr != nil {
			s.logger.Warn("transcript attach failed", zap.Error(attachErr))
		}
	}
	if err != nil {
		return 0, err
	}

	for i := range candidates {
		candidates[i].RecordingID = recordingID
	}

	canonical := s.doors.List(estimateID)
	merged := door.Merge(canonical, candidates)
	s.doors.Replace(estimateID, merged)

	s.logger.Info("extraction pass merged",
		zap.String("estimate_id", estimateID),
		zap.String("recording_id", recordingID),
		zap.Int("added", len(candidates)),
		zap.Int("total", len(merged)),
	)
	return len(candidates), nil
}

// Sync persists the estimate's canonical list. The local list is only
// rewritten when the backend's echo materially differs from what was
// sent; on classified failure it is left untouched so the user can retry
// without losing anything.
func (s *Service) Sync(ctx context.Context, estimateID string) (*persist.Result, error) {
	if err := s.acquire(estimateID); err != nil {
		return nil, err
	}
	defer s.release(estimateID)

	res, err := s.syncer.Persist(ctx, estimateID, s.doors.List(estimateID))
	if err != nil {
		return nil, err
	}
	if res.Updated {
		s.doors.Replace(estimateID, res.Doors)
	}
	return res, nil
}

// Doors returns the estimate's canonical list.
func (s *Service) Doors(estimateID string) []door.Record {
	return s.doors.List(estimateID)
}

// UpdateDoor applies a user edit to one door.
func (s *Service) UpdateDoor(estimateID string, rec door.Record) error {
	if err := s.acquire(estimateID); err != nil {
		return err
	}
	defer s.release(estimateID)
	return s.doors.Update(estimateID, rec)
}

// RemoveDoor removes one door; its number is never reused.
func (s *Service) RemoveDoor(estimateID, doorID string) error {
	if err := s.acquire(estimateID); err != nil {
		return err
	}
	defer s.release(estimateID)
	return s.doors.Remove(estimateID, doorID)
}
