package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Session owns one recording lifecycle:
//
//	Idle → RequestingAccess → Recording → Stopping → Ready → Idle (reset)
//
// A platform without native capture skips straight from Idle to Ready via
// AttachFile. At most one take is active per session.
type Session struct {
	mu     sync.Mutex
	state  State
	rec    Recorder
	logger *zap.Logger

	stream   io.ReadCloser
	done     chan struct{}
	buffered []byte
	readErr  error

	artifact *Artifact
}

// NewSession builds a session around the given recorder. A nil recorder
// selects the manual-attachment strategy.
func NewSession(rec Recorder, logger *zap.Logger) *Session {
	if rec == nil {
		rec = manualRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{state: StateIdle, rec: rec, logger: logger}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Supported reports whether this session can record natively.
func (s *Session) Supported() bool { return s.rec.Supported() }

// Start requests the capture device and begins buffering. Valid only from
// Idle; starting while already recording is rejected without side
// effects. A denied device returns the session to Idle with
// ErrPermissionDenied.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
	case StateRecording:
		s.mu.Unlock()
		return ErrAlreadyRecording
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: state %s", ErrNotIdle, s.state)
	}
	if !s.rec.Supported() {
		s.mu.Unlock()
		return ErrUnsupportedPlatform
	}
	s.state = StateRequestingAccess
	s.mu.Unlock()

	stream, err := s.rec.Open(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.state = StateIdle
		s.logger.Warn("capture access denied", zap.Error(err))
		return err
	}

	s.state = StateRecording
	s.stream = stream
	s.done = make(chan struct{})
	s.buffered = nil
	s.readErr = nil

	go s.drain(stream, s.done)
	s.logger.Debug("recording started")
	return nil
}

// drain buffers the stream until it ends or is closed by Stop. Whatever
// was read before the error is kept for the artifact.
func (s *Session) drain(stream io.Reader, done chan struct{}) {
	data, err := io.ReadAll(stream)
	s.mu.Lock()
	s.buffered = data
	if err != nil && !isClosed(err) {
		s.readErr = err
	}
	s.mu.Unlock()
	close(done)
}

func isClosed(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

// Stop finalizes the take: buffered media is flushed into a single
// artifact and the session moves to Ready. Calling Stop in any state
// other than Recording is a no-op.
func (s *Session) Stop() (*Artifact, error) {
	s.mu.Lock()
	if s.state != StateRecording {
		s.mu.Unlock()
		return nil, nil
	}
	s.state = StateStopping
	stream, done := s.stream, s.done
	s.mu.Unlock()

	// Closing the stream unblocks the drain goroutine immediately; any
	// media buffered but not yet flushed is still included.
	_ = stream.Close()
	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		s.state = StateIdle
		s.stream, s.done = nil, nil
		return nil, fmt.Errorf("capture stream: %w", s.readErr)
	}
	s.artifact = &Artifact{
		Data:       s.buffered,
		MIME:       s.rec.MIME(),
		Filename:   artifactFilename(time.Now()),
		CapturedAt: time.Now(),
	}
	s.state = StateReady
	s.stream, s.done, s.buffered = nil, nil, nil
	s.logger.Debug("recording stopped", zap.Int("bytes", len(s.artifact.Data)))
	return s.artifact, nil
}

// AttachFile takes a manually selected audio file as the artifact,
// transitioning directly from Idle to Ready. This is the only capture
// path on platforms without a native recorder.
func (s *Session) AttachFile(filename, mime string, data []byte) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return nil, fmt.Errorf("%w: state %s", ErrNotIdle, s.state)
	}
	buf := bytes.Clone(data)
	s.artifact = &Artifact{
		Data:       buf,
		MIME:       mime,
		Filename:   filename,
		CapturedAt: time.Now(),
	}
	s.state = StateReady
	return s.artifact, nil
}

// Artifact returns the finished artifact, or nil before Ready.
func (s *Session) Artifact() *Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.artifact
}

// Reset discards the artifact and returns to Idle. Outside of Ready it is
// a no-op.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return
	}
	s.artifact = nil
	s.state = StateIdle
}

func artifactFilename(now time.Time) string {
	return "recording-" + now.UTC().Format("20060102-150405") + ".wav"
}
