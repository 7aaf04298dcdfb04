package capture

import (
	"context"
	"io"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeRecorder feeds a session from an in-memory pipe.
type pipeRecorder struct {
	w *io.PipeWriter
	r *io.PipeReader
}

func newPipeRecorder() *pipeRecorder {
	r, w := io.Pipe()
	return &pipeRecorder{r: r, w: w}
}

func (p *pipeRecorder) Supported() bool { return true }
func (p *pipeRecorder) MIME() string    { return "audio/wav" }
func (p *pipeRecorder) Open(context.Context) (io.ReadCloser, error) {
	return p.r, nil
}

func TestSession_FullLifecycle(t *testing.T) {
	rec := newPipeRecorder()
	s := NewSession(rec, nil)
	assert.Equal(t, StateIdle, s.State())

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRecording, s.State())

	_, err := rec.w.Write([]byte("chunk-1"))
	require.NoError(t, err)
	_, err = rec.w.Write([]byte("chunk-2"))
	require.NoError(t, err)

	// Give the drain goroutine a moment to pull both chunks.
	time.Sleep(20 * time.Millisecond)

	art, err := s.Stop()
	require.NoError(t, err)
	require.NotNil(t, art)
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, []byte("chunk-1chunk-2"), art.Data)
	assert.Equal(t, "audio/wav", art.MIME)
	assert.Same(t, art, s.Artifact())

	s.Reset()
	assert.Equal(t, StateIdle, s.State())
	assert.Nil(t, s.Artifact())
}

func TestSession_StartWhileRecordingRejected(t *testing.T) {
	rec := newPipeRecorder()
	s := NewSession(rec, nil)
	require.NoError(t, s.Start(context.Background()))

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	assert.Equal(t, StateRecording, s.State())
	assert.Nil(t, s.Artifact())

	_, err = s.Stop()
	require.NoError(t, err)
}

func TestSession_PermissionDenied(t *testing.T) {
	rec := NewStreamRecorder("audio/wav", func(context.Context) (io.ReadCloser, error) {
		return nil, fs.ErrPermission
	})
	s := NewSession(rec, nil)

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_StopOutsideRecordingIsNoOp(t *testing.T) {
	s := NewSession(newPipeRecorder(), nil)

	art, err := s.Stop()
	assert.NoError(t, err)
	assert.Nil(t, art)
	assert.Equal(t, StateIdle, s.State())
}

func TestSession_ManualAttachment(t *testing.T) {
	s := NewSession(nil, nil)
	assert.False(t, s.Supported())

	err := s.Start(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	assert.Equal(t, StateIdle, s.State())

	art, err := s.AttachFile("walkthrough.m4a", "audio/mp4", []byte("file-bytes"))
	require.NoError(t, err)
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, []byte("file-bytes"), art.Data)
	assert.Equal(t, "walkthrough.m4a", art.Filename)

	// Only one artifact per take.
	_, err = s.AttachFile("second.m4a", "audio/mp4", nil)
	assert.ErrorIs(t, err, ErrNotIdle)
}

func TestSession_ResetOutsideReadyIsNoOp(t *testing.T) {
	rec := newPipeRecorder()
	s := NewSession(rec, nil)
	require.NoError(t, s.Start(context.Background()))

	s.Reset()
	assert.Equal(t, StateRecording, s.State())

	_, err := s.Stop()
	require.NoError(t, err)
}

func TestDetect_MissingDeviceFallsBackToManual(t *testing.T) {
	rec := Detect("/dev/does-not-exist-doorvox")
	assert.False(t, rec.Supported())

	rec = Detect("")
	assert.False(t, rec.Supported())
}
