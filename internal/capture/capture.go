// Package capture implements the recording lifecycle for one survey
// session: a small state machine around a platform recorder, producing a
// single audio artifact per take.
package capture

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"time"
)

// State identifies where a session is in its lifecycle.
type State string

const (
	// StateIdle means no capture is in progress and no artifact is held.
	StateIdle State = "idle"
	// StateRequestingAccess means the capture device is being acquired.
	StateRequestingAccess State = "requesting_access"
	// StateRecording means audio is being buffered.
	StateRecording State = "recording"
	// StateStopping means buffered media is being flushed.
	StateStopping State = "stopping"
	// StateReady means a finished artifact is available.
	StateReady State = "ready"
)

// Session errors.
var (
	ErrPermissionDenied    = errors.New("capture permission denied")
	ErrUnsupportedPlatform = errors.New("platform does not support native capture")
	ErrAlreadyRecording    = errors.New("session is already recording")
	ErrNotIdle             = errors.New("start is only valid from idle")
)

// Artifact is the finished audio blob produced by a session.
type Artifact struct {
	Data       []byte
	MIME       string
	Filename   string
	CapturedAt time.Time
}

// Recorder is the platform capture strategy, selected once when the
// session is constructed.
type Recorder interface {
	// Supported reports whether this platform can record natively. An
	// unsupported recorder leaves manual file attachment as the only
	// path to an artifact.
	Supported() bool

	// Open requests access to the capture device and returns a stream of
	// raw audio. Denied access is reported as ErrPermissionDenied.
	Open(ctx context.Context) (io.ReadCloser, error)

	// MIME is the content type of the produced stream.
	MIME() string
}

// streamRecorder captures from whatever stream the opener yields, such as
// an OS device node or a capture subprocess pipe.
type streamRecorder struct {
	open func(ctx context.Context) (io.ReadCloser, error)
	mime string
}

// NewStreamRecorder wraps an opener into a native Recorder. Permission
// errors from the opener are surfaced as ErrPermissionDenied.
func NewStreamRecorder(mime string, open func(ctx context.Context) (io.ReadCloser, error)) Recorder {
	return &streamRecorder{open: open, mime: mime}
}

func (r *streamRecorder) Supported() bool { return true }
func (r *streamRecorder) MIME() string    { return r.mime }

func (r *streamRecorder) Open(ctx context.Context) (io.ReadCloser, error) {
	stream, err := r.open(ctx)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, ErrPermissionDenied
		}
		return nil, err
	}
	return stream, nil
}

// manualRecorder is the fallback for platforms without a capture device:
// the session can only reach Ready through AttachFile.
type manualRecorder struct{}

func (manualRecorder) Supported() bool { return false }
func (manualRecorder) MIME() string    { return "" }
func (manualRecorder) Open(context.Context) (io.ReadCloser, error) {
	return nil, ErrUnsupportedPlatform
}

// Detect picks the capture strategy for this host: a stream recorder over
// the configured device node when one exists, otherwise manual selection.
func Detect(devicePath string) Recorder {
	if devicePath == "" {
		return manualRecorder{}
	}
	if _, err := os.Stat(devicePath); err != nil {
		return manualRecorder{}
	}
	return NewStreamRecorder("audio/wav", func(ctx context.Context) (io.ReadCloser, error) {
		return os.Open(devicePath)
	})
}
