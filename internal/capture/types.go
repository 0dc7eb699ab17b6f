package capture

import (
	"context"
	"errors"
	"time"
)

// State is the recorder lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateError      State = "error"
)

var (
	// ErrPermissionDenied reports that the OS refused camera or microphone access.
	ErrPermissionDenied = errors.New("camera or microphone permission denied")
	// ErrNoDevice reports that no usable camera or microphone exists.
	ErrNoDevice = errors.New("no camera or microphone found")
	// ErrDeviceBusy reports that another process holds the device lock.
	ErrDeviceBusy = errors.New("capture device is in use by another process")
	// ErrNoEncoding reports that none of the candidate encodings is supported.
	ErrNoEncoding = errors.New("no supported recording encoding")
)

// Constraints are the preferred acquisition parameters.
type Constraints struct {
	Width       int
	Height      int
	FrameRate   float64
	AudioDevice string
}

// DeviceInfo describes the characteristics of an opened stream.
type DeviceInfo struct {
	Label     string
	Width     int
	Height    int
	FrameRate float64
}

// Frame is a single decoded video frame in packed RGB24.
type Frame struct {
	Seq    uint64
	Width  int
	Height int
	Pix    []byte
	At     time.Time
}

// FrameSource is the read-only view of a live stream handed to consumers other
// than the controller. Frames are delivered latest-wins: a slow consumer sees
// fewer frames, never a backlog.
type FrameSource interface {
	Info() DeviceInfo
	Frames() <-chan Frame
}

// Device acquires a combined camera and microphone stream.
type Device interface {
	Open(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is an exclusively owned device handle.
type Stream interface {
	FrameSource
	// Supports reports whether the stream can be recorded with the given mime type.
	Supports(mimeType string) bool
	NewRecorder(mimeType string) (Recorder, error)
	Close() error
}

// Recorder encodes the stream into chunks.
type Recorder interface {
	// Start begins encoding. onChunk receives encoded fragments in order;
	// onError is invoked at most once if encoding fails mid-stream.
	Start(ctx context.Context, onChunk func([]byte), onError func(error)) error
	// Stop finalizes the recorder. All chunks are delivered before Stop returns.
	Stop(ctx context.Context) error
}

// PreviewSink displays the live stream.
type PreviewSink interface {
	Attach(src FrameSource)
	Detach()
}

// DeviceLock guards exclusive device use across processes.
type DeviceLock interface {
	Acquire() error
	Release() error
}

// Artifact is a completed local recording.
type Artifact struct {
	ID        string
	Path      string
	URL       string
	MimeType  string
	Extension string
	Size      int64
	Elapsed   time.Duration
	CreatedAt time.Time
}
