package capture

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"rehearse/internal/services"
)

type fakeDevice struct {
	mu      sync.Mutex
	openErr error
	stream  *fakeStream
	opens   int
}

func (d *fakeDevice) Open(context.Context, Constraints) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opens++
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.stream.closed = false
	return d.stream, nil
}

type fakeStream struct {
	mu        sync.Mutex
	supported map[string]bool
	frames    chan Frame
	closed    bool
	recorders []*fakeRecorder
	flush     []byte
}

func newFakeStream(supported ...string) *fakeStream {
	s := &fakeStream{supported: map[string]bool{}, frames: make(chan Frame, 1)}
	for _, m := range supported {
		s.supported[m] = true
	}
	return s
}

func (s *fakeStream) Info() DeviceInfo {
	return DeviceInfo{Label: "fake", Width: 640, Height: 480, FrameRate: 30}
}
func (s *fakeStream) Frames() <-chan Frame      { return s.frames }
func (s *fakeStream) Supports(mime string) bool { return s.supported[mime] }

func (s *fakeStream) NewRecorder(mime string) (Recorder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &fakeRecorder{mime: mime, flush: s.flush}
	s.recorders = append(s.recorders, r)
	return r, nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeRecorder struct {
	mu      sync.Mutex
	mime    string
	flush   []byte
	onChunk func([]byte)
	onError func(error)
	stops   int
}

func (r *fakeRecorder) Start(_ context.Context, onChunk func([]byte), onError func(error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChunk = onChunk
	r.onError = onError
	return nil
}

func (r *fakeRecorder) Stop(context.Context) error {
	r.mu.Lock()
	r.stops++
	flush, onChunk := r.flush, r.onChunk
	r.mu.Unlock()
	if len(flush) > 0 && onChunk != nil {
		onChunk(flush)
	}
	return nil
}

func (r *fakeRecorder) emit(chunk []byte) { r.onChunk(chunk) }

type fakeTicker struct{ ch chan time.Time }

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

type fakePreview struct {
	mu       sync.Mutex
	attached FrameSource
	detaches int
}

func (p *fakePreview) Attach(src FrameSource) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = src
}

func (p *fakePreview) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attached = nil
	p.detaches++
}

type harness struct {
	ctrl     *Controller
	device   *fakeDevice
	stream   *fakeStream
	ticker   *fakeTicker
	preview  *fakePreview
	dir      string
	complete chan Artifact
}

func newHarness(t *testing.T, supported ...string) *harness {
	t.Helper()
	if len(supported) == 0 {
		supported = []string{"video/webm;codecs=vp9,opus"}
	}
	h := &harness{
		stream:   newFakeStream(supported...),
		ticker:   &fakeTicker{ch: make(chan time.Time)},
		preview:  &fakePreview{},
		dir:      t.TempDir(),
		complete: make(chan Artifact, 4),
	}
	h.device = &fakeDevice{stream: h.stream}
	h.ctrl = NewController(h.device, NewArtifactStore(h.dir),
		WithPreview(h.preview),
		WithTickerFactory(func(time.Duration) Ticker { return h.ticker }),
		WithCompletion(func(a Artifact) { h.complete <- a }),
	)
	t.Cleanup(h.ctrl.Teardown)
	return h
}

func (h *harness) recorder(t *testing.T) *fakeRecorder {
	t.Helper()
	h.stream.mu.Lock()
	defer h.stream.mu.Unlock()
	if len(h.stream.recorders) == 0 {
		t.Fatal("expected a recorder to be created")
	}
	return h.stream.recorders[len(h.stream.recorders)-1]
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestInitializeDeviceFailureSetsErrorState(t *testing.T) {
	cases := []struct {
		name    string
		openErr error
		cause   string
	}{
		{"permission denied", ErrPermissionDenied, "denied"},
		{"no device", ErrNoDevice, "No camera"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.device.openErr = tc.openErr

			err := h.ctrl.InitializeDevice(context.Background())
			if !errors.Is(err, services.ErrDevice) || !errors.Is(err, tc.openErr) {
				t.Fatalf("expected device error wrapping %v, got %v", tc.openErr, err)
			}
			snap := h.ctrl.Snapshot()
			if snap.State != StateError {
				t.Fatalf("expected error state, got %s", snap.State)
			}
			if !strings.Contains(snap.Cause, tc.cause) {
				t.Fatalf("expected cause to mention %q, got %q", tc.cause, snap.Cause)
			}
			if services.Classify(h.ctrl.Err()) != services.RecoveryUserAction {
				t.Fatalf("device failures must require user action")
			}
		})
	}
}

func TestInitializeDeviceAttachesPreview(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.InitializeDevice(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if h.preview.attached == nil {
		t.Fatal("expected preview to be attached")
	}
	if info := h.ctrl.Snapshot().Info; info.Width != 640 || info.FrameRate != 30 {
		t.Fatalf("unexpected device info: %+v", info)
	}
	if err := h.ctrl.InitializeDevice(context.Background()); err != nil {
		t.Fatalf("second initialize: %v", err)
	}
	if h.device.opens != 1 {
		t.Fatalf("expected single open, got %d", h.device.opens)
	}
}

func TestStartRecordingSelectsFirstSupportedEncoding(t *testing.T) {
	h := newHarness(t, "video/webm;codecs=vp8,opus", "video/mp4")
	if err := h.ctrl.StartRecording(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := h.ctrl.State(); got != StateRecording {
		t.Fatalf("expected recording, got %s", got)
	}
	if got := h.recorder(t).mime; got != "video/webm;codecs=vp8,opus" {
		t.Fatalf("unexpected encoding %q", got)
	}
}

func TestStartRecordingWhileRecordingIsNoop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.recorder(t).emit([]byte("first"))

	if err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if got := len(h.stream.recorders); got != 1 {
		t.Fatalf("expected one recorder, got %d", got)
	}
	h.ctrl.mu.Lock()
	chunks := len(h.ctrl.chunks)
	h.ctrl.mu.Unlock()
	if chunks != 1 {
		t.Fatalf("chunk buffer changed: %d chunks", chunks)
	}
	if got := h.ctrl.State(); got != StateRecording {
		t.Fatalf("expected recording, got %s", got)
	}
}

func TestElapsedAdvancesOncePerTick(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.StartRecording(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.ticker.ch <- time.Now()
	h.ticker.ch <- time.Now()
	waitFor(t, "elapsed=2", func() bool { return h.ctrl.Elapsed() == 2 })
}

func TestStopRecordingAssemblesArtifact(t *testing.T) {
	h := newHarness(t)
	h.stream.flush = []byte("-tail")
	ctx := context.Background()
	if err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec := h.recorder(t)
	rec.emit([]byte("head"))
	rec.emit([]byte("-body"))

	var states []State
	var mu sync.Mutex
	h.ctrl.onState = func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	}

	if err := h.ctrl.StopRecording(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	var artifact Artifact
	select {
	case artifact = <-h.complete:
	default:
		t.Fatal("expected completion callback")
	}
	if filepath.Ext(artifact.Path) != ".webm" || artifact.Extension != "webm" {
		t.Fatalf("unexpected artifact extension: %+v", artifact)
	}
	if !strings.HasPrefix(artifact.URL, "file://") {
		t.Fatalf("expected file URL, got %q", artifact.URL)
	}
	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if !bytes.Equal(data, []byte("head-body-tail")) {
		t.Fatalf("unexpected artifact contents %q", data)
	}
	if got := h.ctrl.State(); got != StateIdle {
		t.Fatalf("expected idle after assembly, got %s", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 || states[0] != StateProcessing || states[1] != StateIdle {
		t.Fatalf("unexpected transitions %v", states)
	}
}

func TestStopRecordingWhenIdleIsNoop(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.StopRecording(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(h.complete) != 0 {
		t.Fatal("unexpected completion")
	}
}

func TestRetakeRevokesArtifactWithoutReopening(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.ctrl.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.recorder(t).emit([]byte("take"))
	h.ticker.ch <- time.Now()
	waitFor(t, "elapsed=1", func() bool { return h.ctrl.Elapsed() == 1 })
	if err := h.ctrl.StopRecording(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	artifact := <-h.complete

	h.ctrl.Retake()

	if _, err := os.Stat(artifact.Path); !os.IsNotExist(err) {
		t.Fatalf("expected artifact to be revoked, stat err=%v", err)
	}
	if h.ctrl.Elapsed() != 0 || h.ctrl.State() != StateIdle {
		t.Fatalf("unexpected snapshot after retake: %+v", h.ctrl.Snapshot())
	}
	if _, ok := h.ctrl.Artifact(); ok {
		t.Fatal("expected artifact to be cleared")
	}
	if h.device.opens != 1 {
		t.Fatalf("retake must not reopen the device, opens=%d", h.device.opens)
	}
}

func TestRecorderFailureMidStreamTakesErrorPath(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.StartRecording(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec := h.recorder(t)
	rec.emit([]byte("partial"))
	rec.onError(errors.New("encoder crashed"))

	snap := h.ctrl.Snapshot()
	if snap.State != StateError {
		t.Fatalf("expected error state, got %s", snap.State)
	}
	if snap.Cause == "" {
		t.Fatal("expected a readable cause")
	}
	if !errors.Is(h.ctrl.Err(), services.ErrEncoding) {
		t.Fatalf("expected encoding marker, got %v", h.ctrl.Err())
	}
	if !h.stream.isClosed() {
		t.Fatal("expected stream to be released")
	}
}

func TestNoSupportedEncodingFails(t *testing.T) {
	h := newHarness(t, "video/x-unknown")
	err := h.ctrl.StartRecording(context.Background())
	if !errors.Is(err, ErrNoEncoding) {
		t.Fatalf("expected ErrNoEncoding, got %v", err)
	}
	if h.ctrl.State() != StateError {
		t.Fatalf("expected error state, got %s", h.ctrl.State())
	}
}

func TestTeardownIsIdempotent(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.StartRecording(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	h.ctrl.Teardown()
	h.ctrl.Teardown()

	if !h.stream.isClosed() {
		t.Fatal("expected stream to be closed")
	}
	if h.preview.attached != nil {
		t.Fatal("expected preview to be cleared")
	}
	if got := h.recorder(t).stops; got != 1 {
		t.Fatalf("expected recorder to be stopped once, got %d", got)
	}
	if _, ok := h.ctrl.FrameSource(); ok {
		t.Fatal("expected no frame source after teardown")
	}

	h.device.openErr = ErrNoDevice
	_ = h.ctrl.InitializeDevice(context.Background())
	h.ctrl.Teardown()
	if h.ctrl.State() != StateIdle {
		t.Fatalf("expected idle after teardown from error, got %s", h.ctrl.State())
	}
}

func TestFileLockExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev_video0.lock")
	first := NewFileLock(path)
	second := NewFileLock(path)

	if err := first.Acquire(); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := second.Acquire(); !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected ErrDeviceBusy, got %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := second.Acquire(); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = second.Release()
}

func TestControllerReportsBusyDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dev_video0.lock")
	holder := NewFileLock(path)
	if err := holder.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer holder.Release()

	stream := newFakeStream("video/webm")
	device := &fakeDevice{stream: stream}
	ctrl := NewController(device, NewArtifactStore(t.TempDir()), WithDeviceLock(NewFileLock(path)))
	err := ctrl.InitializeDevice(context.Background())
	if !errors.Is(err, ErrDeviceBusy) {
		t.Fatalf("expected busy device, got %v", err)
	}
	if device.opens != 0 {
		t.Fatal("device must not be opened without the lock")
	}
}
