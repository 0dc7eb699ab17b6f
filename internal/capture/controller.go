package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"rehearse/internal/config"
	"rehearse/internal/logging"
	"rehearse/internal/services"
)

// ErrTornDown is returned when the controller was torn down while an operation
// was in progress.
var ErrTornDown = errors.New("capture controller torn down")

// Ticker abstracts time.Ticker so tests can drive the elapsed counter.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

func newRealTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

// Option customises Controller construction.
type Option func(*Controller)

// WithPreview binds a preview sink that receives the stream once acquired.
func WithPreview(sink PreviewSink) Option {
	return func(c *Controller) { c.preview = sink }
}

// WithDeviceLock enforces exclusive device ownership across processes.
func WithDeviceLock(lock DeviceLock) Option {
	return func(c *Controller) { c.lock = lock }
}

// WithLogger overrides the controller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithConstraints overrides the acquisition constraints.
func WithConstraints(constraints Constraints) Option {
	return func(c *Controller) { c.constraints = constraints }
}

// WithEncodings overrides the ordered candidate encodings.
func WithEncodings(encodings []string) Option {
	return func(c *Controller) { c.encodings = append([]string(nil), encodings...) }
}

// WithTickerFactory replaces the one-second ticker source.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(c *Controller) { c.newTicker = factory }
}

// WithCompletion registers the callback invoked with every assembled artifact.
func WithCompletion(fn func(Artifact)) Option {
	return func(c *Controller) { c.onComplete = fn }
}

// WithStateListener registers a callback invoked after every state change.
// It runs outside the controller lock.
func WithStateListener(fn func(State)) Option {
	return func(c *Controller) { c.onState = fn }
}

// ConstraintsFromConfig maps capture configuration to acquisition constraints.
func ConstraintsFromConfig(cfg *config.Config) Constraints {
	if cfg == nil {
		return Constraints{}
	}
	return Constraints{
		Width:       cfg.Capture.Width,
		Height:      cfg.Capture.Height,
		FrameRate:   cfg.Capture.FrameRate,
		AudioDevice: cfg.Capture.AudioDevice,
	}
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State          State
	ElapsedSeconds int
	Cause          string
	Info           DeviceInfo
	MimeType       string
	ArtifactURL    string
}

// Controller owns the device stream and the recorder state machine.
type Controller struct {
	device      Device
	store       *ArtifactStore
	preview     PreviewSink
	lock        DeviceLock
	logger      *slog.Logger
	constraints Constraints
	encodings   []string
	newTicker   func(time.Duration) Ticker
	onComplete  func(Artifact)
	onState     func(State)

	// initMu serialises device acquisition and teardown without holding mu
	// across blocking device calls.
	initMu sync.Mutex

	mu         sync.Mutex
	state      State
	elapsed    int
	stream     Stream
	info       DeviceInfo
	recorder   Recorder
	mimeType   string
	chunks     [][]byte
	artifact   *Artifact
	cause      string
	err        error
	ticker     Ticker
	tickDone   chan struct{}
	generation uint64
}

// NewController builds a controller for device that writes artifacts to store.
func NewController(device Device, store *ArtifactStore, opts ...Option) *Controller {
	c := &Controller{
		device:    device,
		store:     store,
		state:     StateIdle,
		encodings: append([]string(nil), config.DefaultEncodings...),
		newTicker: newRealTicker,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.NewNop()
	}
	c.logger = logging.NewComponentLogger(c.logger, "capture")
	if c.newTicker == nil {
		c.newTicker = newRealTicker
	}
	return c
}

// InitializeDevice acquires the camera and microphone. Failures move the
// controller to the error state with a readable cause; the returned error is
// informational and may be ignored.
func (c *Controller) InitializeDevice(ctx context.Context) error {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.Lock()
	if c.stream != nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if c.lock != nil {
		if err := c.lock.Acquire(); err != nil {
			return c.failDevice(err)
		}
	}
	stream, err := c.device.Open(ctx, c.constraints)
	if err != nil {
		if c.lock != nil {
			_ = c.lock.Release()
		}
		return c.failDevice(err)
	}
	info := stream.Info()

	c.mu.Lock()
	c.stream = stream
	c.info = info
	changed := c.setStateLocked(StateIdle)
	c.cause = ""
	c.err = nil
	c.mu.Unlock()

	if c.preview != nil {
		c.preview.Attach(stream)
	}
	c.logger.Info("capture device ready",
		logging.String(logging.FieldEventType, "device_ready"),
		logging.String("device", info.Label),
		logging.Int("width", info.Width),
		logging.Int("height", info.Height),
		logging.Float64("frame_rate", info.FrameRate),
	)
	if changed {
		c.emit(StateIdle)
	}
	return nil
}

// StartRecording begins a new take. It is a no-op unless the controller is idle.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return nil
	}
	needsInit := c.stream == nil
	c.mu.Unlock()

	if needsInit {
		if err := c.InitializeDevice(ctx); err != nil {
			c.logger.Warn("recording not started; device unavailable",
				logging.Error(err),
				logging.String(logging.FieldEventType, "recording_aborted"),
			)
			return err
		}
	}

	c.mu.Lock()
	stream := c.stream
	if c.state != StateIdle || stream == nil {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	mimeType, ok := SelectEncoding(stream, c.encodings)
	if !ok {
		return c.fail(services.Wrap(services.ErrEncoding, "capture", "start recording", "probe encodings", ErrNoEncoding), 0, false)
	}
	recorder, err := stream.NewRecorder(mimeType)
	if err != nil {
		return c.fail(services.Wrap(services.ErrEncoding, "capture", "start recording", mimeType, err), 0, false)
	}

	c.mu.Lock()
	if c.state != StateIdle || c.stream != stream {
		c.mu.Unlock()
		return nil
	}
	c.generation++
	gen := c.generation
	c.chunks = nil
	c.elapsed = 0
	c.recorder = recorder
	c.mimeType = mimeType
	c.setStateLocked(StateRecording)
	c.mu.Unlock()
	c.emit(StateRecording)

	if err := recorder.Start(context.WithoutCancel(ctx), c.chunkSink(gen), c.errorSink(gen)); err != nil {
		return c.fail(services.Wrap(services.ErrEncoding, "capture", "start recording", mimeType, err), gen, true)
	}
	c.startTicker(gen)

	c.logger.Info("recording started",
		logging.String(logging.FieldEventType, "recording_started"),
		logging.String("mime_type", mimeType),
	)
	return nil
}

// StopRecording finalizes the take and assembles the artifact. It is a no-op
// unless the controller is recording. The completion callback receives the
// artifact once assembly finishes.
func (c *Controller) StopRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRecording {
		c.mu.Unlock()
		return nil
	}
	gen := c.generation
	c.stopTickerLocked()
	recorder := c.recorder
	mimeType := c.mimeType
	elapsed := time.Duration(c.elapsed) * time.Second
	c.setStateLocked(StateProcessing)
	c.mu.Unlock()
	c.emit(StateProcessing)

	if err := recorder.Stop(ctx); err != nil {
		return c.fail(services.Wrap(services.ErrEncoding, "capture", "stop recording", "finalize recorder", err), gen, true)
	}

	c.mu.Lock()
	if c.generation != gen || c.state != StateProcessing {
		c.mu.Unlock()
		return ErrTornDown
	}
	chunks := c.chunks
	c.chunks = nil
	c.recorder = nil
	c.mu.Unlock()

	artifact, err := c.store.Assemble(chunks, mimeType, elapsed)
	if err != nil {
		return c.fail(services.Wrap(services.ErrEncoding, "capture", "stop recording", "assemble artifact", err), gen, true)
	}

	c.mu.Lock()
	if c.generation != gen {
		c.mu.Unlock()
		_ = c.store.Revoke(artifact)
		return ErrTornDown
	}
	previous := c.artifact
	c.artifact = &artifact
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if previous != nil {
		c.revoke(*previous)
	}
	c.emit(StateIdle)
	c.logger.Info("recording assembled",
		logging.String(logging.FieldEventType, "recording_assembled"),
		logging.String("artifact", artifact.Path),
		logging.Int64("bytes", artifact.Size),
		logging.Duration("elapsed", elapsed),
	)
	if c.onComplete != nil {
		c.onComplete(artifact)
	}
	return nil
}

// Retake discards the current artifact and returns to idle without reopening
// the device.
func (c *Controller) Retake() {
	c.mu.Lock()
	c.generation++
	c.stopTickerLocked()
	recorder := c.recorder
	artifact := c.artifact
	c.recorder = nil
	c.artifact = nil
	c.chunks = nil
	c.elapsed = 0
	c.cause = ""
	c.err = nil
	changed := c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if recorder != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = recorder.Stop(stopCtx)
		cancel()
	}
	if artifact != nil {
		c.revoke(*artifact)
	}
	if changed {
		c.emit(StateIdle)
	}
}

// Teardown stops any active recorder, releases the stream and clears the
// preview. It is idempotent and safe from any state. The last artifact is left
// in place; use Retake to revoke it.
func (c *Controller) Teardown() {
	c.initMu.Lock()
	defer c.initMu.Unlock()

	c.mu.Lock()
	c.generation++
	c.stopTickerLocked()
	recorder := c.recorder
	stream := c.stream
	c.recorder = nil
	c.stream = nil
	c.chunks = nil
	c.info = DeviceInfo{}
	changed := c.setStateLocked(StateIdle)
	c.cause = ""
	c.err = nil
	c.mu.Unlock()

	if recorder != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = recorder.Stop(stopCtx)
		cancel()
	}
	c.release(stream)
	if changed {
		c.emit(StateIdle)
	}
}

// State reports the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Elapsed reports the whole seconds recorded in the current take.
func (c *Controller) Elapsed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsed
}

// Err returns the failure that moved the controller into the error state.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Artifact returns the most recent assembled artifact.
func (c *Controller) Artifact() (Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.artifact == nil {
		return Artifact{}, false
	}
	return *c.artifact, true
}

// FrameSource exposes the live stream read-only while the device is held.
func (c *Controller) FrameSource() (FrameSource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return nil, false
	}
	return c.stream, true
}

// Snapshot returns the controller status.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		State:          c.state,
		ElapsedSeconds: c.elapsed,
		Cause:          c.cause,
		Info:           c.info,
		MimeType:       c.mimeType,
	}
	if c.artifact != nil {
		snap.ArtifactURL = c.artifact.URL
	}
	return snap
}

// Describe converts a capture failure into an actionable message.
func Describe(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPermissionDenied):
		return "Camera or microphone access was denied. Allow access and try again."
	case errors.Is(err, ErrNoDevice):
		return "No camera or microphone was found. Connect one and try again."
	case errors.Is(err, ErrDeviceBusy):
		return "The camera is in use by another application. Close it and try again."
	case errors.Is(err, ErrNoEncoding):
		return "Recording is not supported on this device."
	case errors.Is(err, services.ErrEncoding):
		return "Recording failed. Try again."
	default:
		return "Could not start the camera. Try again."
	}
}

func (c *Controller) failDevice(err error) error {
	wrapped := services.Wrap(services.ErrDevice, "capture", "initialize device", "", err)
	c.mu.Lock()
	c.cause = Describe(err)
	c.err = wrapped
	changed := c.setStateLocked(StateError)
	c.mu.Unlock()

	logging.WarnWithContext(c.logger, "capture device unavailable", "device_unavailable",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "grant camera/microphone access or connect a device, then retry"),
		logging.String(logging.FieldImpact, "recording disabled until the device is acquired"),
	)
	if changed {
		c.emit(StateError)
	}
	return wrapped
}

// fail moves the controller to the error state and releases the device. When
// matchGen is set the failure only applies to the given take.
func (c *Controller) fail(err error, gen uint64, matchGen bool) error {
	c.mu.Lock()
	if matchGen && c.generation != gen {
		c.mu.Unlock()
		return err
	}
	c.generation++
	c.stopTickerLocked()
	stream := c.stream
	c.stream = nil
	c.recorder = nil
	c.chunks = nil
	c.cause = Describe(err)
	c.err = err
	changed := c.setStateLocked(StateError)
	c.mu.Unlock()

	logging.ErrorWithContext(c.logger, "recording failed", "recording_failed",
		logging.Error(err),
		logging.String(logging.FieldErrorHint, "retry once the device is available"),
		logging.String(logging.FieldImpact, "current take discarded"),
	)
	c.release(stream)
	if changed {
		c.emit(StateError)
	}
	return err
}

func (c *Controller) release(stream Stream) {
	if stream != nil {
		if err := stream.Close(); err != nil {
			c.logger.Debug("close capture stream", logging.Error(err))
		}
		if c.lock != nil {
			if err := c.lock.Release(); err != nil {
				c.logger.Debug("release device lock", logging.Error(err))
			}
		}
	}
	if c.preview != nil {
		c.preview.Detach()
	}
}

func (c *Controller) revoke(a Artifact) {
	if err := c.store.Revoke(a); err != nil {
		c.logger.Warn("artifact revoke failed",
			logging.Error(err),
			logging.String("artifact", a.Path),
		)
	}
}

func (c *Controller) chunkSink(gen uint64) func([]byte) {
	return func(chunk []byte) {
		if len(chunk) == 0 {
			return
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation != gen {
			return
		}
		if c.state == StateRecording || c.state == StateProcessing {
			c.chunks = append(c.chunks, chunk)
		}
	}
}

func (c *Controller) errorSink(gen uint64) func(error) {
	return func(err error) {
		_ = c.fail(services.Wrap(services.ErrEncoding, "capture", "record", "recorder failed mid-stream", err), gen, true)
	}
}

func (c *Controller) startTicker(gen uint64) {
	c.mu.Lock()
	if c.generation != gen || c.state != StateRecording {
		c.mu.Unlock()
		return
	}
	ticker := c.newTicker(time.Second)
	done := make(chan struct{})
	c.ticker = ticker
	c.tickDone = done
	c.mu.Unlock()

	go func() {
		for {
			select {
			case <-done:
				return
			case <-ticker.C():
				c.mu.Lock()
				if c.generation == gen && c.state == StateRecording {
					c.elapsed++
				}
				c.mu.Unlock()
			}
		}
	}()
}

func (c *Controller) stopTickerLocked() {
	if c.ticker == nil {
		return
	}
	c.ticker.Stop()
	close(c.tickDone)
	c.ticker = nil
	c.tickDone = nil
}

func (c *Controller) setStateLocked(next State) bool {
	if c.state == next {
		return false
	}
	c.state = next
	return true
}

func (c *Controller) emit(state State) {
	if c.onState != nil {
		c.onState(state)
	}
}
