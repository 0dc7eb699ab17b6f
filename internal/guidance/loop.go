package guidance

import (
	"context"
	"log/slog"
	"sync"

	"rehearse/internal/capture"
	"rehearse/internal/logging"
)

// Oracle detects faces in a frame.
type Oracle interface {
	Detect(ctx context.Context, frame capture.Frame) ([]Face, error)
}

// LoopOption customises a Loop.
type LoopOption func(*Loop)

// WithSampleListener receives every computed sample.
func WithSampleListener(fn func(Sample)) LoopOption {
	return func(l *Loop) { l.onSample = fn }
}

// WithLoopLogger overrides the loop logger.
func WithLoopLogger(logger *slog.Logger) LoopOption {
	return func(l *Loop) { l.logger = logger }
}

// Loop evaluates frames from an attached source. It satisfies
// capture.PreviewSink so the controller can attach it directly.
type Loop struct {
	policy   Policy
	oracle   Oracle
	logger   *slog.Logger
	onSample func(Sample)

	mu     sync.Mutex
	sample Sample
	token  uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLoop builds a detached loop.
func NewLoop(policy Policy, oracle Oracle, opts ...LoopOption) *Loop {
	l := &Loop{
		policy: policy,
		oracle: oracle,
		sample: Initial(false),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logging.NewNop()
	}
	l.logger = logging.NewComponentLogger(l.logger, "guidance")
	return l
}

// Attach starts evaluating frames from src, replacing any previous source.
func (l *Loop) Attach(src capture.FrameSource) {
	l.Detach()
	if src == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	l.mu.Lock()
	l.token++
	token := l.token
	l.cancel = cancel
	l.done = done
	l.sample = Initial(true)
	initial := l.sample
	l.mu.Unlock()

	l.publish(initial)
	go l.run(ctx, token, src, done)
}

// Detach stops evaluation and waits for the worker to exit. The indicator
// returns to idle.
func (l *Loop) Detach() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel, l.done = nil, nil
	l.token++
	l.sample = Initial(false)
	idle := l.sample
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.publish(idle)
}

// Sample returns the latest guidance sample.
func (l *Loop) Sample() Sample {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sample
}

// InRange is the binary indicator shown while recording.
func (l *Loop) InRange() bool {
	return l.Sample().InRange
}

func (l *Loop) run(ctx context.Context, token uint64, src capture.FrameSource, done chan struct{}) {
	defer close(done)
	frames := src.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				l.advance(token, Observation{DeviceReady: false})
				return
			}
			faces, err := l.oracle.Detect(ctx, frame)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				l.logger.Debug("face detection failed", logging.Error(err), logging.Int64("frame", int64(frame.Seq)))
			}
			l.advance(token, Observation{
				DeviceReady: true,
				FrameWidth:  frame.Width,
				FrameHeight: frame.Height,
				Faces:       faces,
				Err:         err,
			})
		}
	}
}

// advance applies one observation unless the token is stale.
func (l *Loop) advance(token uint64, obs Observation) {
	l.mu.Lock()
	if token != l.token {
		l.mu.Unlock()
		return
	}
	prev := l.sample.Level
	l.sample = Step(l.policy, l.sample, obs)
	next := l.sample
	l.mu.Unlock()

	if next.Level != prev {
		l.logger.Debug("guidance level changed",
			logging.String("level", string(next.Level)),
			logging.String("reason", string(next.Reason)),
		)
	}
	l.publish(next)
}

func (l *Loop) publish(s Sample) {
	if l.onSample != nil {
		l.onSample(s)
	}
}
