package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"rehearse/internal/journal"
	"rehearse/internal/logging"
	"rehearse/internal/services"
	"rehearse/internal/services/practice"
)

// Fetcher reads the derived-artifact status.
type Fetcher interface {
	Result(ctx context.Context, sessionID, itemID string) (practice.Result, error)
}

// Journal records terminal poll outcomes.
type Journal interface {
	RecordPoll(ctx context.Context, rec journal.PollRecord) error
}

// Option configures tasks started by a Supervisor.
type Option func(*options)

type options struct {
	logger   *slog.Logger
	journal  Journal
	listener func(State)
	after    func(time.Duration) <-chan time.Time
}

// WithLogger sets the poller logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithJournal records every terminal outcome except cancellation.
func WithJournal(j Journal) Option {
	return func(o *options) { o.journal = j }
}

// WithListener receives every state change, including the terminal one.
func WithListener(fn func(State)) Option {
	return func(o *options) { o.listener = fn }
}

// WithAfter replaces time.After for scheduling attempts.
func WithAfter(fn func(time.Duration) <-chan time.Time) Option {
	return func(o *options) {
		if fn != nil {
			o.after = fn
		}
	}
}

// Task is one running poll.
type Task struct {
	cfg     Config
	fetcher Fetcher
	opts    options
	cancel  context.CancelFunc
	done    chan struct{}

	mu    sync.Mutex
	state State
}

func startTask(ctx context.Context, fetcher Fetcher, cfg Config, target Target, opts options) *Task {
	ctx, cancel := context.WithCancel(ctx)
	t := &Task{cfg: cfg, fetcher: fetcher, opts: opts, cancel: cancel, done: make(chan struct{})}
	state, action := Transition(cfg, State{}, Event{Kind: EventStart, Target: target})
	t.state = state
	go t.run(ctx, action)
	return t
}

// State returns the latest snapshot.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Target returns the polled item.
func (t *Task) Target() Target {
	return t.State().Target
}

// Done is closed when the task stops.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Cancel stops the task without waiting for it.
func (t *Task) Cancel() {
	t.cancel()
}

func (t *Task) run(ctx context.Context, action Action) {
	defer close(t.done)
	defer t.cancel()

	target := t.State().Target
	ctx = services.WithSessionID(ctx, target.SessionID)
	ctx = services.WithItemID(ctx, target.ItemID)
	logger := logging.WithContext(ctx, t.opts.logger)
	logger.Debug("result poll started",
		logging.Int("max_attempts", t.cfg.MaxAttempts),
		logging.Duration("interval", t.cfg.Interval),
		logging.Bool("backoff", t.cfg.Backoff),
	)

	for action.Kind == ActionRequest {
		if action.Delay > 0 {
			select {
			case <-ctx.Done():
				action = t.apply(Event{Kind: EventCancel})
				continue
			case <-t.opts.after(action.Delay):
			}
		}
		if ctx.Err() != nil {
			action = t.apply(Event{Kind: EventCancel})
			continue
		}

		res, err := t.fetcher.Result(ctx, target.SessionID, target.ItemID)
		switch {
		case ctx.Err() != nil:
			action = t.apply(Event{Kind: EventCancel})
		case err != nil:
			action = t.apply(Event{Kind: EventFailed, Err: err})
		case res.Status == practice.ResultReady:
			action = t.apply(Event{Kind: EventReady, URL: res.URL})
		default:
			action = t.apply(Event{Kind: EventProcessing})
		}
	}

	final := t.State()
	t.finish(ctx, logger, final)
}

func (t *Task) apply(e Event) Action {
	t.mu.Lock()
	prev := t.state
	next, action := Transition(t.cfg, prev, e)
	changed := next.Status != prev.Status || next.Attempt != prev.Attempt
	t.state = next
	t.mu.Unlock()

	if changed && t.opts.listener != nil && next.Status != StatusCancelled {
		t.opts.listener(next)
	}
	return action
}

func (t *Task) finish(ctx context.Context, logger *slog.Logger, final State) {
	attrs := []logging.Attr{
		logging.String("status", string(final.Status)),
		logging.Int("attempts", final.Attempt),
	}
	switch final.Status {
	case StatusReady:
		logger.Info("derived artifact ready", logging.Args(append(attrs, logging.String(logging.FieldEventType, "result_ready"))...)...)
	case StatusExhausted:
		logger.Info("derived artifact still processing; giving up", logging.Args(append(attrs, logging.String(logging.FieldEventType, "result_exhausted"))...)...)
	case StatusError:
		logging.WarnWithContext(logger, "result poll failed", "result_error",
			append(attrs,
				logging.String(logging.FieldErrorHint, "reload the session later to fetch the result"),
				logging.Error(final.Err),
			)...)
	case StatusCancelled:
		logger.Debug("result poll cancelled", logging.Args(attrs...)...)
		return
	}

	if t.opts.journal == nil {
		return
	}
	rec := journal.PollRecord{
		SessionID: final.Target.SessionID,
		ItemID:    final.Target.ItemID,
		Status:    string(final.Status),
		Attempts:  final.Attempt,
		ResultURL: final.URL,
	}
	if final.Err != nil {
		rec.Message = final.Err.Error()
	}
	if err := t.opts.journal.RecordPoll(context.WithoutCancel(ctx), rec); err != nil {
		logger.Warn("journal write failed", logging.Error(err))
	}
}
