package poller

import (
	"context"
	"sync"
	"time"

	"rehearse/internal/logging"
)

// Supervisor owns at most one active poll task.
type Supervisor struct {
	fetcher Fetcher
	opts    options

	mu     sync.Mutex
	cfg    Config
	active *Task
}

// NewSupervisor constructs a Supervisor with the given policy.
func NewSupervisor(fetcher Fetcher, cfg Config, opts ...Option) *Supervisor {
	o := options{logger: logging.NewNop(), after: time.After}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = logging.NewComponentLogger(o.logger, "poller")
	return &Supervisor{fetcher: fetcher, opts: o, cfg: cfg}
}

// Watch ensures a pending task polls target. A pending task for the same
// target and policy is kept; anything else is cancelled and replaced.
func (s *Supervisor) Watch(ctx context.Context, target Target) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.Target() == target && s.active.cfg == s.cfg && !s.active.State().Status.Terminal() {
		return s.active
	}
	if s.active != nil {
		s.active.Cancel()
	}
	s.active = startTask(ctx, s.fetcher, s.cfg, target, s.opts)
	return s.active
}

// SetConfig changes the polling policy. A pending task is restarted with a
// fresh attempt budget when the policy differs.
func (s *Supervisor) SetConfig(ctx context.Context, cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cfg == s.cfg {
		return
	}
	s.cfg = cfg
	if s.active == nil || s.active.State().Status.Terminal() {
		return
	}
	target := s.active.Target()
	s.active.Cancel()
	s.active = startTask(ctx, s.fetcher, s.cfg, target, s.opts)
}

// Active returns the current task, or nil.
func (s *Supervisor) Active() *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Cancel stops the active task without waiting.
func (s *Supervisor) Cancel() {
	s.mu.Lock()
	task := s.active
	s.active = nil
	s.mu.Unlock()
	if task != nil {
		task.Cancel()
	}
}

// Stop cancels the active task and waits for it to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	task := s.active
	s.active = nil
	s.mu.Unlock()
	if task != nil {
		task.Cancel()
		<-task.Done()
	}
}
