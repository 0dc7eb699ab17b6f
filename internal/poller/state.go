package poller

import (
	"time"

	"rehearse/internal/config"
	"rehearse/internal/services/practice"
)

// Status is the lifecycle state of a poll task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusReady     Status = "ready"
	StatusError     Status = "error"
	StatusExhausted Status = "exhausted"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further attempts follow.
func (s Status) Terminal() bool {
	return s != StatusPending && s != ""
}

// Config is the polling policy.
type Config struct {
	Interval    time.Duration
	MaxInterval time.Duration
	MaxAttempts int
	Backoff     bool
}

// ConfigFromConfig reads the polling policy from application config.
func ConfigFromConfig(cfg *config.Config) Config {
	return Config{
		Interval:    cfg.PollInterval(),
		MaxInterval: cfg.PollMaxInterval(),
		MaxAttempts: cfg.Poll.MaxAttempts,
		Backoff:     cfg.Poll.Backoff,
	}
}

// Delay returns the wait before the next attempt once attempts requests
// have completed. With backoff the interval doubles per attempt up to MaxInterval.
func (c Config) Delay(attempts int) time.Duration {
	if !c.Backoff || attempts <= 1 {
		return c.Interval
	}
	delay := c.Interval
	for i := 1; i < attempts; i++ {
		delay *= 2
		if c.MaxInterval > 0 && delay >= c.MaxInterval {
			return c.MaxInterval
		}
	}
	return delay
}

// Target identifies the item being polled.
type Target struct {
	SessionID string
	ItemID    string
}

// State is a poll task snapshot.
type State struct {
	Target  Target
	Status  Status
	Attempt int
	URL     string
	Err     error
}

// EventKind enumerates poll task inputs.
type EventKind int

const (
	EventStart EventKind = iota
	EventProcessing
	EventReady
	EventFailed
	EventCancel
)

// Event is an input to Transition.
type Event struct {
	Kind   EventKind
	Target Target
	URL    string
	Err    error
}

// ActionKind tells the driver what to do after a transition.
type ActionKind int

const (
	ActionNone ActionKind = iota
	// ActionRequest schedules the next request after Delay.
	ActionRequest
	// ActionStop ends the task.
	ActionStop
)

// Action is the driver instruction produced by Transition.
type Action struct {
	Kind  ActionKind
	Delay time.Duration
}

// Transition advances the poll state machine. It never performs I/O.
func Transition(cfg Config, s State, e Event) (State, Action) {
	if e.Kind == EventStart {
		return State{Target: e.Target, Status: StatusPending}, Action{Kind: ActionRequest}
	}
	if s.Status != StatusPending {
		return s, Action{Kind: ActionNone}
	}

	switch e.Kind {
	case EventProcessing:
		s.Attempt++
		if s.Attempt >= cfg.MaxAttempts {
			s.Status = StatusExhausted
			return s, Action{Kind: ActionStop}
		}
		return s, Action{Kind: ActionRequest, Delay: cfg.Delay(s.Attempt)}
	case EventReady:
		s.Attempt++
		s.Status = StatusReady
		s.URL = e.URL
		return s, Action{Kind: ActionStop}
	case EventFailed:
		s.Attempt++
		s.Status = StatusError
		s.Err = e.Err
		return s, Action{Kind: ActionStop}
	case EventCancel:
		s.Status = StatusCancelled
		return s, Action{Kind: ActionStop}
	}
	return s, Action{Kind: ActionNone}
}

// ShouldStart reports whether item needs polling: it is complete, and no
// derived URL is known locally or in the last server snapshot.
func ShouldStart(item practice.Item, localResultURL string, snapshot practice.Session) bool {
	if !item.IsCompleted || item.ResultURL != "" || localResultURL != "" {
		return false
	}
	if remote, ok := snapshot.FindItem(item.ID); ok && remote.ResultURL != "" {
		return false
	}
	return true
}
