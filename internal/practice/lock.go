package practice

import (
	"sync"
	"time"
)

// ReleaseCause reports what released a ProcessingLock.
type ReleaseCause string

const (
	ReleasedByTransition ReleaseCause = "transition"
	ReleasedByTimeout    ReleaseCause = "timeout"
)

// ProcessingLock blocks user input while an action settles. It is released by
// whichever comes first: the expected transition or the fallback timeout.
type ProcessingLock struct {
	timeout time.Duration
	after   func(time.Duration) <-chan time.Time

	mu     sync.Mutex
	locked bool
	token  uint64
}

// NewProcessingLock builds a lock with the given fallback timeout.
func NewProcessingLock(timeout time.Duration) *ProcessingLock {
	return &ProcessingLock{timeout: timeout, after: time.After}
}

// Acquire locks input until expected is closed or the timeout elapses. It
// returns false when the lock is already held. The returned channel receives
// the release cause exactly once.
func (l *ProcessingLock) Acquire(expected <-chan struct{}) (<-chan ReleaseCause, bool) {
	l.mu.Lock()
	if l.locked {
		l.mu.Unlock()
		return nil, false
	}
	l.locked = true
	l.token++
	token := l.token
	timer := l.after(l.timeout)
	l.mu.Unlock()

	released := make(chan ReleaseCause, 1)
	go func() {
		var cause ReleaseCause
		select {
		case <-expected:
			cause = ReleasedByTransition
		case <-timer:
			cause = ReleasedByTimeout
		}
		l.release(token)
		released <- cause
	}()
	return released, true
}

// Locked reports whether input is currently blocked.
func (l *ProcessingLock) Locked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}

// Reset releases the lock immediately. Pending races become no-ops.
func (l *ProcessingLock) Reset() {
	l.mu.Lock()
	l.token++
	l.locked = false
	l.mu.Unlock()
}

func (l *ProcessingLock) release(token uint64) {
	l.mu.Lock()
	if l.token == token {
		l.locked = false
	}
	l.mu.Unlock()
}
