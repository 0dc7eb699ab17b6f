package capture

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// FileLock is an advisory lock file shared by every rehearse process that
// opens the same capture device.
type FileLock struct {
	lock *flock.Flock
}

// NewFileLock builds a lock at path.
func NewFileLock(path string) *FileLock {
	return &FileLock{lock: flock.New(path)}
}

// Acquire takes the lock without blocking.
func (l *FileLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.lock.Path()), 0o755); err != nil {
		return fmt.Errorf("ensure lock directory: %w", err)
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire device lock: %w", err)
	}
	if !ok {
		return ErrDeviceBusy
	}
	return nil
}

// Release drops the lock. Releasing an unheld lock is a no-op.
func (l *FileLock) Release() error {
	if !l.lock.Locked() {
		return nil
	}
	return l.lock.Unlock()
}
