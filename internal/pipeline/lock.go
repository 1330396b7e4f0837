package pipeline

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	stomaerr "github.com/pym-cms/stoma/internal/errors"
)

// RunLock is the cross-process lock for one pipeline run. It keeps two
// concurrent `stoma index` invocations on the same host from interleaving
// their walker baselines. Workers inside one run coordinate via row claims
// instead.
type RunLock struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewRunLock creates the lock at the given path.
func NewRunLock(path string) *RunLock {
	return &RunLock{path: path, flock: flock.New(path)}
}

// TryLock attempts to acquire the lock without blocking. Returns false when
// another run holds it.
func (l *RunLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, stomaerr.New(stomaerr.ErrCodeInternal,
			"cannot create lock directory", err)
	}
	acquired, err := l.flock.TryLock()
	if err != nil {
		return false, stomaerr.New(stomaerr.ErrCodeInternal,
			"cannot acquire run lock", err)
	}
	l.locked = acquired
	return acquired, nil
}

// Unlock releases the lock. Safe to call on an unlocked RunLock.
func (l *RunLock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return stomaerr.New(stomaerr.ErrCodeInternal,
			"cannot release run lock", err)
	}
	return nil
}

// Path returns the lock file location.
func (l *RunLock) Path() string {
	return l.path
}
