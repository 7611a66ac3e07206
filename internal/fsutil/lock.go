package fsutil

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrLockBusy is returned when another process holds the lock.
var ErrLockBusy = errors.New("lock busy")

// DefaultLockWait bounds how long WithLock keeps retrying a busy lock.
const DefaultLockWait = 10 * time.Second

// Lock is an exclusive advisory lock on <path>.lock.
type Lock struct {
	f *os.File
}

// TryLock attempts to take the lock for path without blocking.
func TryLock(path string) (*Lock, error) {
	lockPath := path + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", filepath.Dir(lockPath), err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock %s: %w", lockPath, err)
	}
	if err := flockExclusive(f); err != nil {
		f.Close()
		return nil, err
	}
	return &Lock{f: f}, nil
}

// Unlock releases the lock.
func (l *Lock) Unlock() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = flockUnlock(l.f)
	err := l.f.Close()
	l.f = nil
	return err
}

// AcquireLock takes the lock for path, retrying with exponential backoff
// until wait elapses or ctx is done.
func AcquireLock(ctx context.Context, path string, wait time.Duration) (*Lock, error) {
	if wait <= 0 {
		wait = DefaultLockWait
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 20 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond
	bo.MaxElapsedTime = wait

	var lock *Lock
	err := backoff.Retry(func() error {
		l, err := TryLock(path)
		if err != nil {
			if errors.Is(err, ErrLockBusy) {
				return err
			}
			return backoff.Permanent(err)
		}
		lock = l
		return nil
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		return nil, fmt.Errorf("acquire lock for %s: %w", filepath.Base(path), err)
	}
	return lock, nil
}

// WithLock runs fn while holding the advisory lock for path.
func WithLock(ctx context.Context, path string, fn func() error) error {
	lock, err := AcquireLock(ctx, path, DefaultLockWait)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	return fn()
}
