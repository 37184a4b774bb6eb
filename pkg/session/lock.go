package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

// ErrLocked is returned when another process holds a session's lock past the timeout
var ErrLocked = errors.New("session is locked by another process")

const (
	lockRetry = 50 * time.Millisecond
	lockStale = 2 * time.Minute
)

// fileLock guards one session document against writers in other processes.
// The lock file is created exclusively and flocked while held.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(target string) *fileLock {
	return &fileLock{path: target + ".lock"}
}

// Lock retries until the lock is free, ctx is done or timeout passes
func (l *fileLock) Lock(ctx context.Context, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := l.tryLock()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrLocked) {
			return err
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrLocked, l.path)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(lockRetry):
		}
	}
}

func (l *fileLock) tryLock() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if errors.Is(err, os.ErrExist) {
		if l.stale() {
			os.Remove(l.path)
			f, err = os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		}
		if errors.Is(err, os.ErrExist) {
			return ErrLocked
		}
	}
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		os.Remove(l.path)
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return ErrLocked
		}
		return fmt.Errorf("failed to lock %s: %w", l.path, err)
	}

	fmt.Fprintf(f, "pid:%d\n", os.Getpid())
	l.file = f
	return nil
}

// stale reports whether the lock file was left behind by a process that is gone
func (l *fileLock) stale() bool {
	info, err := os.Stat(l.path)
	if err != nil {
		return errors.Is(err, os.ErrNotExist)
	}
	if time.Since(info.ModTime()) < lockStale {
		return false
	}

	data, err := os.ReadFile(l.path)
	if err != nil {
		return true
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "pid:%d", &pid); err != nil {
		return true
	}
	return !processAlive(pid)
}

// Unlock releases the lock and removes the lock file
func (l *fileLock) Unlock() error {
	if l.file == nil {
		return nil
	}
	var errs []error
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		errs = append(errs, err)
	}
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, err)
	}
	l.file = nil
	return errors.Join(errs...)
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
