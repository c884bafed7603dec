// Package lockfile provides a single advisory exclusive lock used to
// prevent two CuckooDB instances from opening the same database
// directory concurrently. Grounded on
// calvinalkan-agent-task/internal/fs/lock.go's flock(2)-based Locker,
// trimmed to the one case CuckooDB needs: a single non-blocking
// exclusive lock acquired at Open and released at Close.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// ErrLocked is returned by Acquire when another process already holds
// the lock.
var ErrLocked = errors.New("database is locked by another process")

// Lock represents a held advisory lock on a single file.
type Lock struct {
	file *os.File
}

// Acquire opens (creating if necessary) the lock file at path and
// takes a non-blocking exclusive flock on it. CuckooDB supports
// exactly one writer process per database directory; this is that
// process's claim.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("flock: %w", err)
	}

	return &Lock{file: f}, nil
}

// Release unlocks and closes the underlying file descriptor. Safe to
// call once; a second call returns nil without effect.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}

	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		return fmt.Errorf("unlocking: %w", unlockErr)
	}
	return closeErr
}
