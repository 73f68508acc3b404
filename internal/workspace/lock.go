package workspace

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"syscall"
)

// ErrLocked is returned when another tako instance already holds the
// workspace lock.
var ErrLocked = errors.New("another tako instance is running in this workspace")

// Lock is an exclusive advisory lock on the workspace. The OS releases the
// flock on process death, so a crashed instance never wedges the workspace.
type Lock struct {
	path string
	file *os.File
}

// Acquire takes the exclusive lock, failing immediately (no blocking wait)
// if another process holds it. The holder's pid is written into the file
// for diagnostics only; the flock is the actual mutual exclusion.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) || errors.Is(err, syscall.EAGAIN) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("acquire workspace lock: %w", err)
	}

	_ = f.Truncate(0)
	_, _ = f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0)

	return &Lock{path: path, file: f}, nil
}

// Release drops the lock. Safe to call more than once.
func (l *Lock) Release() {
	if l == nil || l.file == nil {
		return
	}
	_ = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	_ = l.file.Close()
	l.file = nil
}

// Path returns the lock file location.
func (l *Lock) Path() string { return l.path }
