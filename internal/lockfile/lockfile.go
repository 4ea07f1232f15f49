// Package lockfile keeps a second core from opening the same account
// database.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ErrLocked means a running process holds the lock.
var ErrLocked = errors.New("database is in use by another process")

// Lockfile is an exclusive lock file holding the owner's PID. A lock whose
// owner has exited is taken over.
type Lockfile struct {
	path   string
	file   *os.File
	locked bool
}

// New creates a lock at path. Nothing is touched until TryAcquire.
func New(path string) *Lockfile {
	return &Lockfile{path: path}
}

// ForDatabase returns the lock guarding the database at dbPath.
func ForDatabase(dbPath string) *Lockfile {
	return New(dbPath + ".lock")
}

// TryAcquire takes the lock or returns ErrLocked with the owner's PID.
func (l *Lockfile) TryAcquire() error {
	if l.locked {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o700); err != nil {
		return fmt.Errorf("failed to create lockfile directory: %w", err)
	}

	file, err := l.create()
	if errors.Is(err, os.ErrExist) {
		pid, running := l.owner()
		if running {
			return fmt.Errorf("%w (pid %d)", ErrLocked, pid)
		}
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove stale lockfile: %w", err)
		}
		file, err = l.create()
	}
	if err != nil {
		return fmt.Errorf("failed to create lockfile: %w", err)
	}

	content := fmt.Sprintf("%d\n%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if _, err := file.WriteString(content); err != nil {
		file.Close()
		os.Remove(l.path)
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(l.path)
		return fmt.Errorf("failed to sync lockfile: %w", err)
	}

	l.file = file
	l.locked = true
	return nil
}

func (l *Lockfile) create() (*os.File, error) {
	return os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o600)
}

// owner reads the PID in the lockfile and reports whether it is alive. An
// unreadable file counts as stale.
func (l *Lockfile) owner() (int, bool) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		return 0, false
	}
	first, _, _ := strings.Cut(strings.TrimSpace(string(data)), "\n")
	pid, err := strconv.Atoi(strings.TrimSpace(first))
	if err != nil || pid <= 0 {
		return 0, false
	}
	if pid == os.Getpid() {
		return pid, true
	}
	return pid, isProcessRunning(pid)
}

// Release removes the lock. Releasing an unheld lock is a no-op.
func (l *Lockfile) Release() error {
	if !l.locked {
		return nil
	}
	l.locked = false

	var errs []error
	if err := l.file.Close(); err != nil {
		errs = append(errs, err)
	}
	l.file = nil
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to remove lockfile: %w", err))
	}
	return errors.Join(errs...)
}

// Locked reports whether this process holds the lock.
func (l *Lockfile) Locked() bool {
	return l.locked
}

// Path returns the lockfile path.
func (l *Lockfile) Path() string {
	return l.path
}
