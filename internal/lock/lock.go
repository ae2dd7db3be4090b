// Package lock implements the process-wide exclusive lock that guards a
// single profile against concurrent daemon/sync invocations (spec §5),
// keyed by (user, profile name) via the lock file's path.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const (
	filePermissions = 0o644
	dirPermissions  = 0o755
)

// Lock holds an acquired exclusive flock on one profile's lock file.
type Lock struct {
	path string
	file *os.File
}

// Acquire creates (if needed) and exclusively locks the file at path,
// writing the current PID into it. It fails immediately — it never
// blocks waiting for another process to release the lock — so that a
// second `zielen sync` invocation against the same profile errors out
// right away instead of queuing.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		return nil, fmt.Errorf("lock file path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, filePermissions)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		return nil, fmt.Errorf("profile is already locked by another process (%s)", path)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()

		return nil, fmt.Errorf("truncating lock file: %w", err)
	}

	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()

		return nil, fmt.Errorf("writing lock file: %w", err)
	}

	if err := f.Sync(); err != nil {
		f.Close()

		return nil, fmt.Errorf("syncing lock file: %w", err)
	}

	return &Lock{path: path, file: f}, nil
}

// Release removes the lock file and closes its handle, freeing the flock.
func (l *Lock) Release() error {
	os.Remove(l.path)

	return l.file.Close()
}

// HolderPID reads the PID recorded in the lock file at path, for
// diagnostics ("profile locked by PID N").
func HolderPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading lock file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in %s: %w", path, err)
	}

	return pid, nil
}
