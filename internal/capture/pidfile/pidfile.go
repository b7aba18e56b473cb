// Package pidfile provides PID file management and single-instance locking.
package pidfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"
)

// Common errors
var (
	ErrNoPIDFile      = errors.New("no PID file found")
	ErrInvalidPID     = errors.New("invalid PID in file")
	ErrAlreadyRunning = errors.New("another instance is already running")
)

const (
	fileName = "idea.pid"
	dirPerm  = 0755
	filePerm = 0644
)

// Path returns the PID file location inside stateDir.
func Path(stateDir string) string {
	return filepath.Join(stateDir, fileName)
}

// Handle is a held instance lock. The PID file exists while it is held.
type Handle struct {
	path string
	lock *flock.Flock
}

// Acquire takes an exclusive lock on path+".lock" and writes the current
// PID to path. It returns ErrAlreadyRunning when another process holds the lock.
func Acquire(path string) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		if pid, err := Read(path); err == nil {
			return nil, fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, pid)
		}
		return nil, ErrAlreadyRunning
	}

	content := strconv.Itoa(os.Getpid()) + "\n"
	if err := os.WriteFile(path, []byte(content), filePerm); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return &Handle{path: path, lock: lock}, nil
}

// Path returns the PID file path.
func (h *Handle) Path() string { return h.path }

// Release removes the PID file and drops the lock.
func (h *Handle) Release() error {
	var errs []error
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("remove PID file: %w", err))
	}
	if err := h.lock.Unlock(); err != nil {
		errs = append(errs, fmt.Errorf("release lock: %w", err))
	}
	return errors.Join(errs...)
}

// Read reads the PID from the PID file.
// Returns ErrNoPIDFile if the file doesn't exist.
// Returns ErrInvalidPID if the file contains invalid data.
func Read(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNoPIDFile
		}
		return 0, fmt.Errorf("read PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, ErrInvalidPID
	}
	return pid, nil
}

// IsRunning checks if the process with the PID in the file is alive.
// Returns (running, pid, error).
// If there's no PID file, returns (false, 0, nil).
// If the PID file exists but the process is not running (stale), returns (false, pid, nil).
func IsRunning(path string) (bool, int, error) {
	pid, err := Read(path)
	if err != nil {
		if errors.Is(err, ErrNoPIDFile) {
			return false, 0, nil
		}
		return false, 0, err
	}

	// Signal 0 probes for existence without delivering anything.
	err = unix.Kill(pid, 0)
	switch {
	case err == nil:
		return true, pid, nil
	case errors.Is(err, unix.ESRCH):
		return false, pid, nil
	case errors.Is(err, unix.EPERM):
		return true, pid, nil
	default:
		return false, pid, fmt.Errorf("check process: %w", err)
	}
}

// CleanStale removes the PID file if its process is gone.
// Returns true if a stale PID file was removed.
func CleanStale(path string) (bool, error) {
	running, pid, err := IsRunning(path)
	if err != nil {
		if errors.Is(err, ErrInvalidPID) {
			return true, os.Remove(path)
		}
		return false, err
	}
	if running || pid == 0 {
		return false, nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return false, fmt.Errorf("remove PID file: %w", err)
	}
	return true, nil
}
