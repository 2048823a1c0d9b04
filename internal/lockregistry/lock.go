// Package lockregistry implements the per-workspace lock and session
// registry (C7): a POSIX advisory file lock that prevents two
// launches against the same workspace from racing each other, and a
// small JSON registry of live sessions for diagnostics and
// crash-recovery reaping.
package lockregistry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// AlreadyRunningError is returned when a workspace lock is already
// held by another live process.
type AlreadyRunningError struct {
	PID       int
	SessionID string
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("workspace already in use by pid %d (session %s)", e.PID, e.SessionID)
}

// Lock holds an acquired advisory lock on one workspace. Callers must
// call Release when the session ends.
type Lock struct {
	path string
	file *os.File
}

// BaseDir returns $XDG_RUNTIME_DIR/aifo/workspaces, falling back to
// $TMPDIR/aifo/workspaces when XDG_RUNTIME_DIR is unset (e.g. macOS,
// or a non-systemd Linux session).
func BaseDir() string {
	runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}
	return filepath.Join(runtimeDir, "aifo", "workspaces")
}

// lockPath returns the deterministic lock file path for a workspace,
// named by the sha256 of its absolute path so two different
// workspaces never collide and the same workspace always maps to the
// same file regardless of how it was invoked.
func lockPath(workspace string) (string, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("lockregistry: resolving workspace path: %w", err)
	}
	sum := sha256.Sum256([]byte(abs))
	return filepath.Join(BaseDir(), hex.EncodeToString(sum[:])+".lock"), nil
}

// Acquire takes the advisory lock for a workspace. On contention it
// checks whether the owning PID recorded in the lock file is still
// alive: a stale lock (owner gone) is cleared automatically and
// acquisition retried once; a live owner produces AlreadyRunningError.
func Acquire(workspace string, sessionID string) (*Lock, error) {
	path, err := lockPath(workspace)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("lockregistry: creating lock directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("lockregistry: opening lock file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		owner, ownerErr := readOwner(f)
		f.Close()
		if ownerErr == nil && !processAlive(owner.PID) {
			if clearErr := clearStale(path); clearErr == nil {
				return Acquire(workspace, sessionID)
			}
		}
		if ownerErr == nil {
			return nil, &AlreadyRunningError{PID: owner.PID, SessionID: owner.SessionID}
		}
		return nil, fmt.Errorf("lockregistry: workspace is locked by another process: %w", err)
	}

	owner := lockOwner{PID: os.Getpid(), SessionID: sessionID}
	if err := writeOwner(f, owner); err != nil {
		unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, err
	}

	return &Lock{path: path, file: f}, nil
}

// Release drops the lock and removes the lock file. Releasing twice
// is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err := l.file.Close()
	os.Remove(l.path)
	l.file = nil
	return err
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On POSIX, FindProcess always succeeds; signal 0 probes liveness
	// without actually delivering anything.
	return proc.Signal(syscall.Signal(0)) == nil
}

func clearStale(path string) error {
	return os.Remove(path)
}
