// Package lockfile guards the state directory against concurrent giftwatch
// instances. Two watchers sharing one store file would double-announce
// gifts and corrupt the debounced flushes.
//
// The lock is an flock(2) on a file inside the state directory, so it is
// released by the kernel even when the process dies without cleanup.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileName is the lock file created inside the state directory.
const FileName = "giftwatch.lock"

// Lock is a held state-directory lock.
type Lock struct {
	file *os.File
	path string
}

// HeldError reports a lock already held by another instance.
type HeldError struct {
	Path   string
	Holder string
	Cause  error
}

func (e *HeldError) Error() string {
	msg := fmt.Sprintf("another giftwatch instance holds the state directory lock %s", e.Path)
	if e.Holder != "" {
		msg += " (" + e.Holder + ")"
	}
	return msg
}

func (e *HeldError) Unwrap() error { return e.Cause }

// Acquire takes the exclusive lock for stateDir, creating the directory if
// needed. It fails immediately with a HeldError when another process holds
// the lock.
func Acquire(stateDir string) (*Lock, error) {
	path := filepath.Join(stateDir, FileName)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", stateDir, err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file %s: %w", path, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		return nil, &HeldError{Path: path, Holder: describeHolder(path), Cause: err}
	}

	// Record our pid for diagnostics; the flock itself is the lock.
	if err := file.Truncate(0); err == nil {
		fmt.Fprintf(file, "pid=%d\n", os.Getpid())
		file.Sync()
	}

	slog.Info("state directory locked", "path", path, "pid", os.Getpid())
	return &Lock{file: file, path: path}, nil
}

// Release drops the lock and removes the file. Safe to call twice.
func (l *Lock) Release() {
	if l.file == nil {
		return
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("flock release failed", "path", l.path, "error", err)
	}
	l.file.Close()
	if err := os.Remove(l.path); err != nil {
		slog.Warn("lock file removal failed", "path", l.path, "error", err)
	}
	l.file = nil
	slog.Info("state directory lock released", "path", l.path)
}

// describeHolder reads the existing lock file and reports the holding pid
// and whether it is still alive. Diagnostics only.
func describeHolder(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	pid := parsePID(string(data))
	if pid <= 0 {
		return strings.TrimSpace(string(data))
	}
	if processAlive(pid) {
		return fmt.Sprintf("pid %d, running", pid)
	}
	return fmt.Sprintf("pid %d, not running", pid)
}

func parsePID(content string) int {
	for _, line := range strings.Split(content, "\n") {
		if v, ok := strings.CutPrefix(line, "pid="); ok {
			pid, err := strconv.Atoi(strings.TrimSpace(v))
			if err == nil {
				return pid
			}
		}
	}
	return 0
}

func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
