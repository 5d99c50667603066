// Package pidlock keeps a single instance of a process per data directory
// using an advisory lock on a PID file. Two catbot daemons sharing one
// account would answer every trigger twice.
package pidlock

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// ErrHeld is matched by the error [Acquire] returns when another process
// holds the lock.
var ErrHeld = errors.New("pid file is locked by another process")

// HeldError reports the process holding the lock. PID is 0 when the file
// content could not be parsed.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("already running (pid %d, %s)", e.PID, e.Path)
	}
	return fmt.Sprintf("already running (%s)", e.Path)
}

// Is makes errors.Is(err, ErrHeld) true.
func (e *HeldError) Is(target error) bool { return target == ErrHeld }

// ///////////////////////////////////////////////
// Lock
// ///////////////////////////////////////////////

// Lock is a held PID file. The file handle stays open for the lifetime of
// the lock.
type Lock struct {
	path  string
	token string
	f     *os.File
}

// newToken returns a random 16-character hex token proving ownership of the
// file, so [Lock.Release] never removes a file another process rewrote.
func newToken() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// Acquire locks path and writes "PID:TOKEN" into it. When another process
// holds the lock the error is a [*HeldError].
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, &HeldError{Path: path, PID: readPID(path)}
	}

	token := newToken()
	fail := func(step string, err error) (*Lock, error) {
		_ = unlockFile(f)
		f.Close()
		return nil, fmt.Errorf("%s pid file: %w", step, err)
	}
	if err := f.Truncate(0); err != nil {
		return fail("truncate", err)
	}
	if _, err := f.WriteAt([]byte(fmt.Sprintf("%d:%s", os.Getpid(), token)), 0); err != nil {
		return fail("write", err)
	}
	return &Lock{path: path, token: token, f: f}, nil
}

// Path returns the PID file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and closes the file, then removes it if it still carries
// this lock's token. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	unlockErr := unlockFile(l.f)
	closeErr := l.f.Close()
	l.f = nil

	data, err := os.ReadFile(l.path)
	if err == nil {
		if _, tok, ok := strings.Cut(string(data), ":"); ok && tok == l.token {
			os.Remove(l.path)
		}
	}
	return errors.Join(unlockErr, closeErr)
}

// ///////////////////////////////////////////////
// Inspection
// ///////////////////////////////////////////////

// Running reports whether a live process holds the lock at path, and its
// PID when known. A stale file left by a dead process is removed.
func Running(path string) (bool, int) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return false, 0
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return true, readPID(path)
	}

	_ = unlockFile(f)
	f.Close()
	os.Remove(path)
	return false, 0
}

// readPID parses the PID part of a PID file, returning 0 on failure.
func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pidStr, _, _ := strings.Cut(string(data), ":")
	pid, err := strconv.Atoi(strings.TrimSpace(pidStr))
	if err != nil {
		return 0
	}
	return pid
}
