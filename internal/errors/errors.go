// Package errors provides structured error types for nbq.
// These errors carry the operation that failed and a Kind that callers use
// to decide whether a condition is fatal, recoverable, or a no-op.
package errors

import (
	"errors"
	"fmt"
)

// Op describes an operation, usually as "package.function".
type Op string

// Kind categorizes the type of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindInvalid
	KindIO
	KindConfig
	// KindLockBusy means another worker holds a live lock. Callers treat it
	// as a no-op signal, not a failure.
	KindLockBusy
	// KindStaleLock means a lock record names a dead process.
	KindStaleLock
	// KindStateCorrupt means the durable state record could not be parsed.
	KindStateCorrupt
	// KindMissingSource means a queued snapshot vanished before execution.
	KindMissingSource
	// KindExecutorFailure covers non-zero exits and abnormal termination of
	// the delegated execution.
	KindExecutorFailure
	// KindSignalFailure means a process group could not be signaled.
	KindSignalFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindInvalid:
		return "invalid"
	case KindIO:
		return "I/O error"
	case KindConfig:
		return "configuration error"
	case KindLockBusy:
		return "lock busy"
	case KindStaleLock:
		return "stale lock"
	case KindStateCorrupt:
		return "state corrupt"
	case KindMissingSource:
		return "missing source"
	case KindExecutorFailure:
		return "executor failure"
	case KindSignalFailure:
		return "signal failure"
	default:
		return "unknown error"
	}
}

// Error is the structured error type for nbq.
type Error struct {
	Op      Op     // Operation that failed
	Kind    Kind   // Category of error
	Err     error  // Underlying error
	Context string // Additional context
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Context, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error. Arguments can be:
// - Op: the operation name
// - Kind: the error kind
// - string: context message
// - error: the underlying error
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case string:
			e.Context = a
		case error:
			e.Err = a
		}
	}
	if e.Err == nil {
		e.Err = errors.New(e.Context)
		e.Context = ""
	}
	return e
}

// Is reports whether err is of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// GetKind returns the Kind of an error.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Lock errors
func LockBusy(pid int) error {
	return E(Op("lock.Acquire"), KindLockBusy, fmt.Sprintf("worker already running (pid %d)", pid))
}

func StaleLock(path string, pid int) error {
	return E(Op("lock.Acquire"), KindStaleLock, fmt.Sprintf("lock %s names dead pid %d", path, pid))
}

// State errors
func StateCorrupt(path string, err error) error {
	return E(Op("state.Load"), KindStateCorrupt, fmt.Sprintf("unparseable state record %s", path), err)
}

func StateWriteFailed(path string, err error) error {
	return E(Op("state.Save"), KindIO, fmt.Sprintf("failed to write state record %s", path), err)
}

func InvalidTransition(id, from, to string) error {
	return E(Op("state.Transition"), KindInvalid, fmt.Sprintf("item %s cannot move from %s to %s", id, from, to))
}

// Queue errors
func MissingSource(path string) error {
	return E(Op("queue.Snapshot"), KindMissingSource, fmt.Sprintf("source %s does not exist", path))
}

func UnsupportedSource(path string) error {
	return E(Op("queue.Snapshot"), KindInvalid, fmt.Sprintf("unsupported source %s (want .ipynb or .py)", path))
}

// Process errors
func SignalFailed(pgid int, err error) error {
	return E(Op("process.Signal"), KindSignalFailure, fmt.Sprintf("failed to signal process group %d", pgid), err)
}

// Config errors
func ConfigLoadFailed(path string, err error) error {
	return E(Op("config.Load"), KindConfig, fmt.Sprintf("failed to load config from %s", path), err)
}

func ConfigInvalid(reason string) error {
	return E(Op("config.Validate"), KindInvalid, reason)
}
