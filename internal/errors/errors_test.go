package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind     Kind
		expected string
	}{
		{KindUnknown, "unknown error"},
		{KindNotFound, "not found"},
		{KindInvalid, "invalid"},
		{KindIO, "I/O error"},
		{KindConfig, "configuration error"},
		{KindLockBusy, "lock busy"},
		{KindStaleLock, "stale lock"},
		{KindStateCorrupt, "state corrupt"},
		{KindMissingSource, "missing source"},
		{KindExecutorFailure, "executor failure"},
		{KindSignalFailure, "signal failure"},
		{Kind(999), "unknown error"}, // Unknown kind
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.kind.String(); got != tt.expected {
				t.Errorf("Kind.String() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "with op and context",
			err:      &Error{Op: "state.Save", Context: "write state.json", Err: errors.New("disk full")},
			expected: "state.Save: write state.json: disk full",
		},
		{
			name:     "with op only",
			err:      &Error{Op: "state.Save", Err: errors.New("disk full")},
			expected: "state.Save: disk full",
		},
		{
			name:     "without op",
			err:      &Error{Err: errors.New("disk full")},
			expected: "disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error.Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	underlying := errors.New("disk full")
	err := &Error{Op: "state.Save", Err: underlying}

	if got := err.Unwrap(); got != underlying {
		t.Errorf("Error.Unwrap() = %v, want %v", got, underlying)
	}
}

func TestE(t *testing.T) {
	tests := []struct {
		name       string
		args       []interface{}
		wantOp     Op
		wantKind   Kind
		wantHasErr bool
	}{
		{
			name:       "with all args",
			args:       []interface{}{Op("state.Save"), KindNotFound, "snapshot", errors.New("no such file")},
			wantOp:     "state.Save",
			wantKind:   KindNotFound,
			wantHasErr: true,
		},
		{
			name:       "with op and kind",
			args:       []interface{}{Op("state.Save"), KindInvalid, "bad extension"},
			wantOp:     "state.Save",
			wantKind:   KindInvalid,
			wantHasErr: true, // Context becomes the error when no error is provided
		},
		{
			name:       "with just error",
			args:       []interface{}{errors.New("permission denied")},
			wantOp:     "",
			wantKind:   KindUnknown,
			wantHasErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := E(tt.args...)
			e, ok := err.(*Error)
			if !ok {
				t.Fatalf("E() returned %T, want *Error", err)
			}

			if e.Op != tt.wantOp {
				t.Errorf("E().Op = %q, want %q", e.Op, tt.wantOp)
			}
			if e.Kind != tt.wantKind {
				t.Errorf("E().Kind = %v, want %v", e.Kind, tt.wantKind)
			}
			if (e.Err != nil) != tt.wantHasErr {
				t.Errorf("E().Err nil = %v, want nil = %v", e.Err == nil, !tt.wantHasErr)
			}
		})
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		kind     Kind
		expected bool
	}{
		{
			name:     "matching kind",
			err:      E(Op("queue.Enqueue"), KindNotFound, "source vanished"),
			kind:     KindNotFound,
			expected: true,
		},
		{
			name:     "non-matching kind",
			err:      E(Op("queue.Enqueue"), KindNotFound, "source vanished"),
			kind:     KindInvalid,
			expected: false,
		},
		{
			name:     "non-nbq error",
			err:      errors.New("exit status 1"),
			kind:     KindNotFound,
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			kind:     KindNotFound,
			expected: false,
		},
		{
			name:     "wrapped error",
			err:      fmt.Errorf("wrapped: %w", E(Op("queue.Enqueue"), KindSignalFailure, "no such process")),
			kind:     KindSignalFailure,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.kind); got != tt.expected {
				t.Errorf("Is() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGetKind(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{
			name:     "nbq error",
			err:      E(Op("queue.Enqueue"), KindNotFound, "source vanished"),
			expected: KindNotFound,
		},
		{
			name:     "regular error",
			err:      errors.New("exit status 1"),
			expected: KindUnknown,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetKind(tt.err); got != tt.expected {
				t.Errorf("GetKind() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLockBusy(t *testing.T) {
	err := LockBusy(4242)

	if !Is(err, KindLockBusy) {
		t.Error("LockBusy should return KindLockBusy error")
	}

	if e, ok := err.(*Error); ok {
		if e.Op != "lock.Acquire" {
			t.Errorf("Op = %q, want %q", e.Op, "lock.Acquire")
		}
	} else {
		t.Error("LockBusy should return *Error")
	}
}

func TestStateCorrupt(t *testing.T) {
	underlying := errors.New("unexpected end of JSON input")
	err := StateCorrupt("/tmp/state.json", underlying)

	if !Is(err, KindStateCorrupt) {
		t.Error("StateCorrupt should return KindStateCorrupt error")
	}

	if !errors.Is(err, underlying) {
		t.Error("StateCorrupt should wrap the disk full")
	}
}

func TestStateWriteFailed(t *testing.T) {
	underlying := errors.New("disk full")
	err := StateWriteFailed("/tmp/state.json", underlying)

	if !Is(err, KindIO) {
		t.Error("StateWriteFailed should return KindIO error")
	}
	if !errors.Is(err, underlying) {
		t.Error("StateWriteFailed should wrap the disk full")
	}
}

func TestInvalidTransition(t *testing.T) {
	err := InvalidTransition("item-1", "done", "running")

	if !Is(err, KindInvalid) {
		t.Error("InvalidTransition should return KindInvalid error")
	}
}

func TestMissingSource(t *testing.T) {
	err := MissingSource("/nope.ipynb")

	if !Is(err, KindMissingSource) {
		t.Error("MissingSource should return KindMissingSource error")
	}
}

func TestUnsupportedSource(t *testing.T) {
	err := UnsupportedSource("/notes.txt")

	if !Is(err, KindInvalid) {
		t.Error("UnsupportedSource should return KindInvalid error")
	}
}

func TestSignalFailed(t *testing.T) {
	err := SignalFailed(77, errors.New("operation not permitted"))

	if !Is(err, KindSignalFailure) {
		t.Error("SignalFailed should return KindSignalFailure error")
	}
}

func TestConfigLoadFailed(t *testing.T) {
	underlying := errors.New("file not found")
	err := ConfigLoadFailed("/path/to/config", underlying)

	if !Is(err, KindConfig) {
		t.Error("ConfigLoadFailed should return KindConfig error")
	}
}

func TestConfigInvalid(t *testing.T) {
	err := ConfigInvalid("poll interval must be positive")

	if !Is(err, KindInvalid) {
		t.Error("ConfigInvalid should return KindInvalid error")
	}
}

func TestErrorChaining(t *testing.T) {
	// Test that errors can be properly chained and unwrapped
	innerErr := errors.New("original error")
	middleErr := E(Op("middle.Op"), KindIO, innerErr)
	outerErr := E(Op("outer.Op"), KindConfig, middleErr)

	// Should be able to unwrap to find inner error
	if !errors.Is(outerErr, innerErr) {
		t.Error("Should be able to find inner error through chain")
	}

	// Kind should be from the outer error
	if GetKind(outerErr) != KindConfig {
		t.Error("GetKind should return outer error's kind")
	}
}
