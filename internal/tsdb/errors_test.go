package tsdb

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorWrapsCauseAndUnwraps(t *testing.T) {
	cause := fmt.Errorf("disk exploded")
	err := wrapErr(StatusIOError, "read_index", cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	if err.Status() != StatusIOError {
		t.Fatalf("Status() = %v, want StatusIOError", err.Status())
	}
	if got := err.Error(); got == "" {
		t.Fatal("Error() returned empty string")
	}
}

func TestErrorWithoutCauseFormatsMessageOnly(t *testing.T) {
	err := newErr(StatusOutOfOrder, "timestamps not strictly increasing")
	if err.Error() != "timestamps not strictly increasing" {
		t.Fatalf("Error() = %q", err.Error())
	}
	if err.Unwrap() != nil {
		t.Fatal("expected nil Unwrap for a cause-less error")
	}
}

func TestSentinelErrorsCompareByIdentity(t *testing.T) {
	// WriteWAL and friends return the shared package-level sentinels, so
	// callers can use errors.Is against them directly.
	if !errors.Is(ErrOutOfOrder, ErrOutOfOrder) {
		t.Fatal("expected errors.Is(ErrOutOfOrder, ErrOutOfOrder)")
	}
	if errors.Is(ErrOutOfOrder, ErrOverwriteMismatch) {
		t.Fatal("distinct sentinels must not compare equal")
	}
}

func TestIOErrorWrapsOSCause(t *testing.T) {
	cause := fmt.Errorf("permission denied")
	err := ioError("open_root", cause)
	if err.Status() != StatusIOError {
		t.Fatalf("Status() = %v, want StatusIOError", err.Status())
	}
	if !errors.Is(err, cause) {
		t.Fatal("expected ioError to wrap its cause")
	}
}
