package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(ErrCodeValidation, "event type is required")

	if err.Code != ErrCodeValidation {
		t.Errorf("Code = %q, want %q", err.Code, ErrCodeValidation)
	}
	if !strings.Contains(err.Error(), "VALIDATION") {
		t.Errorf("Error() = %q, want code in message", err.Error())
	}
	if err.IsRetryable() {
		t.Error("new errors should not be retryable by default")
	}
	if len(err.Stack) == 0 {
		t.Error("expected captured stack frames")
	}
}

func TestWrap(t *testing.T) {
	underlying := stderrors.New("disk full")
	err := Wrap(underlying, ErrCodePersistence, "failed to persist agent row")

	if !stderrors.Is(err, underlying) {
		t.Error("wrapped error should match errors.Is on underlying")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("Error() = %q, want underlying message included", err.Error())
	}
}

func TestWrapNil(t *testing.T) {
	if err := Wrap(nil, ErrCodePersistence, "no-op"); err != nil {
		t.Errorf("Wrap(nil) = %v, want nil", err)
	}
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeResourceConflict, "resource held").
		WithContext("resource", "repo-write").
		WithContext("holder", "deployment")

	msg := err.Error()
	if !strings.Contains(msg, "repo-write") || !strings.Contains(msg, "deployment") {
		t.Errorf("Error() = %q, want context values included", msg)
	}
}

func TestIsCode(t *testing.T) {
	err := New(ErrCodeGraphCycle, "cycle detected")

	if !IsCode(err, ErrCodeGraphCycle) {
		t.Error("IsCode should match")
	}
	if IsCode(err, ErrCodeValidation) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(nil, ErrCodeGraphCycle) {
		t.Error("IsCode(nil) should be false")
	}
	if IsCode(stderrors.New("plain"), ErrCodeGraphCycle) {
		t.Error("IsCode should be false for non-convoy errors")
	}
}

func TestGetCode(t *testing.T) {
	if got := GetCode(New(ErrCodeStackEmpty, "pop on empty stack")); got != ErrCodeStackEmpty {
		t.Errorf("GetCode = %q, want %q", got, ErrCodeStackEmpty)
	}
	if got := GetCode(stderrors.New("plain")); got != ErrCodeInternal {
		t.Errorf("GetCode(plain) = %q, want %q", got, ErrCodeInternal)
	}
	if got := GetCode(nil); got != "" {
		t.Errorf("GetCode(nil) = %q, want empty", got)
	}
}

func TestRetryable(t *testing.T) {
	err := New(ErrCodePersistence, "busy").WithRetryable(true)
	if !IsRetryable(err) {
		t.Error("IsRetryable should be true after WithRetryable(true)")
	}
	if IsRetryable(stderrors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}
