// Package errors provides structured, coded errors for convoy subsystems.
// Codes let callers branch on failure class without string matching, and the
// retryable flag drives the coordinator's recovery decisions.
package errors

import (
	"fmt"
	"runtime"
	"strings"
)

// ErrorCode represents a structured error code
type ErrorCode string

const (
	// Session setup errors (fatal at start, never retried)
	ErrCodeConfigInvalid ErrorCode = "CONFIG_INVALID"
	ErrCodeGraphCycle    ErrorCode = "GRAPH_CYCLE"

	// Input errors (rejected at the call site)
	ErrCodeValidation ErrorCode = "VALIDATION"

	// Coordination errors (recoverable, resolved via the conflict table)
	ErrCodeResourceConflict  ErrorCode = "RESOURCE_CONFLICT"
	ErrCodeDependencyBlocked ErrorCode = "DEPENDENCY_BLOCKED"
	ErrCodeWorkerFailed      ErrorCode = "WORKER_FAILED"

	// Context errors
	ErrCodeMeasurement     ErrorCode = "MEASUREMENT_UNAVAILABLE"
	ErrCodeStackEmpty      ErrorCode = "STACK_EMPTY"
	ErrCodeAlreadyUpgraded ErrorCode = "ALREADY_UPGRADED"
	ErrCodeContextNotFound ErrorCode = "CONTEXT_NOT_FOUND"

	// Collaborator errors
	ErrCodePersistence ErrorCode = "PERSISTENCE"

	// Generic errors
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error represents a structured convoy error
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Context    map[string]any
	Stack      []Frame
	Retryable  bool
}

// Frame represents a stack frame
type Frame struct {
	Function string
	File     string
	Line     int
}

// New creates a new structured error
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Context:   make(map[string]any),
		Stack:     captureStack(2), // Skip New and caller
		Retryable: false,
	}
}

// Newf creates a new structured error with a formatted message
func Newf(code ErrorCode, format string, args ...any) *Error {
	err := New(code, fmt.Sprintf(format, args...))
	err.Stack = captureStack(2)
	return err
}

// Wrap wraps an existing error with convoy error context
func Wrap(err error, code ErrorCode, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Underlying: err,
		Context:    make(map[string]any),
		Stack:      captureStack(2),
		Retryable:  false,
	}
}

// WithContext adds context key-value pairs to the error
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRetryable marks the error as retryable
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// Error implements the error interface
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" {")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s: %v", k, v))
			first = false
		}
		sb.WriteString("}")
	}

	if e.Underlying != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Underlying))
	}

	return sb.String()
}

// Unwrap returns the underlying error for errors.Is/As
func (e *Error) Unwrap() error {
	return e.Underlying
}

// IsRetryable returns whether this error is retryable
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// StackTrace returns a formatted stack trace
func (e *Error) StackTrace() string {
	var sb strings.Builder

	sb.WriteString("Stack trace:\n")
	for i, frame := range e.Stack {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, frame.Function))
		sb.WriteString(fmt.Sprintf("     %s:%d\n", frame.File, frame.Line))
	}

	return sb.String()
}

// captureStack captures the current call stack
func captureStack(skip int) []Frame {
	const maxDepth = 32
	var pcs [maxDepth]uintptr

	n := runtime.Callers(skip+1, pcs[:])
	frames := make([]Frame, 0, n)

	for i := 0; i < n; i++ {
		pc := pcs[i]
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}

		file, line := fn.FileLine(pc)

		frames = append(frames, Frame{
			Function: fn.Name(),
			File:     file,
			Line:     line,
		})
	}

	return frames
}

// IsCode checks if an error has a specific error code
func IsCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	convoyErr, ok := err.(*Error)
	if !ok {
		return false
	}

	return convoyErr.Code == code
}

// GetCode extracts the error code from an error
func GetCode(err error) ErrorCode {
	if err == nil {
		return ""
	}

	convoyErr, ok := err.(*Error)
	if !ok {
		return ErrCodeInternal
	}

	return convoyErr.Code
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	convoyErr, ok := err.(*Error)
	if !ok {
		return false
	}

	return convoyErr.Retryable
}
