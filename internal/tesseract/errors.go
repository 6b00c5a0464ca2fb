package tesseract

import (
	"errors"
	"fmt"
)

// Error kinds. Errors produced by this package match exactly one of these
// with errors.Is.
var (
	// ErrInvalidInput is returned when the caller supplied an unusable
	// request. It is always detected before a process is spawned.
	ErrInvalidInput = errors.New("invalid input")

	// ErrExternalTool is returned when the tesseract executable could not be
	// located, started, or finished unsuccessfully.
	ErrExternalTool = errors.New("external tool error")
)

// Common causes, wrapped inside an *Error.
var (
	// ErrUnsupportedSource is returned when a Source holds neither an image nor a path.
	ErrUnsupportedSource = errors.New("unsupported image source")

	// ErrUnsupportedEngine is returned when an engine name is not compiled in.
	ErrUnsupportedEngine = errors.New("unsupported engine")

	// ErrImageNotFound is returned when a path source does not exist.
	ErrImageNotFound = errors.New("image file does not exist")

	// ErrToolNotFound is returned when the executable cannot be resolved.
	ErrToolNotFound = errors.New("tesseract executable not found")

	// ErrToolFailed is returned when the executable exits with a non-zero status.
	ErrToolFailed = errors.New("tesseract exited with non-zero status")
)

// Error wraps a failure with the operation and error kind that produced it.
type Error struct {
	// Op is the operation that failed (e.g., "Recognize", "Start").
	Op string

	// Kind is ErrInvalidInput or ErrExternalTool.
	Kind error

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string

	// ExitCode is the child's exit status, or -1 if it never exited.
	ExitCode int

	// Stderr holds whatever the child wrote to its error stream.
	Stderr string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("tesseract: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("tesseract: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches both the error kind and the wrapped cause.
func (e *Error) Is(target error) bool {
	if e.Kind != nil && target == e.Kind {
		return true
	}
	return errors.Is(e.Err, target)
}

func invalidInput(op string, err error, details string) *Error {
	return &Error{Op: op, Kind: ErrInvalidInput, Err: err, Details: details, ExitCode: -1}
}

func externalTool(op string, err error, details string) *Error {
	return &Error{Op: op, Kind: ErrExternalTool, Err: err, Details: details, ExitCode: -1}
}
