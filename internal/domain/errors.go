package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies why an extraction failed so callers can branch
// without inspecting wrapped causes.
type ErrorKind string

const (
	// KindConnectivity means the container runtime could not be reached.
	KindConnectivity ErrorKind = "connectivity"
	// KindRunFailure means the extractor image could not be pulled or the
	// container did not run to a clean exit.
	KindRunFailure ErrorKind = "run_failure"
	// KindNoContent means the container exited cleanly but left no usable text.
	KindNoContent ErrorKind = "no_content"
	// KindCleanup means temporary artifacts could not be removed after a
	// successful extraction.
	KindCleanup ErrorKind = "cleanup"
	// KindInvalidRequest means the source path is not under the working directory.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindConfig means the extractor was configured incorrectly.
	KindConfig ErrorKind = "config"
)

// Error is a classified extraction error with request context
type Error struct {
	Kind    ErrorKind
	Stage   Stage
	Path    string
	Image   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)

	var ctx []string
	if e.Path != "" {
		ctx = append(ctx, "path="+e.Path)
	}
	if e.Image != "" {
		ctx = append(ctx, "image="+e.Image)
	}
	if len(ctx) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(ctx, ", "))
	}

	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// At records the stage the error was raised in.
func (e *Error) At(stage Stage) *Error {
	e.Stage = stage
	return e
}

// For records the caller-supplied path and the image reference.
func (e *Error) For(path, image string) *Error {
	e.Path = path
	e.Image = image
	return e
}

// NewError creates a new classified error
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ConnectivityError(message string, err error) *Error {
	return NewError(KindConnectivity, message, err)
}

func RunFailure(message string, err error) *Error {
	return NewError(KindRunFailure, message, err)
}

func NoContentError(message string, err error) *Error {
	return NewError(KindNoContent, message, err)
}

func CleanupError(message string, err error) *Error {
	return NewError(KindCleanup, message, err)
}

func InvalidRequestError(message string, err error) *Error {
	return NewError(KindInvalidRequest, message, err)
}

func ConfigError(message string, err error) *Error {
	return NewError(KindConfig, message, err)
}

// KindOf returns the kind of the first *Error in err's chain, or "" if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
