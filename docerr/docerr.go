// Package docerr defines the typed failures of the ingestion pipeline.
//
// Every stage returns either its result or an *Error carrying one Kind.
// Handlers map kinds to status codes and show only Message to callers;
// the wrapped cause is for logs.
package docerr

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	InvalidInput      Kind = "invalid_input"
	ExtractionFailed  Kind = "extraction_failed"
	ConversionFailed  Kind = "conversion_failed"
	ValidationFailed  Kind = "validation_failed"
	EngineUnavailable Kind = "engine_unavailable"
	Overloaded        Kind = "overloaded"
	Internal          Kind = "internal"
)

// Error is a pipeline failure with a user-safe message and an internal cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// New builds an *Error.
func New(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func Invalid(message string) *Error { return New(InvalidInput, message, nil) }

func Invalidf(format string, args ...any) *Error {
	return New(InvalidInput, fmt.Sprintf(format, args...), nil)
}

func Extraction(message string, err error) *Error { return New(ExtractionFailed, message, err) }

func Conversion(message string, err error) *Error { return New(ConversionFailed, message, err) }

func Validation(message string, err error) *Error { return New(ValidationFailed, message, err) }

func Unavailable(message string, err error) *Error { return New(EngineUnavailable, message, err) }

// KindOf returns the kind of the outermost *Error in err's chain,
// or Internal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Public returns the message safe to show to an end user.
func Public(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return "internal error"
}
