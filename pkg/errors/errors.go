// Package errors provides the error taxonomy shared by the screening service.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"runtime"
)

// Standard error functions
var (
	Is     = errors.Is
	As     = errors.As
	Join   = errors.Join
	Unwrap = errors.Unwrap
)

// Error kinds
const (
	KindValidation        = "VALIDATION_ERROR"
	KindSourceUnavailable = "SOURCE_UNAVAILABLE"
	KindConfiguration     = "CONFIGURATION_ERROR"
	KindAuthentication    = "AUTHENTICATION_ERROR"
	KindAuthorization     = "AUTHORIZATION_ERROR"
	KindPersistence       = "PERSISTENCE_ERROR"
	KindNotFound          = "NOT_FOUND"
	KindConflict          = "CONFLICT"
	KindInternal          = "INTERNAL_ERROR"
)

// FieldError represents a validation error for a specific field
type FieldError struct {
	Kind    string `json:"kind"`
	Field   string `json:"field"`
	Message string `json:"message,omitempty"`
}

func (f *FieldError) Error() string {
	return fmt.Sprintf("%s (%s): %s", f.Field, f.Kind, f.Message)
}

func NewFieldError(kind, field, reason string) FieldError {
	return FieldError{Kind: kind, Field: field, Message: reason}
}

var (
	Validation        = NewWithKind(KindValidation)
	SourceUnavailable = NewWithKind(KindSourceUnavailable)
	Configuration     = NewWithKind(KindConfiguration)
	Unauthenticated   = NewWithKind(KindAuthentication)
	Forbidden         = NewWithKind(KindAuthorization)
	Persistence       = NewWithKind(KindPersistence)
	NotFound          = NewWithKind(KindNotFound)
	Conflict          = NewWithKind(KindConflict)
	Internal          = NewWithKind(KindInternal)
)

// Error is a custom error type for passing more information
type Error struct {
	// Kind is the returned error type
	Kind string `json:"kind"`
	// Message is the human readable string that indicate the error
	Message string `json:"message"`
	// Fields used when there's validation error for a field.
	Fields []FieldError `json:"fields,omitempty"`

	trace []byte
	cause error
}

var _ error = (*Error)(nil)

func New(message string) *Error {
	return &Error{Kind: KindInternal, Message: message}
}

func NewWithKind(kind string) *Error {
	return &Error{Kind: kind}
}

// Error implements error
func (e *Error) Error() string {
	str := fmt.Sprintf("[%s] ", e.Kind)
	if e.Message != "" {
		str += e.Message
	}
	if e.cause != nil {
		str += fmt.Sprintf(" (%s)", e.cause)
	}
	if len(e.trace) > 0 {
		str = str + fmt.Sprintf("\n\nTrace: %s", string(e.trace))
	}
	return str
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Wrap returns a copy of the error with the cause set
func (e *Error) Wrap(cause error) *Error {
	err := *e
	err.cause = cause
	return &err
}

// Explain makes a copy of the error with given message
func (e *Error) Explain(message string, args ...any) *Error {
	err := *e
	err.Message = fmt.Sprintf(message, args...)
	return &err
}

// Trace sets the error stack trace
func (e *Error) Trace() *Error {
	err := *e
	stack := make([]byte, 2048)
	n := runtime.Stack(stack, false)
	err.trace = stack[:n]
	return &err
}

func (e *Error) WithFields(fields []FieldError) *Error {
	newError := *e
	newError.Fields = fields
	return &newError
}

// WithField returns a copy of error with the field appended.
func (e *Error) WithField(kind, field, message string) *Error {
	newError := *e
	newError.Fields = append(append([]FieldError(nil), e.Fields...), NewFieldError(kind, field, message))
	return &newError
}

// Is reports kind equality so that errors.Is(err, errors.NotFound) works on explained copies.
func (e *Error) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if other, ok := target.(*Error); ok {
		return other.Kind == e.Kind
	}
	return false
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) string {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status code an API should answer with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindSourceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
