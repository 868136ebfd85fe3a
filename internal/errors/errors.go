// Package errors defines the domain error type shared by services and the
// HTTP layer.
package errors

import (
	stderrors "errors"
)

// Error is the domain error type with structured field details.
type Error struct {
	Code    Code                // Machine-readable error code
	Message string              // Human readable summary
	Fields  map[string][]string // Field-level messages for validation failures
	Cause   error               // Wrapped underlying error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons by code.
var (
	ErrValidation          = New(CodeValidation, "validation failed")
	ErrInvalidCredentials  = New(CodeInvalidCredentials, "invalid credentials")
	ErrMissingToken        = New(CodeMissingToken, "missing bearer token")
	ErrInvalidToken        = New(CodeInvalidToken, "invalid token")
	ErrForbidden           = New(CodeForbidden, "forbidden")
	ErrNotFound            = New(CodeNotFound, "resource not found")
	ErrConflict            = New(CodeConflict, "resource already exists")
	ErrMissingEmail        = New(CodeMissingEmail, "identity has no email claim")
	ErrUpstreamUnavailable = New(CodeUpstreamUnavailable, "upstream service unavailable")
)

// CodeOf extracts the code from err, defaulting to CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// As returns the domain error in err's chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	ok := stderrors.As(err, &e)
	return e, ok
}

// Validation accumulates field-level messages. The zero value is ready to use.
type Validation struct {
	fields map[string][]string
}

// Add records a message for field.
func (v *Validation) Add(field, message string) {
	if v.fields == nil {
		v.fields = make(map[string][]string)
	}
	v.fields[field] = append(v.fields[field], message)
}

// Empty reports whether no messages were recorded.
func (v *Validation) Empty() bool {
	return len(v.fields) == 0
}

// Err returns nil when empty, otherwise a CodeValidation error carrying the fields.
func (v *Validation) Err() error {
	if v.Empty() {
		return nil
	}
	return &Error{Code: CodeValidation, Message: "the given data was invalid", Fields: v.fields}
}
