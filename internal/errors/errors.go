// Package errors provides the coded error taxonomy used across tessera.
//
// Every failure that can end a collage job is classified by a Code so the
// HTTP layer, the CLI and the job store can react to it without string
// matching:
//   - VALIDATION: bad parameters or inputs; the job never starts
//   - DECODE: a source image could not be read or decoded
//   - ENCODE: the composite could not be encoded or written
//   - NOT_FOUND: unknown or evicted job id
//   - INTERNAL: anything else
//
// # Usage
//
//	err := errors.New(errors.ErrCodeValidation, "rows must be positive, got %d", rows)
//	if errors.Is(err, errors.ErrCodeValidation) {
//	    // reject request
//	}
//
//	err = errors.Wrap(errors.ErrCodeDecode, cause, "decode %s", path)
package errors

import (
	"errors"
	"fmt"
)

// Code represents a machine-readable error code.
type Code string

const (
	ErrCodeValidation Code = "VALIDATION"
	ErrCodeDecode     Code = "DECODE"
	ErrCodeEncode     Code = "ENCODE"
	ErrCodeNotFound   Code = "NOT_FOUND"
	ErrCodeInternal   Code = "INTERNAL"
)

// Error is a structured error with a code and optional cause.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Human-readable message
	Cause   error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a new Error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap creates a new Error wrapping an existing error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Validation is shorthand for New(ErrCodeValidation, ...).
func Validation(format string, args ...any) *Error {
	return New(ErrCodeValidation, format, args...)
}

// Is reports whether err has the given error code.
// It unwraps the error chain looking for an *Error with a matching code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error, if available.
// Returns ErrCodeInternal for non-nil errors that carry no code.
func GetCode(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// UserMessage returns a user-friendly message for the error.
// For *Error types, returns the message (and cause) without the code prefix.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return fmt.Sprintf("%s: %v", e.Message, e.Cause)
		}
		return e.Message
	}
	return err.Error()
}
