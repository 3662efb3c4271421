// Package dErrors provides coded domain errors.
//
// Services return these so transports can translate failures without
// inspecting error strings. Stores return pkg/platform/sentinel errors;
// services are responsible for translating those into coded errors at
// the boundary.
package dErrors

import (
	"errors"
	"fmt"
)

// Code classifies a domain error.
type Code string

const (
	// CodeValidation marks malformed input to an operation, such as a
	// calibration submitted without measurements or with a parameter
	// that has no tolerance band.
	CodeValidation Code = "validation"

	// CodeInvalidTransition marks an attempted state transition that is
	// not in the transition table for the entity.
	CodeInvalidTransition Code = "invalid_transition"

	// CodeIncompleteInvestigation marks a mandatory-field guard failure
	// on an investigation transition. Non-fatal: the caller corrects the
	// record and retries.
	CodeIncompleteInvestigation Code = "incomplete_investigation"

	// CodeInvalidField marks an attempt to set a derived field directly,
	// e.g. writing equipment status through an update patch.
	CodeInvalidField Code = "invalid_field"

	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvariantViolation Code = "invariant_violation"
	CodeBadRequest         Code = "bad_request"
	CodeUnauthorized       Code = "unauthorized"
	CodeInternal           Code = "internal"
)

// Error is a domain error with a classification code.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded domain error.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates an existing error with a code and message while keeping
// the original in the chain for errors.Is/As.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var de *Error
	for errors.As(err, &de) {
		if de.Code == code {
			return true
		}
		err = de.cause
		de = nil
	}
	return false
}

// Is is shorthand for HasCode; reads better at call sites that branch on
// a single code.
func Is(err error, code Code) bool {
	return HasCode(err, code)
}

// CodeOf returns the outermost code in the chain, or CodeInternal when
// the error carries no code.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}
