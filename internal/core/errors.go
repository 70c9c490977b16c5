package core

import (
	"errors"
	"fmt"
)

// ErrorCode classifies an expected, recoverable failure.
type ErrorCode string

const (
	CodeDuplicateAlias     ErrorCode = "duplicate_alias"
	CodeNotFound           ErrorCode = "not_found"
	CodeInvalidBundle      ErrorCode = "invalid_bundle"
	CodeNoAccountSelected  ErrorCode = "no_account_selected"
	CodeValidationFailed   ErrorCode = "validation_failed"
	CodeStorageWriteFailed ErrorCode = "storage_write_failed"
	CodeBusy               ErrorCode = "busy"
	CodeInvalidTransition  ErrorCode = "invalid_transition"
	CodeInvalidArgument    ErrorCode = "invalid_argument"
)

// Error is a typed failure with actionable context. errors.Is matches on Code,
// so callers compare against the Err* sentinels below.
type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := e.Reason
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrDuplicateAlias     = &Error{Code: CodeDuplicateAlias}
	ErrNotFound           = &Error{Code: CodeNotFound}
	ErrInvalidBundle      = &Error{Code: CodeInvalidBundle}
	ErrNoAccountSelected  = &Error{Code: CodeNoAccountSelected}
	ErrValidationFailed   = &Error{Code: CodeValidationFailed}
	ErrStorageWriteFailed = &Error{Code: CodeStorageWriteFailed}
	ErrBusy               = &Error{Code: CodeBusy}
	ErrInvalidTransition  = &Error{Code: CodeInvalidTransition}
	ErrInvalidArgument    = &Error{Code: CodeInvalidArgument}
)

// CodeOf returns the code carried by err, or "" for untyped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func newError(code ErrorCode, err error, format string, args ...any) *Error {
	return &Error{Code: code, Reason: fmt.Sprintf(format, args...), Err: err}
}

func DuplicateAlias(alias string) *Error {
	return newError(CodeDuplicateAlias, nil, "account %q already exists; choose another alias or update its credentials", alias)
}

func NotFound(format string, args ...any) *Error {
	return newError(CodeNotFound, nil, format, args...)
}

func InvalidBundle(format string, args ...any) *Error {
	return newError(CodeInvalidBundle, nil, format, args...)
}

func NoAccountSelected() *Error {
	return newError(CodeNoAccountSelected, nil, "no account selected; pass an alias or activate one with 'sidekick account use <alias>'")
}

// ValidationFailed nests the provider's error text.
func ValidationFailed(alias, providerError string) *Error {
	if alias == "" {
		return newError(CodeValidationFailed, nil, "credential validation failed: %s", providerError)
	}
	return newError(CodeValidationFailed, nil, "credential validation failed for %q: %s", alias, providerError)
}

func StorageWriteFailed(err error, format string, args ...any) *Error {
	return newError(CodeStorageWriteFailed, err, format, args...)
}

func Busy(limit int) *Error {
	return newError(CodeBusy, nil, "task engine busy: %d tasks already in flight; retry when one finishes", limit)
}

func InvalidArgument(format string, args ...any) *Error {
	return newError(CodeInvalidArgument, nil, format, args...)
}
