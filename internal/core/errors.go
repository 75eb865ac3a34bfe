package core

import (
	"errors"
	"fmt"
)

// ErrorCode classifies failures reported to the host application.
type ErrorCode string

const (
	CodeInvalidArguments  ErrorCode = "INVALID_ARGUMENTS"
	CodeConfigParse       ErrorCode = "CONFIG_PARSE_ERROR"
	CodePersistence       ErrorCode = "PERSISTENCE_ERROR"
	CodeEngineStart       ErrorCode = "ENGINE_START_ERROR"
	CodeValidationTimeout ErrorCode = "VALIDATION_TIMEOUT"
	CodeUnknownCommand    ErrorCode = "UNKNOWN_COMMAND"
	CodeInvalidState      ErrorCode = "INVALID_STATE"
	CodeInternal          ErrorCode = "INTERNAL_ERROR"
)

// Error is a coded error. Two Errors match under errors.Is when their codes do.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a coded error.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError creates a coded error around cause.
func WrapError(cause error, code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// Sentinels for errors.Is comparisons.
var (
	ErrInvalidArguments  = &Error{Code: CodeInvalidArguments, Message: "invalid arguments"}
	ErrConfigParse       = &Error{Code: CodeConfigParse, Message: "config parse error"}
	ErrPersistence       = &Error{Code: CodePersistence, Message: "persistence error"}
	ErrEngineStart       = &Error{Code: CodeEngineStart, Message: "engine start error"}
	ErrValidationTimeout = &Error{Code: CodeValidationTimeout, Message: "validation timeout"}
	ErrUnknownCommand    = &Error{Code: CodeUnknownCommand, Message: "not implemented"}
	ErrInvalidState      = &Error{Code: CodeInvalidState, Message: "invalid state"}
)

// CodeOf extracts the ErrorCode of err, or CodeInternal for uncoded errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// MessageOf returns the human-readable part of a coded error.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Cause != nil {
			return e.Message + ": " + e.Cause.Error()
		}
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
