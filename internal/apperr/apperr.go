// Package apperr defines the error taxonomy surfaced to the CLI and API.
package apperr

import (
	"errors"
	"fmt"
)

// Code identifies an error class independent of its message.
type Code string

const (
	CodeStorage          Code = "STORAGE_ERROR"
	CodeUnauthenticated  Code = "UNAUTHENTICATED"
	CodeNetwork          Code = "NETWORK_ERROR"
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeSyncInProgress   Code = "SYNC_IN_PROGRESS"
	CodeNotFound         Code = "NOT_FOUND"
)

// Sentinels for errors.Is. Wrapped AppErrors match the sentinel of the
// same code.
var (
	ErrStorage          = &AppError{Code: CodeStorage, Message: "local storage failure"}
	ErrUnauthenticated  = &AppError{Code: CodeUnauthenticated, Message: "not signed in"}
	ErrNetwork          = &AppError{Code: CodeNetwork, Message: "remote operation failed"}
	ErrPermissionDenied = &AppError{Code: CodePermissionDenied, Message: "notification permission denied"}
	ErrValidation       = &AppError{Code: CodeValidation, Message: "invalid input"}
	ErrSyncInProgress   = &AppError{Code: CodeSyncInProgress, Message: "sync already in progress"}
	ErrNotFound         = &AppError{Code: CodeNotFound, Message: "not found"}
)

// AppError carries a code, a user-facing message and the cause.
type AppError struct {
	Code    Code
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError with the same code.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// New creates an AppError without a cause.
func New(code Code, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap attaches a code and message to err.
func Wrap(code Code, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Storage, Network and Validation are shorthands used by the stores.
func Storage(message string, err error) *AppError {
	return Wrap(CodeStorage, message, err)
}

func Network(message string, err error) *AppError {
	return Wrap(CodeNetwork, message, err)
}

func Validation(message string) *AppError {
	return New(CodeValidation, message)
}

// CodeOf returns the code of the first AppError in err's chain.
func CodeOf(err error) Code {
	var e *AppError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Retryable reports whether the user may simply re-trigger the action.
func Retryable(err error) bool {
	switch CodeOf(err) {
	case CodeNetwork, CodeSyncInProgress, CodeStorage:
		return true
	default:
		return false
	}
}
