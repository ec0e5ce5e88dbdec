package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of application error.
type ErrorCode string

const (
	// ErrCodeInvalidInput indicates bad or missing caller-supplied data. Never retried.
	ErrCodeInvalidInput ErrorCode = "invalid_input"
	// ErrCodeQueue indicates a transport-level queue failure.
	ErrCodeQueue ErrorCode = "queue"
	// ErrCodeKeyExists indicates a record with the same key was already inserted.
	ErrCodeKeyExists ErrorCode = "key_exists"
	// ErrCodeConflict indicates an optimistic concurrency loss (stale or missing record version).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeStore indicates a backend I/O or availability failure.
	ErrCodeStore ErrorCode = "store"
	// ErrCodeNotFound indicates a resource was not found.
	ErrCodeNotFound ErrorCode = "not_found"
	// ErrCodeInternal indicates an internal server error.
	ErrCodeInternal ErrorCode = "internal"
	// ErrCodeTimeout indicates a timeout occurred.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
)

// ErrStaleReceipt is the cause attached to queue errors raised when a receipt token no longer
// owns its item, either because it was acknowledged or because the lease expired and the item
// was handed to another receiver.
var ErrStaleReceipt = errors.New("stale receipt token")

// AppError represents a structured application error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
	// Field is the specific field that caused the error (optional, for input errors)
	Field string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// InvalidInput creates a new InvalidInput error.
func InvalidInput(message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message}
}

// InvalidInputf creates a new InvalidInput error with formatted message.
func InvalidInputf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// InvalidField creates a new InvalidInput error for a specific field.
func InvalidField(field, message string) *AppError {
	return &AppError{Code: ErrCodeInvalidInput, Message: message, Field: field}
}

// KeyExistsf creates a new KeyExists error with formatted message.
func KeyExistsf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeKeyExists, Message: fmt.Sprintf(format, args...)}
}

// Conflict creates a new Conflict error.
func Conflict(message string) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: message}
}

// Conflictf creates a new Conflict error with formatted message.
func Conflictf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeConflict, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf creates a new NotFound error with formatted message.
func NotFoundf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{Code: ErrCodeInternal, Message: fmt.Sprintf(format, args...)}
}

// StaleReceipt creates a queue error marking a receipt token that lost ownership of its item.
func StaleReceipt(op string) *AppError {
	return &AppError{Code: ErrCodeQueue, Message: op, Cause: ErrStaleReceipt}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
		Cause:   err,
	}
}

// isCode checks if an error has a specific error code.
func isCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// IsInvalidInput checks if an error is an InvalidInput error.
func IsInvalidInput(err error) bool {
	return isCode(err, ErrCodeInvalidInput)
}

// IsQueue checks if an error is a Queue error.
func IsQueue(err error) bool {
	return isCode(err, ErrCodeQueue)
}

// IsStaleReceipt reports whether err is a queue error caused by a receipt token that
// no longer owns its item.
func IsStaleReceipt(err error) bool {
	return IsQueue(err) && errors.Is(err, ErrStaleReceipt)
}

// IsKeyExists checks if an error is a KeyExists error.
func IsKeyExists(err error) bool {
	return isCode(err, ErrCodeKeyExists)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return isCode(err, ErrCodeConflict)
}

// IsStore checks if an error is a Store error.
func IsStore(err error) bool {
	return isCode(err, ErrCodeStore)
}

// IsNotFound checks if an error is a NotFound error.
func IsNotFound(err error) bool {
	return isCode(err, ErrCodeNotFound)
}

// IsInternal checks if an error is an Internal error.
func IsInternal(err error) bool {
	return isCode(err, ErrCodeInternal)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return isCode(err, ErrCodeTimeout)
}

// IsCanceled checks if an error is a Canceled error.
func IsCanceled(err error) bool {
	return isCode(err, ErrCodeCanceled)
}

// Retryable reports whether the error kind may succeed when the same operation is attempted
// again. Stale receipts are not retryable; they mean another receiver owns the item.
func Retryable(err error) bool {
	if err == nil || IsStaleReceipt(err) {
		return false
	}
	switch GetCode(err) {
	case ErrCodeConflict, ErrCodeStore, ErrCodeQueue, ErrCodeTimeout:
		return true
	default:
		return false
	}
}

// GetCode returns the ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// GetField returns the Field from an error, or empty string if not an AppError or no field set.
func GetField(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Field
	}
	return ""
}
