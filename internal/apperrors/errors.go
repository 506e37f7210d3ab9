// Package apperrors defines the structured error taxonomy used across the
// scanner, reasoner, dispatcher, fixer, and executor. It replaces ad-hoc
// error strings and broad catch-alls with a small set of typed kinds that
// downstream callers can branch on (spec §7).
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorType classifies a failure the way the rest of the system needs to
// react to it: retry, give up, or mask.
type ErrorType string

const (
	// ErrorTypeTransient marks a failure the caller should retry (network
	// blip, rate limit, upstream 5xx).
	ErrorTypeTransient ErrorType = "transient"
	// ErrorTypeNotFound marks a missing resource (unknown service, unknown
	// revision).
	ErrorTypeNotFound ErrorType = "not_found"
	// ErrorTypeInvalidArgument marks a request the caller should not retry
	// without changing it (clamp violation, unlisted revision).
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
	// ErrorTypeTimeout marks a deadline exceeded waiting on a long-running
	// operation.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeParse marks a failure to parse a model or wire payload; the
	// caller collapses to a safe default rather than propagating it.
	ErrorTypeParse ErrorType = "parse_error"
	// ErrorTypeDataStore marks a document-store failure that must never
	// mask a completed platform mutation.
	ErrorTypeDataStore ErrorType = "data_store_error"
	// ErrorTypeInternal is the catch-all for anything else.
	ErrorTypeInternal ErrorType = "internal"
)

var statusByType = map[ErrorType]int{
	ErrorTypeTransient:       http.StatusServiceUnavailable,
	ErrorTypeNotFound:        http.StatusNotFound,
	ErrorTypeInvalidArgument: http.StatusBadRequest,
	ErrorTypeTimeout:         http.StatusRequestTimeout,
	ErrorTypeParse:           http.StatusUnprocessableEntity,
	ErrorTypeDataStore:       http.StatusInternalServerError,
	ErrorTypeInternal:        http.StatusInternalServerError,
}

// AppError is a typed, wrappable error carrying an ErrorType, an HTTP
// status mapping, optional details, and an optional underlying cause.
type AppError struct {
	Type       ErrorType
	Message    string
	Details    string
	StatusCode int
	Cause      error
}

// New creates an AppError of the given type.
func New(t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusByType[t]}
}

// Newf creates an AppError with a formatted message.
func Newf(t ErrorType, format string, args ...interface{}) *AppError {
	return New(t, fmt.Sprintf(format, args...))
}

// Wrap creates an AppError of the given type wrapping an underlying cause.
func Wrap(cause error, t ErrorType, message string) *AppError {
	return &AppError{Type: t, Message: message, StatusCode: statusByType[t], Cause: cause}
}

// Wrapf wraps cause with a formatted message.
func Wrapf(cause error, t ErrorType, format string, args ...interface{}) *AppError {
	return Wrap(cause, t, fmt.Sprintf(format, args...))
}

// WithDetails attaches additional context in place and returns the same
// error for chaining.
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithDetailsf attaches formatted additional context in place.
func (e *AppError) WithDetailsf(format string, args ...interface{}) *AppError {
	e.Details = fmt.Sprintf(format, args...)
	return e
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Details != "" {
		s = fmt.Sprintf("%s (%s)", s, e.Details)
	}
	return s
}

// Unwrap exposes the underlying cause to errors.Is/As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Predefined constructors for the common cases.

func NewTransientError(message string) *AppError {
	return New(ErrorTypeTransient, message)
}

func NewNotFoundError(resource string) *AppError {
	return Newf(ErrorTypeNotFound, "%s not found", resource)
}

func NewInvalidArgumentError(message string) *AppError {
	return New(ErrorTypeInvalidArgument, message)
}

func NewTimeoutError(operation string) *AppError {
	return Newf(ErrorTypeTimeout, "operation timed out: %s", operation)
}

func NewParseError(message string) *AppError {
	return New(ErrorTypeParse, message)
}

func NewDataStoreError(operation string, cause error) *AppError {
	return Wrapf(cause, ErrorTypeDataStore, "data store operation failed: %s", operation)
}

// IsType reports whether err is an *AppError of the given type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// GetType returns the error's type, defaulting to ErrorTypeInternal for
// non-AppError values.
func GetType(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// GetStatusCode returns the HTTP status mapping for err.
func GetStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

// safeMessages holds messages safe to return to external callers without
// leaking internals.
var safeMessages = map[ErrorType]string{
	ErrorTypeNotFound:        "the requested resource was not found",
	ErrorTypeTimeout:         "the operation timed out",
	ErrorTypeDataStore:       "an internal error occurred",
	ErrorTypeInternal:        "an internal error occurred",
	ErrorTypeTransient:       "a transient error occurred, please retry",
	ErrorTypeInvalidArgument: "",
}

// SafeErrorMessage returns a message suitable for an external caller:
// validation/invalid-argument messages pass through verbatim (they describe
// caller-fixable input), everything else is genericized.
func SafeErrorMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Type == ErrorTypeInvalidArgument {
			return appErr.Message
		}
		if msg, ok := safeMessages[appErr.Type]; ok {
			return msg
		}
		return "an internal error occurred"
	}
	return "an unexpected error occurred"
}

// LogFields returns a flat map suitable for structured logging.
func LogFields(err error) map[string]interface{} {
	fields := map[string]interface{}{"error": err.Error()}
	var appErr *AppError
	if errors.As(err, &appErr) {
		fields["error_type"] = string(appErr.Type)
		fields["status_code"] = appErr.StatusCode
		if appErr.Details != "" {
			fields["error_details"] = appErr.Details
		}
		if appErr.Cause != nil {
			fields["underlying_error"] = appErr.Cause.Error()
		}
	}
	return fields
}

// Chain joins non-nil errors into a single error, filtering nils. Returns
// nil if every argument is nil, and the bare error if exactly one is
// non-nil.
func Chain(errs ...error) error {
	var nonNil []string
	var first error
	count := 0
	for _, e := range errs {
		if e == nil {
			continue
		}
		count++
		if first == nil {
			first = e
		}
		nonNil = append(nonNil, e.Error())
	}
	switch count {
	case 0:
		return nil
	case 1:
		return first
	default:
		return errors.New(strings.Join(nonNil, " -> "))
	}
}
