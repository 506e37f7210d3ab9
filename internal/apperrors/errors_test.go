package apperrors

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorBasics(t *testing.T) {
	err := New(ErrorTypeInvalidArgument, "test message")

	assert.Equal(t, ErrorTypeInvalidArgument, err.Type)
	assert.Equal(t, "test message", err.Message)
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Empty(t, err.Details)
	assert.Nil(t, err.Cause)
	assert.Equal(t, "invalid_argument: test message", err.Error())
}

func TestAppErrorWithDetails(t *testing.T) {
	err := New(ErrorTypeInvalidArgument, "test message").WithDetails("extra info")
	assert.Equal(t, "invalid_argument: test message (extra info)", err.Error())
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("original error")
	wrapped := Wrap(originalErr, ErrorTypeDataStore, "operation failed")

	assert.Equal(t, ErrorTypeDataStore, wrapped.Type)
	assert.Equal(t, "operation failed", wrapped.Message)
	assert.Equal(t, originalErr, wrapped.Cause)
	assert.Equal(t, originalErr, wrapped.Unwrap())
	assert.True(t, errors.Is(wrapped, originalErr))
}

func TestWrapf(t *testing.T) {
	originalErr := errors.New("connection refused")
	wrapped := Wrapf(originalErr, ErrorTypeTransient, "failed to connect to %s:%d", "localhost", 5432)

	assert.Equal(t, "failed to connect to localhost:5432", wrapped.Message)
	assert.Equal(t, originalErr, wrapped.Cause)
}

func TestWithDetailsf(t *testing.T) {
	err := New(ErrorTypeTimeout, "deadline exceeded")
	detailed := err.WithDetailsf("operation %s, attempt %d", "scan", 3)

	assert.Equal(t, "operation scan, attempt 3", detailed.Details)
	assert.Same(t, err, detailed)
}

func TestStatusCodeMapping(t *testing.T) {
	cases := []struct {
		errorType  ErrorType
		statusCode int
	}{
		{ErrorTypeTransient, http.StatusServiceUnavailable},
		{ErrorTypeNotFound, http.StatusNotFound},
		{ErrorTypeInvalidArgument, http.StatusBadRequest},
		{ErrorTypeTimeout, http.StatusRequestTimeout},
		{ErrorTypeParse, http.StatusUnprocessableEntity},
		{ErrorTypeDataStore, http.StatusInternalServerError},
		{ErrorTypeInternal, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		err := New(tc.errorType, "test message")
		assert.Equal(t, tc.statusCode, err.StatusCode)
	}
}

func TestPredefinedConstructors(t *testing.T) {
	assert.Equal(t, ErrorTypeTransient, NewTransientError("retry me").Type)

	notFound := NewNotFoundError("revision")
	assert.Equal(t, ErrorTypeNotFound, notFound.Type)
	assert.Equal(t, "revision not found", notFound.Message)

	invalid := NewInvalidArgumentError("min must be <= max")
	assert.Equal(t, ErrorTypeInvalidArgument, invalid.Type)

	timeout := NewTimeoutError("rollback operation")
	assert.Equal(t, "operation timed out: rollback operation", timeout.Message)

	parseErr := NewParseError("unexpected token")
	assert.Equal(t, ErrorTypeParse, parseErr.Type)

	cause := errors.New("connection lost")
	dsErr := NewDataStoreError("write incident", cause)
	assert.Equal(t, ErrorTypeDataStore, dsErr.Type)
	assert.Contains(t, dsErr.Message, "write incident")
	assert.Equal(t, cause, dsErr.Cause)
}

func TestIsTypeAndGetType(t *testing.T) {
	validationErr := NewInvalidArgumentError("test")
	notFoundErr := NewNotFoundError("test")

	assert.True(t, IsType(validationErr, ErrorTypeInvalidArgument))
	assert.False(t, IsType(validationErr, ErrorTypeNotFound))
	assert.True(t, IsType(notFoundErr, ErrorTypeNotFound))

	regularErr := errors.New("regular error")
	assert.False(t, IsType(regularErr, ErrorTypeInvalidArgument))
	assert.Equal(t, ErrorTypeInternal, GetType(regularErr))
}

func TestGetStatusCode(t *testing.T) {
	validationErr := NewInvalidArgumentError("test")
	regularErr := errors.New("regular error")

	assert.Equal(t, http.StatusBadRequest, GetStatusCode(validationErr))
	assert.Equal(t, http.StatusInternalServerError, GetStatusCode(regularErr))
}

func TestSafeErrorMessage(t *testing.T) {
	cases := []struct {
		errorType    ErrorType
		expectedSafe string
	}{
		{ErrorTypeNotFound, "the requested resource was not found"},
		{ErrorTypeTimeout, "the operation timed out"},
		{ErrorTypeDataStore, "an internal error occurred"},
	}

	for _, tc := range cases {
		err := New(tc.errorType, "internal details")
		assert.Equal(t, tc.expectedSafe, SafeErrorMessage(err))
	}

	invalid := NewInvalidArgumentError("specific validation message")
	assert.Equal(t, "specific validation message", SafeErrorMessage(invalid))

	regularErr := errors.New("internal panic")
	assert.Equal(t, "an unexpected error occurred", SafeErrorMessage(regularErr))
}

func TestLogFields(t *testing.T) {
	originalErr := errors.New("connection failed")
	appErr := Wrapf(originalErr, ErrorTypeDataStore, "query failed").WithDetails("table: incidents")

	fields := LogFields(appErr)

	assert.Contains(t, fields, "error")
	assert.Contains(t, fields, "error_type")
	assert.Contains(t, fields, "status_code")
	assert.Contains(t, fields, "error_details")
	assert.Contains(t, fields, "underlying_error")

	assert.Equal(t, "data_store_error", fields["error_type"])
	assert.Equal(t, http.StatusInternalServerError, fields["status_code"])
	assert.Equal(t, "table: incidents", fields["error_details"])
	assert.Equal(t, "connection failed", fields["underlying_error"])
}

func TestLogFieldsSimpleError(t *testing.T) {
	err := NewInvalidArgumentError("invalid input")
	fields := LogFields(err)

	assert.Contains(t, fields, "error")
	assert.Contains(t, fields, "error_type")
	assert.NotContains(t, fields, "error_details")
	assert.NotContains(t, fields, "underlying_error")
}

func TestLogFieldsRegularError(t *testing.T) {
	err := errors.New("regular error")
	fields := LogFields(err)

	assert.Contains(t, fields, "error")
	assert.NotContains(t, fields, "error_type")
}

func TestChain(t *testing.T) {
	assert.Nil(t, Chain())
	assert.Nil(t, Chain(nil, nil))

	single := errors.New("single error")
	assert.Equal(t, single, Chain(single))

	err1 := errors.New("error 1")
	err2 := errors.New("error 2")
	chained := Chain(err1, nil, err2, nil)
	assert.Error(t, chained)
	assert.Contains(t, chained.Error(), "error 1")
	assert.Contains(t, chained.Error(), "error 2")
	assert.Contains(t, chained.Error(), " -> ")
}
