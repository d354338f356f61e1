package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeSessionNotFound, "Session not found")
		assert.Equal(t, "SESSION_NOT_FOUND: Session not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("database connection failed")
		err := Wrap(ErrCodeDatabase, "Database error", cause)
		assert.Contains(t, err.Error(), "DATABASE_ERROR")
		assert.Contains(t, err.Error(), "database connection failed")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := []string{"blocked_pattern:script_tag"}
		err := New(ErrCodeUnsafeContent, "rejected").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"InvalidInput", func() *AppError { return InvalidInput("role", "invalid") }, ErrCodeInvalidInput},
		{"MissingRequired", func() *AppError { return MissingRequired("message") }, ErrCodeMissingRequired},
		{"UnsafeContent", func() *AppError { return UnsafeContent([]string{"too_long"}) }, ErrCodeUnsafeContent},
		{"Unauthorized", func() *AppError { return Unauthorized("test") }, ErrCodeUnauthorized},
		{"SessionNotFound", func() *AppError { return SessionNotFound() }, ErrCodeSessionNotFound},
		{"SessionExpired", func() *AppError { return SessionExpired() }, ErrCodeSessionExpired},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded(30) }, ErrCodeRateLimitExceeded},
		{"CircuitOpen", func() *AppError { return CircuitOpen() }, ErrCodeCircuitOpen},
		{"UpstreamExhausted", func() *AppError { return UpstreamExhausted(3, nil) }, ErrCodeUpstreamExhausted},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
		{"Database", func() *AppError { return Database(nil) }, ErrCodeDatabase},
		{"StorageUnavailable", func() *AppError { return StorageUnavailable(nil) }, ErrCodeStorage},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestRateLimitExceededMessage(t *testing.T) {
	err := RateLimitExceeded(42)
	assert.Contains(t, err.Message, "42 seconds")
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		err := New(ErrCodeSessionExpired, "test")
		assert.Equal(t, ErrCodeSessionExpired, GetCode(err))
	})

	t.Run("returns code for wrapped AppError", func(t *testing.T) {
		err := fmt.Errorf("handler: %w", SessionExpired())
		assert.Equal(t, ErrCodeSessionExpired, GetCode(err))
	})

	t.Run("returns ErrCodeInternal for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.Equal(t, ErrCodeInternal, GetCode(err))
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := SessionNotFound()
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		extracted, ok := AsAppError(errors.New("standard error"))
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestUpstreamErrorFormat(t *testing.T) {
	t.Run("status errors include the status", func(t *testing.T) {
		err := NewUpstreamError(503, "Service Unavailable")
		assert.Equal(t, "upstream error (status 503): Service Unavailable", err.Error())
	})

	t.Run("network errors include the code", func(t *testing.T) {
		cause := errors.New("read tcp: connection reset by peer")
		err := NewNetworkError("ECONNRESET", cause)
		assert.Contains(t, err.Error(), "ECONNRESET")
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"status 408", NewUpstreamError(408, "Request Timeout"), true},
		{"status 429", NewUpstreamError(429, "Too Many Requests"), true},
		{"status 500", NewUpstreamError(500, "Internal Server Error"), true},
		{"status 502", NewUpstreamError(502, "Bad Gateway"), true},
		{"status 503", NewUpstreamError(503, "Service Unavailable"), true},
		{"status 504", NewUpstreamError(504, "Gateway Timeout"), true},
		{"status 400", NewUpstreamError(400, "Bad Request"), false},
		{"status 401", NewUpstreamError(401, "Unauthorized"), false},
		{"status 403", NewUpstreamError(403, "Forbidden"), false},
		{"status 404", NewUpstreamError(404, "Not Found"), false},
		{"ECONNRESET", NewNetworkError("ECONNRESET", nil), true},
		{"ECONNREFUSED", NewNetworkError("ECONNREFUSED", nil), true},
		{"ETIMEDOUT", NewNetworkError("ETIMEDOUT", nil), true},
		{"EHOSTUNREACH", NewNetworkError("EHOSTUNREACH", nil), true},
		{"ENETUNREACH", NewNetworkError("ENETUNREACH", nil), true},
		{"unknown network code", NewNetworkError("EUNKNOWN", nil), false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"wrapped deadline", fmt.Errorf("invoke: %w", context.DeadlineExceeded), true},
		{"timeout in message", errors.New("dial tcp: i/o timeout"), true},
		{"timed out in message", errors.New("request timed out"), true},
		{"connection reset in message", errors.New("connection reset by peer"), true},
		{"network error in message", errors.New("temporary network error"), true},
		{"plain error", errors.New("invalid payload"), false},
		{"context canceled", context.Canceled, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
		})
	}
}
