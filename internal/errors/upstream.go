package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UpstreamError represents a failure returned by the AI provider or the
// transport underneath it. StatusCode is the HTTP status when the provider
// answered; Code is a network error identifier (ECONNRESET etc.) when it
// did not.
type UpstreamError struct {
	StatusCode int
	Code       string
	Message    string
	cause      error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("upstream error (status %d): %s", e.StatusCode, e.Message)
	case e.Code != "":
		return fmt.Sprintf("upstream error (%s): %s", e.Code, e.Message)
	default:
		return fmt.Sprintf("upstream error: %s", e.Message)
	}
}

func (e *UpstreamError) Unwrap() error { return e.cause }

// NewUpstreamError creates an error for a provider HTTP response.
func NewUpstreamError(statusCode int, message string) *UpstreamError {
	return &UpstreamError{StatusCode: statusCode, Message: message}
}

// NewNetworkError creates an error for a transport-level failure.
func NewNetworkError(code string, cause error) *UpstreamError {
	msg := code
	if cause != nil {
		msg = cause.Error()
	}
	return &UpstreamError{Code: code, Message: msg, cause: cause}
}

// Transient status codes and network error codes. Anything outside these
// sets is terminal and propagates on first failure.
var retryableStatusCodes = map[int]bool{
	408: true,
	429: true,
	500: true,
	502: true,
	503: true,
	504: true,
}

var retryableNetworkCodes = map[string]bool{
	"ECONNRESET":   true,
	"ECONNREFUSED": true,
	"ETIMEDOUT":    true,
	"EHOSTUNREACH": true,
	"ENETUNREACH":  true,
}

// IsRetryable reports whether the error is likely transient and worth
// retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var upErr *UpstreamError
	if errors.As(err, &upErr) {
		if retryableStatusCodes[upErr.StatusCode] {
			return true
		}
		if retryableNetworkCodes[upErr.Code] {
			return true
		}
	}

	// A caller-side deadline is treated like any other timeout.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "timed out") {
		return true
	}
	if strings.Contains(msg, "connection reset") {
		return true
	}
	if strings.Contains(msg, "network") && strings.Contains(msg, "error") {
		return true
	}

	return false
}
