package retry

import (
	"fmt"
	"time"
)

// CircuitOpenError is returned without attempting the operation while the
// breaker is open. Callers can distinguish it from a genuine upstream
// failure.
type CircuitOpenError struct {
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open until %s", e.RetryAt.Format(time.RFC3339))
}

// ExhaustedError aggregates a run of retryable failures once the retry
// budget is spent.
type ExhaustedError struct {
	Attempts int
	Retries  int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts (%d retries): %v", e.Attempts, e.Retries, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }
