// Package retry executes upstream calls with exponential backoff, jitter
// and a circuit breaker that suspends calls after sustained failure.
package retry

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	apperrors "github.com/openclaw/ai-gateway-go/internal/errors"
)

// Config holds backoff and breaker tuning.
type Config struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxRetries   int // total attempt budget, including the first call
	JitterFactor float64
	OpenDuration time.Duration // breaker cool-down after a trip
}

// DefaultConfig returns the reference tiers.
func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Second,
		MaxDelay:     32 * time.Second,
		Multiplier:   2,
		MaxRetries:   3,
		JitterFactor: 0.10,
		OpenDuration: 60 * time.Second,
	}
}

// State is the circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Metrics is a point-in-time snapshot of a gateway's counters.
type Metrics struct {
	Attempts  uint64 `json:"attempts"`
	Successes uint64 `json:"successes"`
	Failures  uint64 `json:"failures"`
	Retries   uint64 `json:"retries"`
	Trips     uint64 `json:"trips"`
}

// OnRetry is invoked before each backoff wait with the failed attempt's
// error, the 1-indexed attempt number, and when the next attempt fires.
type OnRetry func(err error, attempt int, nextAttemptAt time.Time)

// Gateway wraps upstream calls with bounded retries and a per-gateway
// circuit breaker. Each instance owns its own breaker and counters so
// multiple gateways can coexist in one process.
type Gateway struct {
	cfg       Config
	retryable func(error) bool

	mu          sync.Mutex
	state       State
	openedUntil time.Time
	probing     bool
	metrics     Metrics

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	randf func() float64
}

func New(cfg Config) *Gateway {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	return &Gateway{
		cfg:       cfg,
		retryable: apperrors.IsRetryable,
		state:     StateClosed,
		now:       time.Now,
		sleep:     sleepContext,
		randf:     rand.Float64,
	}
}

// State returns the current breaker state without mutating it.
func (g *Gateway) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Snapshot returns the counters without mutating them.
func (g *Gateway) Snapshot() Metrics {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.metrics
}

// ResetMetrics zeroes the counters. Breaker state is untouched.
func (g *Gateway) ResetMetrics() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics = Metrics{}
}

// admit decides whether a call may proceed. In half-open, exactly one probe
// is allowed through before the breaker is reclassified.
func (g *Gateway) admit() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	switch g.state {
	case StateOpen:
		if now.Before(g.openedUntil) {
			return &CircuitOpenError{RetryAt: g.openedUntil}
		}
		g.state = StateHalfOpen
		g.probing = true
		return nil
	case StateHalfOpen:
		if g.probing {
			return &CircuitOpenError{RetryAt: g.openedUntil}
		}
		g.probing = true
		return nil
	default:
		return nil
	}
}

func (g *Gateway) recordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics.Successes++
	if g.state == StateHalfOpen {
		g.state = StateClosed
		g.probing = false
	}
}

// recordFailure notes a failed attempt. If the breaker was half-open and
// the failure is retryable, the probe failed and the breaker reopens.
// Returns true when the breaker reopened (the caller must stop retrying).
func (g *Gateway) recordFailure(retryableErr bool) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.metrics.Failures++
	if g.state != StateHalfOpen {
		return false
	}
	if !retryableErr {
		// Terminal errors do not reclassify the breaker; release the
		// probe slot for the next caller.
		g.probing = false
		return false
	}
	g.trip()
	return true
}

func (g *Gateway) tripOpen() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.trip()
}

// trip must be called with g.mu held.
func (g *Gateway) trip() {
	g.state = StateOpen
	g.openedUntil = g.now().Add(g.cfg.OpenDuration)
	g.probing = false
	g.metrics.Trips++
}

// delayFor computes the pre-jitter delay for the 1-indexed attempt and
// applies symmetric jitter, clamped to zero and rounded to a whole
// millisecond.
func (g *Gateway) delayFor(attempt int) time.Duration {
	base := float64(g.cfg.InitialDelay) * math.Pow(g.cfg.Multiplier, float64(attempt-1))
	if base > float64(g.cfg.MaxDelay) {
		base = float64(g.cfg.MaxDelay)
	}
	jitter := (g.randf()*2 - 1) * g.cfg.JitterFactor * base
	delay := base + jitter
	if delay < 0 {
		delay = 0
	}
	ms := math.Round(delay / float64(time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}

// Execute runs op with bounded retries under g's breaker. Non-retryable
// errors propagate unchanged on first failure. Exhaustion trips the breaker
// and returns an ExhaustedError.
func Execute[T any](ctx context.Context, g *Gateway, op func(context.Context) (T, error), onRetry OnRetry) (T, error) {
	var zero T

	if err := g.admit(); err != nil {
		return zero, err
	}

	var lastErr error
	for attempt := 1; attempt <= g.cfg.MaxRetries; attempt++ {
		g.mu.Lock()
		g.metrics.Attempts++
		g.mu.Unlock()

		result, err := op(ctx)
		if err == nil {
			g.recordSuccess()
			return result, nil
		}
		lastErr = err

		retryable := g.retryable(err)
		if g.recordFailure(retryable) {
			// Half-open probe failed; breaker reopened.
			return zero, err
		}
		if !retryable {
			return zero, err
		}
		if attempt == g.cfg.MaxRetries {
			break
		}

		delay := g.delayFor(attempt)
		if onRetry != nil {
			onRetry(err, attempt, g.now().Add(delay))
		}
		g.mu.Lock()
		g.metrics.Retries++
		g.mu.Unlock()
		if err := g.sleep(ctx, delay); err != nil {
			// Caller abandoned the request mid-backoff; the breaker is
			// left as-is.
			return zero, err
		}
	}

	g.tripOpen()
	return zero, &ExhaustedError{
		Attempts: g.cfg.MaxRetries,
		Retries:  g.cfg.MaxRetries - 1,
		Last:     lastErr,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
