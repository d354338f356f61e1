package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/ai-gateway-go/internal/model"
)

const dayMillis = 86_400_000

// TierLimits caps one subscription tier: a rolling short window and a
// calendar-day quota, enforced simultaneously.
type TierLimits struct {
	Requests   int
	Window     time.Duration
	DailyLimit int
}

// DefaultTiers is the shipped tier table.
func DefaultTiers() map[model.Tier]TierLimits {
	return map[model.Tier]TierLimits{
		model.TierFree:     {Requests: 10, Window: time.Minute, DailyLimit: 100},
		model.TierPro:      {Requests: 50, Window: time.Minute, DailyLimit: 2000},
		model.TierUltimate: {Requests: 200, Window: time.Minute, DailyLimit: 10000},
		model.TierElite:    {Requests: 500, Window: time.Minute, DailyLimit: 50000},
	}
}

// Result is the admission decision plus the metadata exposed to callers
// through the X-RateLimit-* headers.
type Result struct {
	Allowed   bool   `json:"allowed"`
	Limit     int    `json:"limit"`
	Current   int    `json:"current"`
	Remaining int    `json:"remaining"`
	ResetTime int64  `json:"resetTime"` // epoch millis of the next freed slot
	Exceeded  string `json:"exceeded,omitempty"`
}

// UserKey builds the limiter identifier for an authenticated user.
func UserKey(userID string) string {
	return fmt.Sprintf("user_%s", userID)
}

// IPKey builds the limiter identifier for an anonymous caller.
func IPKey(addr string) string {
	return fmt.Sprintf("ip_%s", addr)
}

type dayBucket struct {
	count   int
	resetAt time.Time
}

// identifierState holds one identifier's window entries and day buckets.
// Each state carries its own lock so unrelated identifiers never contend.
type identifierState struct {
	mu         sync.Mutex
	timestamps []time.Time
	daily      map[int64]*dayBucket
	lastAccess time.Time
}

// Limiter admits or rejects requests per identifier under two simultaneous
// caps. All state is in-process; decisions never touch the network.
type Limiter struct {
	mu     sync.RWMutex
	states map[string]*identifierState
	tiers  map[model.Tier]TierLimits
	now    func() time.Time
}

func NewLimiter() *Limiter {
	return &Limiter{
		states: make(map[string]*identifierState),
		tiers:  DefaultTiers(),
		now:    time.Now,
	}
}

func (l *Limiter) state(identifier string) *identifierState {
	l.mu.RLock()
	st, ok := l.states[identifier]
	l.mu.RUnlock()
	if ok {
		return st
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok = l.states[identifier]; ok {
		return st
	}
	st = &identifierState{daily: make(map[int64]*dayBucket)}
	l.states[identifier] = st
	return st
}

// Check decides whether one request from identifier is admitted under tier.
// A rejected request consumes nothing. An unknown tier fails open: quota
// enforcement is never allowed to take the chat feature down with it.
func (l *Limiter) Check(identifier string, tier model.Tier, forceAllow bool) Result {
	now := l.now()

	limits, ok := l.tiers[tier]
	if !ok {
		log.Warn().
			Str("identifier", identifier).
			Str("tier", string(tier)).
			Msg("unknown tier, failing open")
		nominal := l.tiers[model.TierFree]
		return Result{
			Allowed:   true,
			Limit:     nominal.Requests,
			Current:   0,
			Remaining: nominal.Requests,
			ResetTime: now.Add(nominal.Window).UnixMilli(),
		}
	}

	if forceAllow {
		return Result{
			Allowed:   true,
			Limit:     limits.Requests,
			Current:   0,
			Remaining: limits.Requests,
			ResetTime: now.Add(limits.Window).UnixMilli(),
		}
	}

	st := l.state(identifier)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.lastAccess = now

	windowStart := now.Add(-limits.Window)
	filtered := st.timestamps[:0]
	for _, ts := range st.timestamps {
		if ts.After(windowStart) {
			filtered = append(filtered, ts)
		}
	}
	st.timestamps = filtered

	bucketID := now.UnixMilli() / dayMillis
	bucket := st.daily[bucketID]
	dailyCount := 0
	if bucket != nil {
		dailyCount = bucket.count
	}

	windowExceeded := len(st.timestamps) >= limits.Requests
	dailyExceeded := dailyCount >= limits.DailyLimit
	allowed := !windowExceeded && !dailyExceeded

	if allowed {
		st.timestamps = append(st.timestamps, now)
		if bucket == nil {
			bucket = &dayBucket{resetAt: time.UnixMilli((bucketID + 1) * dayMillis)}
			st.daily[bucketID] = bucket
		}
		bucket.count++
	}

	var resetTime int64
	if len(st.timestamps) > 0 {
		resetTime = st.timestamps[0].Add(limits.Window).UnixMilli()
	} else {
		resetTime = now.Add(limits.Window).UnixMilli()
	}

	current := len(st.timestamps)
	remaining := limits.Requests - current
	if remaining < 0 {
		remaining = 0
	}

	exceeded := ""
	if windowExceeded {
		exceeded = "window"
	} else if dailyExceeded {
		exceeded = "daily"
	}

	return Result{
		Allowed:   allowed,
		Limit:     limits.Requests,
		Current:   current,
		Remaining: remaining,
		ResetTime: resetTime,
		Exceeded:  exceeded,
	}
}

// Reset clears both the window and every day bucket for the identifier.
// Administrative override only, never called on the request path.
func (l *Limiter) Reset(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.states, identifier)
}

// Sweep drops identifiers whose window is fully stale and day buckets whose
// reset time has passed. Returns the number of identifiers removed.
func (l *Limiter) Sweep(now time.Time) int {
	maxWindow := time.Duration(0)
	for _, limits := range l.tiers {
		if limits.Window > maxWindow {
			maxWindow = limits.Window
		}
	}
	cutoff := now.Add(-maxWindow)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for identifier, st := range l.states {
		st.mu.Lock()
		for bucketID, bucket := range st.daily {
			if !now.Before(bucket.resetAt) {
				delete(st.daily, bucketID)
			}
		}
		stale := st.lastAccess.Before(cutoff) || st.lastAccess.Equal(cutoff)
		empty := len(st.daily) == 0
		st.mu.Unlock()

		if stale && empty {
			delete(l.states, identifier)
			removed++
		}
	}
	return removed
}
