package jobs

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/ai-gateway-go/internal/audit"
	"github.com/openclaw/ai-gateway-go/internal/ratelimit"
	"github.com/openclaw/ai-gateway-go/internal/session"
)

// CleanupJob periodically sweeps expired sessions and stale rate limiter
// state off the request hot path.
type CleanupJob struct {
	sessions *session.Store
	limiter  *ratelimit.Limiter
	interval time.Duration
	done     chan struct{}
}

func NewCleanupJob(sessions *session.Store, limiter *ratelimit.Limiter, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		sessions: sessions,
		limiter:  limiter,
		interval: interval,
		done:     make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

func (j *CleanupJob) Stop() {
	close(j.done)
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	now := time.Now()

	evicted := j.sessions.Sweep(now)
	for _, id := range evicted {
		audit.Log(audit.Event{
			Type:      audit.EventSessionExpire,
			SessionID: id,
		})
	}
	if len(evicted) > 0 {
		log.Info().Int("count", len(evicted)).Msg("cleaned up sessions")
	}

	removed := j.limiter.Sweep(now)
	if removed > 0 {
		log.Info().Int("count", removed).Msg("cleaned up rate limiter identifiers")
	}
}
