package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/ai-gateway-go/internal/audit"
	apperrors "github.com/openclaw/ai-gateway-go/internal/errors"
	"github.com/openclaw/ai-gateway-go/internal/metrics"
	"github.com/openclaw/ai-gateway-go/internal/model"
	"github.com/openclaw/ai-gateway-go/internal/ratelimit"
	"github.com/openclaw/ai-gateway-go/internal/repository"
	"github.com/openclaw/ai-gateway-go/internal/retry"
	"github.com/openclaw/ai-gateway-go/internal/sanitize"
	"github.com/openclaw/ai-gateway-go/internal/session"
	"github.com/openclaw/ai-gateway-go/internal/upstream"
)

const tierLookupTimeout = 2 * time.Second

// ChatRequest is one inbound chat message.
type ChatRequest struct {
	ConversationID string         `json:"conversationId"`
	UserID         string         `json:"userId"`
	SessionID      string         `json:"sessionId,omitempty"`
	Message        string         `json:"message"`
	Context        map[string]any `json:"context,omitempty"`

	// RemoteAddr keys anonymous callers; never serialized.
	RemoteAddr string `json:"-"`
}

// ChatResult is the successful pipeline outcome.
type ChatResult struct {
	SessionID string         `json:"sessionId"`
	Reply     model.Message  `json:"reply"`
	Session   *model.Session `json:"session"`
}

// ChatService runs the resilience pipeline for each inbound message:
// sanitize, admit, load session, call the provider through the retry
// gateway, persist the exchange.
type ChatService struct {
	sanitizer sanitize.Sanitizer
	limiter   *ratelimit.Limiter
	tiers     repository.TierRepository
	sessions  *session.Store
	gateway   *retry.Gateway
	provider  upstream.Provider
	modelName string
	metrics   *metrics.Metrics
}

func NewChatService(
	sanitizer sanitize.Sanitizer,
	limiter *ratelimit.Limiter,
	tiers repository.TierRepository,
	sessions *session.Store,
	gateway *retry.Gateway,
	provider upstream.Provider,
	modelName string,
	m *metrics.Metrics,
) *ChatService {
	return &ChatService{
		sanitizer: sanitizer,
		limiter:   limiter,
		tiers:     tiers,
		sessions:  sessions,
		gateway:   gateway,
		provider:  provider,
		modelName: modelName,
		metrics:   m,
	}
}

// Handle processes one chat message. The rate limit result is returned
// even on rejection so the transport can emit the X-RateLimit-* headers.
func (s *ChatService) Handle(ctx context.Context, req ChatRequest) (*ChatResult, ratelimit.Result, error) {
	// Sanitize first; unsafe or failing sanitation rejects the message.
	verdict, err := s.sanitizer.Sanitize(ctx, req.Message)
	if err != nil {
		log.Error().Err(err).Msg("sanitizer failure, rejecting message")
		s.metrics.RecordRequest("rejected")
		return nil, ratelimit.Result{}, apperrors.UnsafeContent([]string{"sanitizer_error"})
	}
	if !verdict.IsSafe {
		audit.Log(audit.Event{
			Type:   audit.EventUnsafeContent,
			UserID: req.UserID,
			IP:     req.RemoteAddr,
			Details: map[string]interface{}{
				"violations": verdict.Violations,
			},
		})
		s.metrics.RecordRequest("rejected")
		return nil, ratelimit.Result{}, apperrors.UnsafeContent(verdict.Violations)
	}

	identifier, tier := s.resolveTier(ctx, req)

	limit := s.limiter.Check(identifier, tier, false)
	if !limit.Allowed {
		retryAfter := int(time.Until(time.UnixMilli(limit.ResetTime)).Seconds()) + 1
		if retryAfter < 1 {
			retryAfter = 1
		}
		audit.Log(audit.Event{
			Type:       audit.EventRateLimitExceed,
			UserID:     req.UserID,
			Identifier: identifier,
			Details: map[string]interface{}{
				"tier":     string(tier),
				"exceeded": limit.Exceeded,
			},
		})
		s.metrics.RecordRateLimited(string(tier))
		s.metrics.RecordRequest("rate_limited")
		return nil, limit, apperrors.RateLimitExceeded(retryAfter)
	}

	sess, err := s.loadSession(req, verdict.Sanitized)
	if err != nil {
		s.metrics.RecordRequest("rejected")
		return nil, limit, err
	}

	reply, err := s.invoke(ctx, sess)
	if err != nil {
		s.metrics.RecordRequest("upstream_failed")
		return nil, limit, err
	}

	updated, err := s.sessions.Append(sess.ID, model.ActionAddMessages, []model.Message{*reply}, nil)
	if err != nil {
		// The provider answered but the session died in between; the
		// reply is still worth returning.
		log.Warn().Err(err).Str("sessionId", sess.ID).Msg("failed to persist assistant reply")
		updated = sess
	}

	s.metrics.RecordRequest("ok")
	return &ChatResult{
		SessionID: updated.ID,
		Reply:     *reply,
		Session:   updated,
	}, limit, nil
}

// resolveTier looks up the caller's tier. Anonymous callers are free and
// keyed by IP; a failed lookup degrades to free rather than rejecting.
func (s *ChatService) resolveTier(ctx context.Context, req ChatRequest) (string, model.Tier) {
	if req.UserID == "" {
		return ratelimit.IPKey(req.RemoteAddr), model.TierFree
	}

	lookupCtx, cancel := context.WithTimeout(ctx, tierLookupTimeout)
	defer cancel()

	tier, err := s.tiers.GetTier(lookupCtx, req.UserID)
	if err != nil {
		log.Warn().Err(err).Str("userId", req.UserID).Msg("tier lookup failed, defaulting to free")
		tier = model.TierFree
	}
	return ratelimit.UserKey(req.UserID), tier
}

// loadSession appends the sanitized user message to an existing session or
// creates a fresh one for the conversation.
func (s *ChatService) loadSession(req ChatRequest, sanitized string) (*model.Session, error) {
	userMsg := model.Message{Role: model.RoleUser, Content: sanitized}

	if req.SessionID != "" {
		if len(req.Context) > 0 {
			if _, err := s.sessions.Append(req.SessionID, model.ActionUpdateContext, nil, req.Context); err != nil {
				return nil, err
			}
		}
		return s.sessions.Append(req.SessionID, model.ActionAddMessages, []model.Message{userMsg}, nil)
	}

	sess, err := s.sessions.Create(model.CreateSessionParams{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
	})
	if err != nil {
		// Durability failure is non-fatal to the read path.
		log.Warn().Err(err).Msg("session backup could not be scheduled")
	}
	audit.Log(audit.Event{
		Type:      audit.EventSessionCreate,
		UserID:    req.UserID,
		SessionID: sess.ID,
	})
	if len(req.Context) > 0 {
		if _, err := s.sessions.Append(sess.ID, model.ActionUpdateContext, nil, req.Context); err != nil {
			return nil, err
		}
	}
	return s.sessions.Append(sess.ID, model.ActionAddMessages, []model.Message{userMsg}, nil)
}

// invoke calls the provider through the retry gateway and maps terminal
// outcomes to client-facing errors.
func (s *ChatService) invoke(ctx context.Context, sess *model.Session) (*model.Message, error) {
	req := upstream.Request{
		Model:    s.modelName,
		Messages: sess.Messages,
		Context:  sess.Context,
	}

	onRetry := func(err error, attempt int, nextAt time.Time) {
		s.metrics.RecordRetry()
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Time("nextAttemptAt", nextAt).
			Str("sessionId", sess.ID).
			Msg("upstream attempt failed, retrying")
	}

	resp, err := retry.Execute(ctx, s.gateway, func(ctx context.Context) (*upstream.Response, error) {
		return s.provider.Invoke(ctx, req)
	}, onRetry)
	if err != nil {
		var openErr *retry.CircuitOpenError
		if errors.As(err, &openErr) {
			return nil, apperrors.CircuitOpen()
		}
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			s.metrics.RecordBreakerTrip()
			audit.Log(audit.Event{
				Type:      audit.EventBreakerTrip,
				SessionID: sess.ID,
				Details: map[string]interface{}{
					"attempts": exhausted.Attempts,
				},
			})
			return nil, apperrors.UpstreamExhausted(exhausted.Attempts, exhausted.Last)
		}
		return nil, apperrors.Wrap(apperrors.ErrCodeUpstream, "Upstream provider error", err)
	}

	return &model.Message{
		Role:    model.RoleAssistant,
		Content: resp.Content,
	}, nil
}

// RetryMetrics exposes the retry gateway counters for the admin surface.
func (s *ChatService) RetryMetrics() retry.Metrics {
	return s.gateway.Snapshot()
}

// ResetRetryMetrics zeroes the retry gateway counters.
func (s *ChatService) ResetRetryMetrics() {
	s.gateway.ResetMetrics()
}
