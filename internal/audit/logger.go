package audit

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type EventType string

const (
	EventRateLimitExceed EventType = "rate_limit_exceeded"
	EventUnsafeContent   EventType = "unsafe_content"
	EventSessionCreate   EventType = "session_create"
	EventSessionExpire   EventType = "session_expire"
	EventBreakerTrip     EventType = "breaker_trip"
	EventLimiterReset    EventType = "limiter_reset"
	EventAuthFailure     EventType = "auth_failure"
)

type Event struct {
	Type       EventType
	UserID     string
	SessionID  string
	Identifier string
	IP         string
	Details    map[string]interface{}
}

func Log(event Event) {
	logger := log.With().
		Str("audit", "gateway").
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.UserID != "" {
		logger = logger.With().Str("user_id", event.UserID).Logger()
	}
	if event.SessionID != "" {
		logger = logger.With().Str("session_id", event.SessionID).Logger()
	}
	if event.Identifier != "" {
		logger = logger.With().Str("identifier", event.Identifier).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("gateway audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}
