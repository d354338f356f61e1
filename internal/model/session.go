package model

import (
	"time"
)

// Session is the authoritative state of one conversation, owned by a single
// store entry while the server is alive. The Redis copy is a best-effort
// mirror used only for crash recovery.
type Session struct {
	ID             string          `json:"sessionId"`
	ConversationID string          `json:"conversationId"`
	UserID         string          `json:"userId"`
	Messages       []Message       `json:"messages"`
	Context        map[string]any  `json:"context"`
	Metadata       SessionMetadata `json:"metadata"`
}

type SessionMetadata struct {
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ExpiresAt      time.Time `json:"expiresAt"`
	TTLMillis      int64     `json:"ttlMillis"`
}

// Expired reports whether the session is dead at the given instant.
// A session is dead the moment now reaches expiresAt.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.Metadata.ExpiresAt)
}

type CreateSessionParams struct {
	ConversationID string
	UserID         string
	TTL            time.Duration
}

// UpdateAction selects what an update call mutates.
type UpdateAction string

const (
	ActionAddMessages   UpdateAction = "addMessages"
	ActionUpdateContext UpdateAction = "updateContext"
)

func (a UpdateAction) Valid() bool {
	return a == ActionAddMessages || a == ActionUpdateContext
}
