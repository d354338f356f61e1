package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/ai-gateway-go/internal/model"
	redisclient "github.com/openclaw/ai-gateway-go/internal/redis"
)

// MirrorStore is the durable backing copy for session state. It is
// write-only from the hot path and read once at startup; it is never
// authoritative while the in-memory owner is alive.
type MirrorStore interface {
	Save(ctx context.Context, session *model.Session) error
	Delete(ctx context.Context, sessionID string) error
	LoadAll(ctx context.Context) ([]*model.Session, error)
}

type redisMirror struct {
	client *redisclient.Client
}

func NewRedisMirror(client *redisclient.Client) MirrorStore {
	return &redisMirror{client: client}
}

func (m *redisMirror) Save(ctx context.Context, session *model.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(session.Metadata.ExpiresAt)
	if ttl <= 0 {
		// Already dead; nothing worth mirroring.
		return nil
	}

	key := redisclient.SessionKey(session.ID)
	if err := m.client.Set(ctx, key, data, ttl).Err(); err != nil {
		return fmt.Errorf("store session snapshot: %w", err)
	}
	return nil
}

func (m *redisMirror) Delete(ctx context.Context, sessionID string) error {
	return m.client.Del(ctx, redisclient.SessionKey(sessionID)).Err()
}

// LoadAll scans every mirrored snapshot. A snapshot that fails to parse is
// logged and skipped so one corrupt key cannot block recovery of the rest.
func (m *redisMirror) LoadAll(ctx context.Context) ([]*model.Session, error) {
	var sessions []*model.Session

	iter := m.client.Scan(ctx, 0, redisclient.SessionKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := m.client.Get(ctx, key).Result()
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("failed to read session snapshot, skipping")
			continue
		}

		var session model.Session
		if err := json.Unmarshal([]byte(data), &session); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("corrupt session snapshot, skipping")
			continue
		}
		sessions = append(sessions, &session)
	}
	if err := iter.Err(); err != nil {
		return sessions, fmt.Errorf("scan session snapshots: %w", err)
	}

	return sessions, nil
}
