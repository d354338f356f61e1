// Package session owns the authoritative state of active conversations.
//
// Each session has exactly one owner entry; all operations on the same
// session id are serialized by a per-entry lock while different sessions
// proceed concurrently. The Redis mirror is an eventually-consistent copy
// used only for crash recovery.
//
// TTL is fixed at creation: activity refreshes lastActivityAt but never
// extends expiresAt. Product has not confirmed whether sliding expiration
// was intended; do not change this without that confirmation.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/ai-gateway-go/internal/errors"
	"github.com/openclaw/ai-gateway-go/internal/metrics"
	"github.com/openclaw/ai-gateway-go/internal/model"
	"github.com/openclaw/ai-gateway-go/internal/repository"
)

const DefaultTTL = 30 * time.Minute

type entry struct {
	mu      sync.Mutex
	session *model.Session
}

// Store is the keyed registry of session owners.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	mirror  repository.MirrorStore
	backups *backupQueue
	metrics *metrics.Metrics

	defaultTTL time.Duration
	now        func() time.Time
}

// NewStore creates a store mirroring to the given backing store. metrics
// may be nil.
func NewStore(mirror repository.MirrorStore, defaultTTL time.Duration, m *metrics.Metrics) *Store {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	s := &Store{
		entries:    make(map[string]*entry),
		mirror:     mirror,
		metrics:    m,
		defaultTTL: defaultTTL,
		now:        time.Now,
	}
	s.backups = newBackupQueue(s, defaultBackupQueueSize)
	return s
}

// Load restores mirrored sessions. Must complete before the store accepts
// requests. Snapshots that are already dead are not restored.
func (s *Store) Load(ctx context.Context) error {
	sessions, err := s.mirror.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load session mirror: %w", err)
	}

	now := s.now()
	restored := 0
	for _, sess := range sessions {
		if sess.ID == "" || sess.Expired(now) {
			continue
		}
		s.mu.Lock()
		s.entries[sess.ID] = &entry{session: sess}
		s.mu.Unlock()
		restored++
	}

	log.Info().Int("restored", restored).Msg("session mirror loaded")
	s.metrics.SetActiveSessions(s.Count())
	return nil
}

// Create registers a new session. The in-memory session always comes into
// existence; the error is non-nil only when the mirror write could not even
// be scheduled, and the caller may ignore it for the read path.
func (s *Store) Create(params model.CreateSessionParams) (*model.Session, error) {
	ttl := params.TTL
	if ttl <= 0 {
		ttl = s.defaultTTL
	}

	now := s.now()
	sess := &model.Session{
		ID:             fmt.Sprintf("%s-%d", params.ConversationID, now.UnixMilli()),
		ConversationID: params.ConversationID,
		UserID:         params.UserID,
		Messages:       make([]model.Message, 0, 8),
		Context:        make(map[string]any),
		Metadata: model.SessionMetadata{
			CreatedAt:      now,
			LastActivityAt: now,
			ExpiresAt:      now.Add(ttl),
			TTLMillis:      ttl.Milliseconds(),
		},
	}

	s.mu.Lock()
	s.entries[sess.ID] = &entry{session: sess}
	count := len(s.entries)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(count)

	log.Info().
		Str("sessionId", sess.ID).
		Str("conversationId", params.ConversationID).
		Str("userId", params.UserID).
		Time("expiresAt", sess.Metadata.ExpiresAt).
		Msg("session created")

	if !s.backups.enqueue(sess.ID) {
		return cloneSession(sess), apperrors.StorageUnavailable(fmt.Errorf("backup queue closed"))
	}
	return cloneSession(sess), nil
}

// Get returns a copy of the session. A session past its expiry is evicted
// and reported as expired; an unknown id is not found.
func (s *Store) Get(sessionID string) (*model.Session, error) {
	e := s.lookup(sessionID)
	if e == nil {
		return nil, apperrors.SessionNotFound()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, apperrors.SessionNotFound()
	}
	if e.session.Expired(s.now()) {
		s.evict(e)
		return nil, apperrors.SessionExpired()
	}
	return cloneSession(e.session), nil
}

// Append applies one update action under the session's lock. Message order
// is the serialization order observed here, batches never interleave.
// lastActivityAt refreshes; expiresAt stays fixed.
func (s *Store) Append(sessionID string, action model.UpdateAction, messages []model.Message, contextPatch map[string]any) (*model.Session, error) {
	e := s.lookup(sessionID)
	if e == nil {
		return nil, apperrors.SessionNotFound()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, apperrors.SessionNotFound()
	}

	now := s.now()
	if e.session.Expired(now) {
		s.evict(e)
		return nil, apperrors.SessionExpired()
	}

	switch action {
	case model.ActionAddMessages:
		for _, msg := range messages {
			if msg.ID == "" {
				msg.ID = uuid.NewString()
			}
			if msg.Timestamp.IsZero() {
				msg.Timestamp = now
			}
			e.session.Messages = append(e.session.Messages, msg)
		}
	case model.ActionUpdateContext:
		for k, v := range contextPatch {
			e.session.Context[k] = v
		}
	default:
		return nil, apperrors.InvalidInput("action", string(action))
	}

	e.session.Metadata.LastActivityAt = now

	s.backups.enqueue(sessionID)
	return cloneSession(e.session), nil
}

// Backup schedules an asynchronous mirror write for the session.
func (s *Store) Backup(sessionID string) {
	s.backups.enqueue(sessionID)
}

// Sweep evicts every session whose expiry has passed and removes its
// mirror entry. Runs on a timer, not on the request path.
func (s *Store) Sweep(now time.Time) []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.entries))
	for id := range s.entries {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var evicted []string
	for _, id := range ids {
		e := s.lookup(id)
		if e == nil {
			continue
		}
		e.mu.Lock()
		if e.session != nil && e.session.Expired(now) {
			s.evict(e)
			evicted = append(evicted, id)
		}
		e.mu.Unlock()
	}

	if len(evicted) > 0 {
		log.Info().Int("count", len(evicted)).Msg("expired sessions evicted")
	}
	return evicted
}

// Count returns the number of live entries.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close stops the backup worker, flushing what is already queued.
func (s *Store) Close() {
	s.backups.close()
}

func (s *Store) lookup(sessionID string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[sessionID]
}

// evict must be called with e.mu held.
func (s *Store) evict(e *entry) {
	if e.session == nil {
		return
	}
	id := e.session.ID
	e.session = nil

	s.mu.Lock()
	delete(s.entries, id)
	count := len(s.entries)
	s.mu.Unlock()
	s.metrics.SetActiveSessions(count)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.mirror.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Str("sessionId", id).Msg("failed to delete session mirror entry")
		}
	}()

	log.Debug().Str("sessionId", id).Msg("session evicted")
}

// snapshot returns a copy for the backup worker, or nil if the session is
// gone.
func (s *Store) snapshot(sessionID string) *model.Session {
	e := s.lookup(sessionID)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	return cloneSession(e.session)
}

func cloneSession(src *model.Session) *model.Session {
	dst := *src
	dst.Messages = make([]model.Message, len(src.Messages))
	copy(dst.Messages, src.Messages)
	dst.Context = make(map[string]any, len(src.Context))
	for k, v := range src.Context {
		dst.Context[k] = v
	}
	return &dst
}
