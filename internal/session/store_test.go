package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/openclaw/ai-gateway-go/internal/errors"
	"github.com/openclaw/ai-gateway-go/internal/model"
)

// fakeMirror records writes in memory and can be primed with snapshots or
// a failure.
type fakeMirror struct {
	mu       sync.Mutex
	saved    map[string]*model.Session
	deleted  []string
	seed     []*model.Session
	saveErr  error
	loadErr  error
	saveDone chan string
}

func newFakeMirror() *fakeMirror {
	return &fakeMirror{
		saved:    make(map[string]*model.Session),
		saveDone: make(chan string, 64),
	}
}

func (m *fakeMirror) Save(ctx context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[session.ID] = session
	select {
	case m.saveDone <- session.ID:
	default:
	}
	return nil
}

func (m *fakeMirror) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleted = append(m.deleted, sessionID)
	return nil
}

func (m *fakeMirror) LoadAll(ctx context.Context) ([]*model.Session, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return m.seed, nil
}

func (m *fakeMirror) savedSession(id string) *model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saved[id]
}

func (m *fakeMirror) awaitSave(t *testing.T, id string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case saved := <-m.saveDone:
			if saved == id {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for mirror save of %s", id)
		}
	}
}

func newTestStore(t *testing.T, mirror *fakeMirror) (*Store, *time.Time) {
	t.Helper()
	now := time.UnixMilli(1_000_000)
	s := NewStore(mirror, 30*time.Minute, nil)
	s.now = func() time.Time { return now }
	t.Cleanup(s.Close)
	return s, &now
}

func TestStore_Create(t *testing.T) {
	mirror := newFakeMirror()
	s, now := newTestStore(t, mirror)

	sess, err := s.Create(model.CreateSessionParams{
		ConversationID: "conv-1",
		UserID:         "user-1",
	})
	require.NoError(t, err)

	assert.Equal(t, fmt.Sprintf("conv-1-%d", now.UnixMilli()), sess.ID)
	assert.Equal(t, "conv-1", sess.ConversationID)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Empty(t, sess.Messages)
	assert.Empty(t, sess.Context)
	assert.Equal(t, *now, sess.Metadata.CreatedAt)
	assert.Equal(t, *now, sess.Metadata.LastActivityAt)
	assert.Equal(t, now.Add(30*time.Minute), sess.Metadata.ExpiresAt)
	assert.Equal(t, int64(30*60*1000), sess.Metadata.TTLMillis)
	assert.Equal(t, 1, s.Count())

	mirror.awaitSave(t, sess.ID)
	assert.NotNil(t, mirror.savedSession(sess.ID))
}

func TestStore_CreateWithExplicitTTL(t *testing.T) {
	s, now := newTestStore(t, newFakeMirror())

	sess, err := s.Create(model.CreateSessionParams{
		ConversationID: "conv-2",
		UserID:         "user-1",
		TTL:            time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Minute), sess.Metadata.ExpiresAt)
	assert.Equal(t, int64(60_000), sess.Metadata.TTLMillis)
}

func TestStore_Get(t *testing.T) {
	t.Run("unknown id is not found", func(t *testing.T) {
		s, _ := newTestStore(t, newFakeMirror())

		_, err := s.Get("missing")
		assert.Equal(t, apperrors.ErrCodeSessionNotFound, apperrors.GetCode(err))
	})

	t.Run("session alive one millisecond before expiry", func(t *testing.T) {
		s, now := newTestStore(t, newFakeMirror())
		sess, err := s.Create(model.CreateSessionParams{
			ConversationID: "conv", UserID: "u", TTL: time.Second,
		})
		require.NoError(t, err)

		*now = now.Add(999 * time.Millisecond)
		got, err := s.Get(sess.ID)
		require.NoError(t, err)
		assert.Equal(t, sess.ID, got.ID)
	})

	t.Run("session expired exactly at the boundary", func(t *testing.T) {
		s, now := newTestStore(t, newFakeMirror())
		sess, err := s.Create(model.CreateSessionParams{
			ConversationID: "conv", UserID: "u", TTL: time.Second,
		})
		require.NoError(t, err)

		*now = now.Add(time.Second)
		_, err = s.Get(sess.ID)
		assert.Equal(t, apperrors.ErrCodeSessionExpired, apperrors.GetCode(err))
		assert.Equal(t, 0, s.Count())

		// The evicted id is gone for good, not merely expired.
		_, err = s.Get(sess.ID)
		assert.Equal(t, apperrors.ErrCodeSessionNotFound, apperrors.GetCode(err))
	})

	t.Run("returned session is a copy", func(t *testing.T) {
		s, _ := newTestStore(t, newFakeMirror())
		sess, err := s.Create(model.CreateSessionParams{ConversationID: "conv", UserID: "u"})
		require.NoError(t, err)

		got, err := s.Get(sess.ID)
		require.NoError(t, err)
		got.Context["poisoned"] = true
		got.Messages = append(got.Messages, model.Message{Role: model.RoleUser, Content: "x"})

		fresh, err := s.Get(sess.ID)
		require.NoError(t, err)
		assert.Empty(t, fresh.Context)
		assert.Empty(t, fresh.Messages)
	})
}

func TestStore_AppendMessages(t *testing.T) {
	mirror := newFakeMirror()
	s, now := newTestStore(t, mirror)
	sess, err := s.Create(model.CreateSessionParams{ConversationID: "conv", UserID: "u"})
	require.NoError(t, err)

	*now = now.Add(5 * time.Second)
	updated, err := s.Append(sess.ID, model.ActionAddMessages, []model.Message{
		{Role: model.RoleUser, Content: "hello"},
		{Role: model.RoleAssistant, Content: "hi"},
	}, nil)
	require.NoError(t, err)

	require.Len(t, updated.Messages, 2)
	assert.Equal(t, "hello", updated.Messages[0].Content)
	assert.Equal(t, "hi", updated.Messages[1].Content)
	assert.NotEmpty(t, updated.Messages[0].ID)
	assert.NotEmpty(t, updated.Messages[1].ID)
	assert.NotEqual(t, updated.Messages[0].ID, updated.Messages[1].ID)
	assert.Equal(t, *now, updated.Messages[0].Timestamp)

	// Activity refreshes lastActivityAt but never extends the expiry.
	assert.Equal(t, *now, updated.Metadata.LastActivityAt)
	assert.Equal(t, sess.Metadata.ExpiresAt, updated.Metadata.ExpiresAt)
}

func TestStore_AppendContext(t *testing.T) {
	s, _ := newTestStore(t, newFakeMirror())
	sess, err := s.Create(model.CreateSessionParams{ConversationID: "conv", UserID: "u"})
	require.NoError(t, err)

	_, err = s.Append(sess.ID, model.ActionUpdateContext, nil, map[string]any{"a": 1})
	require.NoError(t, err)
	_, err = s.Append(sess.ID, model.ActionUpdateContext, nil, map[string]any{"b": 2})
	require.NoError(t, err)
	updated, err := s.Append(sess.ID, model.ActionUpdateContext, nil, map[string]any{"a": 3})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"a": 3, "b": 2}, updated.Context)
}

func TestStore_AppendExpired(t *testing.T) {
	s, now := newTestStore(t, newFakeMirror())
	sess, err := s.Create(model.CreateSessionParams{
		ConversationID: "conv", UserID: "u", TTL: time.Second,
	})
	require.NoError(t, err)

	*now = now.Add(2 * time.Second)
	_, err = s.Append(sess.ID, model.ActionAddMessages, []model.Message{
		{Role: model.RoleUser, Content: "too late"},
	}, nil)
	assert.Equal(t, apperrors.ErrCodeSessionExpired, apperrors.GetCode(err))
}

func TestStore_ConcurrentAppends(t *testing.T) {
	s, _ := newTestStore(t, newFakeMirror())
	sess, err := s.Create(model.CreateSessionParams{ConversationID: "conv", UserID: "u"})
	require.NoError(t, err)

	// Each goroutine appends a two-message batch. Batches may land in any
	// order but must never interleave.
	const writers = 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Append(sess.ID, model.ActionAddMessages, []model.Message{
				{Role: model.RoleUser, Content: fmt.Sprintf("q-%d", i)},
				{Role: model.RoleAssistant, Content: fmt.Sprintf("a-%d", i)},
			}, nil)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	final, err := s.Get(sess.ID)
	require.NoError(t, err)
	require.Len(t, final.Messages, writers*2)
	for i := 0; i < len(final.Messages); i += 2 {
		q := final.Messages[i]
		a := final.Messages[i+1]
		assert.Equal(t, model.RoleUser, q.Role)
		assert.Equal(t, model.RoleAssistant, a.Role)
		assert.Equal(t, q.Content[2:], a.Content[2:], "batch split across other writers")
	}
}

func TestStore_Sweep(t *testing.T) {
	mirror := newFakeMirror()
	s, now := newTestStore(t, mirror)

	short, err := s.Create(model.CreateSessionParams{
		ConversationID: "short", UserID: "u", TTL: time.Second,
	})
	require.NoError(t, err)
	long, err := s.Create(model.CreateSessionParams{
		ConversationID: "long", UserID: "u", TTL: time.Hour,
	})
	require.NoError(t, err)

	evicted := s.Sweep(now.Add(2 * time.Second))
	assert.Equal(t, []string{short.ID}, evicted)
	assert.Equal(t, 1, s.Count())

	_, err = s.Get(long.ID)
	assert.NoError(t, err)
}

func TestStore_Load(t *testing.T) {
	t.Run("restores live snapshots, skips dead ones", func(t *testing.T) {
		now := time.UnixMilli(1_000_000)
		mirror := newFakeMirror()
		mirror.seed = []*model.Session{
			{
				ID: "alive", ConversationID: "c1", UserID: "u",
				Metadata: model.SessionMetadata{ExpiresAt: now.Add(time.Hour)},
			},
			{
				ID: "dead", ConversationID: "c2", UserID: "u",
				Metadata: model.SessionMetadata{ExpiresAt: now.Add(-time.Hour)},
			},
			{ID: ""},
		}

		s, _ := newTestStore(t, mirror)
		require.NoError(t, s.Load(context.Background()))

		assert.Equal(t, 1, s.Count())
		_, err := s.Get("alive")
		assert.NoError(t, err)
		_, err = s.Get("dead")
		assert.Equal(t, apperrors.ErrCodeSessionNotFound, apperrors.GetCode(err))
	})

	t.Run("propagates mirror read failure", func(t *testing.T) {
		mirror := newFakeMirror()
		mirror.loadErr = errors.New("redis down")

		s, _ := newTestStore(t, mirror)
		err := s.Load(context.Background())
		assert.ErrorContains(t, err, "redis down")
	})
}

func TestStore_BackupFailureNeverSurfaces(t *testing.T) {
	mirror := newFakeMirror()
	mirror.saveErr = errors.New("redis down")
	s, _ := newTestStore(t, mirror)

	sess, err := s.Create(model.CreateSessionParams{ConversationID: "conv", UserID: "u"})
	require.NoError(t, err)

	_, err = s.Append(sess.ID, model.ActionAddMessages, []model.Message{
		{Role: model.RoleUser, Content: "hello"},
	}, nil)
	require.NoError(t, err)

	got, err := s.Get(sess.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
}

func TestStore_EvictionDeletesMirrorEntry(t *testing.T) {
	mirror := newFakeMirror()
	s, now := newTestStore(t, mirror)

	sess, err := s.Create(model.CreateSessionParams{
		ConversationID: "conv", UserID: "u", TTL: time.Second,
	})
	require.NoError(t, err)

	*now = now.Add(2 * time.Second)
	_, err = s.Get(sess.ID)
	require.Equal(t, apperrors.ErrCodeSessionExpired, apperrors.GetCode(err))

	assert.Eventually(t, func() bool {
		mirror.mu.Lock()
		defer mirror.mu.Unlock()
		return len(mirror.deleted) == 1 && mirror.deleted[0] == sess.ID
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBackupQueue_DropsOldestOnOverflow(t *testing.T) {
	mirror := newFakeMirror()
	s := NewStore(mirror, time.Hour, nil)
	defer s.Close()

	// A tiny standalone queue with no worker running against it would
	// deadlock; instead fill the real queue faster than the fake mirror
	// drains and verify nothing blocks.
	sess, err := s.Create(model.CreateSessionParams{ConversationID: "conv", UserID: "u"})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultBackupQueueSize*4; i++ {
			s.Backup(sess.ID)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
}
