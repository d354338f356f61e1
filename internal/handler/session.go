package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/ai-gateway-go/internal/errors"
	"github.com/openclaw/ai-gateway-go/internal/model"
	"github.com/openclaw/ai-gateway-go/internal/session"
)

type SessionHandler struct {
	sessions *session.Store
}

func NewSessionHandler(sessions *session.Store) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.GetSession)
	r.Post("/", h.CreateSession)
	r.Put("/", h.UpdateSession)
	r.Post("/cleanup", h.Cleanup)
	r.Get("/health", h.Health)

	return r
}

// GET /session?id=<sessionId>
func (h *SessionHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, apperrors.MissingRequired("id"))
		return
	}

	sess, err := h.sessions.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

type createSessionRequest struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	TTL            int64  `json:"ttl,omitempty"` // milliseconds
}

// POST /session
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid JSON body"))
		return
	}
	if req.ConversationID == "" {
		writeError(w, apperrors.MissingRequired("conversationId"))
		return
	}
	if req.UserID == "" {
		writeError(w, apperrors.MissingRequired("userId"))
		return
	}

	sess, err := h.sessions.Create(model.CreateSessionParams{
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		TTL:            time.Duration(req.TTL) * time.Millisecond,
	})
	if err != nil {
		// Backup scheduling failure only; the session exists.
		log.Warn().Err(err).Str("sessionId", sess.ID).Msg("session created without scheduled backup")
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"sessionId": sess.ID,
		"session":   sess,
	})
}

type updateSessionRequest struct {
	SessionID string             `json:"sessionId"`
	Action    model.UpdateAction `json:"action"`
	Messages  []model.Message    `json:"messages,omitempty"`
	Context   map[string]any     `json:"context,omitempty"`
}

// PUT /session
func (h *SessionHandler) UpdateSession(w http.ResponseWriter, r *http.Request) {
	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid JSON body"))
		return
	}
	if req.SessionID == "" {
		writeError(w, apperrors.MissingRequired("sessionId"))
		return
	}
	if !req.Action.Valid() {
		writeError(w, apperrors.InvalidInput("action", "must be addMessages or updateContext"))
		return
	}
	for _, msg := range req.Messages {
		if !msg.Role.Valid() {
			writeError(w, apperrors.InvalidInput("role", string(msg.Role)))
			return
		}
	}

	sess, err := h.sessions.Append(req.SessionID, req.Action, req.Messages, req.Context)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, sess)
}

// POST /session/cleanup
func (h *SessionHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	evicted := h.sessions.Sweep(time.Now())
	if evicted == nil {
		evicted = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"cleaned":  len(evicted),
		"sessions": evicted,
	})
}

// GET /session/health
func (h *SessionHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"activeSessions": h.sessions.Count(),
		"timestamp":      time.Now().UnixMilli(),
	})
}
