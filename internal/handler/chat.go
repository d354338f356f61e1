package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/openclaw/ai-gateway-go/internal/errors"
	"github.com/openclaw/ai-gateway-go/internal/ratelimit"
	"github.com/openclaw/ai-gateway-go/internal/service"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

func (h *ChatHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Chat)
	return r
}

// POST /v1/chat
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req service.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid JSON body"))
		return
	}
	if req.Message == "" {
		writeError(w, apperrors.MissingRequired("message"))
		return
	}
	if req.ConversationID == "" && req.SessionID == "" {
		writeError(w, apperrors.MissingRequired("conversationId"))
		return
	}
	req.RemoteAddr = r.RemoteAddr

	result, limit, err := h.chat.Handle(r.Context(), req)
	setRateLimitHeaders(w, limit)

	if err != nil {
		if apperrors.GetCode(err) == apperrors.ErrCodeRateLimitExceeded {
			w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limit)))
		}
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func setRateLimitHeaders(w http.ResponseWriter, limit ratelimit.Result) {
	if limit.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(limit.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(limit.ResetTime, 10))
}

func retryAfterSeconds(limit ratelimit.Result) int {
	secs := int(time.Until(time.UnixMilli(limit.ResetTime)).Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return secs
}
