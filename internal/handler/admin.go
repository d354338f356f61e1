package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/ai-gateway-go/internal/audit"
	apperrors "github.com/openclaw/ai-gateway-go/internal/errors"
	"github.com/openclaw/ai-gateway-go/internal/ratelimit"
	"github.com/openclaw/ai-gateway-go/internal/service"
)

// AdminHandler exposes manual operations: unblocking an identifier and
// inspecting or resetting the retry gateway counters.
type AdminHandler struct {
	limiter *ratelimit.Limiter
	chat    *service.ChatService
}

func NewAdminHandler(limiter *ratelimit.Limiter, chat *service.ChatService) *AdminHandler {
	return &AdminHandler{limiter: limiter, chat: chat}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/ratelimit/reset", h.ResetRateLimit)
	r.Get("/retry/metrics", h.RetryMetrics)
	r.Post("/retry/metrics/reset", h.ResetRetryMetrics)

	return r
}

type resetRateLimitRequest struct {
	Identifier string `json:"identifier"`
}

// POST /admin/ratelimit/reset
func (h *AdminHandler) ResetRateLimit(w http.ResponseWriter, r *http.Request) {
	var req resetRateLimitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.ValidationError("Invalid JSON body"))
		return
	}
	if req.Identifier == "" {
		writeError(w, apperrors.MissingRequired("identifier"))
		return
	}

	h.limiter.Reset(req.Identifier)
	audit.Log(audit.Event{
		Type:       audit.EventLimiterReset,
		Identifier: req.Identifier,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// GET /admin/retry/metrics
func (h *AdminHandler) RetryMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.chat.RetryMetrics())
}

// POST /admin/retry/metrics/reset
func (h *AdminHandler) ResetRetryMetrics(w http.ResponseWriter, r *http.Request) {
	h.chat.ResetRetryMetrics()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
