// Package upstream wraps the AI provider call. The provider is opaque to
// the gateway: it resolves, fails with a transient error, or fails with a
// terminal one, and the retry layer decides what to do with each.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/ai-gateway-go/internal/errors"
	"github.com/openclaw/ai-gateway-go/internal/model"
)

const maxErrorBodyBytes = 4096

// Request is the payload sent to the provider.
type Request struct {
	Model    string          `json:"model"`
	Messages []model.Message `json:"messages"`
	Context  map[string]any  `json:"context,omitempty"`
}

// Response is the provider completion.
type Response struct {
	Content string         `json:"content"`
	Model   string         `json:"model,omitempty"`
	Usage   map[string]int `json:"usage,omitempty"`
}

type Provider interface {
	Invoke(ctx context.Context, req Request) (*Response, error)
}

// HTTPProvider posts chat requests to a configured provider endpoint.
type HTTPProvider struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

func NewHTTPProvider(baseURL, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		apiKey:  apiKey,
	}
}

func (p *HTTPProvider) Invoke(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().
			Err(err).
			Dur("elapsed", elapsed).
			Msg("upstream request error")
		return nil, apperrors.NewNetworkError(networkCode(err), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		log.Error().
			Int("status", resp.StatusCode).
			Dur("elapsed", elapsed).
			Msg("upstream request failed")
		msg := http.StatusText(resp.StatusCode)
		if len(detail) > 0 {
			msg = string(detail)
		}
		return nil, apperrors.NewUpstreamError(resp.StatusCode, msg)
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	log.Debug().
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("upstream request successful")

	return &out, nil
}

// networkCode maps a transport error to the provider-agnostic code the
// retryability predicate understands.
func networkCode(err error) string {
	switch {
	case errors.Is(err, syscall.ECONNRESET):
		return "ECONNRESET"
	case errors.Is(err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(err, syscall.EHOSTUNREACH):
		return "EHOSTUNREACH"
	case errors.Is(err, syscall.ENETUNREACH):
		return "ENETUNREACH"
	case errors.Is(err, context.DeadlineExceeded):
		return "ETIMEDOUT"
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "ETIMEDOUT"
	}
	return "EUNKNOWN"
}

var _ Provider = (*HTTPProvider)(nil)
