// Package remote is the narrow contract against the remote authoritative
// service. It performs exactly one network call per Submit and normalizes
// the outcome; retry policy lives in the sync queue manager, not here.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"studiosync/internal/config"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Result is the normalized outcome of one submit call. Error is always a
// flat human-readable string; callers never see transport error shapes.
type Result struct {
	Success   bool
	Data      json.RawMessage
	Error     string
	Retryable bool
}

type submitRequest struct {
	Action     string          `json:"action"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

type Bridge struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  *zerolog.Logger
}

func NewBridge(cfg config.RemoteConfig, logger *zerolog.Logger) *Bridge {
	return &Bridge{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.Timeout()},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		logger:  logger,
	}
}

// Submit forwards one mutation to the remote service. A transport failure or
// timeout is recoverable; a rejection of the payload itself is not.
func (b *Bridge) Submit(ctx context.Context, action, entityType, entityID string, payload json.RawMessage) Result {
	if err := b.limiter.Wait(ctx); err != nil {
		return Result{Error: fmt.Sprintf("rate limiter: %v", err), Retryable: true}
	}

	body, err := json.Marshal(submitRequest{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
	})
	if err != nil {
		return Result{Error: fmt.Sprintf("encode request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/sync", bytes.NewReader(body))
	if err != nil {
		return Result{Error: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		// Includes client timeouts and connection failures.
		return Result{Error: fmt.Sprintf("remote unreachable: %v", err), Retryable: true}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{Error: fmt.Sprintf("read response: %v", err), Retryable: true}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return Result{Success: true, Data: respBody}
	}

	return Result{
		Error:     ExtractErrorMessage(resp.StatusCode, respBody),
		Retryable: retryableStatus(resp.StatusCode),
	}
}

// Server-side trouble and throttling are worth retrying; any other 4xx means
// the payload itself was rejected.
func retryableStatus(code int) bool {
	switch {
	case code >= 500:
		return true
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}
