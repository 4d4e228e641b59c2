package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAnthropicProvider(t *testing.T, handler http.HandlerFunc) *AnthropicProvider {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := anthropic.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(server.URL),
		option.WithMaxRetries(0),
	)
	return &AnthropicProvider{client: &client, model: resolveModel("claude-haiku", anthropicModels)}
}

func TestAnthropicProviderReturnsText(t *testing.T) {
	var got map[string]any
	p := newTestAnthropicProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":            "msg_test",
			"type":          "message",
			"role":          "assistant",
			"model":         "claude-haiku-4-5-20251001",
			"content":       []map[string]any{{"type": "text", "text": "Chlorophyll absorbs light."}},
			"stop_reason":   "max_tokens",
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 12, "output_tokens": 8},
		})
	})

	resp, err := p.Generate(context.Background(), Prompt("You are a tutor.", "Give feedback.", 300, 0.5))
	require.NoError(t, err)
	assert.Equal(t, "Chlorophyll absorbs light.", resp.Text)
	assert.Equal(t, "max_tokens", resp.StopReason)
	assert.Equal(t, 20, resp.Usage.TotalTokens)

	assert.Equal(t, "claude-haiku-4-5-20251001", got["model"])
	assert.EqualValues(t, 300, got["max_tokens"])
	assert.NotEmpty(t, got["system"])
}

func TestAnthropicProviderEmptyContentIsInvalid(t *testing.T) {
	p := newTestAnthropicProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id": "msg_test", "type": "message", "role": "assistant",
			"model": "claude-haiku-4-5-20251001", "content": []any{},
			"stop_reason": "end_turn", "usage": map[string]any{"input_tokens": 1, "output_tokens": 0},
		})
	})

	_, err := p.Generate(context.Background(), Prompt("", "hi", 10, 0))
	var invalid *ErrInvalidResponse
	assert.True(t, errors.As(err, &invalid), "expected ErrInvalidResponse, got %v", err)
}

func TestAnthropicProviderMapsRateLimit(t *testing.T) {
	p := newTestAnthropicProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "rate_limit_error", "message": "slow down"},
		})
	})

	_, err := p.Generate(context.Background(), Prompt("", "hi", 10, 0))
	var rateErr *ErrRateLimit
	assert.True(t, errors.As(err, &rateErr), "expected ErrRateLimit, got %v", err)
}
