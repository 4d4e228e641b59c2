package llm

import (
	"context"
	"fmt"
)

// Config selects and configures a provider.
type Config struct {
	// Provider is one of "openai", "anthropic", "gemini" or "mock".
	Provider  string
	OpenAI    OpenAIConfig
	Anthropic AnthropicConfig
	Gemini    GeminiConfig
}

// NewProvider creates the configured Provider. It returns ErrNotConfigured
// when the selected provider has no API key. There is no retry wrapper: a
// failed call is reported once to whoever made it.
func NewProvider(ctx context.Context, cfg Config) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "openai":
		p, err = NewOpenAIProvider(cfg.OpenAI)
	case "anthropic":
		p, err = NewAnthropicProvider(cfg.Anthropic)
	case "gemini":
		p, err = NewGeminiProvider(ctx, cfg.Gemini)
	case "mock":
		return NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("initializing %s provider: %w", cfg.Provider, err)
	}
	return p, nil
}
