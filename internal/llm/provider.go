package llm

import "context"

// Provider generates free-text completions. Callers build a Request and read
// the text from the Response; parsing is the caller's job.
type Provider interface {
	Generate(ctx context.Context, req Request) (*Response, error)

	// ModelID returns the model identifier this provider is configured to use.
	ModelID() string
}

// Request describes what to send to the model.
type Request struct {
	// System sets the model's role and constraints.
	System string

	// Messages is the conversation. Most calls send a single user message.
	Messages []Message

	// MaxTokens bounds the response length.
	MaxTokens int

	// Temperature controls randomness. Zero means the provider default.
	Temperature float64
}

// Message represents a single message in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Role is the message sender role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Prompt builds a single-turn request.
func Prompt(system, user string, maxTokens int, temperature float64) Request {
	return Request{
		System:      system,
		Messages:    []Message{{Role: RoleUser, Content: user}},
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// Response holds the model's output.
type Response struct {
	Text  string
	Usage Usage

	// Model is the model that served the request.
	Model string

	// StopReason is normalized to "end" or "max_tokens".
	StopReason string
}

// Usage tracks token consumption for a single request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// resolveModel maps a friendly model name to a provider model ID.
func resolveModel(name string, models map[string]string) string {
	if id, ok := models[name]; ok {
		return id
	}
	// If not in the map, use as-is (allows direct model IDs).
	return name
}
