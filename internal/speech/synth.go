package speech

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when no synthesizer is configured.
	ErrUnavailable = errors.New("speech synthesis is not configured")
	// ErrInvalidInput marks a bad enqueue or synthesis request.
	ErrInvalidInput = errors.New("invalid input")
	// ErrVoicesUnsupported is returned when the synthesizer cannot list voices.
	ErrVoicesUnsupported = errors.New("voice listing is not supported by this synthesizer")
)

// SynthesisError wraps a failed call to the synthesis backend.
type SynthesisError struct {
	Op  string
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("speech %s failed: %v", e.Op, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Chunk is one piece of streamed audio. A chunk with Err set is the last
// one the context will deliver.
type Chunk struct {
	Data []byte
	Err  error
}

// StreamContext is one open synthesis session. Segments sent to the same
// context share voice and prosody. Chunks is closed once the final segment
// has been rendered, the context failed, or Close was called.
type StreamContext interface {
	ID() string
	Send(ctx context.Context, text string, final bool) error
	Chunks() <-chan Chunk
	Close() error
}

// Synthesizer is the text-to-speech backend.
type Synthesizer interface {
	// Synthesize renders text in one call.
	Synthesize(ctx context.Context, text, voiceID, modelID string) ([]byte, error)

	// OpenContext starts a streaming session keyed by contextID.
	OpenContext(ctx context.Context, voiceID, modelID, contextID string) (StreamContext, error)

	// Cancel abandons a streaming context. Unknown or finished ids are not an error.
	Cancel(ctx context.Context, contextID string) error

	// ContentType is the MIME type of the audio produced.
	ContentType() string
}

// Voice describes a selectable voice.
type Voice struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PreviewURL  string `json:"preview_url,omitempty"`
	Gender      string `json:"gender,omitempty"`
	Language    string `json:"language"`
}

// VoiceLister is implemented by synthesizers that can enumerate voices.
type VoiceLister interface {
	Voices(ctx context.Context) ([]Voice, error)
}
