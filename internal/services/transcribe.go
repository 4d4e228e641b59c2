package services

import (
	"context"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Transcriber turns recorded audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error)
}

// WhisperTranscriber calls the OpenAI audio transcription endpoint.
type WhisperTranscriber struct {
	client   *openai.Client
	model    string
	language string
}

// NewWhisperTranscriber returns nil when apiKey is empty, which callers treat
// as transcription being unavailable.
func NewWhisperTranscriber(apiKey, baseURL, model string) *WhisperTranscriber {
	if apiKey == "" {
		return nil
	}
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{
		client:   openai.NewClientWithConfig(config),
		model:    model,
		language: "en",
	}
}

func (t *WhisperTranscriber) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	if t == nil {
		return "", ErrTranscriptionUnavailable
	}
	if filename == "" {
		filename = "audio.webm"
	}
	resp, err := t.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    t.model,
		FilePath: filename,
		Reader:   audio,
		Language: t.language,
	})
	if err != nil {
		return "", fmt.Errorf("transcribe audio: %w", err)
	}
	return strings.TrimSpace(resp.Text), nil
}
