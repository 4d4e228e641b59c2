package services

import "errors"

var (
	// ErrAIUnavailable is returned when no language model provider is configured.
	ErrAIUnavailable = errors.New("language model integration is not configured")
	// ErrTranscriptionUnavailable is returned when speech-to-text is not configured.
	ErrTranscriptionUnavailable = errors.New("transcription is not configured")
	// ErrInvalidInput marks a request that is missing a required field or carries a bad value.
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoQuestions is returned when an operation needs a question set and there is none.
	ErrNoQuestions = errors.New("no questions available")
)
