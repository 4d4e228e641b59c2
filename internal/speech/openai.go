package speech

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

var openaiVoices = map[string]bool{
	"alloy": true, "ash": true, "coral": true, "echo": true, "fable": true,
	"onyx": true, "nova": true, "sage": true, "shimmer": true,
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Voice   string
	Model   string
}

// OpenAISynthesizer uses the OpenAI speech endpoint. It has no server-side
// streaming context, so a stream is rendered one segment per request.
type OpenAISynthesizer struct {
	client *openai.Client
	voice  string
	model  string

	mu      sync.Mutex
	streams map[string]*openaiStream
}

func NewOpenAISynthesizer(cfg OpenAIConfig) (*OpenAISynthesizer, error) {
	if cfg.APIKey == "" {
		return nil, ErrUnavailable
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.Voice == "" {
		cfg.Voice = string(openai.VoiceNova)
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.TTSModel1)
	}
	return &OpenAISynthesizer{
		client:  openai.NewClientWithConfig(config),
		voice:   cfg.Voice,
		model:   cfg.Model,
		streams: make(map[string]*openaiStream),
	}, nil
}

func (o *OpenAISynthesizer) ContentType() string {
	return "audio/mpeg"
}

// Session preferences may carry another provider's ids; anything OpenAI does
// not know falls back to the configured defaults.
func (o *OpenAISynthesizer) resolve(voiceID, modelID string) (openai.SpeechVoice, openai.SpeechModel) {
	voice := o.voice
	if openaiVoices[strings.ToLower(voiceID)] {
		voice = strings.ToLower(voiceID)
	}
	model := o.model
	if strings.HasPrefix(modelID, "tts-") || strings.HasSuffix(modelID, "-tts") {
		model = modelID
	}
	return openai.SpeechVoice(voice), openai.SpeechModel(model)
}

func (o *OpenAISynthesizer) Synthesize(ctx context.Context, text, voiceID, modelID string) ([]byte, error) {
	voice, model := o.resolve(voiceID, modelID)
	resp, err := o.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          model,
		Input:          text,
		Voice:          voice,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return nil, &SynthesisError{Op: "synthesize", Err: err}
	}
	defer resp.Close()
	audio, err := io.ReadAll(resp)
	if err != nil {
		return nil, &SynthesisError{Op: "synthesize", Err: err}
	}
	return audio, nil
}

func (o *OpenAISynthesizer) OpenContext(_ context.Context, voiceID, modelID, contextID string) (StreamContext, error) {
	s := &openaiStream{
		id:      contextID,
		voiceID: voiceID,
		modelID: modelID,
		owner:   o,
		chunks:  make(chan Chunk, 8),
		done:    make(chan struct{}),
	}
	o.mu.Lock()
	o.streams[contextID] = s
	o.mu.Unlock()
	return s, nil
}

func (o *OpenAISynthesizer) Cancel(_ context.Context, contextID string) error {
	o.mu.Lock()
	s := o.streams[contextID]
	o.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Close()
}

func (o *OpenAISynthesizer) Voices(context.Context) ([]Voice, error) {
	out := make([]Voice, 0, len(openaiVoices))
	for _, name := range []string{"alloy", "ash", "coral", "echo", "fable", "onyx", "nova", "sage", "shimmer"} {
		out = append(out, Voice{ID: name, Name: strings.ToUpper(name[:1]) + name[1:], Language: "en"})
	}
	return out, nil
}

type openaiStream struct {
	id      string
	voiceID string
	modelID string
	owner   *OpenAISynthesizer

	chunks    chan Chunk
	done      chan struct{}
	sendMu    sync.Mutex
	finished  bool
	closeOnce sync.Once
}

func (s *openaiStream) ID() string { return s.id }

func (s *openaiStream) Chunks() <-chan Chunk { return s.chunks }

// Send renders text and queues the audio. After the final segment the
// chunk channel is closed.
func (s *openaiStream) Send(ctx context.Context, text string, final bool) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.finished {
		return errors.New("context already finished")
	}

	audio, err := s.owner.Synthesize(ctx, text, s.voiceID, s.modelID)
	if err != nil {
		s.push(Chunk{Err: err})
		s.finish()
		return err
	}
	if !s.push(Chunk{Data: audio}) {
		return errors.New("context closed")
	}
	if final {
		s.finish()
	}
	return nil
}

func (s *openaiStream) push(c Chunk) bool {
	select {
	case s.chunks <- c:
		return true
	case <-s.done:
		return false
	}
}

func (s *openaiStream) finish() {
	if !s.finished {
		s.finished = true
		close(s.chunks)
		s.owner.mu.Lock()
		delete(s.owner.streams, s.id)
		s.owner.mu.Unlock()
	}
}

func (s *openaiStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	s.finish()
	return nil
}
