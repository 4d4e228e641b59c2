package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const cartesiaWriteTimeout = 5 * time.Second

type CartesiaConfig struct {
	APIKey  string
	BaseURL string
	Version string
}

// CartesiaSynthesizer talks to the Cartesia REST API for one-shot synthesis
// and voice listing, and to its websocket API for streaming contexts.
type CartesiaSynthesizer struct {
	apiKey  string
	baseURL string
	version string
	client  *http.Client
	dialer  *websocket.Dialer

	mu      sync.Mutex
	streams map[string]*cartesiaStream
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate"`
	BitRate    int    `json:"bit_rate,omitempty"`
}

var cartesiaOutput = cartesiaFormat{Container: "mp3", SampleRate: 44100, BitRate: 128000}

type cartesiaRequest struct {
	ModelID      string         `json:"model_id"`
	Transcript   string         `json:"transcript"`
	Voice        cartesiaVoice  `json:"voice"`
	OutputFormat cartesiaFormat `json:"output_format"`
	Language     string         `json:"language"`
	ContextID    string         `json:"context_id,omitempty"`
	Continue     *bool          `json:"continue,omitempty"`
}

type cartesiaMessage struct {
	Type      string `json:"type"`
	Data      string `json:"data"`
	Done      bool   `json:"done"`
	Error     string `json:"error"`
	ContextID string `json:"context_id"`
}

func NewCartesiaSynthesizer(cfg CartesiaConfig) (*CartesiaSynthesizer, error) {
	if cfg.APIKey == "" {
		return nil, ErrUnavailable
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = "https://api.cartesia.ai"
	}
	return &CartesiaSynthesizer{
		apiKey:  cfg.APIKey,
		baseURL: base,
		version: cfg.Version,
		client:  &http.Client{Timeout: 60 * time.Second},
		dialer:  websocket.DefaultDialer,
		streams: make(map[string]*cartesiaStream),
	}, nil
}

func (c *CartesiaSynthesizer) ContentType() string {
	return "audio/mpeg"
}

func (c *CartesiaSynthesizer) Synthesize(ctx context.Context, text, voiceID, modelID string) ([]byte, error) {
	body, err := json.Marshal(cartesiaRequest{
		ModelID:      modelID,
		Transcript:   text,
		Voice:        cartesiaVoice{Mode: "id", ID: voiceID},
		OutputFormat: cartesiaOutput,
		Language:     "en",
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, &SynthesisError{Op: "synthesize", Err: err}
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &SynthesisError{Op: "synthesize", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, &SynthesisError{Op: "synthesize", Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))}
	}
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthesisError{Op: "synthesize", Err: err}
	}
	return audio, nil
}

func (c *CartesiaSynthesizer) Voices(ctx context.Context) ([]Voice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/voices", nil)
	if err != nil {
		return nil, &SynthesisError{Op: "list voices", Err: err}
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &SynthesisError{Op: "list voices", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &SynthesisError{Op: "list voices", Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthesisError{Op: "list voices", Err: err}
	}

	// Older API versions return a bare array, newer ones a paged object.
	var voices []Voice
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &voices)
	} else {
		var page struct {
			Data []Voice `json:"data"`
		}
		err = json.Unmarshal(raw, &page)
		voices = page.Data
	}
	if err != nil {
		return nil, &SynthesisError{Op: "list voices", Err: fmt.Errorf("decode: %w", err)}
	}
	for i := range voices {
		if voices[i].Language == "" {
			voices[i].Language = "en"
		}
	}
	return voices, nil
}

func (c *CartesiaSynthesizer) setHeaders(req *http.Request) {
	req.Header.Set("X-API-Key", c.apiKey)
	if c.version != "" {
		req.Header.Set("Cartesia-Version", c.version)
	}
}

func (c *CartesiaSynthesizer) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/tts/websocket"
	q := u.Query()
	q.Set("api_key", c.apiKey)
	if c.version != "" {
		q.Set("cartesia_version", c.version)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// OpenContext dials one websocket per context. Every segment sent on it
// carries the same context_id so Cartesia continues the utterance.
func (c *CartesiaSynthesizer) OpenContext(ctx context.Context, voiceID, modelID, contextID string) (StreamContext, error) {
	wsURL, err := c.websocketURL()
	if err != nil {
		return nil, &SynthesisError{Op: "open context", Err: err}
	}
	conn, _, err := c.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, &SynthesisError{Op: "open context", Err: err}
	}

	s := &cartesiaStream{
		id:     contextID,
		voice:  voiceID,
		model:  modelID,
		conn:   conn,
		chunks: make(chan Chunk, 32),
		done:   make(chan struct{}),
		owner:  c,
	}
	c.mu.Lock()
	c.streams[contextID] = s
	c.mu.Unlock()

	go s.readLoop()
	return s, nil
}

// Cancel sends a cancel message on the context's socket and closes it.
func (c *CartesiaSynthesizer) Cancel(_ context.Context, contextID string) error {
	c.mu.Lock()
	s := c.streams[contextID]
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	if err := s.write(map[string]any{"context_id": contextID, "cancel": true}); err != nil {
		log.Printf("cartesia cancel %s: %v", contextID, err)
	}
	return s.Close()
}

func (c *CartesiaSynthesizer) forget(contextID string) {
	c.mu.Lock()
	delete(c.streams, contextID)
	c.mu.Unlock()
}

type cartesiaStream struct {
	id    string
	voice string
	model string
	conn  *websocket.Conn
	owner *CartesiaSynthesizer

	chunks    chan Chunk
	done      chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (s *cartesiaStream) ID() string { return s.id }

func (s *cartesiaStream) Chunks() <-chan Chunk { return s.chunks }

func (s *cartesiaStream) Send(ctx context.Context, text string, final bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cont := !final
	return s.write(cartesiaRequest{
		ModelID:      s.model,
		Transcript:   text,
		Voice:        cartesiaVoice{Mode: "id", ID: s.voice},
		OutputFormat: cartesiaOutput,
		Language:     "en",
		ContextID:    s.id,
		Continue:     &cont,
	})
}

func (s *cartesiaStream) write(v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	select {
	case <-s.done:
		return errors.New("context closed")
	default:
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(cartesiaWriteTimeout)); err != nil {
		return &SynthesisError{Op: "send segment", Err: err}
	}
	if err := s.conn.WriteJSON(v); err != nil {
		return &SynthesisError{Op: "send segment", Err: err}
	}
	return nil
}

func (s *cartesiaStream) readLoop() {
	defer close(s.chunks)
	defer s.owner.forget(s.id)

	for {
		var msg cartesiaMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			select {
			case <-s.done:
			default:
				s.emit(Chunk{Err: &SynthesisError{Op: "stream", Err: err}})
			}
			return
		}

		switch msg.Type {
		case "chunk":
			data, err := base64.StdEncoding.DecodeString(msg.Data)
			if err != nil {
				s.emit(Chunk{Err: &SynthesisError{Op: "stream", Err: fmt.Errorf("decode chunk: %w", err)}})
				return
			}
			if !s.emit(Chunk{Data: data}) {
				return
			}
			if msg.Done {
				return
			}
		case "done":
			return
		case "error":
			s.emit(Chunk{Err: &SynthesisError{Op: "stream", Err: errors.New(msg.Error)}})
			return
		}
	}
}

func (s *cartesiaStream) emit(c Chunk) bool {
	select {
	case s.chunks <- c:
		return true
	case <-s.done:
		return false
	}
}

func (s *cartesiaStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
