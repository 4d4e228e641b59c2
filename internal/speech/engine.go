package speech

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"recall-ai/internal/models"
	"recall-ai/internal/store"
)

const (
	DefaultStreamThreshold = 100
	DefaultSegmentDelay    = 100 * time.Millisecond
)

// Notifier pushes session events to connected clients.
type Notifier interface {
	Publish(sessionID, event string, payload any)
}

// Sink receives delivered audio. Buffered items arrive as one WriteAudio
// call; streamed items as a sequence of WriteChunk calls in arrival order.
type Sink interface {
	WriteAudio(contentType string, audio []byte) error
	WriteChunk(contentType string, chunk []byte) error
}

// EnqueueRequest describes text to narrate. Empty voice or model fall back
// to the session's preferences.
type EnqueueRequest struct {
	Text     string
	VoiceID  string
	ModelID  string
	Priority models.Priority
}

type EnqueueResult struct {
	ContextID string `json:"context_id"`
	Position  int    `json:"queue_position"`
	Length    int    `json:"queue_length"`
}

// Status is the queue snapshot served to clients.
type Status struct {
	Queue       []models.SpeechItem `json:"queue"`
	Active      *models.SpeechItem  `json:"active"`
	QueueLength int                 `json:"queue_length"`
	IsPlaying   bool                `json:"is_playing"`
}

type Options struct {
	StreamThreshold int
	SegmentDelay    time.Duration
}

// Engine owns the per-session speech queues. Queue state lives in the
// session; the engine only keeps cancel funcs for deliveries in flight so a
// cancel from another request can stop them.
type Engine struct {
	sessions  *store.Sessions
	synth     Synthesizer
	notifier  Notifier
	threshold int
	delay     time.Duration

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// NewEngine builds an engine. synth may be nil, in which case delivery
// reports ErrUnavailable while queue bookkeeping keeps working.
func NewEngine(sessions *store.Sessions, synth Synthesizer, notifier Notifier, opts Options) *Engine {
	if opts.StreamThreshold <= 0 {
		opts.StreamThreshold = DefaultStreamThreshold
	}
	switch {
	case opts.SegmentDelay == 0:
		opts.SegmentDelay = DefaultSegmentDelay
	case opts.SegmentDelay < 0:
		opts.SegmentDelay = 0
	}
	return &Engine{
		sessions:  sessions,
		synth:     synth,
		notifier:  notifier,
		threshold: opts.StreamThreshold,
		delay:     opts.SegmentDelay,
		inflight:  make(map[string]context.CancelFunc),
	}
}

func (e *Engine) Available() bool {
	return e.synth != nil
}

// IsStreaming reports whether text is long enough to be streamed. The
// threshold counts characters, not bytes.
func (e *Engine) IsStreaming(text string) bool {
	return utf8.RuneCountInString(text) > e.threshold
}

// Enqueue adds text to the session's queue under the priority discipline.
func (e *Engine) Enqueue(ctx context.Context, sessionID string, req EnqueueRequest) (EnqueueResult, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return EnqueueResult{}, fmt.Errorf("%w: no text provided", ErrInvalidInput)
	}
	priority, err := ParsePriority(string(req.Priority))
	if err != nil {
		return EnqueueResult{}, err
	}

	var res EnqueueResult
	sess, err := e.sessions.Update(ctx, sessionID, func(s *models.Session) error {
		now := e.sessions.Now()
		item := models.SpeechItem{
			Text:        req.Text,
			VoiceID:     firstNonEmpty(req.VoiceID, s.TTSPreferences.VoiceID),
			ModelID:     firstNonEmpty(req.ModelID, s.TTSPreferences.ModelID),
			ContextID:   NewContextID(now),
			Priority:    priority,
			EnqueuedAt:  now,
			IsStreaming: e.IsStreaming(req.Text),
		}
		var pos int
		s.SpeechQueue, pos = Insert(s.SpeechQueue, item)
		res = EnqueueResult{ContextID: item.ContextID, Position: pos, Length: len(s.SpeechQueue)}
		return nil
	})
	if err != nil {
		return EnqueueResult{}, err
	}
	e.publishStatus(sess)
	return res, nil
}

// Next pops the head of the queue and marks it active. With an empty queue it
// clears the active item and returns nil.
func (e *Engine) Next(ctx context.Context, sessionID string) (*models.SpeechItem, error) {
	var next *models.SpeechItem
	sess, err := e.sessions.Update(ctx, sessionID, func(s *models.Session) error {
		if len(s.SpeechQueue) == 0 {
			s.ActiveSpeech = nil
			s.UI.IsAssistantSpeaking = false
			return nil
		}
		head := s.SpeechQueue[0]
		s.SpeechQueue = s.SpeechQueue[1:]
		s.ActiveSpeech = &head
		s.UI.IsAssistantSpeaking = true
		next = &head
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publishStatus(sess)
	e.publishUI(sess)
	return next, nil
}

// ProcessNext pops the next item and delivers it to sink. It returns nil,
// nil when the queue is empty. A failed delivery is not retried; the item
// stays popped.
func (e *Engine) ProcessNext(ctx context.Context, sessionID string, sink Sink) (*models.SpeechItem, error) {
	if e.synth == nil {
		return nil, ErrUnavailable
	}
	item, err := e.Next(ctx, sessionID)
	if err != nil || item == nil {
		return item, err
	}
	return item, e.Deliver(ctx, *item, sink)
}

// Speak renders text outside the queue, as the direct synthesis endpoints do.
func (e *Engine) Speak(ctx context.Context, text, voiceID, modelID string, stream bool, sink Sink) (string, error) {
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no text provided", ErrInvalidInput)
	}
	item := models.SpeechItem{
		Text:        text,
		VoiceID:     voiceID,
		ModelID:     modelID,
		ContextID:   NewContextID(time.Now()),
		Priority:    models.PriorityNormal,
		EnqueuedAt:  time.Now().UTC(),
		IsStreaming: stream,
	}
	return item.ContextID, e.Deliver(ctx, item, sink)
}

// Deliver renders item into sink, buffered or streamed according to
// item.IsStreaming. The delivery can be stopped with Cancel(item.ContextID).
func (e *Engine) Deliver(ctx context.Context, item models.SpeechItem, sink Sink) error {
	if e.synth == nil {
		return ErrUnavailable
	}
	ctx, cancel := context.WithCancel(ctx)
	e.track(item.ContextID, cancel)
	defer e.untrack(item.ContextID)
	defer cancel()

	if !item.IsStreaming {
		audio, err := e.synth.Synthesize(ctx, item.Text, item.VoiceID, item.ModelID)
		if err != nil {
			return err
		}
		return sink.WriteAudio(e.synth.ContentType(), audio)
	}
	return e.stream(ctx, item, sink)
}

func (e *Engine) stream(ctx context.Context, item models.SpeechItem, sink Sink) error {
	segments := SplitSentences(item.Text)
	if len(segments) == 0 {
		return fmt.Errorf("%w: no text provided", ErrInvalidInput)
	}

	sc, err := e.synth.OpenContext(ctx, item.VoiceID, item.ModelID, item.ContextID)
	if err != nil {
		return err
	}
	defer sc.Close()

	sendErr := make(chan error, 1)
	go func() {
		for i, seg := range segments {
			if i > 0 && e.delay > 0 {
				select {
				case <-time.After(e.delay):
				case <-ctx.Done():
					sendErr <- ctx.Err()
					return
				}
			}
			if err := sc.Send(ctx, seg, i == len(segments)-1); err != nil {
				sendErr <- err
				return
			}
		}
		sendErr <- nil
	}()

	contentType := e.synth.ContentType()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case chunk, ok := <-sc.Chunks():
			if !ok {
				select {
				case err := <-sendErr:
					return err
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			if chunk.Err != nil {
				return chunk.Err
			}
			if err := sink.WriteChunk(contentType, chunk.Data); err != nil {
				return err
			}
		}
	}
}

// Cancel stops a delivery in flight and tells the synthesizer to abandon the
// context. Unknown or finished ids are not an error.
func (e *Engine) Cancel(ctx context.Context, contextID string) error {
	if contextID == "" {
		return fmt.Errorf("%w: no context_id provided", ErrInvalidInput)
	}
	e.mu.Lock()
	cancel := e.inflight[contextID]
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if e.synth == nil {
		return nil
	}
	if err := e.synth.Cancel(ctx, contextID); err != nil {
		return &SynthesisError{Op: "cancel", Err: err}
	}
	return nil
}

// Clear empties the queue, cancels the active item and marks the assistant
// as not speaking.
func (e *Engine) Clear(ctx context.Context, sessionID string) error {
	var activeID string
	sess, err := e.sessions.Update(ctx, sessionID, func(s *models.Session) error {
		if s.ActiveSpeech != nil {
			activeID = s.ActiveSpeech.ContextID
		}
		s.SpeechQueue = []models.SpeechItem{}
		s.ActiveSpeech = nil
		s.UI.IsAssistantSpeaking = false
		return nil
	})
	if err != nil {
		return err
	}
	if activeID != "" {
		if err := e.Cancel(ctx, activeID); err != nil {
			log.Printf("cancel active speech %s: %v", activeID, err)
		}
	}
	e.publishStatus(sess)
	e.publishUI(sess)
	return nil
}

func (e *Engine) Status(ctx context.Context, sessionID string) (Status, error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return Status{}, err
	}
	return StatusOf(sess), nil
}

// StatusOf builds the queue snapshot for a session.
func StatusOf(sess *models.Session) Status {
	queue := sess.SpeechQueue
	if queue == nil {
		queue = []models.SpeechItem{}
	}
	return Status{
		Queue:       queue,
		Active:      sess.ActiveSpeech,
		QueueLength: len(queue),
		IsPlaying:   sess.ActiveSpeech != nil,
	}
}

func (e *Engine) Voices(ctx context.Context) ([]Voice, error) {
	if e.synth == nil {
		return nil, ErrUnavailable
	}
	lister, ok := e.synth.(VoiceLister)
	if !ok {
		return nil, ErrVoicesUnsupported
	}
	return lister.Voices(ctx)
}

func (e *Engine) track(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.inflight[id] = cancel
	e.mu.Unlock()
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	delete(e.inflight, id)
	e.mu.Unlock()
}

func (e *Engine) publishStatus(sess *models.Session) {
	if e.notifier == nil || sess == nil {
		return
	}
	e.notifier.Publish(sess.ID, "tts_status_update", StatusOf(sess))
}

func (e *Engine) publishUI(sess *models.Session) {
	if e.notifier == nil || sess == nil {
		return
	}
	e.notifier.Publish(sess.ID, "ui_state_update", sess.UI)
}

// IsCanceled reports whether err came from a cancelled delivery.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
