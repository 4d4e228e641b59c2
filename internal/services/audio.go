package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"recall-ai/internal/models"
)

// ErrNotListening is returned for chunk and stop calls without an active
// recognition session.
var ErrNotListening = errors.New("no active speech recognition session")

const defaultChunkThreshold = 5

// AudioResult describes what happened to a submitted chunk or a stop call.
// Text is set only when something was transcribed.
type AudioResult struct {
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"is_final"`
	Message string `json:"message,omitempty"`
}

// AudioService drives server-side speech capture. In command and
// conversation mode each chunk is transcribed on arrival; in dictation or
// continuous mode chunks are collected and transcribed as one recording once
// enough have arrived or capture stops.
type AudioService struct {
	transcriber    Transcriber
	documents      *DocumentService
	chunkThreshold int
	now            func() time.Time
}

func NewAudioService(transcriber Transcriber, documents *DocumentService) *AudioService {
	return &AudioService{
		transcriber:    transcriber,
		documents:      documents,
		chunkThreshold: defaultChunkThreshold,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *AudioService) disabled() bool {
	return s == nil || s.transcriber == nil
}

// Transcribe is the one-shot path used by the upload endpoint.
func (s *AudioService) Transcribe(ctx context.Context, filename string, audio io.Reader) (string, error) {
	if s.disabled() {
		return "", ErrTranscriptionUnavailable
	}
	return s.transcriber.Transcribe(ctx, filename, audio)
}

// Start begins a recognition session and returns its id.
func (s *AudioService) Start(sess *models.Session, continuous bool, mode models.RecognitionMode) (string, string, error) {
	if mode == "" {
		mode = models.ModeCommand
	}
	switch mode {
	case models.ModeCommand, models.ModeDictation, models.ModeConversation:
	default:
		return "", "", fmt.Errorf("%w: unknown recognition mode %q", ErrInvalidInput, mode)
	}

	now := s.now()
	s.documents.Remove(sess.Audio.ChunkPaths...)
	id := fmt.Sprintf("rec_%d_%s", now.Unix(), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	sess.Audio.IsListening = true
	sess.Audio.IsContinuous = continuous
	sess.Audio.RecognitionMode = mode
	sess.Audio.RecognitionID = id
	sess.Audio.SessionStartTime = now
	sess.Audio.ChunkPaths = []string{}
	sess.UI.IsMicrophoneActive = true
	sess.UI.IsContinuousListening = continuous

	kind := "single"
	if continuous {
		kind = "continuous"
	}
	return id, fmt.Sprintf("Started %s speech recognition in %s mode", kind, mode), nil
}

// Stop ends recognition and transcribes whatever chunks are still pending.
func (s *AudioService) Stop(ctx context.Context, sess *models.Session) (AudioResult, error) {
	if sess.Audio.RecognitionID == "" {
		return AudioResult{}, ErrNotListening
	}
	sess.Audio.IsListening = false
	sess.Audio.IsContinuous = false
	sess.UI.IsMicrophoneActive = false
	sess.UI.IsContinuousListening = false

	res := AudioResult{IsFinal: true, Message: "Stopped speech recognition"}
	if len(sess.Audio.ChunkPaths) == 0 {
		return res, nil
	}
	text, err := s.flush(ctx, sess)
	if err != nil {
		return res, err
	}
	res.Text = text
	return res, nil
}

// Chunk stores one recorded chunk and transcribes it, or the batch it
// completes, according to the recognition mode.
func (s *AudioService) Chunk(ctx context.Context, sess *models.Session, filename string, audio io.Reader) (AudioResult, error) {
	if !sess.Audio.IsListening {
		return AudioResult{}, ErrNotListening
	}
	if s.disabled() {
		return AudioResult{}, ErrTranscriptionUnavailable
	}

	stored, err := s.documents.Save("audio", filename, audio)
	if err != nil {
		return AudioResult{}, err
	}
	sess.Audio.LastChunkTime = s.now()

	mode := sess.Audio.RecognitionMode
	if (mode == models.ModeCommand || mode == models.ModeConversation) && !sess.Audio.IsContinuous {
		defer s.documents.Remove(stored.StoredPath)
		f, err := os.Open(stored.StoredPath)
		if err != nil {
			return AudioResult{}, fmt.Errorf("open chunk: %w", err)
		}
		defer f.Close()
		text, err := s.transcriber.Transcribe(ctx, stored.OriginalName, f)
		if err != nil {
			return AudioResult{}, err
		}
		s.record(sess, text)
		return AudioResult{Text: text, IsFinal: true}, nil
	}

	sess.Audio.ChunkPaths = append(sess.Audio.ChunkPaths, stored.StoredPath)
	if len(sess.Audio.ChunkPaths) < s.chunkThreshold {
		return AudioResult{
			Message: fmt.Sprintf("Received audio chunk (%d/%d)", len(sess.Audio.ChunkPaths), s.chunkThreshold),
		}, nil
	}

	n := len(sess.Audio.ChunkPaths)
	text, err := s.flush(ctx, sess)
	if err != nil {
		return AudioResult{}, err
	}
	return AudioResult{Text: text, Message: fmt.Sprintf("Processed %d audio chunks", n)}, nil
}

// flush transcribes the pending chunks as one recording; recorder chunks
// from the same capture concatenate into a playable stream. The chunks are
// removed whether or not transcription succeeds.
func (s *AudioService) flush(ctx context.Context, sess *models.Session) (string, error) {
	paths := sess.Audio.ChunkPaths
	sess.Audio.ChunkPaths = []string{}
	defer s.documents.Remove(paths...)
	if s.disabled() {
		return "", ErrTranscriptionUnavailable
	}

	readers := make([]io.Reader, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return "", fmt.Errorf("open chunk: %w", err)
		}
		defer f.Close()
		readers = append(readers, f)
	}
	text, err := s.transcriber.Transcribe(ctx, "recording.webm", io.MultiReader(readers...))
	if err != nil {
		return "", err
	}
	s.record(sess, text)
	return text, nil
}

func (s *AudioService) record(sess *models.Session, text string) {
	sess.Audio.TranscriptionHistory = append(sess.Audio.TranscriptionHistory, models.Transcription{
		Text:      text,
		Timestamp: s.now(),
		Mode:      sess.Audio.RecognitionMode,
	})
}
