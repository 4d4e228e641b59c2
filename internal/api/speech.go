package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"recall-ai/internal/models"
	"recall-ai/internal/speech"
)

const frameBoundary = "frame"

// audioResponse adapts an http.ResponseWriter to speech.Sink. Buffered audio
// is written as a single mp3 body; streamed chunks become parts of a
// multipart/x-mixed-replace response, flushed as they arrive.
type audioResponse struct {
	w         http.ResponseWriter
	started   bool
	streaming bool
}

func (a *audioResponse) WriteAudio(contentType string, audio []byte) error {
	h := a.w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", "attachment; filename=speech.mp3")
	h.Set("Content-Length", strconv.Itoa(len(audio)))
	a.w.WriteHeader(http.StatusOK)
	a.started = true
	_, err := a.w.Write(audio)
	return err
}

func (a *audioResponse) WriteChunk(contentType string, chunk []byte) error {
	if !a.started {
		h := a.w.Header()
		h.Set("Content-Type", "multipart/x-mixed-replace; boundary="+frameBoundary)
		h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
		h.Set("Pragma", "no-cache")
		h.Set("Expires", "0")
		a.w.WriteHeader(http.StatusOK)
		a.started = true
		a.streaming = true
	}
	if _, err := fmt.Fprintf(a.w, "--%s\r\nContent-Type: %s\r\n\r\n", frameBoundary, contentType); err != nil {
		return err
	}
	if _, err := a.w.Write(chunk); err != nil {
		return err
	}
	if _, err := a.w.Write([]byte("\r\n")); err != nil {
		return err
	}
	if f, ok := a.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// fail reports a delivery error. Before any audio has gone out it is a JSON
// error; mid-stream it becomes a final text frame.
func (a *audioResponse) fail(err error) {
	if a.streaming {
		fmt.Fprintf(a.w, "--%s\r\nContent-Type: text/plain\r\n\r\nError: %v\r\n--%s--\r\n", frameBoundary, err, frameBoundary)
		return
	}
	if a.started {
		return
	}
	switch {
	case errors.Is(err, speech.ErrUnavailable):
		speechUnavailable(a.w)
	case errors.Is(err, speech.ErrInvalidInput):
		writeError(a.w, http.StatusBadRequest, err.Error())
	case speech.IsCanceled(err):
		writeError(a.w, http.StatusConflict, "speech generation cancelled")
	default:
		writeError(a.w, http.StatusBadGateway, err.Error())
	}
}

// finish closes a multipart body.
func (a *audioResponse) finish() {
	if a.streaming {
		fmt.Fprintf(a.w, "--%s--\r\n", frameBoundary)
	}
}

func speechUnavailable(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, "Speech synthesis is not configured")
}

type ttsRequest struct {
	Text    string `json:"text"`
	Voice   string `json:"voice"`
	Model   string `json:"model"`
	VoiceID string `json:"voice_id"`
	ModelID string `json:"model_id"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	s.speak(w, r, false)
}

func (s *Server) handleTTSStream(w http.ResponseWriter, r *http.Request) {
	s.speak(w, r, true)
}

func (s *Server) speak(w http.ResponseWriter, r *http.Request, stream bool) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload ttsRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if payload.Text == "" {
		writeError(w, http.StatusBadRequest, "No text provided")
		return
	}
	if !s.speech.Available() {
		speechUnavailable(w)
		return
	}

	prefs := s.preferences(r)
	voice := firstNonEmpty(payload.VoiceID, payload.Voice, prefs.VoiceID)
	model := firstNonEmpty(payload.ModelID, payload.Model, prefs.ModelID)

	out := &audioResponse{w: w}
	contextID, err := s.speech.Speak(r.Context(), payload.Text, voice, model, stream, out)
	if err != nil {
		log.Printf("speech %s: %v", contextID, err)
		out.fail(err)
		return
	}
	out.finish()
}

// preferences returns the caller's TTS preferences, or the server defaults
// when the request carries no known session.
func (s *Server) preferences(r *http.Request) models.TTSPreferences {
	if c, err := r.Cookie(sessionCookie); err == nil {
		if sess, err := s.sessions.Get(r.Context(), c.Value); err == nil {
			return sess.TTSPreferences
		}
	}
	return s.opts.DefaultTTS
}

type cancelRequest struct {
	ContextID string `json:"context_id"`
}

func (s *Server) handleTTSCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var payload cancelRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}
	if payload.ContextID == "" {
		writeError(w, http.StatusBadRequest, "No context_id provided")
		return
	}
	if !s.speech.Available() {
		speechUnavailable(w)
		return
	}
	if err := s.speech.Cancel(r.Context(), payload.ContextID); err != nil {
		log.Printf("cancel %s: %v", payload.ContextID, err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": fmt.Sprintf("TTS generation with context ID %s cancelled", payload.ContextID),
		"success": true,
	})
}

func (s *Server) handleTTSVoices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	voices, err := s.speech.Voices(r.Context())
	switch {
	case errors.Is(err, speech.ErrUnavailable):
		speechUnavailable(w)
		return
	case errors.Is(err, speech.ErrVoicesUnsupported):
		writeError(w, http.StatusNotImplemented, err.Error())
		return
	case err != nil:
		log.Printf("list voices: %v", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"voices": voices, "success": true})
}

type preferencesRequest struct {
	VoiceID         *string `json:"voice_id"`
	ModelID         *string `json:"model_id"`
	AutoRead        *bool   `json:"auto_read"`
	ServerTTS       *bool   `json:"server_tts"`
	ForceBrowserTTS *bool   `json:"force_browser_tts"`
}

func (s *Server) handleTTSPreferences(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		id, ok := s.sessionID(w, r)
		if !ok {
			return
		}
		sess, err := s.sessions.Get(r.Context(), id)
		if err != nil {
			s.sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"preferences": sess.TTSPreferences, "success": true})

	case http.MethodPost:
		id, ok := s.sessionID(w, r)
		if !ok {
			return
		}
		var payload preferencesRequest
		if err := decodeJSON(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "No data provided")
			return
		}
		updated, err := s.sessions.Update(r.Context(), id, func(sess *models.Session) error {
			p := &sess.TTSPreferences
			if payload.VoiceID != nil {
				p.VoiceID = *payload.VoiceID
			}
			if payload.ModelID != nil {
				p.ModelID = *payload.ModelID
			}
			if payload.AutoRead != nil {
				p.AutoRead = *payload.AutoRead
			}
			if payload.ServerTTS != nil {
				p.ServerTTS = *payload.ServerTTS
			}
			if payload.ForceBrowserTTS != nil {
				p.ForceBrowserTTS = *payload.ForceBrowserTTS
			}
			return nil
		})
		if err != nil {
			s.sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"preferences": updated.TTSPreferences, "success": true})

	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

type enqueueRequest struct {
	Text     string `json:"text"`
	VoiceID  string `json:"voice_id"`
	ModelID  string `json:"model_id"`
	Priority string `json:"priority"`
}

func (s *Server) handleTTSQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost && r.Method != http.MethodDelete {
		methodNotAllowed(w, http.MethodGet, http.MethodPost, http.MethodDelete)
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		status, err := s.speech.Status(r.Context(), id)
		if err != nil {
			s.sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"queue":        status.Queue,
			"active":       status.Active,
			"queue_length": status.QueueLength,
			"is_playing":   status.IsPlaying,
			"success":      true,
		})

	case http.MethodDelete:
		if err := s.speech.Clear(r.Context(), id); err != nil {
			s.sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"message": "TTS queue cleared", "success": true})

	case http.MethodPost:
		var payload enqueueRequest
		if err := decodeJSON(r, &payload); err != nil || payload.Text == "" {
			writeError(w, http.StatusBadRequest, "No text provided")
			return
		}
		res, err := s.speech.Enqueue(r.Context(), id, speech.EnqueueRequest{
			Text:     payload.Text,
			VoiceID:  payload.VoiceID,
			ModelID:  payload.ModelID,
			Priority: models.Priority(payload.Priority),
		})
		if errors.Is(err, speech.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			s.sessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":        "Added to TTS queue",
			"context_id":     res.ContextID,
			"queue_position": res.Position,
			"queue_length":   res.Length,
			"success":        true,
		})
	}
}

func (s *Server) handleProcessQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	if !s.speech.Available() {
		speechUnavailable(w)
		return
	}

	out := &audioResponse{w: w}
	item, err := s.speech.ProcessNext(r.Context(), id, out)
	if err != nil {
		if item == nil {
			s.sessionError(w, err)
			return
		}
		log.Printf("deliver %s: %v", item.ContextID, err)
		out.fail(err)
		return
	}
	if item == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"message":     "TTS queue is empty",
			"queue_empty": true,
			"success":     true,
		})
		return
	}
	out.finish()
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
