package api

import (
	"errors"
	"log"
	"net/http"

	"recall-ai/internal/models"
	"recall-ai/internal/services"
)

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	file, header, err := r.FormFile("audio_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	text, err := s.audio.Transcribe(r.Context(), header.Filename, file)
	if err != nil {
		s.audioError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"text": text, "success": true})
}

type audioStartRequest struct {
	Continuous bool                   `json:"continuous"`
	Mode       models.RecognitionMode `json:"mode"`
}

func (s *Server) handleAudioStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var payload audioStartRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &payload); err != nil {
			writeError(w, http.StatusBadRequest, "No data provided")
			return
		}
	}

	var recID, msg string
	updated, err := s.sessions.Update(r.Context(), id, func(sess *models.Session) error {
		var err error
		recID, msg, err = s.audio.Start(sess, payload.Continuous, payload.Mode)
		return err
	})
	if err != nil {
		s.audioError(w, err)
		return
	}
	s.publishUI(updated)
	writeJSON(w, http.StatusOK, map[string]any{
		"recognition_id": recID,
		"message":        msg,
		"success":        true,
	})
}

func (s *Server) handleAudioStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	// Capture is stopped and pending chunks are dropped even when the final
	// transcription fails, so the session is saved either way.
	var (
		res     services.AudioResult
		flushed error
	)
	updated, err := s.sessions.Update(r.Context(), id, func(sess *models.Session) error {
		var err error
		res, err = s.audio.Stop(r.Context(), sess)
		if errors.Is(err, services.ErrNotListening) {
			return err
		}
		flushed = err
		return nil
	})
	if err == nil {
		err = flushed
	}
	if updated != nil {
		s.publishUI(updated)
	}
	if err != nil {
		s.audioError(w, err)
		return
	}
	writeAudioResult(w, res)
}

func (s *Server) handleAudioChunk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(maxMultipartMemory); err != nil {
		writeError(w, http.StatusBadRequest, "No audio chunk provided")
		return
	}
	file, header, err := r.FormFile("audio_chunk")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No audio chunk provided")
		return
	}
	defer file.Close()

	var (
		res          services.AudioResult
		transcribing error
	)
	_, err = s.sessions.Update(r.Context(), id, func(sess *models.Session) error {
		var err error
		res, err = s.audio.Chunk(r.Context(), sess, header.Filename, file)
		switch {
		case errors.Is(err, services.ErrNotListening), errors.Is(err, services.ErrTranscriptionUnavailable):
			return err
		case err != nil:
			// Stored chunks were consumed; keep that bookkeeping.
			transcribing = err
		}
		return nil
	})
	if err == nil {
		err = transcribing
	}
	if err != nil {
		s.audioError(w, err)
		return
	}
	writeAudioResult(w, res)
}

func writeAudioResult(w http.ResponseWriter, res services.AudioResult) {
	body := map[string]any{"is_final": res.IsFinal, "success": true}
	if res.Text != "" {
		body["text"] = res.Text
	}
	if res.Message != "" {
		body["message"] = res.Message
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) audioError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotListening):
		writeError(w, http.StatusBadRequest, "No active speech recognition session")
	case errors.Is(err, services.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrTranscriptionUnavailable):
		writeError(w, http.StatusServiceUnavailable, "Speech recognition is not configured")
	default:
		if isSessionError(err) {
			s.sessionError(w, err)
			return
		}
		log.Printf("transcription: %v", err)
		writeError(w, http.StatusBadGateway, "Error transcribing audio")
	}
}

func (s *Server) publishUI(sess *models.Session) {
	if s.hub != nil && sess != nil {
		s.hub.Publish(sess.ID, "ui_state_update", sess.UI)
	}
}
