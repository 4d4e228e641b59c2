package api

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"recall-ai/internal/models"
	"recall-ai/internal/realtime"
	"recall-ai/internal/services"
	"recall-ai/internal/store"
)

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var payload chatRequest
	if err := decodeJSON(r, &payload); err != nil || strings.TrimSpace(payload.Message) == "" {
		writeError(w, http.StatusBadRequest, "Invalid session or empty message")
		return
	}
	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}

	// The turn runs on the loaded copy; only dialogue fields are written back.
	reply := s.dialogue.Respond(r.Context(), sess, strings.TrimSpace(payload.Message))
	updated, err := s.sessions.Update(r.Context(), sess.ID, func(current *models.Session) error {
		current.CopyDialogue(sess)
		return nil
	})
	if err != nil {
		s.sessionError(w, err)
		return
	}
	s.publishSession(updated)

	questions := reply.Questions
	if questions == nil {
		questions = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"response":  reply.Text,
		"questions": questions,
		"has_topic": reply.HasTopic,
		"success":   true,
	})
}

func (s *Server) handleQuestionState(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetQuestionState(w, r)
	case http.MethodPost:
		s.handleUpdateQuestionState(w, r)
	default:
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (s *Server) handleGetQuestionState(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		s.sessionError(w, err)
		return
	}

	state := realtime.QuestionStateOf(sess)
	due := s.dialogue.DueQuestions(sess)
	if due == nil {
		due = []int{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"question_state":   state.QuestionState,
		"current_question": state.CurrentQuestion,
		"questions":        sess.Questions,
		"total_questions":  state.TotalQuestions,
		"due_questions":    due,
		"success":          true,
	})
}

func (s *Server) handleUpdateQuestionState(w http.ResponseWriter, r *http.Request) {
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}
	var data map[string]any
	if err := decodeJSON(r, &data); err != nil || len(data) == 0 {
		writeError(w, http.StatusBadRequest, "No data provided")
		return
	}
	action, _ := data["action"].(string)
	if action == "" {
		action = "update"
	}

	switch action {
	case "next", "previous":
		dir := 1
		if action == "previous" {
			dir = -1
		}
		s.navigate(w, r, id, dir)
	case "evaluate":
		answer, _ := data["answer"].(string)
		if strings.TrimSpace(answer) == "" {
			writeError(w, http.StatusBadRequest, "No answer provided")
			return
		}
		s.evaluate(w, r, id, answer)
	case "update":
		var state models.QuestionProgress
		updated, err := s.sessions.Update(r.Context(), id, func(sess *models.Session) error {
			if err := services.ApplyUpdate(&sess.Progress, data, len(sess.Questions)); err != nil {
				return err
			}
			sess.UI.CurrentQuestionIndex = sess.Progress.CurrentIndex
			state = sess.Progress
			return nil
		})
		if errors.Is(err, services.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err != nil {
			s.sessionError(w, err)
			return
		}
		s.publishSession(updated)
		writeJSON(w, http.StatusOK, map[string]any{"question_state": state, "success": true})
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown action: %s", action))
	}
}

func (s *Server) navigate(w http.ResponseWriter, r *http.Request, id string, dir int) {
	var res services.AdvanceResult
	updated, err := s.sessions.Update(r.Context(), id, func(sess *models.Session) error {
		var err error
		res, err = s.dialogue.Navigate(sess, dir)
		return err
	})
	if errors.Is(err, services.ErrNoQuestions) {
		writeError(w, http.StatusBadRequest, "No questions available")
		return
	}
	if err != nil {
		s.sessionError(w, err)
		return
	}
	s.publishSession(updated)

	body := map[string]any{
		"question": res.Question,
		"index":    res.Index,
		"total":    res.Total,
		"success":  true,
	}
	if res.Completed {
		body["completed"] = true
		body["summary"] = res.Summary
		body["accuracy"] = res.Accuracy
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request, id string, answer string) {
	var (
		eval     models.Evaluation
		feedback string
		mastery  float64
	)
	updated, err := s.sessions.Update(r.Context(), id, func(sess *models.Session) error {
		var err error
		eval, feedback, err = s.dialogue.Evaluate(r.Context(), sess, answer)
		if err != nil {
			return err
		}
		mastery = sess.Progress.MasteryLevel
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, services.ErrNoQuestions):
		writeError(w, http.StatusBadRequest, "No questions available")
		return
	case errors.Is(err, store.ErrInvalidSession):
		s.sessionError(w, err)
		return
	case errors.Is(err, services.ErrAIUnavailable):
		writeError(w, http.StatusServiceUnavailable, "There was an issue connecting to the AI service. Please try again later.")
		return
	default:
		log.Printf("evaluate answer for %s: %v", id, err)
		writeError(w, http.StatusServiceUnavailable, "I apologize, but I'm having trouble evaluating your answer. Please try again.")
		return
	}
	s.publishSession(updated)
	writeJSON(w, http.StatusOK, map[string]any{
		"feedback":      feedback,
		"evaluation":    eval,
		"mastery_level": mastery,
		"success":       true,
	})
}

func (s *Server) handleUIState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodGet, http.MethodPost)
		return
	}
	id, ok := s.sessionID(w, r)
	if !ok {
		return
	}

	var update map[string]any
	if r.Method == http.MethodPost {
		if err := decodeJSON(r, &update); err != nil || len(update) == 0 {
			writeError(w, http.StatusBadRequest, "No data provided")
			return
		}
	}

	var invalid error
	updated, err := s.sessions.Update(r.Context(), id, func(sess *models.Session) error {
		// A GET still counts as an interaction.
		if err := sess.UI.Merge(update, s.sessions.Now()); err != nil {
			invalid = err
			return err
		}
		return nil
	})
	if invalid != nil {
		writeError(w, http.StatusBadRequest, invalid.Error())
		return
	}
	if err != nil {
		s.sessionError(w, err)
		return
	}
	if r.Method == http.MethodPost {
		s.publishUI(updated)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ui_state": updated.UI, "success": true})
}

func (s *Server) handleWSToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}

	var tok models.AuthToken
	_, err := s.sessions.Update(r.Context(), sess.ID, func(sess *models.Session) error {
		tok = realtime.IssueToken(sess, s.opts.TokenTTL, s.sessions.Now())
		return nil
	})
	if err != nil {
		s.sessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token":      tok.Token,
		"session_id": sess.ID,
		"expires_at": tok.ExpiresAt,
		"success":    true,
	})
}
