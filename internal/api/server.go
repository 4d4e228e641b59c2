package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"recall-ai/internal/models"
	"recall-ai/internal/realtime"
	"recall-ai/internal/services"
	"recall-ai/internal/speech"
	"recall-ai/internal/store"
	"recall-ai/internal/uploads"
)

const (
	maxMultipartMemory = 8 << 20 // 8 MB
	sessionCookie      = "session_id"
)

// Options carries the HTTP-facing settings.
type Options struct {
	AllowedOrigins []string
	CookieSecure   bool
	MaxUploadBytes int64
	TokenTTL       time.Duration
	DefaultTTS     models.TTSPreferences
}

// Deps are the services the server routes to. Speech, Presigner and the
// websocket handler may be nil-backed; their routes then answer 503.
type Deps struct {
	Sessions  *store.Sessions
	Dialogue  *services.DialogueService
	Ingestion *services.IngestionService
	Audio     *services.AudioService
	Speech    *speech.Engine
	Hub       *realtime.Hub
	WebSocket http.Handler
	Presigner *uploads.Presigner
}

type Server struct {
	mux       *http.ServeMux
	opts      Options
	sessions  *store.Sessions
	dialogue  *services.DialogueService
	ingestion *services.IngestionService
	audio     *services.AudioService
	speech    *speech.Engine
	hub       *realtime.Hub
	presigner *uploads.Presigner
	jobs      *JobManager
}

func NewServer(deps Deps, opts Options) *Server {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = realtime.DefaultTokenTTL
	}
	s := &Server{
		mux:       http.NewServeMux(),
		opts:      opts,
		sessions:  deps.Sessions,
		dialogue:  deps.Dialogue,
		ingestion: deps.Ingestion,
		audio:     deps.Audio,
		speech:    deps.Speech,
		hub:       deps.Hub,
		presigner: deps.Presigner,
		jobs:      NewJobManager(),
	}
	s.routes()
	if deps.WebSocket != nil {
		s.mux.Handle("/ws", deps.WebSocket)
	}
	return s
}

// Handler returns the mux wrapped with CORS handling.
func (s *Server) Handler() http.Handler {
	return s.cors(s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/session", s.handleSession)
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/questions/state", s.handleQuestionState)
	s.mux.HandleFunc("/api/ui-state", s.handleUIState)
	s.mux.HandleFunc("/api/upload-pdf", s.handleUploadPDF)
	s.mux.HandleFunc("/api/upload-pdf/jobs", s.handleCreatePDFJob)
	s.mux.HandleFunc("/api/upload-pdf/jobs/", s.handlePDFJobStatus)
	s.mux.HandleFunc("/api/upload-url", s.handleUploadURL)
	s.mux.HandleFunc("/api/transcribe", s.handleTranscribe)
	s.mux.HandleFunc("/api/audio/start", s.handleAudioStart)
	s.mux.HandleFunc("/api/audio/stop", s.handleAudioStop)
	s.mux.HandleFunc("/api/audio/chunk", s.handleAudioChunk)
	s.mux.HandleFunc("/api/tts", s.handleTTS)
	s.mux.HandleFunc("/api/tts/stream", s.handleTTSStream)
	s.mux.HandleFunc("/api/tts/cancel", s.handleTTSCancel)
	s.mux.HandleFunc("/api/tts/voices", s.handleTTSVoices)
	s.mux.HandleFunc("/api/tts/preferences", s.handleTTSPreferences)
	s.mux.HandleFunc("/api/tts/queue", s.handleTTSQueue)
	s.mux.HandleFunc("/api/tts/process-queue", s.handleProcessQueue)
	s.mux.HandleFunc("/api/ws-token", s.handleWSToken)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := s.allowedOrigin(r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			if origin != "*" {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowedOrigin(origin string) string {
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if origin != "" && strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

// CheckOrigin is the websocket origin policy matching the CORS settings.
func CheckOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSession is the page-load entry point: it creates the session and
// sets the cookie the other routes rely on.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}
	sess, ok := s.openSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"has_topic":  sess.HasTopic(),
		"topic":      sess.Topic,
		"messages":   sess.Messages,
		"success":    true,
	})
}

// openSession resolves the cookie to a session, creating one when the
// cookie is absent or stale. Session ids are always minted by the server; an
// unknown cookie value is never adopted.
func (s *Server) openSession(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	var id string
	if c, err := r.Cookie(sessionCookie); err == nil {
		id = c.Value
	}
	sess, err := s.sessions.Get(r.Context(), id)
	if isSessionError(err) {
		sess, _, err = s.sessions.GetOrCreate(r.Context(), "")
	}
	if err != nil {
		log.Printf("open session: %v", err)
		writeError(w, http.StatusInternalServerError, "could not open session")
		return nil, false
	}
	if sess.ID != id {
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    sess.ID,
			Path:     "/",
			HttpOnly: true,
			Secure:   s.opts.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess, true
}

// sessionID returns the cookie's session id if it names an existing session.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || c.Value == "" {
		writeError(w, http.StatusBadRequest, "Invalid session")
		return "", false
	}
	if _, err := s.sessions.Get(r.Context(), c.Value); err != nil {
		s.sessionError(w, err)
		return "", false
	}
	return c.Value, true
}

func isSessionError(err error) bool {
	return errors.Is(err, store.ErrInvalidSession)
}

func (s *Server) sessionError(w http.ResponseWriter, err error) {
	if isSessionError(err) {
		writeError(w, http.StatusBadRequest, "Invalid session")
		return
	}
	log.Printf("session: %v", err)
	writeError(w, http.StatusInternalServerError, "session store error")
}

// publishSession pushes UI and question state to the session's sockets.
func (s *Server) publishSession(sess *models.Session) {
	if s.hub == nil || sess == nil {
		return
	}
	s.hub.Publish(sess.ID, "ui_state_update", sess.UI)
	s.hub.Publish(sess.ID, "question_state_update", realtime.QuestionStateOf(sess))
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("No data provided")
	}
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return errors.New("No data provided")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message, "success": false})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
