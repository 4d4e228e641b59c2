package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"recall-ai/internal/models"
	"recall-ai/internal/speech"
	"recall-ai/internal/store"
)

const maxMessageBytes = 64 << 10

// QuestionState is the payload of question_state_update.
type QuestionState struct {
	QuestionState   models.QuestionProgress `json:"question_state"`
	CurrentQuestion *string                 `json:"current_question"`
	TotalQuestions  int                     `json:"total_questions"`
}

func QuestionStateOf(sess *models.Session) QuestionState {
	qs := QuestionState{QuestionState: sess.Progress, TotalQuestions: len(sess.Questions)}
	if q, ok := sess.CurrentQuestion(); ok {
		qs.CurrentQuestion = &q
	}
	return qs
}

type authStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

type authRequest struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
}

// Handler upgrades /ws requests and serves the event protocol.
type Handler struct {
	hub      *Hub
	sessions *store.Sessions
	upgrader websocket.Upgrader
	now      func() time.Time
}

// NewHandler builds the websocket handler. checkOrigin may be nil to accept
// any origin.
func NewHandler(hub *Hub, sessions *store.Sessions, checkOrigin func(*http.Request) bool) *Handler {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		hub:      hub,
		sessions: sessions,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		now: time.Now,
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade: %v", err)
		return
	}
	ws.SetReadLimit(maxMessageBytes)

	c := NewConnection(ws)
	log.Printf("client connected: %s", c.ID())
	defer func() {
		if sid := c.SessionID(); sid != "" {
			h.hub.Leave(sid, c)
		}
		c.Close()
		log.Printf("client disconnected: %s", c.ID())
	}()

	c.Send("connection_status", map[string]string{"status": "connected", "sid": c.ID()})

	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("read from %s: %v", c.ID(), err)
			}
			return
		}
		if !h.dispatch(r.Context(), c, env) {
			return
		}
	}
}

// dispatch handles one inbound event and reports whether the connection
// should stay open.
func (h *Handler) dispatch(ctx context.Context, c *Connection, env Envelope) bool {
	if env.Event == "authenticate" {
		h.authenticate(ctx, c, env.Data)
		return true
	}

	switch env.Event {
	case "ui_state_request", "question_state_request", "tts_status_request":
	default:
		log.Printf("unknown event %q from %s", env.Event, c.ID())
		return true
	}

	sid := c.SessionID()
	if sid == "" {
		log.Printf("unauthenticated %s from %s, disconnecting", env.Event, c.ID())
		return false
	}
	sess, err := h.sessions.Get(ctx, sid)
	if err != nil {
		log.Printf("load session %s: %v", sid, err)
		return false
	}

	switch env.Event {
	case "ui_state_request":
		c.Send("ui_state_update", sess.UI)
	case "question_state_request":
		c.Send("question_state_update", QuestionStateOf(sess))
	case "tts_status_request":
		c.Send("tts_status_update", speech.StatusOf(sess))
	}
	return true
}

func (h *Handler) authenticate(ctx context.Context, c *Connection, data json.RawMessage) {
	var req authRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			c.Send("authentication_status", authStatus{Status: "error", Message: ErrMissingCredentials.Error()})
			return
		}
	}

	sess, err := Authenticate(ctx, h.sessions, req.SessionID, req.Token, h.now())
	if err != nil {
		msg := err.Error()
		if !errors.Is(err, ErrMissingCredentials) && !errors.Is(err, ErrInvalidToken) && !errors.Is(err, ErrTokenExpired) {
			log.Printf("authenticate %s: %v", c.ID(), err)
			msg = "Authentication error: " + err.Error()
		}
		c.Send("authentication_status", authStatus{Status: "error", Message: msg})
		return
	}

	if !c.bind(sess.ID) {
		if c.SessionID() != sess.ID {
			c.Send("authentication_status", authStatus{Status: "error", Message: "Already authenticated"})
			return
		}
	} else {
		h.hub.Join(sess.ID, c)
		log.Printf("client %s authenticated for session %s", c.ID(), sess.ID)
	}

	c.Send("authentication_status", authStatus{
		Status:    "success",
		Message:   "Authenticated successfully",
		SessionID: sess.ID,
	})
	c.Send("ui_state_update", sess.UI)
}
