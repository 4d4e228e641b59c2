package realtime

import (
	"log"
	"sync"
)

// Hub groups authenticated connections by session id.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Connection]struct{}
}

func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[*Connection]struct{})}
}

func (h *Hub) Join(sessionID string, c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[sessionID]
	if room == nil {
		room = make(map[*Connection]struct{})
		h.rooms[sessionID] = room
	}
	room[c] = struct{}{}
}

func (h *Hub) Leave(sessionID string, c *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[sessionID]
	if room == nil {
		return
	}
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

// Members reports how many connections are bound to a session.
func (h *Hub) Members(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[sessionID])
}

// Publish sends an event to every connection bound to sessionID. Sessions
// with nobody listening are skipped silently. It never waits on a slow
// client: a connection whose buffer is full misses the event.
func (h *Hub) Publish(sessionID, event string, payload any) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.rooms[sessionID]))
	for c := range h.rooms[sessionID] {
		conns = append(conns, c)
	}
	h.mu.RUnlock()
	if len(conns) == 0 {
		return
	}

	data, err := encode(event, payload)
	if err != nil {
		log.Printf("encode %s for session %s: %v", event, sessionID, err)
		return
	}
	for _, c := range conns {
		if err := c.trySend(data); err != nil {
			log.Printf("publish %s to %s: %v", event, c.ID(), err)
		}
	}
}
