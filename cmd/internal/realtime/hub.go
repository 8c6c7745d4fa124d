package realtime

import (
	"log/slog"
	"sync"
)

// Hub owns the in-memory rooms keyed by session id. Persistence lives
// behind store.Store; a room only exists while it has members.
type Hub struct {
	log     *slog.Logger
	metrics *Metrics

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewHub constructs a Hub. metrics may be nil.
func NewHub(log *slog.Logger, metrics *Metrics) *Hub {
	return &Hub{
		log:     log,
		metrics: metrics,
		rooms:   make(map[string]*Room),
	}
}

// Join adds client to the room for sessionID, creating it when needed.
func (h *Hub) Join(sessionID string, client *Client) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[sessionID]
	if !ok {
		r = NewRoom(h.log, sessionID)
		h.rooms[sessionID] = r
		h.metrics.setRooms(len(h.rooms))
	}
	r.Join(client)
	return r
}

// Room returns the live room for sessionID, or nil.
func (h *Hub) Room(sessionID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[sessionID]
}

// Leave removes a connection and drops the room once empty.
func (h *Hub) Leave(sessionID, connectionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[sessionID]
	if !ok {
		return
	}
	if r.Leave(connectionID) == 0 {
		delete(h.rooms, sessionID)
		h.metrics.setRooms(len(h.rooms))
	}
}

// Len returns the number of live rooms.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}
