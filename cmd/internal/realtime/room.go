package realtime

import (
	"log/slog"
	"sync"

	v1 "browserjam/shared/contracts/realtime/v1"
)

// Room is the set of connections bound to one session.
//
// Join/Leave are safe under concurrent Broadcast, and Broadcast never
// blocks: a member whose queue is full misses the event.
type Room struct {
	log *slog.Logger
	ID  string

	mu      sync.RWMutex
	members map[string]*Client
}

// NewRoom constructs an empty room.
func NewRoom(log *slog.Logger, id string) *Room {
	return &Room{
		log:     log,
		ID:      id,
		members: make(map[string]*Client),
	}
}

// Join adds a client to the room.
func (r *Room) Join(client *Client) {
	if r == nil || client == nil || client.ConnectionID == "" {
		return
	}

	r.mu.Lock()
	r.members[client.ConnectionID] = client
	r.mu.Unlock()

	r.log.Debug("room.member.join", "session_id", r.ID, "connection_id", client.ConnectionID)
}

// Leave removes a connection and reports how many members remain.
func (r *Room) Leave(connectionID string) int {
	if r == nil {
		return 0
	}

	r.mu.Lock()
	delete(r.members, connectionID)
	n := len(r.members)
	r.mu.Unlock()

	r.log.Debug("room.member.leave", "session_id", r.ID, "connection_id", connectionID)
	return n
}

// Len returns the current member count.
func (r *Room) Len() int {
	if r == nil {
		return 0
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// Broadcast fans env out to every member except the connection named by
// exclude (empty excludes nobody). It returns how many members accepted the
// event and how many missed it.
func (r *Room) Broadcast(env v1.Envelope, exclude string) (delivered, dropped int) {
	if r == nil {
		return 0, 0
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, m := range r.members {
		if m == nil || id == exclude {
			continue
		}
		if m.offer(env) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
