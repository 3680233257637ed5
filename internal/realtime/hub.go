// Package realtime routes order lifecycle events to live connections grouped
// into rooms. Delivery is best effort: there is no durable queue, and a
// client that disconnects simply misses events until it reconnects and
// resyncs through the read API.
package realtime

import (
	"sync"
	"sync/atomic"
)

// AdminRoom is the shared room every connected administrator joins.
const AdminRoom = "admin"

// UserRoom names the private room for a customer's own order updates.
func UserRoom(ownerID string) string {
	return "user:" + ownerID
}

// Envelope is the wire shape of a delivered event.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Session is one live connection's subscription handle. Events arrive on a
// buffered channel; the transport drains it in order, so delivery is FIFO
// per session.
type Session struct {
	send   chan Envelope
	closed bool // guarded by hub.mu
}

// C returns the session's event stream. It is closed on Disconnect.
func (s *Session) C() <-chan Envelope {
	return s.send
}

// Hub is the room router. It is an explicit instance handed to whatever
// issues publishes; there is no package-level singleton.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[string]map[*Session]struct{}
	sessions map[*Session]map[string]struct{}
	dropped  atomic.Uint64
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		rooms:    make(map[string]map[*Session]struct{}),
		sessions: make(map[*Session]map[string]struct{}),
	}
}

// NewSession registers a connected session with an outbound buffer of the
// given size.
func (h *Hub) NewSession(buffer int) *Session {
	if buffer < 1 {
		buffer = 1
	}
	s := &Session{send: make(chan Envelope, buffer)}
	h.mu.Lock()
	h.sessions[s] = make(map[string]struct{})
	h.mu.Unlock()
	return s
}

// Subscribe adds the session to a room. Subscribing twice is a no-op.
func (h *Hub) Subscribe(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.sessions[s]
	if !ok {
		return // already disconnected
	}
	if _, ok := subs[room]; ok {
		return
	}
	subs[room] = struct{}{}
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		h.rooms[room] = members
	}
	members[s] = struct{}{}
}

// Unsubscribe removes the session from a room.
func (h *Hub) Unsubscribe(s *Session, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s, room)
}

// Disconnect drops every subscription the session holds and closes its
// event stream. Safe to call more than once.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.sessions[s]
	if !ok {
		return
	}
	for room := range subs {
		h.removeLocked(s, room)
	}
	delete(h.sessions, s)
	if !s.closed {
		s.closed = true
		close(s.send)
	}
}

// Publish delivers the event to every session subscribed to room. Sends are
// non-blocking: a subscriber whose buffer is full drops the event rather
// than delaying delivery to the others.
func (h *Hub) Publish(room, event string, payload interface{}) {
	env := Envelope{Event: event, Data: payload}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for s := range h.rooms[room] {
		select {
		case s.send <- env:
		default:
			h.dropped.Add(1)
		}
	}
}

// Dropped reports how many events were discarded against full buffers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// RoomSize reports current membership, mainly for tests and health output.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) removeLocked(s *Session, room string) {
	if subs, ok := h.sessions[s]; ok {
		delete(subs, room)
	}
	if members, ok := h.rooms[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}
