// Package rendezvous is the signaling server the client ships with: identity
// registry, room membership, targeted negotiation relay and room-wide chat
// fan-out.
package rendezvous

import (
	"sync"

	"github.com/rs/zerolog/log"

	"voicemesh/internal/core"
	"voicemesh/internal/domain"
)

type entry struct {
	conn        core.SignalConnection
	participant domain.Participant
	room        domain.RoomID
}

// Registry tracks identified clients and their room association. At most one
// live connection per participant id; a re-identify replaces the old one.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.ParticipantID]*entry
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[domain.ParticipantID]*entry)}
}

// Identify binds a participant to a connection, closing any previous one.
func (r *Registry) Identify(p domain.Participant, conn core.SignalConnection) {
	r.mu.Lock()
	old, ok := r.clients[p.ID]
	r.clients[p.ID] = &entry{conn: conn, participant: p}
	r.mu.Unlock()
	if ok {
		old.conn.Close()
		log.Info().Str("module", "rendezvous").Str("user", string(p.ID)).Msg("replaced existing connection")
	}
	log.Info().Str("module", "rendezvous").Str("user", string(p.ID)).Str("name", p.DisplayName).Msg("identified")
}

func (r *Registry) Get(id domain.ParticipantID) (domain.Participant, domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.clients[id]
	if !ok {
		return domain.Participant{}, "", false
	}
	return e.participant, e.room, true
}

// SetRoom moves a participant into a room, returning the room it left, if
// any.
func (r *Registry) SetRoom(id domain.ParticipantID, room domain.RoomID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[id]
	if !ok {
		return "", false
	}
	prev := e.room
	e.room = room
	return prev, prev != "" && prev != room
}

// ClearRoom detaches a participant from its room.
func (r *Registry) ClearRoom(id domain.ParticipantID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[id]
	if !ok || e.room == "" {
		return "", false
	}
	room := e.room
	e.room = ""
	return room, true
}

// Remove drops a participant entirely, returning the room it occupied. The
// connection must still be the registered one: a re-identify replaces the
// entry, and the stale connection's disconnect must not deregister the
// replacement.
func (r *Registry) Remove(id domain.ParticipantID, conn core.SignalConnection) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.clients[id]
	if !ok || e.conn != conn {
		return "", false
	}
	delete(r.clients, id)
	return e.room, e.room != ""
}

type memberSnap struct {
	participant domain.Participant
	conn        core.SignalConnection
}

// RoomMembers snapshots the occupants of a room, excluding one id.
func (r *Registry) RoomMembers(room domain.RoomID, except domain.ParticipantID) []memberSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]memberSnap, 0, len(r.clients))
	for id, e := range r.clients {
		if id != except && e.room == room {
			out = append(out, memberSnap{participant: e.participant, conn: e.conn})
		}
	}
	return out
}

// Conn returns the live connection for a participant.
func (r *Registry) Conn(id domain.ParticipantID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.clients[id]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
