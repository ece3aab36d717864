// Package app holds the relay's only state: the connection to room
// mapping. It is mutated exclusively from the relay's event handlers.
package app

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/core"
	"github.com/parley-chat/parley/internal/domain"
)

type sessionEntry struct {
	Session  core.MemberSession
	RoomID   domain.RoomID
	Muted    bool
	Deafened bool
}

// Registry maps connected sessions to their current voice room. A
// session belongs to at most one room at a time; the mapping lives only
// for the connection's lifetime.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) Bind(sid core.SessionID, sess core.MemberSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sid] = &sessionEntry{Session: sess}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound session")
}

func (r *Registry) Unbind(sid core.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbound session")
}

func (r *Registry) Session(sid core.SessionID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// EnterRoom records the membership. Reports false when the session is
// unknown or already in a room: leaving must precede joining another room.
func (r *Registry) EnterRoom(sid core.SessionID, room domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.RoomID != "" {
		return false
	}
	e.RoomID = room
	e.Muted = false
	e.Deafened = false
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("entered room")
	return true
}

// LeaveRoom clears the membership and returns the room it was in.
func (r *Registry) LeaveRoom(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok || e.RoomID == "" {
		return "", false
	}
	room := e.RoomID
	e.RoomID = ""
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("room", string(room)).Msg("left room")
	return room, true
}

func (r *Registry) RoomOf(sid core.SessionID) (domain.RoomID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok || e.RoomID == "" {
		return "", false
	}
	return e.RoomID, true
}

func (r *Registry) SetMuted(sid core.SessionID, muted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.Muted = muted
	}
}

func (r *Registry) SetDeafened(sid core.SessionID, deafened bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[sid]; ok {
		e.Deafened = deafened
	}
}

// MemberSnap is a point-in-time view of one room member.
type MemberSnap struct {
	SID      core.SessionID
	Session  core.MemberSession
	Muted    bool
	Deafened bool
}

func (r *Registry) MembersOfRoom(room domain.RoomID) []MemberSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		if e.RoomID == room {
			out = append(out, MemberSnap{SID: sid, Session: e.Session, Muted: e.Muted, Deafened: e.Deafened})
		}
	}
	return out
}

// SessionsOfUser returns the sessions a user holds in the room. Used for
// targeted signal forwarding; an empty result means the target is gone.
func (r *Registry) SessionsOfUser(room domain.RoomID, user domain.UserID) []MemberSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []MemberSnap
	for sid, e := range r.sessions {
		if e.RoomID == room && e.Session.User().ID == user {
			out = append(out, MemberSnap{SID: sid, Session: e.Session, Muted: e.Muted, Deafened: e.Deafened})
		}
	}
	return out
}
