package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/core"
	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

func (ctl *Controller) handleJoin(sid core.SessionID, conn core.SignalConnection, data []byte) {
	p, err := protocol.Parse[protocol.Join](data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
		ctl.sendEvent(conn, protocol.TypeError, protocol.ErrorEvent{Code: "bad_payload"})
		return
	}

	sess, ok := ctl.Registry.Session(sid)
	if !ok {
		return
	}
	user := sess.User()
	room := domain.RoomID(p.Room)

	if ctl.Limiter != nil && !ctl.Limiter.Allow(user.ID) {
		log.Warn().Str("module", "signal").Str("user", string(user.ID)).Msg("join rate limited")
		ctl.sendEvent(conn, protocol.TypeError, protocol.ErrorEvent{Code: "rate_limited"})
		return
	}

	if ctl.Directory != nil {
		if err := ctl.Directory.Authorize(context.Background(), user.ID, room); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("user", string(user.ID)).Str("room", string(room)).Msg("join denied")
			ctl.sendEvent(conn, protocol.TypeError, protocol.ErrorEvent{Code: "not_a_member"})
			return
		}
	}

	if !ctl.Registry.EnterRoom(sid, room) {
		ctl.sendEvent(conn, protocol.TypeError, protocol.ErrorEvent{Code: "already_in_room"})
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Msg("join")

	members := ctl.Registry.MembersOfRoom(room)
	participants := make([]protocol.ParticipantState, 0, len(members))
	for _, m := range members {
		u := m.Session.User()
		participants = append(participants, protocol.ParticipantState{
			UserID:   u.ID,
			Username: u.Username,
			Avatar:   u.Avatar,
			Muted:    m.Muted,
			Deafened: m.Deafened,
		})
	}
	ctl.sendEvent(conn, protocol.TypeRoomState, protocol.RoomState{
		Room:         room,
		Participants: participants,
		Count:        len(participants),
	})

	ctl.broadcastRoom(room, sid, protocol.TypeUserJoined, protocol.UserJoined{
		Room: room,
		User: *user,
	})
}

func (ctl *Controller) handleLeave(sid core.SessionID) {
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("leave")
	ctl.cleanup(sid)
}

// cleanup removes the room mapping and notifies the room, exactly once.
// Both explicit leave and connection loss land here; LeaveRoom's atomic
// check-and-clear is what bounds the user_left fan-out to one event.
func (ctl *Controller) cleanup(sid core.SessionID) {
	room, ok := ctl.Registry.LeaveRoom(sid)
	if !ok {
		return
	}
	sess, ok := ctl.Registry.Session(sid)
	if !ok {
		return
	}
	ctl.broadcastRoom(room, sid, protocol.TypeUserLeft, protocol.UserLeft{
		Room:   room,
		UserID: sess.User().ID,
	})
}
