package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/core"
	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

// Voice-state changes are broadcast to the rest of the room. The only
// check is that the sender currently belongs to the room it names.
func (ctl *Controller) roomMember(sid core.SessionID, room string) (domain.RoomID, *domain.User, bool) {
	current, ok := ctl.Registry.RoomOf(sid)
	if !ok || current != domain.RoomID(room) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("room", room).Msg("state change from non-member")
		return "", nil, false
	}
	sess, ok := ctl.Registry.Session(sid)
	if !ok {
		return "", nil, false
	}
	return current, sess.User(), true
}

func (ctl *Controller) handleMute(sid core.SessionID, conn core.SignalConnection, data []byte) {
	p, err := protocol.Parse[protocol.Mute](data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad mute payload")
		return
	}
	room, user, ok := ctl.roomMember(sid, p.Room)
	if !ok {
		return
	}
	ctl.Registry.SetMuted(sid, p.Muted)
	ctl.broadcastRoom(room, sid, protocol.TypeUserMuted, protocol.UserMuted{
		UserID: user.ID,
		Muted:  p.Muted,
	})
}

func (ctl *Controller) handleDeafen(sid core.SessionID, conn core.SignalConnection, data []byte) {
	p, err := protocol.Parse[protocol.Deafen](data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad deafen payload")
		return
	}
	room, user, ok := ctl.roomMember(sid, p.Room)
	if !ok {
		return
	}
	ctl.Registry.SetDeafened(sid, p.Deafened)
	ctl.broadcastRoom(room, sid, protocol.TypeUserDeafened, protocol.UserDeafened{
		UserID:   user.ID,
		Deafened: p.Deafened,
	})
}

func (ctl *Controller) handleSpeaking(sid core.SessionID, conn core.SignalConnection, data []byte) {
	p, err := protocol.Parse[protocol.Speaking](data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad speaking payload")
		return
	}
	room, user, ok := ctl.roomMember(sid, p.Room)
	if !ok {
		return
	}
	ctl.broadcastRoom(room, sid, protocol.TypeUserSpeaking, protocol.UserSpeaking{
		UserID:   user.ID,
		Speaking: p.Speaking,
		Level:    p.Level,
	})
}

func (ctl *Controller) handleTyping(sid core.SessionID, conn core.SignalConnection, data []byte, typing bool) {
	p, err := protocol.Parse[protocol.Typing](data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad typing payload")
		return
	}
	room, user, ok := ctl.roomMember(sid, p.Room)
	if !ok {
		return
	}
	// No debounce here: typing cadence is a client concern.
	ctl.broadcastRoom(room, sid, protocol.TypeUserTyping, protocol.UserTyping{
		Room:   room,
		UserID: user.ID,
		Typing: typing,
	})
}
