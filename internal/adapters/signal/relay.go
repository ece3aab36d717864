package signal

import (
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/core"
	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

// handleSignal forwards an offer/answer/candidate to the target user's
// connections in the sender's room, and nowhere else. An unknown target
// is dropped silently; the sender stays alive.
func (ctl *Controller) handleSignal(sid core.SessionID, conn core.SignalConnection, data []byte) {
	p, err := protocol.Parse[protocol.Signal](data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad signal payload")
		ctl.sendEvent(conn, protocol.TypeError, protocol.ErrorEvent{Code: "bad_payload"})
		return
	}
	if p.To == "" {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("signal without target")
		return
	}

	room, ok := ctl.Registry.RoomOf(sid)
	if !ok {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("signal from member of no room")
		return
	}
	sess, ok := ctl.Registry.Session(sid)
	if !ok {
		return
	}

	targets := ctl.Registry.SessionsOfUser(room, domain.UserID(p.To))
	if len(targets) == 0 {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("target", p.To).Msg("signal target not in room, dropped")
		return
	}

	fwd := protocol.Signal{
		From:      string(sess.User().ID),
		Kind:      p.Kind,
		SDP:       p.SDP,
		Candidate: p.Candidate,
	}
	out, err := protocol.Encode(protocol.TypeSignal, fwd)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("encode forward")
		return
	}
	for _, t := range targets {
		if err := t.Session.Signal().TrySend(out); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("target", p.To).Msg("forward drop")
		}
	}
}
