package signal

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/core"
	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

// handleSendMessage persists the message, acks the sender with the
// authoritative entry and fans it out to the rest of the room. The
// relay does not deduplicate resends; that contract lives with the
// persistence layer behind the archive.
func (ctl *Controller) handleSendMessage(sid core.SessionID, conn core.SignalConnection, data []byte) {
	p, err := protocol.Parse[protocol.SendMessage](data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad message payload")
		ctl.sendEvent(conn, protocol.TypeError, protocol.ErrorEvent{Code: "bad_payload"})
		return
	}
	room, user, ok := ctl.roomMember(sid, p.Room)
	if !ok {
		ctl.sendEvent(conn, protocol.TypeError, protocol.ErrorEvent{
			Code:          "not_a_member",
			CorrelationID: p.CorrelationID,
		})
		return
	}

	kind := p.Kind
	if kind == "" {
		kind = domain.MessageText
	}
	msg := domain.Message{
		RoomID:        room,
		AuthorID:      user.ID,
		Content:       p.Content,
		Kind:          kind,
		CorrelationID: p.CorrelationID,
	}

	stored, err := ctl.Archive.Append(context.Background(), msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("archive append")
		ctl.sendEvent(conn, protocol.TypeError, protocol.ErrorEvent{
			Code:          "store_failed",
			CorrelationID: p.CorrelationID,
		})
		return
	}

	ctl.sendEvent(conn, protocol.TypeMessageAck, protocol.MessageAck{
		CorrelationID: p.CorrelationID,
		Message:       stored,
	})
	ctl.broadcastRoom(room, sid, protocol.TypeNewMessage, protocol.NewMessage{Message: stored})
}

// replayMissed sends the offline backlog to a freshly connected session,
// in server order, then advances the delivery cursor.
func (ctl *Controller) replayMissed(sid core.SessionID, conn core.SignalConnection, user domain.UserID) {
	if ctl.Archive == nil {
		return
	}
	missed, err := ctl.Archive.MissedBy(context.Background(), user)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("user", string(user)).Msg("offline replay")
		return
	}
	if len(missed) == 0 {
		return
	}
	ctl.sendEvent(conn, protocol.TypeOfflineMessages, protocol.OfflineMessages{Messages: missed})
	last := missed[len(missed)-1].ID
	if err := ctl.Archive.MarkDelivered(context.Background(), user, last); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("user", string(user)).Msg("mark delivered")
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Int("count", len(missed)).Msg("replayed offline messages")
}
