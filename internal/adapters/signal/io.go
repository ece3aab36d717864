package signal

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/core"
	"github.com/parley-chat/parley/internal/protocol"
)

const writeDeadline = 5 * time.Second

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				log.Warn().Str("module", "signal").Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump processes one connection's events strictly in arrival order.
// The single reader goroutine is what gives the per-connection ordering
// guarantee; cross-connection ordering is not promised.
func (ctl *Controller) readPump(ctx context.Context, sid core.SessionID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump ctx done")
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
				return
			}
			ctl.Dispatch(sid, c, data)
		}
	}
}

// Dispatch routes one inbound frame. Malformed frames and unknown types
// are logged and dropped; they never take the connection down.
func (ctl *Controller) Dispatch(sid core.SessionID, conn core.SignalConnection, data []byte) {
	t, err := protocol.Peek(data)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("bad frame")
		ctl.sendEvent(conn, protocol.TypeError, protocol.ErrorEvent{Code: "bad_payload"})
		return
	}

	switch t {
	case protocol.TypeJoin:
		ctl.handleJoin(sid, conn, data)
	case protocol.TypeLeave:
		ctl.handleLeave(sid)
	case protocol.TypeSignal:
		ctl.handleSignal(sid, conn, data)
	case protocol.TypeMute:
		ctl.handleMute(sid, conn, data)
	case protocol.TypeDeafen:
		ctl.handleDeafen(sid, conn, data)
	case protocol.TypeSpeaking:
		ctl.handleSpeaking(sid, conn, data)
	case protocol.TypeTypingStart:
		ctl.handleTyping(sid, conn, data, true)
	case protocol.TypeTypingStop:
		ctl.handleTyping(sid, conn, data, false)
	case protocol.TypeSendMessage:
		ctl.handleSendMessage(sid, conn, data)
	case protocol.TypePing:
		ctl.handlePing(conn)
	default:
		log.Warn().Str("module", "signal").Str("type", string(t)).Msg("unknown signal")
	}
}
