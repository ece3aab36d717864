// Package signal is the signaling relay: a per-connection broker that
// tracks who is in which room, forwards negotiation payloads between
// specific peers and fans out room events. Its only state is the
// connection to room registry.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/app"
	"github.com/parley-chat/parley/internal/config"
	"github.com/parley-chat/parley/internal/core"
	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

var ErrBackpressure = errors.New("backpressure")

type Controller struct {
	Registry  *app.Registry
	Directory core.RoomDirectory
	Archive   core.MessageArchive
	Limiter   *JoinRateLimiter

	sendBuffer int
	readLimit  int64
}

func NewController(cfg *config.Config, reg *app.Registry, dir core.RoomDirectory, arc core.MessageArchive) *Controller {
	return &Controller{
		Registry:   reg,
		Directory:  dir,
		Archive:    arc,
		Limiter:    NewJoinRateLimiter(cfg.JoinRateLimit, cfg.JoinRateInterval),
		sendBuffer: cfg.SendBuffer,
		readLimit:  cfg.ReadLimit,
	}
}

// wsConn adapts a websocket connection to core.SignalConnection. Sends
// go through a buffered channel drained by the write pump; a full buffer
// fails the send instead of blocking the relay.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

// memberSession pairs the authenticated user with its transport.
type memberSession struct {
	user *domain.User
	conn core.SignalConnection
}

func (m *memberSession) User() *domain.User            { return m.user }
func (m *memberSession) Signal() core.SignalConnection { return m.conn }

func NewMemberSession(user *domain.User, conn core.SignalConnection) core.MemberSession {
	return &memberSession{user: user, conn: conn}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWS upgrades the authenticated request and runs the pumps. The
// auth middleware has already placed the user in the gin context.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("session_id"))
	user, ok := c.MustGet("user").(*domain.User)
	if !ok {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("user", string(user.ID)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.readLimit)

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, ctl.sendBuffer),
	}
	ctl.Registry.Bind(sid, NewMemberSession(user, conn))

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)

	// Reconnect catch-up: the missed batch is queued before the read
	// pump starts, so no inbound frame can slip a reply ahead of it.
	ctl.replayMissed(sid, conn, user.ID)

	go func() {
		defer cancel()
		ctl.readPump(ctx, sid, conn)
		ctl.Disconnect(sid)
	}()
}

// Disconnect runs the same cleanup as an explicit leave, then drops the
// session. Network loss and leave must be indistinguishable to the room.
func (ctl *Controller) Disconnect(sid core.SessionID) {
	ctl.cleanup(sid)
	if sess, ok := ctl.Registry.Session(sid); ok {
		sess.Signal().Close()
	}
	ctl.Registry.Unbind(sid)
}

func (ctl *Controller) sendEvent(conn core.SignalConnection, t protocol.EventType, payload any) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", string(t)).Msg("encode event")
		return
	}
	if err := conn.TrySend(data); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("type", string(t)).Msg("send event")
	}
}

// broadcastRoom fans an event out to every room member except the sender.
func (ctl *Controller) broadcastRoom(room domain.RoomID, except core.SessionID, t protocol.EventType, payload any) {
	data, err := protocol.Encode(t, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", string(t)).Msg("encode broadcast")
		return
	}
	for _, m := range ctl.Registry.MembersOfRoom(room) {
		if m.SID == except {
			continue
		}
		if err := m.Session.Signal().TrySend(data); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("sid", string(m.SID)).Str("type", string(t)).Msg("broadcast drop")
		}
	}
}
