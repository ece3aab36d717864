// Package channel is the client side of the signaling protocol: a
// websocket connection with typed subscriptions, automatic reconnect
// and an outbound queue that survives the gap.
package channel

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

const (
	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second

	baseBackoff = 500 * time.Millisecond
	maxBackoff  = 30 * time.Second

	// defaultQueueLimit bounds the outbound queue while disconnected.
	// Oldest frames are dropped first; sync keeps its own resend list
	// for messages, so dropped presence frames are acceptable.
	defaultQueueLimit = 256
)

// Client maintains one signaling connection. All handlers run on the
// single reader goroutine, so events are delivered in relay order.
type Client struct {
	url    string
	token  string
	dialer *websocket.Dialer

	mu         sync.Mutex
	conn       *websocket.Conn
	connected  bool
	closing    bool
	queue      [][]byte
	queueLimit int
	subs       map[protocol.EventType]map[int]func([]byte)
	connSubs   map[int]func()
	nextID     int

	writeMu sync.Mutex

	done chan struct{}
}

type Option func(*Client)

func WithQueueLimit(n int) Option {
	return func(c *Client) { c.queueLimit = n }
}

func New(url, token string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		token:      token,
		dialer:     &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
		queueLimit: defaultQueueLimit,
		subs:       make(map[protocol.EventType]map[int]func([]byte)),
		connSubs:   make(map[int]func()),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect dials the relay and starts the reader. After a successful
// Connect the client reconnects on its own until Close.
func (c *Client) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.attach(conn)
	go c.readLoop(conn)
	return nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (c *Client) attach(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	pending := c.queue
	c.queue = nil
	notify := make([]func(), 0, len(c.connSubs))
	for _, fn := range c.connSubs {
		notify = append(notify, fn)
	}
	c.mu.Unlock()

	for _, frame := range pending {
		if err := c.write(conn, frame); err != nil {
			log.Warn().Err(err).Str("module", "channel").Msg("queued frame replay failed")
			break
		}
	}
	for _, fn := range notify {
		fn()
	}
}

// Send encodes and writes one event. While disconnected the frame is
// queued for replay and ErrChannelDisconnected is returned so callers
// know delivery is deferred.
func (c *Client) Send(t protocol.EventType, payload any) error {
	frame, err := protocol.Encode(t, payload)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return domain.ErrChannelDisconnected
	}
	if !c.connected {
		if len(c.queue) >= c.queueLimit {
			c.queue = c.queue[1:]
		}
		c.queue = append(c.queue, frame)
		c.mu.Unlock()
		return domain.ErrChannelDisconnected
	}
	conn := c.conn
	c.mu.Unlock()

	return c.write(conn, frame)
}

func (c *Client) write(conn *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Subscribe registers a handler for one event type and returns its
// unsubscribe handle. Handlers must not block; they run on the reader.
func (c *Client) Subscribe(t protocol.EventType, fn func(data []byte)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	if c.subs[t] == nil {
		c.subs[t] = make(map[int]func([]byte))
	}
	c.subs[t][id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs[t], id)
	}
}

// OnConnect fires after every successful dial, including reconnects.
func (c *Client) OnConnect(fn func()) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.connSubs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.connSubs, id)
	}
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			closing := c.closing
			c.connected = false
			c.conn = nil
			c.mu.Unlock()
			conn.Close()
			if closing {
				return
			}
			log.Warn().Err(err).Str("module", "channel").Msg("connection lost, reconnecting")
			go c.reconnect()
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	t, err := protocol.Peek(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "channel").Msg("unreadable frame")
		return
	}
	c.mu.Lock()
	handlers := make([]func([]byte), 0, len(c.subs[t]))
	for _, fn := range c.subs[t] {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()
	for _, fn := range handlers {
		fn(data)
	}
}

func (c *Client) reconnect() {
	backoff := baseBackoff
	for {
		select {
		case <-c.done:
			return
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), handshakeTimeout)
		conn, err := c.dial(ctx)
		cancel()
		if err == nil {
			log.Info().Str("module", "channel").Msg("reconnected")
			c.attach(conn)
			go c.readLoop(conn)
			return
		}
		log.Warn().Err(err).Str("module", "channel").Dur("backoff", backoff).Msg("reconnect failed")
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// Close shuts the channel down for good; no reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	c.connected = false
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	close(c.done)
	if conn != nil {
		c.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		return conn.Close()
	}
	return nil
}
