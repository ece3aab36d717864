// Package sync keeps the client's chat view consistent with the relay:
// optimistic sends reconciled by correlation id, offline replay merged
// by authoritative id, and typing presence debounced.
package sync

import (
	"context"
	"errors"
	"sort"
	gosync "sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

// Channel is the slice of the signaling client the sync layer needs.
type Channel interface {
	Send(t protocol.EventType, payload any) error
	Subscribe(t protocol.EventType, fn func(data []byte)) (unsubscribe func())
	OnConnect(fn func()) (unsubscribe func())
}

// History loads archived messages, newest page first. A zero before-id
// means "from the tail".
type History interface {
	MessageHistory(ctx context.Context, room domain.RoomID, before domain.MessageID, limit int) ([]domain.Message, domain.MessageID, error)
}

const historyPageSize = 50

// Messages is the per-room message cache. Delivery is at-least-once:
// a send queued across a reconnect can reach the relay twice, so the
// cache deduplicates by authoritative id on every inbound path.
type Messages struct {
	ch      Channel
	history History
	self    domain.UserID

	mu      gosync.Mutex
	rooms   map[domain.RoomID][]domain.Message
	pending map[string]domain.Message // correlation id to optimistic entry
	order   []string                  // pending correlation ids in send order

	watchers map[int]func(domain.RoomID)
	onFailed func(correlationID, code string)
	nextID   int

	unsubs []func()
}

func NewMessages(ch Channel, history History, self domain.UserID) *Messages {
	m := &Messages{
		ch:       ch,
		history:  history,
		self:     self,
		rooms:    make(map[domain.RoomID][]domain.Message),
		pending:  make(map[string]domain.Message),
		watchers: make(map[int]func(domain.RoomID)),
	}
	m.unsubs = append(m.unsubs,
		ch.Subscribe(protocol.TypeNewMessage, m.onNewMessage),
		ch.Subscribe(protocol.TypeMessageAck, m.onAck),
		ch.Subscribe(protocol.TypeOfflineMessages, m.onOffline),
		ch.Subscribe(protocol.TypeError, m.onError),
		ch.OnConnect(m.resendPending),
	)
	return m
}

func (m *Messages) Close() {
	for _, unsub := range m.unsubs {
		unsub()
	}
}

// Watch registers a callback fired after any room's cache changes.
func (m *Messages) Watch(fn func(room domain.RoomID)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := m.nextID
	m.watchers[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.watchers, id)
	}
}

// OnSendFailed registers the callback for rejected sends.
func (m *Messages) OnSendFailed(fn func(correlationID, code string)) {
	m.mu.Lock()
	m.onFailed = fn
	m.mu.Unlock()
}

// Seed loads the newest history page into an empty room cache. Calling
// it on a non-empty cache merges by id like any other inbound batch.
func (m *Messages) Seed(ctx context.Context, room domain.RoomID) error {
	if m.history == nil {
		return nil
	}
	page, _, err := m.history.MessageHistory(ctx, room, "", historyPageSize)
	if err != nil {
		return err
	}
	m.mu.Lock()
	for _, msg := range page {
		m.mergeLocked(msg)
	}
	m.mu.Unlock()
	m.notify(room)
	return nil
}

// Send appends an optimistic entry and emits it. The returned correlation
// id tracks the entry until the relay acks or rejects it. A disconnected
// channel is not an error here: the entry stays pending and the reconnect
// pass resends it.
func (m *Messages) Send(room domain.RoomID, content string, kind domain.MessageKind) (string, error) {
	if content == "" || len(content) > domain.MaxMessageLen {
		return "", domain.ErrInvalidMessage
	}
	if kind == "" {
		kind = domain.MessageText
	}
	corr := uuid.NewString()
	optimistic := domain.Message{
		RoomID:        room,
		AuthorID:      m.self,
		Content:       content,
		Kind:          kind,
		CorrelationID: corr,
		Pending:       true,
	}
	out := protocol.SendMessage{
		Room:          string(room),
		Content:       content,
		Kind:          kind,
		CorrelationID: corr,
	}

	m.mu.Lock()
	m.rooms[room] = append(m.rooms[room], optimistic)
	m.pending[corr] = optimistic
	m.order = append(m.order, corr)
	m.mu.Unlock()
	m.notify(room)

	if err := m.ch.Send(protocol.TypeSendMessage, out); err != nil {
		// The entry stays pending either way; the reconnect pass retries it.
		if errors.Is(err, domain.ErrChannelDisconnected) {
			return corr, nil
		}
		return corr, err
	}
	return corr, nil
}

// Room returns the room's messages oldest first. The slice is a copy.
func (m *Messages) Room(room domain.RoomID) []domain.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Message, len(m.rooms[room]))
	copy(out, m.rooms[room])
	return out
}

func (m *Messages) onNewMessage(data []byte) {
	ev, err := protocol.Parse[protocol.NewMessage](data)
	if err != nil {
		log.Warn().Err(err).Str("module", "sync").Msg("bad new_message")
		return
	}
	m.mu.Lock()
	m.mergeLocked(ev.Message)
	m.mu.Unlock()
	m.notify(ev.Message.RoomID)
}

func (m *Messages) onAck(data []byte) {
	ev, err := protocol.Parse[protocol.MessageAck](data)
	if err != nil {
		log.Warn().Err(err).Str("module", "sync").Msg("bad message_ack")
		return
	}
	room := ev.Message.RoomID
	m.mu.Lock()
	if _, ok := m.pending[ev.CorrelationID]; ok {
		m.dropPendingLocked(ev.CorrelationID)
		m.replaceLocked(room, ev.CorrelationID, ev.Message)
	} else {
		// Ack for a send we no longer track (restart, duplicate ack):
		// treat the authoritative entry like any other inbound message.
		m.mergeLocked(ev.Message)
	}
	m.mu.Unlock()
	m.notify(room)
}

func (m *Messages) onOffline(data []byte) {
	ev, err := protocol.Parse[protocol.OfflineMessages](data)
	if err != nil {
		log.Warn().Err(err).Str("module", "sync").Msg("bad offline_messages")
		return
	}
	touched := map[domain.RoomID]bool{}
	m.mu.Lock()
	for _, msg := range ev.Messages {
		m.mergeLocked(msg)
		touched[msg.RoomID] = true
	}
	m.mu.Unlock()
	for room := range touched {
		m.notify(room)
	}
}

func (m *Messages) onError(data []byte) {
	ev, err := protocol.Parse[protocol.ErrorEvent](data)
	if err != nil || ev.CorrelationID == "" {
		return
	}
	m.mu.Lock()
	opt, ok := m.pending[ev.CorrelationID]
	if ok {
		m.dropPendingLocked(ev.CorrelationID)
		m.removeLocked(opt.RoomID, ev.CorrelationID)
	}
	fn := m.onFailed
	m.mu.Unlock()
	if !ok {
		return
	}
	m.notify(opt.RoomID)
	if fn != nil {
		fn(ev.CorrelationID, ev.Code)
	}
	log.Warn().Str("module", "sync").Str("correlation_id", ev.CorrelationID).
		Str("code", ev.Code).Msg("send rejected")
}

// resendPending re-emits every unacked send after a reconnect. A send
// that reached the relay just before the drop goes out a second time;
// the relay-side and cache-side id dedup absorb the duplicate.
func (m *Messages) resendPending() {
	m.mu.Lock()
	batch := make([]protocol.SendMessage, 0, len(m.order))
	for _, corr := range m.order {
		opt, ok := m.pending[corr]
		if !ok {
			continue
		}
		batch = append(batch, protocol.SendMessage{
			Room:          string(opt.RoomID),
			Content:       opt.Content,
			Kind:          opt.Kind,
			CorrelationID: corr,
		})
	}
	m.mu.Unlock()
	for _, out := range batch {
		if err := m.ch.Send(protocol.TypeSendMessage, out); err != nil {
			if errors.Is(err, domain.ErrChannelDisconnected) {
				// Still pending, the next reconnect picks it up again.
				return
			}
			log.Warn().Err(err).Str("module", "sync").
				Str("correlation_id", out.CorrelationID).Msg("resend failed")
		}
	}
}

func (m *Messages) dropPendingLocked(correlationID string) {
	delete(m.pending, correlationID)
	for i, corr := range m.order {
		if corr == correlationID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

// mergeLocked inserts an authoritative message unless its id is already
// cached. An entry still pending under the same correlation id is
// replaced instead, covering acks that raced the new_message fanout.
func (m *Messages) mergeLocked(msg domain.Message) {
	room := msg.RoomID
	for _, existing := range m.rooms[room] {
		if msg.ID != "" && existing.ID == msg.ID {
			return
		}
	}
	if msg.CorrelationID != "" {
		if _, ok := m.pending[msg.CorrelationID]; ok && msg.AuthorID == m.self {
			m.dropPendingLocked(msg.CorrelationID)
			m.replaceLocked(room, msg.CorrelationID, msg)
			return
		}
	}
	m.rooms[room] = append(m.rooms[room], msg)
	sort.SliceStable(m.rooms[room], func(i, j int) bool {
		a, b := m.rooms[room][i], m.rooms[room][j]
		if a.Pending != b.Pending {
			return b.Pending // pending entries sort after confirmed ones
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (m *Messages) replaceLocked(room domain.RoomID, correlationID string, msg domain.Message) {
	list := m.rooms[room]
	for i := range list {
		if list[i].CorrelationID == correlationID {
			list[i] = msg
			return
		}
	}
	m.rooms[room] = append(list, msg)
}

func (m *Messages) removeLocked(room domain.RoomID, correlationID string) {
	list := m.rooms[room]
	for i := range list {
		if list[i].CorrelationID == correlationID {
			m.rooms[room] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

func (m *Messages) notify(room domain.RoomID) {
	m.mu.Lock()
	fns := make([]func(domain.RoomID), 0, len(m.watchers))
	for _, fn := range m.watchers {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(room)
	}
}
