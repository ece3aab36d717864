package sync

import (
	"context"
	"errors"
	gosync "sync"
	"testing"
	"time"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

type sentEvent struct {
	Type    protocol.EventType
	Payload any
}

// fakeChannel records outbound events and lets tests emit inbound frames
// through the real codec.
type fakeChannel struct {
	mu           gosync.Mutex
	sent         []sentEvent
	disconnected bool
	subs         map[protocol.EventType][]func([]byte)
	connSubs     []func()
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{subs: make(map[protocol.EventType][]func([]byte))}
}

func (f *fakeChannel) Send(t protocol.EventType, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disconnected {
		return domain.ErrChannelDisconnected
	}
	f.sent = append(f.sent, sentEvent{t, payload})
	return nil
}

func (f *fakeChannel) Subscribe(t protocol.EventType, fn func([]byte)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[t] = append(f.subs[t], fn)
	return func() {}
}

func (f *fakeChannel) OnConnect(fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connSubs = append(f.connSubs, fn)
	return func() {}
}

func (f *fakeChannel) emit(t *testing.T, typ protocol.EventType, payload any) {
	t.Helper()
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", typ, err)
	}
	f.mu.Lock()
	handlers := append([]func([]byte){}, f.subs[typ]...)
	f.mu.Unlock()
	for _, fn := range handlers {
		fn(frame)
	}
}

func (f *fakeChannel) setDisconnected(down bool) {
	f.mu.Lock()
	f.disconnected = down
	f.mu.Unlock()
}

func (f *fakeChannel) reconnect() {
	f.setDisconnected(false)
	f.mu.Lock()
	subs := append([]func(){}, f.connSubs...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (f *fakeChannel) sentOf(typ protocol.EventType) []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentEvent
	for _, ev := range f.sent {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

type fakeHistory struct {
	pages map[domain.RoomID][]domain.Message
	err   error
}

func (f *fakeHistory) MessageHistory(_ context.Context, room domain.RoomID, _ domain.MessageID, _ int) ([]domain.Message, domain.MessageID, error) {
	return f.pages[room], "", f.err
}

const room = domain.RoomID("general")

func authoritative(id, corr, content string, at time.Time) domain.Message {
	return domain.Message{
		ID: domain.MessageID(id), RoomID: room, AuthorID: "alice",
		Content: content, Kind: domain.MessageText,
		CorrelationID: corr, CreatedAt: at,
	}
}

func TestOptimisticSendStaysSingleEntryThroughAck(t *testing.T) {
	ch := newFakeChannel()
	m := NewMessages(ch, nil, "alice")
	defer m.Close()

	corr, err := m.Send(room, "hello", domain.MessageText)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	got := m.Room(room)
	if len(got) != 1 || !got[0].Pending || got[0].CorrelationID != corr {
		t.Fatalf("optimistic entry wrong: %+v", got)
	}
	if sends := ch.sentOf(protocol.TypeSendMessage); len(sends) != 1 {
		t.Fatalf("expected 1 send_message, got %d", len(sends))
	}

	ch.emit(t, protocol.TypeMessageAck, protocol.MessageAck{
		CorrelationID: corr,
		Message:       authoritative("m1", corr, "hello", time.Now()),
	})
	got = m.Room(room)
	if len(got) != 1 {
		t.Fatalf("ack must replace in place, got %d entries", len(got))
	}
	if got[0].Pending || got[0].ID != "m1" {
		t.Fatalf("entry not reconciled: %+v", got[0])
	}
}

func TestAckRacingFanoutStillOneEntry(t *testing.T) {
	ch := newFakeChannel()
	m := NewMessages(ch, nil, "alice")
	defer m.Close()

	corr, _ := m.Send(room, "hi", domain.MessageText)
	auth := authoritative("m1", corr, "hi", time.Now())

	// Relay fanout and ack can arrive in either order.
	ch.emit(t, protocol.TypeNewMessage, protocol.NewMessage{Message: auth})
	ch.emit(t, protocol.TypeMessageAck, protocol.MessageAck{CorrelationID: corr, Message: auth})

	if got := m.Room(room); len(got) != 1 || got[0].ID != "m1" {
		t.Fatalf("expected single reconciled entry, got %+v", got)
	}
}

func TestRejectedSendRemovedAndSurfaced(t *testing.T) {
	ch := newFakeChannel()
	m := NewMessages(ch, nil, "alice")
	defer m.Close()

	var mu gosync.Mutex
	var failedCorr, failedCode string
	m.OnSendFailed(func(corr, code string) {
		mu.Lock()
		failedCorr, failedCode = corr, code
		mu.Unlock()
	})

	corr, _ := m.Send(room, "nope", domain.MessageText)
	ch.emit(t, protocol.TypeError, protocol.ErrorEvent{Code: "store_failed", CorrelationID: corr})

	if got := m.Room(room); len(got) != 0 {
		t.Fatalf("rejected entry must be removed, got %+v", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if failedCorr != corr || failedCode != "store_failed" {
		t.Fatalf("failure not surfaced: %q %q", failedCorr, failedCode)
	}
}

func TestInvalidContentRejectedLocally(t *testing.T) {
	ch := newFakeChannel()
	m := NewMessages(ch, nil, "alice")
	defer m.Close()

	if _, err := m.Send(room, "", domain.MessageText); !errors.Is(err, domain.ErrInvalidMessage) {
		t.Fatalf("empty content: %v", err)
	}
	long := make([]byte, domain.MaxMessageLen+1)
	if _, err := m.Send(room, string(long), domain.MessageText); !errors.Is(err, domain.ErrInvalidMessage) {
		t.Fatalf("oversized content: %v", err)
	}
	if len(ch.sentOf(protocol.TypeSendMessage)) != 0 {
		t.Fatal("invalid content must not reach the channel")
	}
}

func TestOfflineBatchDedupsById(t *testing.T) {
	ch := newFakeChannel()
	m := NewMessages(ch, nil, "alice")
	defer m.Close()

	base := time.Now()
	m1 := authoritative("m1", "", "first", base)
	m2 := authoritative("m2", "", "second", base.Add(time.Second))
	ch.emit(t, protocol.TypeNewMessage, protocol.NewMessage{Message: m1})

	// m1 again in the replay batch must not duplicate.
	ch.emit(t, protocol.TypeOfflineMessages, protocol.OfflineMessages{Messages: []domain.Message{m1, m2}})

	got := m.Room(room)
	if len(got) != 2 {
		t.Fatalf("expected 2 entries after dedup, got %d", len(got))
	}
	if got[0].ID != "m1" || got[1].ID != "m2" {
		t.Fatalf("wrong order: %+v", got)
	}
}

func TestDisconnectedSendResentOnReconnect(t *testing.T) {
	ch := newFakeChannel()
	m := NewMessages(ch, nil, "alice")
	defer m.Close()

	ch.setDisconnected(true)
	corr, err := m.Send(room, "offline words", domain.MessageText)
	if err != nil {
		t.Fatalf("queued send must not error: %v", err)
	}
	if got := m.Room(room); len(got) != 1 || !got[0].Pending {
		t.Fatalf("optimistic entry missing while offline: %+v", got)
	}

	ch.reconnect()
	sends := ch.sentOf(protocol.TypeSendMessage)
	if len(sends) != 1 {
		t.Fatalf("expected 1 resend, got %d", len(sends))
	}
	if out := sends[0].Payload.(protocol.SendMessage); out.CorrelationID != corr {
		t.Fatalf("resend carries wrong correlation id: %q", out.CorrelationID)
	}
}

func TestUnackedSendResentOnReconnect(t *testing.T) {
	ch := newFakeChannel()
	m := NewMessages(ch, nil, "alice")
	defer m.Close()

	// The frame reaches the relay, then the connection drops before
	// the ack makes it back.
	corr, err := m.Send(room, "lost ack", domain.MessageText)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sends := ch.sentOf(protocol.TypeSendMessage); len(sends) != 1 {
		t.Fatalf("expected 1 initial send, got %d", len(sends))
	}

	ch.reconnect()
	sends := ch.sentOf(protocol.TypeSendMessage)
	if len(sends) != 2 {
		t.Fatalf("unacked entry must be resent, got %d frames", len(sends))
	}
	for _, s := range sends {
		if out := s.Payload.(protocol.SendMessage); out.CorrelationID != corr {
			t.Fatalf("resend carries wrong correlation id: %q", out.CorrelationID)
		}
	}
	if got := m.Room(room); len(got) != 1 || !got[0].Pending {
		t.Fatalf("cache must still hold one pending entry: %+v", got)
	}

	// The late ack settles the entry and a further reconnect is quiet.
	ch.emit(t, protocol.TypeMessageAck, protocol.MessageAck{
		CorrelationID: corr,
		Message:       authoritative("m1", corr, "lost ack", time.Now()),
	})
	ch.reconnect()
	if sends := ch.sentOf(protocol.TypeSendMessage); len(sends) != 2 {
		t.Fatalf("acked entry must not be resent, got %d frames", len(sends))
	}
	if got := m.Room(room); len(got) != 1 || got[0].Pending || got[0].ID != "m1" {
		t.Fatalf("ack must settle the entry: %+v", got)
	}
}

func TestSeedLoadsHistoryPage(t *testing.T) {
	ch := newFakeChannel()
	base := time.Now()
	hist := &fakeHistory{pages: map[domain.RoomID][]domain.Message{
		room: {
			authoritative("m1", "", "old", base),
			authoritative("m2", "", "older merged in order", base.Add(time.Second)),
		},
	}}
	m := NewMessages(ch, hist, "alice")
	defer m.Close()

	if err := m.Seed(context.Background(), room); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if got := m.Room(room); len(got) != 2 || got[0].ID != "m1" {
		t.Fatalf("seed result wrong: %+v", got)
	}
	// Seeding twice stays idempotent.
	if err := m.Seed(context.Background(), room); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	if got := m.Room(room); len(got) != 2 {
		t.Fatalf("reseed duplicated entries: %d", len(got))
	}
}

func TestTypingStartFiresOncePerTransition(t *testing.T) {
	ch := newFakeChannel()
	ty := NewTyping(ch)

	ty.Keystroke("general")
	ty.Keystroke("general")
	ty.Keystroke("general")

	if starts := ch.sentOf(protocol.TypeTypingStart); len(starts) != 1 {
		t.Fatalf("expected 1 typing_start, got %d", len(starts))
	}
	if stops := ch.sentOf(protocol.TypeTypingStop); len(stops) != 0 {
		t.Fatalf("premature typing_stop: %d", len(stops))
	}
}

func TestTypingStopsOnSendAndAfterQuiet(t *testing.T) {
	ch := newFakeChannel()
	ty := NewTyping(ch)

	ty.Keystroke("general")
	ty.MessageSent("general")
	if stops := ch.sentOf(protocol.TypeTypingStop); len(stops) != 1 {
		t.Fatalf("expected stop on send, got %d", len(stops))
	}

	// Next burst goes quiet instead.
	ty.quiet = 20 * time.Millisecond
	ty.Keystroke("general")
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(ch.sentOf(protocol.TypeTypingStop)) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if stops := ch.sentOf(protocol.TypeTypingStop); len(stops) != 2 {
		t.Fatalf("expected stop after quiet period, got %d", len(stops))
	}
	if starts := ch.sentOf(protocol.TypeTypingStart); len(starts) != 2 {
		t.Fatalf("expected 2 typing_start, got %d", len(starts))
	}
}

func TestTypingResetEmitsNothing(t *testing.T) {
	ch := newFakeChannel()
	ty := NewTyping(ch)
	ty.Keystroke("general")
	ty.Reset()
	if stops := ch.sentOf(protocol.TypeTypingStop); len(stops) != 0 {
		t.Fatalf("reset must be silent, got %d stops", len(stops))
	}
	// A later keystroke is a fresh transition.
	ty.Keystroke("general")
	if starts := ch.sentOf(protocol.TypeTypingStart); len(starts) != 2 {
		t.Fatalf("expected fresh start after reset, got %d", len(starts))
	}
}
