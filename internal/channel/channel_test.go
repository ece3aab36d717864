package channel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/internal/domain"
	"github.com/parley-chat/parley/internal/protocol"
)

// relayStub accepts websocket upgrades and hands each connection to the
// test via accepted.
type relayStub struct {
	srv      *httptest.Server
	accepted chan *websocket.Conn

	mu      sync.Mutex
	headers []http.Header
}

func newRelayStub(t *testing.T) *relayStub {
	t.Helper()
	up := websocket.Upgrader{}
	rs := &relayStub{accepted: make(chan *websocket.Conn, 4)}
	rs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs.mu.Lock()
		rs.headers = append(rs.headers, r.Header.Clone())
		rs.mu.Unlock()
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		rs.accepted <- conn
	}))
	t.Cleanup(rs.srv.Close)
	return rs
}

func (rs *relayStub) wsURL() string {
	return "ws" + strings.TrimPrefix(rs.srv.URL, "http")
}

func (rs *relayStub) take(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-rs.accepted:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func TestDeliversEventsInOrder(t *testing.T) {
	rs := newRelayStub(t)
	c := New(rs.wsURL(), "tok")
	t.Cleanup(func() { c.Close() })

	var mu sync.Mutex
	var seen []string
	c.Subscribe(protocol.TypeUserSpeaking, func(data []byte) {
		ev, err := protocol.Parse[protocol.UserSpeaking](data)
		if err != nil {
			t.Errorf("parse: %v", err)
			return
		}
		mu.Lock()
		seen = append(seen, string(ev.UserID))
		mu.Unlock()
	})

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := rs.take(t)
	for _, id := range []string{"u1", "u2", "u3"} {
		frame, _ := protocol.Encode(protocol.TypeUserSpeaking, protocol.UserSpeaking{
			UserID: domain.UserID(id), Speaking: true,
		})
		if err := server.WriteMessage(websocket.TextMessage, frame); err != nil {
			t.Fatalf("server write: %v", err)
		}
	}

	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return len(seen) == 3 })
	mu.Lock()
	defer mu.Unlock()
	if seen[0] != "u1" || seen[1] != "u2" || seen[2] != "u3" {
		t.Fatalf("out of order delivery: %v", seen)
	}
}

func TestBearerTokenAttachedAtDial(t *testing.T) {
	rs := newRelayStub(t)
	c := New(rs.wsURL(), "secret-token")
	t.Cleanup(func() { c.Close() })
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	rs.take(t)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if got := rs.headers[0].Get("Authorization"); got != "Bearer secret-token" {
		t.Fatalf("Authorization = %q", got)
	}
}

func TestSendWhileDisconnectedQueuesAndReplays(t *testing.T) {
	rs := newRelayStub(t)
	c := New(rs.wsURL(), "tok")
	t.Cleanup(func() { c.Close() })

	err := c.Send(protocol.TypePing, nil)
	if !errors.Is(err, domain.ErrChannelDisconnected) {
		t.Fatalf("expected ErrChannelDisconnected, got %v", err)
	}

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := rs.take(t)
	_, data, err := server.ReadMessage()
	if err != nil {
		t.Fatalf("server read: %v", err)
	}
	typ, err := protocol.Peek(data)
	if err != nil || typ != protocol.TypePing {
		t.Fatalf("expected queued ping replayed, got %q err %v", typ, err)
	}
}

func TestReconnectReplaysQueueAndNotifies(t *testing.T) {
	rs := newRelayStub(t)
	c := New(rs.wsURL(), "tok")
	t.Cleanup(func() { c.Close() })

	var mu sync.Mutex
	connects := 0
	c.OnConnect(func() { mu.Lock(); connects++; mu.Unlock() })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	first := rs.take(t)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return connects == 1 })

	first.Close()
	waitFor(t, func() bool { return !c.Connected() })

	// Queued during the gap, must arrive on the next connection.
	if err := c.Send(protocol.TypePing, nil); !errors.Is(err, domain.ErrChannelDisconnected) {
		t.Fatalf("expected ErrChannelDisconnected, got %v", err)
	}

	second := rs.take(t)
	_, data, err := second.ReadMessage()
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if typ, _ := protocol.Peek(data); typ != protocol.TypePing {
		t.Fatalf("expected replayed ping, got %q", typ)
	}
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return connects == 2 })
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	rs := newRelayStub(t)
	c := New(rs.wsURL(), "tok")
	t.Cleanup(func() { c.Close() })

	var mu sync.Mutex
	got := 0
	unsub := c.Subscribe(protocol.TypePong, func([]byte) { mu.Lock(); got++; mu.Unlock() })

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server := rs.take(t)
	frame, _ := protocol.Encode(protocol.TypePong, nil)
	server.WriteMessage(websocket.TextMessage, frame)
	waitFor(t, func() bool { mu.Lock(); defer mu.Unlock(); return got == 1 })

	unsub()
	server.WriteMessage(websocket.TextMessage, frame)
	// One more frame whose delivery proves ordering past the pong.
	speak, _ := protocol.Encode(protocol.TypeUserSpeaking, protocol.UserSpeaking{UserID: "u", Speaking: true})
	seen := make(chan struct{})
	var once sync.Once
	c.Subscribe(protocol.TypeUserSpeaking, func([]byte) { once.Do(func() { close(seen) }) })
	server.WriteMessage(websocket.TextMessage, speak)
	select {
	case <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("marker event never delivered")
	}
	mu.Lock()
	defer mu.Unlock()
	if got != 1 {
		t.Fatalf("handler ran after unsubscribe: %d", got)
	}
}
