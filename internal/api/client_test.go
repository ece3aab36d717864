package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/parley-chat/parley/internal/domain"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-token")
}

func TestMessageHistoryPagination(t *testing.T) {
	var gotAuth, gotBefore, gotLimit string
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rooms/general/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotBefore = r.URL.Query().Get("before")
		gotLimit = r.URL.Query().Get("limit")
		w.Write([]byte(`{"messages":[{"id":"m1","room_id":"general","author_id":"u1","content":"hi","kind":"text"}],"before":"m0"}`))
	})

	msgs, cursor, err := c.MessageHistory(context.Background(), "general", "m5", 50)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("Authorization = %q", gotAuth)
	}
	if gotBefore != "m5" || gotLimit != "50" {
		t.Fatalf("cursor params = %q %q", gotBefore, gotLimit)
	}
	if len(msgs) != 1 || msgs[0].ID != "m1" || cursor != "m0" {
		t.Fatalf("page wrong: %+v cursor=%q", msgs, cursor)
	}
}

func TestCreateRoomAndJoinByCode(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/rooms":
			if ct := r.Header.Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			w.Write([]byte(`{"id":"r1","name":"standup","code":"ABC123"}`))
		case "/api/rooms/join":
			w.Write([]byte(`{"id":"r2","name":"retro","code":"XYZ789"}`))
		default:
			t.Errorf("unexpected path %q", r.URL.Path)
		}
	})

	room, err := c.CreateRoom(context.Background(), "standup")
	if err != nil || room.ID != "r1" || room.Code != "ABC123" {
		t.Fatalf("create: %+v err %v", room, err)
	}
	room, err = c.JoinByCode(context.Background(), "XYZ789")
	if err != nil || room.ID != "r2" {
		t.Fatalf("join: %+v err %v", room, err)
	}
}

func TestRoomMembers(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"members":[{"id":"u1","username":"alice"},{"id":"u2","username":"bob"}]}`))
	})
	members, err := c.RoomMembers(context.Background(), "r1")
	if err != nil || len(members) != 2 || members[1].ID != domain.UserID("u2") {
		t.Fatalf("members: %+v err %v", members, err)
	}
}

func TestNon2xxSurfacesAPIError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "room not found", http.StatusNotFound)
	})
	_, err := c.JoinByCode(context.Background(), "BOGUS")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Body != "room not found" {
		t.Fatalf("error carries wrong detail: %+v", apiErr)
	}
}
