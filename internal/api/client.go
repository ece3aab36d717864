// Package api is the thin REST client for room and history lookups that
// happen outside the signaling channel.
package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/parley-chat/parley/internal/domain"
)

const defaultTimeout = 15 * time.Second

// Client talks to the collaborator REST API with a bearer token. The
// zero value is not usable; construct with NewClient.
type Client struct {
	base  string
	token string
	http  *http.Client
}

type Option func(*Client)

// WithHTTPClient swaps the underlying transport, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIError carries the status and body of a non-2xx response.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api: status %d: %s", e.Status, e.Body)
}

type roomPayload struct {
	ID   domain.RoomID   `json:"id"`
	Name domain.RoomName `json:"name"`
	Code string          `json:"code"`
}

func (r roomPayload) domain() domain.Room {
	return domain.Room{ID: r.ID, Name: r.Name, Code: r.Code}
}

func (c *Client) CreateRoom(ctx context.Context, name domain.RoomName) (domain.Room, error) {
	var out roomPayload
	body := map[string]string{"name": string(name)}
	if err := c.do(ctx, http.MethodPost, "/api/rooms", nil, body, &out); err != nil {
		return domain.Room{}, err
	}
	return out.domain(), nil
}

func (c *Client) JoinByCode(ctx context.Context, code string) (domain.Room, error) {
	var out roomPayload
	body := map[string]string{"code": code}
	if err := c.do(ctx, http.MethodPost, "/api/rooms/join", nil, body, &out); err != nil {
		return domain.Room{}, err
	}
	return out.domain(), nil
}

func (c *Client) ListRooms(ctx context.Context) ([]domain.Room, error) {
	var payload struct {
		Rooms []roomPayload `json:"rooms"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/rooms", nil, nil, &payload); err != nil {
		return nil, err
	}
	rooms := make([]domain.Room, 0, len(payload.Rooms))
	for _, r := range payload.Rooms {
		rooms = append(rooms, r.domain())
	}
	return rooms, nil
}

func (c *Client) RoomMembers(ctx context.Context, room domain.RoomID) ([]domain.User, error) {
	var payload struct {
		Members []domain.User `json:"members"`
	}
	path := "/api/rooms/" + url.PathEscape(string(room)) + "/members"
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &payload); err != nil {
		return nil, err
	}
	return payload.Members, nil
}

// MessageHistory returns one page of a room's archive, oldest first, and
// the cursor for the page before it. An empty before-id starts from the
// tail; an empty returned cursor means the history is exhausted.
func (c *Client) MessageHistory(ctx context.Context, room domain.RoomID, before domain.MessageID, limit int) ([]domain.Message, domain.MessageID, error) {
	var payload struct {
		Messages []domain.Message `json:"messages"`
		Before   domain.MessageID `json:"before"`
	}
	q := url.Values{}
	if before != "" {
		q.Set("before", string(before))
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	path := "/api/rooms/" + url.PathEscape(string(room)) + "/messages"
	if err := c.do(ctx, http.MethodGet, path, q, nil, &payload); err != nil {
		return nil, "", err
	}
	return payload.Messages, payload.Before, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
