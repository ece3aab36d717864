package app

import (
	"context"
	"sync"

	"github.com/parley-chat/parley/internal/domain"
)

// OpenDirectory admits every user to every room. Development default;
// production wires the real membership service here.
type OpenDirectory struct{}

func (OpenDirectory) Authorize(context.Context, domain.UserID, domain.RoomID) error {
	return nil
}

// GuestAuthenticator treats any non-empty bearer token as a guest
// identity, one user per token. Mirrors the cookie-token scheme the
// HTTP layer issues for anonymous clients.
type GuestAuthenticator struct {
	mu    sync.Mutex
	users map[string]*domain.User
}

func NewGuestAuthenticator() *GuestAuthenticator {
	return &GuestAuthenticator{users: make(map[string]*domain.User)}
}

func (a *GuestAuthenticator) Authenticate(_ context.Context, token string) (*domain.User, error) {
	if token == "" {
		return nil, domain.ErrPermissionDenied
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if u, ok := a.users[token]; ok {
		return u, nil
	}
	u, err := domain.NewUser(guestName(token))
	if err != nil {
		return nil, err
	}
	a.users[token] = u
	return u, nil
}

// guestName derives a short display name so two guests in the same
// room are tellable apart.
func guestName(token string) string {
	tag := token
	if len(tag) > 8 {
		tag = tag[:8]
	}
	return "guest-" + tag
}
