// Package domain holds the entities shared by the session manager,
// the sync layer and the relay. Types here carry data only.
package domain

import (
	"errors"

	"github.com/google/uuid"
)

// MaxUsernameLen bounds display names on every construction path.
const MaxUsernameLen = 36

var (
	ErrUsernameEmpty   = errors.New("username empty")
	ErrUsernameTooLong = errors.New("username too long")
)

type UserID string

// User identifies a participant. Avatar is free-form; clients decide
// how to render it.
type User struct {
	ID       UserID `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// NewUser mints a user with a fresh id and a validated display name.
func NewUser(username string) (*User, error) {
	if username == "" {
		return nil, ErrUsernameEmpty
	}
	if len(username) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &User{ID: UserID(uuid.NewString()), Username: username}, nil
}
