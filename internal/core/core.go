// Package core holds the relay-facing interfaces. The relay owns no
// long-term state; rooms, auth and message persistence live behind the
// collaborator ports declared here.
package core

import (
	"context"

	"github.com/parley-chat/parley/internal/domain"
)

// Frame is a raw wire payload.
type Frame []byte

type SessionID string

// SignalConnection abstracts the system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// MemberSession binds a user and its transport endpoint. This is what
// the registry stores and the relay fans out to.
type MemberSession interface {
	User() *domain.User
	Signal() SignalConnection
}

// RoomDirectory is the external room-membership collaborator. The relay
// consults it on join; it never mutates it.
type RoomDirectory interface {
	// Authorize reports whether the user may join the room. A non-nil
	// error rejects the join.
	Authorize(ctx context.Context, user domain.UserID, room domain.RoomID) error
}

// MessageArchive is the persistence collaborator for chat messages.
// Append assigns the authoritative id and timestamps; MissedBy returns
// messages the user has not yet been delivered, in server order.
type MessageArchive interface {
	Append(ctx context.Context, msg domain.Message) (domain.Message, error)
	MissedBy(ctx context.Context, user domain.UserID) ([]domain.Message, error)
	MarkDelivered(ctx context.Context, user domain.UserID, upTo domain.MessageID) error
}

// Authenticator resolves the bearer credential presented at channel
// handshake time. Connections without a valid credential are rejected
// before the upgrade.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}
