package domain

import "errors"

// Error taxonomy shared by the session manager, sync layer and relay.
var (
	// ErrPermissionDenied: the user refused microphone/device access.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrDeviceUnavailable: no usable capture device is present.
	ErrDeviceUnavailable = errors.New("device unavailable")
	// ErrAlreadyJoining: a join is already in flight.
	ErrAlreadyJoining = errors.New("already joining a room")
	// ErrAlreadyInRoom: the session is already a member of a room.
	ErrAlreadyInRoom = errors.New("already in a room")
	// ErrNotInRoom: the operation requires an active room membership.
	ErrNotInRoom = errors.New("not in a room")
	// ErrCaptureFailed: local audio capture could not be acquired.
	ErrCaptureFailed = errors.New("audio capture failed")
	// ErrChannelDisconnected: the signaling channel is down.
	ErrChannelDisconnected = errors.New("signaling channel disconnected")
	// ErrPeerConnectionFailed: one peer's transport failed; isolated to
	// that participant, never fatal to the room.
	ErrPeerConnectionFailed = errors.New("peer connection failed")
	// ErrInvalidMessage: empty or oversized chat content.
	ErrInvalidMessage = errors.New("invalid message")
)
