// Package protocol defines the wire events shared by the signaling relay
// and the client session. Every frame is a JSON object with a "type" field
// and a flat, type-specific payload.
package protocol

import (
	"github.com/parley-chat/parley/internal/domain"
)

type EventType string

// Client to server.
const (
	TypeJoin        EventType = "join"
	TypeLeave       EventType = "leave"
	TypeSignal      EventType = "signal"
	TypeMute        EventType = "mute"
	TypeDeafen      EventType = "deafen"
	TypeSpeaking    EventType = "speaking"
	TypeTypingStart EventType = "typing_start"
	TypeTypingStop  EventType = "typing_stop"
	TypeSendMessage EventType = "send_message"
	TypePing        EventType = "ping"
)

// Server to client.
const (
	TypeRoomState       EventType = "room_state"
	TypeUserJoined      EventType = "user_joined"
	TypeUserLeft        EventType = "user_left"
	TypeUserMuted       EventType = "user_muted"
	TypeUserDeafened    EventType = "user_deafened"
	TypeUserSpeaking    EventType = "user_speaking"
	TypeConnQuality     EventType = "connection_quality"
	TypeNewMessage      EventType = "new_message"
	TypeMessageAck      EventType = "message_ack"
	TypeOfflineMessages EventType = "offline_messages"
	TypeUserTyping      EventType = "user_typing"
	TypeError           EventType = "error"
	TypePong            EventType = "pong"
)

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

// ICECandidate mirrors the candidate fields of the underlying transport
// without dragging its types onto the wire definition.
type ICECandidate struct {
	Candidate     string  `json:"candidate" validate:"required"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// Client to server payloads.

type Join struct {
	Room string `json:"room" validate:"required,max=36"`
}

type Leave struct {
	Room string `json:"room,omitempty"`
}

// Signal is a directed negotiation payload. The relay rewrites To into
// From before forwarding; it is never broadcast.
type Signal struct {
	To        string        `json:"to,omitempty" validate:"max=36"`
	From      string        `json:"from,omitempty"`
	Kind      SignalKind    `json:"kind" validate:"required,oneof=offer answer ice-candidate"`
	SDP       string        `json:"sdp,omitempty"`
	Candidate *ICECandidate `json:"candidate,omitempty"`
}

type Mute struct {
	Room  string `json:"room" validate:"required"`
	Muted bool   `json:"muted"`
}

type Deafen struct {
	Room     string `json:"room" validate:"required"`
	Deafened bool   `json:"deafened"`
}

type Speaking struct {
	Room     string  `json:"room" validate:"required"`
	Speaking bool    `json:"speaking"`
	Level    float64 `json:"level" validate:"gte=0,lte=1"`
}

type Typing struct {
	Room string `json:"room" validate:"required"`
}

type SendMessage struct {
	Room          string             `json:"room" validate:"required"`
	Content       string             `json:"content" validate:"required,max=4096"`
	Kind          domain.MessageKind `json:"kind" validate:"omitempty,oneof=text file system voice-note"`
	CorrelationID string             `json:"correlation_id" validate:"required,max=64"`
}

// Server to client payloads.

// ParticipantState is the per-member voice state sent in RoomState.
type ParticipantState struct {
	UserID   domain.UserID `json:"user_id"`
	Username string        `json:"username"`
	Avatar   string        `json:"avatar,omitempty"`
	Muted    bool          `json:"muted"`
	Deafened bool          `json:"deafened"`
}

type RoomState struct {
	Room         domain.RoomID      `json:"room"`
	RoomName     domain.RoomName    `json:"room_name,omitempty"`
	Participants []ParticipantState `json:"participants"`
	Count        int                `json:"count"`
}

type UserJoined struct {
	Room domain.RoomID `json:"room"`
	User domain.User   `json:"user"`
}

type UserLeft struct {
	Room   domain.RoomID `json:"room"`
	UserID domain.UserID `json:"user_id"`
}

type UserMuted struct {
	UserID domain.UserID `json:"user_id"`
	Muted  bool          `json:"muted"`
}

type UserDeafened struct {
	UserID   domain.UserID `json:"user_id"`
	Deafened bool          `json:"deafened"`
}

type UserSpeaking struct {
	UserID   domain.UserID `json:"user_id"`
	Speaking bool          `json:"speaking"`
	Level    float64       `json:"level"`
}

type ConnQuality struct {
	UserID  domain.UserID  `json:"user_id"`
	Quality domain.Quality `json:"quality"`
}

type NewMessage struct {
	Message domain.Message `json:"message"`
}

// MessageAck confirms an optimistic send. CorrelationID matches the
// client-supplied id; Message is the authoritative entry.
type MessageAck struct {
	CorrelationID string         `json:"correlation_id"`
	Message       domain.Message `json:"message"`
}

type OfflineMessages struct {
	Messages []domain.Message `json:"messages"`
}

type UserTyping struct {
	Room   domain.RoomID `json:"room"`
	UserID domain.UserID `json:"user_id"`
	Typing bool          `json:"typing"`
}

// ErrorEvent is a non-fatal acknowledgment; the relay never closes a
// connection over a bad payload.
type ErrorEvent struct {
	Code          string `json:"error"`
	Detail        string `json:"detail,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}
