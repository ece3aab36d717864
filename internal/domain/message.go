package domain

import "time"

type MessageID string

type MessageKind string

const (
	MessageText      MessageKind = "text"
	MessageFile      MessageKind = "file"
	MessageSystem    MessageKind = "system"
	MessageVoiceNote MessageKind = "voice-note"
)

const MaxMessageLen = 4096

// Message is a chat message. Authoritative entries carry a server-assigned
// ID; optimistic local entries carry only the CorrelationID until confirmed.
type Message struct {
	ID            MessageID   `json:"id,omitempty"`
	RoomID        RoomID      `json:"room_id"`
	AuthorID      UserID      `json:"author_id"`
	Content       string      `json:"content"`
	Kind          MessageKind `json:"kind"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
	Pending       bool        `json:"pending,omitempty"`
}

func (k MessageKind) Valid() bool {
	switch k {
	case MessageText, MessageFile, MessageSystem, MessageVoiceNote:
		return true
	}
	return false
}
