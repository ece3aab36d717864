package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parley-chat/parley/internal/domain"
)

// MemoryArchive is an in-memory core.MessageArchive. Real persistence
// lives behind the REST API; this backs development setups and tests,
// and feeds the offline replay path.
type MemoryArchive struct {
	mu        sync.Mutex
	messages  []domain.Message
	delivered map[domain.UserID]int // index of first undelivered message
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{
		delivered: make(map[domain.UserID]int),
	}
}

func (a *MemoryArchive) Append(_ context.Context, msg domain.Message) (domain.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	msg.ID = domain.MessageID(uuid.NewString())
	msg.CreatedAt = time.Now().UTC()
	msg.Pending = false
	a.messages = append(a.messages, msg)
	return msg, nil
}

func (a *MemoryArchive) MissedBy(_ context.Context, user domain.UserID) ([]domain.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	from := a.delivered[user]
	if from >= len(a.messages) {
		return nil, nil
	}
	var out []domain.Message
	for _, m := range a.messages[from:] {
		if m.AuthorID == user {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (a *MemoryArchive) MarkDelivered(_ context.Context, user domain.UserID, upTo domain.MessageID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, m := range a.messages {
		if m.ID == upTo {
			if i+1 > a.delivered[user] {
				a.delivered[user] = i + 1
			}
			return nil
		}
	}
	return nil
}
