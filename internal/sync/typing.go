package sync

import (
	gosync "sync"
	"time"

	"github.com/parley-chat/parley/internal/protocol"
)

// TypingQuiet is how long after the last keystroke the stop event fires.
const TypingQuiet = 3 * time.Second

// Typing debounces the local user's typing presence. typing_start fires
// once per idle-to-typing transition; typing_stop fires after a quiet
// period or immediately when the message is sent.
type Typing struct {
	ch    Channel
	quiet time.Duration

	mu     gosync.Mutex
	room   string
	active bool
	timer  *time.Timer
}

func NewTyping(ch Channel) *Typing {
	return &Typing{ch: ch, quiet: TypingQuiet}
}

// Keystroke records input in a room's composer. The first call after
// idle emits typing_start; every call pushes the stop deadline out.
func (t *Typing) Keystroke(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active && t.room == room {
		t.timer.Reset(t.quiet)
		return
	}
	if t.active {
		// Switched composers without going quiet first.
		t.stopLocked()
	}
	t.room = room
	t.active = true
	t.ch.Send(protocol.TypeTypingStart, protocol.Typing{Room: room})
	t.timer = time.AfterFunc(t.quiet, func() { t.expire(room) })
}

// MessageSent clears typing presence right away instead of waiting out
// the quiet period.
func (t *Typing) MessageSent(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || t.room != room {
		return
	}
	t.stopLocked()
}

// Reset drops typing state without emitting anything, for channel loss
// or leaving the room.
func (t *Typing) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.active = false
	t.room = ""
}

func (t *Typing) expire(room string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.active || t.room != room {
		return
	}
	t.stopLocked()
}

func (t *Typing) stopLocked() {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.active = false
	t.ch.Send(protocol.TypeTypingStop, protocol.Typing{Room: t.room})
	t.room = ""
}
