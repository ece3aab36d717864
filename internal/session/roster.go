package session

import (
	"sort"
	"sync"

	"github.com/parley-chat/parley/internal/domain"
)

// Roster is the participant registry. Entries are replaced on write,
// never mutated in place, so observers always see consistent snapshots.
type Roster struct {
	mu       sync.RWMutex
	parts    map[domain.UserID]domain.Participant
	watchers map[int]func([]domain.Participant)
	nextID   int
}

func NewRoster() *Roster {
	return &Roster{
		parts:    make(map[domain.UserID]domain.Participant),
		watchers: make(map[int]func([]domain.Participant)),
	}
}

func (r *Roster) Upsert(p domain.Participant) {
	r.mu.Lock()
	r.parts[p.UserID] = p
	snap := r.snapshotLocked()
	fns := r.watchersLocked()
	r.mu.Unlock()
	notify(fns, snap)
}

// Update applies fn to a copy of the entry and writes the copy back.
// Returns false when the user is not present.
func (r *Roster) Update(id domain.UserID, fn func(*domain.Participant)) bool {
	r.mu.Lock()
	p, ok := r.parts[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	fn(&p)
	r.parts[id] = p
	snap := r.snapshotLocked()
	fns := r.watchersLocked()
	r.mu.Unlock()
	notify(fns, snap)
	return true
}

func (r *Roster) Remove(id domain.UserID) {
	r.mu.Lock()
	delete(r.parts, id)
	snap := r.snapshotLocked()
	fns := r.watchersLocked()
	r.mu.Unlock()
	notify(fns, snap)
}

func (r *Roster) Get(id domain.UserID) (domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.parts[id]
	return p, ok
}

func (r *Roster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.parts)
}

// Snapshot returns the participants ordered by user id for stable UI
// rendering.
func (r *Roster) Snapshot() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Roster) Reset() {
	r.mu.Lock()
	r.parts = make(map[domain.UserID]domain.Participant)
	snap := r.snapshotLocked()
	fns := r.watchersLocked()
	r.mu.Unlock()
	notify(fns, snap)
}

// Watch registers an observer called with a fresh snapshot after every
// change. The returned handle removes exactly that observer.
func (r *Roster) Watch(fn func([]domain.Participant)) (unsubscribe func()) {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.watchers[id] = fn
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		delete(r.watchers, id)
		r.mu.Unlock()
	}
}

func (r *Roster) snapshotLocked() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.parts))
	for _, p := range r.parts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Roster) watchersLocked() []func([]domain.Participant) {
	fns := make([]func([]domain.Participant), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func([]domain.Participant), snap []domain.Participant) {
	for _, fn := range fns {
		fn(snap)
	}
}
