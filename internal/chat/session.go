package chat

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

// ConnID identifies one transport connection for its lifetime.
type ConnID string

// Session is one joined participant.
type Session struct {
	ConnID   ConnID
	Name     string
	JoinedAt time.Time

	seq uint64
}

// SessionRegistry maps connections to display names and keeps names unique.
// Only the engine goroutine mutates it; snapshots may be taken from anywhere.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[ConnID]Session
	names    map[string]ConnID
	seq      uint64
}

// NewSessionRegistry returns an empty registry.
func NewSessionRegistry() *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[ConnID]Session),
		names:    make(map[string]ConnID),
	}
}

// Join registers requestedName for id. The name is trimmed first; empty,
// whitespace-only and over-length names yield ErrNameInvalid, and a name held
// by another active connection yields ErrNameTaken. A connection that already
// holds a session gets ErrAlreadyJoined.
func (r *SessionRegistry) Join(id ConnID, requestedName string, now time.Time) (Session, error) {
	name, err := ValidateName(requestedName)
	if err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; ok {
		return Session{}, ErrAlreadyJoined
	}
	if holder, ok := r.names[name]; ok {
		return Session{}, fmt.Errorf("%w: %q held by %s", ErrNameTaken, name, holder)
	}

	r.seq++
	session := Session{ConnID: id, Name: name, JoinedAt: now, seq: r.seq}
	r.sessions[id] = session
	r.names[name] = id
	return session, nil
}

// Leave removes the session of id and returns it. Leaving twice is harmless.
func (r *SessionRegistry) Leave(id ConnID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, ok := r.sessions[id]
	if !ok {
		return Session{}, false
	}
	delete(r.sessions, id)
	delete(r.names, session.Name)
	return session, true
}

// Find returns the session held by id.
func (r *SessionRegistry) Find(id ConnID) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[id]
	return session, ok
}

// FindByName returns the session currently holding name.
func (r *SessionRegistry) FindByName(name string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.names[name]
	if !ok {
		return Session{}, false
	}
	return r.sessions[id], true
}

// Snapshot returns the active display names in join order.
func (r *SessionRegistry) Snapshot() []string {
	r.mu.RLock()
	sessions := lo.Values(r.sessions)
	r.mu.RUnlock()

	slices.SortFunc(sessions, func(a, b Session) int { return cmp.Compare(a.seq, b.seq) })
	return lo.Map(sessions, func(s Session, _ int) string { return s.Name })
}

// Len reports the number of joined sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
