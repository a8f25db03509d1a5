// internal/registry/registry.go
// Keeps the set of admitted sessions keyed by id and by username.
package registry

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyConnected is matched by every *AlreadyConnectedError.
var ErrAlreadyConnected = errors.New("user already connected")

// AlreadyConnectedError is returned by Admit when the username is taken.
type AlreadyConnectedError struct {
	Username string
}

func (e *AlreadyConnectedError) Error() string {
	return fmt.Sprintf("user '%s' already connected", e.Username)
}

func (e *AlreadyConnectedError) Is(target error) bool {
	return target == ErrAlreadyConnected
}

// Session is the server-side record of one admitted identity.
type Session struct {
	ID          uuid.UUID
	Username    string
	ConnectedAt time.Time
}

// Registry maps session ids to sessions and usernames back to ids. Both
// maps and the admission order only change together under mu.
type Registry struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]Session
	byName   map[string]uuid.UUID
	order    []uuid.UUID
	now      func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]Session),
		byName:   make(map[string]uuid.UUID),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Admit registers username and returns the new session id. The uniqueness
// check and the insert happen in one critical section; on conflict nothing
// is changed.
func (r *Registry) Admit(username string) (uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[username]; taken {
		return uuid.Nil, &AlreadyConnectedError{Username: username}
	}

	id := uuid.New()
	r.sessions[id] = Session{ID: id, Username: username, ConnectedAt: r.now()}
	r.byName[username] = id
	r.order = append(r.order, id)
	return id, nil
}

// Remove deletes the session and returns its username. Unknown ids return
// false, so repeated cleanup is harmless.
func (r *Registry) Remove(id uuid.UUID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return "", false
	}
	delete(r.sessions, id)
	delete(r.byName, s.Username)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return s.Username, true
}

// Usernames returns a snapshot of connected usernames in admission order.
func (r *Registry) Usernames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.order))
	for _, id := range r.order {
		names = append(names, r.sessions[id].Username)
	}
	return names
}

// Lookup returns the session for id.
func (r *Registry) Lookup(id uuid.UUID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

// SessionFor returns the session currently holding username.
func (r *Registry) SessionFor(username string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byName[username]
	if !ok {
		return Session{}, false
	}
	return r.sessions[id], true
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
