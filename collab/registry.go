package collab

import (
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/localmesh/core"
)

// Registry is the in-memory session store behind a collaboration server.
// A single RWMutex serializes every mutation, which is what gives sessions
// their last-write-wins semantics; the core types themselves do not lock.
// All read accessors hand out clones so callers never touch live state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*core.Session)}
}

// Update runs fn against the named session under the write lock, creating
// the session first when it does not exist. It returns a clone of the
// session after fn ran and whether the session was created by this call.
// fn must not call back into the registry.
func (r *Registry) Update(sessionID string, fn func(s *core.Session)) (*core.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		sess = core.NewSession(sessionID)
		r.sessions[sessionID] = sess
	}
	if fn != nil {
		fn(sess)
	}

	return sess.Clone(), !ok
}

// Mutate runs fn against an existing session under the write lock. Unlike
// Update it never creates the session; it returns ErrSessionNotFound when
// the session is unknown and otherwise fn's error.
func (r *Registry) Mutate(sessionID string, fn func(s *core.Session) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}

	return fn(sess)
}

// Get returns a clone of the named session.
func (r *Registry) Get(sessionID string) (*core.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}

	return sess.Clone(), true
}

// Snapshot returns clones of all sessions ordered by ID.
func (r *Registry) Snapshot() []*core.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*core.Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess.Clone())
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].ID < sessions[j].ID })

	return sessions
}

// Remove drops a session from the registry. It reports whether the session
// was present.
func (r *Registry) Remove(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[sessionID]
	delete(r.sessions, sessionID)

	return ok
}

// Len returns the number of tracked sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.sessions)
}

// AgentCount returns the number of agent registrations across all sessions.
func (r *Registry) AgentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, sess := range r.sessions {
		count += len(sess.Agents)
	}

	return count
}

// Sweep walks all sessions and applies the idle policy: a session inactive
// for at least ttl is marked idle while it still has agents and removed once
// it has none. It returns the IDs that were idled and removed.
func (r *Registry) Sweep(ttl time.Duration) (idled, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, sess := range r.sessions {
		if !sess.IdleSince(ttl) {
			continue
		}
		if len(sess.Agents) == 0 {
			delete(r.sessions, id)
			removed = append(removed, id)
			continue
		}
		if sess.Status == core.SessionStatusActive {
			sess.Status = core.SessionStatusIdle
			idled = append(idled, id)
		}
	}
	sort.Strings(idled)
	sort.Strings(removed)

	return idled, removed
}
