package ai

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/localmesh/core"
)

// Entry is one remembered conversation item.
type Entry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Memory stores conversation history per session.
type Memory interface {
	// Add appends an entry and returns it with ID and timestamp filled.
	Add(sessionID string, role Role, content string) (Entry, error)

	// Recent returns up to limit entries in chronological order, newest
	// last. A non-positive limit returns everything.
	Recent(sessionID string, limit int) ([]Entry, error)

	// Search returns entries whose content matches query.
	Search(sessionID, query string, limit int) ([]Entry, error)

	// Clear drops the session's history.
	Clear(sessionID string) error
}

// InMemoryStore is a process-local Memory. Search is a linear scan with
// substring matching, suitable for tests and demos; swap for a semantic
// index when real retrieval is needed.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]Entry
}

var _ Memory = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{entries: make(map[string][]Entry)}
}

// Add implements Memory.
func (m *InMemoryStore) Add(sessionID string, role Role, content string) (Entry, error) {
	if sessionID == "" {
		return Entry{}, fmt.Errorf("ai: session id is required")
	}

	entry := Entry{
		ID:        core.NewID(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[sessionID] = append(m.entries[sessionID], entry)
	return entry, nil
}

// Recent implements Memory.
func (m *InMemoryStore) Recent(sessionID string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.entries[sessionID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

// Search implements Memory.
func (m *InMemoryStore) Search(sessionID, query string, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry
	for _, entry := range m.entries[sessionID] {
		if limit > 0 && len(out) >= limit {
			break
		}
		if query == "" || strings.Contains(entry.Content, query) {
			out = append(out, entry)
		}
	}
	return out, nil
}

// Clear implements Memory.
func (m *InMemoryStore) Clear(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, sessionID)
	return nil
}
