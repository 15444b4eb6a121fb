package collab

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localmesh/core"
)

func TestRegistryUpdateCreatesOnDemand(t *testing.T) {
	reg := NewRegistry()

	sess, created := reg.Update("sess-1", func(s *core.Session) {
		s.Metadata["topic"] = "research"
	})
	assert.True(t, created)
	assert.Equal(t, "sess-1", sess.ID)
	assert.Equal(t, "research", sess.Metadata["topic"])
	assert.Equal(t, core.SessionStatusActive, sess.Status)

	_, created = reg.Update("sess-1", nil)
	assert.False(t, created)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistryUpdateReturnsClone(t *testing.T) {
	reg := NewRegistry()

	clone, _ := reg.Update("sess-1", func(s *core.Session) {
		s.AddAgent(core.NewAgent("a1", "A1", "worker", nil, 1))
	})

	// Mutating the clone must not leak into registry state.
	clone.Agents["a1"].Status = core.AgentStatusOffline
	delete(clone.Agents, "a1")

	stored, ok := reg.Get("sess-1")
	require.True(t, ok)
	require.Contains(t, stored.Agents, "a1")
	assert.Equal(t, core.AgentStatusIdle, stored.Agents["a1"].Status)
}

func TestRegistryMutateUnknownSession(t *testing.T) {
	reg := NewRegistry()

	err := reg.Mutate("ghost", func(*core.Session) error { return nil })
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestRegistryMutatePropagatesError(t *testing.T) {
	reg := NewRegistry()
	reg.Update("sess-1", nil)

	err := reg.Mutate("sess-1", func(*core.Session) error { return ErrTaskNotFound })
	assert.True(t, errors.Is(err, ErrTaskNotFound))
}

func TestRegistrySnapshotOrdered(t *testing.T) {
	reg := NewRegistry()
	reg.Update("sess-b", nil)
	reg.Update("sess-a", nil)
	reg.Update("sess-c", nil)

	sessions := reg.Snapshot()
	require.Len(t, sessions, 3)
	assert.Equal(t, "sess-a", sessions[0].ID)
	assert.Equal(t, "sess-b", sessions[1].ID)
	assert.Equal(t, "sess-c", sessions[2].ID)
}

func TestRegistryRemove(t *testing.T) {
	reg := NewRegistry()
	reg.Update("sess-1", nil)

	assert.True(t, reg.Remove("sess-1"))
	assert.False(t, reg.Remove("sess-1"))
	assert.Equal(t, 0, reg.Len())
}

func TestRegistryAgentCount(t *testing.T) {
	reg := NewRegistry()
	reg.Update("sess-1", func(s *core.Session) {
		s.AddAgent(core.NewAgent("a1", "A1", "worker", nil, 1))
		s.AddAgent(core.NewAgent("a2", "A2", "worker", nil, 1))
	})
	reg.Update("sess-2", func(s *core.Session) {
		s.AddAgent(core.NewAgent("a3", "A3", "worker", nil, 1))
	})

	assert.Equal(t, 3, reg.AgentCount())
}

func TestRegistrySweep(t *testing.T) {
	reg := NewRegistry()

	// Stale session that still hosts an agent: marked idle, kept.
	reg.Update("sess-idle", func(s *core.Session) {
		s.AddAgent(core.NewAgent("a1", "A1", "worker", nil, 1))
		s.LastActivity = time.Now().Add(-time.Hour)
	})
	// Stale empty session: removed.
	reg.Update("sess-gone", func(s *core.Session) {
		s.LastActivity = time.Now().Add(-time.Hour)
	})
	// Fresh session: untouched.
	reg.Update("sess-live", nil)

	idled, removed := reg.Sweep(30 * time.Minute)
	assert.Equal(t, []string{"sess-idle"}, idled)
	assert.Equal(t, []string{"sess-gone"}, removed)

	idle, ok := reg.Get("sess-idle")
	require.True(t, ok)
	assert.Equal(t, core.SessionStatusIdle, idle.Status)

	_, ok = reg.Get("sess-gone")
	assert.False(t, ok)

	live, ok := reg.Get("sess-live")
	require.True(t, ok)
	assert.Equal(t, core.SessionStatusActive, live.Status)

	// A second sweep does not re-report the already idle session.
	idled, removed = reg.Sweep(30 * time.Minute)
	assert.Empty(t, idled)
	assert.Empty(t, removed)
}

func TestRegistrySweepTouchReactivates(t *testing.T) {
	reg := NewRegistry()
	reg.Update("sess-1", func(s *core.Session) {
		s.AddAgent(core.NewAgent("a1", "A1", "worker", nil, 1))
		s.LastActivity = time.Now().Add(-time.Hour)
	})

	reg.Sweep(30 * time.Minute)

	sess, _ := reg.Update("sess-1", func(s *core.Session) { s.Touch() })
	assert.Equal(t, core.SessionStatusActive, sess.Status)
}
