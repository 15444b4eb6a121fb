package testutil

import (
	"time"

	"github.com/hupe1980/localmesh/core"
)

// SessionBuilder helps construct sessions with fluent chaining for tests.
// Example:
//
//	sess := NewSessionBuilder("sess-1").Agent(agent).Task(task).IdleFor(time.Hour).Build()
type SessionBuilder struct {
	id       string
	idle     bool
	idleFor  time.Duration
	agents   []*core.Agent
	tasks    []*core.Task
	metadata map[string]string
}

// NewSessionBuilder creates a new builder for a session with the given id.
// Use chainable methods (Agent, Task, Idle, IdleFor, Metadata) then call
// Build.
func NewSessionBuilder(id string) *SessionBuilder {
	return &SessionBuilder{id: id, metadata: map[string]string{}}
}

// Agent registers agents on the resulting session (chainable).
func (b *SessionBuilder) Agent(agents ...*core.Agent) *SessionBuilder {
	b.agents = append(b.agents, agents...)
	return b
}

// Task adds tasks to the resulting session (chainable).
func (b *SessionBuilder) Task(tasks ...*core.Task) *SessionBuilder {
	b.tasks = append(b.tasks, tasks...)
	return b
}

// Idle sets the session status to idle (chainable).
func (b *SessionBuilder) Idle() *SessionBuilder { b.idle = true; return b }

// IdleFor backdates LastActivity by d, making the session stale for sweep
// tests (chainable).
func (b *SessionBuilder) IdleFor(d time.Duration) *SessionBuilder { b.idleFor = d; return b }

// Metadata sets or overwrites a metadata key/value pair (chainable).
func (b *SessionBuilder) Metadata(key, val string) *SessionBuilder {
	b.metadata[key] = val
	return b
}

// Build returns a *core.Session with pre-populated agents and tasks.
// Status and LastActivity are applied last, since AddAgent and AddTask
// touch the session.
func (b *SessionBuilder) Build() *core.Session {
	s := core.NewSession(b.id)

	for _, agent := range b.agents {
		s.AddAgent(agent)
	}
	for _, task := range b.tasks {
		s.AddTask(task)
	}
	for k, v := range b.metadata {
		s.Metadata[k] = v
	}

	if b.idle {
		s.Status = core.SessionStatusIdle
	}
	if b.idleFor > 0 {
		s.LastActivity = time.Now().UTC().Add(-b.idleFor)
	}

	return s
}
