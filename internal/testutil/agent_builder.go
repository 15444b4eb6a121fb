package testutil

import (
	"github.com/hupe1980/localmesh/core"
)

// AgentBuilder provides a fluent helper for constructing agents in tests.
// Example:
//
//	agent := NewAgentBuilder("worker-1").Capabilities("translate").MaxConcurrent(2).Build()
//
// Chain only the parts you need; sensible defaults are applied.
type AgentBuilder struct {
	id           string
	name         string
	agentType    string
	capabilities []string
	maxTasks     int
	current      int
	offline      bool
}

// NewAgentBuilder creates a builder for an agent with the given id. The
// name defaults to the id and the type to "worker".
func NewAgentBuilder(id string) *AgentBuilder {
	return &AgentBuilder{id: id, agentType: "worker", maxTasks: 1}
}

// Name sets the display name (chainable).
func (b *AgentBuilder) Name(n string) *AgentBuilder { b.name = n; return b }

// Type sets the agent type used for requirement matching (chainable).
func (b *AgentBuilder) Type(t string) *AgentBuilder { b.agentType = t; return b }

// Capabilities appends capability names (chainable).
func (b *AgentBuilder) Capabilities(caps ...string) *AgentBuilder {
	b.capabilities = append(b.capabilities, caps...)
	return b
}

// MaxConcurrent sets the concurrent task limit (chainable).
func (b *AgentBuilder) MaxConcurrent(n int) *AgentBuilder { b.maxTasks = n; return b }

// Busy pre-loads the agent with n running tasks; reaching the limit flips
// the status to busy, matching AcquireSlot behavior (chainable).
func (b *AgentBuilder) Busy(n int) *AgentBuilder { b.current = n; return b }

// Offline marks the agent's connection as gone (chainable).
func (b *AgentBuilder) Offline() *AgentBuilder { b.offline = true; return b }

// Build constructs the *core.Agent value.
func (b *AgentBuilder) Build() *core.Agent {
	name := b.name
	if name == "" {
		name = b.id
	}

	agent := core.NewAgent(b.id, name, b.agentType, b.capabilities, b.maxTasks)
	for i := 0; i < b.current; i++ {
		agent.AcquireSlot()
	}
	if b.offline {
		agent.Status = core.AgentStatusOffline
	}
	return agent
}
