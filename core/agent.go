package core

import (
	"time"
)

// AgentStatus tracks an agent's availability inside a session.
type AgentStatus string

const (
	// AgentStatusIdle marks an agent ready to accept work.
	AgentStatusIdle AgentStatus = "idle"

	// AgentStatusBusy marks an agent at its concurrency limit.
	AgentStatusBusy AgentStatus = "busy"

	// AgentStatusOffline marks an agent whose connection is gone but whose
	// registration has not been reaped yet.
	AgentStatusOffline AgentStatus = "offline"
)

// Agent describes a named unit of AI-driven computation registered with a
// collaboration session. Fields mirror the wire payload of the
// register-agent event.
//
// Agent values are owned by the session registry, which serializes all
// access; the methods below do not lock.
type Agent struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Type               string      `json:"type"`
	Capabilities       []string    `json:"capabilities"`
	Status             AgentStatus `json:"status"`
	MaxConcurrentTasks int         `json:"maxConcurrentTasks"`
	CurrentTasks       int         `json:"currentTasks"`
	RegisteredAt       time.Time   `json:"registeredAt"`
	LastSeen           time.Time   `json:"lastSeen"`
}

// NewAgent creates an idle agent with the given identity and capabilities.
// A zero maxConcurrent is normalized to 1.
func NewAgent(id, name, agentType string, capabilities []string, maxConcurrent int) *Agent {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	now := time.Now().UTC()
	return &Agent{
		ID:                 id,
		Name:               name,
		Type:               agentType,
		Capabilities:       append([]string{}, capabilities...),
		Status:             AgentStatusIdle,
		MaxConcurrentTasks: maxConcurrent,
		RegisteredAt:       now,
		LastSeen:           now,
	}
}

// HasCapabilities reports whether the agent's capability set is a superset
// of required. An empty requirement always matches.
func (a *Agent) HasCapabilities(required []string) bool {
	if len(required) == 0 {
		return true
	}
	have := make(map[string]struct{}, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[c] = struct{}{}
	}
	for _, r := range required {
		if _, ok := have[r]; !ok {
			return false
		}
	}
	return true
}

// Available reports whether the agent can take on one more task.
func (a *Agent) Available() bool {
	return a.Status == AgentStatusIdle && a.CurrentTasks < a.MaxConcurrentTasks
}

// AcquireSlot increments the agent's task count, flipping it to busy when
// the limit is reached.
func (a *Agent) AcquireSlot() {
	a.CurrentTasks++
	if a.CurrentTasks >= a.MaxConcurrentTasks {
		a.Status = AgentStatusBusy
	}
	a.LastSeen = time.Now().UTC()
}

// ReleaseSlot decrements the agent's task count and restores idle status
// when capacity frees up. It never goes below zero.
func (a *Agent) ReleaseSlot() {
	if a.CurrentTasks > 0 {
		a.CurrentTasks--
	}
	if a.Status == AgentStatusBusy && a.CurrentTasks < a.MaxConcurrentTasks {
		a.Status = AgentStatusIdle
	}
	a.LastSeen = time.Now().UTC()
}

// Clone returns a deep copy safe to hand to other goroutines.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	clone := *a
	clone.Capabilities = append([]string{}, a.Capabilities...)
	return &clone
}
