package testutil

import (
	"github.com/hupe1980/localmesh/core"
)

// TaskBuilder provides a fluent helper for constructing tasks in tests.
// Example:
//
//	task := NewTaskBuilder("sess-1", "translate").Payload("text", "hi").Assigned("worker-1").Build()
//
// Lifecycle methods apply in order: Assigned, then Completed/Failed/TimedOut.
type TaskBuilder struct {
	id        string
	sessionID string
	taskType  string
	payload   map[string]any
	req       core.TaskRequirements
	assigned  []string
	result    any
	completed bool
	failure   string
	timedOut  bool
}

// NewTaskBuilder creates a builder for a pending task in the given session.
func NewTaskBuilder(sessionID, taskType string) *TaskBuilder {
	return &TaskBuilder{sessionID: sessionID, taskType: taskType}
}

// ID overrides the auto-generated task ID (chainable). Use mainly in tests
// where determinism matters.
func (b *TaskBuilder) ID(id string) *TaskBuilder { b.id = id; return b }

// Payload sets one payload key (chainable).
func (b *TaskBuilder) Payload(key string, val any) *TaskBuilder {
	if b.payload == nil {
		b.payload = map[string]any{}
	}
	b.payload[key] = val
	return b
}

// Requires adds required capabilities (chainable).
func (b *TaskBuilder) Requires(caps ...string) *TaskBuilder {
	b.req.Capabilities = append(b.req.Capabilities, caps...)
	return b
}

// ForTypes restricts assignment to the given agent types (chainable).
func (b *TaskBuilder) ForTypes(types ...string) *TaskBuilder {
	b.req.AgentTypes = append(b.req.AgentTypes, types...)
	return b
}

// Assigned records the task as handed to the given agents (chainable).
func (b *TaskBuilder) Assigned(agentIDs ...string) *TaskBuilder {
	b.assigned = append(b.assigned, agentIDs...)
	return b
}

// Completed marks the task finished with a result (chainable).
func (b *TaskBuilder) Completed(result any) *TaskBuilder {
	b.completed = true
	b.result = result
	return b
}

// Failed marks the task failed with a reason (chainable).
func (b *TaskBuilder) Failed(reason string) *TaskBuilder { b.failure = reason; return b }

// TimedOut marks the task timed out (chainable).
func (b *TaskBuilder) TimedOut() *TaskBuilder { b.timedOut = true; return b }

// Build constructs the *core.Task value.
func (b *TaskBuilder) Build() *core.Task {
	task := core.NewTask(b.sessionID, b.taskType, b.payload, b.req)
	if b.id != "" {
		task.ID = b.id
	}
	if len(b.assigned) > 0 {
		task.Assign(b.assigned...)
	}
	switch {
	case b.completed:
		task.Complete(b.result)
	case b.failure != "":
		task.Fail(b.failure)
	case b.timedOut:
		task.TimeOut()
	}
	return task
}
