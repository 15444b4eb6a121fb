package core

import (
	"time"
)

// TaskStatus is the lifecycle state of a task within a session.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusTimedOut  TaskStatus = "timed_out"
)

// Terminal reports whether the status ends the task's lifecycle.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusTimedOut:
		return true
	}
	return false
}

// TaskRequirements narrows which agents a task may be assigned to.
// Empty slices impose no constraint of that kind.
type TaskRequirements struct {
	AgentTypes   []string `json:"agentTypes,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Matches reports whether the agent satisfies the requirements and has a
// free execution slot.
func (r TaskRequirements) Matches(agent *Agent) bool {
	if agent == nil || !agent.Available() {
		return false
	}
	if len(r.AgentTypes) > 0 {
		found := false
		for _, t := range r.AgentTypes {
			if agent.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return agent.HasCapabilities(r.Capabilities)
}

// Task is a unit of work dispatched to one or more agents in a session.
// Like Agent, tasks are owned and serialized by the session registry.
type Task struct {
	ID           string           `json:"id"`
	SessionID    string           `json:"sessionId"`
	Type         string           `json:"type"`
	Payload      map[string]any   `json:"payload,omitempty"`
	Requirements TaskRequirements `json:"requirements"`
	Status       TaskStatus       `json:"status"`
	AssignedTo   []string         `json:"assignedTo,omitempty"`
	Progress     float64          `json:"progress"`
	Result       any              `json:"result,omitempty"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"createdAt"`
	AssignedAt   *time.Time       `json:"assignedAt,omitempty"`
	CompletedAt  *time.Time       `json:"completedAt,omitempty"`
}

// NewTask creates a pending task for the given session.
func NewTask(sessionID, taskType string, payload map[string]any, req TaskRequirements) *Task {
	return &Task{
		ID:           NewID(),
		SessionID:    sessionID,
		Type:         taskType,
		Payload:      payload,
		Requirements: req,
		Status:       TaskStatusPending,
		CreatedAt:    time.Now().UTC(),
	}
}

// Assign records the agents the task was handed to and stamps AssignedAt.
func (t *Task) Assign(agentIDs ...string) {
	now := time.Now().UTC()
	t.AssignedTo = append([]string{}, agentIDs...)
	t.Status = TaskStatusAssigned
	t.AssignedAt = &now
}

// Complete marks the task finished with a result.
func (t *Task) Complete(result any) {
	now := time.Now().UTC()
	t.Status = TaskStatusCompleted
	t.Progress = 100
	t.Result = result
	t.CompletedAt = &now
}

// Fail marks the task failed with the given reason.
func (t *Task) Fail(reason string) {
	now := time.Now().UTC()
	t.Status = TaskStatusFailed
	t.Error = reason
	t.CompletedAt = &now
}

// TimeOut marks the task expired by the execution watchdog.
func (t *Task) TimeOut() {
	now := time.Now().UTC()
	t.Status = TaskStatusTimedOut
	t.Error = "task execution timed out"
	t.CompletedAt = &now
}

// ExecutionTime returns the assigned-to-completed duration, or zero when
// the task has not finished.
func (t *Task) ExecutionTime() time.Duration {
	if t.AssignedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.AssignedAt)
}

// Clone returns a deep copy of the task. The Payload and Result values are
// shared; callers must treat them as read-only.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	clone.AssignedTo = append([]string{}, t.AssignedTo...)
	if t.AssignedAt != nil {
		at := *t.AssignedAt
		clone.AssignedAt = &at
	}
	if t.CompletedAt != nil {
		ct := *t.CompletedAt
		clone.CompletedAt = &ct
	}
	return &clone
}
