package core

import (
	"sort"
	"time"
)

// SessionStatus is the lifecycle state of a collaboration session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusIdle   SessionStatus = "idle"
	SessionStatusClosed SessionStatus = "closed"
)

// SessionMetrics aggregates per-session task outcomes. AvgExecutionMillis
// is a running mean over completed tasks.
type SessionMetrics struct {
	TotalTasks         int     `json:"totalTasks"`
	CompletedTasks     int     `json:"completedTasks"`
	FailedTasks        int     `json:"failedTasks"`
	AvgExecutionMillis float64 `json:"avgExecutionMillis"`
}

// RecordCompletion folds one finished task into the running averages.
func (m *SessionMetrics) RecordCompletion(execution time.Duration) {
	m.CompletedTasks++
	millis := float64(execution.Milliseconds())
	m.AvgExecutionMillis += (millis - m.AvgExecutionMillis) / float64(m.CompletedTasks)
}

// Session is a collaboration container: the agents registered to work
// together, the tasks flowing between them, and activity bookkeeping for
// idle reaping. State changes follow last write wins, with LastActivity as
// the clock.
//
// Sessions are owned by the session registry, which serializes all access
// behind its own lock; none of the methods here lock. Hand out Clone()
// copies when a session must leave the registry's critical section.
type Session struct {
	ID           string            `json:"id"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastActivity time.Time         `json:"lastActivity"`
	Status       SessionStatus     `json:"status"`
	Agents       map[string]*Agent `json:"agents"`
	Tasks        map[string]*Task  `json:"tasks"`
	Metrics      SessionMetrics    `json:"metrics"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// NewSession creates an active session with the given ID.
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:           id,
		CreatedAt:    now,
		LastActivity: now,
		Status:       SessionStatusActive,
		Agents:       map[string]*Agent{},
		Tasks:        map[string]*Task{},
		Metadata:     map[string]string{},
	}
}

// Touch bumps LastActivity and reactivates an idle session.
func (s *Session) Touch() {
	s.LastActivity = time.Now().UTC()
	if s.Status == SessionStatusIdle {
		s.Status = SessionStatusActive
	}
}

// IdleSince reports whether the session has seen no activity for at least d.
func (s *Session) IdleSince(d time.Duration) bool {
	return time.Since(s.LastActivity) >= d
}

// AddAgent registers an agent, overwriting any previous registration under
// the same ID (last write wins).
func (s *Session) AddAgent(agent *Agent) {
	s.Agents[agent.ID] = agent
	s.Touch()
}

// RemoveAgent drops an agent registration. It reports whether the agent
// was present.
func (s *Session) RemoveAgent(agentID string) bool {
	_, ok := s.Agents[agentID]
	if ok {
		delete(s.Agents, agentID)
		s.Touch()
	}
	return ok
}

// AddTask records a task and counts it toward the session metrics.
func (s *Session) AddTask(task *Task) {
	s.Tasks[task.ID] = task
	s.Metrics.TotalTasks++
	s.Touch()
}

// FindSuitableAgents returns the agents matching the task requirements,
// ordered by load (fewest running tasks first) with ID as tiebreaker so
// assignment is deterministic.
func (s *Session) FindSuitableAgents(req TaskRequirements) []*Agent {
	matched := make([]*Agent, 0, len(s.Agents))
	for _, agent := range s.Agents {
		if req.Matches(agent) {
			matched = append(matched, agent)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CurrentTasks != matched[j].CurrentTasks {
			return matched[i].CurrentTasks < matched[j].CurrentTasks
		}
		return matched[i].ID < matched[j].ID
	})
	return matched
}

// Clone returns a deep copy of the session safe for use outside the
// registry lock.
func (s *Session) Clone() *Session {
	clone := &Session{
		ID:           s.ID,
		CreatedAt:    s.CreatedAt,
		LastActivity: s.LastActivity,
		Status:       s.Status,
		Agents:       make(map[string]*Agent, len(s.Agents)),
		Tasks:        make(map[string]*Task, len(s.Tasks)),
		Metrics:      s.Metrics,
		Metadata:     make(map[string]string, len(s.Metadata)),
	}
	for id, agent := range s.Agents {
		clone.Agents[id] = agent.Clone()
	}
	for id, task := range s.Tasks {
		clone.Tasks[id] = task.Clone()
	}
	for k, v := range s.Metadata {
		clone.Metadata[k] = v
	}
	return clone
}
