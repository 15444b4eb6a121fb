package core

import (
	"time"

	"github.com/google/uuid"
)

// EventKind names a collaboration event on the wire. Inbound kinds are sent
// by clients; the remainder are server broadcasts.
type EventKind string

const (
	// Inbound (client to server).
	EventJoinSession          EventKind = "join-session"
	EventLeaveSession         EventKind = "leave-session"
	EventRegisterAgent        EventKind = "register-agent"
	EventUnregisterAgent      EventKind = "unregister-agent"
	EventStartTask            EventKind = "start-task"
	EventAgentProgress        EventKind = "agent-progress"
	EventCollaborationRequest EventKind = "collaboration-request"

	// Outbound (server broadcasts).
	EventWelcome             EventKind = "welcome"
	EventSessionJoined       EventKind = "session-joined"
	EventSessionLeft         EventKind = "session-left"
	EventAgentRegistered     EventKind = "agent-registered"
	EventAgentUnregistered   EventKind = "agent-unregistered"
	EventTaskAssigned        EventKind = "task-assigned"
	EventTaskProgress        EventKind = "task-progress"
	EventTaskError           EventKind = "task-error"
	EventCollaborationResult EventKind = "collaboration-result"
	EventCollaborationError  EventKind = "collaboration-error"
	EventError               EventKind = "error"
)

// Inbound reports whether the kind is one clients may send.
func (k EventKind) Inbound() bool {
	switch k {
	case EventJoinSession, EventLeaveSession, EventRegisterAgent,
		EventUnregisterAgent, EventStartTask, EventAgentProgress,
		EventCollaborationRequest:
		return true
	}
	return false
}

// Event is the envelope relayed between collaboration participants. After
// emission it should be treated as immutable.
//
// SessionID scopes the event to a session; it is empty only for
// connection-level events (welcome, protocol errors). AgentID identifies
// the acting agent when one is involved. Payload carries the kind-specific
// JSON body.
type Event struct {
	ID        string         `json:"id"`
	Kind      EventKind      `json:"type"`
	SessionID string         `json:"sessionId,omitempty"`
	AgentID   string         `json:"agentId,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// NewEvent creates an event of the given kind scoped to a session.
func NewEvent(kind EventKind, sessionID string) Event {
	return Event{
		ID:        NewID(),
		Kind:      kind,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	}
}

// NewErrorEvent creates an error broadcast carrying a message and, when
// known, the kind of the inbound event that caused it.
func NewErrorEvent(sessionID, message string, cause EventKind) Event {
	e := NewEvent(EventError, sessionID)
	e.Payload = map[string]any{"message": message}
	if cause != "" {
		e.Payload["cause"] = string(cause)
	}
	return e
}

// WithAgent returns a copy of the event attributed to the given agent.
func (e Event) WithAgent(agentID string) Event {
	e.AgentID = agentID
	return e
}

// WithPayload returns a copy of the event carrying the given payload.
func (e Event) WithPayload(payload map[string]any) Event {
	e.Payload = payload
	return e
}

// PayloadString extracts a string field from the payload, returning ""
// when absent or not a string.
func (e Event) PayloadString(key string) string {
	if e.Payload == nil {
		return ""
	}
	s, _ := e.Payload[key].(string)
	return s
}

// PayloadFloat extracts a numeric field from the payload. JSON numbers
// decode as float64; integer values are widened.
func (e Event) PayloadFloat(key string) (float64, bool) {
	if e.Payload == nil {
		return 0, false
	}
	switch v := e.Payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// NewID generates a new unique identifier.
//
// This function creates a UUID-based unique identifier used for events,
// tasks and sessions throughout the framework.
func NewID() string { return uuid.NewString() }
