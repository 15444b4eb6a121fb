package testutil

import (
	"github.com/hupe1980/localmesh/core"
)

// EventBuilder provides a fluent helper for constructing events in tests.
// Example:
//
//	ev := NewEventBuilder(core.EventStartTask).Session("sess-1").Payload("type", "translate").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type EventBuilder struct {
	kind      core.EventKind
	id        string
	sessionID string
	agentID   string
	payload   map[string]any
}

// NewEventBuilder creates a builder for an event of the given kind.
func NewEventBuilder(kind core.EventKind) *EventBuilder {
	return &EventBuilder{kind: kind}
}

// ID overrides the auto-generated event ID (chainable). Use mainly in tests
// where determinism matters.
func (b *EventBuilder) ID(id string) *EventBuilder { b.id = id; return b }

// Session scopes the event to a session (chainable).
func (b *EventBuilder) Session(id string) *EventBuilder { b.sessionID = id; return b }

// Agent sets the acting agent (chainable).
func (b *EventBuilder) Agent(id string) *EventBuilder { b.agentID = id; return b }

// Payload sets one payload key (chainable).
func (b *EventBuilder) Payload(key string, val any) *EventBuilder {
	if b.payload == nil {
		b.payload = map[string]any{}
	}
	b.payload[key] = val
	return b
}

// Build constructs the core.Event value.
func (b *EventBuilder) Build() core.Event {
	ev := core.NewEvent(b.kind, b.sessionID)
	if b.id != "" {
		ev.ID = b.id
	}
	if b.agentID != "" {
		ev = ev.WithAgent(b.agentID)
	}
	if len(b.payload) > 0 {
		ev = ev.WithPayload(b.payload)
	}
	return ev
}
