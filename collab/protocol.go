package collab

import (
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/hupe1980/localmesh/core"
)

// ProtocolName identifies the collaboration protocol in welcome frames.
const ProtocolName = "ARGS"

// ProtocolVersion is the wire protocol version advertised to clients.
const ProtocolVersion = "1.0.0"

// Envelope is the JSON frame exchanged over a collaboration connection.
// Type carries the event kind; Payload carries the kind-specific body plus
// the routing fields id, sessionId, agentId and timestamp.
type Envelope struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Marshal encodes an event as an envelope frame. The event's routing fields
// are folded into the payload; timestamps travel as Unix milliseconds.
func Marshal(ev core.Event) ([]byte, error) {
	payload := make(map[string]any, len(ev.Payload)+4)
	for k, v := range ev.Payload {
		payload[k] = v
	}
	if ev.ID != "" {
		payload["id"] = ev.ID
	}
	if ev.SessionID != "" {
		payload["sessionId"] = ev.SessionID
	}
	if ev.AgentID != "" {
		payload["agentId"] = ev.AgentID
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	payload["timestamp"] = float64(ts.UnixMilli())

	data, err := sonic.Marshal(Envelope{Type: string(ev.Kind), Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", ev.Kind, err)
	}

	return data, nil
}

// Unmarshal decodes an envelope frame back into an event. Routing fields are
// lifted out of the payload; a missing id is generated and a missing or
// unreadable timestamp defaults to now, so inbound frames from thin clients
// stay valid.
func Unmarshal(data []byte) (core.Event, error) {
	var env Envelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return core.Event{}, fmt.Errorf("decode envelope: %w", err)
	}

	if env.Type == "" {
		return core.Event{}, fmt.Errorf("decode envelope: missing type")
	}

	ev := core.Event{
		Kind:      core.EventKind(env.Type),
		Payload:   env.Payload,
		Timestamp: time.Now().UTC(),
	}
	if ev.Payload == nil {
		ev.Payload = map[string]any{}
	}

	if id, ok := ev.Payload["id"].(string); ok && id != "" {
		ev.ID = id
	} else {
		ev.ID = core.NewID()
	}
	if sessionID, ok := ev.Payload["sessionId"].(string); ok {
		ev.SessionID = sessionID
	}
	if agentID, ok := ev.Payload["agentId"].(string); ok {
		ev.AgentID = agentID
	}
	if millis, ok := ev.Payload["timestamp"].(float64); ok && millis > 0 {
		ev.Timestamp = time.UnixMilli(int64(millis)).UTC()
	}

	delete(ev.Payload, "id")
	delete(ev.Payload, "sessionId")
	delete(ev.Payload, "agentId")
	delete(ev.Payload, "timestamp")

	return ev, nil
}

// sessionPayload renders a session snapshot for the wire, flattening the
// agent and task maps into lists the way clients consume them.
func sessionPayload(s *core.Session) map[string]any {
	agents := make([]*core.Agent, 0, len(s.Agents))
	for _, a := range s.Agents {
		agents = append(agents, a)
	}
	tasks := make([]*core.Task, 0, len(s.Tasks))
	for _, t := range s.Tasks {
		tasks = append(tasks, t)
	}

	return map[string]any{
		"session": map[string]any{
			"id":           s.ID,
			"status":       string(s.Status),
			"createdAt":    float64(s.CreatedAt.UnixMilli()),
			"lastActivity": float64(s.LastActivity.UnixMilli()),
			"metrics":      s.Metrics,
		},
		"agents": agents,
		"tasks":  tasks,
	}
}
