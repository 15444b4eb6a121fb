package collab

import (
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/internal/testutil"
)

func TestProtocolRoundTrip(t *testing.T) {
	ev := testutil.NewEventBuilder(core.EventStartTask).
		Session("sess-1").
		Agent("agent-1").
		Payload("type", "analyze").
		Payload("priority", float64(2)).
		Build()

	data, err := Marshal(ev)
	require.NoError(t, err)

	decoded, err := Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, ev.ID, decoded.ID)
	assert.Equal(t, core.EventStartTask, decoded.Kind)
	assert.Equal(t, "sess-1", decoded.SessionID)
	assert.Equal(t, "agent-1", decoded.AgentID)
	assert.Equal(t, "analyze", decoded.Payload["type"])
	assert.Equal(t, float64(2), decoded.Payload["priority"])

	// Routing fields live on the event, not in the payload.
	assert.NotContains(t, decoded.Payload, "id")
	assert.NotContains(t, decoded.Payload, "sessionId")
	assert.NotContains(t, decoded.Payload, "agentId")
	assert.NotContains(t, decoded.Payload, "timestamp")

	// Millisecond precision survives the wire.
	assert.Equal(t, ev.Timestamp.UnixMilli(), decoded.Timestamp.UnixMilli())
}

func TestProtocolMarshalFoldsRoutingFields(t *testing.T) {
	ev := core.NewEvent(core.EventWelcome, "").WithPayload(map[string]any{"server": "localmesh"})

	data, err := Marshal(ev)
	require.NoError(t, err)

	var env Envelope
	require.NoError(t, sonic.Unmarshal(data, &env))

	assert.Equal(t, "welcome", env.Type)
	assert.Equal(t, ev.ID, env.Payload["id"])
	assert.NotContains(t, env.Payload, "sessionId")
	assert.NotContains(t, env.Payload, "agentId")

	millis, ok := env.Payload["timestamp"].(float64)
	require.True(t, ok)
	assert.InDelta(t, float64(time.Now().UnixMilli()), millis, 5000)
}

func TestProtocolUnmarshalDefaults(t *testing.T) {
	// Thin clients may omit id and timestamp; both are filled in.
	decoded, err := Unmarshal([]byte(`{"type":"join-session","payload":{"sessionId":"sess-9"}}`))
	require.NoError(t, err)

	assert.Equal(t, core.EventJoinSession, decoded.Kind)
	assert.Equal(t, "sess-9", decoded.SessionID)
	assert.NotEmpty(t, decoded.ID)
	assert.WithinDuration(t, time.Now().UTC(), decoded.Timestamp, 5*time.Second)
}

func TestProtocolUnmarshalMissingPayload(t *testing.T) {
	decoded, err := Unmarshal([]byte(`{"type":"leave-session"}`))
	require.NoError(t, err)

	assert.Equal(t, core.EventLeaveSession, decoded.Kind)
	assert.NotNil(t, decoded.Payload)
}

func TestProtocolUnmarshalErrors(t *testing.T) {
	_, err := Unmarshal([]byte(`not json`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"payload":{"sessionId":"s"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing type")
}

func TestSessionPayloadShape(t *testing.T) {
	sess := testutil.NewSessionBuilder("sess-1").
		Agent(testutil.NewAgentBuilder("a1").Name("Analyzer").Type("analyzer").Capabilities("analyze").Build()).
		Task(testutil.NewTaskBuilder("sess-1", "analyze").Build()).
		Build()

	payload := sessionPayload(sess)

	info, ok := payload["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sess-1", info["id"])
	assert.Equal(t, "active", info["status"])
	assert.IsType(t, float64(0), info["createdAt"])

	agents, ok := payload["agents"].([]*core.Agent)
	require.True(t, ok)
	require.Len(t, agents, 1)
	assert.Equal(t, "a1", agents[0].ID)

	tasks, ok := payload["tasks"].([]*core.Task)
	require.True(t, ok)
	assert.Len(t, tasks, 1)
}
