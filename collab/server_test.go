package collab

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/hupe1980/localmesh/api"
	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/logging"
)

// newCollabServer starts a server behind httptest and returns it with the
// ws:// URL of the endpoint. Both are torn down via t.Cleanup.
func newCollabServer(t *testing.T, optFns ...func(o *ServerOptions)) (*Server, string) {
	t.Helper()

	s := NewServer(optFns...)
	ts := httptest.NewServer(s)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
		ts.Close()
	})

	return s, "ws" + strings.TrimPrefix(ts.URL, "http")
}

// wsPeer is a raw protocol-level test client.
type wsPeer struct {
	t  *testing.T
	ws *websocket.Conn
}

func dialPeer(t *testing.T, url string) *wsPeer {
	t.Helper()

	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.Close() })

	return &wsPeer{t: t, ws: ws}
}

// joinPeer dials, consumes the welcome frame and joins a session.
func joinPeer(t *testing.T, url, sessionID string) *wsPeer {
	t.Helper()

	p := dialPeer(t, url)
	p.expect(core.EventWelcome)
	p.send(core.EventJoinSession, map[string]any{"sessionId": sessionID})
	p.expect(core.EventSessionJoined)

	return p
}

func (p *wsPeer) send(kind core.EventKind, payload map[string]any) {
	p.t.Helper()

	frame, err := sonic.Marshal(Envelope{Type: string(kind), Payload: payload})
	require.NoError(p.t, err)
	require.NoError(p.t, p.ws.WriteMessage(websocket.TextMessage, frame))
}

// expect reads frames until one of the given kind arrives, skipping
// unrelated broadcasts.
func (p *wsPeer) expect(kind core.EventKind) core.Event {
	p.t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(p.t, p.ws.SetReadDeadline(deadline))
		_, data, err := p.ws.ReadMessage()
		require.NoError(p.t, err, "waiting for %s", kind)

		ev, err := Unmarshal(data)
		require.NoError(p.t, err)
		if ev.Kind == kind {
			return ev
		}
	}
}

func (p *wsPeer) registerAgent(sessionID, agentID, agentType string, capabilities []string, maxConcurrent int) {
	p.t.Helper()

	p.send(core.EventRegisterAgent, map[string]any{
		"sessionId":          sessionID,
		"agentId":            agentID,
		"name":               agentID,
		"type":               agentType,
		"capabilities":       capabilities,
		"maxConcurrentTasks": maxConcurrent,
	})
	for {
		if registered := p.expect(core.EventAgentRegistered); registered.AgentID == agentID {
			return
		}
	}
}

func getJSON(t *testing.T, url string) map[string]any {
	t.Helper()

	resp, err := http.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	require.NoError(t, sonic.Unmarshal(raw, &out))
	return out
}

func postJSON(t *testing.T, url string, body map[string]any) map[string]any {
	t.Helper()

	data, err := sonic.Marshal(body)
	require.NoError(t, err)

	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := map[string]any{}
	require.NoError(t, sonic.Unmarshal(raw, &out))
	return out
}

func TestServerWelcome(t *testing.T) {
	_, url := newCollabServer(t)

	p := dialPeer(t, url)
	welcome := p.expect(core.EventWelcome)

	assert.Equal(t, ProtocolName, welcome.Payload["protocol"])
	assert.Equal(t, ProtocolVersion, welcome.Payload["version"])
	assert.Equal(t, "localmesh", welcome.Payload["server"])
	assert.ElementsMatch(t, ServerCapabilities, payloadStrings(welcome.Payload["capabilities"]))
}

func TestServerJoinSession(t *testing.T) {
	s, url := newCollabServer(t)

	p := dialPeer(t, url)
	p.expect(core.EventWelcome)
	p.send(core.EventJoinSession, map[string]any{"sessionId": "sess-1"})

	joined := p.expect(core.EventSessionJoined)
	assert.Equal(t, "sess-1", joined.SessionID)

	info, ok := joined.Payload["session"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "sess-1", info["id"])
	assert.Equal(t, "active", info["status"])

	sess, ok := s.Registry().Get("sess-1")
	require.True(t, ok)
	assert.Equal(t, core.SessionStatusActive, sess.Status)
}

func TestServerRegisterAgent(t *testing.T) {
	s, url := newCollabServer(t)

	p := joinPeer(t, url, "sess-1")
	p.send(core.EventRegisterAgent, map[string]any{
		"sessionId":          "sess-1",
		"agentId":            "analyzer-1",
		"name":               "Analyzer",
		"type":               "analyzer",
		"capabilities":       []string{"analyze", "summarize"},
		"maxConcurrentTasks": 2,
	})

	registered := p.expect(core.EventAgentRegistered)
	assert.Equal(t, "analyzer-1", registered.AgentID)

	agent, ok := registered.Payload["agent"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Analyzer", agent["name"])
	assert.Equal(t, "analyzer", agent["type"])
	assert.Equal(t, "idle", agent["status"])

	sess, ok := s.Registry().Get("sess-1")
	require.True(t, ok)
	require.Contains(t, sess.Agents, "analyzer-1")
	assert.Equal(t, 2, sess.Agents["analyzer-1"].MaxConcurrentTasks)
}

func TestServerRegisterRequiresJoin(t *testing.T) {
	_, url := newCollabServer(t)

	p := dialPeer(t, url)
	p.expect(core.EventWelcome)
	p.send(core.EventRegisterAgent, map[string]any{
		"sessionId": "sess-1",
		"agentId":   "stray-1",
	})

	errEv := p.expect(core.EventError)
	assert.Contains(t, errEv.PayloadString("message"), "join session before registering agents")
}

func TestServerRejectsDuplicateAgentID(t *testing.T) {
	_, url := newCollabServer(t)

	p1 := joinPeer(t, url, "sess-1")
	p1.registerAgent("sess-1", "worker-1", "worker", nil, 1)

	p2 := joinPeer(t, url, "sess-1")
	p2.send(core.EventRegisterAgent, map[string]any{
		"sessionId": "sess-1",
		"agentId":   "worker-1",
	})

	errEv := p2.expect(core.EventError)
	assert.Contains(t, errEv.PayloadString("message"), "already registered")
}

func TestServerMalformedFrameKeepsConnection(t *testing.T) {
	_, url := newCollabServer(t)

	p := dialPeer(t, url)
	p.expect(core.EventWelcome)

	require.NoError(t, p.ws.WriteMessage(websocket.TextMessage, []byte("{oops")))
	errEv := p.expect(core.EventError)
	assert.Contains(t, errEv.PayloadString("message"), "invalid frame")

	// Outbound-only kinds cannot be injected by clients.
	p.send(core.EventWelcome, map[string]any{})
	errEv = p.expect(core.EventError)
	assert.Contains(t, errEv.PayloadString("message"), "unsupported event type")

	// The connection survived both rejections.
	p.send(core.EventJoinSession, map[string]any{"sessionId": "sess-1"})
	joined := p.expect(core.EventSessionJoined)
	assert.Equal(t, "sess-1", joined.SessionID)
}

func TestServerTaskLifecycle(t *testing.T) {
	s, url := newCollabServer(t, func(o *ServerOptions) {
		o.Logger = logging.NewSlogLogger(logging.LogLevelError, "json", false)
	})

	worker := joinPeer(t, url, "sess-1")
	worker.registerAgent("sess-1", "worker-1", "worker", []string{"transform"}, 1)

	requester := joinPeer(t, url, "sess-1")
	requester.send(core.EventStartTask, map[string]any{
		"sessionId":         "sess-1",
		"taskId":            "task-1",
		"type":              "transform",
		"payload":           map[string]any{"input": "rows"},
		"requirements":      map[string]any{"capabilities": []string{"transform"}},
		"collaborationMode": ModeSequential,
	})

	assigned := worker.expect(core.EventTaskAssigned)
	assert.Equal(t, "worker-1", assigned.AgentID)
	assert.Equal(t, "task-1", assigned.PayloadString("taskId"))
	assert.Equal(t, ModeSequential, assigned.PayloadString("mode"))

	taskMap, ok := assigned.Payload["task"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "transform", taskMap["type"])
	assert.Equal(t, "assigned", taskMap["status"])

	// The assigned agent holds a slot until the task settles.
	sess, _ := s.Registry().Get("sess-1")
	assert.Equal(t, 1, sess.Agents["worker-1"].CurrentTasks)
	assert.Equal(t, core.AgentStatusBusy, sess.Agents["worker-1"].Status)

	worker.send(core.EventAgentProgress, map[string]any{
		"sessionId": "sess-1",
		"agentId":   "worker-1",
		"taskId":    "task-1",
		"status":    "processing",
		"progress":  float64(40),
		"message":   "transforming",
	})

	prog := requester.expect(core.EventTaskProgress)
	body, ok := prog.Payload["progress"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "task-1", body["taskId"])
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, float64(40), body["progress"])
	assert.Equal(t, "transforming", body["message"])
	assert.Contains(t, body, "serverTimestamp")

	worker.send(core.EventAgentProgress, map[string]any{
		"sessionId": "sess-1",
		"agentId":   "worker-1",
		"taskId":    "task-1",
		"status":    "completed",
		"progress":  float64(100),
		"result":    map[string]any{"rows": float64(42)},
	})

	var final map[string]any
	for {
		prog = requester.expect(core.EventTaskProgress)
		body, ok = prog.Payload["progress"].(map[string]any)
		require.True(t, ok)
		if body["status"] == "completed" {
			final = body
			break
		}
	}
	result, ok := final["result"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(42), result["rows"])

	require.Eventually(t, func() bool {
		return s.Stats().TasksCompleted == 1
	}, 2*time.Second, 10*time.Millisecond)

	sess, _ = s.Registry().Get("sess-1")
	require.Contains(t, sess.Tasks, "task-1")
	assert.Equal(t, core.TaskStatusCompleted, sess.Tasks["task-1"].Status)
	assert.Equal(t, 0, sess.Agents["worker-1"].CurrentTasks)
	assert.Equal(t, core.AgentStatusIdle, sess.Agents["worker-1"].Status)
	assert.Equal(t, 1, sess.Metrics.CompletedTasks)
}

func TestServerTaskFailure(t *testing.T) {
	s, url := newCollabServer(t)

	failed := make(chan *HookContext, 1)
	s.Hooks().Register(NewFunctionHook(HookOnError, func(_ context.Context, hookCtx *HookContext) error {
		select {
		case failed <- hookCtx:
		default:
		}
		return nil
	}))

	worker := joinPeer(t, url, "sess-1")
	worker.registerAgent("sess-1", "worker-1", "worker", nil, 1)

	worker.send(core.EventStartTask, map[string]any{
		"sessionId": "sess-1",
		"taskId":    "task-fail",
		"type":      "transform",
	})
	worker.expect(core.EventTaskAssigned)

	worker.send(core.EventAgentProgress, map[string]any{
		"sessionId": "sess-1",
		"agentId":   "worker-1",
		"taskId":    "task-fail",
		"status":    "failed",
		"error":     "input corrupted",
	})

	prog := worker.expect(core.EventTaskProgress)
	body, ok := prog.Payload["progress"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "input corrupted", body["error"])

	select {
	case hookCtx := <-failed:
		require.NotNil(t, hookCtx.Task)
		assert.Equal(t, "task-fail", hookCtx.Task.ID)
		assert.Contains(t, hookCtx.Err.Error(), "input corrupted")
	case <-time.After(2 * time.Second):
		t.Fatal("on_error hook never fired")
	}

	sess, _ := s.Registry().Get("sess-1")
	assert.Equal(t, core.TaskStatusFailed, sess.Tasks["task-fail"].Status)
	assert.Equal(t, 1, sess.Metrics.FailedTasks)
}

func TestServerTaskNoSuitableAgents(t *testing.T) {
	_, url := newCollabServer(t)

	requester := joinPeer(t, url, "sess-2")
	requester.send(core.EventStartTask, map[string]any{
		"sessionId":    "sess-2",
		"type":         "compile",
		"requirements": map[string]any{"capabilities": []string{"compile"}},
	})

	taskErr := requester.expect(core.EventTaskError)
	assert.Equal(t, "no suitable agents found for task", taskErr.PayloadString("error"))
	assert.NotEmpty(t, taskErr.PayloadString("taskId"))
	assert.Equal(t, float64(0), taskErr.Payload["availableAgents"])
}

func TestServerBeforeTaskHookVeto(t *testing.T) {
	s, url := newCollabServer(t)
	s.Hooks().Register(NewFunctionHook(HookBeforeTask, func(context.Context, *HookContext) error {
		return fmt.Errorf("quota exceeded")
	}))

	worker := joinPeer(t, url, "sess-1")
	worker.registerAgent("sess-1", "worker-1", "worker", nil, 1)

	worker.send(core.EventStartTask, map[string]any{
		"sessionId": "sess-1",
		"type":      "transform",
	})

	taskErr := worker.expect(core.EventTaskError)
	assert.Contains(t, taskErr.PayloadString("error"), "task rejected: quota exceeded")

	// The vetoed task never entered the session.
	sess, _ := s.Registry().Get("sess-1")
	assert.Empty(t, sess.Tasks)
}

func TestServerTaskTimeout(t *testing.T) {
	s, url := newCollabServer(t, func(o *ServerOptions) {
		o.TaskTimeout = 150 * time.Millisecond
	})

	worker := joinPeer(t, url, "sess-1")
	worker.registerAgent("sess-1", "worker-1", "worker", nil, 1)

	worker.send(core.EventStartTask, map[string]any{
		"sessionId": "sess-1",
		"taskId":    "task-slow",
		"type":      "transform",
	})
	worker.expect(core.EventTaskAssigned)

	taskErr := worker.expect(core.EventTaskError)
	assert.Equal(t, "task-slow", taskErr.PayloadString("taskId"))
	assert.Equal(t, "task execution timed out", taskErr.PayloadString("error"))

	sess, _ := s.Registry().Get("sess-1")
	assert.Equal(t, core.TaskStatusTimedOut, sess.Tasks["task-slow"].Status)
	assert.Equal(t, 0, sess.Agents["worker-1"].CurrentTasks)

	require.Eventually(t, func() bool { return s.tracker.len() == 0 },
		2*time.Second, 10*time.Millisecond)
}

func TestServerLateReportAfterTimeout(t *testing.T) {
	s, url := newCollabServer(t, func(o *ServerOptions) {
		o.TaskTimeout = 100 * time.Millisecond
	})

	worker := joinPeer(t, url, "sess-1")
	worker.registerAgent("sess-1", "worker-1", "worker", nil, 1)

	worker.send(core.EventStartTask, map[string]any{
		"sessionId": "sess-1",
		"taskId":    "task-late",
		"type":      "transform",
	})
	worker.expect(core.EventTaskAssigned)
	worker.expect(core.EventTaskError)

	// A completion arriving after the watchdog settled the task does not
	// resurrect it.
	worker.send(core.EventAgentProgress, map[string]any{
		"sessionId": "sess-1",
		"agentId":   "worker-1",
		"taskId":    "task-late",
		"status":    "completed",
		"result":    "too late",
	})

	prog := worker.expect(core.EventTaskProgress)
	body, ok := prog.Payload["progress"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "timed_out", body["status"])

	sess, _ := s.Registry().Get("sess-1")
	assert.Equal(t, core.TaskStatusTimedOut, sess.Tasks["task-late"].Status)
	assert.Equal(t, int64(0), s.Stats().TasksCompleted)
}

func TestServerLeaveSessionUnregistersAgents(t *testing.T) {
	s, url := newCollabServer(t)

	p1 := joinPeer(t, url, "sess-1")
	p1.registerAgent("sess-1", "worker-1", "worker", nil, 1)

	p2 := joinPeer(t, url, "sess-1")

	p1.send(core.EventLeaveSession, map[string]any{"sessionId": "sess-1"})

	unregistered := p2.expect(core.EventAgentUnregistered)
	assert.Equal(t, "worker-1", unregistered.AgentID)
	assert.Equal(t, "left_session", unregistered.PayloadString("reason"))

	p2.expect(core.EventSessionLeft)

	// The leaver still receives the farewell broadcast.
	p1.expect(core.EventSessionLeft)

	require.Eventually(t, func() bool {
		sess, ok := s.Registry().Get("sess-1")
		return ok && len(sess.Agents) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerDisconnectUnregistersAgents(t *testing.T) {
	s, url := newCollabServer(t)

	p1 := joinPeer(t, url, "sess-1")
	p1.registerAgent("sess-1", "worker-1", "worker", nil, 1)

	p2 := joinPeer(t, url, "sess-1")

	require.NoError(t, p1.ws.Close())

	unregistered := p2.expect(core.EventAgentUnregistered)
	assert.Equal(t, "worker-1", unregistered.AgentID)

	require.Eventually(t, func() bool {
		return s.Stats().ActiveConnections == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerCollaborationTargeted(t *testing.T) {
	_, url := newCollabServer(t)

	specialist := joinPeer(t, url, "sess-1")
	specialist.registerAgent("sess-1", "specialist-1", "reviewer", []string{"review"}, 1)

	requester := joinPeer(t, url, "sess-1")
	requester.registerAgent("sess-1", "generalist-1", "worker", nil, 1)

	requester.send(core.EventCollaborationRequest, map[string]any{
		"sessionId":   "sess-1",
		"agentId":     "generalist-1",
		"requestId":   "req-1",
		"targetAgent": "specialist-1",
		"data":        map[string]any{"question": "does this hold?"},
	})

	forwarded := specialist.expect(core.EventCollaborationRequest)
	assert.Equal(t, "generalist-1", forwarded.AgentID)
	assert.Equal(t, "req-1", forwarded.PayloadString("requestId"))
	assert.Equal(t, ModeSequential, forwarded.PayloadString("mode"))
	data, ok := forwarded.Payload["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "does this hold?", data["question"])

	result := requester.expect(core.EventCollaborationResult)
	assert.Equal(t, "req-1", result.PayloadString("requestId"))
	assert.Equal(t, []string{"specialist-1"}, payloadStrings(result.Payload["agentIds"]))
	assert.Equal(t, float64(1), result.Payload["dispatched"])
}

func TestServerCollaborationTargetMissing(t *testing.T) {
	_, url := newCollabServer(t)

	p := joinPeer(t, url, "sess-1")
	p.send(core.EventCollaborationRequest, map[string]any{
		"sessionId":   "sess-1",
		"requestId":   "req-9",
		"targetAgent": "ghost",
	})

	collabErr := p.expect(core.EventCollaborationError)
	assert.Equal(t, "req-9", collabErr.PayloadString("requestId"))
	assert.Contains(t, collabErr.PayloadString("error"), "target agent ghost not found")
}

func TestServerCollaborationMatchedExcludesRequester(t *testing.T) {
	_, url := newCollabServer(t)

	w1 := joinPeer(t, url, "sess-1")
	w1.registerAgent("sess-1", "reviewer-1", "reviewer", []string{"review"}, 1)

	w2 := joinPeer(t, url, "sess-1")
	w2.registerAgent("sess-1", "reviewer-2", "reviewer", []string{"review"}, 1)

	requester := joinPeer(t, url, "sess-1")
	requester.registerAgent("sess-1", "reviewer-3", "reviewer", []string{"review"}, 1)

	requester.send(core.EventCollaborationRequest, map[string]any{
		"sessionId":    "sess-1",
		"agentId":      "reviewer-3",
		"requestId":    "req-2",
		"mode":         ModeParallel,
		"requirements": map[string]any{"capabilities": []string{"review"}},
	})

	w1.expect(core.EventCollaborationRequest)
	w2.expect(core.EventCollaborationRequest)

	// The requester gets the result without a forwarded copy of its own
	// request.
	sawForwarded := false
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, requester.ws.SetReadDeadline(deadline))
		_, data, err := requester.ws.ReadMessage()
		require.NoError(t, err)
		ev, err := Unmarshal(data)
		require.NoError(t, err)
		if ev.Kind == core.EventCollaborationRequest {
			sawForwarded = true
		}
		if ev.Kind == core.EventCollaborationResult {
			assert.ElementsMatch(t, []string{"reviewer-1", "reviewer-2"},
				payloadStrings(ev.Payload["agentIds"]))
			assert.Equal(t, float64(2), ev.Payload["dispatched"])
			break
		}
	}
	assert.False(t, sawForwarded)
}

func TestServerCollaborationNoMatch(t *testing.T) {
	_, url := newCollabServer(t)

	p := joinPeer(t, url, "sess-1")
	p.send(core.EventCollaborationRequest, map[string]any{
		"sessionId":    "sess-1",
		"requirements": map[string]any{"capabilities": []string{"review"}},
	})

	collabErr := p.expect(core.EventCollaborationError)
	assert.Contains(t, collabErr.PayloadString("error"), "no suitable agents")
}

func TestServerBroadcastAPI(t *testing.T) {
	s, url := newCollabServer(t)

	member := joinPeer(t, url, "sess-1")
	outsider := dialPeer(t, url)
	outsider.expect(core.EventWelcome)

	// Session-scoped broadcast reaches members only.
	n, err := s.Broadcast("sess-1", "announcement", map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	ev := member.expect(core.EventKind("announcement"))
	assert.Equal(t, "hello", ev.PayloadString("text"))

	// Server-wide broadcast reaches every connection.
	n, err = s.Broadcast("", "maintenance", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	member.expect(core.EventKind("maintenance"))
	outsider.expect(core.EventKind("maintenance"))

	_, err = s.Broadcast("sess-1", "", nil)
	assert.Error(t, err)
}

func TestServerBroadcastAfterClose(t *testing.T) {
	s := NewServer()
	require.NoError(t, s.Close())

	_, err := s.Broadcast("sess-1", "announcement", nil)
	assert.True(t, errors.Is(err, ErrServerClosed))
}

func TestServerStats(t *testing.T) {
	s, url := newCollabServer(t)

	p := joinPeer(t, url, "sess-1")
	p.registerAgent("sess-1", "worker-1", "worker", nil, 1)

	stats := s.Stats()
	assert.Equal(t, 1, stats.ActiveConnections)
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 1, stats.RegisteredAgents)
	assert.GreaterOrEqual(t, stats.MessagesProcessed, int64(2))
	assert.False(t, stats.StartTime.IsZero())

	agents := s.Agents()
	require.Len(t, agents, 1)
	assert.Equal(t, "worker-1", agents[0].ID)

	sessions := s.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "sess-1", sessions[0].ID)
}

func TestServerIdleSweep(t *testing.T) {
	s, url := newCollabServer(t, func(o *ServerOptions) {
		o.IdleSessionTTL = 50 * time.Millisecond
		o.SweepInterval = 25 * time.Millisecond
	})

	transitions := make(chan string, 8)
	s.Hooks().Register(NewFunctionHook(HookSessionStateChange, func(_ context.Context, hookCtx *HookContext) error {
		if transition, ok := hookCtx.Metadata["transition"].(string); ok {
			transitions <- hookCtx.SessionID + ":" + transition
		}
		return nil
	}))

	joinPeer(t, url, "sess-sweep")

	// Session created, then reaped once it stays inactive with no agents.
	require.Eventually(t, func() bool {
		_, ok := s.Registry().Get("sess-sweep")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	var saw []string
	timeout := time.After(time.Second)
	for len(saw) < 2 {
		select {
		case tr := <-transitions:
			saw = append(saw, tr)
		case <-timeout:
			t.Fatalf("expected 2 transitions, saw %v", saw)
		}
	}
	assert.Contains(t, saw, "sess-sweep:created")
	assert.Contains(t, saw, "sess-sweep:closed")
}

func TestServerShutdownReleasesGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	s := NewServer(func(o *ServerOptions) {
		o.SweepInterval = 10 * time.Millisecond
	})
	ts := httptest.NewServer(s)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	frame, err := sonic.Marshal(Envelope{
		Type:    string(core.EventJoinSession),
		Payload: map[string]any{"sessionId": "sess-1"},
	})
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))

	// Drain until the join acknowledgment so traffic flowed end to end.
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.NoError(t, ws.SetReadDeadline(deadline))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		ev, err := Unmarshal(data)
		require.NoError(t, err)
		if ev.Kind == core.EventSessionJoined {
			break
		}
	}

	require.NoError(t, s.Close())
	_ = ws.Close()
	ts.Close()
}

func TestAdminEndpoints(t *testing.T) {
	s, url := newCollabServer(t)

	router := api.NewRouter()
	s.Mount(router)
	rest := httptest.NewServer(router)
	t.Cleanup(rest.Close)

	p := joinPeer(t, url, "sess-api")
	p.registerAgent("sess-api", "worker-1", "worker", []string{"transform"}, 1)

	health := getJSON(t, rest.URL+"/health")
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, ProtocolName, health["protocol"])
	perf, ok := health["performance"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), perf["activeConnections"])
	assert.Equal(t, float64(1), perf["registeredAgents"])

	stats := getJSON(t, rest.URL+"/api/collab/stats")
	assert.Equal(t, float64(1), stats["activeSessions"])

	sessions := getJSON(t, rest.URL+"/api/collab/sessions")
	assert.Equal(t, float64(1), sessions["count"])
	assert.Equal(t, []string{"sess-api"}, payloadStrings(sessions["sessions"]))
	details, ok := sessions["details"].([]any)
	require.True(t, ok)
	require.Len(t, details, 1)
	detail, ok := details[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), detail["agentCount"])

	agents := getJSON(t, rest.URL+"/api/collab/agents")
	assert.Equal(t, float64(1), agents["count"])
	assert.Contains(t, payloadStrings(agents["capabilities"]), "transform")
	assert.Equal(t, []string{"worker"}, payloadStrings(agents["agentTypes"]))
}

func TestAdminBroadcastEndpoint(t *testing.T) {
	s, url := newCollabServer(t)

	router := api.NewRouter()
	s.Mount(router)
	rest := httptest.NewServer(router)
	t.Cleanup(rest.Close)

	p := joinPeer(t, url, "sess-api")

	resp := postJSON(t, rest.URL+"/api/collab/broadcast", map[string]any{
		"sessionId": "sess-api",
		"event":     "notice",
		"data":      map[string]any{"text": "maintenance at noon"},
	})
	assert.Equal(t, "sent", resp["status"])
	assert.Equal(t, float64(1), resp["recipients"])

	notice := p.expect(core.EventKind("notice"))
	assert.Equal(t, "maintenance at noon", notice.PayloadString("text"))

	// Inbound kinds are rejected so clients cannot be impersonated.
	resp = postJSON(t, rest.URL+"/api/collab/broadcast", map[string]any{
		"event": "start-task",
	})
	assert.Contains(t, resp["error"], "inbound event kinds")

	resp = postJSON(t, rest.URL+"/api/collab/broadcast", map[string]any{})
	assert.Contains(t, resp["error"], "event name required")
}
