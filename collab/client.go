package collab

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/logging"
)

// ClientOptions holds configuration overrides passed to Dial.
type ClientOptions struct {
	// Logger receives structured client logs.
	Logger logging.Logger

	// Dialer performs the WebSocket handshake. Defaults to
	// websocket.DefaultDialer.
	Dialer *websocket.Dialer

	// Header is sent with the handshake request.
	Header http.Header

	// WriteTimeout is the per-frame write deadline.
	WriteTimeout time.Duration

	// EventBuffer sizes the inbound event channel. When the consumer lags,
	// surplus events are dropped rather than stalling the read loop.
	EventBuffer int
}

// Client is the agent-side SDK for a collaboration server. It joins
// sessions, registers agents with their task handlers, and executes
// assignments as they arrive, reporting progress automatically.
//
// Server pushes the client does not handle itself (welcome frames, session
// state, progress of other agents, collaboration requests) are delivered on
// the Events channel.
type Client struct {
	url          string
	logger       logging.Logger
	ws           *websocket.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu       sync.RWMutex
	handlers map[string]TaskHandler
	agents   map[string]string // agent ID -> session ID

	events chan core.Event

	baseCtx    context.Context
	baseCancel context.CancelFunc
	done       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

// Dial connects to a collaboration server and starts the read loop. The
// context bounds the handshake only; use Close to release the client.
func Dial(ctx context.Context, url string, optFns ...func(o *ClientOptions)) (*Client, error) {
	opts := ClientOptions{
		Logger:       logging.NoOpLogger{},
		Dialer:       websocket.DefaultDialer,
		WriteTimeout: 10 * time.Second,
		EventBuffer:  64,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	ws, _, err := opts.Dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())

	c := &Client{
		url:          url,
		logger:       opts.Logger,
		ws:           ws,
		writeTimeout: opts.WriteTimeout,
		handlers:     make(map[string]TaskHandler),
		agents:       make(map[string]string),
		events:       make(chan core.Event, opts.EventBuffer),
		baseCtx:      baseCtx,
		baseCancel:   baseCancel,
		done:         make(chan struct{}),
	}

	c.wg.Add(1)
	go c.readLoop()

	return c, nil
}

// Events returns the inbound event stream. The channel closes when the
// connection ends.
func (c *Client) Events() <-chan core.Event { return c.events }

// RegisterHandler adds a task handler routed by its Name. Handlers
// registered through RegisterAgent land here too.
func (c *Client) RegisterHandler(h TaskHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[h.Name()] = h
}

// JoinSession enters a collaboration session. The session-joined broadcast
// with the current session state arrives on Events.
func (c *Client) JoinSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("collab: session id required")
	}
	ev := core.NewEvent(core.EventJoinSession, sessionID)
	return c.sendEvent(ctx, ev)
}

// LeaveSession leaves a session. Agents this client registered there are
// unregistered by the server.
func (c *Client) LeaveSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("collab: session id required")
	}
	ev := core.NewEvent(core.EventLeaveSession, sessionID)
	return c.sendEvent(ctx, ev)
}

// RegisterAgent announces an agent into a session and installs its task
// handlers. Handler names are added to the agent's declared capabilities so
// capability matching can route their task types here.
func (c *Client) RegisterAgent(ctx context.Context, sessionID string, agent *core.Agent, handlers ...TaskHandler) error {
	if sessionID == "" {
		return fmt.Errorf("collab: session id required")
	}
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("collab: agent with id required")
	}

	capabilities := append([]string{}, agent.Capabilities...)
	seen := make(map[string]struct{}, len(capabilities))
	for _, capability := range capabilities {
		seen[capability] = struct{}{}
	}

	c.mu.Lock()
	for _, h := range handlers {
		c.handlers[h.Name()] = h
		if _, ok := seen[h.Name()]; !ok {
			capabilities = append(capabilities, h.Name())
			seen[h.Name()] = struct{}{}
		}
	}
	c.agents[agent.ID] = sessionID
	c.mu.Unlock()

	ev := core.NewEvent(core.EventRegisterAgent, sessionID).
		WithAgent(agent.ID).
		WithPayload(map[string]any{
			"name":               agent.Name,
			"type":               agent.Type,
			"capabilities":       capabilities,
			"maxConcurrentTasks": agent.MaxConcurrentTasks,
		})
	return c.sendEvent(ctx, ev)
}

// UnregisterAgent withdraws an agent registration.
func (c *Client) UnregisterAgent(ctx context.Context, agentID string) error {
	if agentID == "" {
		return fmt.Errorf("collab: agent id required")
	}

	c.mu.Lock()
	sessionID := c.agents[agentID]
	delete(c.agents, agentID)
	c.mu.Unlock()

	ev := core.NewEvent(core.EventUnregisterAgent, sessionID).WithAgent(agentID)
	return c.sendEvent(ctx, ev)
}

// StartTask submits a task to a session and returns its generated ID.
// Progress and results arrive as task-progress events.
func (c *Client) StartTask(
	ctx context.Context,
	sessionID, taskType string,
	payload map[string]any,
	req core.TaskRequirements,
	mode string,
) (string, error) {
	if sessionID == "" {
		return "", fmt.Errorf("collab: session id required")
	}
	if taskType == "" {
		return "", fmt.Errorf("collab: task type required")
	}

	taskID := core.NewID()
	ev := core.NewEvent(core.EventStartTask, sessionID).WithPayload(map[string]any{
		"taskId":            taskID,
		"type":              taskType,
		"payload":           payload,
		"requirements":      req,
		"collaborationMode": normalizeMode(mode),
	})
	if err := c.sendEvent(ctx, ev); err != nil {
		return "", err
	}

	return taskID, nil
}

// CollaborationRequest describes an agent-to-agent request. Either
// TargetAgent or Requirements selects the recipients; with neither set,
// every available agent in the session except the requester qualifies.
type CollaborationRequest struct {
	SessionID    string
	AgentID      string
	Mode         string
	TargetAgent  string
	Requirements core.TaskRequirements
	Data         map[string]any
}

// RequestCollaboration dispatches a collaboration request and returns its
// ID. The coordination outcome arrives as a collaboration-result or
// collaboration-error event.
func (c *Client) RequestCollaboration(ctx context.Context, req CollaborationRequest) (string, error) {
	if req.SessionID == "" {
		return "", fmt.Errorf("collab: session id required")
	}

	requestID := core.NewID()
	payload := map[string]any{
		"requestId":    requestID,
		"mode":         normalizeMode(req.Mode),
		"requirements": req.Requirements,
	}
	if req.TargetAgent != "" {
		payload["targetAgent"] = req.TargetAgent
	}
	if req.Data != nil {
		payload["data"] = req.Data
	}

	ev := core.NewEvent(core.EventCollaborationRequest, req.SessionID).
		WithAgent(req.AgentID).
		WithPayload(payload)
	if err := c.sendEvent(ctx, ev); err != nil {
		return "", err
	}

	return requestID, nil
}

// ReportProgress sends a manual progress update for a running task. The
// SDK reports start, completion and failure automatically; long-running
// handlers can interleave finer-grained updates.
func (c *Client) ReportProgress(ctx context.Context, sessionID, agentID, taskID string, progress float64, message string) error {
	return c.sendProgress(ctx, sessionID, agentID, taskID, "processing", progress, message, nil, "")
}

func (c *Client) sendProgress(
	ctx context.Context,
	sessionID, agentID, taskID, status string,
	progress float64,
	message string,
	result any,
	failure string,
) error {
	payload := map[string]any{
		"taskId":   taskID,
		"status":   status,
		"progress": progress,
	}
	if message != "" {
		payload["message"] = message
	}
	if result != nil {
		payload["result"] = result
	}
	if failure != "" {
		payload["error"] = failure
	}

	ev := core.NewEvent(core.EventAgentProgress, sessionID).
		WithAgent(agentID).
		WithPayload(payload)
	return c.sendEvent(ctx, ev)
}

// sendEvent marshals and writes one frame. Writes are serialized; each
// carries a deadline.
func (c *Client) sendEvent(ctx context.Context, ev core.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	data, err := Marshal(ev)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s frame: %w", ev.Kind, err)
	}

	return nil
}

// readLoop consumes server frames, spawning handler executions for task
// assignments and forwarding everything to the event channel.
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.events)

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("connection lost", "error", err.Error())
			}
			return
		}

		ev, err := Unmarshal(data)
		if err != nil {
			c.logger.Warn("malformed server frame", "error", err.Error())
			continue
		}

		c.handleEvent(ev)
	}
}

func (c *Client) handleEvent(ev core.Event) {
	if ev.Kind == core.EventTaskAssigned {
		c.maybeExecute(ev)
	}

	select {
	case c.events <- ev:
	default:
		c.logger.Debug("event dropped, consumer too slow", "kind", string(ev.Kind))
	}
}

// maybeExecute starts handler execution when the assignment targets one of
// this client's agents and a handler covers the task type.
func (c *Client) maybeExecute(ev core.Event) {
	taskID := ev.PayloadString("taskId")
	taskMap, _ := ev.Payload["task"].(map[string]any)
	if taskID == "" || taskMap == nil {
		return
	}
	taskType, _ := taskMap["type"].(string)
	params, _ := taskMap["payload"].(map[string]any)
	if params == nil {
		params = map[string]any{}
	}

	c.mu.RLock()
	_, mine := c.agents[ev.AgentID]
	handler, covered := c.handlers[taskType]
	c.mu.RUnlock()

	if !mine || !covered {
		return
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.executeTask(ev.SessionID, ev.AgentID, taskID, handler, params)
	}()
}

func (c *Client) executeTask(sessionID, agentID, taskID string, handler TaskHandler, params map[string]any) {
	ctx := c.baseCtx
	start := time.Now()

	if err := c.sendProgress(ctx, sessionID, agentID, taskID, "processing", 0,
		fmt.Sprintf("executing %s", handler.Name()), nil, ""); err != nil {
		c.logger.Warn("progress report failed", "task_id", taskID, "error", err.Error())
	}

	result, err := runHandler(ctx, handler, params)
	if err != nil {
		c.logger.Error("task handler failed", "task_id", taskID,
			"handler", handler.Name(), "error", err.Error())
		if rerr := c.sendProgress(ctx, sessionID, agentID, taskID, "failed", 0,
			"", nil, err.Error()); rerr != nil {
			c.logger.Warn("failure report failed", "task_id", taskID, "error", rerr.Error())
		}
		return
	}

	if rerr := c.sendProgress(ctx, sessionID, agentID, taskID, "completed", 100,
		"", result, ""); rerr != nil {
		c.logger.Warn("completion report failed", "task_id", taskID, "error", rerr.Error())
	}

	c.logger.Info("task handled", "task_id", taskID, "handler", handler.Name(),
		"duration_ms", time.Since(start).Milliseconds())
}

// Close ends the connection and waits for the read loop and any running
// handlers to finish. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.baseCancel()
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		_ = c.ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		_ = c.ws.Close()
	})

	c.wg.Wait()
	return nil
}
