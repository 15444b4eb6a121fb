package collab

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/logging"
)

// ServerCapabilities is advertised in the welcome frame sent to every new
// connection.
var ServerCapabilities = []string{
	"multi-agent-coordination",
	"real-time-streaming",
	"task-distribution",
	"collaboration-management",
}

// ServerOptions holds configuration overrides passed to NewServer.
type ServerOptions struct {
	// Logger receives structured server logs.
	Logger logging.Logger

	// Hooks is the lifecycle hook manager. A fresh manager is created when
	// nil; use Server.Hooks to register hooks either way.
	Hooks *HookManager

	// TaskTimeout bounds how long an assigned task may run before the
	// watchdog marks it timed out.
	TaskTimeout time.Duration

	// IdleSessionTTL is how long a session may stay inactive before the
	// sweeper idles or removes it.
	IdleSessionTTL time.Duration

	// SweepInterval is how often the idle sweeper runs.
	SweepInterval time.Duration

	// WriteTimeout is the per-frame write deadline on connections.
	WriteTimeout time.Duration

	// SendBuffer is the per-connection outbound frame buffer. A connection
	// that keeps it full is dropped as a slow consumer.
	SendBuffer int

	// ReadLimit caps the size of a single inbound frame in bytes.
	ReadLimit int64

	// CheckOrigin overrides the upgrade origin check. The default accepts
	// every origin, matching the local-first deployment model.
	CheckOrigin func(r *http.Request) bool
}

// ServerStats is a point-in-time snapshot of server-level counters.
type ServerStats struct {
	StartTime         time.Time `json:"startTime"`
	UptimeMillis      int64     `json:"uptimeMillis"`
	ActiveConnections int       `json:"activeConnections"`
	ActiveSessions    int       `json:"activeSessions"`
	RegisteredAgents  int       `json:"registeredAgents"`
	MessagesProcessed int64     `json:"messagesProcessed"`
	TasksCompleted    int64     `json:"tasksCompleted"`
	Errors            int64     `json:"errors"`
}

// Server coordinates multi-agent collaboration over WebSocket connections.
// It owns the session registry, relays event envelopes between session
// members, matches tasks to capable agents, and enforces the task timeout
// and idle-session policies. Server implements http.Handler for the
// WebSocket endpoint.
type Server struct {
	logger     logging.Logger
	meshLogger *logging.LocalMeshLogger
	hooks      *HookManager
	registry   *Registry
	tracker    *taskTracker
	upgrader   websocket.Upgrader

	taskTimeout   time.Duration
	idleTTL       time.Duration
	sweepInterval time.Duration
	writeTimeout  time.Duration
	sendBuffer    int
	readLimit     int64

	startTime         time.Time
	messagesProcessed atomic.Int64
	tasksCompleted    atomic.Int64
	errorCount        atomic.Int64

	mu         sync.RWMutex
	conns      map[*conn]struct{}
	members    map[string]map[*conn]struct{}
	agentConns map[string]*conn
	closed     bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewServer constructs a collaboration server and starts its idle-session
// sweeper. Callers must Close the server to release it.
func NewServer(optFns ...func(o *ServerOptions)) *Server {
	opts := ServerOptions{
		Logger:         logging.NoOpLogger{},
		TaskTimeout:    60 * time.Second,
		IdleSessionTTL: 30 * time.Minute,
		SweepInterval:  time.Minute,
		WriteTimeout:   10 * time.Second,
		SendBuffer:     64,
		ReadLimit:      1 << 20,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Hooks == nil {
		opts.Hooks = NewHookManager()
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}

	s := &Server{
		logger:        opts.Logger,
		hooks:         opts.Hooks,
		registry:      NewRegistry(),
		tracker:       newTaskTracker(),
		taskTimeout:   opts.TaskTimeout,
		idleTTL:       opts.IdleSessionTTL,
		sweepInterval: opts.SweepInterval,
		writeTimeout:  opts.WriteTimeout,
		sendBuffer:    opts.SendBuffer,
		readLimit:     opts.ReadLimit,
		startTime:     time.Now().UTC(),
		conns:         make(map[*conn]struct{}),
		members:       make(map[string]map[*conn]struct{}),
		agentConns:    make(map[string]*conn),
		done:          make(chan struct{}),
	}
	s.meshLogger, _ = opts.Logger.(*logging.LocalMeshLogger)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     opts.CheckOrigin,
	}

	s.wg.Add(1)
	go s.sweepLoop()

	return s
}

// Hooks returns the lifecycle hook manager for registration.
func (s *Server) Hooks() *HookManager { return s.hooks }

// Registry exposes read access to the session registry.
func (s *Server) Registry() *Registry { return s.registry }

// ServeHTTP upgrades the request to a WebSocket connection, sends the
// welcome frame and starts the connection pumps.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err.Error())
		return
	}

	c := newConn(s, ws)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ws.Close()
		return
	}
	s.conns[c] = struct{}{}
	s.wg.Add(2)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		c.writePump()
	}()
	go func() {
		defer s.wg.Done()
		c.readPump()
	}()

	welcome := core.NewEvent(core.EventWelcome, "").WithPayload(map[string]any{
		"protocol":     ProtocolName,
		"version":      ProtocolVersion,
		"server":       "localmesh",
		"capabilities": ServerCapabilities,
	})
	s.sendTo(c, welcome)

	s.logger.Info("client connected", "conn_id", c.id)
}

// dropConn removes a connection and unregisters its agents from every
// session they were registered in, broadcasting agent-unregistered to the
// affected sessions. Safe to call multiple times for the same connection:
// every call sweeps the connection's remaining agent registrations, so a
// registration racing an earlier drop is cleaned up by the read pump's
// final call.
func (s *Server) dropConn(c *conn, reason string) {
	_, agents := c.snapshot()

	s.mu.Lock()
	_, tracked := s.conns[c]
	delete(s.conns, c)
	for sessionID, set := range s.members {
		delete(set, c)
		if len(set) == 0 {
			delete(s.members, sessionID)
		}
	}
	for agentID, owner := range s.agentConns {
		if owner == c {
			delete(s.agentConns, agentID)
		}
	}
	s.mu.Unlock()

	c.close()

	for agentID, sessionID := range agents {
		s.finishUnregister(context.Background(), c, agentID, sessionID, reason)
	}

	if tracked {
		s.logger.Info("client disconnected", "conn_id", c.id, "reason", reason)
	}
}

// finishUnregister removes one agent registration from the registry and
// broadcasts the change. The caller has already released connection-level
// ownership.
func (s *Server) finishUnregister(ctx context.Context, c *conn, agentID, sessionID, reason string) {
	err := s.registry.Mutate(sessionID, func(sess *core.Session) error {
		if !sess.RemoveAgent(agentID) {
			return ErrAgentNotFound
		}
		return nil
	})
	if err != nil {
		return
	}

	ev := core.NewEvent(core.EventAgentUnregistered, sessionID).
		WithAgent(agentID).
		WithPayload(map[string]any{"reason": reason})
	s.broadcast(sessionID, ev)

	s.execHook(ctx, HookAgentUnregistered, &HookContext{
		SessionID: sessionID,
		AgentID:   agentID,
		Metadata:  map[string]any{"reason": reason},
	})

	s.logger.Info("agent unregistered", "conn_id", c.id, "agent_id", agentID,
		"session_id", sessionID, "reason", reason)
}

// broadcast fans an event out to every member of a session. Members whose
// send buffer is full are dropped.
func (s *Server) broadcast(sessionID string, ev core.Event) int {
	data, err := Marshal(ev)
	if err != nil {
		s.errorCount.Add(1)
		s.logger.Error("broadcast encode failed", "kind", string(ev.Kind), "error", err.Error())
		return 0
	}

	s.mu.RLock()
	members := make([]*conn, 0, len(s.members[sessionID]))
	for c := range s.members[sessionID] {
		members = append(members, c)
	}
	s.mu.RUnlock()

	start := time.Now()
	delivered := 0
	for _, c := range members {
		if err := c.offer(data); err != nil {
			s.dropConn(c, "slow consumer")
			continue
		}
		delivered++
	}

	if s.meshLogger != nil {
		s.meshLogger.LogBroadcast(string(ev.Kind), delivered, time.Since(start))
	} else {
		s.logger.Debug("broadcast delivered", "kind", string(ev.Kind),
			"session_id", sessionID, "recipients", delivered)
	}

	return delivered
}

// sendTo delivers an event to a single connection, dropping it when it
// cannot keep up.
func (s *Server) sendTo(c *conn, ev core.Event) {
	data, err := Marshal(ev)
	if err != nil {
		s.errorCount.Add(1)
		s.logger.Error("send encode failed", "kind", string(ev.Kind), "error", err.Error())
		return
	}
	if err := c.offer(data); err != nil {
		s.dropConn(c, "slow consumer")
	}
}

// sendError answers a connection with an error envelope and counts it.
func (s *Server) sendError(c *conn, sessionID, message string, cause core.EventKind) {
	s.errorCount.Add(1)
	s.sendTo(c, core.NewErrorEvent(sessionID, message, cause))
}

// execHook runs hooks of the given type, logging failures. Only before_task
// hooks veto; everywhere else errors are recorded and coordination goes on.
func (s *Server) execHook(ctx context.Context, hookType HookType, hookCtx *HookContext) {
	if err := s.hooks.Execute(ctx, hookType, hookCtx); err != nil {
		s.logger.Warn("hook failed", "hook", string(hookType), "error", err.Error())
	}
}

// dispatchFrame routes one inbound frame. Malformed or unsupported frames
// are answered with an error envelope; the read loop never dies on them.
func (s *Server) dispatchFrame(c *conn, data []byte) {
	s.messagesProcessed.Add(1)

	ev, err := Unmarshal(data)
	if err != nil {
		s.logger.Warn("malformed frame", "conn_id", c.id, "error", err.Error())
		s.sendError(c, "", fmt.Sprintf("invalid frame: %v", err), "")
		return
	}

	if !ev.Kind.Inbound() {
		s.sendError(c, ev.SessionID, fmt.Sprintf("unsupported event type %q", ev.Kind), ev.Kind)
		return
	}

	ctx := context.Background()

	switch ev.Kind {
	case core.EventJoinSession:
		s.handleJoinSession(ctx, c, ev)
	case core.EventLeaveSession:
		s.handleLeaveSession(ctx, c, ev)
	case core.EventRegisterAgent:
		s.handleRegisterAgent(ctx, c, ev)
	case core.EventUnregisterAgent:
		s.handleUnregisterAgent(ctx, c, ev)
	case core.EventStartTask:
		s.handleStartTask(ctx, c, ev)
	case core.EventAgentProgress:
		s.handleAgentProgress(ctx, c, ev)
	case core.EventCollaborationRequest:
		s.handleCollaborationRequest(ctx, c, ev)
	}
}

func (s *Server) handleJoinSession(ctx context.Context, c *conn, ev core.Event) {
	if ev.SessionID == "" {
		s.sendError(c, "", "session id required", ev.Kind)
		return
	}

	sess, created := s.registry.Update(ev.SessionID, func(sess *core.Session) {
		sess.Touch()
	})

	c.joinedSession(ev.SessionID)
	s.mu.Lock()
	if s.members[ev.SessionID] == nil {
		s.members[ev.SessionID] = make(map[*conn]struct{})
	}
	s.members[ev.SessionID][c] = struct{}{}
	s.mu.Unlock()

	joined := core.NewEvent(core.EventSessionJoined, ev.SessionID).
		WithPayload(sessionPayload(sess))
	s.broadcast(ev.SessionID, joined)

	if created {
		s.execHook(ctx, HookSessionStateChange, &HookContext{
			SessionID: ev.SessionID,
			Event:     &ev,
			Metadata:  map[string]any{"transition": "created"},
		})
	}

	s.logger.Info("client joined session", "conn_id", c.id, "session_id", ev.SessionID)
}

func (s *Server) handleLeaveSession(ctx context.Context, c *conn, ev core.Event) {
	if ev.SessionID == "" {
		s.sendError(c, "", "session id required", ev.Kind)
		return
	}

	if !c.memberOf(ev.SessionID) {
		s.sendError(c, ev.SessionID, "not a member of session", ev.Kind)
		return
	}

	// Agents registered through this connection leave with it.
	for _, agentID := range c.agentsIn(ev.SessionID) {
		s.unregisterAgent(ctx, c, agentID, "left_session")
	}

	left := core.NewEvent(core.EventSessionLeft, ev.SessionID).
		WithPayload(map[string]any{"connId": c.id})
	s.broadcast(ev.SessionID, left)

	c.leftSession(ev.SessionID)
	s.mu.Lock()
	if set := s.members[ev.SessionID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(s.members, ev.SessionID)
		}
	}
	s.mu.Unlock()

	_ = s.registry.Mutate(ev.SessionID, func(sess *core.Session) error {
		sess.Touch()
		return nil
	})

	s.logger.Info("client left session", "conn_id", c.id, "session_id", ev.SessionID)
}

func (s *Server) handleRegisterAgent(ctx context.Context, c *conn, ev core.Event) {
	if ev.SessionID == "" {
		s.sendError(c, "", "session id required", ev.Kind)
		return
	}
	if ev.AgentID == "" {
		s.sendError(c, ev.SessionID, "agent id required", ev.Kind)
		return
	}
	if !c.memberOf(ev.SessionID) {
		s.sendError(c, ev.SessionID, "join session before registering agents", ev.Kind)
		return
	}

	s.mu.Lock()
	if owner, ok := s.agentConns[ev.AgentID]; ok && owner != c {
		s.mu.Unlock()
		s.sendError(c, ev.SessionID, fmt.Sprintf("agent %s already registered", ev.AgentID), ev.Kind)
		return
	}
	s.agentConns[ev.AgentID] = c
	s.mu.Unlock()

	// Re-registering under a new session moves the agent; the old session
	// sees it unregister first.
	if previous, moved := c.ownAgent(ev.AgentID, ev.SessionID); moved {
		s.finishUnregister(ctx, c, ev.AgentID, previous, "moved")
	}

	name := ev.PayloadString("name")
	if name == "" {
		name = ev.AgentID
	}
	agentType := ev.PayloadString("type")
	if agentType == "" {
		agentType = "generic"
	}
	capabilities := payloadStrings(ev.Payload["capabilities"])
	maxConcurrent := 1
	if v, ok := ev.PayloadFloat("maxConcurrentTasks"); ok {
		maxConcurrent = int(v)
	}

	agent := core.NewAgent(ev.AgentID, name, agentType, capabilities, maxConcurrent)
	sess, _ := s.registry.Update(ev.SessionID, func(sess *core.Session) {
		sess.AddAgent(agent)
	})

	registered := core.NewEvent(core.EventAgentRegistered, ev.SessionID).
		WithAgent(agent.ID).
		WithPayload(map[string]any{"agent": sess.Agents[agent.ID]})
	s.broadcast(ev.SessionID, registered)

	s.execHook(ctx, HookAgentRegistered, &HookContext{
		SessionID: ev.SessionID,
		AgentID:   agent.ID,
		Event:     &ev,
	})

	s.logger.Info("agent registered", "conn_id", c.id, "agent_id", agent.ID,
		"session_id", ev.SessionID, "type", agentType, "capabilities", capabilities)
}

func (s *Server) handleUnregisterAgent(ctx context.Context, c *conn, ev core.Event) {
	if ev.AgentID == "" {
		s.sendError(c, ev.SessionID, "agent id required", ev.Kind)
		return
	}

	s.mu.RLock()
	owner, ok := s.agentConns[ev.AgentID]
	s.mu.RUnlock()
	if !ok || owner != c {
		s.sendError(c, ev.SessionID, fmt.Sprintf("agent %s not registered by this connection", ev.AgentID), ev.Kind)
		return
	}

	s.unregisterAgent(ctx, c, ev.AgentID, "unregister")
}

// unregisterAgent releases connection-level ownership of an agent and
// finishes the registry removal. Used by the unregister, leave and
// disconnect paths.
func (s *Server) unregisterAgent(ctx context.Context, c *conn, agentID, reason string) {
	sessionID, ok := c.disownAgent(agentID)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.agentConns[agentID] == c {
		delete(s.agentConns, agentID)
	}
	s.mu.Unlock()

	s.finishUnregister(ctx, c, agentID, sessionID, reason)
}

func (s *Server) handleStartTask(ctx context.Context, c *conn, ev core.Event) {
	if ev.SessionID == "" {
		s.sendError(c, "", "session id required", ev.Kind)
		return
	}

	taskType := ev.PayloadString("type")
	if taskType == "" {
		taskType = "generic"
	}
	payload, _ := ev.Payload["payload"].(map[string]any)
	req := parseRequirements(ev.Payload["requirements"])
	mode := normalizeMode(ev.PayloadString("collaborationMode"))

	task := core.NewTask(ev.SessionID, taskType, payload, req)
	if id := ev.PayloadString("taskId"); id != "" {
		task.ID = id
	}

	if err := s.hooks.Execute(ctx, HookBeforeTask, &HookContext{
		SessionID: ev.SessionID,
		Task:      task,
		Event:     &ev,
	}); err != nil {
		s.errorCount.Add(1)
		s.broadcast(ev.SessionID, taskErrorEvent(ev.SessionID, task.ID,
			fmt.Sprintf("task rejected: %v", err), req, 0))
		s.logger.Warn("task vetoed by hook", "task_id", task.ID, "error", err.Error())
		return
	}

	var (
		taskClone *core.Task
		assigned  []*core.Agent
		available int
	)
	err := s.registry.Mutate(ev.SessionID, func(sess *core.Session) error {
		available = len(sess.Agents)
		candidates := sess.FindSuitableAgents(req)
		if len(candidates) == 0 {
			return ErrNoSuitableAgents
		}
		if mode == ModeSequential {
			candidates = candidates[:1]
		}

		ids := make([]string, 0, len(candidates))
		for _, agent := range candidates {
			agent.AcquireSlot()
			assigned = append(assigned, agent.Clone())
			ids = append(ids, agent.ID)
		}
		task.Assign(ids...)
		sess.AddTask(task)
		taskClone = task.Clone()
		return nil
	})

	switch {
	case errors.Is(err, ErrSessionNotFound):
		s.sendError(c, ev.SessionID, "session not found", ev.Kind)
		return
	case errors.Is(err, ErrNoSuitableAgents):
		s.errorCount.Add(1)
		s.broadcast(ev.SessionID, taskErrorEvent(ev.SessionID, task.ID,
			"no suitable agents found for task", req, available))
		s.execHook(ctx, HookOnError, &HookContext{
			SessionID: ev.SessionID,
			Task:      task,
			Err:       ErrNoSuitableAgents,
		})
		return
	case err != nil:
		s.sendError(c, ev.SessionID, err.Error(), ev.Kind)
		return
	}

	for _, agent := range assigned {
		assignedEv := core.NewEvent(core.EventTaskAssigned, ev.SessionID).
			WithAgent(agent.ID).
			WithPayload(map[string]any{
				"taskId": taskClone.ID,
				"mode":   mode,
				"task":   taskClone,
			})
		s.broadcast(ev.SessionID, assignedEv)
	}

	s.watchTask(ev.SessionID, taskClone.ID)

	s.logger.Info("task assigned", "task_id", taskClone.ID, "session_id", ev.SessionID,
		"type", taskType, "mode", mode, "agents", len(assigned))
}

func (s *Server) handleAgentProgress(ctx context.Context, c *conn, ev core.Event) {
	taskID := ev.PayloadString("taskId")
	if ev.SessionID == "" || taskID == "" {
		s.sendError(c, ev.SessionID, "session id and task id required", ev.Kind)
		return
	}

	status := ev.PayloadString("status")
	progress, hasProgress := ev.PayloadFloat("progress")
	result := ev.Payload["result"]
	failure := ev.PayloadString("error")

	var (
		taskClone *core.Task
		terminal  bool
		execution time.Duration
	)
	err := s.registry.Mutate(ev.SessionID, func(sess *core.Session) error {
		task, ok := sess.Tasks[taskID]
		if !ok {
			return ErrTaskNotFound
		}

		settled := task.Status.Terminal()
		switch status {
		case "completed":
			terminal = true
			if !settled {
				task.Complete(result)
				execution = task.ExecutionTime()
				sess.Metrics.RecordCompletion(execution)
			}
		case "failed", "error":
			terminal = true
			if !settled {
				if failure == "" {
					failure = "task failed"
				}
				task.Fail(failure)
				sess.Metrics.FailedTasks++
			}
		default:
			if !settled {
				task.Status = core.TaskStatusRunning
				if hasProgress {
					task.Progress = progress
				}
			}
		}

		// A terminal report frees the reporting agent's slot even when a
		// sibling already settled the task.
		if agent, ok := sess.Agents[ev.AgentID]; ok && terminal {
			agent.ReleaseSlot()
		}

		sess.Touch()
		taskClone = task.Clone()
		return nil
	})
	if err != nil {
		s.sendError(c, ev.SessionID, err.Error(), ev.Kind)
		return
	}

	if terminal && s.tracker.settle(taskID) {
		switch taskClone.Status {
		case core.TaskStatusCompleted:
			s.tasksCompleted.Add(1)
		case core.TaskStatusFailed:
			s.errorCount.Add(1)
			s.execHook(ctx, HookOnError, &HookContext{
				SessionID: ev.SessionID,
				AgentID:   ev.AgentID,
				Task:      taskClone,
				Err:       fmt.Errorf("task %s failed: %s", taskID, taskClone.Error),
			})
		}
		s.execHook(ctx, HookAfterTask, &HookContext{
			SessionID: ev.SessionID,
			AgentID:   ev.AgentID,
			Task:      taskClone,
		})
		if s.meshLogger != nil {
			s.meshLogger.LogTaskExecution(taskClone.Type, execution,
				taskClone.Status == core.TaskStatusCompleted, err)
		}
	}

	progressBody := map[string]any{
		"taskId":          taskID,
		"status":          string(taskClone.Status),
		"progress":        taskClone.Progress,
		"serverTimestamp": float64(time.Now().UTC().UnixMilli()),
	}
	if msg := ev.PayloadString("message"); msg != "" {
		progressBody["message"] = msg
	}
	if taskClone.Status == core.TaskStatusCompleted && taskClone.Result != nil {
		progressBody["result"] = taskClone.Result
	}
	if taskClone.Error != "" {
		progressBody["error"] = taskClone.Error
	}

	progressEv := core.NewEvent(core.EventTaskProgress, ev.SessionID).
		WithAgent(ev.AgentID).
		WithPayload(map[string]any{"progress": progressBody})
	s.broadcast(ev.SessionID, progressEv)
}

func (s *Server) handleCollaborationRequest(ctx context.Context, c *conn, ev core.Event) {
	if ev.SessionID == "" {
		s.sendError(c, "", "session id required", ev.Kind)
		return
	}

	requestID := ev.PayloadString("requestId")
	if requestID == "" {
		requestID = core.NewID()
	}
	mode := normalizeMode(ev.PayloadString("mode"))
	target := ev.PayloadString("targetAgent")

	_, _ = s.registry.Update(ev.SessionID, func(sess *core.Session) { sess.Touch() })

	forward := core.NewEvent(core.EventCollaborationRequest, ev.SessionID).
		WithAgent(ev.AgentID)
	forwardPayload := make(map[string]any, len(ev.Payload)+2)
	for k, v := range ev.Payload {
		forwardPayload[k] = v
	}
	forwardPayload["requestId"] = requestID
	forwardPayload["mode"] = mode
	forward = forward.WithPayload(forwardPayload)

	frame, err := Marshal(forward)
	if err != nil {
		s.sendError(c, ev.SessionID, fmt.Sprintf("invalid collaboration request: %v", err), ev.Kind)
		return
	}

	recipients, err := s.collectRecipients(ev.SessionID, ev.AgentID, target,
		parseRequirements(ev.Payload["requirements"]))
	if err != nil {
		s.errorCount.Add(1)
		s.sendTo(c, collaborationErrorEvent(ev.SessionID, requestID, err.Error()))
		s.execHook(ctx, HookOnError, &HookContext{
			SessionID: ev.SessionID,
			AgentID:   ev.AgentID,
			Err:       err,
		})
		return
	}

	delivered, err := dispatch(mode, recipients, frame)
	if err != nil {
		s.errorCount.Add(1)
		s.sendTo(c, collaborationErrorEvent(ev.SessionID, requestID, err.Error()))
		return
	}

	sort.Strings(delivered)
	resultEv := core.NewEvent(core.EventCollaborationResult, ev.SessionID).
		WithAgent(ev.AgentID).
		WithPayload(map[string]any{
			"requestId":  requestID,
			"mode":       mode,
			"agentIds":   delivered,
			"dispatched": len(delivered),
		})
	s.broadcast(ev.SessionID, resultEv)

	s.logger.Info("collaboration request dispatched", "request_id", requestID,
		"session_id", ev.SessionID, "mode", mode, "agents", len(delivered))
}

// collectRecipients resolves the delivery targets for a collaboration
// request: a named target agent, or every session agent matching the
// requirements, excluding the requester itself.
func (s *Server) collectRecipients(sessionID, requester, target string, req core.TaskRequirements) ([]recipient, error) {
	if target != "" {
		s.mu.RLock()
		tc, ok := s.agentConns[target]
		s.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("target agent %s not found", target)
		}
		return []recipient{s.newRecipient(target, tc)}, nil
	}

	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	matched := sess.FindSuitableAgents(req)
	recipients := make([]recipient, 0, len(matched))
	s.mu.RLock()
	for _, agent := range matched {
		if agent.ID == requester {
			continue
		}
		tc, ok := s.agentConns[agent.ID]
		if !ok {
			continue
		}
		recipients = append(recipients, s.newRecipient(agent.ID, tc))
	}
	s.mu.RUnlock()

	if len(recipients) == 0 {
		return nil, ErrNoSuitableAgents
	}

	return recipients, nil
}

// newRecipient wraps a connection's offer so delivery failures drop the
// connection.
func (s *Server) newRecipient(agentID string, tc *conn) recipient {
	return recipient{
		agentID: agentID,
		send: func(data []byte) error {
			if err := tc.offer(data); err != nil {
				s.dropConn(tc, "slow consumer")
				return err
			}
			return nil
		},
	}
}

// watchTask starts the timeout watchdog for an assigned task.
func (s *Server) watchTask(sessionID, taskID string) {
	ctx, cancel := context.WithCancel(context.Background())
	s.tracker.track(taskID, cancel)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		timer := time.NewTimer(s.taskTimeout)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-timer.C:
			if !s.tracker.settle(taskID) {
				return
			}
			s.expireTask(sessionID, taskID)
		}
	}()
}

// expireTask marks a task timed out, releases its agents' slots and
// broadcasts the failure.
func (s *Server) expireTask(sessionID, taskID string) {
	var taskClone *core.Task
	err := s.registry.Mutate(sessionID, func(sess *core.Session) error {
		task, ok := sess.Tasks[taskID]
		if !ok {
			return ErrTaskNotFound
		}
		if task.Status.Terminal() {
			return nil
		}
		task.TimeOut()
		sess.Metrics.FailedTasks++
		for _, agentID := range task.AssignedTo {
			if agent, ok := sess.Agents[agentID]; ok {
				agent.ReleaseSlot()
			}
		}
		sess.Touch()
		taskClone = task.Clone()
		return nil
	})
	if err != nil || taskClone == nil {
		return
	}

	s.errorCount.Add(1)
	s.broadcast(sessionID, taskErrorEvent(sessionID, taskID,
		"task execution timed out", taskClone.Requirements, 0))

	ctx := context.Background()
	s.execHook(ctx, HookOnError, &HookContext{
		SessionID: sessionID,
		Task:      taskClone,
		Err:       fmt.Errorf("task %s timed out after %s", taskID, s.taskTimeout),
	})
	s.execHook(ctx, HookAfterTask, &HookContext{
		SessionID: sessionID,
		Task:      taskClone,
	})

	s.logger.Warn("task timed out", "task_id", taskID, "session_id", sessionID,
		"timeout", s.taskTimeout.String())
}

// sweepLoop periodically applies the idle-session policy.
func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			idled, removed := s.registry.Sweep(s.idleTTL)
			ctx := context.Background()
			for _, id := range idled {
				s.execHook(ctx, HookSessionStateChange, &HookContext{
					SessionID: id,
					Metadata:  map[string]any{"transition": "idle"},
				})
				s.logger.Debug("session idled", "session_id", id)
			}
			for _, id := range removed {
				s.execHook(ctx, HookSessionStateChange, &HookContext{
					SessionID: id,
					Metadata:  map[string]any{"transition": "closed"},
				})
				s.logger.Info("idle session removed", "session_id", id)
			}
		}
	}
}

// Broadcast injects an event into a session from outside the WebSocket
// plane; an empty sessionID reaches every connection. It returns the number
// of connections the frame was queued to.
func (s *Server) Broadcast(sessionID, event string, payload map[string]any) (int, error) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return 0, ErrServerClosed
	}
	if event == "" {
		return 0, fmt.Errorf("collab: event name required")
	}

	s.messagesProcessed.Add(1)
	ev := core.NewEvent(core.EventKind(event), sessionID).WithPayload(payload)

	if sessionID != "" {
		return s.broadcast(sessionID, ev), nil
	}

	data, err := Marshal(ev)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	delivered := 0
	for _, c := range conns {
		if err := c.offer(data); err != nil {
			s.dropConn(c, "slow consumer")
			continue
		}
		delivered++
	}

	return delivered, nil
}

// Stats returns a snapshot of the server counters.
func (s *Server) Stats() ServerStats {
	s.mu.RLock()
	conns := len(s.conns)
	s.mu.RUnlock()

	return ServerStats{
		StartTime:         s.startTime,
		UptimeMillis:      time.Since(s.startTime).Milliseconds(),
		ActiveConnections: conns,
		ActiveSessions:    s.registry.Len(),
		RegisteredAgents:  s.registry.AgentCount(),
		MessagesProcessed: s.messagesProcessed.Load(),
		TasksCompleted:    s.tasksCompleted.Load(),
		Errors:            s.errorCount.Load(),
	}
}

// Sessions returns clones of all tracked sessions.
func (s *Server) Sessions() []*core.Session {
	return s.registry.Snapshot()
}

// Agents returns clones of every registered agent across sessions, ordered
// by ID.
func (s *Server) Agents() []*core.Agent {
	sessions := s.registry.Snapshot()
	agents := make([]*core.Agent, 0)
	for _, sess := range sessions {
		for _, agent := range sess.Agents {
			agents = append(agents, agent)
		}
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

// Close shuts the server down: refuses new upgrades, disconnects every
// client, cancels task watchdogs and stops the sweeper. It blocks until all
// server goroutines have exited.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	close(s.done)

	for _, c := range conns {
		s.dropConn(c, "server shutdown")
	}

	s.tracker.settleAll()
	s.wg.Wait()

	s.logger.Info("collab server closed")
	return nil
}

// taskErrorEvent builds the task-error broadcast body.
func taskErrorEvent(sessionID, taskID, message string, req core.TaskRequirements, available int) core.Event {
	return core.NewEvent(core.EventTaskError, sessionID).WithPayload(map[string]any{
		"taskId":          taskID,
		"error":           message,
		"requirements":    req,
		"availableAgents": available,
	})
}

// collaborationErrorEvent builds the collaboration-error reply body.
func collaborationErrorEvent(sessionID, requestID, message string) core.Event {
	return core.NewEvent(core.EventCollaborationError, sessionID).WithPayload(map[string]any{
		"requestId": requestID,
		"error":     message,
	})
}

// payloadStrings coerces a decoded JSON array into a string slice.
func payloadStrings(v any) []string {
	switch vals := v.(type) {
	case []string:
		return append([]string{}, vals...)
	case []any:
		out := make([]string, 0, len(vals))
		for _, item := range vals {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// parseRequirements decodes the requirements object of a task or
// collaboration request.
func parseRequirements(v any) core.TaskRequirements {
	m, ok := v.(map[string]any)
	if !ok {
		return core.TaskRequirements{}
	}
	return core.TaskRequirements{
		AgentTypes:   payloadStrings(m["agentTypes"]),
		Capabilities: payloadStrings(m["capabilities"]),
	}
}
