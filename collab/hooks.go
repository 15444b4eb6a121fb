package collab

import (
	"context"
	"sync"

	"github.com/hupe1980/localmesh/core"
	"github.com/hupe1980/localmesh/logging"
)

// HookType names a lifecycle point in the coordination pipeline where
// registered hooks run.
type HookType string

const (
	// HookBeforeTask runs before a task is assigned to agents. A hook error
	// aborts the assignment and is reported as a task-error broadcast.
	HookBeforeTask HookType = "before_task"

	// HookAfterTask runs when a task reaches a terminal status.
	HookAfterTask HookType = "after_task"

	// HookOnError runs when the server records a coordination error.
	HookOnError HookType = "on_error"

	// HookAgentRegistered runs after an agent joins a session registry.
	HookAgentRegistered HookType = "agent_registered"

	// HookAgentUnregistered runs after an agent leaves a session registry.
	HookAgentUnregistered HookType = "agent_unregistered"

	// HookSessionStateChange runs when a session is created or its status
	// transitions (active, idle, closed).
	HookSessionStateChange HookType = "session_state_change"
)

// HookContext carries the state a hook may inspect. Fields are populated
// per hook type; unrelated fields are nil.
type HookContext struct {
	// HookType indicates which lifecycle point triggered the hook, letting
	// shared implementations branch on the phase.
	HookType HookType

	// SessionID scopes the hook to a collaboration session.
	SessionID string

	// AgentID identifies the acting agent when one is involved.
	AgentID string

	// Task is the task in flight for before_task/after_task hooks.
	Task *core.Task

	// Event is the inbound event that triggered the hook, when there is one.
	Event *core.Event

	// Err holds the recorded error for on_error hooks.
	Err error

	// Metadata provides extensible storage for hook-specific data.
	Metadata map[string]any
}

// Hook is a lifecycle extension point. Hooks run synchronously on the
// dispatch path, so implementations must be fast and must not block.
// Returning an error from a before_task hook vetoes the assignment; errors
// from other hook types are logged and do not stop coordination.
type Hook interface {
	// Type returns the lifecycle point this hook handles.
	Type() HookType

	// Execute performs the hook logic.
	Execute(ctx context.Context, hookCtx *HookContext) error
}

// FunctionHook wraps a plain function as a Hook, for simple stateless
// extensions.
type FunctionHook struct {
	hookType HookType
	fn       func(ctx context.Context, hookCtx *HookContext) error
}

// NewFunctionHook creates a function-based hook for the given lifecycle
// point.
func NewFunctionHook(
	hookType HookType,
	fn func(ctx context.Context, hookCtx *HookContext) error,
) *FunctionHook {
	return &FunctionHook{hookType: hookType, fn: fn}
}

// Type returns the lifecycle point this hook handles.
func (h *FunctionHook) Type() HookType { return h.hookType }

// Execute calls the wrapped function.
func (h *FunctionHook) Execute(ctx context.Context, hookCtx *HookContext) error {
	return h.fn(ctx, hookCtx)
}

// HookManager routes lifecycle events to registered hooks. Hooks for the
// same type run sequentially in registration order; the first error stops
// the chain and is returned to the caller. The manager is safe for
// concurrent registration and execution.
type HookManager struct {
	mu    sync.RWMutex
	hooks map[HookType][]Hook
}

// NewHookManager creates an empty hook manager.
func NewHookManager() *HookManager {
	return &HookManager{hooks: make(map[HookType][]Hook)}
}

// Register adds a hook for its declared type.
func (m *HookManager) Register(hook Hook) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hooks[hook.Type()] = append(m.hooks[hook.Type()], hook)
}

// Execute runs all hooks registered for the given type in order, stopping
// at the first error.
func (m *HookManager) Execute(ctx context.Context, hookType HookType, hookCtx *HookContext) error {
	m.mu.RLock()
	hooks := append([]Hook(nil), m.hooks[hookType]...)
	m.mu.RUnlock()

	if hookCtx.HookType == "" {
		hookCtx.HookType = hookType
	}

	for _, hook := range hooks {
		if err := hook.Execute(ctx, hookCtx); err != nil {
			return err
		}
	}

	return nil
}

// LoggingHook emits a debug log line for every invocation of its lifecycle
// point. Useful for tracing coordination flows during development.
type LoggingHook struct {
	hookType HookType
	logger   logging.Logger
}

// NewLoggingHook creates a logging hook for the given lifecycle point.
func NewLoggingHook(hookType HookType, logger logging.Logger) *LoggingHook {
	return &LoggingHook{hookType: hookType, logger: logger}
}

// Type returns the lifecycle point this hook handles.
func (h *LoggingHook) Type() HookType { return h.hookType }

// Execute logs the hook invocation with its session and agent scope.
func (h *LoggingHook) Execute(_ context.Context, hookCtx *HookContext) error {
	if h.logger == nil {
		return nil
	}

	args := []any{"hook", string(h.hookType), "session_id", hookCtx.SessionID}
	if hookCtx.AgentID != "" {
		args = append(args, "agent_id", hookCtx.AgentID)
	}
	if hookCtx.Task != nil {
		args = append(args, "task_id", hookCtx.Task.ID, "task_status", string(hookCtx.Task.Status))
	}
	if hookCtx.Err != nil {
		args = append(args, "error", hookCtx.Err.Error())
	}
	h.logger.Debug("collab hook fired", args...)

	return nil
}
