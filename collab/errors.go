package collab

import "fmt"

var (
	// ErrServerClosed is returned by server operations after Close.
	ErrServerClosed = fmt.Errorf("collab: server closed")

	// ErrClientClosed is returned by client operations after Close.
	ErrClientClosed = fmt.Errorf("collab: client closed")

	// ErrSessionNotFound is returned when an operation names a session the
	// registry does not hold.
	ErrSessionNotFound = fmt.Errorf("collab: session not found")

	// ErrAgentNotFound is returned when an operation names an agent that is
	// not registered.
	ErrAgentNotFound = fmt.Errorf("collab: agent not found")

	// ErrTaskNotFound is returned when a progress report names a task the
	// session does not hold.
	ErrTaskNotFound = fmt.Errorf("collab: task not found")

	// ErrNoSuitableAgents is returned when capability matching yields no
	// candidates for a task or collaboration request.
	ErrNoSuitableAgents = fmt.Errorf("collab: no suitable agents")

	// ErrSlowConsumer is reported when a connection's send buffer stays full
	// and the connection is dropped.
	ErrSlowConsumer = fmt.Errorf("collab: slow consumer")
)
