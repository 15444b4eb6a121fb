// Package core provides the foundational domain types used across
// LocalMesh. It defines the core abstractions for:
//
//   - Agents (named units of work registered with a collaboration session)
//   - Tasks (units of work with requirements, assignment and progress)
//   - Sessions (collaboration containers with agents, tasks and metrics)
//   - Events (the envelope relayed between collaboration participants)
//   - Records (versioned key/value units for the state layer)
//
// The package intentionally keeps implementation concerns (persistence,
// transport, coordination) out of scope. Values here are plain data with
// small lifecycle methods; ownership and locking live with the subsystems
// that hold them, such as the collab session registry and the state store.
package core
