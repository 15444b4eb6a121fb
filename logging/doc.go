// Package logging provides a minimal logging interface and adapters for LocalMesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the framework subsystems use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - LocalMeshLogger with contextual session/agent/component helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	mesh := localmesh.New(localmesh.WithLogger(logger))
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
