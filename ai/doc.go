// Package ai defines the provider-agnostic abstractions for calling
// language models inside LocalMesh.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Surface provider failures as typed errors with a retryable flag
//   - Keep request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockProvider)
//
// Providers (e.g. OpenAI, Anthropic) implement the Provider interface from
// this package so higher layers (assistants, collab handlers) remain
// decoupled from vendor SDKs. The Retryer wraps any Provider with a fixed
// retry budget that only re-attempts errors marked retryable.
package ai
