package ai

import "context"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Request captures the normalized provider input.
type Request struct {
	// Instructions is the system prompt. Providers that model system
	// prompts as messages prepend it.
	Instructions string    `json:"instructions,omitempty"`
	Messages     []Message `json:"messages"`
	Stream       bool      `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a provider. Partial
// chunks carry incremental content; the final chunk carries the full text
// and a finish reason.
type Response struct {
	ID           string      `json:"id,omitempty"`
	Partial      bool        `json:"partial"`
	Content      string      `json:"content"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a provider implementation.
type Info struct {
	Name              string `json:"name"`
	Provider          string `json:"provider"`
	SupportsStreaming bool   `json:"supports_streaming"`
}

// Provider is the minimal interface required to drive generation. Generate
// returns a response channel and an error channel; both are closed when
// the call completes. Failures arrive on the error channel as *Error
// values carrying a code and a retryable flag.
type Provider interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the provider implementation.
	Info() Info
}
