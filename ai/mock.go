package ai

import (
	"context"
	"fmt"
	"sync"
)

// MockProvider is a lightweight in-memory Provider useful for tests and
// examples. Responses are canned per prompt; errors can be queued to
// exercise retry paths.
type MockProvider struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	failures  []error
	calls     int
}

var _ Provider = (*MockProvider)(nil)

// NewMockProvider constructs a MockProvider with streaming enabled.
func NewMockProvider(name, provider string) *MockProvider {
	return &MockProvider{
		info: Info{
			Name:              name,
			Provider:          provider,
			SupportsStreaming: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input
// prompt.
func (m *MockProvider) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// FailNext queues an error; each queued error consumes one Generate call
// before canned responses resume.
func (m *MockProvider) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, err)
}

// Calls reports how many Generate calls were made.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Provider; emits optional streaming char chunks then
// a final response.
func (m *MockProvider) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.calls++
	var failure error
	if len(m.failures) > 0 {
		failure = m.failures[0]
		m.failures = m.failures[1:]
	}
	var inputText string
	if len(req.Messages) > 0 {
		inputText = req.Messages[len(req.Messages)-1].Content
	}
	full := m.responses[inputText]
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)

		if failure != nil {
			errCh <- failure
			return
		}
		if len(req.Messages) == 0 {
			errCh <- NewError(m.info.Provider, CodeInvalidRequest, "no messages provided")
			return
		}
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", inputText)
		}

		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Content: string(r)}:
				}
			}
		}
		respCh <- Response{
			Partial:      false,
			Content:      full,
			FinishReason: "stop",
		}
	}()
	return respCh, errCh
}

// Info implements Provider.
func (m *MockProvider) Info() Info { return m.info }
