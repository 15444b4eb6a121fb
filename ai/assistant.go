package ai

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/localmesh/internal/util"
	"github.com/hupe1980/localmesh/logging"
)

// AssistantOptions configures an Assistant.
type AssistantOptions struct {
	// Instructions is the system prompt. It may contain template markers
	// ({{.key}}) rendered against the assistant state before every turn.
	Instructions string

	// State seeds the template state.
	State map[string]any

	// Memory holds conversation history. Defaults to NewInMemoryStore().
	Memory Memory

	// HistoryLimit caps how many remembered entries are replayed per turn.
	// Defaults to 20.
	HistoryLimit int

	// Stream requests incremental chunks from the provider.
	Stream bool

	// Logger receives call diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Assistant composes a provider, conversation memory and an instruction
// template into a conversational loop. One Assistant serves many sessions;
// history is scoped per session id.
type Assistant struct {
	provider     Provider
	memory       Memory
	instructions string
	historyLimit int
	stream       bool
	logger       logging.Logger

	mu    sync.RWMutex
	state map[string]any
}

// NewAssistant creates an assistant on top of provider. Wrap the provider
// in a Retryer first when transient failures should be re-attempted.
func NewAssistant(provider Provider, optFns ...func(o *AssistantOptions)) *Assistant {
	opts := AssistantOptions{
		HistoryLimit: 20,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Memory == nil {
		opts.Memory = NewInMemoryStore()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}

	state := make(map[string]any, len(opts.State))
	for k, v := range opts.State {
		state[k] = v
	}

	return &Assistant{
		provider:     provider,
		memory:       opts.Memory,
		instructions: opts.Instructions,
		historyLimit: opts.HistoryLimit,
		stream:       opts.Stream,
		logger:       opts.Logger,
		state:        state,
	}
}

// SetState stores a template state value for instruction rendering.
func (a *Assistant) SetState(key string, value any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state[key] = value
}

// Memory exposes the assistant's conversation memory.
func (a *Assistant) Memory() Memory { return a.memory }

// Chat runs one conversational turn: the input is remembered, replayed
// with recent history, and the final response is remembered too. Chunks
// stream on the returned channel when streaming is enabled.
func (a *Assistant) Chat(ctx context.Context, sessionID, input string) (<-chan Response, <-chan error) {
	out := make(chan Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		req, err := a.buildRequest(sessionID, input)
		if err != nil {
			errCh <- err
			return
		}

		start := time.Now()
		respCh, provErrCh := a.provider.Generate(ctx, req)

		var final *Response
		var genErr error
		for respCh != nil || provErrCh != nil {
			select {
			case resp, ok := <-respCh:
				if !ok {
					respCh = nil
					continue
				}
				if !resp.Partial {
					r := resp
					final = &r
				}
				select {
				case out <- resp:
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				}
			case err, ok := <-provErrCh:
				if !ok {
					provErrCh = nil
					continue
				}
				genErr = err
			}
		}

		info := a.provider.Info()
		if genErr != nil {
			a.logger.Error("assistant turn failed",
				"provider", info.Provider,
				"model", info.Name,
				"session_id", sessionID,
				"error", genErr.Error(),
			)
			errCh <- genErr
			return
		}

		if final != nil {
			if _, err := a.memory.Add(sessionID, RoleAssistant, final.Content); err != nil {
				a.logger.Warn("failed to remember assistant response",
					"session_id", sessionID, "error", err.Error())
			}
			tokens := 0
			if final.Usage != nil {
				tokens = final.Usage.TotalTokens
			}
			a.logger.Info("assistant turn completed",
				"provider", info.Provider,
				"model", info.Name,
				"session_id", sessionID,
				"token_count", tokens,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		}
	}()

	return out, errCh
}

// Ask is the synchronous convenience around Chat: it drains the stream and
// returns the final response text.
func (a *Assistant) Ask(ctx context.Context, sessionID, input string) (string, error) {
	respCh, errCh := a.Chat(ctx, sessionID, input)

	var final string
	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				final = resp.Content
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return "", err
			}
		}
	}
	return final, nil
}

// buildRequest renders the instruction template, records the input and
// assembles the provider request from recent history.
func (a *Assistant) buildRequest(sessionID, input string) (Request, error) {
	a.mu.RLock()
	state := make(map[string]any, len(a.state))
	for k, v := range a.state {
		state[k] = v
	}
	a.mu.RUnlock()

	instructions, err := util.RenderTemplate(a.instructions, state)
	if err != nil {
		return Request{}, fmt.Errorf("render instructions: %w", err)
	}

	if _, err := a.memory.Add(sessionID, RoleUser, input); err != nil {
		return Request{}, fmt.Errorf("remember input: %w", err)
	}

	history, err := a.memory.Recent(sessionID, a.historyLimit)
	if err != nil {
		return Request{}, fmt.Errorf("recall history: %w", err)
	}

	messages := make([]Message, 0, len(history))
	for _, entry := range history {
		messages = append(messages, Message{Role: entry.Role, Content: entry.Content})
	}

	return Request{
		Instructions: instructions,
		Messages:     messages,
		Stream:       a.stream,
	}, nil
}
