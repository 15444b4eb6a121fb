// Package anthropic provides an ai.Provider implementation for the
// Anthropic Messages API, including streaming, with API failures
// classified into typed retryable errors.
package anthropic

import (
	"context"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/localmesh/ai"
)

const providerName = "anthropic"

// Options configures the Anthropic provider adapter (model id,
// temperature, max tokens, API key).
type Options struct {
	Model       string
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Provider wraps the Anthropic Messages API behind the generic
// ai.Provider interface.
type Provider struct {
	client *anthropic.Client
	opts   Options
}

var _ ai.Provider = (*Provider)(nil)

func defaultOptions() Options {
	return Options{
		Model:       string(anthropic.ModelClaude3_5Sonnet20241022),
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

// NewProvider creates a new Anthropic provider using the official client.
func NewProvider(optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Provider{client: &client, opts: opts}
}

// NewProviderFromClient creates a new Anthropic provider from an existing
// client.
func NewProviderFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Provider{client: client, opts: opts}
}

// Generate implements unified streaming / non-streaming generation.
func (p *Provider) Generate(ctx context.Context, req ai.Request) (<-chan ai.Response, <-chan error) {
	out := make(chan ai.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := p.buildParams(req)
		if req.Stream {
			p.handleStreaming(ctx, params, out, errCh)
			return
		}
		p.handleNonStreaming(ctx, params, out, errCh)
	}()
	return out, errCh
}

// buildParams converts normalized messages into Anthropic message params.
// System messages go into the dedicated System field; the Messages API
// rejects them in the conversation body.
func (p *Provider) buildParams(req ai.Request) anthropic.MessageNewParams {
	var system []anthropic.TextBlockParam
	if req.Instructions != "" {
		system = append(system, anthropic.TextBlockParam{Text: req.Instructions})
	}

	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case ai.RoleSystem:
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case ai.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.opts.Model),
		Messages:    messages,
		MaxTokens:   p.opts.MaxTokens,
		Temperature: anthropic.Float(p.opts.Temperature),
	}
	if len(system) > 0 {
		params.System = system
	}
	return params
}

// handleStreaming forwards text deltas as partial responses, then emits
// one final response accumulated from the full event stream.
func (p *Provider) handleStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- ai.Response,
	errCh chan<- error,
) {
	stream := p.client.Messages.NewStreaming(ctx, params)

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			errCh <- classify(err)
			return
		}

		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if deltaVariant.Text == "" {
					continue
				}
				select {
				case out <- ai.Response{Partial: true, Content: deltaVariant.Text}:
				case <-ctx.Done():
					errCh <- classify(ctx.Err())
					return
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- classify(err)
		return
	}

	out <- finalResponse(&message)
}

// handleNonStreaming processes a normal (non-streaming) completion.
func (p *Provider) handleNonStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- ai.Response,
	errCh chan<- error,
) {
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		errCh <- classify(err)
		return
	}
	out <- finalResponse(resp)
}

// finalResponse flattens a completed message into one response.
func finalResponse(msg *anthropic.Message) ai.Response {
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}

	finishReason := "stop"
	if msg.StopReason != "" {
		finishReason = string(msg.StopReason)
	}

	return ai.Response{
		ID:           msg.ID,
		Partial:      false,
		Content:      text,
		FinishReason: finishReason,
		Usage: &ai.TokenUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
}

// classify maps SDK failures onto typed errors so callers can branch on
// the retryable flag instead of status codes.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ai.WrapError(providerName, ai.CodeTimeout, err)
	}

	var apierr *anthropic.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == http.StatusTooManyRequests:
			return ai.WrapError(providerName, ai.CodeRateLimited, err)
		case apierr.StatusCode == http.StatusUnauthorized || apierr.StatusCode == http.StatusForbidden:
			return ai.WrapError(providerName, ai.CodeAuth, err)
		case apierr.StatusCode == http.StatusRequestTimeout:
			return ai.WrapError(providerName, ai.CodeTimeout, err)
		case apierr.StatusCode >= http.StatusInternalServerError:
			return ai.WrapError(providerName, ai.CodeUnavailable, err)
		case apierr.StatusCode >= http.StatusBadRequest:
			return ai.WrapError(providerName, ai.CodeInvalidRequest, err)
		}
	}
	return ai.WrapError(providerName, ai.CodeInternal, err)
}

// Info returns metadata describing this Anthropic provider implementation.
func (p *Provider) Info() ai.Info {
	return ai.Info{
		Name:              p.opts.Model,
		Provider:          providerName,
		SupportsStreaming: true,
	}
}
