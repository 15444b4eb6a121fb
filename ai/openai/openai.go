// Package openai provides an ai.Provider implementation using the OpenAI
// Chat Completions API (including streaming). It adapts LocalMesh's
// normalized Request/Response structures into the SDK's message format and
// classifies API failures into typed retryable errors.
package openai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/localmesh/ai"
)

const providerName = "openai"

// Options configure the OpenAI provider adapter. Fields mirror a subset of
// Chat Completion parameters intentionally kept minimal; extend via
// functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
}

// Provider wraps the OpenAI Chat Completions API behind the generic
// ai.Provider interface.
type Provider struct {
	client *openai.Client
	opts   Options
}

var _ ai.Provider = (*Provider)(nil)

func defaultOptions() Options {
	return Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}
}

// NewProvider creates a new OpenAI provider using the official client.
// Without an explicit APIKey the client configures itself from the
// environment.
func NewProvider(optFns ...func(o *Options)) *Provider {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := openai.NewClient(clientOpts...)

	return &Provider{client: &client, opts: opts}
}

// NewProviderFromClient creates a new OpenAI provider from an existing
// client.
func NewProviderFromClient(client *openai.Client, optFns ...func(o *Options)) *Provider {
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

// buildParams converts normalized messages into OpenAI chat messages. The
// request's Instructions field becomes the leading system message.
func (p *Provider) buildParams(req ai.Request) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.Instructions != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case ai.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case ai.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	return openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               p.opts.Model,
		Temperature:         openai.Float(p.opts.Temperature),
		MaxCompletionTokens: openai.Int(p.opts.MaxCompletionTokens),
	}
}

// handleStreaming forwards text deltas as partial responses and emits one
// final response with the accumulated text.
func (p *Provider) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- ai.Response,
	errCh chan<- error,
) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)

	var textBuilder strings.Builder
	finishReason := ""
	for stream.Next() {
		ck := stream.Current()
		for _, choice := range ck.Choices {
			if choice.Delta.Content != "" {
				textBuilder.WriteString(choice.Delta.Content)
				select {
				case out <- ai.Response{Partial: true, Content: choice.Delta.Content}:
				case <-ctx.Done():
					errCh <- classify(ctx.Err())
					return
				}
			}
			if choice.FinishReason != "" {
				finishReason = choice.FinishReason
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- classify(err)
		return
	}

	out <- ai.Response{
		Partial:      false,
		Content:      textBuilder.String(),
		FinishReason: finishReason,
	}
}

// handleNonStreaming processes a normal (non-streaming) completion.
func (p *Provider) handleNonStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- ai.Response,
	errCh chan<- error,
) {
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		errCh <- classify(err)
		return
	}
	if len(resp.Choices) == 0 {
		errCh <- ai.NewError(providerName, ai.CodeInternal, "no choices returned")
		return
	}

	choice := resp.Choices[0]
	out <- ai.Response{
		ID:           resp.ID,
		Partial:      false,
		Content:      choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: &ai.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
}

// classify maps SDK failures onto typed errors so callers can branch on
// the retryable flag instead of status codes.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ai.WrapError(providerName, ai.CodeTimeout, err)
	}

	var apierr *openai.Error
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

// Info returns metadata describing this OpenAI provider implementation.
func (p *Provider) Info() ai.Info {
	return ai.Info{
		Name:              p.opts.Model,
		Provider:          providerName,
		SupportsStreaming: true,
	}
}
