package ai

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/localmesh/logging"
)

// RetryerOptions configures a Retryer.
type RetryerOptions struct {
	// MaxAttempts is the total attempt budget, including the first call.
	// Defaults to 3.
	MaxAttempts int

	// Delay is the fixed pause between attempts, with no backoff curve.
	// Defaults to 500ms.
	Delay time.Duration

	// Logger receives retry diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Retryer wraps a Provider with a bounded retry budget. Only errors whose
// Retryable flag is set are re-attempted, and only when no response chunk
// has been relayed yet; a mid-stream failure is surfaced as-is rather than
// replayed.
type Retryer struct {
	provider Provider
	opts     RetryerOptions
}

var _ Provider = (*Retryer)(nil)

// NewRetryer wraps provider with retry behavior.
func NewRetryer(provider Provider, optFns ...func(o *RetryerOptions)) *Retryer {
	opts := RetryerOptions{
		MaxAttempts: 3,
		Delay:       500 * time.Millisecond,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	return &Retryer{provider: provider, opts: opts}
}

// Generate implements Provider.
func (r *Retryer) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		var lastErr error
		for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
			if attempt > 1 {
				r.opts.Logger.Debug("retrying provider call",
					"provider", r.provider.Info().Provider,
					"attempt", attempt,
					"max_attempts", r.opts.MaxAttempts,
					"error", lastErr.Error(),
				)
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case <-time.After(r.opts.Delay):
				}
			}

			relayed, err := r.runAttempt(ctx, req, out)
			if err == nil {
				return
			}
			if relayed || !IsRetryable(err) {
				errCh <- err
				return
			}
			lastErr = err
		}

		errCh <- fmt.Errorf("retries exhausted after %d attempts: %w", r.opts.MaxAttempts, lastErr)
	}()

	return out, errCh
}

// runAttempt performs one provider call, relaying chunks downstream. It
// reports whether any chunk was relayed and the attempt's error, if any.
func (r *Retryer) runAttempt(ctx context.Context, req Request, out chan<- Response) (bool, error) {
	respCh, provErrCh := r.provider.Generate(ctx, req)

	relayed := false
	var attemptErr error
	for respCh != nil || provErrCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			select {
			case out <- resp:
				relayed = true
			case <-ctx.Done():
				return relayed, ctx.Err()
			}
		case err, ok := <-provErrCh:
			if !ok {
				provErrCh = nil
				continue
			}
			attemptErr = err
		}
	}
	return relayed, attemptErr
}

// Info implements Provider by delegating to the wrapped provider.
func (r *Retryer) Info() Info { return r.provider.Info() }
