package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetryOptions bound a single publish: each attempt gets Timeout, transient failures are retried
// Attempts times in total with exponential backoff starting at Backoff.
type RetryOptions struct {
	Attempts int
	Backoff  time.Duration
	Timeout  time.Duration
}

// WithRetry decorates r so Declare and Publish retry transient failures. Consume and Close pass through.
func WithRetry(r Relay, log *slog.Logger, opts RetryOptions) Relay {
	if opts.Attempts <= 0 {
		opts.Attempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = time.Second
	}
	return &retryRelay{Relay: r, log: log, opts: opts}
}

type retryRelay struct {
	Relay
	log  *slog.Logger
	opts RetryOptions
}

func (r *retryRelay) Declare(ctx context.Context, name string) error {
	return r.do(ctx, "declare "+name, func(ctx context.Context) error {
		return r.Relay.Declare(ctx, name)
	})
}

func (r *retryRelay) Publish(ctx context.Context, name string, msg Message) error {
	return r.do(ctx, "publish "+name, func(ctx context.Context) error {
		return r.Relay.Publish(ctx, name, msg)
	})
}

func (r *retryRelay) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	var lastErr error
	backoff := r.opts.Backoff
	for attempt := 1; attempt <= r.opts.Attempts; attempt++ {
		err := r.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsTransient(err) {
			return err
		}
		if attempt == r.opts.Attempts {
			break
		}
		r.log.Warn("relay operation failed, retrying", "op", op, "attempt", attempt, "backoff", backoff, "err", err)
		if !sleepCtx(ctx, backoff) {
			return fmt.Errorf("%w: %s: %w", ErrTransient, op, ctx.Err())
		}
		backoff *= 2
	}
	return fmt.Errorf("%w: %s: gave up after %d attempts: %v", ErrFatal, op, r.opts.Attempts, lastErr)
}

func (r *retryRelay) attempt(ctx context.Context, fn func(ctx context.Context) error) error {
	if r.opts.Timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()
	return fn(ctx)
}
