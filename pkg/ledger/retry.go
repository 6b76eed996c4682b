package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second
	DefaultMaxDelay    = 5 * time.Second
)

// RetryPolicy bounds how reads are retried. Only Unreachable failures
// are attempted again; every other kind returns after one attempt.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy returns 3 attempts, 1s base, 5s cap
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
	}
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Delay returns the backoff before the given retry (0-based)
func (p RetryPolicy) Delay(attempt int) time.Duration {
	p = p.normalized()
	delay := p.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return delay
}

// Retry runs fn under the policy. fn reports failures as *ReadError; any
// other error is treated as Unreachable. The returned error is always a
// *ReadError carrying the number of attempts made.
func Retry[T any](ctx context.Context, policy RetryPolicy, log zerolog.Logger, method string, fn func(ctx context.Context) (T, error)) (T, error) {
	policy = policy.normalized()

	var zero T
	var lastErr *ReadError

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				lastErr.Attempts = attempt
				lastErr.Err = errors.Join(lastErr.Err, ctx.Err())
				return zero, lastErr
			case <-time.After(policy.Delay(attempt - 1)):
			}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		var re *ReadError
		if !errors.As(err, &re) {
			re = &ReadError{Kind: Unreachable, Method: method, Err: err}
		}
		if re.Method == "" {
			re.Method = method
		}
		re.Attempts = attempt + 1
		lastErr = re

		event := log.Warn()
		if re.Kind == Undecodable {
			event = log.Error()
		}
		event.
			Err(re.Err).
			Str("method", method).
			Str("kind", string(re.Kind)).
			Int("attempt", attempt+1).
			Int("max_attempts", policy.MaxAttempts).
			Msg("Ledger read failed")

		if !re.Kind.Retryable() {
			return zero, re
		}
		if ctx.Err() != nil {
			return zero, re
		}
	}

	return zero, lastErr
}
