package pipeline

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dgallion1/docaudit/internal/config"
	"github.com/dgallion1/docaudit/internal/extract"
)

// RetryPolicy bounds how a model call is retried.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Max         time.Duration
	Jitter      time.Duration
}

// PolicyFrom derives the retry policy from a run configuration.
func PolicyFrom(a config.Analysis) RetryPolicy {
	return RetryPolicy{MaxAttempts: a.MaxAttempts, Base: a.BackoffBase, Max: a.BackoffMax, Jitter: a.BackoffBase / 2}
}

func (p RetryPolicy) backoff() retry.Backoff {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	b := retry.NewExponential(base)
	if p.Jitter > 0 {
		b = retry.WithJitter(p.Jitter, b)
	}
	if p.Max > 0 {
		b = retry.WithCappedDuration(p.Max, b)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return retry.WithMaxRetries(uint64(attempts-1), b)
}

// Call runs fn until it succeeds, fails with anything other than an
// *extract.TransientError, or the attempts run out. No attempt starts once
// ctx is done. It returns the number of attempts made; onRetry, if set, is
// called before each retry wait.
func Call[T any](ctx context.Context, p RetryPolicy, onRetry func(attempt int, err error), fn func(context.Context) (T, error)) (T, int, error) {
	var out T
	attempts := 0
	err := retry.Do(ctx, p.backoff(), func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++
		v, err := fn(ctx)
		if err == nil {
			out = v
			return nil
		}
		if extract.IsTransient(err) && ctx.Err() == nil {
			if onRetry != nil && attempts < p.MaxAttempts {
				onRetry(attempts, err)
			}
			return retry.RetryableError(err)
		}
		return err
	})
	return out, attempts, err
}
