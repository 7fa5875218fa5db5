package result

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/crawlkit/market-crawler/internal/errs"
)

// BackoffConfig bounds the exponential backoff combinator.
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxTries        int
}

// DefaultBackoff mirrors the attempt cap used for reachability checks and
// timed-out extractions.
func DefaultBackoff() BackoffConfig {
	return BackoffConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		MaxTries:        5,
	}
}

// Notify observes every retry before its backoff wait.
type Notify func(err error, wait time.Duration)

// WithBackoff re-invokes op on errors matching retryOn with exponentially
// increasing delay, up to cfg.MaxTries total invocations. Errors outside
// retryOn abort immediately. notify fires once per retry and may be nil.
func WithBackoff[T any](ctx context.Context, op Fallible[T], cfg BackoffConfig, retryOn []error, notify Notify) (T, error) {
	var value T

	attempt := func() error {
		var err error
		value, err = op(ctx)
		if err == nil {
			return nil
		}
		for _, kind := range retryOn {
			if errors.Is(err, kind) {
				return err
			}
		}
		return backoff.Permanent(err)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = cfg.InitialInterval
	exp.MaxInterval = cfg.MaxInterval
	exp.Multiplier = cfg.Multiplier
	exp.RandomizationFactor = 0
	exp.MaxElapsedTime = 0

	tries := cfg.MaxTries
	if tries < 1 {
		tries = 1
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(tries-1)), ctx)

	wrapped := func(err error, wait time.Duration) {
		if notify != nil {
			notify(err, wait)
		}
	}

	err := backoff.RetryNotify(attempt, policy, wrapped)
	return value, err
}

// RetryWhile re-invokes attempt while retryIf holds over its last value,
// running fix between attempts (a scroll or focus nudge on the page), up to
// maxTries attempts. Exhaustion yields ErrMaxTriesReached instead of the
// last unsatisfying value, so callers can escalate it to a typed content
// error. A failing attempt or fix aborts immediately.
func RetryWhile[T any](ctx context.Context, attempt Fallible[T], retryIf func(T) bool, fix func(ctx context.Context) error, maxTries int) (T, error) {
	var value T
	if maxTries < 1 {
		return value, fmt.Errorf("retry while: max tries must be at least 1, got %d", maxTries)
	}

	for i := 0; i < maxTries; i++ {
		var err error
		value, err = attempt(ctx)
		if err != nil {
			return value, err
		}
		if !retryIf(value) {
			return value, nil
		}
		if i == maxTries-1 {
			break
		}
		if fix != nil {
			if err := fix(ctx); err != nil {
				return value, fmt.Errorf("retry while: correction step: %w", err)
			}
		}
		select {
		case <-ctx.Done():
			return value, ctx.Err()
		default:
		}
	}

	return value, errs.New(errs.ErrMaxTriesReached, nil)
}
