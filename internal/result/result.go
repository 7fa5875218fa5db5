// Package result provides the tagged success/failure value and the retry
// combinators used across the crawl core. Expected failure conditions travel
// as Err results; only unexpected conditions surface as plain Go errors.
package result

import (
	"context"
	"errors"
)

// Result is either Ok(value) or Err(error). The zero value is Ok with the
// type's zero value, so construct through Ok or Err.
type Result[T any] struct {
	value T
	err   error
}

func Ok[T any](value T) Result[T] {
	return Result[T]{value: value}
}

func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// IsOk reports whether the result holds a value.
func (r Result[T]) IsOk() bool { return r.err == nil }

// Unwrap returns the value and error pair for callers that want to fall back
// to the conventional Go form.
func (r Result[T]) Unwrap() (T, error) { return r.value, r.err }

// Value returns the contained value. Only meaningful when IsOk.
func (r Result[T]) Value() T { return r.value }

// Err returns the contained error, nil when Ok.
func (r Result[T]) Err() error { return r.err }

// Or returns the contained value, or fallback when the result is Err.
func (r Result[T]) Or(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.value
}

// Fallible is any call the combinators can wrap.
type Fallible[T any] func(ctx context.Context) (T, error)

// Capture converts fn into a call that never returns an error matching one
// of the whitelisted kinds: such errors come back contained in the Result.
// Anything outside the whitelist propagates unchanged, so unexpected
// conditions still fail fast.
func Capture[T any](fn Fallible[T], kinds ...error) func(ctx context.Context) (Result[T], error) {
	return func(ctx context.Context) (Result[T], error) {
		value, err := fn(ctx)
		if err == nil {
			return Ok(value), nil
		}
		for _, kind := range kinds {
			if errors.Is(err, kind) {
				return Err[T](err), nil
			}
		}
		return Result[T]{}, err
	}
}
