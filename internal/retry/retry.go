// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

// Package retry provides a small typed exponential-backoff retrier used
// to absorb transient failures when spawning the passphrase command.
// Only spawn failures are ever retried: a command that starts and exits
// non-zero, or whose output cannot be read, may have already produced
// side effects and must not be retried blindly.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Retrier executes an operation with backoff until it succeeds, the
// context is cancelled, or the backoff policy gives up.
type Retrier interface {
	RetryWithBackoff(ctx context.Context, op func() error) error
}

// TypedRetrier adapts a Retrier to operations that return a value.
type TypedRetrier[T any] struct {
	retrier Retrier
}

// NewTypedRetrier wraps a base Retrier for typed operations.
func NewTypedRetrier[T any](r Retrier) *TypedRetrier[T] {
	return &TypedRetrier[T]{retrier: r}
}

// RetryWithBackoff runs op, retrying it under the wrapped policy, and
// returns the last successful result.
func (r *TypedRetrier[T]) RetryWithBackoff(
	ctx context.Context,
	op func() (T, error),
) (T, error) {
	var result T
	err := r.retrier.RetryWithBackoff(ctx, func() error {
		var opErr error
		result, opErr = op()
		return opErr
	})
	return result, err
}

// BoundedRetrier implements Retrier using a short exponential backoff
// capped by a maximum total elapsed time, suitable for a command spawn
// that is expected to succeed within milliseconds under normal load.
type BoundedRetrier struct {
	maxElapsed time.Duration
}

// NewBoundedRetrier returns a BoundedRetrier that gives up after
// maxElapsed has passed since the first attempt.
func NewBoundedRetrier(maxElapsed time.Duration) *BoundedRetrier {
	return &BoundedRetrier{maxElapsed: maxElapsed}
}

// RetryWithBackoff implements Retrier.
func (r *BoundedRetrier) RetryWithBackoff(
	ctx context.Context,
	operation func() error,
) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = r.maxElapsed
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}
