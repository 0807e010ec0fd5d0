// Copyright 2026 ckm contributors.
// SPDX-License-Identifier: Apache-2.0

package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test error")

type mockRetrier struct {
	retryFunc func(ctx context.Context, op func() error) error
}

func (m *mockRetrier) RetryWithBackoff(ctx context.Context, op func() error) error {
	return m.retryFunc(ctx, op)
}

func TestTypedRetrier(t *testing.T) {
	t.Run("successful operation", func(t *testing.T) {
		r := &mockRetrier{retryFunc: func(_ context.Context, op func() error) error {
			return op()
		}}

		typedRetrier := NewTypedRetrier[string](r)
		result, err := typedRetrier.RetryWithBackoff(
			context.Background(),
			func() (string, error) {
				return "success", nil
			},
		)

		require.NoError(t, err)
		require.Equal(t, "success", result)
	})

	t.Run("failed operation", func(t *testing.T) {
		r := &mockRetrier{retryFunc: func(_ context.Context, op func() error) error {
			return errTest
		}}

		typedRetrier := NewTypedRetrier[string](r)
		result, err := typedRetrier.RetryWithBackoff(
			context.Background(),
			func() (string, error) {
				return "", errTest
			},
		)

		require.Equal(t, "", result)
		require.Equal(t, errTest, err)
	})
}

func TestBoundedRetrier(t *testing.T) {
	t.Run("succeeds immediately", func(t *testing.T) {
		r := NewBoundedRetrier(time.Second)
		err := r.RetryWithBackoff(context.Background(), func() error {
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("succeeds after retries", func(t *testing.T) {
		r := NewBoundedRetrier(2 * time.Second)
		attempts := 0

		err := r.RetryWithBackoff(context.Background(), func() error {
			attempts++
			if attempts < 3 {
				return errTest
			}
			return nil
		})

		require.NoError(t, err)
		require.Equal(t, 3, attempts)
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		r := NewBoundedRetrier(time.Minute)
		ctx, cancel := context.WithCancel(context.Background())
		attempts := 0

		go func() {
			time.Sleep(10 * time.Millisecond)
			cancel()
		}()

		err := r.RetryWithBackoff(ctx, func() error {
			attempts++
			return errTest
		})

		require.ErrorIs(t, err, context.Canceled)
	})

	t.Run("gives up after MaxElapsedTime", func(t *testing.T) {
		r := NewBoundedRetrier(20 * time.Millisecond)
		attempts := 0

		err := r.RetryWithBackoff(context.Background(), func() error {
			attempts++
			return errTest
		})

		require.Error(t, err)
		require.GreaterOrEqual(t, attempts, 1)
	})
}
