package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoff_SucceedsAfterRetries(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := Backoff(context.Background(), func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	}, WithInitialDelay(time.Millisecond))

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestBackoff_GivesUp(t *testing.T) {
	t.Parallel()
	attempts := 0
	err := Backoff(context.Background(), func(context.Context) error {
		attempts++
		return errors.New("still failing")
	}, WithMaxRetries(2), WithInitialDelay(time.Millisecond), WithMaxDelay(2*time.Millisecond))

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "giving up after 3 attempts")
}

func TestBackoff_FatalIsNotRetried(t *testing.T) {
	t.Parallel()
	attempts := 0
	cause := errors.New("bad credentials")
	err := Backoff(context.Background(), func(context.Context) error {
		attempts++
		return Fatal(cause)
	}, WithInitialDelay(time.Millisecond))

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, cause)
}

func TestBackoff_ContextCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Backoff(ctx, func(context.Context) error {
		attempts++
		cancel()
		return errors.New("transient")
	}, WithInitialDelay(time.Hour))

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestRetry_KeepsName(t *testing.T) {
	t.Parallel()
	attempts := 0
	step := Retry(StepFunc("wait-nodes", func(context.Context) error {
		attempts++
		if attempts == 1 {
			return errors.New("not ready")
		}
		return nil
	}), WithInitialDelay(time.Millisecond))

	assert.Equal(t, "wait-nodes", step.Name())
	require.NoError(t, step.Run(context.Background()))
	assert.Equal(t, 2, attempts)
}

func TestFatal_Nil(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Fatal(nil))
	assert.False(t, IsFatal(errors.New("x")))
}
