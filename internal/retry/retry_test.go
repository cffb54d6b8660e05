package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	errTransient = errors.New("timeout")
	errTerminal  = errors.New("http 404")
)

func isTransient(err error) bool { return errors.Is(err, errTransient) }

type recordingSleeper struct {
	calls []time.Duration
}

func (s *recordingSleeper) Sleep(_ context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return nil
}

func TestDoSucceedsOnThirdAttempt(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	p := Policy{MaxAttempts: 3, Backoff: 2 * time.Second, Retryable: isTransient, Sleep: sleeper.Sleep}

	calls := 0
	attempts, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if attempt < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, sleeper.calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	p := Policy{MaxAttempts: 3, Backoff: time.Second, Retryable: isTransient, Sleep: sleeper.Sleep}

	attempts, err := p.Do(context.Background(), func(context.Context, int) error { return errTerminal })
	require.ErrorIs(t, err, errTerminal)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, sleeper.calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	sleeper := &recordingSleeper{}
	p := Policy{MaxAttempts: 3, Backoff: time.Second, Retryable: isTransient, Sleep: sleeper.Sleep}

	attempts, err := p.Do(context.Background(), func(context.Context, int) error { return errTransient })
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 3, attempts)
	assert.Len(t, sleeper.calls, 2)
}

func TestDoZeroValueSingleAttempt(t *testing.T) {
	t.Parallel()

	attempts, err := Policy{}.Do(context.Background(), func(context.Context, int) error { return errTransient })
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, attempts)
}

func TestDoAbortsWhenContextCanceledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := Policy{MaxAttempts: 3, Backoff: time.Hour, Retryable: isTransient}

	attempts, err := p.Do(ctx, func(context.Context, int) error {
		cancel()
		return errTransient
	})
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, 1, attempts)
}

func TestSleep(t *testing.T) {
	t.Parallel()

	require.NoError(t, Sleep(context.Background(), time.Millisecond))
	require.NoError(t, Sleep(context.Background(), 0))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
