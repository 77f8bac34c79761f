package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTransient struct{ msg string }

func (e fakeTransient) Error() string   { return e.msg }
func (e fakeTransient) Retryable() bool { return true }

type fakeContract struct{ msg string }

func (e fakeContract) Error() string   { return e.msg }
func (e fakeContract) Retryable() bool { return false }

func TestDo_SucceedsWithoutRetry(t *testing.T) {
	calls := 0
	err := Do(context.Background(), DefaultPolicy(), func(ctx context.Context) error {
		calls++
		return nil
	}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	policy := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return fakeTransient{"timeout"}
		}
		return nil
	}, nil, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustsAndDeadLetters(t *testing.T) {
	calls := 0
	var deadLettered error
	policy := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return fakeTransient{"unavailable"}
	}, nil, func(finalErr error) {
		deadLettered = finalErr
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.Equal(t, 2, calls)
	assert.Error(t, deadLettered)
}

func TestDo_NonRetryableFailsFast(t *testing.T) {
	calls := 0
	var deadLettered error
	policy := Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}

	err := Do(context.Background(), policy, func(ctx context.Context) error {
		calls++
		return fakeContract{"invalid merchant contract"}
	}, nil, func(finalErr error) {
		deadLettered = finalErr
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Error(t, deadLettered)
}

func TestDo_ContextCancelStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := Policy{MaxAttempts: 5, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}

	calls := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, policy, func(ctx context.Context) error {
		calls++
		return fakeTransient{"slow"}
	}, nil, nil)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestPolicy_DelayRespectsMaxAndFirstAttemptIsImmediate(t *testing.T) {
	p := Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond, Jitter: 0}

	assert.Equal(t, time.Duration(0), p.Delay(1))
	assert.Equal(t, 100*time.Millisecond, p.Delay(2))
	assert.Equal(t, 200*time.Millisecond, p.Delay(3))
	assert.LessOrEqual(t, p.Delay(10), 500*time.Millisecond)
}

func TestIsRetryable_DefaultsTrueForPlainErrors(t *testing.T) {
	assert.True(t, IsRetryable(errors.New("boom")))
	assert.False(t, IsRetryable(fakeContract{"bad request"}))
	assert.True(t, IsRetryable(fakeTransient{"timeout"}))
}
