package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient failure")

func TestBreaker_TripsOnConsecutiveFailures(t *testing.T) {
	b := NewWithSettings("test", Settings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             time.Minute,
		ConsecutiveFailures: 5,
	})

	for i := 0; i < 4; i++ {
		_, err := b.Execute(func() (any, error) { return nil, errTransient })
		require.ErrorIs(t, err, errTransient)
		assert.Equal(t, "closed", b.State().String())
	}

	_, err := b.Execute(func() (any, error) { return nil, errTransient })
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, "open", b.State().String())
}

func TestBreaker_SuccessResetsConsecutiveCount(t *testing.T) {
	b := NewWithSettings("test", Settings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             time.Minute,
		ConsecutiveFailures: 5,
	})

	for i := 0; i < 4; i++ {
		_, _ = b.Execute(func() (any, error) { return nil, errTransient })
	}
	_, err := b.Execute(func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "closed", b.State().String())

	for i := 0; i < 4; i++ {
		_, err := b.Execute(func() (any, error) { return nil, errTransient })
		require.ErrorIs(t, err, errTransient)
	}
	assert.Equal(t, "closed", b.State().String(), "interleaved success should have reset the consecutive-failure count")
}

func TestBreaker_OpenThenHalfOpenRecloses(t *testing.T) {
	b := NewWithSettings("test", Settings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             20 * time.Millisecond,
		ConsecutiveFailures: 3,
	})

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(func() (any, error) { return nil, errTransient })
	}
	require.Equal(t, "open", b.State().String())

	_, err := b.Execute(func() (any, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrOpen)

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "half-open", b.State().String())

	_, err = b.Execute(func() (any, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "closed", b.State().String())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := NewWithSettings("test", Settings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             20 * time.Millisecond,
		ConsecutiveFailures: 3,
	})

	for i := 0; i < 3; i++ {
		_, _ = b.Execute(func() (any, error) { return nil, errTransient })
	}
	require.Equal(t, "open", b.State().String())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "half-open", b.State().String())

	_, err := b.Execute(func() (any, error) { return nil, errTransient })
	require.ErrorIs(t, err, errTransient)
	assert.Equal(t, "open", b.State().String())
}
