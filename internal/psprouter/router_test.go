package psprouter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquiro/gateway/internal/circuitbreaker"
	"github.com/acquiro/gateway/internal/collaborator"
	"github.com/acquiro/gateway/internal/domain"
)

func newTarget(name string, adapter collaborator.PSPAdapter) Target {
	return Target{Adapter: adapter, Breaker: circuitbreaker.New(name)}
}

func newTargetWithSettings(name string, adapter collaborator.PSPAdapter, s circuitbreaker.Settings) Target {
	return Target{Adapter: adapter, Breaker: circuitbreaker.NewWithSettings(name, s)}
}

func TestRouter_Authorize_SuccessOnFirstTarget(t *testing.T) {
	primary := collaborator.NewSandboxPSPAdapter("sandbox-primary")
	secondary := collaborator.NewSandboxPSPAdapter("sandbox-secondary")
	router := NewRouter([]Target{newTarget("primary", primary), newTarget("secondary", secondary)})

	payment := &domain.Payment{ID: "p1", Amount: 1000}
	result, pspName, err := router.Authorize(context.Background(), payment)

	require.NoError(t, err)
	assert.Equal(t, "sandbox-primary", pspName)
	assert.Equal(t, collaborator.PSPOutcomeSuccess, result.Kind)
}

func TestRouter_Authorize_FailsOverOnTransientError(t *testing.T) {
	primary := collaborator.NewSandboxPSPAdapter("sandbox-primary")
	secondary := collaborator.NewSandboxPSPAdapter("sandbox-secondary")
	secondary.FailThreshold = 2_000_000 // secondary stays healthy at this amount
	router := NewRouter([]Target{newTarget("primary", primary), newTarget("secondary", secondary)})

	payment := &domain.Payment{ID: "p1", Amount: 1_000_000} // triggers transient failure
	result, pspName, err := router.Authorize(context.Background(), payment)

	require.NoError(t, err)
	assert.Equal(t, "sandbox-secondary", pspName)
	assert.Equal(t, collaborator.PSPOutcomeSuccess, result.Kind)
}

func TestRouter_Authorize_DeclineDoesNotFailOver(t *testing.T) {
	primary := collaborator.NewSandboxPSPAdapter("sandbox-primary")
	secondary := collaborator.NewSandboxPSPAdapter("sandbox-secondary")
	router := NewRouter([]Target{newTarget("primary", primary), newTarget("secondary", secondary)})

	payment := &domain.Payment{ID: "p1", Amount: 13} // configured decline
	result, pspName, err := router.Authorize(context.Background(), payment)

	require.NoError(t, err)
	assert.Equal(t, "sandbox-primary", pspName)
	assert.Equal(t, collaborator.PSPOutcomeDecline, result.Kind)
}

func TestRouter_Authorize_AllTargetsUnavailable(t *testing.T) {
	primary := collaborator.NewSandboxPSPAdapter("sandbox-primary")
	router := NewRouter([]Target{newTarget("primary", primary)})

	payment := &domain.Payment{ID: "p1", Amount: 1_000_000}
	_, _, err := router.Authorize(context.Background(), payment)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllTargetsUnavailable)
}

func TestRouter_Authorize_TripsBreakerAfterFiveConsecutiveTransientFailures(t *testing.T) {
	primary := collaborator.NewSandboxPSPAdapter("sandbox-primary")
	target := newTargetWithSettings("primary", primary, circuitbreaker.Settings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             time.Minute,
		ConsecutiveFailures: 5,
	})
	router := NewRouter([]Target{target})

	payment := &domain.Payment{ID: "p1", Amount: 1_000_000} // triggers transient failure

	for i := 0; i < 5; i++ {
		_, _, err := router.Authorize(context.Background(), payment)
		require.Error(t, err)
		assert.NotErrorIs(t, err, circuitbreaker.ErrOpen)
	}

	assert.Equal(t, "open", target.Breaker.State().String())

	_, _, err := router.Authorize(context.Background(), payment)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllTargetsUnavailable)
}

func TestRouter_Authorize_HalfOpenReclosesOnSuccess(t *testing.T) {
	primary := collaborator.NewSandboxPSPAdapter("sandbox-primary")
	target := newTargetWithSettings("primary", primary, circuitbreaker.Settings{
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             20 * time.Millisecond,
		ConsecutiveFailures: 3,
	})
	router := NewRouter([]Target{target})

	failing := &domain.Payment{ID: "p1", Amount: 1_000_000}
	for i := 0; i < 3; i++ {
		_, _, _ = router.Authorize(context.Background(), failing)
	}
	require.Equal(t, "open", target.Breaker.State().String())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, "half-open", target.Breaker.State().String())

	healthy := &domain.Payment{ID: "p2", Amount: 1000}
	result, pspName, err := router.Authorize(context.Background(), healthy)

	require.NoError(t, err)
	assert.Equal(t, "sandbox-primary", pspName)
	assert.Equal(t, collaborator.PSPOutcomeSuccess, result.Kind)
	assert.Equal(t, "closed", target.Breaker.State().String())
}

func TestRouter_Resolve(t *testing.T) {
	primary := collaborator.NewSandboxPSPAdapter("sandbox-primary")
	router := NewRouter([]Target{newTarget("primary", primary)})

	adapter, ok := router.Resolve("sandbox-primary")
	require.True(t, ok)
	assert.Equal(t, "sandbox-primary", adapter.Name())

	_, ok = router.Resolve("unknown")
	assert.False(t, ok)
}
