package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinator_Execute_AllStepsSucceed(t *testing.T) {
	var order []string
	steps := []Step{
		{Name: "reserve", Execute: func(ctx context.Context) error { order = append(order, "reserve"); return nil }},
		{Name: "charge", Execute: func(ctx context.Context) error { order = append(order, "charge"); return nil }},
	}

	run := &Run{ID: "saga-1"}
	err := NewCoordinator(steps).Execute(context.Background(), run)

	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, run.Status)
	assert.Equal(t, []string{"reserve", "charge"}, order)
}

func TestCoordinator_Execute_FailureCompensatesInReverseOrder(t *testing.T) {
	var compensated []string
	steps := []Step{
		{
			Name:       "reserve",
			Execute:    func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { compensated = append(compensated, "reserve"); return nil },
		},
		{
			Name:       "authorize",
			Execute:    func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { compensated = append(compensated, "authorize"); return nil },
		},
		{
			Name:    "capture",
			Execute: func(ctx context.Context) error { return errors.New("psp declined") },
		},
	}

	run := &Run{ID: "saga-2"}
	err := NewCoordinator(steps).Execute(context.Background(), run)

	require.Error(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, []string{"authorize", "reserve"}, compensated)
	require.NotNil(t, run.FailureReason)
	assert.Contains(t, *run.FailureReason, "psp declined")
}

func TestCoordinator_Execute_CompensationErrorsDoNotStopRollback(t *testing.T) {
	var compensated []string
	steps := []Step{
		{
			Name:       "reserve",
			Execute:    func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { compensated = append(compensated, "reserve"); return nil },
		},
		{
			Name:       "authorize",
			Execute:    func(ctx context.Context) error { return nil },
			Compensate: func(ctx context.Context) error { return errors.New("void failed") },
		},
		{
			Name:    "capture",
			Execute: func(ctx context.Context) error { return errors.New("psp timeout") },
		},
	}

	run := &Run{ID: "saga-3"}
	err := NewCoordinator(steps).Execute(context.Background(), run)

	require.Error(t, err)
	assert.Equal(t, StatusFailed, run.Status)
	assert.Equal(t, []string{"reserve"}, compensated)
	assert.Contains(t, err.Error(), "compensation errors")
}

func TestRun_TransitionTo_RejectsFromTerminal(t *testing.T) {
	run := &Run{ID: "saga-4", Status: StatusCompleted}
	err := run.transitionTo(StatusRunning)
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}
