// Package psprouter selects a PSP adapter for an authorization attempt,
// fails over to the next-priority PSP on a transient error, and keeps
// each PSP behind its own circuit breaker so a struggling processor stops
// receiving traffic instead of timing out every attempt. Grounded on the
// teacher's circuitbreaker.Breaker (sony/gobreaker wrapper) and the
// order-saga's ordered-steps idea, generalized from one fixed downstream
// service into a priority-ordered, breaker-gated list of interchangeable
// PSPs.
package psprouter

import (
	"context"
	"fmt"

	"github.com/acquiro/gateway/internal/circuitbreaker"
	"github.com/acquiro/gateway/internal/collaborator"
	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/logger"
)

// Target pairs one PSP adapter with the breaker guarding it.
type Target struct {
	Adapter collaborator.PSPAdapter
	Breaker *circuitbreaker.Breaker
}

// Router tries each Target in priority order for a given operation,
// skipping any whose breaker is open and failing over to the next
// target when a call returns a transient result.
type Router struct {
	targets []Target
}

// NewRouter builds a Router over targets in priority order (index 0 is
// tried first).
func NewRouter(targets []Target) *Router {
	return &Router{targets: targets}
}

// ErrAllTargetsUnavailable is returned when every PSP is either
// circuit-open or returned a transient failure.
var ErrAllTargetsUnavailable = fmt.Errorf("no PSP target available")

// Operation is one PSP call shape, used so Authorize/Capture/Void/Refund
// can share the same failover loop.
type Operation func(ctx context.Context, adapter collaborator.PSPAdapter) (*collaborator.PSPResult, error)

// Route runs op against each target in priority order until one returns
// a non-transient result (success or decline) or every target is
// exhausted. A decline is terminal and returned immediately without
// trying the next PSP — failover is for infrastructure problems, not for
// shopping a declined card around to a different acquirer.
func (r *Router) Route(ctx context.Context, op Operation) (*collaborator.PSPResult, string, error) {
	log := logger.FromContext(ctx)

	var lastErr error
	for _, target := range r.targets {
		if target.Breaker.State().String() == "open" {
			log.Debug().Str("psp", target.Adapter.Name()).Msg("skipping psp target, breaker open")
			continue
		}

		// A transient PSPResult must count as a breaker failure the same
		// as a returned error, or a struggling PSP that always answers
		// (just badly) would never trip the breaker.
		raw, err := target.Breaker.Execute(func() (any, error) {
			result, opErr := op(ctx, target.Adapter)
			if opErr != nil {
				return nil, opErr
			}
			if result.Kind == collaborator.PSPOutcomeTransient {
				return nil, result
			}
			return result, nil
		})

		if err == circuitbreaker.ErrOpen {
			lastErr = err
			continue
		}
		if err != nil {
			if transient, ok := err.(*collaborator.PSPResult); ok {
				log.Warn().Str("psp", target.Adapter.Name()).Str("message", transient.Message).Msg("psp transient failure, trying next target")
			}
			lastErr = err
			continue
		}

		result := raw.(*collaborator.PSPResult)
		return result, target.Adapter.Name(), nil
	}

	if lastErr != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrAllTargetsUnavailable, lastErr)
	}
	return nil, "", ErrAllTargetsUnavailable
}

// Authorize routes an authorization call.
func (r *Router) Authorize(ctx context.Context, payment *domain.Payment) (*collaborator.PSPResult, string, error) {
	return r.Route(ctx, func(ctx context.Context, a collaborator.PSPAdapter) (*collaborator.PSPResult, error) {
		return a.Authorize(ctx, payment)
	})
}

// Capture routes a capture call to the PSP that authorized the payment.
// Capture never fails over across PSPs — only the PSP holding the
// authorization can capture it — so Target must be pre-resolved by the
// caller to the single adapter matching payment.PSPName.
func Capture(ctx context.Context, adapter collaborator.PSPAdapter, payment *domain.Payment) (*collaborator.PSPResult, error) {
	return adapter.Capture(ctx, payment)
}

// Void cancels an authorization at the PSP that holds it.
func Void(ctx context.Context, adapter collaborator.PSPAdapter, payment *domain.Payment) (*collaborator.PSPResult, error) {
	return adapter.Void(ctx, payment)
}

// Refund issues a refund at the PSP that captured the payment.
func Refund(ctx context.Context, adapter collaborator.PSPAdapter, payment *domain.Payment, amount int64) (*collaborator.PSPResult, error) {
	return adapter.Refund(ctx, payment, amount)
}

// Resolve finds the target whose adapter name matches name, used to
// route capture/void/refund back to the PSP that holds the
// authorization.
func (r *Router) Resolve(name string) (collaborator.PSPAdapter, bool) {
	for _, t := range r.targets {
		if t.Adapter.Name() == name {
			return t.Adapter, true
		}
	}
	return nil, false
}
