// Package circuitbreaker wraps sony/gobreaker for two call shapes: gRPC
// client interceptors (internal service-to-service calls) and generic
// Execute calls (PSP adapters, any collaborator reached over HTTP).
//
// States:
//   - Closed: normal operation, requests pass through
//   - Open: calls fail fast without waiting for a timeout
//   - Half-Open: a trial window lets a few requests through to probe recovery
package circuitbreaker

import (
	"context"
	"time"

	"github.com/sony/gobreaker/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/logger"
)

// Settings configures one breaker instance.
type Settings struct {
	MaxRequests         uint32        // requests allowed through while Half-Open (default 1)
	Interval            time.Duration // counter reset interval while Closed (default 60s)
	Timeout             time.Duration // time spent Open before trying Half-Open (default 30s)
	ConsecutiveFailures uint32        // consecutive transient failures that trip the breaker (default 5)
}

// DefaultSettings returns conservative defaults tuned for fast recovery.
func DefaultSettings() Settings {
	return Settings{
		MaxRequests:         1,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Recorder persists a breaker's state transitions so an operator
// dashboard or the routing table can read PSP health without reaching
// into the in-memory breaker itself. A nil Recorder leaves the breaker
// purely in-memory, which is adequate for tests and for the sandbox PSP
// targets.
type Recorder interface {
	RecordTransition(pspName string, state domain.CircuitStateName, openedUntil *time.Time)
}

// Breaker wraps gobreaker with structured logging on state transitions.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New creates a breaker with default settings.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

// NewWithSettings creates a breaker with explicit settings. PSP adapters
// use this directly so each PSP gets its own failure threshold and open
// timeout, matching the routing table's per-PSP circuit state.
func NewWithSettings(name string, s Settings) *Breaker {
	return newBreaker(name, s, nil)
}

// NewWithRecorder creates a breaker that additionally persists every
// state transition through rec, so the circuit's CLOSED/OPEN/HALF_OPEN
// history survives a process restart and can back a health dashboard.
func NewWithRecorder(name string, s Settings, rec Recorder) *Breaker {
	return newBreaker(name, s, rec)
}

func newBreaker(name string, s Settings, rec Recorder) *Breaker {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		// Trips on N consecutive transient failures, not a failure ratio
		// over a rolling window: gobreaker.Counts.ConsecutiveFailures
		// already resets to 0 on any success, so an interleaved success
		// restarts the count the spec requires.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},

		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("circuit breaker open")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("circuit breaker half-open, probing recovery")
			case gobreaker.StateClosed:
				log.Info().Msg("circuit breaker closed")
			}

			if rec == nil {
				return
			}
			var openedUntil *time.Time
			if to == gobreaker.StateOpen {
				until := time.Now().Add(s.Timeout)
				openedUntil = &until
			}
			rec.RecordTransition(name, circuitStateFromGobreaker(to), openedUntil)
		},
	})

	return &Breaker{cb: cb, name: name}
}

func circuitStateFromGobreaker(s gobreaker.State) domain.CircuitStateName {
	switch s {
	case gobreaker.StateOpen:
		return domain.CircuitOpen
	case gobreaker.StateHalfOpen:
		return domain.CircuitHalfOpen
	default:
		return domain.CircuitClosed
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

// Name returns the breaker's identifier.
func (b *Breaker) Name() string {
	return b.name
}

// ErrOpen is returned by Execute when the breaker is open or the
// half-open trial window is full, letting callers distinguish a
// fast-fail from the wrapped call's own error.
var ErrOpen = gobreaker.ErrOpenState

// Execute runs fn through the breaker. Used by PSP adapters and other
// non-gRPC collaborators; every error fn returns counts as a failure
// toward the consecutive-failure trip threshold.
func (b *Breaker) Execute(fn func() (any, error)) (any, error) {
	result, err := b.cb.Execute(fn)
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, ErrOpen
	}
	return result, err
}

// UnaryClientInterceptor wraps an internal gRPC call in the breaker.
func UnaryClientInterceptor(b *Breaker) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		var invokeErr error

		_, cbErr := b.cb.Execute(func() (any, error) {
			invokeErr = invoker(ctx, method, req, reply, cc, opts...)
			if invokeErr != nil && isCircuitBreakerFailure(invokeErr) {
				return nil, invokeErr
			}
			return nil, nil
		})

		if cbErr == gobreaker.ErrOpenState {
			return status.Error(codes.Unavailable, "service unavailable (circuit breaker open)")
		}
		if cbErr == gobreaker.ErrTooManyRequests {
			return status.Error(codes.Unavailable, "too many requests (circuit breaker half-open)")
		}

		return invokeErr
	}
}

// isCircuitBreakerFailure reports whether err should count against the
// breaker's consecutive-failure trip threshold. Only infrastructure errors count; business
// errors (NotFound, InvalidArgument) do not.
func isCircuitBreakerFailure(err error) bool {
	st, ok := status.FromError(err)
	if !ok {
		return true
	}

	switch st.Code() {
	case codes.Unavailable,
		codes.DeadlineExceeded,
		codes.Aborted,
		codes.Internal,
		codes.Unknown:
		return true
	default:
		return false
	}
}
