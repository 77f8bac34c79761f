package domain

import "time"

// CircuitStateName mirrors sony/gobreaker's three states, kept here as a
// domain-level concept so routing decisions and persistence don't need to
// import the breaker library directly.
type CircuitStateName string

const (
	CircuitClosed   CircuitStateName = "CLOSED"
	CircuitOpen     CircuitStateName = "OPEN"
	CircuitHalfOpen CircuitStateName = "HALF_OPEN"
)

// CircuitState is the durable, observable snapshot of one PSP's breaker,
// persisted so an operator dashboard or the routing table can show PSP
// health without reaching into the in-memory breaker itself.
type CircuitState struct {
	PSPName      string
	State        CircuitStateName
	Failures     uint32
	Successes    uint32
	LastChanged  time.Time
	OpenedUntil  *time.Time
}

// IsAvailable reports whether the router should consider this PSP for a
// new authorization attempt.
func (c *CircuitState) IsAvailable(now time.Time) bool {
	switch c.State {
	case CircuitClosed, CircuitHalfOpen:
		return true
	case CircuitOpen:
		return c.OpenedUntil != nil && now.After(*c.OpenedUntil)
	default:
		return false
	}
}
