package domain

import "time"

// IdempotencyStatus tracks whether an idempotency key's underlying
// operation is still running or has produced a cached result.
type IdempotencyStatus string

const (
	// IdempotencyInFlight means a caller holds the lock and is executing
	// the pipeline; a concurrent request with the same key must wait or
	// be rejected, never run the pipeline a second time.
	IdempotencyInFlight IdempotencyStatus = "IN_FLIGHT"
	IdempotencyCompleted IdempotencyStatus = "COMPLETED"
)

// IdempotencyRecord is the durable fallback behind the Redis single-flight
// lock: if Redis is unavailable or the lock expires mid-flight, the
// database row is still the source of truth for "has this key already
// produced a result."
type IdempotencyRecord struct {
	Key           string // caller-supplied Idempotency-Key header
	MerchantID    string
	RequestHash   string // digest of the normalized request body
	Status        IdempotencyStatus
	ResponseBody  []byte
	ResponseCode  int
	PaymentID     string
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// MatchesRequest reports whether a replayed request is the identical
// request (same hash) that originally claimed this key, as opposed to a
// second distinct request reusing the same key by mistake.
func (r *IdempotencyRecord) MatchesRequest(requestHash string) bool {
	return r.RequestHash == requestHash
}

// IsExpired reports whether the cached result has aged out and the key
// may be reused for a new request.
func (r *IdempotencyRecord) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
