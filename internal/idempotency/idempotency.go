// Package idempotency implements the single-flight idempotency key
// contract in front of the authorization pipeline: a Redis SETNX lock
// for the fast path, a database row as the fallback source of truth when
// Redis is unavailable or the lock has already expired. Grounded on the
// SETNX-then-DB-check pattern in the teacher's payment service, widened
// from a single saga_id key into the three-call contract (reserve,
// store, release) the orchestrator needs around the full 8-step pipeline.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/logger"
)

const keyPrefix = "idempotency:"

// inFlightPollAttempts and inFlightPollInterval bound how long
// CheckOrReserve waits for a concurrent in-flight request on the same key
// to finish before giving up with ErrInFlight.
const (
	inFlightPollAttempts = 10
	inFlightPollInterval = 50 * time.Millisecond
)

// ErrInFlight is returned by CheckOrReserve when another request already
// holds the lock for this key and is still executing.
var ErrInFlight = errors.New("idempotency key is already being processed")

// ErrKeyReuse is returned when the same key is replayed with a request
// body whose hash doesn't match the original request.
var ErrKeyReuse = errors.New("idempotency key reused with a different request body")

// Store is the persistence surface idempotency records fall back to when
// Redis can't answer authoritatively (e.g. the lock TTL already expired
// but the pipeline is mid-flight, or Redis itself is down).
type Store interface {
	Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	Create(ctx context.Context, rec *domain.IdempotencyRecord) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, paymentID string) error
}

// Manager coordinates the Redis lock and the durable Store.
type Manager struct {
	redis     *redis.Client
	store     Store
	lockTTL   time.Duration
	resultTTL time.Duration
}

// NewManager builds a Manager. lockTTL bounds how long a single request
// may hold the in-flight lock; resultTTL is how long a completed result
// stays cached for replay.
func NewManager(redisClient *redis.Client, store Store, lockTTL, resultTTL time.Duration) *Manager {
	return &Manager{redis: redisClient, store: store, lockTTL: lockTTL, resultTTL: resultTTL}
}

// Reservation describes the outcome of CheckOrReserve.
type Reservation struct {
	// Replayed is true when a prior completed result was found and
	// returned instead of granting a fresh reservation.
	Replayed bool

	// Record is the cached record, populated only when Replayed is true.
	Record *domain.IdempotencyRecord
}

// CheckOrReserve attempts to claim key for merchantID. If a completed
// result already exists for the identical request (same requestHash), it
// is returned with Replayed=true. If the key is in flight or bound to a
// different request body, an error is returned. Otherwise a fresh lock
// is reserved and the caller must proceed to run the pipeline.
func (m *Manager) CheckOrReserve(ctx context.Context, merchantID, key, requestHash string) (*Reservation, error) {
	log := logger.FromContext(ctx)
	redisKey := keyPrefix + merchantID + ":" + key

	wasSet, err := m.redis.SetNX(ctx, redisKey, requestHash, m.lockTTL).Result()
	if err != nil {
		log.Warn().Err(err).Str("idempotency_key", key).Msg("redis unavailable for idempotency lock, falling back to database")
	}

	if err == nil && wasSet {
		if rec, getErr := m.store.Get(ctx, key); getErr == nil && rec.Status == domain.IdempotencyCompleted {
			// The completed record outlives the lock: answer from it
			// instead of reserving the key again.
			_ = m.redis.Del(ctx, redisKey).Err()
			if !rec.MatchesRequest(requestHash) {
				return nil, ErrKeyReuse
			}
			return &Reservation{Replayed: true, Record: rec}, nil
		}
		if createErr := m.store.Create(ctx, &domain.IdempotencyRecord{
			Key:         key,
			MerchantID:  merchantID,
			RequestHash: requestHash,
			Status:      domain.IdempotencyInFlight,
			CreatedAt:   time.Now(),
			ExpiresAt:   time.Now().Add(m.resultTTL),
		}); createErr != nil {
			return nil, fmt.Errorf("persisting idempotency reservation: %w", createErr)
		}
		return &Reservation{Replayed: false}, nil
	}

	var existing *domain.IdempotencyRecord
	for attempt := 1; attempt <= inFlightPollAttempts; attempt++ {
		rec, dbErr := m.store.Get(ctx, key)
		if dbErr != nil {
			if err != nil {
				return nil, fmt.Errorf("idempotency lock unavailable and no database record: %w", dbErr)
			}
			return nil, ErrInFlight
		}

		if !rec.MatchesRequest(requestHash) {
			return nil, ErrKeyReuse
		}

		if rec.Status != domain.IdempotencyInFlight {
			existing = rec
			break
		}

		if attempt == inFlightPollAttempts {
			return nil, ErrInFlight
		}

		log.Debug().Str("idempotency_key", key).Int("attempt", attempt).Msg("idempotency key in flight, polling for completion")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(inFlightPollInterval):
		}
	}

	return &Reservation{Replayed: true, Record: existing}, nil
}

// StoreResult records the pipeline's outcome against key, unblocking any
// replay of the same request.
func (m *Manager) StoreResult(ctx context.Context, key string, responseCode int, response any, paymentID string) error {
	body, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshaling idempotent response: %w", err)
	}

	if err := m.store.Complete(ctx, key, responseCode, body, paymentID); err != nil {
		return fmt.Errorf("persisting idempotent result: %w", err)
	}

	return nil
}

// ReleaseLock drops the Redis lock without marking the key completed,
// used when the pipeline fails before producing a cacheable result so a
// retry of the same request isn't stuck behind a stale in-flight lock.
func (m *Manager) ReleaseLock(ctx context.Context, merchantID, key string) error {
	redisKey := keyPrefix + merchantID + ":" + key
	if err := m.redis.Del(ctx, redisKey).Err(); err != nil {
		return fmt.Errorf("releasing idempotency lock: %w", err)
	}
	return nil
}
