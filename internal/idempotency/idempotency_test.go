package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquiro/gateway/internal/domain"
)

type fakeStore struct {
	records map[string]*domain.IdempotencyRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[string]*domain.IdempotencyRecord)}
}

func (s *fakeStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec, ok := s.records[key]
	if !ok {
		return nil, assertNotFound
	}
	return rec, nil
}

func (s *fakeStore) Create(ctx context.Context, rec *domain.IdempotencyRecord) error {
	s.records[rec.Key] = rec
	return nil
}

func (s *fakeStore) Complete(ctx context.Context, key string, code int, body []byte, paymentID string) error {
	rec, ok := s.records[key]
	if !ok {
		return assertNotFound
	}
	rec.Status = domain.IdempotencyCompleted
	rec.ResponseCode = code
	rec.ResponseBody = body
	rec.PaymentID = paymentID
	return nil
}

var assertNotFound = &notFoundErr{}

type notFoundErr struct{}

func (e *notFoundErr) Error() string { return "record not found" }

func newTestManager(t *testing.T) (*Manager, *fakeStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := newFakeStore()
	return NewManager(client, store, 30*time.Second, 24*time.Hour), store
}

func TestCheckOrReserve_FirstRequestGrantsReservation(t *testing.T) {
	m, _ := newTestManager(t)

	res, err := m.CheckOrReserve(context.Background(), "merchant-1", "key-1", "hash-a")

	require.NoError(t, err)
	assert.False(t, res.Replayed)
}

func TestCheckOrReserve_ConcurrentDuplicateIsInFlight(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CheckOrReserve(ctx, "merchant-1", "key-1", "hash-a")
	require.NoError(t, err)

	_, err = m.CheckOrReserve(ctx, "merchant-1", "key-1", "hash-a")
	assert.ErrorIs(t, err, ErrInFlight)
}

func TestCheckOrReserve_DifferentRequestSameKeyIsRejected(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CheckOrReserve(ctx, "merchant-1", "key-1", "hash-a")
	require.NoError(t, err)

	_, err = m.CheckOrReserve(ctx, "merchant-1", "key-1", "hash-b")
	assert.ErrorIs(t, err, ErrKeyReuse)
}

func TestCheckOrReserve_ReplayAfterCompletionReturnsCachedResult(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	_, err := m.CheckOrReserve(ctx, "merchant-1", "key-1", "hash-a")
	require.NoError(t, err)

	require.NoError(t, m.StoreResult(ctx, "key-1", 200, map[string]string{"status": "AUTHORIZED"}, "payment-1"))
	require.NoError(t, m.ReleaseLock(ctx, "merchant-1", "key-1"))

	res, err := m.CheckOrReserve(ctx, "merchant-1", "key-1", "hash-a")
	require.NoError(t, err)
	assert.True(t, res.Replayed)
	assert.Equal(t, domain.IdempotencyCompleted, store.records["key-1"].Status)
	assert.Equal(t, "payment-1", res.Record.PaymentID)
}

func TestCheckOrReserve_ReplayWithDifferentHashIsRejected(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CheckOrReserve(ctx, "merchant-1", "key-1", "hash-a")
	require.NoError(t, err)
	require.NoError(t, m.StoreResult(ctx, "key-1", 200, map[string]string{}, "payment-1"))
	require.NoError(t, m.ReleaseLock(ctx, "merchant-1", "key-1"))

	_, err = m.CheckOrReserve(ctx, "merchant-1", "key-1", "hash-different")
	assert.ErrorIs(t, err, ErrKeyReuse)
}
