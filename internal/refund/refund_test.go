package refund

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquiro/gateway/internal/circuitbreaker"
	"github.com/acquiro/gateway/internal/collaborator"
	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/psprouter"
)

// fakeRefundStore stands in for the transactional GORM store: mu is held
// for the entire WithLockedPayment call, not just the fetch, so it mirrors
// a SELECT ... FOR UPDATE row lock that stays held across the sum-constraint
// check and the reserving insert. A version that released mu before running
// fn would let two concurrent refunds both pass the check before either
// wrote its PENDING row, exactly the bug the row lock exists to prevent.
type fakeRefundStore struct {
	mu       sync.Mutex
	payments map[string]*domain.Payment
	refunds  map[string][]*domain.Refund
	events   []*domain.Event
}

func newFakeRefundStore(payment *domain.Payment) *fakeRefundStore {
	return &fakeRefundStore{
		payments: map[string]*domain.Payment{payment.ID: payment},
		refunds:  make(map[string][]*domain.Refund),
	}
}

type fakeLockedRefundContext struct {
	store     *fakeRefundStore
	paymentID string
}

func (c *fakeLockedRefundContext) ListRefunds(ctx context.Context) ([]*domain.Refund, error) {
	return append([]*domain.Refund(nil), c.store.refunds[c.paymentID]...), nil
}

func (c *fakeLockedRefundContext) CreateRefund(ctx context.Context, rec *domain.Refund) error {
	c.store.refunds[c.paymentID] = append(c.store.refunds[c.paymentID], rec)
	return nil
}

func (s *fakeRefundStore) WithLockedPayment(ctx context.Context, paymentID string, fn func(payment *domain.Payment, refunds LockedRefundContext) (*domain.Refund, error)) (*domain.Refund, *domain.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payment, ok := s.payments[paymentID]
	if !ok {
		return nil, nil, ErrPaymentNotFound
	}

	rec, err := fn(payment, &fakeLockedRefundContext{store: s, paymentID: paymentID})
	if err != nil {
		return nil, nil, err
	}
	return rec, payment, nil
}

func (s *fakeRefundStore) CompleteWithEvent(ctx context.Context, rec *domain.Refund, payment *domain.Payment, markPaymentRefunded bool, event *domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.refunds[payment.ID] {
		if r.ID == rec.ID {
			r.Status = rec.Status
			r.PSPReference = rec.PSPReference
		}
	}
	if markPaymentRefunded {
		s.payments[payment.ID].Status = payment.Status
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeRefundStore) Fail(ctx context.Context, rec *domain.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for refs := range s.refunds {
		for _, r := range s.refunds[refs] {
			if r.ID == rec.ID {
				r.Status = rec.Status
				r.FailureReason = rec.FailureReason
			}
		}
	}
	return nil
}

func newTestEngine(payment *domain.Payment) (*Engine, *fakeRefundStore) {
	store := newFakeRefundStore(payment)

	adapter := collaborator.NewSandboxPSPAdapter("sandbox-primary")
	router := psprouter.NewRouter([]psprouter.Target{{Adapter: adapter, Breaker: circuitbreaker.New("sandbox-primary")}})

	return New(store, router), store
}

func capturedPayment() *domain.Payment {
	return &domain.Payment{ID: "payment-1", Amount: 10000, Currency: "USD", Status: domain.PaymentStatusCaptured, PSPName: "sandbox-primary"}
}

func TestRefund_PartialRefundSucceeds(t *testing.T) {
	engine, store := newTestEngine(capturedPayment())

	result, err := engine.Refund(context.Background(), Request{PaymentID: "payment-1", Amount: 4000, Reason: "customer request"})

	require.NoError(t, err)
	assert.Equal(t, domain.RefundStatusCompleted, result.Status)
	assert.Len(t, store.events, 1)
}

func TestRefund_FullRefundMarksPaymentRefunded(t *testing.T) {
	payment := capturedPayment()
	engine, store := newTestEngine(payment)

	_, err := engine.Refund(context.Background(), Request{PaymentID: "payment-1", Amount: 10000, Reason: "full refund"})
	require.NoError(t, err)

	assert.Equal(t, domain.PaymentStatusRefunded, store.payments["payment-1"].Status)
}

func TestRefund_ExceedingBalanceIsRejected(t *testing.T) {
	engine, _ := newTestEngine(capturedPayment())

	_, err := engine.Refund(context.Background(), Request{PaymentID: "payment-1", Amount: 4000})
	require.NoError(t, err)

	_, err = engine.Refund(context.Background(), Request{PaymentID: "payment-1", Amount: 8000})
	require.Error(t, err)
}

func TestRefund_OnUncapturedPaymentIsRejected(t *testing.T) {
	payment := capturedPayment()
	payment.Status = domain.PaymentStatusAuthorized
	engine, _ := newTestEngine(payment)

	_, err := engine.Refund(context.Background(), Request{PaymentID: "payment-1", Amount: 1000})
	require.Error(t, err)
}

func TestRefund_ConcurrentRequestsAgainstSamePaymentSerialize(t *testing.T) {
	engine, _ := newTestEngine(capturedPayment())

	var wg sync.WaitGroup
	results := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := engine.Refund(context.Background(), Request{PaymentID: "payment-1", Amount: 6000})
		results[0] = err
	}()
	go func() {
		defer wg.Done()
		_, err := engine.Refund(context.Background(), Request{PaymentID: "payment-1", Amount: 6000})
		results[1] = err
	}()
	wg.Wait()

	succeeded, failed := 0, 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			failed++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
}

func TestRefund_PaymentNotFoundReturnsNotFoundError(t *testing.T) {
	engine, _ := newTestEngine(capturedPayment())

	_, err := engine.Refund(context.Background(), Request{PaymentID: "missing-payment", Amount: 1000})
	require.Error(t, err)
}
