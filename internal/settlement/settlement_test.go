package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquiro/gateway/internal/domain"
)

type fakePaymentLister struct {
	payments []*domain.Payment
}

func (l *fakePaymentLister) ListCapturedUnbatched(ctx context.Context, merchantID string, limit int) ([]*domain.Payment, error) {
	if len(l.payments) > limit {
		return l.payments[:limit], nil
	}
	return l.payments, nil
}

// fakeBatchRepo stands in for the atomic GORM repository: CompleteWithEvent
// marks every covered payment SETTLED and records the event together with
// the batch update, the way a single transaction would commit all three.
type fakeBatchRepo struct {
	batches       map[string]*domain.SettlementBatch
	payments      map[string]*domain.Payment
	settledEvents []*domain.Event
}

func newFakeBatchRepo(payments []*domain.Payment) *fakeBatchRepo {
	r := &fakeBatchRepo{batches: map[string]*domain.SettlementBatch{}, payments: map[string]*domain.Payment{}}
	for _, p := range payments {
		r.payments[p.ID] = p
	}
	return r
}

func (r *fakeBatchRepo) Create(ctx context.Context, batch *domain.SettlementBatch) error {
	r.batches[batch.ID] = batch
	return nil
}

func (r *fakeBatchRepo) Update(ctx context.Context, batch *domain.SettlementBatch) error {
	r.batches[batch.ID] = batch
	return nil
}

func (r *fakeBatchRepo) GetByID(ctx context.Context, id string) (*domain.SettlementBatch, error) {
	b, ok := r.batches[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return b, nil
}

func (r *fakeBatchRepo) CompleteWithEvent(ctx context.Context, batch *domain.SettlementBatch, event *domain.Event) error {
	r.batches[batch.ID] = batch
	if batch.Status == domain.SettlementStatusSettled {
		for _, id := range batch.PaymentIDs {
			if p, ok := r.payments[id]; ok {
				_ = p.Settle()
			}
		}
	}
	r.settledEvents = append(r.settledEvents, event)
	return nil
}

type fakeDisputeRepo struct {
	disputes map[string]*domain.Dispute
	events   []*domain.Event
}

func newFakeDisputeRepo() *fakeDisputeRepo {
	return &fakeDisputeRepo{disputes: map[string]*domain.Dispute{}}
}

func (r *fakeDisputeRepo) CreateWithEvent(ctx context.Context, d *domain.Dispute, event *domain.Event) error {
	r.disputes[d.ID] = d
	r.events = append(r.events, event)
	return nil
}

func (r *fakeDisputeRepo) Update(ctx context.Context, d *domain.Dispute) error {
	r.disputes[d.ID] = d
	return nil
}

func (r *fakeDisputeRepo) UpdateWithEvent(ctx context.Context, d *domain.Dispute, event *domain.Event) error {
	r.disputes[d.ID] = d
	r.events = append(r.events, event)
	return nil
}

func (r *fakeDisputeRepo) GetByID(ctx context.Context, id string) (*domain.Dispute, error) {
	d, ok := r.disputes[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return d, nil
}

func newTestEngine(payments []*domain.Payment, maxBatch int) (*Engine, *fakeBatchRepo, *fakeDisputeRepo) {
	batches := newFakeBatchRepo(payments)
	disputes := newFakeDisputeRepo()
	engine := New(&fakePaymentLister{payments: payments}, batches, disputes, maxBatch)
	return engine, batches, disputes
}

func TestCreateBatch_GroupsCapturedPayments(t *testing.T) {
	payments := []*domain.Payment{
		{ID: "pay-1", Amount: 1000, Status: domain.PaymentStatusCaptured},
		{ID: "pay-2", Amount: 2500, Status: domain.PaymentStatusCaptured},
	}
	engine, batches, _ := newTestEngine(payments, 10)

	batch, err := engine.CreateBatch(context.Background(), "merchant-1", "USD")

	require.NoError(t, err)
	require.NotNil(t, batch)
	assert.Equal(t, int64(3500), batch.Amount)
	assert.ElementsMatch(t, []string{"pay-1", "pay-2"}, batch.PaymentIDs)
	assert.Equal(t, domain.SettlementStatusPending, batch.Status)
	assert.Contains(t, batches.batches, batch.ID)
}

func TestCreateBatch_NoPaymentsReturnsNilBatch(t *testing.T) {
	engine, _, _ := newTestEngine(nil, 10)

	batch, err := engine.CreateBatch(context.Background(), "merchant-1", "USD")

	require.NoError(t, err)
	assert.Nil(t, batch)
}

func TestReconcile_MatchingAmountSettlesWithZeroDelta(t *testing.T) {
	payment := &domain.Payment{ID: "pay-1", Amount: 1000, Status: domain.PaymentStatusCaptured}
	engine, batches, _ := newTestEngine([]*domain.Payment{payment}, 10)
	batch, err := engine.CreateBatch(context.Background(), "merchant-1", "USD")
	require.NoError(t, err)

	delta, err := engine.Reconcile(context.Background(), batch.ID, 1000)

	require.NoError(t, err)
	assert.Equal(t, int64(0), delta)
	assert.Equal(t, domain.SettlementStatusSettled, batches.batches[batch.ID].Status)
	assert.Equal(t, domain.PaymentStatusSettled, payment.Status)
	require.Len(t, batches.settledEvents, 1)
	assert.Equal(t, "SETTLEMENT_CLOSED", batches.settledEvents[0].EventType)
}

func TestReconcile_MismatchedAmountRaisesReconciliationAlert(t *testing.T) {
	payment := &domain.Payment{ID: "pay-1", Amount: 1000, Status: domain.PaymentStatusCaptured}
	engine, batches, _ := newTestEngine([]*domain.Payment{payment}, 10)
	batch, err := engine.CreateBatch(context.Background(), "merchant-1", "USD")
	require.NoError(t, err)

	delta, err := engine.Reconcile(context.Background(), batch.ID, 950)

	require.NoError(t, err)
	assert.Equal(t, int64(-50), delta)
	assert.Equal(t, domain.SettlementStatusReconciliationAlert, batches.batches[batch.ID].Status)
	assert.Equal(t, domain.PaymentStatusCaptured, payment.Status)
	require.Len(t, batches.settledEvents, 1)
	assert.Equal(t, "SETTLEMENT_ALERT", batches.settledEvents[0].EventType)
}

func TestOpenDispute_PublishesDisputeOpenedEvent(t *testing.T) {
	engine, _, disputes := newTestEngine(nil, 10)

	dispute, err := engine.OpenDispute(context.Background(), "pay-1", "fraudulent", 1000, "USD", time.Now().Add(10*24*time.Hour))

	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusOpen, dispute.Status)
	assert.Contains(t, disputes.disputes, dispute.ID)
	require.Len(t, disputes.events, 1)
	assert.Equal(t, "DISPUTE_OPENED", disputes.events[0].EventType)
}

func TestResolveDispute_WonPublishesDisputeWonEvent(t *testing.T) {
	engine, _, disputes := newTestEngine(nil, 10)
	dispute, err := engine.OpenDispute(context.Background(), "pay-1", "fraudulent", 1000, "USD", time.Now().Add(10*24*time.Hour))
	require.NoError(t, err)

	resolved, err := engine.ResolveDispute(context.Background(), dispute.ID, true)

	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusWon, resolved.Status)
	assert.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, domain.DisputeStatusWon, disputes.disputes[dispute.ID].Status)
	require.Len(t, disputes.events, 2)
	assert.Equal(t, "DISPUTE_WON", disputes.events[1].EventType)
}

func TestResolveDispute_LostPublishesDisputeLostEvent(t *testing.T) {
	engine, _, disputes := newTestEngine(nil, 10)
	dispute, err := engine.OpenDispute(context.Background(), "pay-1", "unauthorized", 500, "USD", time.Now().Add(10*24*time.Hour))
	require.NoError(t, err)

	resolved, err := engine.ResolveDispute(context.Background(), dispute.ID, false)

	require.NoError(t, err)
	assert.Equal(t, domain.DisputeStatusLost, resolved.Status)
	assert.Equal(t, "DISPUTE_LOST", disputes.events[1].EventType)
}
