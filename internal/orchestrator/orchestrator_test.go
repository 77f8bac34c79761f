package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquiro/gateway/internal/circuitbreaker"
	"github.com/acquiro/gateway/internal/collaborator"
	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/idempotency"
	"github.com/acquiro/gateway/internal/psprouter"
)

// fakePaymentRepo stands in for the atomic GORM repository: every
// Create/Update also records its paired event, the way a single
// transaction would commit both or neither.
type fakePaymentRepo struct {
	mu     sync.Mutex
	byID   map[string]*domain.Payment
	events []*domain.Event
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{byID: make(map[string]*domain.Payment)}
}

func (r *fakePaymentRepo) CreateWithEvent(ctx context.Context, p *domain.Payment, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = p
	r.events = append(r.events, e)
	return nil
}

func (r *fakePaymentRepo) UpdateWithEvent(ctx context.Context, p *domain.Payment, e *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[p.ID] = p
	r.events = append(r.events, e)
	return nil
}

func (r *fakePaymentRepo) GetByID(ctx context.Context, id string) (*domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[id]
	if !ok {
		return nil, assertNotFound
	}
	return p, nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var assertNotFound = notFoundErr{}

type fakeFraudService struct {
	decision *collaborator.FraudDecision
}

func (f *fakeFraudService) Score(ctx context.Context, payment *domain.Payment, clientIP string) (*collaborator.FraudDecision, error) {
	return f.decision, nil
}

func newTestOrchestrator(t *testing.T, fraudDecision *collaborator.FraudDecision) (*Orchestrator, *fakePaymentRepo) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	idemStore := &memIdempotencyStore{records: make(map[string]*domain.IdempotencyRecord)}
	idemMgr := idempotency.NewManager(redisClient, idemStore, 30*time.Second, 24*time.Hour)

	tokenizer := collaborator.NewHMACTokenizer("test-key")
	fraud := &fakeFraudService{decision: fraudDecision}
	threeDS := collaborator.SandboxThreeDS{}

	adapter := collaborator.NewSandboxPSPAdapter("sandbox-primary")
	router := psprouter.NewRouter([]psprouter.Target{{Adapter: adapter, Breaker: circuitbreaker.New("sandbox-primary")}})

	repo := newFakePaymentRepo()

	return New(idemMgr, tokenizer, fraud, threeDS, router, repo), repo
}

type memIdempotencyStore struct {
	records map[string]*domain.IdempotencyRecord
}

func (s *memIdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	rec, ok := s.records[key]
	if !ok {
		return nil, assertNotFound
	}
	return rec, nil
}

func (s *memIdempotencyStore) Create(ctx context.Context, rec *domain.IdempotencyRecord) error {
	s.records[rec.Key] = rec
	return nil
}

func (s *memIdempotencyStore) Complete(ctx context.Context, key string, code int, body []byte, paymentID string) error {
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

func baseRequest() *AuthorizeRequest {
	return &AuthorizeRequest{
		MerchantID:     "merchant-1",
		ExternalID:     "ext-1",
		Amount:         5000,
		Currency:       "USD",
		Channel:        domain.ChannelCardNotPresent,
		PAN:            "4242424242424242",
		CVV:            "123",
		ExpiryMonth:    12,
		ExpiryYear:     2030,
		ClientIP:       "203.0.113.1",
		IdempotencyKey: "idem-1",
		TraceID:        "trace-1",
	}
}

func TestAuthorize_SuccessPath(t *testing.T) {
	orch, repo := newTestOrchestrator(t, &collaborator.FraudDecision{Score: 5, Decision: "APPROVE"})

	result, err := orch.Authorize(context.Background(), baseRequest())

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusAuthorized, result.Payment.Status)
	assert.NotEmpty(t, result.Payment.PSPReference)
	assert.NotEmpty(t, result.Payment.CardToken)
	assert.NotEmpty(t, repo.byID)
	require.Len(t, repo.events, 1)
	assert.Equal(t, "PAYMENT_AUTHORIZED", repo.events[0].EventType)
}

func TestAuthorize_FraudDeclineNeverCallsPSP(t *testing.T) {
	orch, repo := newTestOrchestrator(t, &collaborator.FraudDecision{Score: 95, Decision: "DECLINE"})

	result, err := orch.Authorize(context.Background(), baseRequest())

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusDeclined, result.Payment.Status)
	assert.Empty(t, result.Payment.PSPReference)
	assert.Equal(t, "PAYMENT_DECLINED", repo.events[0].EventType)
}

func TestAuthorize_FraudBlocklistDeclinesWithFraudBlockReason(t *testing.T) {
	orch, repo := newTestOrchestrator(t, &collaborator.FraudDecision{Score: 100, Decision: "DECLINE", Reasons: []string{"FRAUD_BLOCK"}})

	result, err := orch.Authorize(context.Background(), baseRequest())

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusDeclined, result.Payment.Status)
	require.NotNil(t, result.Payment.FailureReason)
	assert.Equal(t, "FRAUD_BLOCK", *result.Payment.FailureReason)
	assert.Empty(t, result.Payment.PSPReference)
	assert.Equal(t, "PAYMENT_DECLINED", repo.events[0].EventType)
}

func TestAuthorize_HighRiskScoreRequiresThreeDS(t *testing.T) {
	orch, repo := newTestOrchestrator(t, &collaborator.FraudDecision{Score: 60, Decision: "REVIEW", RequireThreeDS: true})

	result, err := orch.Authorize(context.Background(), baseRequest())

	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusAuthorized, result.Payment.Status)
	require.NotNil(t, result.Payment.ThreeDS)
	assert.NotEmpty(t, repo.byID)
}

func TestAuthorize_LowRiskScoreSkipsThreeDSCall(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &collaborator.FraudDecision{Score: 5, Decision: "APPROVE", RequireThreeDS: false})

	result, err := orch.Authorize(context.Background(), baseRequest())

	require.NoError(t, err)
	assert.Nil(t, result.Payment.ThreeDS)
}

func TestAuthorize_ReplayReturnsOriginalPayment(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &collaborator.FraudDecision{Score: 5, Decision: "APPROVE"})
	req := baseRequest()

	first, err := orch.Authorize(context.Background(), req)
	require.NoError(t, err)

	second, err := orch.Authorize(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
}

func TestAuthorize_ValidationFailureReturnsErrorWithoutTokenizing(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &collaborator.FraudDecision{Score: 5, Decision: "APPROVE"})
	req := baseRequest()
	req.Amount = 0

	_, err := orch.Authorize(context.Background(), req)
	require.Error(t, err)
}

func TestCapture_TransitionsAuthorizedToCaptured(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &collaborator.FraudDecision{Score: 5, Decision: "APPROVE"})
	result, err := orch.Authorize(context.Background(), baseRequest())
	require.NoError(t, err)

	captured, err := orch.Capture(context.Background(), result.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCaptured, captured.Status)
}

func TestVoid_TransitionsAuthorizedToCancelled(t *testing.T) {
	orch, _ := newTestOrchestrator(t, &collaborator.FraudDecision{Score: 5, Decision: "APPROVE"})
	result, err := orch.Authorize(context.Background(), baseRequest())
	require.NoError(t, err)

	voided, err := orch.Void(context.Background(), result.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusCancelled, voided.Status)
}
