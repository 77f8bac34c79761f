// Package orchestrator implements the authorization pipeline: the
// eight-step sequence from idempotency check through event publication
// that every inbound payment request runs through. Grounded on the
// teacher's payment_service.ProcessPayment (idempotency-then-create-
// then-process-then-persist shape) and the order-saga's
// compensate-on-failure structure, generalized into the full
// tokenize/fraud/3DS/PSP pipeline the acquiring gateway needs.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acquiro/gateway/internal/apperror"
	"github.com/acquiro/gateway/internal/collaborator"
	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/idempotency"
	"github.com/acquiro/gateway/internal/logger"
	"github.com/acquiro/gateway/internal/psprouter"
)

// PaymentRepository is the persistence surface the orchestrator depends
// on. The concrete GORM implementation lives in internal/repository and
// writes the payment row and its outbox event in one transaction —
// mirroring the order saga's CreateOrderWithSagaAndOutbox/
// UpdateWithOrderAndOutbox pattern — so a crash between the two never
// leaves a payment with no corresponding event, or an event for a
// payment that was never actually persisted.
type PaymentRepository interface {
	CreateWithEvent(ctx context.Context, payment *domain.Payment, event *domain.Event) error
	UpdateWithEvent(ctx context.Context, payment *domain.Payment, event *domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
}

// AuthorizeRequest is the validated input to the authorization pipeline.
type AuthorizeRequest struct {
	MerchantID     string
	ExternalID     string
	Amount         int64
	Currency       string
	Channel        domain.Channel
	PAN            string
	CVV            string
	ExpiryMonth    int
	ExpiryYear     int
	ClientIP       string
	IdempotencyKey string
	TraceID        string
}

// Validate checks the request's required fields before any collaborator
// is called, so validation failures never cost a tokenization call.
func (r *AuthorizeRequest) Validate() error {
	if r.MerchantID == "" {
		return apperror.New(apperror.CodeValidation, "merchant_id is required")
	}
	if r.Amount <= 0 {
		return apperror.New(apperror.CodeValidation, "amount must be positive")
	}
	if r.Currency == "" {
		return apperror.New(apperror.CodeValidation, "currency is required")
	}
	if r.PAN == "" {
		return apperror.New(apperror.CodeValidation, "card number is required")
	}
	if r.IdempotencyKey == "" {
		return apperror.New(apperror.CodeValidation, "idempotency key is required")
	}
	return nil
}

// Orchestrator runs the authorization pipeline.
type Orchestrator struct {
	idempotencyMgr *idempotency.Manager
	tokenizer      collaborator.TokenizationService
	fraud          collaborator.FraudService
	threeDS        collaborator.ThreeDSService
	router         *psprouter.Router
	payments       PaymentRepository
}

// New builds an Orchestrator from its collaborators.
func New(
	idempotencyMgr *idempotency.Manager,
	tokenizer collaborator.TokenizationService,
	fraud collaborator.FraudService,
	threeDS collaborator.ThreeDSService,
	router *psprouter.Router,
	payments PaymentRepository,
) *Orchestrator {
	return &Orchestrator{
		idempotencyMgr: idempotencyMgr,
		tokenizer:      tokenizer,
		fraud:          fraud,
		threeDS:        threeDS,
		router:         router,
		payments:       payments,
	}
}

// AuthorizeResult is returned to the caller once the pipeline finishes,
// win or lose — a decline is a completed pipeline run, not an error.
type AuthorizeResult struct {
	Payment  *domain.Payment
	Replayed bool
}

// RequestHash is the idempotency fingerprint Authorize computes for a
// request: merchant, amount, currency and external ID joined as text.
// Card data, channel and client IP are not part of it.
func RequestHash(req *AuthorizeRequest) string {
	return fmt.Sprintf("%s:%d:%s:%s", req.MerchantID, req.Amount, req.Currency, req.ExternalID)
}

// Authorize runs the eight-step pipeline: idempotency check, validation,
// tokenization, fraud scoring, 3-D Secure (when fraud scoring requires it), PSP authorization,
// persistence, and event publication.
func (o *Orchestrator) Authorize(ctx context.Context, req *AuthorizeRequest) (*AuthorizeResult, error) {
	log := logger.FromContext(ctx)

	// 1. Idempotency check.
	hash := RequestHash(req)
	reservation, err := o.idempotencyMgr.CheckOrReserve(ctx, req.MerchantID, req.IdempotencyKey, hash)
	if err != nil {
		return nil, o.classifyIdempotencyError(err)
	}
	if reservation.Replayed {
		payment, getErr := o.payments.GetByID(ctx, reservation.Record.PaymentID)
		if getErr != nil {
			return nil, apperror.Wrap(apperror.CodeInternal, "replayed idempotency record has no matching payment", getErr)
		}
		return &AuthorizeResult{Payment: payment, Replayed: true}, nil
	}

	// From here on, any early return must release the lock so a
	// legitimate retry after a pipeline failure isn't stuck behind it.
	releaseOnErr := func() {
		if releaseErr := o.idempotencyMgr.ReleaseLock(ctx, req.MerchantID, req.IdempotencyKey); releaseErr != nil {
			log.Warn().Err(releaseErr).Msg("failed to release idempotency lock after pipeline error")
		}
	}

	// 2. Validate.
	if err := req.Validate(); err != nil {
		releaseOnErr()
		return nil, err
	}

	payment := &domain.Payment{
		ID:             uuid.New().String(),
		ExternalID:     req.ExternalID,
		MerchantID:     req.MerchantID,
		TraceID:        req.TraceID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		Channel:        req.Channel,
		Status:         domain.PaymentStatusPending,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	// 3. Tokenize.
	token, err := o.tokenizer.Tokenize(ctx, req.PAN, req.CVV, req.ExpiryMonth, req.ExpiryYear)
	if err != nil {
		releaseOnErr()
		return nil, apperror.Wrap(apperror.CodeInternal, "tokenization failed", err)
	}
	payment.CardToken = token.Token
	payment.MaskedLastFour = token.MaskedLastFour
	payment.CardBrand = token.Brand

	// 4. Fraud score.
	decision, err := o.fraud.Score(ctx, payment, req.ClientIP)
	if err != nil {
		releaseOnErr()
		return nil, apperror.Wrap(apperror.CodeInternal, "fraud scoring unavailable", err)
	}
	payment.FraudScore = decision.Score
	payment.FraudDecision = decision.Decision
	payment.DegradedFraudScoring = decision.Degraded

	if decision.Decision == "DECLINE" {
		reason := "fraud score exceeded decline threshold"
		if isFraudBlock(decision.Reasons) {
			reason = "FRAUD_BLOCK"
		}
		_ = payment.Decline(reason)
		return o.finalizeDeclined(ctx, payment, req)
	}

	// 5. 3-D Secure, only when the fraud decision flags elevated risk
	// (score >= high_threshold), whatever the channel; the 3DS
	// collaborator decides per channel (the sandbox answers NOT_REQUIRED
	// for card-present). A low-risk attempt skips the call entirely.
	if decision.RequireThreeDS {
		threeDSOutcome, err := o.threeDS.Authenticate(ctx, payment)
		if err != nil {
			releaseOnErr()
			return nil, apperror.Wrap(apperror.CodeInternal, "3-D Secure authentication failed", err)
		}
		payment.ThreeDS = threeDSOutcome
		if threeDSOutcome.Status == "FAILED" {
			_ = payment.Decline("AUTHENTICATION_FAILED")
			return o.finalizeDeclined(ctx, payment, req)
		}
	}

	// 6. PSP authorization, with failover across the priority list.
	result, pspName, err := o.router.Authorize(ctx, payment)
	if err != nil {
		releaseOnErr()
		_ = payment.Fail("no psp target available")
		if persistErr := o.persistAndPublish(ctx, payment, "PAYMENT_FAILED", true); persistErr != nil {
			return nil, persistErr
		}
		return nil, apperror.Wrap(apperror.CodePSPUnavailable, "no psp could authorize this payment", err)
	}

	if result.Kind == collaborator.PSPOutcomeDecline {
		_ = payment.Decline(result.DeclineCode)
		return o.finalizeDeclined(ctx, payment, req)
	}

	if err := payment.Authorize(pspName, result.PSPReference); err != nil {
		releaseOnErr()
		return nil, apperror.Wrap(apperror.CodeInternal, "unexpected state transition failure", err)
	}

	// 7 & 8. Persist and publish.
	if err := o.persistAndPublish(ctx, payment, "PAYMENT_AUTHORIZED", true); err != nil {
		return nil, err
	}

	if err := o.idempotencyMgr.StoreResult(ctx, req.IdempotencyKey, 201, authorizeResponseView(payment), payment.ID); err != nil {
		log.Warn().Err(err).Str("payment_id", payment.ID).Msg("failed to cache idempotent result")
	}
	_ = o.idempotencyMgr.ReleaseLock(ctx, req.MerchantID, req.IdempotencyKey)

	return &AuthorizeResult{Payment: payment}, nil
}

func (o *Orchestrator) finalizeDeclined(ctx context.Context, payment *domain.Payment, req *AuthorizeRequest) (*AuthorizeResult, error) {
	log := logger.FromContext(ctx)

	if err := o.persistAndPublish(ctx, payment, "PAYMENT_DECLINED", true); err != nil {
		return nil, err
	}

	if err := o.idempotencyMgr.StoreResult(ctx, req.IdempotencyKey, 422, authorizeResponseView(payment), payment.ID); err != nil {
		log.Warn().Err(err).Str("payment_id", payment.ID).Msg("failed to cache idempotent decline result")
	}
	_ = o.idempotencyMgr.ReleaseLock(ctx, req.MerchantID, req.IdempotencyKey)

	return &AuthorizeResult{Payment: payment}, nil
}

// paymentEventPayload is the JSON body carried by every payment outbox
// event, downstream of which the settlement, webhook, and audit
// pipelines decode exactly these fields — never the raw PAN or CVV.
type paymentEventPayload struct {
	PaymentID      string `json:"payment_id"`
	MerchantID     string `json:"merchant_id"`
	ExternalID     string `json:"external_id"`
	Status         string `json:"status"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	MaskedLastFour string `json:"masked_last_four,omitempty"`
	PSPName        string `json:"psp_name,omitempty"`
	PSPReference   string `json:"psp_reference,omitempty"`
	FailureReason  string `json:"failure_reason,omitempty"`
}

func (o *Orchestrator) persistAndPublish(ctx context.Context, payment *domain.Payment, eventType string, isNew bool) error {
	payload := paymentEventPayload{
		PaymentID:      payment.ID,
		MerchantID:     payment.MerchantID,
		ExternalID:     payment.ExternalID,
		Status:         string(payment.Status),
		Amount:         payment.Amount,
		Currency:       payment.Currency,
		MaskedLastFour: payment.MaskedLastFour,
		PSPName:        payment.PSPName,
		PSPReference:   payment.PSPReference,
	}
	if payment.FailureReason != nil {
		payload.FailureReason = *payment.FailureReason
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, "failed to encode payment event payload", err)
	}

	event := &domain.Event{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		AggregateType: "payment",
		AggregateID:   payment.ID,
		PartitionKey:  payment.ID,
		TraceID:       payment.TraceID,
		Timestamp:     time.Now(),
		Payload:       body,
	}

	if isNew {
		err = o.payments.CreateWithEvent(ctx, payment, event)
	} else {
		err = o.payments.UpdateWithEvent(ctx, payment, event)
	}
	if err != nil {
		return apperror.Wrap(apperror.CodeInternal, "failed to persist payment and event", err)
	}

	return nil
}

func (o *Orchestrator) classifyIdempotencyError(err error) error {
	switch {
	case err == idempotency.ErrInFlight:
		return apperror.Wrap(apperror.CodeIdempotencyInFlight, "a request with this idempotency key is already in progress", err)
	case err == idempotency.ErrKeyReuse:
		return apperror.Wrap(apperror.CodeIdempotencyReuse, "idempotency key reused with a different request body", err)
	default:
		return apperror.Wrap(apperror.CodeInternal, "idempotency check failed", err)
	}
}

// isFraudBlock reports whether a DECLINE verdict came from the blocklist
// short-circuit rather than score-based rules, so the declined payment
// records the documented FRAUD_BLOCK reason instead of a generic one.
func isFraudBlock(reasons []string) bool {
	for _, r := range reasons {
		if r == "FRAUD_BLOCK" {
			return true
		}
	}
	return false
}

func authorizeResponseView(payment *domain.Payment) map[string]any {
	return map[string]any{
		"payment_id": payment.ID,
		"status":     payment.Status,
	}
}

// Capture converts an authorization hold into a charge via the PSP that
// holds it.
func (o *Orchestrator) Capture(ctx context.Context, paymentID string) (*domain.Payment, error) {
	payment, err := o.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeNotFound, "payment not found", err)
	}

	adapter, ok := o.router.Resolve(payment.PSPName)
	if !ok {
		return nil, apperror.New(apperror.CodePSPUnavailable, "originating psp is not configured")
	}

	result, err := psprouter.Capture(ctx, adapter, payment)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "capture call failed", err)
	}
	if result.Kind != collaborator.PSPOutcomeSuccess {
		return nil, apperror.New(apperror.CodePSPDeclined, "psp rejected the capture")
	}

	if err := payment.Capture(); err != nil {
		return nil, apperror.Wrap(apperror.CodeInvalidTransition, "payment cannot be captured from its current state", err)
	}

	if err := o.persistAndPublish(ctx, payment, "PAYMENT_CAPTURED", false); err != nil {
		return nil, err
	}

	return payment, nil
}

// Void cancels an authorization before capture.
func (o *Orchestrator) Void(ctx context.Context, paymentID string) (*domain.Payment, error) {
	payment, err := o.payments.GetByID(ctx, paymentID)
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeNotFound, "payment not found", err)
	}

	adapter, ok := o.router.Resolve(payment.PSPName)
	if !ok {
		return nil, apperror.New(apperror.CodePSPUnavailable, "originating psp is not configured")
	}

	if _, err := psprouter.Void(ctx, adapter, payment); err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "void call failed", err)
	}

	if err := payment.Void(); err != nil {
		return nil, apperror.Wrap(apperror.CodeInvalidTransition, "payment cannot be voided from its current state", err)
	}

	if err := o.persistAndPublish(ctx, payment, "PAYMENT_CANCELLED", false); err != nil {
		return nil, err
	}

	return payment, nil
}
