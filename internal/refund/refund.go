// Package refund implements the refund engine: it enforces the
// sum-constraint invariant against a captured or settled payment, calls
// the PSP that captured the payment, and publishes the resulting event.
// Grounded on the teacher's payment_service.RefundPayment (load payment,
// call domain transition, persist, log), generalized to operate on a
// transactionally-locked payment row and a running refund total instead
// of a single-refund-per-payment assumption.
package refund

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/acquiro/gateway/internal/apperror"
	"github.com/acquiro/gateway/internal/collaborator"
	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/psprouter"
)

// ErrPaymentNotFound is returned by RefundStore.WithLockedPayment when no
// payment matches the given ID.
var ErrPaymentNotFound = errors.New("payment not found")

// refundEventPayload is the JSON body published for REFUND_COMPLETED
// events, carrying enough to let a webhook or settlement consumer act
// without re-querying the payment row.
type refundEventPayload struct {
	RefundID     string `json:"refund_id"`
	PaymentID    string `json:"payment_id"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	PSPReference string `json:"psp_reference,omitempty"`
	Reason       string `json:"reason,omitempty"`
}

// LockedRefundContext is scoped to the single transaction WithLockedPayment
// opens: ListRefunds and CreateRefund run against the same connection that
// holds the payment's row lock, so the sum-constraint check and the
// reserving insert are part of the same atomic unit as the lock.
type LockedRefundContext interface {
	ListRefunds(ctx context.Context) ([]*domain.Refund, error)
	CreateRefund(ctx context.Context, refund *domain.Refund) error
}

// RefundStore resolves a payment under a row lock (SELECT ... FOR UPDATE)
// and keeps that lock held for the duration of the sum-constraint check
// and the pending-refund insert, so two concurrent refund requests
// against the same payment serialize instead of both passing the check
// before either writes. CompleteWithEvent mirrors the order saga's
// UpdateWithOrderAndOutbox: the refund's completion, the payment's
// REFUNDED transition (when the refund closed out the last open
// balance), and the outbox event all commit in one transaction, so a
// crash partway through never leaves a completed refund with no
// published event or a payment stuck short of REFUNDED.
type RefundStore interface {
	WithLockedPayment(ctx context.Context, paymentID string, fn func(payment *domain.Payment, refunds LockedRefundContext) (*domain.Refund, error)) (*domain.Refund, *domain.Payment, error)
	CompleteWithEvent(ctx context.Context, refund *domain.Refund, payment *domain.Payment, markPaymentRefunded bool, event *domain.Event) error
	Fail(ctx context.Context, refund *domain.Refund) error
}

// Engine processes refund requests.
type Engine struct {
	store  RefundStore
	router *psprouter.Router
}

// New builds a refund Engine.
func New(store RefundStore, router *psprouter.Router) *Engine {
	return &Engine{store: store, router: router}
}

// Request is a validated refund request.
type Request struct {
	PaymentID string
	Amount    int64
	Reason    string
}

// Refund issues a refund. The payment row stays locked for the entire
// sum-constraint check and the pending-refund insert that reserves the
// amount, so two concurrent refund requests against the same payment can
// never both pass the check before either has written. The PSP call and
// the completing write happen after the lock is released: the reserved
// PENDING refund row already protects the invariant against a second
// concurrent request by the time the lock is given up.
func (e *Engine) Refund(ctx context.Context, req Request) (*domain.Refund, error) {
	var existing []*domain.Refund

	refundRecord, payment, err := e.store.WithLockedPayment(ctx, req.PaymentID, func(payment *domain.Payment, refunds LockedRefundContext) (*domain.Refund, error) {
		var err error
		existing, err = refunds.ListRefunds(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading refund history: %w", err)
		}

		if err := domain.CheckRefundInvariant(payment, existing, req.Amount); err != nil {
			return nil, err
		}

		record := &domain.Refund{
			ID:        uuid.New().String(),
			PaymentID: payment.ID,
			Amount:    req.Amount,
			Currency:  payment.Currency,
			Status:    domain.RefundStatusPending,
			Reason:    req.Reason,
			CreatedAt: time.Now(),
			UpdatedAt: time.Now(),
		}
		if err := refunds.CreateRefund(ctx, record); err != nil {
			return nil, fmt.Errorf("persisting refund: %w", err)
		}
		return record, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRefundExceedsAmount):
			return nil, apperror.Wrap(apperror.CodeRefundExceeds, "refund amount exceeds remaining refundable balance", err)
		case errors.Is(err, domain.ErrPaymentNotCapturable):
			return nil, apperror.Wrap(apperror.CodeInvalidTransition, "payment is not in a refundable state", err)
		case errors.Is(err, ErrPaymentNotFound):
			return nil, apperror.Wrap(apperror.CodeNotFound, "payment not found", err)
		default:
			return nil, apperror.Wrap(apperror.CodeValidation, "invalid refund request", err)
		}
	}

	adapter, ok := e.router.Resolve(payment.PSPName)
	if !ok {
		return e.failRefund(ctx, refundRecord, "originating psp is not configured")
	}

	result, err := psprouter.Refund(ctx, adapter, payment, req.Amount)
	if err != nil {
		return e.failRefund(ctx, refundRecord, err.Error())
	}
	if result.Kind != collaborator.PSPOutcomeSuccess {
		return e.failRefund(ctx, refundRecord, result.Message)
	}

	refundRecord.Complete(result.PSPReference)

	allRefunds := append(existing, refundRecord)
	markPaymentRefunded := domain.IsFullyRefunded(payment, allRefunds)
	if markPaymentRefunded {
		if err := payment.MarkRefunded(); err != nil {
			markPaymentRefunded = false
		}
	}

	payloadBody, err := json.Marshal(refundEventPayload{
		RefundID:     refundRecord.ID,
		PaymentID:    payment.ID,
		Amount:       refundRecord.Amount,
		Currency:     refundRecord.Currency,
		Status:       string(refundRecord.Status),
		PSPReference: refundRecord.PSPReference,
		Reason:       refundRecord.Reason,
	})
	if err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "failed to encode refund event payload", err)
	}

	event := &domain.Event{
		EventID:       uuid.New().String(),
		EventType:     "REFUND_COMPLETED",
		AggregateType: "refund",
		AggregateID:   refundRecord.ID,
		PartitionKey:  payment.ID,
		TraceID:       payment.TraceID,
		Timestamp:     time.Now(),
		Payload:       payloadBody,
	}

	if err := e.store.CompleteWithEvent(ctx, refundRecord, payment, markPaymentRefunded, event); err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "failed to persist completed refund", err)
	}

	return refundRecord, nil
}

func (e *Engine) failRefund(ctx context.Context, refundRecord *domain.Refund, reason string) (*domain.Refund, error) {
	refundRecord.Fail(reason)
	if err := e.store.Fail(ctx, refundRecord); err != nil {
		return nil, apperror.Wrap(apperror.CodeInternal, "failed to update failed refund", err)
	}
	return nil, apperror.New(apperror.CodePSPDeclined, "refund could not be completed: "+reason)
}
