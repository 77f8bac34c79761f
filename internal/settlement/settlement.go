// Package settlement groups captured payments into acquirer settlement
// batches and reconciles them against the acquirer's settlement report.
// Grounded on the outbox worker's scheduled-poll shape (internal/outbox's
// Run loop) and the order saga repository's UpdateWithOrderAndOutbox
// pattern, generalized from "poll for unprocessed outbox rows" and
// "atomically update one aggregate plus an outbox row" into "poll for
// captured, unbatched payments, close them into a batch, and atomically
// settle the batch, its payments, and the outbox row together."
package settlement

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/logger"
)

// settlementClosedPayload is published on SETTLEMENT_CLOSED.
type settlementClosedPayload struct {
	BatchID              string `json:"batch_id"`
	MerchantID           string `json:"merchant_id"`
	Amount               int64  `json:"amount"`
	Currency             string `json:"currency"`
	AcquirerReportAmount int64  `json:"acquirer_report_amount"`
	Delta                int64  `json:"delta"`
	PaymentCount         int    `json:"payment_count"`
}

// disputeEventPayload is published on DISPUTE_OPENED, DISPUTE_WON, and
// DISPUTE_LOST.
type disputeEventPayload struct {
	DisputeID string `json:"dispute_id"`
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
}

// PaymentLister finds captured payments not yet assigned to a batch.
type PaymentLister interface {
	ListCapturedUnbatched(ctx context.Context, merchantID string, limit int) ([]*domain.Payment, error)
}

// BatchRepository persists settlement batches. CompleteWithEvent mirrors
// the order saga repository's UpdateWithOrderAndOutbox: the batch's
// SETTLED transition, the bulk SETTLED update of every payment it
// covers, and the outbox event all commit in one transaction.
type BatchRepository interface {
	Create(ctx context.Context, batch *domain.SettlementBatch) error
	Update(ctx context.Context, batch *domain.SettlementBatch) error
	GetByID(ctx context.Context, id string) (*domain.SettlementBatch, error)
	CompleteWithEvent(ctx context.Context, batch *domain.SettlementBatch, event *domain.Event) error
}

// EventPublisher hands a domain event to the transactional outbox.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.Event) error
}

// DisputeRepository persists chargeback cases raised against settled
// payments. CreateWithEvent and UpdateWithEvent pair the row write with
// its outbox event in one transaction.
type DisputeRepository interface {
	CreateWithEvent(ctx context.Context, dispute *domain.Dispute, event *domain.Event) error
	Update(ctx context.Context, dispute *domain.Dispute) error
	UpdateWithEvent(ctx context.Context, dispute *domain.Dispute, event *domain.Event) error
	GetByID(ctx context.Context, id string) (*domain.Dispute, error)
}

// Engine builds and reconciles settlement batches.
type Engine struct {
	payments PaymentLister
	batches  BatchRepository
	disputes DisputeRepository
	maxBatch int
}

// New builds a settlement Engine. maxBatch caps how many payments one
// batch groups, so a single batch never grows large enough to make
// reconciliation diffing unwieldy.
func New(payments PaymentLister, batches BatchRepository, disputes DisputeRepository, maxBatch int) *Engine {
	return &Engine{payments: payments, batches: batches, disputes: disputes, maxBatch: maxBatch}
}

// CreateBatch groups up to maxBatch captured-and-unbatched payments for
// merchantID into a new PENDING settlement batch.
func (e *Engine) CreateBatch(ctx context.Context, merchantID, currency string) (*domain.SettlementBatch, error) {
	log := logger.FromContext(ctx)

	payments, err := e.payments.ListCapturedUnbatched(ctx, merchantID, e.maxBatch)
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, nil
	}

	var total int64
	ids := make([]string, 0, len(payments))
	for _, p := range payments {
		total += p.Amount
		ids = append(ids, p.ID)
	}

	batch := &domain.SettlementBatch{
		ID:         uuid.New().String(),
		MerchantID: merchantID,
		Status:     domain.SettlementStatusPending,
		Amount:     total,
		Currency:   currency,
		PaymentIDs: ids,
		CreatedAt:  time.Now(),
	}

	if err := e.batches.Create(ctx, batch); err != nil {
		return nil, err
	}

	log.Info().Str("batch_id", batch.ID).Int("payment_count", len(ids)).Int64("amount", total).Msg("settlement batch created")

	return batch, nil
}

// MarkProcessing transitions a pending batch to PROCESSING once it has
// been submitted to the acquirer.
func (e *Engine) MarkProcessing(ctx context.Context, batchID string) error {
	batch, err := e.batches.GetByID(ctx, batchID)
	if err != nil {
		return err
	}
	batch.Status = domain.SettlementStatusProcessing
	return e.batches.Update(ctx, batch)
}

// Reconcile ingests the acquirer's reported settlement amount for a
// batch. A zero delta closes the batch as SETTLED and publishes
// SETTLEMENT_CLOSED; any non-zero delta marks the batch
// RECONCILIATION_ALERT and publishes SETTLEMENT_ALERT, leaving its
// payments unsettled. No dispute is opened automatically on a mismatch.
func (e *Engine) Reconcile(ctx context.Context, batchID string, acquirerReportAmount int64) (int64, error) {
	log := logger.FromContext(ctx)

	batch, err := e.batches.GetByID(ctx, batchID)
	if err != nil {
		return 0, err
	}

	batch.AcquirerReportAmount = &acquirerReportAmount
	delta, _ := batch.ReconciliationDelta()

	eventType := "SETTLEMENT_CLOSED"
	if delta != 0 {
		log.Warn().Str("batch_id", batchID).Int64("delta", delta).Msg("settlement reconciliation delta detected")
		batch.MarkReconciliationAlert()
		eventType = "SETTLEMENT_ALERT"
	} else {
		batch.MarkSettled()
	}

	payloadBody, err := json.Marshal(settlementClosedPayload{
		BatchID:              batch.ID,
		MerchantID:           batch.MerchantID,
		Amount:               batch.Amount,
		Currency:             batch.Currency,
		AcquirerReportAmount: acquirerReportAmount,
		Delta:                delta,
		PaymentCount:         len(batch.PaymentIDs),
	})
	if err != nil {
		return delta, err
	}

	event := &domain.Event{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		AggregateType: "settlement_batch",
		AggregateID:   batch.ID,
		PartitionKey:  batch.ID,
		Timestamp:     time.Now(),
		Payload:       payloadBody,
	}

	if err := e.batches.CompleteWithEvent(ctx, batch, event); err != nil {
		return delta, err
	}

	return delta, nil
}

// OpenDispute raises a chargeback case against a settled payment. reason is
// the acquirer's chargeback reason code/description.
func (e *Engine) OpenDispute(ctx context.Context, paymentID, reason string, amount int64, currency string, evidenceDue time.Time) (*domain.Dispute, error) {
	dispute := &domain.Dispute{
		ID:          uuid.New().String(),
		PaymentID:   paymentID,
		Status:      domain.DisputeStatusOpen,
		Reason:      reason,
		Amount:      amount,
		Currency:    currency,
		EvidenceDue: &evidenceDue,
		CreatedAt:   time.Now(),
	}

	payloadBody, err := json.Marshal(disputeEventPayload{
		DisputeID: dispute.ID,
		PaymentID: dispute.PaymentID,
		Status:    string(dispute.Status),
		Reason:    dispute.Reason,
		Amount:    dispute.Amount,
		Currency:  dispute.Currency,
	})
	if err != nil {
		return nil, err
	}

	event := &domain.Event{
		EventID:       uuid.New().String(),
		EventType:     "DISPUTE_OPENED",
		AggregateType: "dispute",
		AggregateID:   dispute.ID,
		PartitionKey:  paymentID,
		Timestamp:     time.Now(),
		Payload:       payloadBody,
	}

	if err := e.disputes.CreateWithEvent(ctx, dispute, event); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Warn().
		Str("payment_id", paymentID).
		Str("dispute_id", dispute.ID).
		Str("reason", reason).
		Msg("dispute opened against settled payment")

	return dispute, nil
}

// SubmitDisputeEvidence moves an open dispute into the evidence-pending state.
func (e *Engine) SubmitDisputeEvidence(ctx context.Context, disputeID string, due time.Time) error {
	dispute, err := e.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return err
	}
	dispute.SubmitEvidence(due)
	return e.disputes.Update(ctx, dispute)
}

// ResolveDispute closes a dispute in the merchant's favor or against it and
// publishes the outcome so downstream ledgers can adjust.
func (e *Engine) ResolveDispute(ctx context.Context, disputeID string, won bool) (*domain.Dispute, error) {
	dispute, err := e.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	dispute.Resolve(won)

	eventType := "DISPUTE_LOST"
	if won {
		eventType = "DISPUTE_WON"
	}
	payloadBody, err := json.Marshal(disputeEventPayload{
		DisputeID: dispute.ID,
		PaymentID: dispute.PaymentID,
		Status:    string(dispute.Status),
		Reason:    dispute.Reason,
		Amount:    dispute.Amount,
		Currency:  dispute.Currency,
	})
	if err != nil {
		return nil, err
	}

	event := &domain.Event{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		AggregateType: "dispute",
		AggregateID:   dispute.ID,
		PartitionKey:  dispute.PaymentID,
		Timestamp:     time.Now(),
		Payload:       payloadBody,
	}

	if err := e.disputes.UpdateWithEvent(ctx, dispute, event); err != nil {
		return nil, err
	}

	return dispute, nil
}
