package domain

import "time"

// SettlementStatus is the lifecycle state of a settlement batch.
type SettlementStatus string

const (
	SettlementStatusPending             SettlementStatus = "PENDING"
	SettlementStatusProcessing          SettlementStatus = "PROCESSING"
	SettlementStatusSettled             SettlementStatus = "SETTLED"
	SettlementStatusFailed              SettlementStatus = "FAILED"
	SettlementStatusReconciliationAlert SettlementStatus = "RECONCILIATION_ALERT"
)

// SettlementBatch groups captured payments destined for one acquirer
// settlement cycle. AcquirerReportAmount is populated once the acquirer's
// settlement report lands, supplementing the original spec's batch model
// so reconciliation has something concrete to diff against Amount.
type SettlementBatch struct {
	ID                   string
	MerchantID           string
	Status               SettlementStatus
	Amount               int64 // sum of captured payment amounts, minor units
	Currency             string
	AcquirerReportAmount *int64 // nil until the acquirer report is ingested
	PaymentIDs           []string
	CreatedAt            time.Time
	SettledAt            *time.Time
}

// ReconciliationDelta returns the signed minor-unit difference between
// what the gateway expected to settle and what the acquirer reported.
// A non-zero delta after the report lands should raise a dispute-adjacent
// alert rather than silently closing the batch.
func (b *SettlementBatch) ReconciliationDelta() (int64, bool) {
	if b.AcquirerReportAmount == nil {
		return 0, false
	}
	return *b.AcquirerReportAmount - b.Amount, true
}

// MarkSettled closes the batch once funds have been confirmed.
func (b *SettlementBatch) MarkSettled() {
	b.Status = SettlementStatusSettled
	now := time.Now()
	b.SettledAt = &now
}

// MarkFailed records that the batch could not be settled with the acquirer.
func (b *SettlementBatch) MarkFailed() {
	b.Status = SettlementStatusFailed
}

// MarkReconciliationAlert flags the batch as mismatched against the
// acquirer's settlement report. The batch is never auto-settled from this
// state; it needs an operator to investigate and resolve the delta.
func (b *SettlementBatch) MarkReconciliationAlert() {
	b.Status = SettlementStatusReconciliationAlert
}

// DisputeStatus is the lifecycle state of a chargeback/dispute case,
// supplementing the original spec with the dispute handling the acquiring
// flow needs once settlement is in place.
type DisputeStatus string

const (
	DisputeStatusOpen            DisputeStatus = "OPEN"
	DisputeStatusPendingEvidence DisputeStatus = "PENDING_EVIDENCE"
	DisputeStatusWon             DisputeStatus = "WON"
	DisputeStatusLost            DisputeStatus = "LOST"
)

// Dispute is a chargeback case raised against a settled payment.
type Dispute struct {
	ID          string
	PaymentID   string
	Status      DisputeStatus
	Reason      string
	Amount      int64
	Currency    string
	EvidenceDue *time.Time
	CreatedAt   time.Time
	ResolvedAt  *time.Time
}

// SubmitEvidence moves an open dispute into the evidence-pending state.
func (d *Dispute) SubmitEvidence(due time.Time) {
	d.Status = DisputeStatusPendingEvidence
	d.EvidenceDue = &due
}

// Resolve closes the dispute in the merchant's favor or against it.
func (d *Dispute) Resolve(won bool) {
	if won {
		d.Status = DisputeStatusWon
	} else {
		d.Status = DisputeStatusLost
	}
	now := time.Now()
	d.ResolvedAt = &now
}
