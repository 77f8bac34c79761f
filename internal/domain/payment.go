// Package domain holds the acquiring gateway's core entities: Payment,
// Refund, CardToken, IdempotencyRecord, SettlementBatch, Dispute,
// CircuitState, AuditEntry, and Event. Grounded on the teacher's payment
// domain split (entity + state machine in one file, persistence mapping in
// internal/repository), generalized from a single-status order/payment
// pair into the full authorization FSM.
package domain

import "time"

// PaymentStatus is the lifecycle state of one authorization attempt.
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusAuthorized PaymentStatus = "AUTHORIZED"
	PaymentStatusDeclined   PaymentStatus = "DECLINED"
	PaymentStatusCaptured   PaymentStatus = "CAPTURED"
	PaymentStatusSettled    PaymentStatus = "SETTLED"
	PaymentStatusCancelled  PaymentStatus = "CANCELLED"
	PaymentStatusRefunded   PaymentStatus = "REFUNDED"
	PaymentStatusFailed     PaymentStatus = "FAILED"
)

// IsTerminal reports whether no further status transition is possible.
func (s PaymentStatus) IsTerminal() bool {
	_, hasOutgoing := paymentTransitions[s]
	return !hasOutgoing
}

// IsImmutableForMutation reports whether monetary fields on the payment
// must no longer change. CAPTURED is included even though CAPTURED can
// still move to SETTLED or REFUNDED, because the amount itself is fixed
// from the moment of capture onward.
func (s PaymentStatus) IsImmutableForMutation() bool {
	switch s {
	case PaymentStatusCaptured, PaymentStatusDeclined, PaymentStatusCancelled, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// paymentTransitions enumerates the authorization pipeline's allowed
// forward moves (§4.1 state machine).
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusAuthorized, PaymentStatusDeclined, PaymentStatusFailed},
	PaymentStatusAuthorized: {PaymentStatusCaptured, PaymentStatusCancelled},
	PaymentStatusCaptured:   {PaymentStatusSettled, PaymentStatusRefunded},
}

// Channel distinguishes card-present from card-not-present transactions;
// 3-D Secure only applies to CNP traffic.
type Channel string

const (
	ChannelCardPresent    Channel = "CARD_PRESENT"
	ChannelCardNotPresent Channel = "CARD_NOT_PRESENT"
)

// ThreeDSOutcome summarizes the 3-D Secure authentication result attached
// to a payment, when the pipeline required it.
type ThreeDSOutcome struct {
	Status string // "AUTHENTICATED", "FAILED", "NOT_REQUIRED"
	CAVV   string
	ECI    string
	XID    string
}

// Payment is the durable record of one authorization attempt.
type Payment struct {
	ID             string // internal, opaque, globally unique
	ExternalID     string // client-facing opaque payment_id
	MerchantID     string
	SagaID         string
	TraceID        string // carried end to end into every published event
	Amount         int64  // minor units
	Currency       string // ISO 4217
	Status         PaymentStatus
	Channel        Channel
	CardToken      string // never a raw PAN
	MaskedLastFour string
	CardBrand      string
	PSPName        string
	PSPReference   string
	FraudScore     int // 0-100
	FraudDecision  string
	DegradedFraudScoring bool // set when fraud collaborator was unreachable
	ThreeDS        *ThreeDSOutcome
	FailureReason  *string
	IdempotencyKey string
	SettlementBatchID *string // nil until assigned into a settlement batch

	CreatedAt     time.Time
	AuthorizedAt  *time.Time
	CapturedAt    *time.Time
	SettledAt     *time.Time
	UpdatedAt     time.Time
}

// CanTransitionTo reports whether newStatus is a legal next state.
func (p *Payment) CanTransitionTo(newStatus PaymentStatus) bool {
	for _, allowed := range paymentTransitions[p.Status] {
		if allowed == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo moves the payment to newStatus, or returns
// ErrInvalidTransition if the move is not allowed.
func (p *Payment) TransitionTo(newStatus PaymentStatus) error {
	if !p.CanTransitionTo(newStatus) {
		return ErrInvalidTransition
	}
	p.Status = newStatus
	p.UpdatedAt = time.Now()
	return nil
}

// Authorize records a successful PSP authorization.
func (p *Payment) Authorize(pspName, pspReference string) error {
	if err := p.TransitionTo(PaymentStatusAuthorized); err != nil {
		return err
	}
	p.PSPName = pspName
	p.PSPReference = pspReference
	now := time.Now()
	p.AuthorizedAt = &now
	return nil
}

// Decline marks the payment DECLINED with a reason.
func (p *Payment) Decline(reason string) error {
	if err := p.TransitionTo(PaymentStatusDeclined); err != nil {
		return err
	}
	p.FailureReason = &reason
	return nil
}

// Fail marks the payment FAILED with a reason (exhausted PSP failover,
// internal error before a decline classification was reached).
func (p *Payment) Fail(reason string) error {
	if err := p.TransitionTo(PaymentStatusFailed); err != nil {
		return err
	}
	p.FailureReason = &reason
	return nil
}

// Capture converts the authorization hold into a charge.
func (p *Payment) Capture() error {
	if err := p.TransitionTo(PaymentStatusCaptured); err != nil {
		return err
	}
	now := time.Now()
	p.CapturedAt = &now
	return nil
}

// Void cancels the authorization before capture.
func (p *Payment) Void() error {
	return p.TransitionTo(PaymentStatusCancelled)
}

// Settle closes a captured payment into the settlement batch it belongs to.
func (p *Payment) Settle() error {
	if err := p.TransitionTo(PaymentStatusSettled); err != nil {
		return err
	}
	now := time.Now()
	p.SettledAt = &now
	return nil
}

// MarkRefunded transitions to REFUNDED once the refund engine confirms the
// full payment amount has been returned.
func (p *Payment) MarkRefunded() error {
	return p.TransitionTo(PaymentStatusRefunded)
}

// MaskedPAN renders the conventional "****1234" display form.
func (p *Payment) MaskedPAN() string {
	if p.MaskedLastFour == "" {
		return ""
	}
	return "****" + p.MaskedLastFour
}

// Validate checks required fields before a Payment is persisted for the
// first time.
func (p *Payment) Validate() error {
	if p.MerchantID == "" {
		return ErrValidation("merchant_id is required")
	}
	if p.SagaID == "" {
		return ErrValidation("saga_id is required")
	}
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	if p.Currency == "" {
		return ErrValidation("currency is required")
	}
	return nil
}

// ErrValidation is a lightweight string-backed error for field-level
// validation failures raised directly from domain entities.
type ErrValidation string

func (e ErrValidation) Error() string { return string(e) }
