package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RefundStatus is the lifecycle state of one refund attempt.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "PENDING"
	RefundStatusCompleted RefundStatus = "COMPLETED"
	RefundStatusFailed    RefundStatus = "FAILED"
)

// CountsTowardBalance reports whether a refund in this status still
// reserves against the parent payment's refundable balance.
func (s RefundStatus) CountsTowardBalance() bool {
	return s == RefundStatusPending || s == RefundStatusCompleted
}

// Refund is a child of a captured payment.
type Refund struct {
	ID            string
	PaymentID     string
	Amount        int64 // minor units
	Currency      string
	Status        RefundStatus
	Reason        string
	PSPReference  string
	FailureReason *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Complete transitions the refund to COMPLETED once the PSP confirms it.
func (r *Refund) Complete(pspReference string) {
	r.Status = RefundStatusCompleted
	r.PSPReference = pspReference
	r.UpdatedAt = time.Now()
}

// Fail transitions the refund to FAILED with a reason.
func (r *Refund) Fail(reason string) {
	r.Status = RefundStatusFailed
	r.FailureReason = &reason
	r.UpdatedAt = time.Now()
}

// SumRefundable returns the minor-unit total of refunds that still count
// against a payment's balance, using decimal arithmetic so that summing a
// large refund history never drifts from exact integer minor units.
func SumRefundable(refunds []*Refund) int64 {
	total := decimal.NewFromInt(0)
	for _, r := range refunds {
		if r.Status.CountsTowardBalance() {
			total = total.Add(decimal.NewFromInt(r.Amount))
		}
	}
	return total.IntPart()
}

// CheckRefundInvariant enforces §3's refund accounting invariant:
// sum(refunds in {PENDING, COMPLETED}) + amount <= payment.amount.
func CheckRefundInvariant(payment *Payment, existing []*Refund, amount int64) error {
	if payment.Status != PaymentStatusCaptured && payment.Status != PaymentStatusSettled {
		return ErrPaymentNotCapturable
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	already := SumRefundable(existing)
	requested := decimal.NewFromInt(already).Add(decimal.NewFromInt(amount))
	if requested.GreaterThan(decimal.NewFromInt(payment.Amount)) {
		return ErrRefundExceedsAmount
	}
	return nil
}

// IsFullyRefunded reports whether the completed-refund total equals the
// payment's original amount, the trigger for moving Payment to REFUNDED.
func IsFullyRefunded(payment *Payment, refunds []*Refund) bool {
	completed := decimal.NewFromInt(0)
	for _, r := range refunds {
		if r.Status == RefundStatusCompleted {
			completed = completed.Add(decimal.NewFromInt(r.Amount))
		}
	}
	return completed.Equal(decimal.NewFromInt(payment.Amount))
}
