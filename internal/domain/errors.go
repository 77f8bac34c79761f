package domain

import "errors"

// Sentinel errors shared by the domain entities' own invariant checks.
// Collaborator- and pipeline-level errors live in internal/apperror; these
// stay here because they are raised purely from struct methods with no
// dependency on the orchestration layer.
var (
	ErrInvalidTransition    = errors.New("invalid payment status transition")
	ErrInvalidAmount        = errors.New("amount must be positive")
	ErrCurrencyMismatch     = errors.New("currency does not match parent payment")
	ErrRefundExceedsAmount  = errors.New("refund amount exceeds remaining refundable balance")
	ErrPaymentNotCapturable = errors.New("payment is not in a refundable or capturable state")
	ErrTokenCollision       = errors.New("token already bound to a different PAN hash")
)
