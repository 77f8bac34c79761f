// Package collaborator defines the ports the authorization pipeline
// calls out through: tokenization/vault, fraud scoring, 3-D Secure
// authentication, and the PSP adapters themselves. Grounded on the
// ports-style interface split in VidIsWandering-secure-payment-gateway's
// internal/core/ports (EncryptionService/TokenService/PaymentService as
// narrow, single-purpose interfaces), adapted from that repo's encryption
// and JWT concerns into the acquiring gateway's external-dependency
// surface. Concrete sandbox adapters live alongside each interface so the
// orchestrator has something real to call without a live PSP contract.
package collaborator

import (
	"context"
	"time"

	"github.com/acquiro/gateway/internal/domain"
)

// TokenizationService exchanges a raw PAN for an opaque vault token. The
// orchestrator never holds a PAN longer than this call.
type TokenizationService interface {
	Tokenize(ctx context.Context, pan, cvv string, expiryMonth, expiryYear int) (*domain.CardToken, error)
	Detokenize(ctx context.Context, token string) (*domain.CardToken, error)
}

// FraudDecision is the rule/model verdict returned for one authorization
// attempt.
type FraudDecision struct {
	Score          int    // 0-100, higher is riskier
	Decision       string // "APPROVE", "REVIEW", "DECLINE"
	Degraded       bool   // true when computed by the rule-based fallback, not the primary scorer
	RequireThreeDS bool   // true once Score crosses the high-risk threshold; gates the 3DS step
	Reasons        []string
}

// FraudService scores a payment attempt for risk before authorization.
type FraudService interface {
	Score(ctx context.Context, payment *domain.Payment, clientIP string) (*FraudDecision, error)
}

// ThreeDSService performs 3-D Secure authentication for card-not-present
// channels, per the spec's channel-gated step.
type ThreeDSService interface {
	Authenticate(ctx context.Context, payment *domain.Payment) (*domain.ThreeDSOutcome, error)
}

// PSPOutcomeKind classifies a PSP response so the orchestrator and retry
// engine can tell a hard decline from a retryable infrastructure failure
// from a merchant-contract problem that must never be retried.
type PSPOutcomeKind string

const (
	PSPOutcomeSuccess   PSPOutcomeKind = "SUCCESS"
	PSPOutcomeDecline   PSPOutcomeKind = "DECLINE"   // card issuer declined; terminal, not retryable
	PSPOutcomeTransient PSPOutcomeKind = "TRANSIENT" // network/timeout/5xx; retryable, may fail over
	PSPOutcomeContract  PSPOutcomeKind = "CONTRACT"  // malformed request, bad credentials; never retryable
)

// Retryable satisfies internal/retry.Retryable so PSPResult can be
// classified by the shared retry policy without a type switch at every
// call site.
func (k PSPOutcomeKind) Retryable() bool {
	return k == PSPOutcomeTransient
}

// PSPResult is the outcome of one PSP call attempt.
type PSPResult struct {
	Kind         PSPOutcomeKind
	PSPReference string
	DeclineCode  string
	Message      string
}

func (r *PSPResult) Error() string {
	if r.Message != "" {
		return r.Message
	}
	return string(r.Kind)
}

func (r *PSPResult) Retryable() bool {
	return r.Kind.Retryable()
}

// PSPAdapter is the narrow surface every acquirer/processor integration
// implements: authorize, capture, void, refund.
type PSPAdapter interface {
	Name() string
	Authorize(ctx context.Context, payment *domain.Payment) (*PSPResult, error)
	Capture(ctx context.Context, payment *domain.Payment) (*PSPResult, error)
	Void(ctx context.Context, payment *domain.Payment) (*PSPResult, error)
	Refund(ctx context.Context, payment *domain.Payment, amount int64) (*PSPResult, error)
}

// WebhookSigner produces the HMAC-SHA256 signature attached to outbound
// webhook deliveries, so the webhook dispatcher and its tests can swap in
// a fixed-key signer without depending on config loading.
type WebhookSigner interface {
	Sign(payload []byte, timestamp time.Time) string
}
