package collaborator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/acquiro/gateway/internal/domain"
)

// SandboxModelScorer stands in for a remote fraud-scoring model in
// environments without a live contract. It answers quickly and
// deterministically so integration tests can assert on exact scores; a
// production deployment swaps this for an HTTP/gRPC client behind the
// same ModelScorer interface.
type SandboxModelScorer struct {
	// Unreachable simulates the model being down, forcing callers through
	// FallbackFraudService's degraded path. Tests flip this to exercise
	// the degradation branch deterministically.
	Unreachable bool
}

// sandboxHighThreshold mirrors FraudConfig.HighScoreThreshold for the sandbox
// model: scores at or above this force require_3ds regardless of the
// approve/review/decline verdict.
const sandboxHighThreshold = 50

func (s *SandboxModelScorer) Score(ctx context.Context, payment *domain.Payment, clientIP string) (*FraudDecision, error) {
	if s.Unreachable {
		return nil, fmt.Errorf("sandbox fraud model unreachable")
	}

	score := 5
	if payment.Amount > 200_000 {
		score = 60
	}

	decision := "APPROVE"
	if score >= 80 {
		decision = "DECLINE"
	} else if score >= 50 {
		decision = "REVIEW"
	}

	return &FraudDecision{Score: score, Decision: decision, Degraded: false, RequireThreeDS: score >= sandboxHighThreshold}, nil
}

// SandboxThreeDS simulates 3-D Secure authentication. The orchestrator
// only calls Authenticate when the fraud decision already set
// RequireThreeDS, so this adapter has nothing left to gate on but channel
// for the rare case it's invoked outside that path.
type SandboxThreeDS struct{}

func (SandboxThreeDS) Authenticate(ctx context.Context, payment *domain.Payment) (*domain.ThreeDSOutcome, error) {
	if payment.Channel != domain.ChannelCardNotPresent {
		return &domain.ThreeDSOutcome{Status: "NOT_REQUIRED"}, nil
	}

	return &domain.ThreeDSOutcome{
		Status: "AUTHENTICATED",
		CAVV:   sandboxDigest(payment.ID, "cavv"),
		ECI:    "05",
		XID:    sandboxDigest(payment.ID, "xid"),
	}, nil
}

func sandboxDigest(seed, salt string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(seed))
	return hex.EncodeToString(mac.Sum(nil))[:20]
}

// SandboxPSPAdapter simulates one acquirer/processor connection.
// DeclineAmounts marks specific minor-unit amounts as hard declines so
// integration tests can drive the decline path deterministically;
// any amount at or above FailThreshold simulates a transient
// infrastructure failure to exercise retry and failover.
type SandboxPSPAdapter struct {
	PSPName        string
	FailThreshold  int64
	DeclineAmounts map[int64]string
}

// NewSandboxPSPAdapter builds a deterministic sandbox PSP.
func NewSandboxPSPAdapter(name string) *SandboxPSPAdapter {
	return &SandboxPSPAdapter{
		PSPName:       name,
		FailThreshold: 900_000,
		DeclineAmounts: map[int64]string{
			13: "insufficient_funds",
		},
	}
}

func (a *SandboxPSPAdapter) Name() string { return a.PSPName }

func (a *SandboxPSPAdapter) Authorize(ctx context.Context, payment *domain.Payment) (*PSPResult, error) {
	if reason, declined := a.DeclineAmounts[payment.Amount]; declined {
		return &PSPResult{Kind: PSPOutcomeDecline, DeclineCode: reason, Message: reason}, nil
	}
	if payment.Amount >= a.FailThreshold {
		return &PSPResult{Kind: PSPOutcomeTransient, Message: "processor timeout"}, nil
	}
	return &PSPResult{Kind: PSPOutcomeSuccess, PSPReference: a.reference(payment.ID, "auth")}, nil
}

func (a *SandboxPSPAdapter) Capture(ctx context.Context, payment *domain.Payment) (*PSPResult, error) {
	return &PSPResult{Kind: PSPOutcomeSuccess, PSPReference: a.reference(payment.ID, "cap")}, nil
}

func (a *SandboxPSPAdapter) Void(ctx context.Context, payment *domain.Payment) (*PSPResult, error) {
	return &PSPResult{Kind: PSPOutcomeSuccess, PSPReference: a.reference(payment.ID, "void")}, nil
}

func (a *SandboxPSPAdapter) Refund(ctx context.Context, payment *domain.Payment, amount int64) (*PSPResult, error) {
	return &PSPResult{Kind: PSPOutcomeSuccess, PSPReference: a.reference(payment.ID, "refund")}, nil
}

func (a *SandboxPSPAdapter) reference(paymentID, op string) string {
	return a.PSPName + "-" + op + "-" + paymentID
}

// HMACWebhookSigner computes the HMAC-SHA256 signature merchants verify
// on inbound webhook deliveries.
type HMACWebhookSigner struct {
	key []byte
}

// NewHMACWebhookSigner builds a signer from WebhookConfig.SigningKey.
func NewHMACWebhookSigner(key string) *HMACWebhookSigner {
	return &HMACWebhookSigner{key: []byte(key)}
}

// Sign returns the hex-encoded HMAC-SHA256 of timestamp.payload, the
// conventional "t=...,v1=..." construction used to prevent signature
// replay across unrelated payloads.
func (s *HMACWebhookSigner) Sign(payload []byte, timestamp time.Time) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(strconv.FormatInt(timestamp.Unix(), 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
