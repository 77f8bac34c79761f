package collaborator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acquiro/gateway/internal/domain"
)

func TestHMACTokenizer_SamePANYieldsSameToken(t *testing.T) {
	tok := NewHMACTokenizer("test-key")

	a, err := tok.Tokenize(context.Background(), "4242424242424242", "123", 12, 2030)
	require.NoError(t, err)

	b, err := tok.Tokenize(context.Background(), "4242424242424242", "123", 12, 2030)
	require.NoError(t, err)

	assert.Equal(t, a.Token, b.Token)
	assert.Equal(t, "4242", a.MaskedLastFour)
	assert.Equal(t, "VISA", a.Brand)
}

func TestHMACTokenizer_DifferentPANsYieldDifferentTokens(t *testing.T) {
	tok := NewHMACTokenizer("test-key")

	a, err := tok.Tokenize(context.Background(), "4242424242424242", "123", 12, 2030)
	require.NoError(t, err)
	b, err := tok.Tokenize(context.Background(), "5555555555554444", "123", 12, 2030)
	require.NoError(t, err)

	assert.NotEqual(t, a.Token, b.Token)
	assert.False(t, a.SamePAN(b))
}

func TestHMACTokenizer_Detokenize(t *testing.T) {
	tok := NewHMACTokenizer("test-key")
	minted, err := tok.Tokenize(context.Background(), "4242424242424242", "123", 12, 2030)
	require.NoError(t, err)

	resolved, err := tok.Detokenize(context.Background(), minted.Token)
	require.NoError(t, err)
	assert.Equal(t, minted.PANHash, resolved.PANHash)

	_, err = tok.Detokenize(context.Background(), "unknown-token")
	assert.ErrorIs(t, err, ErrTokenNotFound)
}

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestFallbackFraudService_PrimarySuccessIsNotDegraded(t *testing.T) {
	primary := &SandboxModelScorer{}
	fallback := NewRuleBasedScorer(newTestRedis(t), 80, 50, 50, 5, time.Minute)
	svc := NewFallbackFraudService(primary, fallback, nil, time.Second)

	payment := &domain.Payment{ID: "p1", MerchantID: "m1", Amount: 1000}
	decision, err := svc.Score(context.Background(), payment, "203.0.113.1")

	require.NoError(t, err)
	assert.False(t, decision.Degraded)
}

func TestFallbackFraudService_DegradesWhenPrimaryUnreachable(t *testing.T) {
	primary := &SandboxModelScorer{Unreachable: true}
	fallback := NewRuleBasedScorer(newTestRedis(t), 80, 50, 50, 5, time.Minute)
	svc := NewFallbackFraudService(primary, fallback, nil, time.Second)

	payment := &domain.Payment{ID: "p1", MerchantID: "m1", Amount: 600_000}
	decision, err := svc.Score(context.Background(), payment, "203.0.113.1")

	require.NoError(t, err)
	assert.True(t, decision.Degraded)
	assert.Equal(t, "APPROVE", decision.Decision)
}

func TestFallbackFraudService_BlocklistedSourceDeclinesWithoutScoring(t *testing.T) {
	primary := &SandboxModelScorer{}
	fallback := NewRuleBasedScorer(newTestRedis(t), 80, 50, 50, 5, time.Minute)
	blocklist := NewStaticBlocklist([]string{"198.51.100.9"})
	svc := NewFallbackFraudService(primary, fallback, blocklist, time.Second)

	payment := &domain.Payment{ID: "p1", MerchantID: "m1", Amount: 1000}
	decision, err := svc.Score(context.Background(), payment, "198.51.100.9")

	require.NoError(t, err)
	assert.Equal(t, "DECLINE", decision.Decision)
	assert.Contains(t, decision.Reasons, "FRAUD_BLOCK")
}

func TestRuleBasedScorer_HighScoreRequiresThreeDS(t *testing.T) {
	scorer := NewRuleBasedScorer(newTestRedis(t), 80, 50, 40, 100, time.Minute)
	payment := &domain.Payment{ID: "p1", MerchantID: "m1", Amount: 600_000, Channel: domain.ChannelCardNotPresent}

	decision, err := scorer.Score(context.Background(), payment, "203.0.113.1")

	require.NoError(t, err)
	assert.True(t, decision.RequireThreeDS)
}

func TestRuleBasedScorer_VelocityExceededRaisesScore(t *testing.T) {
	scorer := NewRuleBasedScorer(newTestRedis(t), 80, 50, 50, 2, time.Minute)
	ctx := context.Background()
	payment := &domain.Payment{ID: "p1", MerchantID: "merchant-velocity", Amount: 1000}

	var last *FraudDecision
	for i := 0; i < 4; i++ {
		d, err := scorer.Score(ctx, payment, "203.0.113.1")
		require.NoError(t, err)
		last = d
	}

	assert.Contains(t, last.Reasons, "velocity_exceeded")
}

func TestSandboxPSPAdapter_DeclinesConfiguredAmount(t *testing.T) {
	adapter := NewSandboxPSPAdapter("sandbox-primary")
	payment := &domain.Payment{ID: "p1", Amount: 13}

	result, err := adapter.Authorize(context.Background(), payment)

	require.NoError(t, err)
	assert.Equal(t, PSPOutcomeDecline, result.Kind)
	assert.False(t, result.Retryable())
}

func TestSandboxPSPAdapter_TransientFailureAboveThreshold(t *testing.T) {
	adapter := NewSandboxPSPAdapter("sandbox-primary")
	payment := &domain.Payment{ID: "p1", Amount: 1_000_000}

	result, err := adapter.Authorize(context.Background(), payment)

	require.NoError(t, err)
	assert.Equal(t, PSPOutcomeTransient, result.Kind)
	assert.True(t, result.Retryable())
}

func TestSandboxPSPAdapter_SuccessReturnsReference(t *testing.T) {
	adapter := NewSandboxPSPAdapter("sandbox-primary")
	payment := &domain.Payment{ID: "p1", Amount: 5000}

	result, err := adapter.Authorize(context.Background(), payment)

	require.NoError(t, err)
	assert.Equal(t, PSPOutcomeSuccess, result.Kind)
	assert.NotEmpty(t, result.PSPReference)
}

func TestHMACWebhookSigner_DeterministicForSameInput(t *testing.T) {
	signer := NewHMACWebhookSigner("webhook-secret")
	ts := time.Unix(1700000000, 0)

	sigA := signer.Sign([]byte(`{"event":"payment.authorized"}`), ts)
	sigB := signer.Sign([]byte(`{"event":"payment.authorized"}`), ts)

	assert.Equal(t, sigA, sigB)
	assert.NotEmpty(t, sigA)
}
