package collaborator

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/logger"
)

// ModelScorer is the primary fraud-scoring collaborator, typically a
// remote ML model reached over HTTP/gRPC. It is intentionally a separate
// interface from FraudService: FallbackFraudService composes one
// ModelScorer with one RuleBasedScorer so the degradation path is
// explicit in the type graph, not buried in an error branch.
type ModelScorer interface {
	Score(ctx context.Context, payment *domain.Payment, clientIP string) (*FraudDecision, error)
}

// RuleBasedScorer is the always-available fallback: amount thresholds
// plus a velocity check backed by Redis. It must never itself depend on
// the primary model, so it stays usable exactly when the model isn't.
type RuleBasedScorer struct {
	redis               *redis.Client
	declineThreshold    int
	reviewThreshold     int
	highThreshold       int
	velocityWindow      time.Duration
	velocityMaxAttempts int
}

// NewRuleBasedScorer builds the fallback scorer from FraudConfig values.
// highThreshold is the score at or above which require_3ds is forced,
// independent of the approve/review/decline thresholds.
func NewRuleBasedScorer(redisClient *redis.Client, declineThreshold, reviewThreshold, highThreshold, velocityMaxAttempts int, velocityWindow time.Duration) *RuleBasedScorer {
	return &RuleBasedScorer{
		redis:               redisClient,
		declineThreshold:    declineThreshold,
		reviewThreshold:     reviewThreshold,
		highThreshold:       highThreshold,
		velocityWindow:      velocityWindow,
		velocityMaxAttempts: velocityMaxAttempts,
	}
}

// Score computes a deterministic risk score from amount heuristics and
// per-merchant attempt velocity. Never errors on the velocity check
// itself being unavailable; a Redis outage here just skips the velocity
// contribution rather than failing the whole authorization.
func (s *RuleBasedScorer) Score(ctx context.Context, payment *domain.Payment, clientIP string) (*FraudDecision, error) {
	score := 0
	var reasons []string

	if payment.Amount > 500_000 {
		score += 40
		reasons = append(reasons, "high_amount")
	} else if payment.Amount > 100_000 {
		score += 15
		reasons = append(reasons, "elevated_amount")
	}

	if payment.Channel == domain.ChannelCardNotPresent {
		score += 10
		reasons = append(reasons, "card_not_present")
	}

	attempts, err := s.recordVelocity(ctx, payment.MerchantID)
	if err == nil && attempts > s.velocityMaxAttempts {
		score += 35
		reasons = append(reasons, "velocity_exceeded")
	}

	decision := "APPROVE"
	switch {
	case score >= s.declineThreshold:
		decision = "DECLINE"
	case score >= s.reviewThreshold:
		decision = "REVIEW"
	}

	if score > 100 {
		score = 100
	}

	return &FraudDecision{
		Score:          score,
		Decision:       decision,
		Degraded:       true,
		RequireThreeDS: score >= s.highThreshold,
		Reasons:        reasons,
	}, nil
}

func (s *RuleBasedScorer) recordVelocity(ctx context.Context, merchantID string) (int64, error) {
	key := fmt.Sprintf("fraud:velocity:%s", merchantID)
	count, err := s.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		s.redis.Expire(ctx, key, s.velocityWindow)
	}
	return count, nil
}

// Blocklist reports whether a request's originating source is a known
// bad actor. Checked before any scoring call, so a blocked source never
// reaches the primary model, the rule-based fallback, or the PSP.
type Blocklist interface {
	IsBlocked(clientIP string) bool
}

// StaticBlocklist is a fixed in-memory set of blocked source IPs, loaded
// once from FraudConfig at startup.
type StaticBlocklist struct {
	ips map[string]struct{}
}

// NewStaticBlocklist builds a StaticBlocklist from a list of IPs.
func NewStaticBlocklist(ips []string) *StaticBlocklist {
	set := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		set[ip] = struct{}{}
	}
	return &StaticBlocklist{ips: set}
}

func (b *StaticBlocklist) IsBlocked(clientIP string) bool {
	_, blocked := b.ips[clientIP]
	return blocked
}

// FallbackFraudService implements FraudService by calling the primary
// ModelScorer and degrading to the RuleBasedScorer on any error or
// timeout. It never fails open: if both the model and the fallback error
// out, Score returns an error and the pipeline must decline rather than
// authorize with no fraud opinion at all. A blocklisted source short-
// circuits before either scorer runs.
type FallbackFraudService struct {
	primary   ModelScorer
	fallback  *RuleBasedScorer
	blocklist Blocklist
	timeout   time.Duration
}

// NewFallbackFraudService wires the primary model behind timeout, the
// always-on rule-based scorer as its degradation path, and the blocklist
// gate ahead of both.
func NewFallbackFraudService(primary ModelScorer, fallback *RuleBasedScorer, blocklist Blocklist, timeout time.Duration) *FallbackFraudService {
	return &FallbackFraudService{primary: primary, fallback: fallback, blocklist: blocklist, timeout: timeout}
}

// Score tries the primary model first; on error or timeout it falls back
// to rule-based scoring and marks the decision Degraded so downstream
// auditing and settlement reconciliation can see that this authorization
// was not scored by the primary model.
func (s *FallbackFraudService) Score(ctx context.Context, payment *domain.Payment, clientIP string) (*FraudDecision, error) {
	log := logger.FromContext(ctx)

	if s.blocklist != nil && s.blocklist.IsBlocked(clientIP) {
		return &FraudDecision{Score: 100, Decision: "DECLINE", Reasons: []string{"FRAUD_BLOCK"}}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	decision, err := s.primary.Score(callCtx, payment, clientIP)
	if err == nil {
		return decision, nil
	}

	log.Warn().Err(err).Str("payment_id", payment.ID).Msg("fraud model unavailable, degrading to rule-based scoring")

	fallbackDecision, fallbackErr := s.fallback.Score(ctx, payment, clientIP)
	if fallbackErr != nil {
		return nil, fmt.Errorf("fraud scoring unavailable: model error %v, fallback error %w", err, fallbackErr)
	}

	return fallbackDecision, nil
}
