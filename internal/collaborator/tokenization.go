package collaborator

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acquiro/gateway/internal/domain"
)

// ErrTokenNotFound is returned when Detokenize is called with an unknown token.
var ErrTokenNotFound = errors.New("token not found in vault")

// TokenRepository is the durable card-token store. HMACTokenizer treats it
// as a write-through layer behind its in-memory cache, the same
// cache-then-fall-back-to-durable-store shape the idempotency Manager
// uses for Redis plus its database Store. A nil repository degrades
// HMACTokenizer to a process-local vault, which is adequate for the
// sandbox collaborators but not for a real deployment.
type TokenRepository interface {
	GetByPANHash(ctx context.Context, panHash string) (*domain.CardToken, error)
	GetByToken(ctx context.Context, token string) (*domain.CardToken, error)
	Create(ctx context.Context, token *domain.CardToken) error
}

// HMACTokenizer is a vault keyed by a HMAC-SHA256 PAN digest, cached
// in-memory and backed by an optional TokenRepository. Resolves the open
// question of whether PAN hashing should be deterministic format-preserving
// encryption or a keyed hash in favor of the keyed hash: it gives strong
// injectivity (no practical collision between distinct PANs) at the cost
// of not being reversible, which the gateway never needs since the vault
// — not the hash — is the system of record for detokenization.
type HMACTokenizer struct {
	key  []byte
	repo TokenRepository

	mu    sync.RWMutex
	byPAN map[string]*domain.CardToken // keyed by PAN hash
	byTok map[string]*domain.CardToken // keyed by token
}

// NewHMACTokenizer builds a process-local tokenizer keyed by key, with no
// durable backing store. key should come from VaultConfig.PANHashKey and
// must stay stable across restarts so the same PAN always hashes to the
// same value.
func NewHMACTokenizer(key string) *HMACTokenizer {
	return &HMACTokenizer{
		key:   []byte(key),
		byPAN: make(map[string]*domain.CardToken),
		byTok: make(map[string]*domain.CardToken),
	}
}

// NewHMACTokenizerWithRepository builds a tokenizer that persists every
// newly minted token to repo, and consults repo on a local cache miss
// before deciding a PAN or token is genuinely unknown.
func NewHMACTokenizerWithRepository(key string, repo TokenRepository) *HMACTokenizer {
	t := NewHMACTokenizer(key)
	t.repo = repo
	return t
}

func (t *HMACTokenizer) hashPAN(pan string) string {
	mac := hmac.New(sha256.New, t.key)
	mac.Write([]byte(pan))
	return hex.EncodeToString(mac.Sum(nil))
}

func detectBrand(pan string) string {
	switch {
	case len(pan) > 0 && pan[0] == '4':
		return "VISA"
	case len(pan) >= 2 && pan[0] == '5' && pan[1] >= '1' && pan[1] <= '5':
		return "MASTERCARD"
	case len(pan) >= 2 && (pan[:2] == "34" || pan[:2] == "37"):
		return "AMEX"
	default:
		return "UNKNOWN"
	}
}

// Tokenize returns the existing token for pan's hash if one is already on
// file, otherwise mints a new one. A PAN tokenized twice always yields
// the same token, matching how acquirers de-duplicate repeat cards.
func (t *HMACTokenizer) Tokenize(ctx context.Context, pan, cvv string, expiryMonth, expiryYear int) (*domain.CardToken, error) {
	panHash := t.hashPAN(pan)

	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.byPAN[panHash]; ok {
		return existing, nil
	}

	if t.repo != nil {
		if existing, err := t.repo.GetByPANHash(ctx, panHash); err == nil {
			t.byPAN[panHash] = existing
			t.byTok[existing.Token] = existing
			return existing, nil
		}
	}

	lastFour := pan
	if len(pan) > 4 {
		lastFour = pan[len(pan)-4:]
	}

	tok := &domain.CardToken{
		Token:          uuid.New().String(),
		PANHash:        panHash,
		MaskedLastFour: lastFour,
		Brand:          detectBrand(pan),
		ExpiryMonth:    expiryMonth,
		ExpiryYear:     expiryYear,
		CreatedAt:      time.Now(),
	}

	if t.repo != nil {
		if err := t.repo.Create(ctx, tok); err != nil {
			return nil, err
		}
	}

	t.byPAN[panHash] = tok
	t.byTok[tok.Token] = tok
	return tok, nil
}

// Detokenize resolves a previously minted token back to its card metadata.
func (t *HMACTokenizer) Detokenize(ctx context.Context, token string) (*domain.CardToken, error) {
	t.mu.RLock()
	tok, ok := t.byTok[token]
	t.mu.RUnlock()
	if ok {
		return tok, nil
	}

	if t.repo == nil {
		return nil, ErrTokenNotFound
	}

	tok, err := t.repo.GetByToken(ctx, token)
	if err != nil {
		return nil, ErrTokenNotFound
	}

	t.mu.Lock()
	t.byPAN[tok.PANHash] = tok
	t.byTok[tok.Token] = tok
	t.mu.Unlock()

	return tok, nil
}
