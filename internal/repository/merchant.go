package repository

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/acquiro/gateway/internal/domain"
)

// ErrMerchantNotFound is returned when a merchant lookup misses.
var ErrMerchantNotFound = errors.New("merchant not found")

// MerchantModel is the GORM row backing merchant accounts and their API
// credentials.
//
// The API key is looked up by its SHA-256 digest rather than bcrypt: a
// merchant API key is a high-entropy random token, not a user-chosen
// password, so it carries no brute-force risk that a salted, slow hash
// would defend against, and a fast digest is what makes an indexed
// lookup by key possible at all.
type MerchantModel struct {
	ID         string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Name       string    `gorm:"column:name;type:varchar(255);not null"`
	APIKeyHash string    `gorm:"column:api_key_hash;type:varchar(64);not null;uniqueIndex"`
	WebhookURL string    `gorm:"column:webhook_url;type:varchar(2048)"`
	Active     bool      `gorm:"column:active;not null;default:true"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (MerchantModel) TableName() string { return "merchants" }

func (m *MerchantModel) toDomain() *domain.Merchant {
	return &domain.Merchant{
		ID:         m.ID,
		Name:       m.Name,
		APIKeyHash: m.APIKeyHash,
		WebhookURL: m.WebhookURL,
		Active:     m.Active,
		CreatedAt:  m.CreatedAt,
	}
}

// MerchantRepository is the GORM-backed implementation of
// middleware.MerchantKeyValidator.
type MerchantRepository struct {
	db *gorm.DB
}

func NewMerchantRepository(db *gorm.DB) *MerchantRepository {
	return &MerchantRepository{db: db}
}

// HashAPIKey digests a raw API key into its lookup form. Callers hash
// once at issuance time and again on every validation; the raw key is
// never persisted.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ValidateAPIKey satisfies middleware.MerchantKeyValidator: it resolves a
// raw API key to the merchant it belongs to, rejecting deactivated
// accounts.
func (r *MerchantRepository) ValidateAPIKey(ctx context.Context, apiKey string) (string, bool) {
	var model MerchantModel
	err := r.db.WithContext(ctx).
		Where("api_key_hash = ? AND active = ?", HashAPIKey(apiKey), true).
		First(&model).Error
	if err != nil {
		return "", false
	}
	return model.ID, true
}

// ListActive returns every active merchant, used by the settlement
// worker to sweep for captured-but-unbatched payments across all
// tenants on a fixed schedule.
func (r *MerchantRepository) ListActive(ctx context.Context) ([]*domain.Merchant, error) {
	var models []MerchantModel
	if err := r.db.WithContext(ctx).Where("active = ?", true).Find(&models).Error; err != nil {
		return nil, err
	}
	merchants := make([]*domain.Merchant, len(models))
	for i := range models {
		merchants[i] = models[i].toDomain()
	}
	return merchants, nil
}

func (r *MerchantRepository) GetByID(ctx context.Context, id string) (*domain.Merchant, error) {
	var model MerchantModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMerchantNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

// Create registers a new merchant with a freshly minted API key,
// returning the raw key exactly once — only its hash is stored.
func (r *MerchantRepository) Create(ctx context.Context, id, name, rawAPIKey string) (*domain.Merchant, error) {
	model := &MerchantModel{
		ID:         id,
		Name:       name,
		APIKeyHash: HashAPIKey(rawAPIKey),
		Active:     true,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, err
	}
	return model.toDomain(), nil
}
