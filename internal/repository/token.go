package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/acquiro/gateway/internal/domain"
)

// ErrCardTokenNotFound is returned when a token lookup misses.
var ErrCardTokenNotFound = errors.New("card token not found")

// CardTokenModel is the GORM row backing collaborator.TokenRepository,
// the durable store behind HMACTokenizer's in-memory cache.
type CardTokenModel struct {
	Token          string    `gorm:"column:token;type:varchar(36);primaryKey"`
	PANHash        string    `gorm:"column:pan_hash;type:varchar(64);not null;uniqueIndex"`
	MaskedLastFour string    `gorm:"column:masked_last_four;type:varchar(4)"`
	Brand          string    `gorm:"column:brand;type:varchar(20)"`
	ExpiryMonth    int       `gorm:"column:expiry_month"`
	ExpiryYear     int       `gorm:"column:expiry_year"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (CardTokenModel) TableName() string { return "card_tokens" }

func (m *CardTokenModel) toDomain() *domain.CardToken {
	return &domain.CardToken{
		Token:          m.Token,
		PANHash:        m.PANHash,
		MaskedLastFour: m.MaskedLastFour,
		Brand:          m.Brand,
		ExpiryMonth:    m.ExpiryMonth,
		ExpiryYear:     m.ExpiryYear,
		CreatedAt:      m.CreatedAt,
	}
}

// CardTokenRepository is the GORM-backed implementation of
// collaborator.TokenRepository.
type CardTokenRepository struct {
	db *gorm.DB
}

func NewCardTokenRepository(db *gorm.DB) *CardTokenRepository {
	return &CardTokenRepository{db: db}
}

func (r *CardTokenRepository) GetByPANHash(ctx context.Context, panHash string) (*domain.CardToken, error) {
	var model CardTokenModel
	if err := r.db.WithContext(ctx).Where("pan_hash = ?", panHash).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardTokenNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *CardTokenRepository) GetByToken(ctx context.Context, token string) (*domain.CardToken, error) {
	var model CardTokenModel
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCardTokenNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *CardTokenRepository) Create(ctx context.Context, token *domain.CardToken) error {
	model := &CardTokenModel{
		Token:          token.Token,
		PANHash:        token.PANHash,
		MaskedLastFour: token.MaskedLastFour,
		Brand:          token.Brand,
		ExpiryMonth:    token.ExpiryMonth,
		ExpiryYear:     token.ExpiryYear,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			existing, getErr := r.GetByPANHash(ctx, token.PANHash)
			if getErr == nil {
				*token = *existing
				return nil
			}
		}
		return err
	}
	token.CreatedAt = model.CreatedAt
	return nil
}
