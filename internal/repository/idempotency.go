package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/acquiro/gateway/internal/domain"
)

// ErrIdempotencyRecordNotFound is returned when a lookup by key misses.
var ErrIdempotencyRecordNotFound = errors.New("idempotency record not found")

// ErrIdempotencyRecordExists is returned by Create when the (key,
// merchant_id) pair already has a row, meaning another request won the
// race to reserve it first.
var ErrIdempotencyRecordExists = errors.New("idempotency record already exists")

// IdempotencyRecordModel is the GORM row backing idempotency.Store, the
// fallback source of truth behind the Redis single-flight lock.
type IdempotencyRecordModel struct {
	Key          string    `gorm:"column:idempotency_key;type:varchar(64);primaryKey"`
	MerchantID   string    `gorm:"column:merchant_id;type:varchar(36);not null;primaryKey"`
	RequestHash  string    `gorm:"column:request_hash;type:varchar(64);not null"`
	Status       string    `gorm:"column:status;type:varchar(20);not null"`
	ResponseBody []byte    `gorm:"column:response_body;type:json"`
	ResponseCode int       `gorm:"column:response_code"`
	PaymentID    string    `gorm:"column:payment_id;type:varchar(36)"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	ExpiresAt    time.Time `gorm:"column:expires_at;index"`
}

func (IdempotencyRecordModel) TableName() string { return "idempotency_records" }

func (m *IdempotencyRecordModel) toDomain() *domain.IdempotencyRecord {
	return &domain.IdempotencyRecord{
		Key:          m.Key,
		MerchantID:   m.MerchantID,
		RequestHash:  m.RequestHash,
		Status:       domain.IdempotencyStatus(m.Status),
		ResponseBody: m.ResponseBody,
		ResponseCode: m.ResponseCode,
		PaymentID:    m.PaymentID,
		CreatedAt:    m.CreatedAt,
		ExpiresAt:    m.ExpiresAt,
	}
}

// IdempotencyStore is the GORM-backed implementation of idempotency.Store.
type IdempotencyStore struct {
	db *gorm.DB
}

func NewIdempotencyStore(db *gorm.DB) *IdempotencyStore {
	return &IdempotencyStore{db: db}
}

func (s *IdempotencyStore) Get(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	var model IdempotencyRecordModel
	if err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIdempotencyRecordNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (s *IdempotencyStore) Create(ctx context.Context, rec *domain.IdempotencyRecord) error {
	model := &IdempotencyRecordModel{
		Key:          rec.Key,
		MerchantID:   rec.MerchantID,
		RequestHash:  rec.RequestHash,
		Status:       string(rec.Status),
		ResponseBody: rec.ResponseBody,
		ResponseCode: rec.ResponseCode,
		PaymentID:    rec.PaymentID,
		ExpiresAt:    rec.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		if isDuplicateKeyError(err) {
			return ErrIdempotencyRecordExists
		}
		return err
	}
	rec.CreatedAt = model.CreatedAt
	return nil
}

func (s *IdempotencyStore) Complete(ctx context.Context, key string, responseCode int, responseBody []byte, paymentID string) error {
	result := s.db.WithContext(ctx).Model(&IdempotencyRecordModel{}).Where("idempotency_key = ?", key).Updates(map[string]any{
		"status":        string(domain.IdempotencyCompleted),
		"response_code": responseCode,
		"response_body": responseBody,
		"payment_id":    paymentID,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrIdempotencyRecordNotFound
	}
	return nil
}
