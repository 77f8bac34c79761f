package repository

import (
	"errors"
	"time"

	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/refund"
)

// ErrRefundNotFound is returned when a refund lookup misses.
var ErrRefundNotFound = errors.New("refund not found")

// RefundModel is the GORM row for the refunds table.
type RefundModel struct {
	ID            string    `gorm:"column:id;type:varchar(36);primaryKey"`
	PaymentID     string    `gorm:"column:payment_id;type:varchar(36);not null;index"`
	Amount        int64     `gorm:"column:amount;not null"`
	Currency      string    `gorm:"column:currency;type:varchar(3);not null"`
	Status        string    `gorm:"column:status;type:varchar(20);not null;index"`
	Reason        string    `gorm:"column:reason;type:varchar(255)"`
	PSPReference  string    `gorm:"column:psp_reference;type:varchar(100)"`
	FailureReason *string   `gorm:"column:failure_reason;type:text"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (RefundModel) TableName() string { return "refunds" }

func (m *RefundModel) toDomain() *domain.Refund {
	return &domain.Refund{
		ID:            m.ID,
		PaymentID:     m.PaymentID,
		Amount:        m.Amount,
		Currency:      m.Currency,
		Status:        domain.RefundStatus(m.Status),
		Reason:        m.Reason,
		PSPReference:  m.PSPReference,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func refundModelFromDomain(r *domain.Refund) *RefundModel {
	return &RefundModel{
		ID:            r.ID,
		PaymentID:     r.PaymentID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Status:        string(r.Status),
		Reason:        r.Reason,
		PSPReference:  r.PSPReference,
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// RefundStore is the GORM-backed implementation satisfying
// refund.RefundStore.
type RefundStore struct {
	db *gorm.DB
}

func NewRefundStore(db *gorm.DB) *RefundStore {
	return &RefundStore{db: db}
}

// lockedRefundContext binds ListRefunds/CreateRefund to the single
// transaction WithLockedPayment opens, so both run against the
// connection that holds the payment row lock.
type lockedRefundContext struct {
	tx        *gorm.DB
	paymentID string
}

func (c *lockedRefundContext) ListRefunds(ctx context.Context) ([]*domain.Refund, error) {
	var models []RefundModel
	if err := c.tx.WithContext(ctx).Where("payment_id = ?", c.paymentID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	refunds := make([]*domain.Refund, 0, len(models))
	for i := range models {
		refunds = append(refunds, models[i].toDomain())
	}
	return refunds, nil
}

func (c *lockedRefundContext) CreateRefund(ctx context.Context, rec *domain.Refund) error {
	model := refundModelFromDomain(rec)
	if err := c.tx.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	rec.CreatedAt = model.CreatedAt
	rec.UpdatedAt = model.UpdatedAt
	return nil
}

// ListByPayment returns every refund recorded against a payment, oldest
// first. It runs outside any lock: callers needing a consistent view
// against concurrent refund writes should go through WithLockedPayment.
func (s *RefundStore) ListByPayment(ctx context.Context, paymentID string) ([]*domain.Refund, error) {
	var models []RefundModel
	if err := s.db.WithContext(ctx).Where("payment_id = ?", paymentID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	refunds := make([]*domain.Refund, 0, len(models))
	for i := range models {
		refunds = append(refunds, models[i].toDomain())
	}
	return refunds, nil
}

// WithLockedPayment opens one transaction, locks the payment row with
// SELECT ... FOR UPDATE, and runs fn with a refund accessor bound to that
// same transaction. The lock is only released when the transaction
// commits or rolls back after fn returns, so the sum-constraint check and
// the reserving insert fn performs can never race a concurrent caller's.
func (s *RefundStore) WithLockedPayment(ctx context.Context, paymentID string, fn func(payment *domain.Payment, refunds refund.LockedRefundContext) (*domain.Refund, error)) (*domain.Refund, *domain.Payment, error) {
	var refundRecord *domain.Refund
	var payment *domain.Payment

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model PaymentModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", paymentID).First(&model).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return refund.ErrPaymentNotFound
			}
			return err
		}
		payment = model.toDomain()

		rec, fnErr := fn(payment, &lockedRefundContext{tx: tx, paymentID: paymentID})
		if fnErr != nil {
			return fnErr
		}
		refundRecord = rec
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return refundRecord, payment, nil
}

// CompleteWithEvent commits the refund's COMPLETED row, the payment's
// REFUNDED transition when markPaymentRefunded is set, and the outbox
// event in one transaction. Grounded on the order saga repository's
// UpdateWithOrderAndOutbox, which likewise folds two aggregate updates
// and an outbox insert into a single db.Transaction call.
func (s *RefundStore) CompleteWithEvent(ctx context.Context, rec *domain.Refund, payment *domain.Payment, markPaymentRefunded bool, event *domain.Event) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := refundModelFromDomain(rec)
		result := tx.Model(&RefundModel{}).Where("id = ?", model.ID).Updates(map[string]any{
			"status":        model.Status,
			"psp_reference": model.PSPReference,
			"updated_at":    time.Now(),
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrRefundNotFound
		}

		if markPaymentRefunded {
			paymentResult := tx.Model(&PaymentModel{}).Where("id = ?", payment.ID).Updates(map[string]any{
				"status":     string(payment.Status),
				"updated_at": time.Now(),
			})
			if paymentResult.Error != nil {
				return paymentResult.Error
			}
			if paymentResult.RowsAffected == 0 {
				return ErrPaymentNotFound
			}
		}

		if event != nil {
			return createOutboxRow(tx, event)
		}
		return nil
	})
}

func (s *RefundStore) Fail(ctx context.Context, rec *domain.Refund) error {
	model := refundModelFromDomain(rec)
	result := s.db.WithContext(ctx).Model(&RefundModel{}).Where("id = ?", model.ID).Updates(map[string]any{
		"status":         model.Status,
		"failure_reason": model.FailureReason,
		"updated_at":     time.Now(),
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrRefundNotFound
	}
	return nil
}
