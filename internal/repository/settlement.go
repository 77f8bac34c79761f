package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/acquiro/gateway/internal/domain"
)

var (
	ErrBatchNotFound   = errors.New("settlement batch not found")
	ErrDisputeNotFound = errors.New("dispute not found")
)

// SettlementBatchModel is the GORM row for the settlement_batches table.
// PaymentIDs is stored as a comma-joined list rather than a join table,
// mirroring the teacher's preference for a denormalized JSON/text column
// (SagaModel.StepData) over a child table when the list is always read
// and written as a single unit.
type SettlementBatchModel struct {
	ID                   string     `gorm:"column:id;type:varchar(36);primaryKey"`
	MerchantID           string     `gorm:"column:merchant_id;type:varchar(36);not null;index"`
	Status               string     `gorm:"column:status;type:varchar(20);not null;index"`
	Amount               int64      `gorm:"column:amount;not null"`
	Currency             string     `gorm:"column:currency;type:varchar(3);not null"`
	AcquirerReportAmount *int64     `gorm:"column:acquirer_report_amount"`
	PaymentIDs           string     `gorm:"column:payment_ids;type:text;not null"`
	CreatedAt            time.Time  `gorm:"column:created_at;autoCreateTime"`
	SettledAt            *time.Time `gorm:"column:settled_at"`
}

func (SettlementBatchModel) TableName() string { return "settlement_batches" }

func (m *SettlementBatchModel) toDomain() *domain.SettlementBatch {
	var ids []string
	if m.PaymentIDs != "" {
		ids = strings.Split(m.PaymentIDs, ",")
	}
	return &domain.SettlementBatch{
		ID:                   m.ID,
		MerchantID:           m.MerchantID,
		Status:               domain.SettlementStatus(m.Status),
		Amount:               m.Amount,
		Currency:             m.Currency,
		AcquirerReportAmount: m.AcquirerReportAmount,
		PaymentIDs:           ids,
		CreatedAt:            m.CreatedAt,
		SettledAt:            m.SettledAt,
	}
}

func batchModelFromDomain(b *domain.SettlementBatch) *SettlementBatchModel {
	return &SettlementBatchModel{
		ID:                   b.ID,
		MerchantID:           b.MerchantID,
		Status:               string(b.Status),
		Amount:               b.Amount,
		Currency:             b.Currency,
		AcquirerReportAmount: b.AcquirerReportAmount,
		PaymentIDs:           strings.Join(b.PaymentIDs, ","),
		CreatedAt:            b.CreatedAt,
		SettledAt:            b.SettledAt,
	}
}

// SettlementBatchRepository is the GORM-backed implementation satisfying
// settlement.BatchRepository.
type SettlementBatchRepository struct {
	db *gorm.DB
}

func NewSettlementBatchRepository(db *gorm.DB) *SettlementBatchRepository {
	return &SettlementBatchRepository{db: db}
}

// Create inserts the batch row and, in the same transaction, stamps every
// covered payment with this batch's ID so a later poll for
// captured-and-unbatched payments never picks them up again.
func (r *SettlementBatchRepository) Create(ctx context.Context, batch *domain.SettlementBatch) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := batchModelFromDomain(batch)
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		batch.CreatedAt = model.CreatedAt

		if len(batch.PaymentIDs) == 0 {
			return nil
		}
		return tx.Model(&PaymentModel{}).
			Where("id IN ?", batch.PaymentIDs).
			Update("settlement_batch_id", batch.ID).Error
	})
}

func (r *SettlementBatchRepository) Update(ctx context.Context, batch *domain.SettlementBatch) error {
	model := batchModelFromDomain(batch)
	result := r.db.WithContext(ctx).Model(&SettlementBatchModel{}).Where("id = ?", model.ID).Updates(map[string]any{
		"status":                 model.Status,
		"acquirer_report_amount": model.AcquirerReportAmount,
		"settled_at":             model.SettledAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (r *SettlementBatchRepository) GetByID(ctx context.Context, id string) (*domain.SettlementBatch, error) {
	var model SettlementBatchModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBatchNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

// CompleteWithEvent closes the batch in whatever terminal-or-alert status
// it already carries (SETTLED or RECONCILIATION_ALERT), and writes the
// outbox event in the same transaction. Payments are only flipped to
// SETTLED when the batch actually settles clean; a reconciliation alert
// leaves the covered payments untouched until an operator resolves the
// delta. Grounded on the order saga repository's UpdateWithOrderAndOutbox.
func (r *SettlementBatchRepository) CompleteWithEvent(ctx context.Context, batch *domain.SettlementBatch, event *domain.Event) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := batchModelFromDomain(batch)
		result := tx.Model(&SettlementBatchModel{}).Where("id = ?", model.ID).Updates(map[string]any{
			"status":                 model.Status,
			"acquirer_report_amount": model.AcquirerReportAmount,
			"settled_at":             model.SettledAt,
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrBatchNotFound
		}

		if batch.Status == domain.SettlementStatusSettled && len(batch.PaymentIDs) > 0 {
			now := time.Now()
			if err := tx.Model(&PaymentModel{}).
				Where("id IN ?", batch.PaymentIDs).
				Updates(map[string]any{
					"status":     string(domain.PaymentStatusSettled),
					"settled_at": now,
					"updated_at": now,
				}).Error; err != nil {
				return err
			}
		}

		if event != nil {
			return createOutboxRow(tx, event)
		}
		return nil
	})
}

// DisputeModel is the GORM row for the disputes table.
type DisputeModel struct {
	ID          string     `gorm:"column:id;type:varchar(36);primaryKey"`
	PaymentID   string     `gorm:"column:payment_id;type:varchar(36);not null;index"`
	Status      string     `gorm:"column:status;type:varchar(30);not null;index"`
	Reason      string     `gorm:"column:reason;type:varchar(255)"`
	Amount      int64      `gorm:"column:amount;not null"`
	Currency    string     `gorm:"column:currency;type:varchar(3);not null"`
	EvidenceDue *time.Time `gorm:"column:evidence_due"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	ResolvedAt  *time.Time `gorm:"column:resolved_at"`
}

func (DisputeModel) TableName() string { return "disputes" }

func (m *DisputeModel) toDomain() *domain.Dispute {
	return &domain.Dispute{
		ID:          m.ID,
		PaymentID:   m.PaymentID,
		Status:      domain.DisputeStatus(m.Status),
		Reason:      m.Reason,
		Amount:      m.Amount,
		Currency:    m.Currency,
		EvidenceDue: m.EvidenceDue,
		CreatedAt:   m.CreatedAt,
		ResolvedAt:  m.ResolvedAt,
	}
}

func disputeModelFromDomain(d *domain.Dispute) *DisputeModel {
	return &DisputeModel{
		ID:          d.ID,
		PaymentID:   d.PaymentID,
		Status:      string(d.Status),
		Reason:      d.Reason,
		Amount:      d.Amount,
		Currency:    d.Currency,
		EvidenceDue: d.EvidenceDue,
		CreatedAt:   d.CreatedAt,
		ResolvedAt:  d.ResolvedAt,
	}
}

// DisputeRepository is the GORM-backed implementation satisfying
// settlement.DisputeRepository.
type DisputeRepository struct {
	db *gorm.DB
}

func NewDisputeRepository(db *gorm.DB) *DisputeRepository {
	return &DisputeRepository{db: db}
}

func (r *DisputeRepository) CreateWithEvent(ctx context.Context, dispute *domain.Dispute, event *domain.Event) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := disputeModelFromDomain(dispute)
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		dispute.CreatedAt = model.CreatedAt
		return createOutboxRow(tx, event)
	})
}

func (r *DisputeRepository) Update(ctx context.Context, dispute *domain.Dispute) error {
	model := disputeModelFromDomain(dispute)
	result := r.db.WithContext(ctx).Model(&DisputeModel{}).Where("id = ?", model.ID).Updates(map[string]any{
		"status":       model.Status,
		"evidence_due": model.EvidenceDue,
		"resolved_at":  model.ResolvedAt,
	})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrDisputeNotFound
	}
	return nil
}

func (r *DisputeRepository) UpdateWithEvent(ctx context.Context, dispute *domain.Dispute, event *domain.Event) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		model := disputeModelFromDomain(dispute)
		result := tx.Model(&DisputeModel{}).Where("id = ?", model.ID).Updates(map[string]any{
			"status":       model.Status,
			"evidence_due": model.EvidenceDue,
			"resolved_at":  model.ResolvedAt,
		})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrDisputeNotFound
		}
		return createOutboxRow(tx, event)
	})
}

func (r *DisputeRepository) GetByID(ctx context.Context, id string) (*domain.Dispute, error) {
	var model DisputeModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDisputeNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}
