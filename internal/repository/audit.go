package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/acquiro/gateway/internal/domain"
)

// AuditEntryModel is the GORM row for the append-only audit_entries table.
type AuditEntryModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	PaymentID string    `gorm:"column:payment_id;type:varchar(36);not null;index"`
	ActorType string    `gorm:"column:actor_type;type:varchar(20);not null"`
	ActorID   string    `gorm:"column:actor_id;type:varchar(64);not null"`
	Action    string    `gorm:"column:action;type:varchar(50);not null"`
	Details   string    `gorm:"column:details;type:text"`
	TraceID   string    `gorm:"column:trace_id;type:varchar(64)"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (AuditEntryModel) TableName() string { return "audit_entries" }

// AuditRepository is the GORM-backed implementation of audit.Repository.
// Append is the only write method by design, matching the append-only
// contract audit.Repository enforces at the interface level.
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, entry *domain.AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	model := &AuditEntryModel{
		ID:        entry.ID,
		PaymentID: entry.PaymentID,
		ActorType: entry.ActorType,
		ActorID:   entry.ActorID,
		Action:    entry.Action,
		Details:   entry.Details,
		TraceID:   entry.TraceID,
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	entry.CreatedAt = model.CreatedAt
	return nil
}
