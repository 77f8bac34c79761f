package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/acquiro/gateway/internal/apperror"
	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/middleware"
	"github.com/acquiro/gateway/internal/settlement"
)

// SettlementHandler exposes batch and dispute endpoints over the
// settlement engine.
type SettlementHandler struct {
	engine *settlement.Engine
}

func NewSettlementHandler(engine *settlement.Engine) *SettlementHandler {
	return &SettlementHandler{engine: engine}
}

// BatchResponseDTO is the wire shape of a settlement batch resource.
type BatchResponseDTO struct {
	ID                   string   `json:"id"`
	MerchantID           string   `json:"merchant_id"`
	Status               string   `json:"status"`
	Amount               int64    `json:"amount"`
	Currency             string   `json:"currency"`
	AcquirerReportAmount *int64   `json:"acquirer_report_amount,omitempty"`
	PaymentIDs           []string `json:"payment_ids"`
}

func batchToDTO(b *domain.SettlementBatch) BatchResponseDTO {
	return BatchResponseDTO{
		ID:                   b.ID,
		MerchantID:           b.MerchantID,
		Status:               string(b.Status),
		Amount:               b.Amount,
		Currency:             b.Currency,
		AcquirerReportAmount: b.AcquirerReportAmount,
		PaymentIDs:           b.PaymentIDs,
	}
}

// DisputeResponseDTO is the wire shape of a dispute resource.
type DisputeResponseDTO struct {
	ID          string `json:"id"`
	PaymentID   string `json:"payment_id"`
	Status      string `json:"status"`
	Reason      string `json:"reason"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	EvidenceDue string `json:"evidence_due,omitempty"`
}

func disputeToDTO(d *domain.Dispute) DisputeResponseDTO {
	dto := DisputeResponseDTO{
		ID:        d.ID,
		PaymentID: d.PaymentID,
		Status:    string(d.Status),
		Reason:    d.Reason,
		Amount:    d.Amount,
		Currency:  d.Currency,
	}
	if !d.EvidenceDue.IsZero() {
		dto.EvidenceDue = d.EvidenceDue.Format(time.RFC3339)
	}
	return dto
}

// CreateBatchRequestDTO is the wire shape of POST /api/v1/settlement-batches.
type CreateBatchRequestDTO struct {
	Currency string `json:"currency" binding:"required,len=3"`
}

// CreateBatch handles POST /api/v1/settlement-batches.
func (h *SettlementHandler) CreateBatch(c *gin.Context) {
	var body CreateBatchRequestDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		HandleError(c, apperror.Wrap(apperror.CodeValidation, "invalid request body", err))
		return
	}

	batch, err := h.engine.CreateBatch(c.Request.Context(), middleware.MerchantID(c), body.Currency)
	if err != nil {
		HandleError(c, err)
		return
	}
	if batch == nil {
		c.JSON(http.StatusNoContent, nil)
		return
	}
	c.JSON(http.StatusCreated, batchToDTO(batch))
}

// ReconcileRequestDTO is the wire shape of POST /api/v1/settlement-batches/:id/reconcile.
type ReconcileRequestDTO struct {
	AcquirerReportAmount int64 `json:"acquirer_report_amount" binding:"required"`
}

// Reconcile handles POST /api/v1/settlement-batches/:id/reconcile.
func (h *SettlementHandler) Reconcile(c *gin.Context) {
	var body ReconcileRequestDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		HandleError(c, apperror.Wrap(apperror.CodeValidation, "invalid request body", err))
		return
	}

	delta, err := h.engine.Reconcile(c.Request.Context(), c.Param("id"), body.AcquirerReportAmount)
	if err != nil {
		HandleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reconciliation_delta": delta})
}

// OpenDisputeRequestDTO is the wire shape of POST /api/v1/payments/:id/disputes.
type OpenDisputeRequestDTO struct {
	Reason      string `json:"reason" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,min=1"`
	Currency    string `json:"currency" binding:"required,len=3"`
	EvidenceDue string `json:"evidence_due" binding:"required"`
}

// OpenDispute handles POST /api/v1/payments/:id/disputes.
func (h *SettlementHandler) OpenDispute(c *gin.Context) {
	var body OpenDisputeRequestDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		HandleError(c, apperror.Wrap(apperror.CodeValidation, "invalid request body", err))
		return
	}

	evidenceDue, err := time.Parse(time.RFC3339, body.EvidenceDue)
	if err != nil {
		HandleError(c, apperror.Wrap(apperror.CodeValidation, "evidence_due must be RFC3339", err))
		return
	}

	dispute, err := h.engine.OpenDispute(c.Request.Context(), c.Param("id"), body.Reason, body.Amount, body.Currency, evidenceDue)
	if err != nil {
		HandleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, disputeToDTO(dispute))
}

// ResolveDisputeRequestDTO is the wire shape of POST /api/v1/disputes/:id/resolve.
type ResolveDisputeRequestDTO struct {
	Won bool `json:"won"`
}

// ResolveDispute handles POST /api/v1/disputes/:id/resolve.
func (h *SettlementHandler) ResolveDispute(c *gin.Context) {
	var body ResolveDisputeRequestDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		HandleError(c, apperror.Wrap(apperror.CodeValidation, "invalid request body", err))
		return
	}

	dispute, err := h.engine.ResolveDispute(c.Request.Context(), c.Param("id"), body.Won)
	if err != nil {
		HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, disputeToDTO(dispute))
}
