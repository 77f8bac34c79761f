package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/acquiro/gateway/internal/apperror"
	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/refund"
)

// RefundHandler exposes the refund endpoint.
type RefundHandler struct {
	engine *refund.Engine
}

func NewRefundHandler(engine *refund.Engine) *RefundHandler {
	return &RefundHandler{engine: engine}
}

// RefundRequestDTO is the wire shape of POST /api/v1/payments/:id/refunds.
type RefundRequestDTO struct {
	Amount int64  `json:"amount" binding:"required,min=1"`
	Reason string `json:"reason"`
}

// RefundResponseDTO is the wire shape returned for a refund resource.
type RefundResponseDTO struct {
	ID            string  `json:"id"`
	PaymentID     string  `json:"payment_id"`
	Amount        int64   `json:"amount"`
	Currency      string  `json:"currency"`
	Status        string  `json:"status"`
	PSPReference  string  `json:"psp_reference,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty"`
}

func refundToDTO(r *domain.Refund) RefundResponseDTO {
	return RefundResponseDTO{
		ID:            r.ID,
		PaymentID:     r.PaymentID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Status:        string(r.Status),
		PSPReference:  r.PSPReference,
		FailureReason: r.FailureReason,
	}
}

// Create handles POST /api/v1/payments/:id/refunds.
func (h *RefundHandler) Create(c *gin.Context) {
	var body RefundRequestDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		HandleError(c, apperror.Wrap(apperror.CodeValidation, "invalid request body", err))
		return
	}

	result, err := h.engine.Refund(c.Request.Context(), refund.Request{
		PaymentID: c.Param("id"),
		Amount:    body.Amount,
		Reason:    body.Reason,
	})
	if err != nil {
		HandleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, refundToDTO(result))
}

// refundLister is the read surface List needs, satisfied by the
// concrete refund repository.
type refundLister interface {
	ListByPayment(ctx context.Context, paymentID string) ([]*domain.Refund, error)
}

// RefundLister adds a read-only listing endpoint alongside RefundHandler's
// write path.
type RefundLister struct {
	refunds refundLister
}

func NewRefundLister(refunds refundLister) *RefundLister {
	return &RefundLister{refunds: refunds}
}

// List handles GET /api/v1/payments/:id/refunds.
func (h *RefundLister) List(c *gin.Context) {
	refunds, err := h.refunds.ListByPayment(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, apperror.Wrap(apperror.CodeInternal, "failed to list refunds", err))
		return
	}

	dtos := make([]RefundResponseDTO, 0, len(refunds))
	for _, r := range refunds {
		dtos = append(dtos, refundToDTO(r))
	}
	c.JSON(http.StatusOK, dtos)
}
