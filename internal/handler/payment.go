package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/acquiro/gateway/internal/apperror"
	"github.com/acquiro/gateway/internal/domain"
	"github.com/acquiro/gateway/internal/logger"
	"github.com/acquiro/gateway/internal/middleware"
	"github.com/acquiro/gateway/internal/orchestrator"
)

// PaymentHandler exposes the authorize/capture/void/get endpoints.
type PaymentHandler struct {
	orchestrator *orchestrator.Orchestrator
}

func NewPaymentHandler(o *orchestrator.Orchestrator) *PaymentHandler {
	return &PaymentHandler{orchestrator: o}
}

// AuthorizeRequestDTO is the wire shape of POST /api/v1/payments.
type AuthorizeRequestDTO struct {
	ExternalID  string `json:"external_id" binding:"required"`
	Amount      int64  `json:"amount" binding:"required,min=1"`
	Currency    string `json:"currency" binding:"required,len=3"`
	Channel     string `json:"channel" binding:"required,oneof=CARD_PRESENT CARD_NOT_PRESENT"`
	PAN         string `json:"card_number" binding:"required"`
	CVV         string `json:"cvv" binding:"required"`
	ExpiryMonth int    `json:"expiry_month" binding:"required,min=1,max=12"`
	ExpiryYear  int    `json:"expiry_year" binding:"required"`
}

// PaymentResponseDTO is the wire shape returned for a payment resource.
type PaymentResponseDTO struct {
	ID             string  `json:"id"`
	ExternalID     string  `json:"external_id"`
	Status         string  `json:"status"`
	Amount         int64   `json:"amount"`
	Currency       string  `json:"currency"`
	MaskedLastFour string  `json:"masked_last_four,omitempty"`
	CardBrand      string  `json:"card_brand,omitempty"`
	PSPReference   string  `json:"psp_reference,omitempty"`
	FailureReason  *string `json:"failure_reason,omitempty"`
}

func paymentToDTO(p *domain.Payment) PaymentResponseDTO {
	return PaymentResponseDTO{
		ID:             p.ID,
		ExternalID:     p.ExternalID,
		Status:         string(p.Status),
		Amount:         p.Amount,
		Currency:       p.Currency,
		MaskedLastFour: p.MaskedLastFour,
		CardBrand:      p.CardBrand,
		PSPReference:   p.PSPReference,
		FailureReason:  p.FailureReason,
	}
}

// Authorize handles POST /api/v1/payments.
func (h *PaymentHandler) Authorize(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	var body AuthorizeRequestDTO
	if err := c.ShouldBindJSON(&body); err != nil {
		HandleError(c, apperror.Wrap(apperror.CodeValidation, "invalid request body", err))
		return
	}

	idempotencyKey := c.GetHeader("X-Idempotency-Key")
	if idempotencyKey == "" {
		HandleError(c, apperror.New(apperror.CodeValidation, "X-Idempotency-Key header is required"))
		return
	}

	req := &orchestrator.AuthorizeRequest{
		MerchantID:     middleware.MerchantID(c),
		ExternalID:     body.ExternalID,
		Amount:         body.Amount,
		Currency:       body.Currency,
		Channel:        domain.Channel(body.Channel),
		PAN:            body.PAN,
		CVV:            body.CVV,
		ExpiryMonth:    body.ExpiryMonth,
		ExpiryYear:     body.ExpiryYear,
		ClientIP:       c.ClientIP(),
		IdempotencyKey: idempotencyKey,
		TraceID:        logger.TraceIDFromContext(ctx),
	}

	result, err := h.orchestrator.Authorize(ctx, req)
	if err != nil {
		HandleError(c, err)
		return
	}

	log.Info().Str("payment_id", result.Payment.ID).Str("status", string(result.Payment.Status)).Bool("replayed", result.Replayed).Msg("authorization completed")

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, paymentToDTO(result.Payment))
}

// Capture handles POST /api/v1/payments/:id/capture.
func (h *PaymentHandler) Capture(c *gin.Context) {
	payment, err := h.orchestrator.Capture(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, paymentToDTO(payment))
}

// Void handles POST /api/v1/payments/:id/void.
func (h *PaymentHandler) Void(c *gin.Context) {
	payment, err := h.orchestrator.Void(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	c.JSON(http.StatusOK, paymentToDTO(payment))
}

// paymentReader is the lookup surface GetByID needs, satisfied by
// orchestrator.PaymentRepository and by the concrete repository.
type paymentReader interface {
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
}

// TransactionHandler exposes read-only lookups over payments, separate
// from PaymentHandler's write path since a lookup needs only a reader,
// not the full collaborator-wired Orchestrator.
type TransactionHandler struct {
	payments paymentReader
}

func NewTransactionHandler(payments paymentReader) *TransactionHandler {
	return &TransactionHandler{payments: payments}
}

// Get handles GET /api/v1/payments/:id.
func (h *TransactionHandler) Get(c *gin.Context) {
	payment, err := h.payments.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, apperror.Wrap(apperror.CodeNotFound, "payment not found", err))
		return
	}
	c.JSON(http.StatusOK, paymentToDTO(payment))
}
