package handler

import (
	"payment-orchestrator/internal/adapter/http/dto"
	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"
	"payment-orchestrator/pkg/apperror"
	"payment-orchestrator/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// PaymentHandler handles payment endpoints.
type PaymentHandler struct {
	orchestrator ports.PaymentOrchestrator
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(orchestrator ports.PaymentOrchestrator) *PaymentHandler {
	return &PaymentHandler{orchestrator: orchestrator}
}

// Initiate handles POST /api/v1/payments/initiate. Admission is
// asynchronous: the response is 202 with the PENDING (or pre-existing)
// transaction; processing happens off the event bus.
func (h *PaymentHandler) Initiate(c *gin.Context) {
	var req dto.PaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		response.Error(c, apperror.Validation("user_id must be a UUID"))
		return
	}
	merchantID, err := uuid.Parse(req.MerchantID)
	if err != nil {
		response.Error(c, apperror.Validation("merchant_id must be a UUID"))
		return
	}

	idempotencyKey := req.IdempotencyKey
	if header := c.GetHeader("Idempotency-Key"); header != "" {
		idempotencyKey = &header
	}

	result, err := h.orchestrator.Initiate(c.Request.Context(), ports.InitiateRequest{
		UserID:            userID,
		MerchantID:        merchantID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		PaymentMethod:     domain.PaymentMethod(req.PaymentMethod),
		PaymentProvider:   req.PaymentProvider,
		Description:       req.Description,
		IdempotencyKey:    idempotencyKey,
		WebhookURL:        req.WebhookURL,
		Metadata:          req.Metadata,
		CardNumber:        req.CardNumber,
		ExpiryMonth:       req.ExpiryMonth,
		ExpiryYear:        req.ExpiryYear,
		CVV:               req.CVV,
		AccountNumber:     req.AccountNumber,
		RoutingNumber:     req.RoutingNumber,
		AccountHolderName: req.AccountHolderName,
		WalletID:          req.WalletID,
		ClientIP:          c.ClientIP(),
		UserAgent:         c.Request.UserAgent(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Accepted(c, dto.ToPaymentResponse(result))
}

// Status handles GET /api/v1/payments/status/:id. The path segment is
// tried first as a transaction id, then as a reference id.
func (h *PaymentHandler) Status(c *gin.Context) {
	idOrRef := c.Param("id")

	result, err := h.orchestrator.GetStatus(c.Request.Context(), idOrRef)
	if err != nil {
		response.Error(c, err)
		return
	}
	if result == nil {
		response.Error(c, apperror.ErrNotFound("Transaction"))
		return
	}

	response.OK(c, dto.ToPaymentResponse(result))
}
