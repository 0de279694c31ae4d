package dto

import (
	"time"

	"payment-orchestrator/internal/core/domain"

	"github.com/shopspring/decimal"
)

// PaymentRequest is the request body for POST /api/v1/payments/initiate.
// Method-specific credential fields are validated by the orchestrator
// and are never echoed back or persisted.
type PaymentRequest struct {
	UserID          string          `json:"user_id" binding:"required,uuid"`
	MerchantID      string          `json:"merchant_id" binding:"required,uuid"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency" binding:"required,len=3"`
	PaymentMethod   string          `json:"payment_method" binding:"required,oneof=CARD WALLET BANK"`
	PaymentProvider string          `json:"payment_provider,omitempty"`
	Description     string          `json:"description,omitempty" binding:"max=500"`
	IdempotencyKey  *string         `json:"idempotency_key,omitempty" binding:"omitempty,max=255"`
	WebhookURL      *string         `json:"webhook_url,omitempty" binding:"omitempty,url"`
	Metadata        map[string]any  `json:"metadata,omitempty"`

	CardNumber  string `json:"card_number,omitempty"`
	ExpiryMonth string `json:"expiry_month,omitempty"`
	ExpiryYear  string `json:"expiry_year,omitempty"`
	CVV         string `json:"cvv,omitempty"`

	AccountNumber     string `json:"account_number,omitempty"`
	RoutingNumber     string `json:"routing_number,omitempty"`
	AccountHolderName string `json:"account_holder_name,omitempty"`

	WalletID string `json:"wallet_id,omitempty"`
}

// PaymentResponse is the transaction view returned by the API.
type PaymentResponse struct {
	ID              string          `json:"id"`
	ReferenceID     string          `json:"reference_id"`
	UserID          string          `json:"user_id"`
	MerchantID      string          `json:"merchant_id"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	PaymentMethod   string          `json:"payment_method"`
	PaymentProvider string          `json:"payment_provider,omitempty"`
	Status          string          `json:"status"`
	Description     string          `json:"description,omitempty"`
	FraudScore      decimal.Decimal `json:"fraud_score"`
	ErrorCode       *string         `json:"error_code,omitempty"`
	ErrorMessage    *string         `json:"error_message,omitempty"`
	WebhookURL      *string         `json:"webhook_url,omitempty"`
	WebhookAttempts int             `json:"webhook_attempts"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}

// ToPaymentResponse maps a domain transaction onto the API view.
func ToPaymentResponse(t *domain.Transaction) PaymentResponse {
	return PaymentResponse{
		ID:              t.ID.String(),
		ReferenceID:     t.ReferenceID,
		UserID:          t.UserID.String(),
		MerchantID:      t.MerchantID.String(),
		Amount:          t.Amount,
		Currency:        t.Currency,
		PaymentMethod:   string(t.PaymentMethod),
		PaymentProvider: t.PaymentProvider,
		Status:          string(t.Status),
		Description:     t.Description,
		FraudScore:      t.FraudScore,
		ErrorCode:       t.ErrorCode,
		ErrorMessage:    t.ErrorMessage,
		WebhookURL:      t.WebhookURL,
		WebhookAttempts: t.WebhookAttempts,
		CreatedAt:       t.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       t.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
