package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentEventType classifies a bus message.
type PaymentEventType string

const (
	EventPaymentInitiated PaymentEventType = "PAYMENT_INITIATED"
	EventPaymentProcessed PaymentEventType = "PAYMENT_PROCESSED"
	EventPaymentSuccess   PaymentEventType = "PAYMENT_SUCCESS"
	EventPaymentFailed    PaymentEventType = "PAYMENT_FAILED"
)

// PaymentEvent is the bus message schema: a transaction snapshot plus
// the event type and timestamp. Messages are JSON-encoded and keyed by
// the transaction id string so that all events for one transaction land
// on the same partition, in order.
type PaymentEvent struct {
	TransactionID   uuid.UUID         `json:"transaction_id"`
	ReferenceID     string            `json:"reference_id"`
	UserID          uuid.UUID         `json:"user_id"`
	MerchantID      uuid.UUID         `json:"merchant_id"`
	Amount          decimal.Decimal   `json:"amount"`
	Currency        string            `json:"currency"`
	PaymentMethod   PaymentMethod     `json:"payment_method"`
	PaymentProvider string            `json:"payment_provider,omitempty"`
	Status          TransactionStatus `json:"status"`
	FraudScore      decimal.Decimal   `json:"fraud_score"`
	ErrorCode       *string           `json:"error_code,omitempty"`
	ErrorMessage    *string           `json:"error_message,omitempty"`
	WebhookURL      *string           `json:"webhook_url,omitempty"`
	EventType       PaymentEventType  `json:"event_type"`
	EventTimestamp  time.Time         `json:"event_timestamp"`
}

// Key returns the partition key for the event.
func (e *PaymentEvent) Key() string {
	return e.TransactionID.String()
}

// NewPaymentEvent snapshots a transaction into a bus message.
func NewPaymentEvent(t *Transaction, eventType PaymentEventType) *PaymentEvent {
	return &PaymentEvent{
		TransactionID:   t.ID,
		ReferenceID:     t.ReferenceID,
		UserID:          t.UserID,
		MerchantID:      t.MerchantID,
		Amount:          t.Amount,
		Currency:        t.Currency,
		PaymentMethod:   t.PaymentMethod,
		PaymentProvider: t.PaymentProvider,
		Status:          t.Status,
		FraudScore:      t.FraudScore,
		ErrorCode:       t.ErrorCode,
		ErrorMessage:    t.ErrorMessage,
		WebhookURL:      t.WebhookURL,
		EventType:       eventType,
		EventTimestamp:  time.Now().UTC(),
	}
}
