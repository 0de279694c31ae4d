package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEventType classifies an audit log entry.
type AuditEventType string

const (
	AuditPaymentInitiated AuditEventType = "PAYMENT_INITIATED"
	AuditPaymentProcessed AuditEventType = "PAYMENT_PROCESSED"
	AuditPaymentSuccess   AuditEventType = "PAYMENT_SUCCESS"
	AuditPaymentFailed    AuditEventType = "PAYMENT_FAILED"
	AuditWebhookSent      AuditEventType = "WEBHOOK_SENT"
	AuditWebhookFailed    AuditEventType = "WEBHOOK_FAILED"
	AuditFraudCheck       AuditEventType = "FRAUD_CHECK"
	AuditIdempotencyCheck AuditEventType = "IDEMPOTENCY_CHECK"
)

// AuditLog records a single orchestration event. Rows are append-only
// and immutable.
type AuditLog struct {
	ID            uuid.UUID      `json:"id"`
	TransactionID uuid.UUID      `json:"transaction_id"`
	EventType     AuditEventType `json:"event_type"`
	EventData     *string        `json:"event_data,omitempty"` // raw JSON
	UserID        *uuid.UUID     `json:"user_id,omitempty"`
	IPAddress     string         `json:"ip_address,omitempty"`
	UserAgent     string         `json:"user_agent,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
