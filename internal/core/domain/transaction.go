package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PaymentMethod represents how the payer funds the transaction.
type PaymentMethod string

const (
	PaymentMethodCard   PaymentMethod = "CARD"
	PaymentMethodWallet PaymentMethod = "WALLET"
	PaymentMethodBank   PaymentMethod = "BANK"
)

// TransactionStatus represents the lifecycle state of a transaction.
type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusSuccess    TransactionStatus = "SUCCESS"
	TransactionStatusFailed     TransactionStatus = "FAILED"
	TransactionStatusCancelled  TransactionStatus = "CANCELLED"
)

// legalTransitions is the complete state machine. Anything not listed
// here must be refused by the store-level CAS.
var legalTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:    {TransactionStatusProcessing, TransactionStatusCancelled},
	TransactionStatusProcessing: {TransactionStatusSuccess, TransactionStatusFailed},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s TransactionStatus) CanTransitionTo(next TransactionStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is a final state.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusSuccess ||
		s == TransactionStatusFailed ||
		s == TransactionStatusCancelled
}

// Transaction is the unit of work driven through the state machine.
// Rows are never deleted; once terminal, only the webhook delivery
// counters may change.
type Transaction struct {
	ID                 uuid.UUID         `json:"id"`
	ReferenceID        string            `json:"reference_id"`
	UserID             uuid.UUID         `json:"user_id"`
	MerchantID         uuid.UUID         `json:"merchant_id"`
	Amount             decimal.Decimal   `json:"amount"`
	Currency           string            `json:"currency"`
	PaymentMethod      PaymentMethod     `json:"payment_method"`
	PaymentProvider    string            `json:"payment_provider,omitempty"`
	Status             TransactionStatus `json:"status"`
	Description        string            `json:"description,omitempty"`
	Metadata           *string           `json:"metadata,omitempty"` // raw JSON
	IdempotencyKey     *string           `json:"idempotency_key,omitempty"`
	FraudScore         decimal.Decimal   `json:"fraud_score"`
	ErrorCode          *string           `json:"error_code,omitempty"`
	ErrorMessage       *string           `json:"error_message,omitempty"`
	WebhookURL         *string           `json:"webhook_url,omitempty"`
	WebhookAttempts    int               `json:"webhook_attempts"`
	WebhookLastAttempt *time.Time        `json:"webhook_last_attempt,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
}

// IsTerminal returns true if the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// HasWebhook reports whether a webhook URL is configured.
func (t *Transaction) HasWebhook() bool {
	return t.WebhookURL != nil && *t.WebhookURL != ""
}

// NewReferenceID generates a human-visible transaction reference.
// Format: TXN<epoch-millis><rand8>. Unique per the store constraint;
// safe to log and to hand to merchants as a deduplication key.
func NewReferenceID() string {
	return fmt.Sprintf("TXN%d%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}
