package domain

import (
	"time"

	"github.com/google/uuid"
)

// DefaultWebhookMaxAttempts bounds the retry loop per delivery record.
const DefaultWebhookMaxAttempts = 3

// WebhookEvent is one outbound notification with its retry bookkeeping.
// The dispatcher is the sole writer of the attempt fields.
type WebhookEvent struct {
	ID             uuid.UUID  `json:"id"`
	TransactionID  uuid.UUID  `json:"transaction_id"`
	WebhookURL     string     `json:"webhook_url"`
	Payload        string     `json:"payload"` // JSON string
	ResponseStatus *int       `json:"response_status,omitempty"`
	ResponseBody   *string    `json:"response_body,omitempty"`
	Attempts       int        `json:"attempts"`
	MaxAttempts    int        `json:"max_attempts"`
	NextRetryAt    *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// IsDelivered reports whether a 2xx response was recorded.
func (w *WebhookEvent) IsDelivered() bool {
	return w.ResponseStatus != nil && *w.ResponseStatus >= 200 && *w.ResponseStatus < 300
}

// IsExhausted reports whether no further attempts will be made.
func (w *WebhookEvent) IsExhausted() bool {
	return w.Attempts >= w.MaxAttempts
}
