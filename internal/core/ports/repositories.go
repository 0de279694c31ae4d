package ports

import (
	"context"
	"errors"
	"time"

	"payment-orchestrator/internal/core/domain"

	"github.com/google/uuid"
)

// Sentinel errors surfaced by repository implementations when a unique
// constraint refuses an insert. The orchestrator resolves both by
// re-reading the existing row.
var (
	ErrIdempotencyKeyConflict = errors.New("idempotency key already exists")
	ErrReferenceIDConflict    = errors.New("reference id already exists")
)

// TransactionRepository defines persistence for transactions.
//
// UpdateStatus is the serialization point for the state machine: it is a
// compare-and-swap on (id, from) and reports false when the row was not in
// the expected state, without error.
type TransactionRepository interface {
	Insert(ctx context.Context, t *domain.Transaction) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetByReferenceID(ctx context.Context, referenceID string) (*domain.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to domain.TransactionStatus, errCode, errMsg *string) (bool, error)
	// RecordWebhookDelivery updates the webhook counters, the only fields
	// allowed to change on a terminal row.
	RecordWebhookDelivery(ctx context.Context, id uuid.UUID, attempts int, at time.Time) error
}

// AuditLogRepository appends immutable audit entries.
type AuditLogRepository interface {
	Append(ctx context.Context, entry *domain.AuditLog) error
}

// WebhookEventRepository defines persistence for webhook delivery records.
// The dispatcher is the only writer of attempt fields.
type WebhookEventRepository interface {
	Insert(ctx context.Context, evt *domain.WebhookEvent) error
	// FindPending returns records with next_retry_at <= now and
	// attempts < max_attempts, oldest retry first, capped at limit.
	FindPending(ctx context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error)
	RecordAttempt(ctx context.Context, id uuid.UUID, responseStatus *int, responseBody *string, attempts int, nextRetryAt *time.Time) error
	GetByTransactionID(ctx context.Context, txID uuid.UUID) ([]domain.WebhookEvent, error)
}
