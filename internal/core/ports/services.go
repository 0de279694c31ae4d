package ports

import (
	"context"
	"fmt"
	"time"

	"payment-orchestrator/internal/core/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InitiateRequest holds validated input for payment admission.
// Method-specific credentials are passed to the fraud scorer and the
// provider adapter but are never persisted.
type InitiateRequest struct {
	UserID          uuid.UUID
	MerchantID      uuid.UUID
	Amount          decimal.Decimal
	Currency        string
	PaymentMethod   domain.PaymentMethod
	PaymentProvider string
	Description     string
	IdempotencyKey  *string
	WebhookURL      *string
	Metadata        map[string]any

	// Card fields
	CardNumber  string
	ExpiryMonth string
	ExpiryYear  string
	CVV         string

	// Bank fields
	AccountNumber     string
	RoutingNumber     string
	AccountHolderName string

	// Wallet fields
	WalletID string

	// Request context, audit only
	ClientIP  string
	UserAgent string
}

// PaymentOrchestrator drives transactions through the state machine.
type PaymentOrchestrator interface {
	// Initiate admits a payment and returns the (possibly pre-existing)
	// transaction with 202 semantics. Duplicate idempotency keys map to
	// the already-created row without replaying side effects.
	Initiate(ctx context.Context, req InitiateRequest) (*domain.Transaction, error)
	// Process advances one PENDING transaction through the provider call.
	// Safe under at-least-once redelivery: a non-PENDING row is a no-op.
	Process(ctx context.Context, txID uuid.UUID) error
	// GetStatus resolves idOrRef first as a transaction id, then as a
	// reference id. Returns nil when neither matches. No side effects.
	GetStatus(ctx context.Context, idOrRef string) (*domain.Transaction, error)
}

// FraudScorer produces a [0,1] risk score. Score must be pure: identical
// requests yield identical scores and no side effects occur.
type FraudScorer interface {
	Score(req InitiateRequest) decimal.Decimal
	ShouldBlock(score decimal.Decimal) bool
}

// IdempotencyGate maps idempotency keys to transaction ids across the
// fast cache and the durable store.
type IdempotencyGate interface {
	// Lookup returns the transaction already mapped to key, or nil.
	// Cache failures degrade to the durable store.
	Lookup(ctx context.Context, key string) (*domain.Transaction, error)
	// Reserve atomically claims key for txID. False means another caller
	// won; route them through Lookup. Cache unavailability degrades to
	// true — the store's unique constraint is the final arbiter.
	Reserve(ctx context.Context, key string, txID uuid.UUID) (bool, error)
	// Release drops the cache reservation. Only legal before the durable
	// insert exists; afterwards the TTL is the sole expiry.
	Release(ctx context.Context, key string)
	GenerateKey() string
}

// IdempotencyCache is the fast KV layer under the gate.
type IdempotencyCache interface {
	// Get returns the cached transaction id for key, "" on miss.
	Get(ctx context.Context, key string) (string, error)
	// SetIfAbsent atomically stores value unless key exists. Returns
	// true iff this caller set the value.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// AuditService records orchestration events. Failures are logged, never
// propagated: audit must not fail the caller's main flow.
type AuditService interface {
	Record(ctx context.Context, entry domain.AuditLog)
}

// EventPublisher publishes payment events to the partitioned bus.
type EventPublisher interface {
	// Publish sends to the payment-events topic, keyed by transaction id.
	Publish(ctx context.Context, event *domain.PaymentEvent) error
	// PublishResult mirrors a terminal event to the payment-results topic
	// for downstream analytics consumers.
	PublishResult(ctx context.Context, event *domain.PaymentEvent) error
}

// ChargeResult is a successful provider response.
type ChargeResult struct {
	ProviderRef  string
	ClientSecret string
	RedirectURL  string
}

// ProviderError is a deterministic decline from the provider. It is
// absorbed into the transaction row, never re-thrown to consumers.
type ProviderError struct {
	Code    string
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error %s: %s", e.Code, e.Message)
}

// ProviderAdapter is the swappable payment-provider integration.
// Implementations own provider-side idempotency, keyed by the
// transaction reference id.
type ProviderAdapter interface {
	Charge(ctx context.Context, t *domain.Transaction) (*ChargeResult, error)
	Name() string
}
