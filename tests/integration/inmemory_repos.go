package integration

import (
	"context"
	"sort"
	"sync"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"

	"github.com/google/uuid"
)

// In-memory implementations of the storage and bus ports. They mirror the
// PostgreSQL semantics the services rely on: unique constraints on
// idempotency_key and reference_id, and a compare-and-swap UpdateStatus.
// All methods copy on read and write so tests can mutate freely.

type inMemoryTransactionRepo struct {
	mu    sync.Mutex
	byID  map[uuid.UUID]*domain.Transaction
	byRef map[string]uuid.UUID
	byKey map[string]uuid.UUID
}

func newInMemoryTransactionRepo() *inMemoryTransactionRepo {
	return &inMemoryTransactionRepo{
		byID:  make(map[uuid.UUID]*domain.Transaction),
		byRef: make(map[string]uuid.UUID),
		byKey: make(map[string]uuid.UUID),
	}
}

func (r *inMemoryTransactionRepo) Insert(_ context.Context, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.IdempotencyKey != nil {
		if _, exists := r.byKey[*t.IdempotencyKey]; exists {
			return ports.ErrIdempotencyKeyConflict
		}
	}
	if _, exists := r.byRef[t.ReferenceID]; exists {
		return ports.ErrReferenceIDConflict
	}

	cp := *t
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = cp.CreatedAt
	}
	r.byID[cp.ID] = &cp
	r.byRef[cp.ReferenceID] = cp.ID
	if cp.IdempotencyKey != nil {
		r.byKey[*cp.IdempotencyKey] = cp.ID
	}
	return nil
}

func (r *inMemoryTransactionRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (r *inMemoryTransactionRepo) GetByReferenceID(ctx context.Context, referenceID string) (*domain.Transaction, error) {
	r.mu.Lock()
	id, ok := r.byRef[referenceID]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *inMemoryTransactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	r.mu.Lock()
	id, ok := r.byKey[key]
	r.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return r.GetByID(ctx, id)
}

func (r *inMemoryTransactionRepo) UpdateStatus(
	_ context.Context,
	id uuid.UUID,
	from, to domain.TransactionStatus,
	errCode, errMsg *string,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok || t.Status != from {
		return false, nil
	}
	t.Status = to
	t.ErrorCode = errCode
	t.ErrorMessage = errMsg
	t.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (r *inMemoryTransactionRepo) RecordWebhookDelivery(_ context.Context, id uuid.UUID, attempts int, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byID[id]
	if !ok {
		return nil
	}
	t.WebhookAttempts = attempts
	t.WebhookLastAttempt = &at
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryTransactionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

type inMemoryAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLog
}

func newInMemoryAuditRepo() *inMemoryAuditRepo {
	return &inMemoryAuditRepo{}
}

func (r *inMemoryAuditRepo) Append(_ context.Context, entry *domain.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *entry)
	return nil
}

// eventsFor returns the audit event types recorded for one transaction,
// in append order.
func (r *inMemoryAuditRepo) eventsFor(txID uuid.UUID) []domain.AuditEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.AuditEventType
	for _, e := range r.entries {
		if e.TransactionID == txID {
			out = append(out, e.EventType)
		}
	}
	return out
}

type inMemoryWebhookRepo struct {
	mu     sync.Mutex
	events map[uuid.UUID]*domain.WebhookEvent
}

func newInMemoryWebhookRepo() *inMemoryWebhookRepo {
	return &inMemoryWebhookRepo{events: make(map[uuid.UUID]*domain.WebhookEvent)}
}

func (r *inMemoryWebhookRepo) Insert(_ context.Context, evt *domain.WebhookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *evt
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	r.events[cp.ID] = &cp
	return nil
}

func (r *inMemoryWebhookRepo) FindPending(_ context.Context, now time.Time, limit int) ([]domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []domain.WebhookEvent
	for _, evt := range r.events {
		if evt.NextRetryAt == nil || evt.NextRetryAt.After(now) || evt.Attempts >= evt.MaxAttempts {
			continue
		}
		due = append(due, *evt)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextRetryAt.Before(*due[j].NextRetryAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *inMemoryWebhookRepo) RecordAttempt(
	_ context.Context,
	id uuid.UUID,
	responseStatus *int,
	responseBody *string,
	attempts int,
	nextRetryAt *time.Time,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	evt, ok := r.events[id]
	if !ok {
		return nil
	}
	evt.ResponseStatus = responseStatus
	evt.ResponseBody = responseBody
	evt.Attempts = attempts
	evt.NextRetryAt = nextRetryAt
	evt.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *inMemoryWebhookRepo) GetByTransactionID(_ context.Context, txID uuid.UUID) ([]domain.WebhookEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.WebhookEvent
	for _, evt := range r.events {
		if evt.TransactionID == txID {
			out = append(out, *evt)
		}
	}
	return out, nil
}

// inProcessBus implements ports.EventPublisher by invoking the consumer
// handler inline. Publishing and consuming in one call collapses the
// async hop, which keeps tests deterministic while still exercising the
// publish -> consume -> Process path.
type inProcessBus struct {
	mu      sync.Mutex
	handler func(ctx context.Context, evt *domain.PaymentEvent) error
	events  []*domain.PaymentEvent
	results []*domain.PaymentEvent
}

func (b *inProcessBus) setHandler(h func(ctx context.Context, evt *domain.PaymentEvent) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = h
}

func (b *inProcessBus) Publish(ctx context.Context, event *domain.PaymentEvent) error {
	b.mu.Lock()
	b.events = append(b.events, event)
	h := b.handler
	b.mu.Unlock()

	if h != nil && event.EventType == domain.EventPaymentInitiated {
		// A handler error would mean redelivery on the real bus; tests
		// re-drive Process explicitly instead.
		_ = h(ctx, event)
	}
	return nil
}

func (b *inProcessBus) PublishResult(_ context.Context, event *domain.PaymentEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = append(b.results, event)
	return nil
}

// scriptedProvider implements ports.ProviderAdapter with a queue of
// pre-programmed outcomes. An empty script always succeeds.
type scriptedProvider struct {
	mu     sync.Mutex
	calls  int
	script []error
}

func (p *scriptedProvider) Charge(_ context.Context, t *domain.Transaction) (*ports.ChargeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if len(p.script) > 0 {
		err := p.script[0]
		p.script = p.script[1:]
		if err != nil {
			return nil, err
		}
	}
	return &ports.ChargeResult{ProviderRef: "test_" + t.ReferenceID}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) chargeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
