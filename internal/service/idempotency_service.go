package service

import (
	"context"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// reservedMarker is cached under a key between Reserve and the durable
// insert. It points at the claiming transaction id so concurrent callers
// can wait for the row instead of creating a second one.

// IdempotencyGateImpl implements ports.IdempotencyGate over a fast cache
// and the durable transaction store. The cache is an optimization only:
// every decision it makes is re-checked against the store, and cache
// outages degrade to store-level uniqueness.
type IdempotencyGateImpl struct {
	cache  ports.IdempotencyCache
	txRepo ports.TransactionRepository
	ttl    time.Duration
	log    zerolog.Logger
}

// NewIdempotencyGate creates a new IdempotencyGateImpl.
func NewIdempotencyGate(
	cache ports.IdempotencyCache,
	txRepo ports.TransactionRepository,
	ttl time.Duration,
	log zerolog.Logger,
) *IdempotencyGateImpl {
	return &IdempotencyGateImpl{
		cache:  cache,
		txRepo: txRepo,
		ttl:    ttl,
		log:    log,
	}
}

// Lookup checks the cache first, then the durable store. A store hit
// repopulates the cache best-effort so later duplicates stay cheap.
func (g *IdempotencyGateImpl) Lookup(ctx context.Context, key string) (*domain.Transaction, error) {
	cached, err := g.cache.Get(ctx, key)
	if err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("idempotency cache lookup failed, falling through to store")
	}
	if cached != "" {
		if txID, parseErr := uuid.Parse(cached); parseErr == nil {
			t, getErr := g.txRepo.GetByID(ctx, txID)
			if getErr != nil {
				return nil, getErr
			}
			if t != nil {
				return t, nil
			}
			// Reservation marker without a visible row yet: the winner is
			// mid-insert. Fall through to the key index, which will also
			// miss, and let the caller decide.
		}
	}

	t, err := g.txRepo.GetByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if t != nil {
		if setErr := g.cache.Set(ctx, key, t.ID.String(), g.ttl); setErr != nil {
			g.log.Warn().Err(setErr).Str("key", key).Msg("idempotency cache repopulate failed")
		}
	}
	return t, nil
}

// Reserve claims key for txID via an atomic set-if-absent. Cache
// unavailability degrades to true: the store's unique constraint on the
// key column remains the final arbiter.
func (g *IdempotencyGateImpl) Reserve(ctx context.Context, key string, txID uuid.UUID) (bool, error) {
	ok, err := g.cache.SetIfAbsent(ctx, key, txID.String(), g.ttl)
	if err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("idempotency cache reserve failed, degrading to store uniqueness")
		return true, nil
	}
	return ok, nil
}

// Release drops the cache reservation. Callers use it only when the
// durable insert failed before a row existed; once a row exists the
// mapping must stay until TTL expiry.
func (g *IdempotencyGateImpl) Release(ctx context.Context, key string) {
	if err := g.cache.Delete(ctx, key); err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("idempotency cache release failed")
	}
}

// GenerateKey produces a server-side key for requests that omit one.
func (g *IdempotencyGateImpl) GenerateKey() string {
	return uuid.NewString()
}
