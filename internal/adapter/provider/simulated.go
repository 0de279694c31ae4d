package provider

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"

	"github.com/rs/zerolog"
)

// SimulatedConfig tunes the fake provider's behavior.
type SimulatedConfig struct {
	// Latency is slept before responding, simulating the provider's
	// processing time. The sleep respects context cancellation.
	Latency time.Duration
	// FailureRate in [0,1] is the probability of a DECLINED response.
	FailureRate float64
	// Seed makes the decline sequence reproducible in tests. Zero seeds
	// from the clock.
	Seed int64
}

// Simulated implements ports.ProviderAdapter without any external calls.
// Real integrations (Stripe, Adyen, ...) implement the same interface;
// this one exists for local runs and tests.
type Simulated struct {
	cfg SimulatedConfig
	rng *rand.Rand
	mu  sync.Mutex
	log zerolog.Logger
}

// NewSimulated creates the fake provider.
func NewSimulated(cfg SimulatedConfig, log zerolog.Logger) *Simulated {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Simulated{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
		log: log,
	}
}

// Charge simulates a provider call: sleep for the configured latency,
// then succeed or decline according to the failure rate. The reference
// id doubles as the provider-side idempotency key, so a redelivered
// charge for the same transaction yields the same provider reference.
func (p *Simulated) Charge(ctx context.Context, t *domain.Transaction) (*ports.ChargeResult, error) {
	if p.cfg.Latency > 0 {
		timer := time.NewTimer(p.cfg.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	p.mu.Lock()
	declined := p.rng.Float64() < p.cfg.FailureRate
	p.mu.Unlock()

	if declined {
		p.log.Debug().Str("reference_id", t.ReferenceID).Msg("simulated provider declined")
		return nil, &ports.ProviderError{
			Code:    "DECLINED",
			Message: "payment declined by provider",
		}
	}

	return &ports.ChargeResult{
		ProviderRef: "sim_" + t.ReferenceID,
	}, nil
}

// Name returns the provider tag.
func (p *Simulated) Name() string {
	return "simulated"
}
