package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTx() *domain.Transaction {
	return &domain.Transaction{ReferenceID: "TXN1756100000000abcd1234"}
}

func TestSimulated_Charge_Success(t *testing.T) {
	p := NewSimulated(SimulatedConfig{FailureRate: 0, Seed: 1}, zerolog.Nop())

	result, err := p.Charge(context.Background(), testTx())
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "sim_TXN1756100000000abcd1234", result.ProviderRef)
}

func TestSimulated_Charge_AlwaysDeclines(t *testing.T) {
	p := NewSimulated(SimulatedConfig{FailureRate: 1, Seed: 1}, zerolog.Nop())

	result, err := p.Charge(context.Background(), testTx())
	assert.Nil(t, result)

	var provErr *ports.ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, "DECLINED", provErr.Code)
}

func TestSimulated_Charge_RespectsContext(t *testing.T) {
	p := NewSimulated(SimulatedConfig{Latency: time.Minute, Seed: 1}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	result, err := p.Charge(ctx, testTx())
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "must not sleep past the deadline")
}

func TestSimulated_Name(t *testing.T) {
	p := NewSimulated(SimulatedConfig{}, zerolog.Nop())
	assert.Equal(t, "simulated", p.Name())
}
