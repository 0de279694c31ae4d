package service

import (
	"testing"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func defaultScorer() *FraudScorerImpl {
	return NewFraudScorer(true, decimal.NewFromFloat(0.70))
}

func scoreReq(amount float64, method domain.PaymentMethod, pan, cvv string) ports.InitiateRequest {
	return ports.InitiateRequest{
		Amount:        decimal.NewFromFloat(amount),
		Currency:      "USD",
		PaymentMethod: method,
		CardNumber:    pan,
		CVV:           cvv,
	}
}

func TestFraudScorer_Score(t *testing.T) {
	s := defaultScorer()

	tests := []struct {
		name     string
		req      ports.InitiateRequest
		expected string
	}{
		{
			// 0.10 card
			name:     "small clean card payment",
			req:      scoreReq(49.99, domain.PaymentMethodCard, "4111111111111111", "123"),
			expected: "0.1",
		},
		{
			// 0.10 amount>=100 + 0.10 card + 0.05 integer
			name:     "round mid amount",
			req:      scoreReq(500, domain.PaymentMethodCard, "4111111111111111", "123"),
			expected: "0.25",
		},
		{
			// 0.40 amount>=10000 + 0.10 card + 0.30 bad pan + 0.20 bad cvv + 0.05 integer + 0.30 huge -> clamp 1
			name:     "huge amount with bad credentials clamps to one",
			req:      scoreReq(75000, domain.PaymentMethodCard, "1234", "12"),
			expected: "1",
		},
		{
			// 0.05 wallet + 0.05 integer + 0.10 tiny
			name:     "tiny wallet amount",
			req:      scoreReq(1, domain.PaymentMethodWallet, "", ""),
			expected: "0.2",
		},
		{
			// 0.20 amount>=1000 + 0.15 bank + 0.05 integer
			name:     "bank transfer mid amount",
			req:      scoreReq(5000, domain.PaymentMethodBank, "", ""),
			expected: "0.4",
		},
		{
			// 0.10 card + 0.10 test pan
			name:     "known test card",
			req:      scoreReq(49.99, domain.PaymentMethodCard, "4242424242424242", "123"),
			expected: "0.2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Score(tt.req)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.expected)),
				"score = %s, want %s", got, tt.expected)
		})
	}
}

func TestFraudScorer_Deterministic(t *testing.T) {
	s := defaultScorer()
	req := scoreReq(75000, domain.PaymentMethodCard, "1234", "12")

	first := s.Score(req)
	for i := 0; i < 10; i++ {
		assert.True(t, first.Equal(s.Score(req)), "score must be a pure function of the request")
	}
}

func TestFraudScorer_ShouldBlock(t *testing.T) {
	s := defaultScorer()

	assert.False(t, s.ShouldBlock(decimal.NewFromFloat(0.69)))
	assert.True(t, s.ShouldBlock(decimal.NewFromFloat(0.70)), "threshold is inclusive")
	assert.True(t, s.ShouldBlock(decimal.NewFromInt(1)))
}

func TestFraudScorer_Disabled(t *testing.T) {
	s := NewFraudScorer(false, decimal.NewFromFloat(0.70))

	req := scoreReq(75000, domain.PaymentMethodCard, "1234", "12")
	assert.True(t, s.Score(req).IsZero())
	assert.False(t, s.ShouldBlock(decimal.NewFromInt(1)))
}
