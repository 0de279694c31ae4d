package service

import (
	"regexp"

	"payment-orchestrator/internal/core/domain"
	"payment-orchestrator/internal/core/ports"

	"github.com/shopspring/decimal"
)

var (
	cardNumberPattern = regexp.MustCompile(`^[0-9]{13,19}$`)
	cvvPattern        = regexp.MustCompile(`^[0-9]{3,4}$`)

	// Well-known provider test card numbers. Legitimate in sandboxes,
	// suspicious in production traffic.
	testCardNumbers = map[string]struct{}{
		"4242424242424242": {},
		"4000056655665556": {},
		"5555555555554444": {},
		"2223003122003222": {},
		"4000002500003155": {},
	}
)

// Risk weights. Contributions are summed and clamped to [0,1].
var (
	weightAmountHigh   = decimal.NewFromFloat(0.40) // >= 10000
	weightAmountMid    = decimal.NewFromFloat(0.20) // >= 1000
	weightAmountLow    = decimal.NewFromFloat(0.10) // >= 100
	weightMethodCard   = decimal.NewFromFloat(0.10)
	weightMethodWallet = decimal.NewFromFloat(0.05)
	weightMethodBank   = decimal.NewFromFloat(0.15)
	weightBadPAN       = decimal.NewFromFloat(0.30)
	weightBadCVV       = decimal.NewFromFloat(0.20)
	weightTestCard     = decimal.NewFromFloat(0.10)
	weightRoundAmount  = decimal.NewFromFloat(0.05)
	weightTinyAmount   = decimal.NewFromFloat(0.10)
	weightHugeAmount   = decimal.NewFromFloat(0.30)

	amountHighThreshold = decimal.NewFromInt(10000)
	amountMidThreshold  = decimal.NewFromInt(1000)
	amountLowThreshold  = decimal.NewFromInt(100)
	amountTinyThreshold = decimal.NewFromInt(1)
	amountHugeThreshold = decimal.NewFromInt(50000)

	scoreFloor   = decimal.Zero
	scoreCeiling = decimal.NewFromInt(1)
)

// FraudScorerImpl implements ports.FraudScorer as a pure weighted-heuristic
// function. It performs no I/O; velocity checks and external signal
// providers would layer on top without changing this contract.
type FraudScorerImpl struct {
	enabled   bool
	threshold decimal.Decimal
}

// NewFraudScorer creates a new FraudScorerImpl.
func NewFraudScorer(enabled bool, threshold decimal.Decimal) *FraudScorerImpl {
	return &FraudScorerImpl{
		enabled:   enabled,
		threshold: threshold,
	}
}

// Score sums the weighted risk contributions for req, clamped to [0,1].
// When scoring is disabled every request scores zero.
func (s *FraudScorerImpl) Score(req ports.InitiateRequest) decimal.Decimal {
	if !s.enabled {
		return decimal.Zero
	}

	score := decimal.Zero

	switch {
	case req.Amount.GreaterThanOrEqual(amountHighThreshold):
		score = score.Add(weightAmountHigh)
	case req.Amount.GreaterThanOrEqual(amountMidThreshold):
		score = score.Add(weightAmountMid)
	case req.Amount.GreaterThanOrEqual(amountLowThreshold):
		score = score.Add(weightAmountLow)
	}

	switch req.PaymentMethod {
	case domain.PaymentMethodCard:
		score = score.Add(weightMethodCard)
		if !cardNumberPattern.MatchString(req.CardNumber) {
			score = score.Add(weightBadPAN)
		}
		if !cvvPattern.MatchString(req.CVV) {
			score = score.Add(weightBadCVV)
		}
		if _, known := testCardNumbers[req.CardNumber]; known {
			score = score.Add(weightTestCard)
		}
	case domain.PaymentMethodWallet:
		score = score.Add(weightMethodWallet)
	case domain.PaymentMethodBank:
		score = score.Add(weightMethodBank)
	}

	if req.Amount.IsInteger() {
		score = score.Add(weightRoundAmount)
	}
	if req.Amount.LessThanOrEqual(amountTinyThreshold) {
		score = score.Add(weightTinyAmount)
	}
	if req.Amount.GreaterThanOrEqual(amountHugeThreshold) {
		score = score.Add(weightHugeAmount)
	}

	if score.GreaterThan(scoreCeiling) {
		return scoreCeiling
	}
	if score.LessThan(scoreFloor) {
		return scoreFloor
	}
	return score
}

// ShouldBlock reports whether score meets the blocking threshold.
func (s *FraudScorerImpl) ShouldBlock(score decimal.Decimal) bool {
	if !s.enabled {
		return false
	}
	return score.GreaterThanOrEqual(s.threshold)
}
