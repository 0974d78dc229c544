// Package signal turns catalog instruments into trade signals.
package signal

import (
	"math"

	"github.com/shopspring/decimal"

	"omni-trader/internal/config"
	"omni-trader/internal/models"
)

// VolatilityNormalizer scales volatility into the risk score.
const VolatilityNormalizer = 0.1

// Evaluator is a pure function of an instrument, the available capital and
// the policy. It holds no state and is safe for concurrent use.
type Evaluator struct {
	policy config.Policy
}

// NewEvaluator creates an evaluator for policy.
func NewEvaluator(policy config.Policy) *Evaluator {
	return &Evaluator{policy: policy}
}

// Leverage returns clamp(round(confidence*scale), minLeverage,
// min(maxLeverage, instrument max)). Confidence is the predictor's, not the
// catalog's combined score.
func (e *Evaluator) Leverage(inst models.Instrument) int {
	upper := e.policy.MaxLeverage
	if inst.MaxLeverage > 0 && inst.MaxLeverage < upper {
		upper = inst.MaxLeverage
	}
	lev := int(math.Round(inst.Prediction.Confidence * e.policy.LeverageScale))
	if lev > upper {
		lev = upper
	}
	if lev < e.policy.MinLeverage {
		lev = e.policy.MinLeverage
	}
	return lev
}

// Evaluate scores inst against the currently available capital. The
// availability check is advisory; the ledger re-validates on reserve.
func (e *Evaluator) Evaluate(inst models.Instrument, available decimal.Decimal) models.Signal {
	confidence := inst.Prediction.Confidence
	leverage := e.Leverage(inst)

	tradeCapital := decimal.Min(available, e.policy.MaxTradeCapital)
	if tradeCapital.IsNegative() {
		tradeCapital = decimal.Zero
	}

	movement := inst.Volatility * confidence * e.policy.MovementFactor
	expectedProfit := tradeCapital.
		Mul(decimal.NewFromInt(int64(leverage))).
		Mul(decimal.NewFromFloat(movement)).
		Round(8)

	riskScore := (float64(leverage)/float64(e.policy.MaxLeverage) + inst.Volatility/VolatilityNormalizer) / 2

	shouldTrade := confidence > e.policy.MinConfidence &&
		expectedProfit.GreaterThanOrEqual(e.policy.MinExpectedProfit) &&
		riskScore < e.policy.MaxRiskScore &&
		available.GreaterThanOrEqual(e.policy.MinTradeCapital)

	direction := inst.Prediction.Direction
	if direction == "" {
		direction = models.DirectionLong
	}

	return models.Signal{
		Symbol:         inst.Symbol,
		ShouldTrade:    shouldTrade,
		Direction:      direction,
		Confidence:     confidence,
		Leverage:       leverage,
		TradeCapital:   tradeCapital,
		ExpectedProfit: expectedProfit,
		RiskScore:      riskScore,
		Movement:       movement,
		PredictedMove:  inst.Prediction.ExpectedMove,
		Score:          confidence * expectedProfit.InexactFloat64() / (1 + riskScore),
	}
}

// Candidate pairs an admissible signal with its instrument.
type Candidate struct {
	Instrument models.Instrument
	Signal     models.Signal
}

// Best evaluates insts in order and returns the admissible candidate with
// the highest score. Ties keep the earliest instrument.
func (e *Evaluator) Best(insts []models.Instrument, available decimal.Decimal) (Candidate, bool) {
	var best Candidate
	found := false
	for _, inst := range insts {
		sig := e.Evaluate(inst, available)
		if !sig.ShouldTrade {
			continue
		}
		if !found || sig.Score > best.Signal.Score {
			best = Candidate{Instrument: inst, Signal: sig}
			found = true
		}
	}
	return best, found
}
