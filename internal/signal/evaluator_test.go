package signal

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-trader/internal/config"
	"omni-trader/internal/models"
)

func defaultPolicy() config.Policy {
	return config.Default().Policy()
}

// instrument builds a catalog entry whose combined catalog score differs from
// the predictor's confidence conf.
func instrument(sym string, conf, vol float64, maxLev int) models.Instrument {
	return models.Instrument{
		Symbol:          sym,
		Price:           decimal.NewFromInt(100),
		DailyVolume:     decimal.NewFromInt(20_000_000),
		Volatility:      vol,
		MaxLeverage:     maxLev,
		MinOrderSize:    decimal.RequireFromString("0.001"),
		ConfidenceScore: 0.95,
		Prediction:      models.Prediction{Confidence: conf, Direction: models.DirectionLong, ExpectedMove: 0.008},
	}
}

// TestProperty_LeverageBounds checks minLeverage <= leverage <=
// min(maxLeverage, instrument max) for any confidence.
func TestProperty_LeverageBounds(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	policy := defaultPolicy()
	e := NewEvaluator(policy)

	properties.Property("leverage stays inside policy and instrument bounds", prop.ForAll(
		func(conf float64, instMax int) bool {
			lev := e.Leverage(instrument("X", conf, 0.04, instMax))
			upper := policy.MaxLeverage
			if instMax < upper {
				upper = instMax
			}
			if lev < policy.MinLeverage {
				return false
			}
			// An instrument capped below the policy floor still gets the floor;
			// the catalog filter keeps such instruments out.
			if instMax >= policy.MinLeverage && lev > upper {
				return false
			}
			return lev <= policy.MaxLeverage
		},
		gen.Float64Range(0, 1),
		gen.IntRange(1, 200),
	))

	properties.Property("should trade implies every threshold holds", prop.ForAll(
		func(conf, vol float64, availCents int) bool {
			avail := decimal.NewFromInt(int64(availCents)).Div(decimal.NewFromInt(100))
			sig := e.Evaluate(instrument("X", conf, vol, 100), avail)
			if !sig.ShouldTrade {
				return true
			}
			return sig.Confidence > policy.MinConfidence &&
				sig.ExpectedProfit.GreaterThanOrEqual(policy.MinExpectedProfit) &&
				sig.RiskScore < policy.MaxRiskScore &&
				avail.GreaterThanOrEqual(policy.MinTradeCapital) &&
				sig.TradeCapital.LessThanOrEqual(policy.MaxTradeCapital)
		},
		gen.Float64Range(0.5, 1),
		gen.Float64Range(0.01, 0.08),
		gen.IntRange(0, 1500),
	))

	properties.TestingRun(t)
}

func TestEvaluate_Formulas(t *testing.T) {
	e := NewEvaluator(defaultPolicy())
	sig := e.Evaluate(instrument("BTCUSDT", 0.9, 0.032, 100), decimal.NewFromInt(12))

	// round(0.9*85) = 77
	assert.Equal(t, 77, sig.Leverage)
	assert.Equal(t, "3", sig.TradeCapital.String())
	// 3 * 77 * (0.032*0.9*0.5)
	assert.InDelta(t, 3*77*0.032*0.9*0.5, sig.ExpectedProfit.InexactFloat64(), 1e-6)
	assert.InDelta(t, (0.77+0.32)/2, sig.RiskScore, 1e-9)
	assert.True(t, sig.ShouldTrade)
	assert.Equal(t, models.DirectionLong, sig.Direction)
}

func TestEvaluate_UsesPredictorConfidence(t *testing.T) {
	e := NewEvaluator(defaultPolicy())

	// High volume and in-band volatility lift the catalog score to 0.80, but
	// the predictor only says 0.50.
	weak := instrument("WEAKUSDT", 0.5, 0.04, 100)
	weak.ConfidenceScore = 0.80
	sig := e.Evaluate(weak, decimal.NewFromInt(12))
	assert.False(t, sig.ShouldTrade)
	assert.Equal(t, 0.5, sig.Confidence)
	assert.Equal(t, 50, sig.Leverage)
	assert.Equal(t, 50, e.Leverage(weak))

	// A barely eligible catalog score does not hold back a strong prediction.
	strong := instrument("STRONGUSDT", 0.9, 0.032, 100)
	strong.ConfidenceScore = 0.76
	sig = e.Evaluate(strong, decimal.NewFromInt(12))
	assert.True(t, sig.ShouldTrade)
	assert.Equal(t, 77, sig.Leverage)
	assert.InDelta(t, 0.032*0.9*0.5, sig.Movement, 1e-12)
	assert.Equal(t, 0.008, sig.PredictedMove)
}

func TestEvaluate_Rejections(t *testing.T) {
	e := NewEvaluator(defaultPolicy())

	// Confidence must strictly exceed 0.78.
	assert.False(t, e.Evaluate(instrument("A", 0.78, 0.032, 100), decimal.NewFromInt(12)).ShouldTrade)
	// Risk (0.77 + 0.6)/2 > 0.6.
	assert.False(t, e.Evaluate(instrument("B", 0.9, 0.06, 100), decimal.NewFromInt(12)).ShouldTrade)
	// Not enough capital.
	sig := e.Evaluate(instrument("C", 0.9, 0.032, 100), decimal.RequireFromString("0.5"))
	assert.False(t, sig.ShouldTrade)
	assert.Equal(t, "0.5", sig.TradeCapital.String())
}

func TestBest_TieKeepsCatalogOrder(t *testing.T) {
	e := NewEvaluator(defaultPolicy())
	insts := []models.Instrument{
		instrument("LOWUSDT", 0.5, 0.032, 100),
		instrument("AAAUSDT", 0.9, 0.032, 100),
		instrument("BBBUSDT", 0.9, 0.032, 100),
	}

	best, ok := e.Best(insts, decimal.NewFromInt(12))
	require.True(t, ok)
	assert.Equal(t, "AAAUSDT", best.Instrument.Symbol)

	_, ok = e.Best(insts[:1], decimal.NewFromInt(12))
	assert.False(t, ok)
}
