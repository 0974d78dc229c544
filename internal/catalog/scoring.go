package catalog

import (
	"math"

	"github.com/shopspring/decimal"

	"omni-trader/internal/models"
)

// Confidence score weights. Volume and volatility each contribute a quarter,
// the prediction the remaining half.
const (
	VolumeNormalizer   = 15_000_000
	VolatilityBandLow  = 0.03
	VolatilityBandHigh = 0.05

	volumeWeight     = 0.25
	volatilityWeight = 0.25
	predictionWeight = 0.5
)

// ConfidenceScore combines liquidity, volatility and the prediction into a
// score in [0, 1].
func ConfidenceScore(volume decimal.Decimal, volatility, predictionConfidence float64) float64 {
	volumeScore := math.Min(volume.InexactFloat64()/VolumeNormalizer, 1.0)
	if volumeScore < 0 {
		volumeScore = 0
	}

	var volScore float64
	switch {
	case volatility >= VolatilityBandLow && volatility <= VolatilityBandHigh:
		volScore = 1.0
	case volatility > VolatilityBandHigh:
		volScore = 0.7
	default:
		volScore = 0.6
	}

	score := volumeScore*volumeWeight + volScore*volatilityWeight + predictionConfidence*predictionWeight
	return math.Max(0, math.Min(score, 1.0))
}

// Filter is the eligibility filter applied to scored instruments.
type Filter struct {
	MinConfidence float64
	MinVolume     decimal.Decimal
	MinVolatility float64
	MinLeverage   int
	MaxMinOrder   decimal.Decimal
}

// DefaultFilter returns the standard eligibility thresholds.
func DefaultFilter(minLeverage int) Filter {
	return Filter{
		MinConfidence: 0.75,
		MinVolume:     decimal.NewFromInt(5_000_000),
		MinVolatility: 0.03,
		MinLeverage:   minLeverage,
		MaxMinOrder:   decimal.NewFromInt(5),
	}
}

// Eligible reports whether inst passes every threshold.
func (f Filter) Eligible(inst models.Instrument) bool {
	return inst.ConfidenceScore >= f.MinConfidence &&
		inst.DailyVolume.GreaterThanOrEqual(f.MinVolume) &&
		inst.Volatility >= f.MinVolatility &&
		inst.MaxLeverage >= f.MinLeverage &&
		inst.MinOrderSize.LessThanOrEqual(f.MaxMinOrder)
}
