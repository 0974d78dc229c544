// Package predict provides predictive-scoring providers. Predictions are
// opaque inputs to the catalog; their statistical validity is not assessed.
package predict

import (
	"context"
	"math"

	"github.com/shopspring/decimal"

	"omni-trader/internal/models"
)

// Predictor is the predictive-scoring provider.
type Predictor interface {
	Predict(ctx context.Context, symbol string, price decimal.Decimal, volatility float64) (models.Prediction, error)
}

// Source names reported in Prediction.Source.
const (
	SourceSimulated = "simulated"
	SourceOpenAI    = "openai"
	SourceONNX      = "onnx"
)

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
