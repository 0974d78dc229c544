package predict

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"omni-trader/internal/models"
)

type band struct {
	low, high, weight float64
}

// Three weighted component scores; the weights sum to 1.
var simulatedComponents = []band{
	{0.75, 0.92, 0.35}, // correlation
	{0.78, 0.89, 0.35}, // pattern strength
	{0.72, 0.88, 0.30}, // spectral
}

// SimulatedPredictor draws predictions from fixed component bands with a
// slight long bias.
type SimulatedPredictor struct {
	mu        sync.Mutex
	rng       *rand.Rand
	longBias  float64
	moveRatio float64
}

// NewSimulatedPredictor creates a simulated predictor. A zero seed uses the
// clock.
func NewSimulatedPredictor(seed int64) *SimulatedPredictor {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedPredictor{
		rng:       rand.New(rand.NewSource(seed)),
		longBias:  0.45,
		moveRatio: 0.008,
	}
}

// Predict implements Predictor.
func (p *SimulatedPredictor) Predict(ctx context.Context, symbol string, price decimal.Decimal, volatility float64) (models.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return models.Prediction{}, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	confidence := 0.0
	for _, c := range simulatedComponents {
		confidence += (c.low + p.rng.Float64()*(c.high-c.low)) * c.weight
	}

	direction := models.DirectionShort
	move := -p.moveRatio
	if p.rng.Float64() > p.longBias {
		direction = models.DirectionLong
		move = p.moveRatio
	}

	return models.Prediction{
		Confidence:   clamp01(confidence),
		Direction:    direction,
		ExpectedMove: move,
		Source:       SourceSimulated,
	}, nil
}
