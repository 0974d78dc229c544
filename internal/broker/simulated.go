package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/models"
)

type seedAsset struct {
	symbol     string
	price      float64
	volume     float64
	volatility float64
}

var majors = []seedAsset{
	{"BTCUSDT", 43250.0, 28_000_000, 0.032},
	{"ETHUSDT", 2485.0, 18_000_000, 0.038},
	{"ADAUSDT", 0.445, 9_500_000, 0.045},
	{"BNBUSDT", 315.0, 12_500_000, 0.041},
	{"SOLUSDT", 98.5, 11_000_000, 0.052},
	{"XRPUSDT", 0.625, 15_000_000, 0.048},
	{"DOGEUSDT", 0.082, 8_500_000, 0.055},
	{"MATICUSDT", 0.875, 7_800_000, 0.047},
	{"AVAXUSDT", 29.5, 9_200_000, 0.049},
	{"LINKUSDT", 14.8, 8_800_000, 0.043},
}

type simAsset struct {
	price       float64
	volume      float64
	volatility  float64
	maxLeverage int
	minOrder    decimal.Decimal
}

// SimulatedMarket is an in-memory market used in place of a live venue.
// Reference prices random-walk on every instrument scan; price checks
// return the reference price moved by a draw from [driftLow, driftHigh].
type SimulatedMarket struct {
	mu        sync.Mutex
	rng       *rand.Rand
	symbols   []string
	assets    map[string]*simAsset
	driftLow  float64
	driftHigh float64
	walk      float64
}

// SimulatedMarketConfig holds configuration for the simulated market.
type SimulatedMarketConfig struct {
	UniverseSize int
	Seed         int64
	DriftLow     float64
	DriftHigh    float64
	// Walk is the half-width of the per-scan reference price move.
	Walk float64
}

// DefaultSimulatedMarketConfig returns the simulated market defaults.
func DefaultSimulatedMarketConfig() SimulatedMarketConfig {
	return SimulatedMarketConfig{
		UniverseSize: 300,
		DriftLow:     -0.006,
		DriftHigh:    0.010,
		Walk:         0.002,
	}
}

// NewSimulatedMarket creates the ten major pairs plus generated TOKENn
// pairs up to the configured universe size.
func NewSimulatedMarket(cfg SimulatedMarketConfig) *SimulatedMarket {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	m := &SimulatedMarket{
		rng:       rng,
		assets:    make(map[string]*simAsset, cfg.UniverseSize),
		driftLow:  cfg.DriftLow,
		driftHigh: cfg.DriftHigh,
		walk:      cfg.Walk,
	}

	leverages := []int{75, 100}
	for _, a := range majors {
		if len(m.symbols) >= cfg.UniverseSize {
			break
		}
		m.add(a.symbol, &simAsset{
			price:       a.price,
			volume:      a.volume,
			volatility:  a.volatility,
			maxLeverage: leverages[rng.Intn(len(leverages))],
			minOrder:    decimal.RequireFromString("0.001"),
		})
	}

	tokenLeverages := []int{20, 25, 50, 75, 100}
	for i := 1; len(m.symbols) < cfg.UniverseSize; i++ {
		m.add(fmt.Sprintf("TOKEN%dUSDT", i), &simAsset{
			price:       0.01 + rng.Float64()*50,
			volume:      500_000 + rng.Float64()*20_000_000,
			volatility:  0.01 + rng.Float64()*0.06,
			maxLeverage: tokenLeverages[rng.Intn(len(tokenLeverages))],
			minOrder:    decimal.NewFromFloat(0.001 + rng.Float64()*8).Round(3),
		})
	}
	return m
}

func (m *SimulatedMarket) add(symbol string, a *simAsset) {
	m.symbols = append(m.symbols, symbol)
	m.assets[symbol] = a
}

// FetchInstruments returns a quote for every symbol in the universe.
func (m *SimulatedMarket) FetchInstruments(ctx context.Context) ([]models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	quotes := make([]models.Quote, 0, len(m.symbols))
	for _, sym := range m.symbols {
		a := m.assets[sym]
		if m.walk > 0 {
			a.price *= 1 + (m.rng.Float64()*2-1)*m.walk
		}
		quotes = append(quotes, models.Quote{
			Symbol:       sym,
			Price:        toPrice(a.price),
			DailyVolume:  decimal.NewFromFloat(a.volume).Round(0),
			Volatility:   a.volatility,
			MaxLeverage:  a.maxLeverage,
			MinOrderSize: a.minOrder,
		})
	}
	return quotes, nil
}

// FetchPrice returns the reference price of symbol moved by one drift draw.
func (m *SimulatedMarket) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.assets[symbol]
	if !ok {
		return decimal.Zero, apperrors.Wrapf(apperrors.ErrSymbolNotFound, "simulated market %s", symbol)
	}
	move := m.driftLow + m.rng.Float64()*(m.driftHigh-m.driftLow)
	return toPrice(a.price * (1 + move)), nil
}

// SetPrice pins the reference price of symbol.
func (m *SimulatedMarket) SetPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.assets[symbol]; ok {
		a.price = price
	}
}

// SetDrift replaces the per-check drift range.
func (m *SimulatedMarket) SetDrift(low, high float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.driftLow, m.driftHigh = low, high
}

// Symbols returns the universe in generation order.
func (m *SimulatedMarket) Symbols() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.symbols...)
}

func toPrice(p float64) decimal.Decimal {
	return decimal.NewFromFloat(p).Round(8)
}
