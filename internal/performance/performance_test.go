package performance

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-trader/internal/config"
	"omni-trader/internal/models"
)

var now = time.Date(2024, 3, 14, 15, 0, 0, 0, time.UTC)

func closedTrade(status models.TradeStatus, pnl string, openedAt time.Time) models.Trade {
	return models.Trade{
		Status:      status,
		RealizedPnL: decimal.RequireFromString(pnl),
		OpenedAt:    openedAt,
	}
}

type history struct {
	mu     sync.Mutex
	trades []models.Trade
}

func (h *history) Closed() []models.Trade {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.Trade(nil), h.trades...)
}

func TestCompute(t *testing.T) {
	yesterday := now.Add(-20 * time.Hour)
	closed := []models.Trade{
		closedTrade(models.TradeProfitTaken, "0.6", yesterday),
		closedTrade(models.TradeStopLoss, "-0.3", now),
		closedTrade(models.TradeStopLoss, "-0.2", now),
		closedTrade(models.TradeProfitTaken, "0.8", now),
		closedTrade(models.TradeCancelled, "0", now),
	}

	m := Compute(closed, decimal.NewFromInt(12), 750, now)
	assert.Equal(t, 5, m.TotalTrades)
	assert.Equal(t, 2, m.Wins)
	assert.Equal(t, 2, m.Losses)
	assert.Equal(t, 1, m.Cancelled)
	assert.InDelta(t, 0.4, m.WinRate, 1e-12)
	assert.Equal(t, "1.4", m.TotalProfit.String())
	assert.Equal(t, "0.5", m.TotalLoss.String())
	assert.Equal(t, "0.9", m.NetPnL.String())
	assert.Equal(t, "0.18", m.AvgProfitPerTrade.String())
	assert.Equal(t, 4, m.TradesToday)
	assert.InDelta(t, 4.0/750, m.DailyTargetProgress, 1e-12)
	// Equity never fell below the starting 12.
	assert.Zero(t, m.MaxDrawdownReached)
	assert.Zero(t, m.CurrentDrawdown)
}

func TestCompute_Drawdown(t *testing.T) {
	closed := []models.Trade{
		closedTrade(models.TradeStopLoss, "-0.12", now),
		closedTrade(models.TradeStopLoss, "-0.12", now),
		closedTrade(models.TradeProfitTaken, "0.6", now),
		closedTrade(models.TradeStopLoss, "-0.6", now),
	}
	m := Compute(closed, decimal.NewFromInt(12), 750, now)
	assert.InDelta(t, 0.02, m.MaxDrawdownReached, 1e-12)
	assert.InDelta(t, 0.02, m.CurrentDrawdown, 1e-12)

	m = Compute(closed[:3], decimal.NewFromInt(12), 750, now)
	assert.InDelta(t, 0.02, m.MaxDrawdownReached, 1e-12)
	assert.Zero(t, m.CurrentDrawdown)
}

func TestCompute_Empty(t *testing.T) {
	m := Compute(nil, decimal.NewFromInt(12), 0, now)
	assert.Zero(t, m.TotalTrades)
	assert.Zero(t, m.WinRate)
	assert.True(t, m.AvgProfitPerTrade.IsZero())
	assert.Zero(t, m.DailyTargetProgress)
}

// TestProperty_WinRateConsistency checks winRate == wins/total and that the
// fold does not depend on when it runs.
func TestProperty_WinRateConsistency(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)
	statuses := []models.TradeStatus{models.TradeProfitTaken, models.TradeStopLoss, models.TradeCancelled}

	properties.Property("win rate is wins over total", prop.ForAll(
		func(kinds []int, pnls []int) bool {
			closed := make([]models.Trade, len(kinds))
			for i, k := range kinds {
				closed[i] = models.Trade{
					Status:      statuses[k],
					RealizedPnL: decimal.New(int64(pnls[i%len(pnls)]), -2),
					OpenedAt:    now,
				}
			}
			a := Compute(closed, decimal.NewFromInt(12), 750, now)
			b := Compute(closed, decimal.NewFromInt(12), 750, now)
			if a.TotalTrades != len(closed) || a.Wins+a.Losses+a.Cancelled != a.TotalTrades {
				return false
			}
			if a.TotalTrades > 0 && a.WinRate != float64(a.Wins)/float64(a.TotalTrades) {
				return false
			}
			if !a.NetPnL.Equal(a.TotalProfit.Sub(a.TotalLoss)) {
				return false
			}
			return a.WinRate == b.WinRate && a.NetPnL.Equal(b.NetPnL) &&
				a.MaxDrawdownReached >= a.CurrentDrawdown
		},
		gen.SliceOf(gen.IntRange(0, 2)),
		gen.SliceOfN(8, gen.IntRange(-300, 300)),
	))

	properties.TestingRun(t)
}

func TestTracker_PublishesLatest(t *testing.T) {
	h := &history{}
	tr := NewTracker(h, decimal.NewFromInt(12), 750, zerolog.Nop())
	assert.Zero(t, tr.Latest().TotalTrades)

	h.mu.Lock()
	h.trades = append(h.trades, closedTrade(models.TradeProfitTaken, "0.7", now))
	h.mu.Unlock()

	m := tr.Refresh(now)
	assert.Equal(t, 1, m.TotalTrades)
	assert.Equal(t, m, tr.Latest())
}

func TestValidate(t *testing.T) {
	targets := config.Default().Targets

	good := models.PerformanceMetrics{
		TotalTrades:       10,
		Wins:              8,
		WinRate:           0.8,
		AvgProfitPerTrade: decimal.RequireFromString("0.5"),
	}
	v := Validate(good, targets, 0.009)
	assert.True(t, v.Passed)
	assert.Empty(t, v.Shortfalls())
	require.Len(t, v.Checks, 4)

	// Inside the tolerance band below both targets.
	edge := good
	edge.WinRate = 0.71
	edge.AvgProfitPerTrade = decimal.RequireFromString("0.31")
	assert.True(t, Validate(edge, targets, 0.009).Passed)

	bad := good
	bad.TotalTrades = 3
	bad.WinRate = 0.5
	bad.MaxDrawdownReached = 0.012
	v = Validate(bad, targets, 0.009)
	assert.False(t, v.Passed)
	assert.Len(t, v.Shortfalls(), 3)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KiB", FormatBytes(1536))
	assert.Equal(t, "2.0 MiB", FormatBytes(2*1024*1024))
	assert.Positive(t, ReadRuntimeStats().Goroutines)
}
