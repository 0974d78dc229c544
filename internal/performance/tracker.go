// Package performance derives aggregate statistics from the closed-trade
// history and validates them against the configured targets.
package performance

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"omni-trader/internal/logging"
	"omni-trader/internal/models"
	"omni-trader/pkg/utils"
)

// HistorySource supplies the closed-trade history in close order.
type HistorySource interface {
	Closed() []models.Trade
}

// Compute folds closed into a metrics snapshot. The equity curve starts at
// total and moves by each trade's realized P&L in close order; drawdown is
// the fraction of total capital lost below the starting point.
func Compute(closed []models.Trade, total decimal.Decimal, dailyTarget int, now time.Time) models.PerformanceMetrics {
	m := models.PerformanceMetrics{
		TotalProfit: decimal.Zero,
		TotalLoss:   decimal.Zero,
		ComputedAt:  now,
	}
	today := utils.StartOfDay(now)
	equity := total

	for _, t := range closed {
		m.TotalTrades++
		switch t.Status {
		case models.TradeProfitTaken:
			m.Wins++
		case models.TradeStopLoss:
			m.Losses++
		case models.TradeCancelled:
			m.Cancelled++
		}

		if t.RealizedPnL.IsPositive() {
			m.TotalProfit = m.TotalProfit.Add(t.RealizedPnL)
		} else if t.RealizedPnL.IsNegative() {
			m.TotalLoss = m.TotalLoss.Add(t.RealizedPnL.Neg())
		}

		equity = equity.Add(t.RealizedPnL)
		if dd := drawdown(total, equity); dd > m.MaxDrawdownReached {
			m.MaxDrawdownReached = dd
		}

		if !t.OpenedAt.Before(today) {
			m.TradesToday++
		}
	}

	m.NetPnL = m.TotalProfit.Sub(m.TotalLoss)
	m.AvgProfitPerTrade = decimal.Zero
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.Wins) / float64(m.TotalTrades)
		m.AvgProfitPerTrade = m.NetPnL.Div(decimal.NewFromInt(int64(m.TotalTrades)))
	}
	m.CurrentDrawdown = drawdown(total, equity)
	if dailyTarget > 0 {
		m.DailyTargetProgress = float64(m.TradesToday) / float64(dailyTarget)
	}
	return m
}

func drawdown(total, equity decimal.Decimal) float64 {
	if !total.IsPositive() || !equity.LessThan(total) {
		return 0
	}
	return total.Sub(equity).Div(total).InexactFloat64()
}

// Tracker recomputes metrics on demand and publishes the latest snapshot
// for concurrent readers.
type Tracker struct {
	source      HistorySource
	total       decimal.Decimal
	dailyTarget int
	logger      zerolog.Logger
	latest      atomic.Pointer[models.PerformanceMetrics]
}

// NewTracker creates a tracker over source.
func NewTracker(source HistorySource, total decimal.Decimal, dailyTarget int, logger zerolog.Logger) *Tracker {
	t := &Tracker{
		source:      source,
		total:       total,
		dailyTarget: dailyTarget,
		logger:      logging.WithComponent(logger, "performance"),
	}
	empty := Compute(nil, total, dailyTarget, time.Time{})
	t.latest.Store(&empty)
	return t
}

// Refresh recomputes the metrics from the full history and publishes them.
func (t *Tracker) Refresh(now time.Time) models.PerformanceMetrics {
	m := Compute(t.source.Closed(), t.total, t.dailyTarget, now)
	t.latest.Store(&m)

	t.logger.Debug().
		Int("trades", m.TotalTrades).
		Float64("win_rate", m.WinRate).
		Str("net_pnl", m.NetPnL.StringFixed(4)).
		Float64("drawdown", m.CurrentDrawdown).
		Msg("Performance refreshed")
	return m
}

// Latest returns the most recently published metrics.
func (t *Tracker) Latest() models.PerformanceMetrics {
	return *t.latest.Load()
}
