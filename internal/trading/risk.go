package trading

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"omni-trader/internal/broker"
	"omni-trader/internal/config"
	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/ledger"
	"omni-trader/internal/logging"
	"omni-trader/internal/models"
)

// ExitStatus decides the fate of an open trade at the given P&L: a loss
// beyond entryPrice*stopLoss stops out, a profit of at least takeProfit is
// taken, anything else stays open.
func ExitStatus(t models.Trade, pnl decimal.Decimal, policy config.Policy) models.TradeStatus {
	if pnl.LessThan(t.EntryPrice.Mul(policy.StopLossPercent).Neg()) {
		return models.TradeStopLoss
	}
	if pnl.GreaterThanOrEqual(policy.TakeProfit) {
		return models.TradeProfitTaken
	}
	return models.TradeOpen
}

// RiskMonitor enforces the drawdown limit and per-trade exits.
type RiskMonitor struct {
	ledger *ledger.Ledger
	book   *Book
	market broker.MarketData
	halter *Halter
	policy config.Policy
	logger zerolog.Logger
	now    func() time.Time
}

// NewRiskMonitor creates a risk monitor.
func NewRiskMonitor(l *ledger.Ledger, book *Book, market broker.MarketData, halter *Halter, policy config.Policy, logger zerolog.Logger) *RiskMonitor {
	return &RiskMonitor{
		ledger: l,
		book:   book,
		market: market,
		halter: halter,
		policy: policy,
		logger: logging.WithComponent(logger, "risk"),
		now:    time.Now,
	}
}

// RunCycle runs one risk pass. A drawdown breach liquidates everything and
// halts the system; otherwise each open trade is priced and closed on stop
// loss or take profit. Only invariant violations are returned.
func (m *RiskMonitor) RunCycle(ctx context.Context) error {
	if !m.halter.Running() {
		return nil
	}

	if dd := m.ledger.Drawdown(); dd > m.policy.MaxDrawdown {
		m.logger.Warn().
			Float64("drawdown", dd).
			Float64("limit", m.policy.MaxDrawdown).
			Msg("Drawdown limit breached, cancelling all trades")
		_, err := m.Liquidate(ctx)
		m.halter.Halt(HaltDrawdown, nil)
		return err
	}

	for _, t := range m.book.OpenTrades() {
		if ctx.Err() != nil {
			return nil
		}
		price, err := m.market.FetchPrice(ctx, t.Symbol)
		if err != nil {
			m.logger.Debug().Err(err).Str("trade_id", t.ID).Str("symbol", t.Symbol).Msg("Price unavailable, skipping trade")
			continue
		}

		pnl := t.PnLAt(price)
		status := ExitStatus(t, pnl, m.policy)
		if status == models.TradeOpen {
			continue
		}

		closed, err := m.book.Close(t.ID, status, price, pnl, m.now())
		if err != nil {
			if apperrors.Is(err, apperrors.ErrTradeNotOpen) {
				continue
			}
			return err
		}
		logging.LogTradeClosed(m.logger, closed.ID, closed.Symbol, string(closed.Status), closed.RealizedPnL.StringFixed(4))
	}
	return nil
}

// Liquidate prices every open trade, then cancels them all and seals the
// book. Prices are fetched before the book lock is taken.
func (m *RiskMonitor) Liquidate(ctx context.Context) ([]models.Trade, error) {
	prices := make(map[string]decimal.Decimal)
	for _, t := range m.book.OpenTrades() {
		if _, ok := prices[t.Symbol]; ok || ctx.Err() != nil {
			continue
		}
		if p, err := m.market.FetchPrice(ctx, t.Symbol); err == nil {
			prices[t.Symbol] = p
		}
	}

	closed, err := m.book.LiquidateAll(prices, m.now())
	for _, c := range closed {
		logging.LogTradeClosed(m.logger, c.ID, c.Symbol, string(c.Status), c.RealizedPnL.StringFixed(4))
	}
	return closed, err
}
