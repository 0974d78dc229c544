package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeStatus represents the lifecycle state of a trade.
type TradeStatus string

const (
	TradeOpen        TradeStatus = "Open"
	TradeStopLoss    TradeStatus = "StopLoss"
	TradeProfitTaken TradeStatus = "ProfitTaken"
	TradeCancelled   TradeStatus = "Cancelled"
)

// IsTerminal reports whether no further transition can occur from s.
func (s TradeStatus) IsTerminal() bool {
	switch s {
	case TradeStopLoss, TradeProfitTaken, TradeCancelled:
		return true
	}
	return false
}

// Trade represents a simulated leveraged position.
type Trade struct {
	ID             string          `json:"id" csv:"id" yaml:"id"`
	OrderID        string          `json:"order_id" csv:"order_id" yaml:"order_id"`
	Symbol         string          `json:"symbol" csv:"symbol" yaml:"symbol"`
	Side           Side            `json:"side" csv:"side" yaml:"side"`
	Quantity       decimal.Decimal `json:"quantity" csv:"quantity" yaml:"quantity"`
	EntryPrice     decimal.Decimal `json:"entry_price" csv:"entry_price" yaml:"entry_price"`
	ExitPrice      decimal.Decimal `json:"exit_price" csv:"exit_price" yaml:"exit_price"`
	Leverage       int             `json:"leverage" csv:"leverage" yaml:"leverage"`
	ReservedMargin decimal.Decimal `json:"reserved_margin" csv:"reserved_margin" yaml:"reserved_margin"`
	ExpectedProfit decimal.Decimal `json:"expected_profit" csv:"expected_profit" yaml:"expected_profit"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl" csv:"realized_pnl" yaml:"realized_pnl"`
	Status         TradeStatus     `json:"status" csv:"status" yaml:"status"`
	OpenedAt       time.Time       `json:"opened_at" csv:"opened_at" yaml:"opened_at"`
	ClosedAt       time.Time       `json:"closed_at" csv:"closed_at" yaml:"closed_at"`
}

// PnLAt returns the mark-to-market profit or loss of the trade at price.
func (t Trade) PnLAt(price decimal.Decimal) decimal.Decimal {
	return price.Sub(t.EntryPrice).Mul(t.Quantity).Mul(t.Side.Sign())
}

// PerformanceMetrics is the derived aggregate over closed trades.
type PerformanceMetrics struct {
	TotalTrades         int             `json:"total_trades" yaml:"total_trades"`
	Wins                int             `json:"wins" yaml:"wins"`
	Losses              int             `json:"losses" yaml:"losses"`
	Cancelled           int             `json:"cancelled" yaml:"cancelled"`
	WinRate             float64         `json:"win_rate" yaml:"win_rate"`
	TotalProfit         decimal.Decimal `json:"total_profit" yaml:"total_profit"`
	TotalLoss           decimal.Decimal `json:"total_loss" yaml:"total_loss"`
	NetPnL              decimal.Decimal `json:"net_pnl" yaml:"net_pnl"`
	AvgProfitPerTrade   decimal.Decimal `json:"avg_profit_per_trade" yaml:"avg_profit_per_trade"`
	CurrentDrawdown     float64         `json:"current_drawdown" yaml:"current_drawdown"`
	MaxDrawdownReached  float64         `json:"max_drawdown_reached" yaml:"max_drawdown_reached"`
	TradesToday         int             `json:"trades_today" yaml:"trades_today"`
	DailyTargetProgress float64         `json:"daily_target_progress" yaml:"daily_target_progress"`
	ComputedAt          time.Time       `json:"computed_at" yaml:"computed_at"`
}
