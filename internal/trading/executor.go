package trading

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"omni-trader/internal/broker"
	"omni-trader/internal/config"
	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/ledger"
	"omni-trader/internal/logging"
	"omni-trader/internal/models"
	"omni-trader/internal/signal"
)

// QuantityPlaces is the precision orders are sized to.
const QuantityPlaces = 4

// CandidateSource supplies instruments in published catalog order.
type CandidateSource interface {
	Top(n int) []models.Instrument
}

// Executor opens at most one trade per cycle.
type Executor struct {
	candidates CandidateSource
	evaluator  *signal.Evaluator
	ledger     *ledger.Ledger
	book       *Book
	orders     broker.OrderPlacer
	halter     *Halter
	policy     config.Policy
	topN       int
	logger     zerolog.Logger

	now   func() time.Time
	newID func() string
}

// ExecutorConfig wires an Executor.
type ExecutorConfig struct {
	Candidates CandidateSource
	Evaluator  *signal.Evaluator
	Ledger     *ledger.Ledger
	Book       *Book
	Orders     broker.OrderPlacer
	Halter     *Halter
	Policy     config.Policy
	TopN       int
	Logger     zerolog.Logger
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	return &Executor{
		candidates: cfg.Candidates,
		evaluator:  cfg.Evaluator,
		ledger:     cfg.Ledger,
		book:       cfg.Book,
		orders:     cfg.Orders,
		halter:     cfg.Halter,
		policy:     cfg.Policy,
		topN:       cfg.TopN,
		logger:     logging.WithComponent(cfg.Logger, "executor"),
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Quantity returns margin*leverage/price rounded half-up to four places.
func Quantity(margin decimal.Decimal, leverage int, price decimal.Decimal) decimal.Decimal {
	if !price.IsPositive() {
		return decimal.Zero
	}
	return margin.Mul(decimal.NewFromInt(int64(leverage))).Div(price).Round(QuantityPlaces)
}

// RunCycle picks the best admissible candidate and opens a trade for it.
// It reports whether a trade was opened. Capital shortfall and a halted
// system are normal "no trade" outcomes; provider failures are returned as
// errors with no state changed.
func (e *Executor) RunCycle(ctx context.Context) (bool, error) {
	if !e.halter.Running() {
		return false, nil
	}

	insts := e.candidates.Top(e.topN)
	if len(insts) == 0 {
		return false, nil
	}
	cand, ok := e.evaluator.Best(insts, e.ledger.Available())
	if !ok {
		return false, nil
	}
	inst := cand.Instrument

	tradeID := e.newID()
	res, err := e.ledger.ReserveUpTo(tradeID, e.policy.MinTradeCapital, e.policy.MaxTradeCapital)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrInsufficientCapital) {
			e.logger.Debug().Str("symbol", inst.Symbol).Msg("Insufficient capital for trade")
			return false, nil
		}
		return false, err
	}
	// Returns the margin on every path that does not bind it.
	defer res.Rollback()

	// Re-evaluate against the amount actually reserved.
	sig := e.evaluator.Evaluate(inst, res.Amount)
	if !sig.ShouldTrade {
		e.logger.Debug().
			Str("symbol", inst.Symbol).
			Str("margin", res.Amount.String()).
			Str("expected_profit", sig.ExpectedProfit.String()).
			Msg("Signal no longer admissible at reserved margin")
		return false, nil
	}
	qty := Quantity(res.Amount, sig.Leverage, inst.Price)
	if !qty.IsPositive() || qty.LessThan(inst.MinOrderSize) {
		e.logger.Debug().Str("symbol", inst.Symbol).Str("quantity", qty.String()).Msg("Order size below minimum")
		return false, nil
	}

	side := cand.Signal.Direction.Side()
	orderID, err := e.orders.CreateOrder(ctx, models.OrderRequest{
		Symbol:   inst.Symbol,
		Side:     side,
		Quantity: qty,
		Leverage: sig.Leverage,
		Price:    inst.Price,
	})
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		e.logger.Warn().Err(err).Str("symbol", inst.Symbol).Msg("Order placement failed")
		return false, err
	}

	trade := models.Trade{
		ID:             tradeID,
		OrderID:        orderID,
		Symbol:         inst.Symbol,
		Side:           side,
		Quantity:       qty,
		EntryPrice:     inst.Price,
		Leverage:       sig.Leverage,
		ReservedMargin: res.Amount,
		ExpectedProfit: sig.ExpectedProfit,
		Status:         models.TradeOpen,
		OpenedAt:       e.now(),
	}
	if err := e.book.Open(trade); err != nil {
		if apperrors.Is(err, apperrors.ErrBookSealed) {
			e.logger.Info().Str("symbol", inst.Symbol).Str("order_id", orderID).Msg("System halted before trade opened")
			return false, nil
		}
		return false, err
	}

	logging.LogTradeOpened(e.logger, trade.ID, trade.Symbol, string(trade.Side), trade.Leverage,
		trade.ReservedMargin.StringFixed(4), trade.EntryPrice.String())
	return true, nil
}
