// Package trading holds the trade book, the executor that opens trades and
// the risk monitor that closes them.
package trading

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/ledger"
	"omni-trader/internal/models"
)

// Observer is notified of lifecycle transitions after the book lock is
// released. Implementations must not block.
type Observer interface {
	TradeOpened(t models.Trade)
	TradeClosed(t models.Trade)
}

// Book owns the open-trade set and the closed history. Every transition
// takes the book lock first and the ledger lock second, never the reverse,
// so a trade and its allocation always change together.
type Book struct {
	mu        sync.Mutex
	ledger    *ledger.Ledger
	gate      func() bool
	open      map[string]models.Trade
	closed    []models.Trade
	sealed    bool
	observers []Observer
}

// NewBook creates a trade book over l. gate, if set, is consulted under the
// book lock before admitting a trade.
func NewBook(l *ledger.Ledger, gate func() bool) *Book {
	return &Book{
		ledger: l,
		gate:   gate,
		open:   make(map[string]models.Trade),
	}
}

// AddObserver registers o. It must be called before trading starts.
func (b *Book) AddObserver(o Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, o)
}

// Open binds the trade's pending reservation and inserts the trade as Open
// in one step. A sealed book or a closed gate returns ErrBookSealed and
// leaves the reservation pending for the caller to roll back.
func (b *Book) Open(t models.Trade) error {
	b.mu.Lock()
	if b.sealed || (b.gate != nil && !b.gate()) {
		b.mu.Unlock()
		return apperrors.ErrBookSealed
	}
	if _, dup := b.open[t.ID]; dup {
		b.mu.Unlock()
		return apperrors.NewInvariantError("duplicate-trade", t.ID, "trade already open", apperrors.ErrDuplicateAllocation)
	}
	if !t.ReservedMargin.IsPositive() {
		b.mu.Unlock()
		return apperrors.NewInvariantError("zero-margin", t.ID, "open trade without margin", nil)
	}
	if err := b.ledger.Bind(t.ID); err != nil {
		b.mu.Unlock()
		return err
	}
	t.Status = models.TradeOpen
	b.open[t.ID] = t
	observers := b.observers
	b.mu.Unlock()

	for _, o := range observers {
		o.TradeOpened(t)
	}
	return nil
}

// Close moves an open trade to status, releasing its margin plus pnl to the
// ledger. Losses are capped at the reserved margin, as with an isolated
// margin liquidation. Closing a trade that is no longer open returns
// ErrTradeNotOpen.
func (b *Book) Close(tradeID string, status models.TradeStatus, exitPrice, pnl decimal.Decimal, at time.Time) (models.Trade, error) {
	b.mu.Lock()
	closed, err := b.closeLocked(tradeID, status, exitPrice, pnl, at)
	observers := b.observers
	b.mu.Unlock()

	if err != nil {
		return models.Trade{}, err
	}
	for _, o := range observers {
		o.TradeClosed(closed)
	}
	return closed, nil
}

func (b *Book) closeLocked(tradeID string, status models.TradeStatus, exitPrice, pnl decimal.Decimal, at time.Time) (models.Trade, error) {
	if !status.IsTerminal() {
		return models.Trade{}, apperrors.NewInvariantError("non-terminal-close", tradeID, "close with status "+string(status), nil)
	}
	t, ok := b.open[tradeID]
	if !ok {
		return models.Trade{}, apperrors.Wrapf(apperrors.ErrTradeNotOpen, "trade %s", tradeID)
	}

	if floor := t.ReservedMargin.Neg(); pnl.LessThan(floor) {
		pnl = floor
	}
	if _, err := b.ledger.Release(tradeID, pnl); err != nil {
		return models.Trade{}, err
	}

	t.Status = status
	t.ExitPrice = exitPrice
	t.RealizedPnL = pnl
	t.ClosedAt = at
	delete(b.open, tradeID)
	b.closed = append(b.closed, t)
	return t, nil
}

// LiquidateAll cancels every open trade at its mark-to-market price and
// seals the book so no further trade can open. Trades without a price are
// closed flat at their entry price.
func (b *Book) LiquidateAll(prices map[string]decimal.Decimal, at time.Time) ([]models.Trade, error) {
	b.mu.Lock()
	b.sealed = true

	ids := make([]string, 0, len(b.open))
	for id := range b.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var closed []models.Trade
	var firstErr error
	for _, id := range ids {
		t := b.open[id]
		exit := t.EntryPrice
		pnl := decimal.Zero
		if p, ok := prices[t.Symbol]; ok && p.IsPositive() {
			exit = p
			pnl = t.PnLAt(p)
		}
		c, err := b.closeLocked(id, models.TradeCancelled, exit, pnl, at)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		closed = append(closed, c)
	}
	observers := b.observers
	b.mu.Unlock()

	for _, c := range closed {
		for _, o := range observers {
			o.TradeClosed(c)
		}
	}
	return closed, firstErr
}

// Seal stops the book from admitting new trades.
func (b *Book) Seal() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sealed = true
}

// Sealed reports whether the book has been sealed.
func (b *Book) Sealed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sealed
}

// OpenTrades returns the open trades ordered by open time, then ID.
func (b *Book) OpenTrades() []models.Trade {
	b.mu.Lock()
	trades := make([]models.Trade, 0, len(b.open))
	for _, t := range b.open {
		trades = append(trades, t)
	}
	b.mu.Unlock()

	sort.Slice(trades, func(i, j int) bool {
		if !trades[i].OpenedAt.Equal(trades[j].OpenedAt) {
			return trades[i].OpenedAt.Before(trades[j].OpenedAt)
		}
		return trades[i].ID < trades[j].ID
	})
	return trades
}

// Closed returns a copy of the closed history in close order.
func (b *Book) Closed() []models.Trade {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.Trade(nil), b.closed...)
}

// Counts returns the number of open and closed trades.
func (b *Book) Counts() (open, closed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.open), len(b.closed)
}

// Verify checks that open trades and bound allocations are in one-to-one
// correspondence with matching margins, and that the ledger conserves
// capital.
func (b *Book) Verify() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap := b.ledger.Snapshot()
	bound := snap.BoundIDs()
	if len(bound) != len(b.open) {
		return apperrors.NewInvariantError("bijection", "", "open trades and bound allocations differ in count", nil)
	}
	for _, id := range bound {
		t, ok := b.open[id]
		if !ok {
			return apperrors.NewInvariantError("orphan-allocation", id, "bound allocation without open trade", nil)
		}
		if !t.ReservedMargin.Equal(snap.Allocations[id]) {
			return apperrors.NewInvariantError("margin-mismatch", id, "trade margin differs from allocation", nil)
		}
	}
	for _, t := range b.closed {
		if !t.Status.IsTerminal() {
			return apperrors.NewInvariantError("closed-not-terminal", t.ID, "closed trade with status "+string(t.Status), nil)
		}
	}
	return b.ledger.Verify()
}
