// Package ledger provides the shared capital ledger. It is the only place
// where available capital and per-trade allocations are mutated.
package ledger

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "omni-trader/internal/errors"
)

type allocation struct {
	margin     decimal.Decimal
	bound      bool
	reservedAt time.Time
}

// Ledger holds available capital and allocations behind a single mutex.
// Every exported method is one critical section with no blocking calls
// inside it, so concurrent callers observe a total order of mutations.
type Ledger struct {
	mu        sync.Mutex
	total     decimal.Decimal
	available decimal.Decimal
	realized  decimal.Decimal
	allocated map[string]*allocation
	released  map[string]struct{}

	reservations int64
	rejections   int64
	releases     int64
	rollbacks    int64
}

// New creates a ledger funded with total capital.
func New(total decimal.Decimal) *Ledger {
	return &Ledger{
		total:     total,
		available: total,
		realized:  decimal.Zero,
		allocated: make(map[string]*allocation),
		released:  make(map[string]struct{}),
	}
}

// Reserve commits amount to tradeID if at least that much is available.
// The returned reservation is pending until bound to an open trade.
func (l *Ledger) Reserve(tradeID string, amount decimal.Decimal) (*Reservation, error) {
	if !amount.IsPositive() {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidAmount, "reserve %s", amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkNewIDLocked(tradeID); err != nil {
		return nil, err
	}
	if l.available.LessThan(amount) {
		l.rejections++
		return nil, fmt.Errorf("%w: need %s, have %s", apperrors.ErrInsufficientCapital, amount.StringFixed(2), l.available.StringFixed(2))
	}
	return l.reserveLocked(tradeID, amount), nil
}

// ReserveUpTo commits min(available, limit) to tradeID, failing when that
// amount would fall below floor.
func (l *Ledger) ReserveUpTo(tradeID string, floor, limit decimal.Decimal) (*Reservation, error) {
	if !limit.IsPositive() || floor.IsNegative() || floor.GreaterThan(limit) {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidAmount, "reserve floor %s limit %s", floor, limit)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkNewIDLocked(tradeID); err != nil {
		return nil, err
	}
	amount := decimal.Min(l.available, limit)
	if !amount.IsPositive() || amount.LessThan(floor) {
		l.rejections++
		return nil, fmt.Errorf("%w: need %s, have %s", apperrors.ErrInsufficientCapital, floor.StringFixed(2), l.available.StringFixed(2))
	}
	return l.reserveLocked(tradeID, amount), nil
}

func (l *Ledger) checkNewIDLocked(tradeID string) error {
	if tradeID == "" {
		return apperrors.NewValidationError("trade_id", tradeID, "must not be empty")
	}
	if _, ok := l.allocated[tradeID]; ok {
		return apperrors.Wrapf(apperrors.ErrDuplicateAllocation, "trade %s", tradeID)
	}
	if _, ok := l.released[tradeID]; ok {
		return apperrors.Wrapf(apperrors.ErrDuplicateAllocation, "trade %s already settled", tradeID)
	}
	return nil
}

func (l *Ledger) reserveLocked(tradeID string, amount decimal.Decimal) *Reservation {
	l.available = l.available.Sub(amount)
	l.allocated[tradeID] = &allocation{margin: amount, reservedAt: time.Now()}
	l.reservations++
	return &Reservation{TradeID: tradeID, Amount: amount, ledger: l}
}

// Bind marks a pending reservation as backing an open trade. Only bound
// allocations can be released with profit or loss.
func (l *Ledger) Bind(tradeID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.allocated[tradeID]
	if !ok {
		return apperrors.NewInvariantError("bind-unknown", tradeID, "no pending reservation", apperrors.ErrUnknownAllocation)
	}
	if a.bound {
		return apperrors.NewInvariantError("bind-twice", tradeID, "allocation already bound", apperrors.ErrDuplicateAllocation)
	}
	a.bound = true
	return nil
}

// Rollback returns a pending reservation's margin untouched. Rolling back a
// bound or already settled allocation is a no-op and reports false.
func (l *Ledger) Rollback(tradeID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.allocated[tradeID]
	if !ok || a.bound {
		return false
	}
	l.available = l.available.Add(a.margin)
	delete(l.allocated, tradeID)
	l.rollbacks++
	return true
}

// Release settles a bound allocation: the margin plus pnl is credited back
// to available capital and pnl is added to realized profit. Releasing an
// unknown, pending or already released allocation is an invariant violation.
func (l *Ledger) Release(tradeID string, pnl decimal.Decimal) (decimal.Decimal, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, done := l.released[tradeID]; done {
		return decimal.Zero, apperrors.NewInvariantError("double-release", tradeID, "allocation already released", apperrors.ErrUnknownAllocation)
	}
	a, ok := l.allocated[tradeID]
	if !ok {
		return decimal.Zero, apperrors.NewInvariantError("release-unknown", tradeID, "no allocation recorded", apperrors.ErrUnknownAllocation)
	}
	if !a.bound {
		return decimal.Zero, apperrors.NewInvariantError("release-pending", tradeID, "allocation never bound to a trade", apperrors.ErrAllocationPending)
	}

	returned := a.margin.Add(pnl)
	next := l.available.Add(returned)
	if next.IsNegative() {
		return decimal.Zero, apperrors.NewInvariantError("negative-available", tradeID,
			fmt.Sprintf("release of %s would leave available at %s", returned.StringFixed(4), next.StringFixed(4)), nil)
	}

	l.available = next
	l.realized = l.realized.Add(pnl)
	delete(l.allocated, tradeID)
	l.released[tradeID] = struct{}{}
	l.releases++
	return returned, nil
}

// Available returns the currently uncommitted capital.
func (l *Ledger) Available() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available
}

// Total returns the initial capital the ledger was funded with.
func (l *Ledger) Total() decimal.Decimal {
	return l.total
}

// Equity returns available plus allocated capital, which equals total
// capital plus realized profit and loss.
func (l *Ledger) Equity() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.available.Add(l.allocatedSumLocked())
}

// Drawdown returns the fractional shortfall of equity below total capital.
func (l *Ledger) Drawdown() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return drawdown(l.total, l.available.Add(l.allocatedSumLocked()))
}

func drawdown(total, equity decimal.Decimal) float64 {
	if !total.IsPositive() || !equity.LessThan(total) {
		return 0
	}
	return total.Sub(equity).Div(total).InexactFloat64()
}

// Verify re-checks the conservation invariants.
func (l *Ledger) Verify() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.verifyLocked()
}

func (l *Ledger) verifyLocked() error {
	if l.available.IsNegative() {
		return apperrors.NewInvariantError("negative-available", "", "available capital is "+l.available.String(), nil)
	}
	lhs := l.available.Add(l.allocatedSumLocked())
	rhs := l.total.Add(l.realized)
	if !lhs.Equal(rhs) {
		return apperrors.NewInvariantError("conservation", "",
			fmt.Sprintf("available+allocated=%s, total+realized=%s", lhs, rhs), nil)
	}
	return nil
}

func (l *Ledger) allocatedSumLocked() decimal.Decimal {
	sum := decimal.Zero
	for _, a := range l.allocated {
		sum = sum.Add(a.margin)
	}
	return sum
}

// Snapshot is a consistent copy of the ledger state.
type Snapshot struct {
	Total        decimal.Decimal            `json:"total"`
	Available    decimal.Decimal            `json:"available"`
	Allocated    decimal.Decimal            `json:"allocated"`
	Pending      decimal.Decimal            `json:"pending"`
	Realized     decimal.Decimal            `json:"realized"`
	Drawdown     float64                    `json:"drawdown"`
	Allocations  map[string]decimal.Decimal `json:"allocations"`
	PendingIDs   []string                   `json:"pending_ids"`
	Reservations int64                      `json:"reservations"`
	Rejections   int64                      `json:"rejections"`
	Releases     int64                      `json:"releases"`
	Rollbacks    int64                      `json:"rollbacks"`
}

// BoundIDs returns the trade IDs whose allocations back open trades, sorted.
func (s Snapshot) BoundIDs() []string {
	pending := make(map[string]struct{}, len(s.PendingIDs))
	for _, id := range s.PendingIDs {
		pending[id] = struct{}{}
	}
	ids := make([]string, 0, len(s.Allocations))
	for id := range s.Allocations {
		if _, ok := pending[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a consistent copy of the ledger.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := Snapshot{
		Total:        l.total,
		Available:    l.available,
		Allocated:    decimal.Zero,
		Pending:      decimal.Zero,
		Realized:     l.realized,
		Allocations:  make(map[string]decimal.Decimal, len(l.allocated)),
		Reservations: l.reservations,
		Rejections:   l.rejections,
		Releases:     l.releases,
		Rollbacks:    l.rollbacks,
	}
	for id, a := range l.allocated {
		s.Allocations[id] = a.margin
		s.Allocated = s.Allocated.Add(a.margin)
		if !a.bound {
			s.Pending = s.Pending.Add(a.margin)
			s.PendingIDs = append(s.PendingIDs, id)
		}
	}
	sort.Strings(s.PendingIDs)
	s.Drawdown = drawdown(l.total, l.available.Add(s.Allocated))
	return s
}
