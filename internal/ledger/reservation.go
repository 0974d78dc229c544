package ledger

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Reservation is a handle on capital committed to a trade that is not yet
// open. Callers must either bind it (through the trade book) or roll it
// back; deferring Rollback right after a successful reserve guarantees the
// margin is returned on every early exit, including cancellation.
type Reservation struct {
	TradeID string
	Amount  decimal.Decimal

	ledger *Ledger
	once   sync.Once
	rolled bool
}

// Rollback returns the margin if the reservation is still pending. It is
// safe to call any number of times and after the reservation was bound.
func (r *Reservation) Rollback() bool {
	if r == nil || r.ledger == nil {
		return false
	}
	r.once.Do(func() {
		r.rolled = r.ledger.Rollback(r.TradeID)
	})
	return r.rolled
}
