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

// PaperOrder records an order accepted by the paper broker.
type PaperOrder struct {
	OrderID   string
	Request   models.OrderRequest
	Notional  decimal.Decimal
	CreatedAt time.Time
}

// PaperBroker simulates order placement against a demo venue. Orders are
// accepted immediately and never touch a real exchange.
type PaperBroker struct {
	mu     sync.Mutex
	rng    *rand.Rand
	orders []PaperOrder
	now    func() time.Time
}

// NewPaperBroker creates a paper broker. A zero seed uses the clock.
func NewPaperBroker(seed int64) *PaperBroker {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &PaperBroker{
		rng: rand.New(rand.NewSource(seed)),
		now: time.Now,
	}
}

// CreateOrder validates req and returns a demo order ID of the form
// DEMO-<symbol>-<unix ms>-<4 digits>.
func (p *PaperBroker) CreateOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.Symbol == "" {
		return "", apperrors.Wrap(apperrors.ErrOrderRejected, "empty symbol")
	}
	if !req.Quantity.IsPositive() {
		return "", apperrors.Wrapf(apperrors.ErrOrderRejected, "quantity %s", req.Quantity)
	}
	if req.Leverage < 1 {
		return "", apperrors.Wrapf(apperrors.ErrOrderRejected, "leverage %d", req.Leverage)
	}
	if req.Side != models.SideBuy && req.Side != models.SideSell {
		return "", apperrors.Wrapf(apperrors.ErrOrderRejected, "side %q", req.Side)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	orderID := fmt.Sprintf("DEMO-%s-%d-%04d", req.Symbol, now.UnixMilli(), 1000+p.rng.Intn(9000))
	p.orders = append(p.orders, PaperOrder{
		OrderID:   orderID,
		Request:   req,
		Notional:  req.Quantity.Mul(req.Price),
		CreatedAt: now,
	})
	return orderID, nil
}

// Orders returns a copy of every accepted order.
func (p *PaperBroker) Orders() []PaperOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]PaperOrder(nil), p.orders...)
}
