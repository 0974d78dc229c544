package broker

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/models"
	"omni-trader/internal/resilience"
	"omni-trader/pkg/utils"
)

// GuardedMarket wraps a MarketData provider with a circuit breaker. Universe
// scans are retried with backoff; single price checks are not, since the
// risk monitor simply skips the trade until its next cycle.
type GuardedMarket struct {
	name  string
	inner MarketData
	cb    *resilience.CircuitBreaker
	retry utils.RetryConfig
}

// NewGuardedMarket creates a guarded market-data provider.
func NewGuardedMarket(name string, inner MarketData, cb *resilience.CircuitBreaker, retry utils.RetryConfig) *GuardedMarket {
	if retry.Retryable == nil {
		retry.Retryable = func(err error) bool { return !errors.Is(err, resilience.ErrCircuitOpen) }
	}
	return &GuardedMarket{name: name, inner: inner, cb: cb, retry: retry}
}

// FetchInstruments implements MarketData.
func (g *GuardedMarket) FetchInstruments(ctx context.Context) ([]models.Quote, error) {
	quotes, err := utils.RetryWithResult(ctx, g.retry, func() ([]models.Quote, error) {
		return resilience.Call(ctx, g.cb, g.inner.FetchInstruments)
	})
	if err != nil {
		return nil, apperrors.NewProviderError(g.name, "fetch_instruments", "", err)
	}
	return quotes, nil
}

// FetchPrice implements MarketData.
func (g *GuardedMarket) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	price, err := resilience.Call(ctx, g.cb, func(ctx context.Context) (decimal.Decimal, error) {
		return g.inner.FetchPrice(ctx, symbol)
	})
	if err != nil {
		return decimal.Zero, apperrors.NewProviderError(g.name, "fetch_price", symbol, err)
	}
	if !price.IsPositive() {
		return decimal.Zero, apperrors.NewProviderError(g.name, "fetch_price", symbol, apperrors.ErrNoPrice)
	}
	return price, nil
}

// GuardedOrders wraps an OrderPlacer with a circuit breaker. Orders are
// never retried.
type GuardedOrders struct {
	name  string
	inner OrderPlacer
	cb    *resilience.CircuitBreaker
}

// NewGuardedOrders creates a guarded order-placement provider.
func NewGuardedOrders(name string, inner OrderPlacer, cb *resilience.CircuitBreaker) *GuardedOrders {
	return &GuardedOrders{name: name, inner: inner, cb: cb}
}

// CreateOrder implements OrderPlacer.
func (g *GuardedOrders) CreateOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	id, err := resilience.Call(ctx, g.cb, func(ctx context.Context) (string, error) {
		return g.inner.CreateOrder(ctx, req)
	})
	if err != nil {
		return "", apperrors.NewProviderError(g.name, "create_order", req.Symbol, err)
	}
	return id, nil
}
