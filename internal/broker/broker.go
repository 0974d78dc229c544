// Package broker provides the market-data and order-placement providers.
package broker

import (
	"context"

	"github.com/shopspring/decimal"

	"omni-trader/internal/models"
)

// MarketData is the market-data provider consumed by the catalog and the
// risk monitor.
type MarketData interface {
	// FetchInstruments returns raw quotes for the scanned universe.
	FetchInstruments(ctx context.Context) ([]models.Quote, error)
	// FetchPrice returns the current price of symbol.
	FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// OrderPlacer is the order-placement provider consumed by the executor.
type OrderPlacer interface {
	CreateOrder(ctx context.Context, req models.OrderRequest) (string, error)
}
