// Package store persists the closed-trade history and periodic metrics
// snapshots.
package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"omni-trader/internal/config"
	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/models"
)

// TradeStore defines the persistence used by the recorder and the CLI.
type TradeStore interface {
	// SaveTrade inserts or updates a trade by ID.
	SaveTrade(ctx context.Context, trade models.Trade) error
	GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error)

	SaveMetrics(ctx context.Context, m models.PerformanceMetrics) error
	// LatestMetrics returns ErrDataNotFound when no snapshot exists.
	LatestMetrics(ctx context.Context) (models.PerformanceMetrics, error)

	Close() error
}

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	Symbol string
	Status models.TradeStatus
	Since  time.Time
	Limit  int
}

// Open returns the store selected by cfg.
func Open(ctx context.Context, cfg config.StoreConfig, logger zerolog.Logger) (TradeStore, error) {
	switch cfg.Driver {
	case "sqlite":
		s, err := NewSQLiteStore(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "postgres":
		s, err := OpenPostgres(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "none", "":
		return NoopStore{}, nil
	default:
		return nil, apperrors.NewValidationError("store.driver", cfg.Driver, "must be sqlite, postgres or none")
	}
}

// NoopStore discards everything. It is used when persistence is disabled.
type NoopStore struct{}

func (NoopStore) SaveTrade(context.Context, models.Trade) error { return nil }
func (NoopStore) GetTrades(context.Context, TradeFilter) ([]models.Trade, error) {
	return nil, nil
}
func (NoopStore) SaveMetrics(context.Context, models.PerformanceMetrics) error { return nil }
func (NoopStore) LatestMetrics(context.Context) (models.PerformanceMetrics, error) {
	return models.PerformanceMetrics{}, apperrors.ErrDataNotFound
}
func (NoopStore) Close() error { return nil }
