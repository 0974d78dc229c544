package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/models"
)

// SQLiteStore implements TradeStore using SQLite. Decimals are stored as
// text so no precision is lost.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite-based trade store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity TEXT NOT NULL,
		entry_price TEXT NOT NULL,
		exit_price TEXT NOT NULL DEFAULT '0',
		leverage INTEGER NOT NULL,
		reserved_margin TEXT NOT NULL,
		expected_profit TEXT NOT NULL DEFAULT '0',
		realized_pnl TEXT NOT NULL DEFAULT '0',
		status TEXT NOT NULL,
		opened_at DATETIME NOT NULL,
		closed_at DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
	CREATE INDEX IF NOT EXISTS idx_trades_opened_at ON trades(opened_at);

	CREATE TABLE IF NOT EXISTS metrics_snapshots (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		computed_at DATETIME NOT NULL,
		total_trades INTEGER NOT NULL,
		wins INTEGER NOT NULL,
		losses INTEGER NOT NULL,
		cancelled INTEGER NOT NULL,
		win_rate REAL NOT NULL,
		total_profit TEXT NOT NULL,
		total_loss TEXT NOT NULL,
		net_pnl TEXT NOT NULL,
		avg_profit_per_trade TEXT NOT NULL,
		current_drawdown REAL NOT NULL,
		max_drawdown_reached REAL NOT NULL,
		trades_today INTEGER NOT NULL,
		daily_target_progress REAL NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_metrics_computed_at ON metrics_snapshots(computed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveTrade inserts a trade or updates it in place once it closes.
func (s *SQLiteStore) SaveTrade(ctx context.Context, t models.Trade) error {
	var closedAt sql.NullTime
	if !t.ClosedAt.IsZero() {
		closedAt = sql.NullTime{Time: t.ClosedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO trades (id, order_id, symbol, side, quantity, entry_price, exit_price, leverage, reserved_margin, expected_profit, realized_pnl, status, opened_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			exit_price = excluded.exit_price,
			realized_pnl = excluded.realized_pnl,
			status = excluded.status,
			closed_at = excluded.closed_at,
			updated_at = CURRENT_TIMESTAMP
	`, t.ID, t.OrderID, t.Symbol, string(t.Side), t.Quantity.String(), t.EntryPrice.String(), t.ExitPrice.String(),
		t.Leverage, t.ReservedMargin.String(), t.ExpectedProfit.String(), t.RealizedPnL.String(), string(t.Status),
		t.OpenedAt.UTC(), closedAt)
	if err != nil {
		return fmt.Errorf("%w: failed to save trade %s: %v", apperrors.ErrDatabaseError, t.ID, err)
	}
	return nil
}

// GetTrades retrieves trades, newest first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := "SELECT id, order_id, symbol, side, quantity, entry_price, exit_price, leverage, reserved_margin, expected_profit, realized_pnl, status, opened_at, closed_at FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query += " AND opened_at >= ?"
		args = append(args, filter.Since.UTC())
	}

	query += " ORDER BY opened_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query trades: %v", apperrors.ErrDatabaseError, err)
	}
	defer rows.Close()

	var trades []models.Trade
	for rows.Next() {
		var t models.Trade
		var side, status string
		var closedAt sql.NullTime

		if err := rows.Scan(&t.ID, &t.OrderID, &t.Symbol, &side, &t.Quantity, &t.EntryPrice, &t.ExitPrice,
			&t.Leverage, &t.ReservedMargin, &t.ExpectedProfit, &t.RealizedPnL, &status, &t.OpenedAt, &closedAt); err != nil {
			return nil, fmt.Errorf("%w: failed to scan trade: %v", apperrors.ErrDatabaseError, err)
		}
		t.Side = models.Side(side)
		t.Status = models.TradeStatus(status)
		if closedAt.Valid {
			t.ClosedAt = closedAt.Time
		}
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// SaveMetrics appends a metrics snapshot.
func (s *SQLiteStore) SaveMetrics(ctx context.Context, m models.PerformanceMetrics) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metrics_snapshots (computed_at, total_trades, wins, losses, cancelled, win_rate, total_profit, total_loss, net_pnl, avg_profit_per_trade, current_drawdown, max_drawdown_reached, trades_today, daily_target_progress)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, m.ComputedAt.UTC(), m.TotalTrades, m.Wins, m.Losses, m.Cancelled, m.WinRate,
		m.TotalProfit.String(), m.TotalLoss.String(), m.NetPnL.String(), m.AvgProfitPerTrade.String(),
		m.CurrentDrawdown, m.MaxDrawdownReached, m.TradesToday, m.DailyTargetProgress)
	if err != nil {
		return fmt.Errorf("%w: failed to save metrics: %v", apperrors.ErrDatabaseError, err)
	}
	return nil
}

// LatestMetrics returns the most recent metrics snapshot.
func (s *SQLiteStore) LatestMetrics(ctx context.Context) (models.PerformanceMetrics, error) {
	var m models.PerformanceMetrics
	err := s.db.QueryRowContext(ctx, `
		SELECT computed_at, total_trades, wins, losses, cancelled, win_rate, total_profit, total_loss, net_pnl, avg_profit_per_trade, current_drawdown, max_drawdown_reached, trades_today, daily_target_progress
		FROM metrics_snapshots ORDER BY computed_at DESC, id DESC LIMIT 1
	`).Scan(&m.ComputedAt, &m.TotalTrades, &m.Wins, &m.Losses, &m.Cancelled, &m.WinRate,
		&m.TotalProfit, &m.TotalLoss, &m.NetPnL, &m.AvgProfitPerTrade,
		&m.CurrentDrawdown, &m.MaxDrawdownReached, &m.TradesToday, &m.DailyTargetProgress)
	if errors.Is(err, sql.ErrNoRows) {
		return m, apperrors.ErrDataNotFound
	}
	if err != nil {
		return m, fmt.Errorf("%w: failed to read metrics: %v", apperrors.ErrDatabaseError, err)
	}
	return m, nil
}
