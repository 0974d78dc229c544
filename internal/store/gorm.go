package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/logging"
	"omni-trader/internal/models"
)

// TradeModel is the gorm row for a trade.
type TradeModel struct {
	ID             string          `gorm:"column:id;primaryKey"`
	OrderID        string          `gorm:"column:order_id;not null"`
	Symbol         string          `gorm:"column:symbol;not null;index"`
	Side           string          `gorm:"column:side;not null"`
	Quantity       decimal.Decimal `gorm:"column:quantity;type:decimal(36,18);not null"`
	EntryPrice     decimal.Decimal `gorm:"column:entry_price;type:decimal(36,18);not null"`
	ExitPrice      decimal.Decimal `gorm:"column:exit_price;type:decimal(36,18)"`
	Leverage       int             `gorm:"column:leverage;not null"`
	ReservedMargin decimal.Decimal `gorm:"column:reserved_margin;type:decimal(36,18);not null"`
	ExpectedProfit decimal.Decimal `gorm:"column:expected_profit;type:decimal(36,18)"`
	RealizedPnL    decimal.Decimal `gorm:"column:realized_pnl;type:decimal(36,18)"`
	Status         string          `gorm:"column:status;not null;index"`
	OpenedAt       time.Time       `gorm:"column:opened_at;not null;index"`
	ClosedAt       *time.Time      `gorm:"column:closed_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

func (TradeModel) TableName() string { return "trades" }

func toTradeModel(t models.Trade) TradeModel {
	m := TradeModel{
		ID:             t.ID,
		OrderID:        t.OrderID,
		Symbol:         t.Symbol,
		Side:           string(t.Side),
		Quantity:       t.Quantity,
		EntryPrice:     t.EntryPrice,
		ExitPrice:      t.ExitPrice,
		Leverage:       t.Leverage,
		ReservedMargin: t.ReservedMargin,
		ExpectedProfit: t.ExpectedProfit,
		RealizedPnL:    t.RealizedPnL,
		Status:         string(t.Status),
		OpenedAt:       t.OpenedAt.UTC(),
	}
	if !t.ClosedAt.IsZero() {
		closed := t.ClosedAt.UTC()
		m.ClosedAt = &closed
	}
	return m
}

func (m TradeModel) toDomain() models.Trade {
	t := models.Trade{
		ID:             m.ID,
		OrderID:        m.OrderID,
		Symbol:         m.Symbol,
		Side:           models.Side(m.Side),
		Quantity:       m.Quantity,
		EntryPrice:     m.EntryPrice,
		ExitPrice:      m.ExitPrice,
		Leverage:       m.Leverage,
		ReservedMargin: m.ReservedMargin,
		ExpectedProfit: m.ExpectedProfit,
		RealizedPnL:    m.RealizedPnL,
		Status:         models.TradeStatus(m.Status),
		OpenedAt:       m.OpenedAt,
	}
	if m.ClosedAt != nil {
		t.ClosedAt = *m.ClosedAt
	}
	return t
}

// MetricsModel is the gorm row for a metrics snapshot.
type MetricsModel struct {
	ID                  int64           `gorm:"column:id;primaryKey;autoIncrement"`
	ComputedAt          time.Time       `gorm:"column:computed_at;not null;index"`
	TotalTrades         int             `gorm:"column:total_trades"`
	Wins                int             `gorm:"column:wins"`
	Losses              int             `gorm:"column:losses"`
	Cancelled           int             `gorm:"column:cancelled"`
	WinRate             float64         `gorm:"column:win_rate"`
	TotalProfit         decimal.Decimal `gorm:"column:total_profit;type:decimal(36,18)"`
	TotalLoss           decimal.Decimal `gorm:"column:total_loss;type:decimal(36,18)"`
	NetPnL              decimal.Decimal `gorm:"column:net_pnl;type:decimal(36,18)"`
	AvgProfitPerTrade   decimal.Decimal `gorm:"column:avg_profit_per_trade;type:decimal(36,18)"`
	CurrentDrawdown     float64         `gorm:"column:current_drawdown"`
	MaxDrawdownReached  float64         `gorm:"column:max_drawdown_reached"`
	TradesToday         int             `gorm:"column:trades_today"`
	DailyTargetProgress float64         `gorm:"column:daily_target_progress"`
}

func (MetricsModel) TableName() string { return "metrics_snapshots" }

// zerologWriter adapts zerolog.Logger to the gorm logger.Writer interface.
type zerologWriter struct {
	logger zerolog.Logger
}

func (w *zerologWriter) Printf(format string, v ...interface{}) {
	w.logger.Warn().Msg(fmt.Sprintf(format, v...))
}

// GormLogger returns a gorm logger that writes slow queries and errors
// through zerolog.
func GormLogger(base zerolog.Logger) logger.Interface {
	return logger.New(
		&zerologWriter{logger: logging.WithComponent(base, "gorm")},
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormStore implements TradeStore on any gorm dialect. Postgres is the
// production target.
type GormStore struct {
	db *gorm.DB
}

// OpenPostgres connects to postgres, configures the pool and migrates the
// schema.
func OpenPostgres(ctx context.Context, dsn string, log zerolog.Logger) (*GormStore, error) {
	if dsn == "" {
		return nil, apperrors.NewValidationError("store.dsn", dsn, "postgres dsn required")
	}

	gormDB, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: GormLogger(log)})
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", apperrors.ErrDatabaseError, err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("%w: underlying db: %v", apperrors.ErrDatabaseError, err)
	}
	configurePool(sqlDB)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	const maxRetries = 3
	for i := 0; i < maxRetries; i++ {
		if err = sqlDB.PingContext(pingCtx); err == nil {
			break
		}
		if i < maxRetries-1 {
			time.Sleep(time.Duration(i+1) * 500 * time.Millisecond)
		}
	}
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: ping database: failed after %d retries: %v", apperrors.ErrDatabaseError, maxRetries, err)
	}

	return NewGormStore(ctx, gormDB)
}

func configurePool(db *sql.DB) {
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(time.Hour)
}

// NewGormStore wraps db and migrates the schema.
func NewGormStore(ctx context.Context, db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	if err := db.WithContext(ctx).AutoMigrate(&TradeModel{}, &MetricsModel{}); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", apperrors.ErrDatabaseError, err)
	}
	return &GormStore{db: db}, nil
}

// SaveTrade upserts a trade by ID.
func (s *GormStore) SaveTrade(ctx context.Context, t models.Trade) error {
	model := toTradeModel(t)
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"exit_price", "realized_pnl", "status", "closed_at", "updated_at"}),
		}).
		Create(&model).Error
	if err != nil {
		return fmt.Errorf("%w: save trade %s: %v", apperrors.ErrDatabaseError, t.ID, err)
	}
	return nil
}

// GetTrades retrieves trades, newest first.
func (s *GormStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, error) {
	query := s.db.WithContext(ctx).Model(&TradeModel{})
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if !filter.Since.IsZero() {
		query = query.Where("opened_at >= ?", filter.Since.UTC())
	}
	query = query.Order("opened_at DESC").Order("id")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var rows []TradeModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: query trades: %v", apperrors.ErrDatabaseError, err)
	}

	trades := make([]models.Trade, len(rows))
	for i, row := range rows {
		trades[i] = row.toDomain()
	}
	return trades, nil
}

// SaveMetrics appends a metrics snapshot.
func (s *GormStore) SaveMetrics(ctx context.Context, m models.PerformanceMetrics) error {
	row := MetricsModel{
		ComputedAt:          m.ComputedAt.UTC(),
		TotalTrades:         m.TotalTrades,
		Wins:                m.Wins,
		Losses:              m.Losses,
		Cancelled:           m.Cancelled,
		WinRate:             m.WinRate,
		TotalProfit:         m.TotalProfit,
		TotalLoss:           m.TotalLoss,
		NetPnL:              m.NetPnL,
		AvgProfitPerTrade:   m.AvgProfitPerTrade,
		CurrentDrawdown:     m.CurrentDrawdown,
		MaxDrawdownReached:  m.MaxDrawdownReached,
		TradesToday:         m.TradesToday,
		DailyTargetProgress: m.DailyTargetProgress,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("%w: save metrics: %v", apperrors.ErrDatabaseError, err)
	}
	return nil
}

// LatestMetrics returns the most recent metrics snapshot.
func (s *GormStore) LatestMetrics(ctx context.Context) (models.PerformanceMetrics, error) {
	var row MetricsModel
	err := s.db.WithContext(ctx).Order("computed_at DESC").Order("id DESC").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PerformanceMetrics{}, apperrors.ErrDataNotFound
	}
	if err != nil {
		return models.PerformanceMetrics{}, fmt.Errorf("%w: read metrics: %v", apperrors.ErrDatabaseError, err)
	}
	return models.PerformanceMetrics{
		TotalTrades:         row.TotalTrades,
		Wins:                row.Wins,
		Losses:              row.Losses,
		Cancelled:           row.Cancelled,
		WinRate:             row.WinRate,
		TotalProfit:         row.TotalProfit,
		TotalLoss:           row.TotalLoss,
		NetPnL:              row.NetPnL,
		AvgProfitPerTrade:   row.AvgProfitPerTrade,
		CurrentDrawdown:     row.CurrentDrawdown,
		MaxDrawdownReached:  row.MaxDrawdownReached,
		TradesToday:         row.TradesToday,
		DailyTargetProgress: row.DailyTargetProgress,
		ComputedAt:          row.ComputedAt,
	}, nil
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
