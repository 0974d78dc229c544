// Package engine wires the trading components together and supervises the
// background loops until the system halts.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"omni-trader/internal/broker"
	"omni-trader/internal/catalog"
	"omni-trader/internal/config"
	"omni-trader/internal/ledger"
	"omni-trader/internal/logging"
	"omni-trader/internal/models"
	"omni-trader/internal/performance"
	"omni-trader/internal/predict"
	"omni-trader/internal/resilience"
	"omni-trader/internal/signal"
	"omni-trader/internal/store"
	"omni-trader/internal/stream"
	"omni-trader/internal/trading"
)

// Deps are the external providers the engine runs against.
type Deps struct {
	Market    broker.MarketData
	Orders    broker.OrderPlacer
	Predictor predict.Predictor
	// Store is optional; nil disables persistence.
	Store store.TradeStore
	// Hub is optional; nil disables the event stream.
	Hub *stream.Hub
	// Breakers is optional and only used for health reporting.
	Breakers *resilience.Registry
}

type service struct {
	name string
	run  func(ctx context.Context) error
}

// Engine owns the ledger, trade book, catalog and loops of one run.
type Engine struct {
	cfg    *config.Config
	policy config.Policy
	logger zerolog.Logger

	ledger    *ledger.Ledger
	book      *trading.Book
	catalog   *catalog.Catalog
	evaluator *signal.Evaluator
	executor  *trading.Executor
	risk      *trading.RiskMonitor
	tracker   *performance.Tracker
	halter    *trading.Halter
	haltCtx   context.Context
	breakers  *resilience.Registry
	hub       *stream.Hub
	recorder  *store.Recorder
	servicesM sync.Mutex
	services  []service

	started   atomic.Bool
	startedAt atomic.Pointer[time.Time]
	now       func() time.Time

	sweeps  atomic.Uint64
	signals atomic.Pointer[[]models.Signal]
}

// New builds an engine from cfg and deps. The configuration must be valid.
func New(cfg *config.Config, deps Deps, logger zerolog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	policy := cfg.Policy()
	l := ledger.New(policy.TotalCapital)
	halter, haltCtx := trading.NewHalter(context.Background())
	book := trading.NewBook(l, halter.Running)

	// Minimum order sizes above the per-trade capital could never fill.
	maxMinOrder := decimal.Min(decimal.NewFromFloat(cfg.Catalog.MaxMinOrder), policy.MaxTradeCapital)
	cat := catalog.New(deps.Market, deps.Predictor, catalog.Config{
		Filter: catalog.Filter{
			MinConfidence: cfg.Catalog.MinConfidence,
			MinVolume:     decimal.NewFromFloat(cfg.Catalog.MinVolume),
			MinVolatility: cfg.Catalog.MinVolatility,
			MinLeverage:   cfg.Leverage.Min,
			MaxMinOrder:   maxMinOrder,
		},
		Workers:        cfg.Catalog.Workers,
		PredictTimeout: cfg.Catalog.PredictTimeout,
		MinAssetCount:  cfg.Catalog.MinAssetCount,
	}, logger)

	e := &Engine{
		cfg:      cfg,
		policy:   policy,
		logger:   logging.WithComponent(logger, "engine"),
		ledger:   l,
		book:     book,
		catalog:  cat,
		halter:   halter,
		haltCtx:  haltCtx,
		breakers: deps.Breakers,
		hub:      deps.Hub,
		now:      time.Now,
	}
	e.evaluator = signal.NewEvaluator(policy)
	e.executor = trading.NewExecutor(trading.ExecutorConfig{
		Candidates: cat,
		Evaluator:  e.evaluator,
		Ledger:     l,
		Book:       book,
		Orders:     deps.Orders,
		Halter:     halter,
		Policy:     policy,
		TopN:       10,
		Logger:     logger,
	})
	e.risk = trading.NewRiskMonitor(l, book, deps.Market, halter, policy, logger)
	e.tracker = performance.NewTracker(book, policy.TotalCapital, cfg.Targets.DailyTrades, logger)

	if deps.Store != nil {
		e.recorder = store.NewRecorder(deps.Store, e.tracker, cfg.Loops.SnapshotSchedule, cfg.Stream.BufferSize, logger)
		book.AddObserver(e.recorder)
	}
	if deps.Hub != nil {
		book.AddObserver(deps.Hub)
	}
	return e, nil
}

// AddService registers a long-running side service such as an HTTP
// server. Services start with Run and are stopped after the final
// liquidation and metrics refresh.
func (e *Engine) AddService(name string, run func(ctx context.Context) error) {
	e.servicesM.Lock()
	defer e.servicesM.Unlock()
	e.services = append(e.services, service{name: name, run: run})
}

// Stop requests a manual halt. It reports whether this call stopped the
// engine.
func (e *Engine) Stop() bool {
	return e.halter.Halt(trading.HaltManual, nil)
}

// Running reports whether the engine has not halted.
func (e *Engine) Running() bool {
	return e.halter.Running()
}

// Status is a point-in-time view of the engine.
type Status struct {
	Running    bool            `json:"running"`
	HaltReason string          `json:"halt_reason,omitempty"`
	HaltError  string          `json:"halt_error,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	Uptime     string          `json:"uptime"`
	Open       int             `json:"open_trades"`
	Closed     int             `json:"closed_trades"`
	Total      decimal.Decimal `json:"total_capital"`
	Available  decimal.Decimal `json:"available"`
	Realized   decimal.Decimal `json:"realized_pnl"`
	Drawdown   float64         `json:"drawdown"`
	Sweeps     uint64          `json:"signal_sweeps"`
	Signals    int             `json:"admissible_signals"`
	Catalog    CatalogStatus   `json:"catalog"`
}

// CatalogStatus summarizes the published catalog.
type CatalogStatus struct {
	Instruments int       `json:"instruments"`
	Scanned     int       `json:"scanned"`
	Failed      int       `json:"failed"`
	Seq         uint64    `json:"seq"`
	RefreshedAt time.Time `json:"refreshed_at"`
}

// Status returns the current engine status.
func (e *Engine) Status() Status {
	snap := e.ledger.Snapshot()
	open, closed := e.book.Counts()
	cat := e.catalog.Snapshot()
	reason, haltErr := e.halter.Reason()

	s := Status{
		Running:    e.halter.Running(),
		HaltReason: string(reason),
		Open:       open,
		Closed:     closed,
		Total:      snap.Total,
		Available:  snap.Available,
		Realized:   snap.Realized,
		Drawdown:   snap.Drawdown,
		Sweeps:     e.sweeps.Load(),
		Signals:    len(e.Signals()),
		Catalog: CatalogStatus{
			Instruments: len(cat.Instruments),
			Scanned:     cat.Scanned,
			Failed:      cat.Failed,
			Seq:         cat.Seq,
			RefreshedAt: cat.RefreshedAt,
		},
	}
	if haltErr != nil {
		s.HaltError = haltErr.Error()
	}
	if started := e.startedAt.Load(); started != nil {
		s.StartedAt = *started
		end := e.now()
		if at := e.halter.HaltedAt(); !at.IsZero() {
			end = at
		}
		s.Uptime = end.Sub(*started).Round(time.Second).String()
	}
	return s
}

// Signals returns the admissible signals found by the latest sweep.
func (e *Engine) Signals() []models.Signal {
	if p := e.signals.Load(); p != nil {
		return *p
	}
	return nil
}

// Metrics returns the latest published performance metrics.
func (e *Engine) Metrics() models.PerformanceMetrics {
	return e.tracker.Latest()
}

// OpenTrades returns the open trades.
func (e *Engine) OpenTrades() []models.Trade {
	return e.book.OpenTrades()
}

// ClosedTrades returns the closed history in close order.
func (e *Engine) ClosedTrades() []models.Trade {
	return e.book.Closed()
}

// LedgerSnapshot returns a consistent copy of the ledger.
func (e *Engine) LedgerSnapshot() ledger.Snapshot {
	return e.ledger.Snapshot()
}

// Providers returns circuit breaker stats for every external provider.
func (e *Engine) Providers() []resilience.CircuitBreakerStats {
	if e.breakers == nil {
		return nil
	}
	return e.breakers.AllStats()
}

// Catalog returns the published instrument snapshot.
func (e *Engine) Catalog() *catalog.Snapshot {
	return e.catalog.Snapshot()
}
