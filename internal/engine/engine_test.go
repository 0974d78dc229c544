package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-trader/internal/broker"
	"omni-trader/internal/config"
	"omni-trader/internal/models"
	"omni-trader/internal/predict"
	"omni-trader/internal/stream"
	"omni-trader/internal/trading"
)

func fastConfig() *config.Config {
	cfg := config.Default()
	cfg.Store.Driver = "none"
	cfg.Market.Seed = 42
	cfg.Market.UniverseSize = 60
	cfg.Catalog.MinAssetCount = 1
	cfg.Catalog.Workers = 4
	cfg.Loops.CatalogInterval = 20 * time.Millisecond
	cfg.Loops.SignalInterval = 5 * time.Millisecond
	cfg.Loops.TradingInterval = 5 * time.Millisecond
	cfg.Loops.RiskInterval = 5 * time.Millisecond
	cfg.Loops.PerformanceInterval = 20 * time.Millisecond
	cfg.Loops.ReportInterval = 50 * time.Millisecond
	cfg.Loops.ErrorBackoff = 10 * time.Millisecond
	return cfg
}

func simulatedDeps(seed int64) Deps {
	simCfg := broker.DefaultSimulatedMarketConfig()
	simCfg.UniverseSize = 60
	simCfg.Seed = seed
	return Deps{
		Market:    broker.NewSimulatedMarket(simCfg),
		Orders:    broker.NewPaperBroker(seed),
		Predictor: predict.NewSimulatedPredictor(seed),
	}
}

func assertWoundDown(t *testing.T, e *Engine, s *Summary) {
	t.Helper()
	snap := e.LedgerSnapshot()
	assert.Empty(t, e.OpenTrades())
	assert.True(t, snap.Allocated.IsZero(), "allocated %s", snap.Allocated)
	assert.True(t, snap.Available.Equal(snap.Total.Add(snap.Realized)),
		"available %s != total %s + realized %s", snap.Available, snap.Total, snap.Realized)
	assert.True(t, snap.Available.GreaterThanOrEqual(decimal.Zero))
	require.NoError(t, e.book.Verify())

	closed := e.ClosedTrades()
	for _, tr := range closed {
		assert.True(t, tr.Status.IsTerminal(), "trade %s is %s", tr.ID, tr.Status)
		assert.True(t, tr.RealizedPnL.GreaterThanOrEqual(tr.ReservedMargin.Neg()))
	}
	assert.Equal(t, len(closed), s.Metrics.TotalTrades)
	assert.Equal(t, 0, s.OpenTrades)
	assert.False(t, e.Running())
}

func TestEngine_DeadlineRunWindsDown(t *testing.T) {
	e, err := New(fastConfig(), simulatedDeps(42), zerolog.Nop())
	require.NoError(t, err)

	s, err := e.Run(context.Background(), 300*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, s)

	// A volatile simulated market may trip the drawdown limit first.
	assert.Contains(t, []string{"deadline", "drawdown"}, s.HaltReason)
	assert.Equal(t, 0, s.ExitCode())
	assert.Greater(t, s.Catalog.Seq, uint64(0))
	assertWoundDown(t, e, s)

	_, err = e.Run(context.Background(), time.Millisecond)
	assert.ErrorIs(t, err, ErrAlreadyRun)
}

func TestEngine_ParentCancelIsManualStop(t *testing.T) {
	e, err := New(fastConfig(), simulatedDeps(7), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	s, err := e.Run(ctx, 0)
	require.NoError(t, err)
	if s.HaltReason != "drawdown" {
		assert.Equal(t, "manual", s.HaltReason)
	}
	assertWoundDown(t, e, s)
}

func TestEngine_StopWithoutFlattenSeals(t *testing.T) {
	cfg := fastConfig()
	cfg.Risk.FlattenOnStop = false
	e, err := New(cfg, simulatedDeps(9), zerolog.Nop())
	require.NoError(t, err)

	time.AfterFunc(50*time.Millisecond, func() { e.Stop() })
	s, err := e.Run(context.Background(), 5*time.Second)
	require.NoError(t, err)

	snap := e.LedgerSnapshot()
	assert.Equal(t, len(e.OpenTrades()), s.OpenTrades)
	assert.True(t, e.book.Sealed())
	require.NoError(t, e.book.Verify())
	assert.True(t, snap.Total.Add(snap.Realized).Equal(snap.Available.Add(snap.Allocated)))
	assert.False(t, e.Stop(), "second stop is a no-op")
}

// crashingMarket lists one instrument at 100 but prices it at 90 once
// asked, so every opened trade loses its whole margin.
type crashingMarket struct {
	checks atomic.Int64
}

func (m *crashingMarket) FetchInstruments(ctx context.Context) ([]models.Quote, error) {
	return []models.Quote{{
		Symbol:       "BTCUSDT",
		Price:        decimal.NewFromInt(100),
		DailyVolume:  decimal.NewFromInt(28_000_000),
		Volatility:   0.032,
		MaxLeverage:  100,
		MinOrderSize: decimal.RequireFromString("0.001"),
	}}, nil
}

func (m *crashingMarket) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.checks.Add(1)
	return decimal.NewFromInt(90), nil
}

type confidentPredictor struct{}

func (confidentPredictor) Predict(ctx context.Context, symbol string, price decimal.Decimal, volatility float64) (models.Prediction, error) {
	return models.Prediction{Confidence: 0.9, Direction: models.DirectionLong, ExpectedMove: 0.01, Source: "test"}, nil
}

func TestEngine_DrawdownHalts(t *testing.T) {
	hub := stream.NewHub()
	sub := hub.Subscribe(stream.TopicSystem, stream.TopicTrades)

	e, err := New(fastConfig(), Deps{
		Market:    &crashingMarket{},
		Orders:    broker.NewPaperBroker(1),
		Predictor: confidentPredictor{},
		Hub:       hub,
	}, zerolog.Nop())
	require.NoError(t, err)

	s, err := e.Run(context.Background(), 5*time.Second)
	require.NoError(t, err)

	assert.Equal(t, "drawdown", s.HaltReason)
	assert.Equal(t, 0, s.ExitCode())
	assert.Greater(t, s.Metrics.MaxDrawdownReached, 0.009)
	assert.True(t, s.Metrics.NetPnL.IsNegative())
	assert.False(t, s.Validation.Passed)
	assertWoundDown(t, e, s)

	var opened, closed int
	var halt *stream.Event
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-sub.Channel:
			if !ok {
				done = true
				break
			}
			switch ev.Type {
			case stream.EventTradeOpened:
				opened++
			case stream.EventTradeClosed:
				closed++
			case stream.EventHalt:
				ev := ev
				halt = &ev
			}
		case <-timeout:
			t.Fatal("hub did not close subscriber after run")
		}
	}
	require.NotNil(t, halt)
	assert.Equal(t, "drawdown", halt.Reason)
	assert.Equal(t, opened, closed)
	assert.Equal(t, s.Metrics.TotalTrades, closed)
}

// flatMarket lists the same instrument as crashingMarket at a price that
// never moves.
type flatMarket struct{ crashingMarket }

func (m *flatMarket) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

type rejectingOrders struct{}

func (rejectingOrders) CreateOrder(ctx context.Context, req models.OrderRequest) (string, error) {
	return "", errors.New("venue closed")
}

func TestEngine_SignalSweepPublishesWithoutTrading(t *testing.T) {
	hub := stream.NewHub()
	sub := hub.Subscribe(stream.TopicSignals)

	e, err := New(fastConfig(), Deps{
		Market:    &flatMarket{},
		Orders:    rejectingOrders{},
		Predictor: confidentPredictor{},
		Hub:       hub,
	}, zerolog.Nop())
	require.NoError(t, err)

	s, err := e.Run(context.Background(), 150*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "deadline", s.HaltReason)

	sweeps := e.Status().Sweeps
	assert.Greater(t, sweeps, uint64(1))
	sigs := e.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "BTCUSDT", sigs[0].Symbol)
	assert.Equal(t, 0.9, sigs[0].Confidence)
	assert.Equal(t, 0.01, sigs[0].PredictedMove)
	assert.Equal(t, 1, e.Status().Signals)

	// Sweeps leave the book and ledger alone.
	snap := e.LedgerSnapshot()
	assert.Equal(t, "12", snap.Available.String())
	assert.Empty(t, e.ClosedTrades())
	assertWoundDown(t, e, s)

	var published int
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev, ok := <-sub.Channel:
			if !ok {
				done = true
				break
			}
			require.Equal(t, stream.EventSignals, ev.Type)
			require.NotEmpty(t, ev.Signals)
			published++
		case <-timeout:
			t.Fatal("hub did not close subscriber after run")
		}
	}
	assert.Positive(t, published)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, sweeps, e.Status().Sweeps, "sweep loop must stop on halt")
}

func TestEngine_ServicesRunForTheWholeRun(t *testing.T) {
	e, err := New(fastConfig(), simulatedDeps(3), zerolog.Nop())
	require.NoError(t, err)

	var started, stopped atomic.Bool
	var sawClosedBook atomic.Bool
	e.AddService("watcher", func(ctx context.Context) error {
		started.Store(true)
		<-ctx.Done()
		// Services outlive the loops and the final liquidation.
		sawClosedBook.Store(len(e.OpenTrades()) == 0)
		stopped.Store(true)
		return nil
	})

	_, err = e.Run(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, started.Load())
	assert.True(t, stopped.Load())
	assert.True(t, sawClosedBook.Load())
}

func TestEngine_StatusAndAccessors(t *testing.T) {
	e, err := New(fastConfig(), simulatedDeps(5), zerolog.Nop())
	require.NoError(t, err)

	st := e.Status()
	assert.True(t, st.Running)
	assert.True(t, st.StartedAt.IsZero())
	assert.Equal(t, "12", st.Available.String())
	assert.Nil(t, e.Providers())
	assert.Nil(t, e.Hub())

	_, err = e.Run(context.Background(), 80*time.Millisecond)
	require.NoError(t, err)

	st = e.Status()
	assert.False(t, st.Running)
	assert.NotEmpty(t, st.HaltReason)
	assert.False(t, st.StartedAt.IsZero())
	assert.NotEmpty(t, st.Uptime)
	assert.Equal(t, st.Closed, len(e.ClosedTrades()))
	assert.Equal(t, e.Metrics().TotalTrades, st.Closed)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.Capital.Total = 0
	_, err := New(cfg, simulatedDeps(1), zerolog.Nop())
	assert.Error(t, err)
}

func TestBuild_FromConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.Stream.Enabled = true
	cfg.Store.Driver = "sqlite"
	cfg.Store.DSN = t.TempDir() + "/trades.db"

	e, cleanup, err := Build(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer cleanup()

	require.NotNil(t, e.Hub())
	require.NotNil(t, e.recorder)

	s, err := e.Run(context.Background(), 150*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, s.Recorder)
	assert.GreaterOrEqual(t, s.Recorder.Snapshots, uint64(1))

	names := make(map[string]bool)
	for _, p := range s.Providers {
		names[p.Name] = true
	}
	assert.True(t, names["market:simulated"])
	assert.True(t, names["orders:paper"])
	assert.True(t, names["predictor:simulated"])

	bad := fastConfig()
	bad.Predictor.Kind = "openai"
	bad.Predictor.APIKey = ""
	_, _, err = Build(context.Background(), bad, zerolog.Nop())
	assert.Error(t, err)
}

func TestHaltReasonExitCodes(t *testing.T) {
	assert.Equal(t, 2, (&Summary{reason: trading.HaltInvariant}).ExitCode())
	assert.Equal(t, 0, (&Summary{reason: trading.HaltDrawdown}).ExitCode())
}
