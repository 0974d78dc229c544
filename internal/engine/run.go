package engine

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sourcegraph/conc"

	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/logging"
	"omni-trader/internal/models"
	"omni-trader/internal/performance"
	"omni-trader/internal/trading"
)

// ErrAlreadyRun is returned when Run is called more than once.
var ErrAlreadyRun = errors.New("engine already run")

const liquidateTimeout = 30 * time.Second

// Run starts every loop and blocks until the engine halts: parent is
// cancelled (manual), duration elapses (deadline), drawdown exceeds its
// limit, or an invariant check fails. A zero duration runs until one of
// the other conditions. The returned error is non-nil only for invariant
// violations and setup failures.
func (e *Engine) Run(parent context.Context, duration time.Duration) (*Summary, error) {
	if !e.started.CompareAndSwap(false, true) {
		return nil, ErrAlreadyRun
	}
	started := e.now()
	e.startedAt.Store(&started)
	e.logger.Info().
		Str("capital", e.policy.TotalCapital.String()).
		Dur("duration", duration).
		Msg("Engine starting")

	stopParent := context.AfterFunc(parent, func() { e.halter.Halt(trading.HaltManual, nil) })
	defer stopParent()
	if duration > 0 {
		deadline := time.AfterFunc(duration, func() { e.halter.Halt(trading.HaltDeadline, nil) })
		defer deadline.Stop()
	}

	svcCtx, cancelServices := context.WithCancel(context.Background())
	defer cancelServices()
	var services conc.WaitGroup
	e.startServices(svcCtx, &services)

	scheduler, err := e.startScheduler()
	if err != nil {
		e.halter.Halt(trading.HaltManual, err)
		cancelServices()
		services.Wait()
		return nil, apperrors.Wrap(err, "failed to start scheduler")
	}

	ctx := e.haltCtx
	loops := conc.WaitGroup{}
	loops.Go(func() {
		e.loop(ctx, "catalog", e.cfg.Loops.CatalogInterval, e.cfg.Loops.ErrorBackoff, e.catalogCycle)
	})
	loops.Go(func() {
		e.loop(ctx, "signal", e.cfg.Loops.SignalInterval, e.cfg.Loops.SignalInterval, e.signalCycle)
	})
	loops.Go(func() {
		e.loop(ctx, "trading", e.cfg.Loops.TradingInterval, e.cfg.Loops.TradingInterval, e.tradingCycle)
	})
	loops.Go(func() {
		e.loop(ctx, "risk", e.cfg.Loops.RiskInterval, e.cfg.Loops.RiskInterval, e.riskCycle)
	})
	loops.Go(func() {
		e.loop(ctx, "report", e.cfg.Loops.ReportInterval, e.cfg.Loops.ReportInterval, e.reportCycle)
	})

	<-ctx.Done()
	loops.Wait()
	if err := scheduler.Shutdown(); err != nil {
		e.logger.Warn().Err(err).Msg("Scheduler shutdown failed")
	}

	reason, haltErr := e.halter.Reason()
	logging.LogHalt(e.logger, string(reason), haltErr)
	e.wind(reason)

	final := e.tracker.Refresh(e.now())
	if e.hub != nil {
		e.hub.PublishMetrics(final)
		e.hub.PublishHalt(string(reason), haltErr)
	}

	cancelServices()
	services.Wait()

	summary := e.summarize(final, reason, haltErr)
	e.logger.Info().
		Str("reason", string(reason)).
		Int("trades", summary.Metrics.TotalTrades).
		Str("net_pnl", summary.Metrics.NetPnL.String()).
		Bool("validated", summary.Validation.Passed).
		Msg("Engine stopped")

	if reason == trading.HaltInvariant {
		return summary, haltErr
	}
	return summary, nil
}

// wind closes or freezes whatever is still open once the loops are gone.
// After an invariant failure the state is left untouched for inspection.
func (e *Engine) wind(reason trading.HaltReason) {
	if reason == trading.HaltInvariant || !e.cfg.Risk.FlattenOnStop {
		e.book.Seal()
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), liquidateTimeout)
	defer cancel()
	cancelled, err := e.risk.Liquidate(ctx)
	if err != nil {
		e.logger.Error().Err(err).Msg("Liquidation failed")
		e.book.Seal()
		return
	}
	if len(cancelled) > 0 {
		e.logger.Info().Int("trades", len(cancelled)).Msg("Open trades cancelled")
	}
	if err := e.book.Verify(); err != nil {
		e.logger.Error().Err(err).Msg("State inconsistent after liquidation")
	}
}

func (e *Engine) startServices(ctx context.Context, wg *conc.WaitGroup) {
	if e.hub != nil {
		e.hub.Start(ctx)
	}
	if e.recorder != nil {
		wg.Go(func() {
			if err := e.recorder.Run(ctx); err != nil {
				e.logger.Error().Err(err).Msg("Recorder stopped")
			}
		})
	}

	e.servicesM.Lock()
	services := append([]service(nil), e.services...)
	e.servicesM.Unlock()
	for _, svc := range services {
		svc := svc
		wg.Go(func() {
			e.logger.Info().Str("service", svc.name).Msg("Service starting")
			if err := svc.run(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error().Err(err).Str("service", svc.name).Msg("Service failed")
			}
		})
	}
}

// startScheduler runs the performance refresh as a singleton duration job.
func (e *Engine) startScheduler() (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	_, err = s.NewJob(
		gocron.DurationJob(e.cfg.Loops.PerformanceInterval),
		gocron.NewTask(e.performanceCycle),
		gocron.WithName("performance"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, err
	}
	s.Start()
	return s, nil
}

// loop runs cycle immediately and then every interval until ctx is done.
// A failing cycle waits for backoff instead of interval. Invariant
// violations halt the engine.
func (e *Engine) loop(ctx context.Context, name string, interval, backoff time.Duration, cycle func(context.Context) error) {
	logger := e.logger.With().Str("loop", name).Logger()
	logger.Debug().Dur("interval", interval).Msg("Loop started")
	defer logger.Debug().Msg("Loop stopped")

	var wait time.Duration
	for {
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if !e.halter.Running() {
			return
		}

		wait = interval
		err := cycle(ctx)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}
		if apperrors.IsInvariant(err) {
			e.halter.Halt(trading.HaltInvariant, err)
			return
		}
		logger.Warn().Err(err).Dur("retry_in", backoff).Msg("Cycle failed")
		wait = backoff
	}
}

func (e *Engine) catalogCycle(ctx context.Context) error {
	_, err := e.catalog.Refresh(ctx)
	return err
}

// signalCycle evaluates the top of the catalog against the current
// availability and publishes the admissible signals. It changes no state
// outside the engine's own signal snapshot.
func (e *Engine) signalCycle(ctx context.Context) error {
	insts := e.catalog.Top(e.cfg.Loops.SignalTopN)
	available := e.ledger.Available()

	admissible := make([]models.Signal, 0, len(insts))
	for _, inst := range insts {
		sig := e.evaluator.Evaluate(inst, available)
		if !sig.ShouldTrade {
			continue
		}
		admissible = append(admissible, sig)
		e.logger.Debug().
			Str("symbol", sig.Symbol).
			Str("direction", string(sig.Direction)).
			Float64("confidence", sig.Confidence).
			Int("leverage", sig.Leverage).
			Str("expected_profit", sig.ExpectedProfit.String()).
			Float64("movement", sig.Movement).
			Float64("predicted_move", sig.PredictedMove).
			Float64("risk", sig.RiskScore).
			Msg("Signal")
	}
	e.signals.Store(&admissible)
	e.sweeps.Add(1)

	if len(admissible) > 0 {
		e.logger.Info().
			Int("scanned", len(insts)).
			Int("admissible", len(admissible)).
			Str("top", admissible[0].Symbol).
			Str("available", available.String()).
			Msg("Signal sweep")
		if e.hub != nil {
			e.hub.PublishSignals(admissible)
		}
	}
	return nil
}

func (e *Engine) tradingCycle(ctx context.Context) error {
	_, err := e.executor.RunCycle(ctx)
	return err
}

func (e *Engine) riskCycle(ctx context.Context) error {
	if err := e.risk.RunCycle(ctx); err != nil {
		return err
	}
	// A drawdown halt inside the cycle leaves a sealed, consistent book.
	return e.book.Verify()
}

func (e *Engine) performanceCycle() {
	m := e.tracker.Refresh(e.now())
	if e.hub != nil {
		e.hub.PublishMetrics(m)
	}
}

func (e *Engine) reportCycle(ctx context.Context) error {
	m := e.tracker.Latest()
	snap := e.ledger.Snapshot()
	open, closed := e.book.Counts()
	rt := performance.ReadRuntimeStats()

	e.logger.Info().
		Int("open", open).
		Int("closed", closed).
		Str("available", snap.Available.String()).
		Str("allocated", snap.Allocated.String()).
		Str("realized", snap.Realized.String()).
		Float64("drawdown", snap.Drawdown).
		Float64("win_rate", m.WinRate).
		Int("trades_today", m.TradesToday).
		Str("heap", performance.FormatBytes(rt.HeapAlloc)).
		Int("goroutines", rt.Goroutines).
		Msg("Status")
	return nil
}
