package store

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"omni-trader/internal/logging"
	"omni-trader/internal/models"
)

// MetricsSource supplies the latest published metrics.
type MetricsSource interface {
	Latest() models.PerformanceMetrics
}

// RecorderStats counts recorder activity.
type RecorderStats struct {
	Saved     uint64 `json:"saved"`
	Dropped   uint64 `json:"dropped"`
	Failed    uint64 `json:"failed"`
	Snapshots uint64 `json:"snapshots"`
}

// Recorder mirrors trade lifecycle events into a TradeStore and snapshots
// metrics on a cron schedule. Lifecycle callbacks only enqueue; a single
// writer goroutine started by Run does the I/O.
type Recorder struct {
	store    TradeStore
	metrics  MetricsSource
	schedule string
	queue    chan models.Trade
	logger   zerolog.Logger

	saved     atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
	snapshots atomic.Uint64
}

// NewRecorder creates a recorder. schedule is a robfig/cron spec such as
// "@every 1m"; an empty schedule disables periodic snapshots.
func NewRecorder(store TradeStore, metrics MetricsSource, schedule string, buffer int, logger zerolog.Logger) *Recorder {
	if buffer <= 0 {
		buffer = 256
	}
	return &Recorder{
		store:    store,
		metrics:  metrics,
		schedule: schedule,
		queue:    make(chan models.Trade, buffer),
		logger:   logging.WithComponent(logger, "recorder"),
	}
}

// TradeOpened implements trading.Observer.
func (r *Recorder) TradeOpened(t models.Trade) { r.enqueue(t) }

// TradeClosed implements trading.Observer.
func (r *Recorder) TradeClosed(t models.Trade) { r.enqueue(t) }

func (r *Recorder) enqueue(t models.Trade) {
	select {
	case r.queue <- t:
	default:
		r.dropped.Add(1)
		r.logger.Warn().Str("trade_id", t.ID).Str("status", string(t.Status)).Msg("Recorder queue full, dropping event")
	}
}

// Run writes queued trades until ctx is cancelled, then drains the queue
// and writes a final metrics snapshot.
func (r *Recorder) Run(ctx context.Context) error {
	var c *cron.Cron
	if r.schedule != "" && r.metrics != nil {
		c = cron.New()
		if _, err := c.AddFunc(r.schedule, func() { r.Snapshot(ctx) }); err != nil {
			return err
		}
		c.Start()
		r.logger.Info().Str("schedule", r.schedule).Msg("Metrics snapshots scheduled")
	}

	for {
		select {
		case t := <-r.queue:
			r.save(ctx, t)
		case <-ctx.Done():
			if c != nil {
				<-c.Stop().Done()
			}
			return r.flush()
		}
	}
}

func (r *Recorder) flush() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for {
		select {
		case t := <-r.queue:
			r.save(ctx, t)
		default:
			if r.metrics != nil {
				r.Snapshot(ctx)
			}
			return nil
		}
	}
}

func (r *Recorder) save(ctx context.Context, t models.Trade) {
	if err := r.store.SaveTrade(ctx, t); err != nil {
		r.failed.Add(1)
		r.logger.Error().Err(err).Str("trade_id", t.ID).Msg("Failed to persist trade")
		return
	}
	r.saved.Add(1)
}

// Snapshot persists the latest metrics.
func (r *Recorder) Snapshot(ctx context.Context) {
	m := r.metrics.Latest()
	if m.ComputedAt.IsZero() {
		return
	}
	if err := r.store.SaveMetrics(ctx, m); err != nil {
		r.failed.Add(1)
		r.logger.Error().Err(err).Msg("Failed to persist metrics snapshot")
		return
	}
	r.snapshots.Add(1)
}

// Stats returns recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Saved:     r.saved.Load(),
		Dropped:   r.dropped.Load(),
		Failed:    r.failed.Load(),
		Snapshots: r.snapshots.Load(),
	}
}
