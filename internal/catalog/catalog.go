// Package catalog maintains the published set of tradeable instruments.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"

	"omni-trader/internal/broker"
	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/logging"
	"omni-trader/internal/models"
	"omni-trader/internal/predict"
)

// Snapshot is one published, immutable instrument set.
type Snapshot struct {
	Instruments []models.Instrument `json:"instruments"`
	Scanned     int                 `json:"scanned"`
	Failed      int                 `json:"failed"`
	Seq         uint64              `json:"seq"`
	RefreshedAt time.Time           `json:"refreshed_at"`
}

// Config holds catalog settings.
type Config struct {
	Filter         Filter
	Workers        int
	PredictTimeout time.Duration
	MinAssetCount  int
}

// Catalog scans the market, scores every quote and publishes the eligible
// set with an atomic pointer swap. Readers always see a complete snapshot.
type Catalog struct {
	market    broker.MarketData
	predictor predict.Predictor
	cfg       Config
	logger    zerolog.Logger
	now       func() time.Time

	current atomic.Pointer[Snapshot]
	seq     atomic.Uint64
}

// New creates a catalog with an empty initial snapshot.
func New(market broker.MarketData, predictor predict.Predictor, cfg Config, logger zerolog.Logger) *Catalog {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	c := &Catalog{
		market:    market,
		predictor: predictor,
		cfg:       cfg,
		logger:    logging.WithComponent(logger, "catalog"),
		now:       time.Now,
	}
	c.current.Store(&Snapshot{})
	return c
}

type scored struct {
	inst models.Instrument
	err  error
}

// Refresh rebuilds and publishes the instrument set. On failure the
// previous snapshot stays published and the error is returned.
func (c *Catalog) Refresh(ctx context.Context) (*Snapshot, error) {
	quotes, err := c.market.FetchInstruments(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "fetch instruments")
	}
	if len(quotes) < c.cfg.MinAssetCount {
		c.logger.Warn().
			Int("scanned", len(quotes)).
			Int("expected", c.cfg.MinAssetCount).
			Msg("Fewer instruments scanned than expected")
	}

	p := pool.NewWithResults[scored]().WithMaxGoroutines(c.cfg.Workers)
	for _, q := range quotes {
		q := q
		p.Go(func() scored {
			return c.score(ctx, q)
		})
	}
	results := p.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := c.now()
	eligible := make([]models.Instrument, 0, len(results))
	failed := 0
	for _, r := range results {
		if r.err != nil {
			failed++
			c.logger.Debug().Err(r.err).Str("symbol", r.inst.Symbol).Msg("Prediction failed")
			continue
		}
		if c.cfg.Filter.Eligible(r.inst) {
			r.inst.LastUpdated = now
			eligible = append(eligible, r.inst)
		}
	}
	if len(quotes) > 0 && failed == len(quotes) {
		return nil, apperrors.NewProviderError("predictor", "predict", "", fmt.Errorf("all %d predictions failed", failed))
	}

	SortInstruments(eligible)

	snap := &Snapshot{
		Instruments: eligible,
		Scanned:     len(quotes),
		Failed:      failed,
		Seq:         c.seq.Add(1),
		RefreshedAt: now,
	}
	c.current.Store(snap)

	c.logger.Debug().
		Int("scanned", snap.Scanned).
		Int("eligible", len(eligible)).
		Int("failed", failed).
		Msg("Catalog refreshed")
	return snap, nil
}

func (c *Catalog) score(ctx context.Context, q models.Quote) scored {
	inst := models.Instrument{
		Symbol:       q.Symbol,
		Price:        q.Price,
		DailyVolume:  q.DailyVolume,
		Volatility:   q.Volatility,
		MaxLeverage:  q.MaxLeverage,
		MinOrderSize: q.MinOrderSize,
	}

	pctx := ctx
	if c.cfg.PredictTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, c.cfg.PredictTimeout)
		defer cancel()
	}

	pred, err := c.predictor.Predict(pctx, q.Symbol, q.Price, q.Volatility)
	if err != nil {
		return scored{inst: inst, err: err}
	}
	inst.Prediction = pred
	inst.ConfidenceScore = ConfidenceScore(q.DailyVolume, q.Volatility, pred.Confidence)
	return scored{inst: inst}
}

// Snapshot returns the currently published snapshot. It is never nil.
func (c *Catalog) Snapshot() *Snapshot {
	return c.current.Load()
}

// Top returns up to n instruments from the current snapshot in published
// order. The returned slice is a copy.
func (c *Catalog) Top(n int) []models.Instrument {
	snap := c.current.Load()
	if n <= 0 || n > len(snap.Instruments) {
		n = len(snap.Instruments)
	}
	return append([]models.Instrument(nil), snap.Instruments[:n]...)
}

// SortInstruments orders by confidence score descending, then symbol.
func SortInstruments(insts []models.Instrument) {
	sort.SliceStable(insts, func(i, j int) bool {
		if insts[i].ConfidenceScore != insts[j].ConfidenceScore {
			return insts[i].ConfidenceScore > insts[j].ConfidenceScore
		}
		return insts[i].Symbol < insts[j].Symbol
	})
}
