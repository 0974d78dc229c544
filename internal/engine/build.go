package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"omni-trader/internal/broker"
	"omni-trader/internal/config"
	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/models"
	"omni-trader/internal/predict"
	"omni-trader/internal/resilience"
	"omni-trader/internal/store"
	"omni-trader/internal/stream"
	"omni-trader/pkg/utils"
)

// BuildDeps constructs the providers named by cfg. The returned cleanup
// releases stores and model sessions and is safe to call once after Run.
func BuildDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (Deps, func(), error) {
	var closers []func() error
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				logger.Warn().Err(err).Msg("Cleanup failed")
			}
		}
	}

	cbCfg := resilience.DefaultCircuitBreakerConfig()
	if cfg.Market.Timeout > 0 {
		cbCfg.CallTimeout = cfg.Market.Timeout
	}
	breakers := resilience.NewRegistry(cbCfg)
	deps := Deps{Breakers: breakers}

	market, err := buildMarket(cfg.Market, logger)
	if err != nil {
		return Deps{}, cleanup, err
	}
	retry := utils.DefaultRetryConfig()
	if cfg.Market.MaxRetries > 0 {
		retry.MaxAttempts = cfg.Market.MaxRetries
	}
	deps.Market = broker.NewGuardedMarket(cfg.Market.Provider, market, breakers.Get("market:"+cfg.Market.Provider), retry)
	deps.Orders = broker.NewGuardedOrders("paper", broker.NewPaperBroker(cfg.Market.Seed), breakers.Get("orders:paper"))

	predictor, closePredictor, err := buildPredictor(cfg.Predictor, cfg.Market.Seed)
	if err != nil {
		return Deps{}, cleanup, err
	}
	if closePredictor != nil {
		closers = append(closers, closePredictor)
	}
	deps.Predictor = &guardedPredictor{inner: predictor, cb: breakers.Get("predictor:" + cfg.Predictor.Kind)}

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		cleanup()
		return Deps{}, func() {}, err
	}
	closers = append(closers, st.Close)
	if _, noop := st.(store.NoopStore); !noop {
		deps.Store = st
	}

	if cfg.Stream.Enabled {
		deps.Hub = stream.NewHubWithConfig(stream.HubConfig{
			BufferSize:           cfg.Stream.BufferSize,
			SubscriberBufferSize: stream.DefaultHubConfig().SubscriberBufferSize,
		})
	}
	return deps, cleanup, nil
}

func buildMarket(cfg config.MarketConfig, logger zerolog.Logger) (broker.MarketData, error) {
	switch cfg.Provider {
	case "simulated", "":
		simCfg := broker.DefaultSimulatedMarketConfig()
		if cfg.UniverseSize > 0 {
			simCfg.UniverseSize = cfg.UniverseSize
		}
		simCfg.Seed = cfg.Seed
		return broker.NewSimulatedMarket(simCfg), nil
	case "bybit":
		return broker.NewBybitMarketData(cfg.BaseURL, cfg.Category, cfg.Timeout, logger)
	default:
		return nil, apperrors.NewValidationError("market.provider", cfg.Provider, "unknown market provider")
	}
}

func buildPredictor(cfg config.PredictorConfig, seed int64) (predict.Predictor, func() error, error) {
	switch cfg.Kind {
	case "simulated", "":
		return predict.NewSimulatedPredictor(seed), nil, nil
	case "openai":
		p, err := predict.NewOpenAIPredictor(cfg.APIKey, cfg.BaseURL, cfg.Model)
		return p, nil, err
	case "onnx":
		p, err := predict.NewONNXPredictor(cfg.ONNXPath, cfg.ONNXLib)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load onnx model: %w", err)
		}
		return p, p.Close, nil
	default:
		return nil, nil, apperrors.NewValidationError("predictor.kind", cfg.Kind, "unknown predictor")
	}
}

// guardedPredictor trips a breaker when the scoring backend keeps failing
// so a catalog refresh does not wait on every symbol's timeout.
type guardedPredictor struct {
	inner predict.Predictor
	cb    *resilience.CircuitBreaker
}

func (g *guardedPredictor) Predict(ctx context.Context, symbol string, price decimal.Decimal, volatility float64) (models.Prediction, error) {
	pred, err := resilience.Call(ctx, g.cb, func(ctx context.Context) (models.Prediction, error) {
		return g.inner.Predict(ctx, symbol, price, volatility)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return models.Prediction{}, apperrors.NewProviderError("predictor", "predict", symbol, err)
	}
	return pred, err
}

// Build wires an engine from configuration alone.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Engine, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, func() {}, err
	}
	deps, cleanup, err := BuildDeps(ctx, cfg, logger)
	if err != nil {
		return nil, cleanup, err
	}
	e, err := New(cfg, deps, logger)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	return e, cleanup, nil
}

// Hub returns the event hub, or nil when streaming is disabled.
func (e *Engine) Hub() *stream.Hub {
	return e.hub
}
