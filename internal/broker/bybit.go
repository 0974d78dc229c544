package broker

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/logging"
	"omni-trader/internal/models"
)

// BybitMarketData reads public v5 market endpoints. It needs no credentials
// and never places orders.
type BybitMarketData struct {
	client   *resty.Client
	baseURL  string
	category string
	logger   zerolog.Logger

	mu          sync.Mutex
	specs       map[string]instrumentSpec
	specsLoaded time.Time
	specsTTL    time.Duration
}

type instrumentSpec struct {
	maxLeverage int
	minOrderQty decimal.Decimal
}

type bybitEnvelope[T any] struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  T      `json:"result"`
}

type bybitTickers struct {
	Category string        `json:"category"`
	List     []bybitTicker `json:"list"`
}

type bybitTicker struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	HighPrice24 string `json:"highPrice24h"`
	LowPrice24  string `json:"lowPrice24h"`
	Turnover24  string `json:"turnover24h"`
}

type bybitInstruments struct {
	List           []bybitInstrument `json:"list"`
	NextPageCursor string            `json:"nextPageCursor"`
}

type bybitInstrument struct {
	Symbol         string `json:"symbol"`
	Status         string `json:"status"`
	QuoteCoin      string `json:"quoteCoin"`
	LeverageFilter struct {
		MaxLeverage string `json:"maxLeverage"`
	} `json:"leverageFilter"`
	LotSizeFilter struct {
		MinOrderQty string `json:"minOrderQty"`
	} `json:"lotSizeFilter"`
}

// NewBybitMarketData creates a Bybit market-data client.
func NewBybitMarketData(baseURL, category string, timeout time.Duration, logger zerolog.Logger, opts ...func(*resty.Client)) (*BybitMarketData, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if category == "" {
		category = "linear"
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(timeout)
	client.JSONMarshal = sonic.Marshal
	client.JSONUnmarshal = sonic.Unmarshal

	for _, opt := range opts {
		opt(client)
	}

	return &BybitMarketData{
		client:   client,
		baseURL:  baseURL,
		category: category,
		logger:   logging.WithComponent(logger, "bybit"),
		specsTTL: time.Hour,
	}, nil
}

// FetchInstruments implements MarketData. Only trading USDT pairs with a
// known instrument spec are returned.
func (b *BybitMarketData) FetchInstruments(ctx context.Context) ([]models.Quote, error) {
	specs, err := b.instrumentSpecs(ctx)
	if err != nil {
		return nil, err
	}

	var env bybitEnvelope[bybitTickers]
	if err := b.get(ctx, "/v5/market/tickers", map[string]string{"category": b.category}, &env); err != nil {
		return nil, err
	}

	quotes := make([]models.Quote, 0, len(env.Result.List))
	for _, t := range env.Result.List {
		spec, ok := specs[t.Symbol]
		if !ok {
			continue
		}
		q, err := t.quote(spec)
		if err != nil {
			// Skip malformed records while allowing the rest to be processed.
			b.logger.Debug().Err(err).Str("symbol", t.Symbol).Msg("Skipping ticker")
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// FetchPrice implements MarketData.
func (b *BybitMarketData) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var env bybitEnvelope[bybitTickers]
	params := map[string]string{"category": b.category, "symbol": symbol}
	if err := b.get(ctx, "/v5/market/tickers", params, &env); err != nil {
		return decimal.Zero, err
	}
	if len(env.Result.List) == 0 {
		return decimal.Zero, apperrors.Wrapf(apperrors.ErrSymbolNotFound, "bybit %s", symbol)
	}
	price, err := decimal.NewFromString(env.Result.List[0].LastPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", env.Result.List[0].LastPrice, err)
	}
	return price, nil
}

func (b *BybitMarketData) instrumentSpecs(ctx context.Context) (map[string]instrumentSpec, error) {
	b.mu.Lock()
	if b.specs != nil && time.Since(b.specsLoaded) < b.specsTTL {
		specs := b.specs
		b.mu.Unlock()
		return specs, nil
	}
	b.mu.Unlock()

	specs := make(map[string]instrumentSpec)
	cursor := ""
	for {
		params := map[string]string{"category": b.category, "limit": "1000"}
		if cursor != "" {
			params["cursor"] = cursor
		}
		var env bybitEnvelope[bybitInstruments]
		if err := b.get(ctx, "/v5/market/instruments-info", params, &env); err != nil {
			return nil, err
		}
		for _, inst := range env.Result.List {
			if inst.Status != "Trading" || inst.QuoteCoin != "USDT" {
				continue
			}
			lev, err := strconv.ParseFloat(inst.LeverageFilter.MaxLeverage, 64)
			if err != nil {
				continue
			}
			minQty, err := decimal.NewFromString(inst.LotSizeFilter.MinOrderQty)
			if err != nil {
				continue
			}
			specs[inst.Symbol] = instrumentSpec{maxLeverage: int(lev), minOrderQty: minQty}
		}
		cursor = env.Result.NextPageCursor
		if cursor == "" {
			break
		}
	}

	b.mu.Lock()
	b.specs = specs
	b.specsLoaded = time.Now()
	b.mu.Unlock()
	return specs, nil
}

func (b *BybitMarketData) get(ctx context.Context, path string, params map[string]string, out interface{ code() (int, string) }) error {
	start := time.Now()
	resp, err := b.client.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetResult(out).
		Get(path)
	logging.LogAPICall(b.logger, "GET", path, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("GET %s: %w", path, err)
	}
	if resp.StatusCode() >= 400 {
		return apperrors.Wrapf(apperrors.ErrProviderUnavailable, "GET %s responded with status %d", path, resp.StatusCode())
	}
	if code, msg := out.code(); code != 0 {
		return apperrors.Wrapf(apperrors.ErrProviderUnavailable, "GET %s retCode %d: %s", path, code, msg)
	}
	return nil
}

func (e *bybitEnvelope[T]) code() (int, string) {
	return e.RetCode, e.RetMsg
}

func (t bybitTicker) quote(spec instrumentSpec) (models.Quote, error) {
	last, err := decimal.NewFromString(t.LastPrice)
	if err != nil || !last.IsPositive() {
		return models.Quote{}, fmt.Errorf("last price %q", t.LastPrice)
	}
	high, err := decimal.NewFromString(t.HighPrice24)
	if err != nil {
		return models.Quote{}, fmt.Errorf("high price %q", t.HighPrice24)
	}
	low, err := decimal.NewFromString(t.LowPrice24)
	if err != nil {
		return models.Quote{}, fmt.Errorf("low price %q", t.LowPrice24)
	}
	turnover, err := decimal.NewFromString(t.Turnover24)
	if err != nil {
		return models.Quote{}, fmt.Errorf("turnover %q", t.Turnover24)
	}

	return models.Quote{
		Symbol:       t.Symbol,
		Price:        last,
		DailyVolume:  turnover,
		Volatility:   high.Sub(low).Div(last).InexactFloat64(),
		MaxLeverage:  spec.maxLeverage,
		MinOrderSize: spec.minOrderQty,
	}, nil
}
