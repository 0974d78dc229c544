package broker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/models"
	"omni-trader/internal/resilience"
	"omni-trader/pkg/utils"
)

func TestSimulatedMarket_Universe(t *testing.T) {
	cfg := DefaultSimulatedMarketConfig()
	cfg.Seed = 7
	m := NewSimulatedMarket(cfg)

	quotes, err := m.FetchInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 300)
	assert.Equal(t, "BTCUSDT", quotes[0].Symbol)
	assert.Equal(t, "TOKEN1USDT", quotes[10].Symbol)

	seen := make(map[string]bool)
	for _, q := range quotes {
		assert.False(t, seen[q.Symbol], "duplicate symbol %s", q.Symbol)
		seen[q.Symbol] = true
		assert.True(t, q.Price.IsPositive())
		assert.Greater(t, q.MaxLeverage, 0)
	}
}

// TestProperty_SimulatedPriceWithinDrift checks that every price check lands
// inside [ref*(1+low), ref*(1+high)].
func TestProperty_SimulatedPriceWithinDrift(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("price stays inside the drift band", prop.ForAll(
		func(seed int64, ref float64) bool {
			cfg := DefaultSimulatedMarketConfig()
			cfg.UniverseSize = 10
			cfg.Seed = seed
			m := NewSimulatedMarket(cfg)
			m.SetPrice("ETHUSDT", ref)

			lo := ref*(1+cfg.DriftLow) - 1e-8
			hi := ref*(1+cfg.DriftHigh) + 1e-8
			for i := 0; i < 20; i++ {
				p, err := m.FetchPrice(context.Background(), "ETHUSDT")
				if err != nil {
					return false
				}
				if f := p.InexactFloat64(); f < lo || f > hi {
					return false
				}
			}
			return true
		},
		gen.Int64Range(1, 1<<40),
		gen.Float64Range(0.01, 50000),
	))

	properties.TestingRun(t)
}

func TestSimulatedMarket_UnknownSymbol(t *testing.T) {
	m := NewSimulatedMarket(DefaultSimulatedMarketConfig())
	_, err := m.FetchPrice(context.Background(), "NOPEUSDT")
	assert.ErrorIs(t, err, apperrors.ErrSymbolNotFound)
}

func TestPaperBroker_CreateOrder(t *testing.T) {
	p := NewPaperBroker(1)
	req := models.OrderRequest{
		Symbol:   "SOLUSDT",
		Side:     models.SideBuy,
		Quantity: decimal.RequireFromString("2.1320"),
		Leverage: 70,
		Price:    decimal.RequireFromString("98.5"),
	}

	id, err := p.CreateOrder(context.Background(), req)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^DEMO-SOLUSDT-\d{13}-\d{4}$`), id)
	require.Len(t, p.Orders(), 1)
	assert.Equal(t, id, p.Orders()[0].OrderID)

	bad := req
	bad.Quantity = decimal.Zero
	_, err = p.CreateOrder(context.Background(), bad)
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
}

type flakyMarket struct {
	fails int
	calls int
}

func (f *flakyMarket) FetchInstruments(ctx context.Context) ([]models.Quote, error) {
	f.calls++
	if f.calls <= f.fails {
		return nil, errors.New("connection reset")
	}
	return []models.Quote{{Symbol: "BTCUSDT", Price: decimal.NewFromInt(1)}}, nil
}

func (f *flakyMarket) FetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func TestGuardedMarket_RetriesAndWrapsErrors(t *testing.T) {
	inner := &flakyMarket{fails: 2}
	cb := resilience.NewCircuitBreaker("market", resilience.DefaultCircuitBreakerConfig())
	retry := utils.RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1}
	g := NewGuardedMarket("sim", inner, cb, retry)

	quotes, err := g.FetchInstruments(context.Background())
	require.NoError(t, err)
	assert.Len(t, quotes, 1)
	assert.Equal(t, 3, inner.calls)

	_, err = g.FetchPrice(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, apperrors.ErrNoPrice)
	assert.True(t, apperrors.IsTransient(err))
}

const instrumentsBody = `{"retCode":0,"retMsg":"OK","result":{"category":"linear","nextPageCursor":"","list":[
 {"symbol":"BTCUSDT","status":"Trading","quoteCoin":"USDT","leverageFilter":{"maxLeverage":"100.00"},"lotSizeFilter":{"minOrderQty":"0.001"}},
 {"symbol":"ETHUSDT","status":"Trading","quoteCoin":"USDT","leverageFilter":{"maxLeverage":"50.00"},"lotSizeFilter":{"minOrderQty":"0.01"}},
 {"symbol":"OLDUSDT","status":"Closed","quoteCoin":"USDT","leverageFilter":{"maxLeverage":"25.00"},"lotSizeFilter":{"minOrderQty":"1"}}]}}`

const tickersBody = `{"retCode":0,"retMsg":"OK","result":{"category":"linear","list":[
 {"symbol":"BTCUSDT","lastPrice":"50000","highPrice24h":"51000","lowPrice24h":"49000","turnover24h":"1200000000"},
 {"symbol":"ETHUSDT","lastPrice":"bad","highPrice24h":"1","lowPrice24h":"1","turnover24h":"1"},
 {"symbol":"OLDUSDT","lastPrice":"1","highPrice24h":"1","lowPrice24h":"1","turnover24h":"1"}]}}`

func TestBybitMarketData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/v5/market/instruments-info":
			_, _ = w.Write([]byte(instrumentsBody))
		case "/v5/market/tickers":
			if r.URL.Query().Get("symbol") == "BTCUSDT" {
				_, _ = w.Write([]byte(`{"retCode":0,"retMsg":"OK","result":{"list":[{"symbol":"BTCUSDT","lastPrice":"50123.5"}]}}`))
				return
			}
			if r.URL.Query().Get("symbol") != "" {
				_, _ = w.Write([]byte(`{"retCode":10001,"retMsg":"params error","result":{}}`))
				return
			}
			_, _ = w.Write([]byte(tickersBody))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	b, err := NewBybitMarketData(srv.URL, "linear", 5*time.Second, zerolog.Nop())
	require.NoError(t, err)

	quotes, err := b.FetchInstruments(context.Background())
	require.NoError(t, err)
	require.Len(t, quotes, 1)
	assert.Equal(t, "BTCUSDT", quotes[0].Symbol)
	assert.Equal(t, 100, quotes[0].MaxLeverage)
	assert.InDelta(t, 0.04, quotes[0].Volatility, 1e-9)
	assert.Equal(t, "0.001", quotes[0].MinOrderSize.String())

	price, err := b.FetchPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "50123.5", price.String())

	_, err = b.FetchPrice(context.Background(), "XYZUSDT")
	assert.ErrorIs(t, err, apperrors.ErrProviderUnavailable)
}
