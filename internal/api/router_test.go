package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omni-trader/internal/catalog"
	"omni-trader/internal/engine"
	"omni-trader/internal/ledger"
	"omni-trader/internal/models"
	"omni-trader/internal/resilience"
)

type fakeBackend struct {
	running   atomic.Bool
	closed    []models.Trade
	providers []resilience.CircuitBreakerStats
}

func newFakeBackend() *fakeBackend {
	b := &fakeBackend{}
	b.running.Store(true)
	for i, sym := range []string{"BTCUSDT", "ETHUSDT", "BTCUSDT", "SOLUSDT"} {
		status := models.TradeProfitTaken
		if i%2 == 1 {
			status = models.TradeStopLoss
		}
		b.closed = append(b.closed, models.Trade{
			ID:          sym + "-" + string(rune('a'+i)),
			Symbol:      sym,
			Status:      status,
			RealizedPnL: decimal.NewFromFloat(0.6),
		})
	}
	return b
}

func (b *fakeBackend) Status() engine.Status {
	return engine.Status{Running: b.running.Load(), Available: decimal.NewFromInt(12)}
}

func (b *fakeBackend) Metrics() models.PerformanceMetrics {
	return models.PerformanceMetrics{TotalTrades: len(b.closed), WinRate: 0.5}
}

func (b *fakeBackend) OpenTrades() []models.Trade   { return nil }
func (b *fakeBackend) ClosedTrades() []models.Trade { return b.closed }

func (b *fakeBackend) LedgerSnapshot() ledger.Snapshot {
	return ledger.Snapshot{Total: decimal.NewFromInt(12), Available: decimal.NewFromInt(12)}
}

func (b *fakeBackend) Providers() []resilience.CircuitBreakerStats { return b.providers }

func (b *fakeBackend) Catalog() *catalog.Snapshot {
	return &catalog.Snapshot{Seq: 3, Scanned: 300, Instruments: []models.Instrument{
		{Symbol: "BTCUSDT"}, {Symbol: "ETHUSDT"}, {Symbol: "SOLUSDT"},
	}}
}

func (b *fakeBackend) Signals() []models.Signal {
	return []models.Signal{{Symbol: "BTCUSDT", ShouldTrade: true, Confidence: 0.9, Leverage: 77}}
}

func (b *fakeBackend) Stop() bool {
	return b.running.CompareAndSwap(true, false)
}

func do(t *testing.T, r *Router, method, target string, out any) int {
	t.Helper()
	resp, err := r.App().Test(httptest.NewRequest(method, target, nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if out != nil {
		require.NoError(t, json.Unmarshal(body, out), string(body))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	b := newFakeBackend()
	r := New(b, zerolog.Nop())

	var body map[string]any
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/health", &body))
	assert.Equal(t, "ok", body["status"])

	b.providers = []resilience.CircuitBreakerStats{{Name: "market:bybit", State: resilience.CircuitOpen}}
	do(t, r, http.MethodGet, "/health", &body)
	assert.Equal(t, "degraded", body["status"])

	b.Stop()
	do(t, r, http.MethodGet, "/health", &body)
	assert.Equal(t, "halted", body["status"])
	assert.Equal(t, false, body["running"])
}

func TestReadEndpoints(t *testing.T) {
	r := New(newFakeBackend(), zerolog.Nop())

	var status engine.Status
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/status", &status))
	assert.True(t, status.Running)
	assert.Equal(t, "12", status.Available.String())

	var metrics models.PerformanceMetrics
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/metrics", &metrics))
	assert.Equal(t, 4, metrics.TotalTrades)

	var snap ledger.Snapshot
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/ledger", &snap))
	assert.Equal(t, "12", snap.Total.String())

	var open []models.Trade
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/trades/open", &open))
	assert.NotNil(t, open)
	assert.Empty(t, open)

	var cat struct {
		Seq         uint64              `json:"seq"`
		Instruments []models.Instrument `json:"instruments"`
	}
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/catalog?limit=2", &cat))
	assert.EqualValues(t, 3, cat.Seq)
	require.Len(t, cat.Instruments, 2)
	assert.Equal(t, "BTCUSDT", cat.Instruments[0].Symbol)

	var sigs []models.Signal
	assert.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/api/v1/signals", &sigs))
	require.Len(t, sigs, 1)
	assert.Equal(t, 77, sigs[0].Leverage)
}

func TestClosedTrades_FiltersAndLimit(t *testing.T) {
	r := New(newFakeBackend(), zerolog.Nop())

	var trades []models.Trade
	do(t, r, http.MethodGet, "/api/v1/trades/closed", &trades)
	assert.Len(t, trades, 4)

	do(t, r, http.MethodGet, "/api/v1/trades/closed?limit=1", &trades)
	require.Len(t, trades, 1)
	assert.Equal(t, "SOLUSDT", trades[0].Symbol, "limit keeps the newest")

	do(t, r, http.MethodGet, "/api/v1/trades/closed?symbol=btcusdt", &trades)
	assert.Len(t, trades, 2)

	do(t, r, http.MethodGet, "/api/v1/trades/closed?status=StopLoss", &trades)
	for _, tr := range trades {
		assert.Equal(t, models.TradeStopLoss, tr.Status)
	}

	var body map[string]string
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/v1/trades/closed?limit=-3", &body))
	assert.Equal(t, "invalid limit", body["error"])
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/v1/trades/closed?symbol=BTC%27--", &body))
	assert.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/v1/trades/closed?status=won", &body))
}

func TestStop(t *testing.T) {
	b := newFakeBackend()
	r := New(b, zerolog.Nop())

	var body map[string]any
	assert.Equal(t, http.StatusAccepted, do(t, r, http.MethodPost, "/api/v1/stop", &body))
	assert.Equal(t, true, body["stopped"])
	assert.False(t, b.running.Load())

	assert.Equal(t, http.StatusConflict, do(t, r, http.MethodPost, "/api/v1/stop", &body))
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, r, http.MethodGet, "/api/v1/stop", nil))
}

func TestListen_ShutsDownOnCancel(t *testing.T) {
	r := New(newFakeBackend(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Listen(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("listener did not shut down")
	}
}
