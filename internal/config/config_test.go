package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "omni-trader/internal/errors"
)

func TestLoad_CreatesTemplateAndUsesDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "config.toml"))
	require.NoError(t, statErr, "template should be written on first load")

	assert.Equal(t, 12.0, cfg.Capital.Total)
	assert.Equal(t, 50, cfg.Leverage.Min)
	assert.Equal(t, 100, cfg.Leverage.Max)
	assert.Equal(t, 0.009, cfg.Risk.MaxDrawdown)
	assert.Equal(t, 2*time.Second, cfg.Loops.RiskInterval)
	assert.Equal(t, 60*time.Second, cfg.Loops.CatalogInterval)
	assert.Equal(t, 5*time.Second, cfg.Loops.SignalInterval)
	assert.Equal(t, 5, cfg.Loops.SignalTopN)
	assert.True(t, cfg.Risk.FlattenOnStop)
	assert.Equal(t, filepath.Join(dir, "trades.db"), cfg.Store.DSN)

	policy := cfg.Policy()
	assert.Equal(t, "12", policy.TotalCapital.String())
	assert.Equal(t, "0.0025", policy.StopLossPercent.String())
	assert.Equal(t, "0.6", policy.TakeProfit.String())
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	body := `
[capital]
total = 20.0
max_trade_capital = 5.0

[loops]
risk_interval = "500ms"

[store]
driver = "none"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 20.0, cfg.Capital.Total)
	assert.Equal(t, 5.0, cfg.Capital.MaxTradeCapital)
	assert.Equal(t, 1.0, cfg.Capital.MinTradeCapital)
	assert.Equal(t, 500*time.Millisecond, cfg.Loops.RiskInterval)
	assert.Equal(t, "none", cfg.Store.Driver)
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("OMNI_TOTAL_CAPITAL", "24")
	t.Setenv("OMNI_SEED", "42")
	t.Setenv("OMNI_PREDICTOR", "simulated")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 24.0, cfg.Capital.Total)
	assert.EqualValues(t, 42, cfg.Market.Seed)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"zero capital", func(c *Config) { c.Capital.Total = 0 }, "capital.total"},
		{"inverted leverage", func(c *Config) { c.Leverage.Min = 120 }, "leverage.min"},
		{"drawdown out of range", func(c *Config) { c.Risk.MaxDrawdown = 1.5 }, "risk.max_drawdown"},
		{"trade capital above total", func(c *Config) { c.Capital.MaxTradeCapital = 50 }, "capital.max_trade_capital"},
		{"unknown provider", func(c *Config) { c.Market.Provider = "kraken" }, "market.provider"},
		{"onnx without model", func(c *Config) { c.Predictor.Kind = "onnx" }, "predictor.onnx_path"},
		{"zero interval", func(c *Config) { c.Loops.RiskInterval = 0 }, "loops.risk_interval"},
		{"zero signal interval", func(c *Config) { c.Loops.SignalInterval = 0 }, "loops.signal_interval"},
		{"empty signal sweep", func(c *Config) { c.Loops.SignalTopN = 0 }, "loops.signal_top_n"},
	}

	require.NoError(t, Default().Validate())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrConfigInvalid)

			var ve *apperrors.ValidationError
			require.True(t, apperrors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}
