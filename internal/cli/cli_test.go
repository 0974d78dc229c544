package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"omni-trader/internal/models"
	"omni-trader/internal/store"
)

const fastConfig = `
[capital]
total = 12.0

[catalog]
min_asset_count = 1
workers = 4

[loops]
catalog_interval = "20ms"
trading_interval = "5ms"
performance_interval = "20ms"
risk_interval = "5ms"
report_interval = "50ms"
snapshot_schedule = "@every 1s"
error_backoff = "10ms"

[market]
provider = "simulated"
universe_size = 40
seed = 11

[logging]
level = "error"
console = false
`

func setupConfigDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(fastConfig), 0o644))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version", "--json")
	require.NoError(t, err)

	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, Version, v["version"])
}

func TestConfigCommands(t *testing.T) {
	dir := setupConfigDir(t)
	t.Setenv("OPENAI_API_KEY", "sk-very-secret")

	out, err := execute(t, "--config-dir", dir, "config", "path")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.toml"), strings.TrimSpace(out))

	out, err = execute(t, "--config-dir", dir, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	out, err = execute(t, "--config-dir", dir, "config", "show", "--json")
	require.NoError(t, err)
	assert.NotContains(t, out, "sk-very-secret")
	assert.Contains(t, out, filepath.Join(dir, "trades.db"))

	out, err = execute(t, "--config-dir", dir, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Max drawdown:    0.90%")
}

func TestConfig_FirstRunWritesTemplate(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "--config-dir", dir, "config", "validate")
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, "config.toml"))
}

func TestRun_WritesReport(t *testing.T) {
	dir := setupConfigDir(t)
	report := filepath.Join(dir, "out", "summary.yaml")

	out, err := execute(t, "--config-dir", dir, "run", "--duration", "300ms", "--report", report)
	require.NoError(t, err)
	assert.Contains(t, out, "Run Summary")
	assert.Contains(t, out, "Validation")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var parsed map[string]any
	require.NoError(t, yaml.Unmarshal(data, &parsed))
	assert.Contains(t, []any{"deadline", "drawdown"}, parsed["halt_reason"])
	assert.Contains(t, parsed, "metrics")
	assert.Contains(t, parsed, "validation")

	// The run persisted into the config dir's database.
	assert.FileExists(t, filepath.Join(dir, "trades.db"))
	_, err = execute(t, "--config-dir", dir, "report")
	require.NoError(t, err)
}

func seedHistory(t *testing.T, dir string) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "trades.db"))
	require.NoError(t, err)
	defer st.Close()

	opened := time.Now().Add(-time.Hour)
	for i, sym := range []string{"BTCUSDT", "ETHUSDT", "BTCUSDT"} {
		status := models.TradeProfitTaken
		pnl := decimal.RequireFromString("0.61")
		if i == 1 {
			status = models.TradeStopLoss
			pnl = decimal.RequireFromString("-0.3")
		}
		require.NoError(t, st.SaveTrade(context.Background(), models.Trade{
			ID:             sym + string(rune('0'+i)),
			OrderID:        "DEMO-" + sym,
			Symbol:         sym,
			Side:           models.SideBuy,
			Quantity:       decimal.RequireFromString("2.31"),
			EntryPrice:     decimal.NewFromInt(100),
			ExitPrice:      decimal.NewFromInt(101),
			Leverage:       77,
			ReservedMargin: decimal.NewFromInt(3),
			RealizedPnL:    pnl,
			Status:         status,
			OpenedAt:       opened.Add(time.Duration(i) * time.Minute),
			ClosedAt:       opened.Add(time.Duration(i)*time.Minute + 30*time.Second),
		}))
	}
}

func TestHistory_Formats(t *testing.T) {
	dir := setupConfigDir(t)
	seedHistory(t, dir)

	out, err := execute(t, "--config-dir", dir, "history")
	require.NoError(t, err)
	assert.Contains(t, out, "SYMBOL")
	assert.Contains(t, out, "3 trades")

	out, err = execute(t, "--config-dir", dir, "history", "--format", "csv", "--symbol", "BTCUSDT")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "id,order_id,symbol"))
	assert.Contains(t, lines[1], "BTCUSDT")

	out, err = execute(t, "--config-dir", dir, "history", "--json", "--status", "StopLoss")
	require.NoError(t, err)
	var trades []models.Trade
	require.NoError(t, json.Unmarshal([]byte(out), &trades))
	require.Len(t, trades, 1)
	assert.Equal(t, "ETHUSDT", trades[0].Symbol)
	assert.Equal(t, "-0.3", trades[0].RealizedPnL.String())

	_, err = execute(t, "--config-dir", dir, "history", "--format", "xml")
	assert.Error(t, err)
}

func TestReport_NoSnapshot(t *testing.T) {
	dir := setupConfigDir(t)
	out, err := execute(t, "--config-dir", dir, "report")
	require.NoError(t, err)
	assert.Contains(t, out, "No metrics snapshot")
}

func TestTable_AlignsColoredCells(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{writer: &buf, colorEnabled: true}
	table := NewTable(o, "A", "B")
	table.AddRow(o.Green("+1.0000 USDT"), "x")
	table.AddRow("-2", "y")
	table.Render()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Contains(t, lines[2], "\x1b[")
	assert.Equal(t, visibleLen(lines[2]), visibleLen(lines[3]))
}

func TestExitError(t *testing.T) {
	err := &ExitError{Code: 2}
	assert.Equal(t, "exit status 2", err.Error())
}
