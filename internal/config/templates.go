package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Omni Trader Configuration

[capital]
# Total simulated capital in USDT
total = 12.0
# Smallest margin a single trade may reserve
min_trade_capital = 1.0
# Largest margin a single trade may reserve
max_trade_capital = 3.0

[leverage]
min = 50
max = 100

[risk]
# Halt and cancel everything once drawdown exceeds this fraction
max_drawdown = 0.009
# Close a trade when its loss exceeds entry price times this fraction
stop_loss_percent = 0.0025
# Close a trade once its profit reaches this amount in USDT
take_profit = 0.6
# Cancel open trades at mark-to-market when the simulator stops
flatten_on_stop = true

[signal]
min_confidence = 0.78
min_expected_profit = 0.5
max_risk_score = 0.6
leverage_scale = 85.0
movement_factor = 0.5

[catalog]
min_confidence = 0.75
min_volume = 5000000.0
min_volatility = 0.03
max_min_order = 5.0
min_asset_count = 300
workers = 16
predict_timeout = "5s"

[loops]
catalog_interval = "60s"
# Signal sweep: evaluates the top N catalog entries and logs admissible signals
signal_interval = "5s"
signal_top_n = 5
trading_interval = "5s"
performance_interval = "15s"
risk_interval = "2s"
report_interval = "30s"
# robfig/cron spec for persisted metrics snapshots
snapshot_schedule = "@every 1m"
error_backoff = "5s"

[market]
# Market provider: "simulated" or "bybit" (read-only market data)
provider = "simulated"
base_url = "https://api.bybit.com"
category = "linear"
universe_size = 300
# 0 seeds from the clock
seed = 0
timeout = "10s"
max_retries = 3

[predictor]
# Predictor: "simulated", "openai" or "onnx"
kind = "simulated"
model = "gpt-4o-mini"
api_key = ""
base_url = ""
onnx_path = ""
onnx_lib = ""

[store]
# Store driver: "sqlite", "postgres" or "none"
driver = "sqlite"
dsn = ""

[api]
enabled = false
addr = "127.0.0.1:8088"

# Websocket event stream (ws://<addr>/ws)
[stream]
enabled = false
addr = "127.0.0.1:8089"
buffer_size = 256

[logging]
level = "info"
console = true
file = false

[profiling]
enabled = false
server = "http://localhost:4040"

[targets]
win_rate = 0.8
avg_profit_per_trade = 0.5
daily_trades = 750
tolerance = 0.875
profit_tolerance = 0.6
min_trades = 5
`

// Template returns the default config file contents.
func Template() string {
	return configTemplate
}

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if err := os.WriteFile(path, []byte(configTemplate), 0644); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
