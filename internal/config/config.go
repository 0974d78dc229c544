// Package config provides configuration management for the trading simulator.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	apperrors "omni-trader/internal/errors"
)

// AppName is used for the config directory and log file names.
const AppName = "omni-trader"

// Config holds all application configuration.
type Config struct {
	Capital   CapitalConfig   `mapstructure:"capital"`
	Leverage  LeverageConfig  `mapstructure:"leverage"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Loops     LoopConfig      `mapstructure:"loops"`
	Market    MarketConfig    `mapstructure:"market"`
	Predictor PredictorConfig `mapstructure:"predictor"`
	Store     StoreConfig     `mapstructure:"store"`
	API       APIConfig       `mapstructure:"api"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Profiling ProfilingConfig `mapstructure:"profiling"`
	Targets   TargetConfig    `mapstructure:"targets"`
}

// CapitalConfig holds the capital pool and per-trade sizing.
type CapitalConfig struct {
	Total           float64 `mapstructure:"total"`
	MinTradeCapital float64 `mapstructure:"min_trade_capital"`
	MaxTradeCapital float64 `mapstructure:"max_trade_capital"`
}

// LeverageConfig bounds the leverage applied to a trade.
type LeverageConfig struct {
	Min int `mapstructure:"min"`
	Max int `mapstructure:"max"`
}

// RiskConfig holds the exit thresholds.
type RiskConfig struct {
	MaxDrawdown     float64 `mapstructure:"max_drawdown"`
	StopLossPercent float64 `mapstructure:"stop_loss_percent"`
	TakeProfit      float64 `mapstructure:"take_profit"`
	FlattenOnStop   bool    `mapstructure:"flatten_on_stop"`
}

// SignalConfig holds the trade decision thresholds.
type SignalConfig struct {
	MinConfidence     float64 `mapstructure:"min_confidence"`
	MinExpectedProfit float64 `mapstructure:"min_expected_profit"`
	MaxRiskScore      float64 `mapstructure:"max_risk_score"`
	LeverageScale     float64 `mapstructure:"leverage_scale"`
	MovementFactor    float64 `mapstructure:"movement_factor"`
}

// CatalogConfig holds the eligibility filter.
type CatalogConfig struct {
	MinConfidence  float64       `mapstructure:"min_confidence"`
	MinVolume      float64       `mapstructure:"min_volume"`
	MinVolatility  float64       `mapstructure:"min_volatility"`
	MaxMinOrder    float64       `mapstructure:"max_min_order"`
	MinAssetCount  int           `mapstructure:"min_asset_count"`
	Workers        int           `mapstructure:"workers"`
	PredictTimeout time.Duration `mapstructure:"predict_timeout"`
}

// LoopConfig holds the cadence of each background loop.
type LoopConfig struct {
	CatalogInterval     time.Duration `mapstructure:"catalog_interval"`
	SignalInterval      time.Duration `mapstructure:"signal_interval"`
	SignalTopN          int           `mapstructure:"signal_top_n"`
	TradingInterval     time.Duration `mapstructure:"trading_interval"`
	PerformanceInterval time.Duration `mapstructure:"performance_interval"`
	RiskInterval        time.Duration `mapstructure:"risk_interval"`
	ReportInterval      time.Duration `mapstructure:"report_interval"`
	SnapshotSchedule    string        `mapstructure:"snapshot_schedule"`
	ErrorBackoff        time.Duration `mapstructure:"error_backoff"`
}

// MarketConfig selects the market data and order placement providers.
type MarketConfig struct {
	Provider     string        `mapstructure:"provider"` // simulated, bybit
	BaseURL      string        `mapstructure:"base_url"`
	Category     string        `mapstructure:"category"`
	UniverseSize int           `mapstructure:"universe_size"`
	Seed         int64         `mapstructure:"seed"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// PredictorConfig selects the predictive-scoring provider.
type PredictorConfig struct {
	Kind     string `mapstructure:"kind"` // simulated, openai, onnx
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	BaseURL  string `mapstructure:"base_url"`
	ONNXPath string `mapstructure:"onnx_path"`
	ONNXLib  string `mapstructure:"onnx_lib"`
}

// StoreConfig selects the trade history persistence.
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // sqlite, postgres, none
	DSN    string `mapstructure:"dsn"`
}

// APIConfig holds the HTTP status server settings.
type APIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// StreamConfig holds the event stream settings.
type StreamConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Addr       string `mapstructure:"addr"`
	BufferSize int    `mapstructure:"buffer_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// ProfilingConfig holds continuous profiling settings.
type ProfilingConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Server  string `mapstructure:"server"`
}

// TargetConfig holds the performance targets used by validation.
type TargetConfig struct {
	WinRate           float64 `mapstructure:"win_rate"`
	AvgProfitPerTrade float64 `mapstructure:"avg_profit_per_trade"`
	DailyTrades       int     `mapstructure:"daily_trades"`
	Tolerance         float64 `mapstructure:"tolerance"`
	ProfitTolerance   float64 `mapstructure:"profit_tolerance"`
	MinTrades         int     `mapstructure:"min_trades"`
}

// Policy is the decimal view of the money-related settings used by the
// ledger, evaluator and risk monitor.
type Policy struct {
	TotalCapital      decimal.Decimal
	MinTradeCapital   decimal.Decimal
	MaxTradeCapital   decimal.Decimal
	MinLeverage       int
	MaxLeverage       int
	MaxDrawdown       float64
	StopLossPercent   decimal.Decimal
	TakeProfit        decimal.Decimal
	MinConfidence     float64
	MinExpectedProfit decimal.Decimal
	MaxRiskScore      float64
	LeverageScale     float64
	MovementFactor    float64
}

// Policy converts the configuration into its decimal policy form.
func (c *Config) Policy() Policy {
	return Policy{
		TotalCapital:      decimal.NewFromFloat(c.Capital.Total),
		MinTradeCapital:   decimal.NewFromFloat(c.Capital.MinTradeCapital),
		MaxTradeCapital:   decimal.NewFromFloat(c.Capital.MaxTradeCapital),
		MinLeverage:       c.Leverage.Min,
		MaxLeverage:       c.Leverage.Max,
		MaxDrawdown:       c.Risk.MaxDrawdown,
		StopLossPercent:   decimal.NewFromFloat(c.Risk.StopLossPercent),
		TakeProfit:        decimal.NewFromFloat(c.Risk.TakeProfit),
		MinConfidence:     c.Signal.MinConfidence,
		MinExpectedProfit: decimal.NewFromFloat(c.Signal.MinExpectedProfit),
		MaxRiskScore:      c.Signal.MaxRiskScore,
		LeverageScale:     c.Signal.LeverageScale,
		MovementFactor:    c.Signal.MovementFactor,
	}
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".config", AppName)
	}
	return filepath.Join(home, ".config", AppName)
}

// Default returns the built-in configuration.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from config.toml in configDir. If configDir is
// empty, the default config directory is used. A missing file is written
// from the template and the defaults are used.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	// .env in the working directory or config dir; missing files are fine.
	_ = godotenv.Load()
	_ = godotenv.Load(filepath.Join(configDir, ".env"))

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	applyEnvOverrides(cfg)

	if cfg.Store.DSN == "" && cfg.Store.Driver == "sqlite" {
		cfg.Store.DSN = filepath.Join(configDir, "trades.db")
	}
	if cfg.Logging.FilePath == "" {
		cfg.Logging.FilePath = filepath.Join(configDir, "logs", "trader.log")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// ConfigPath returns the config file path inside configDir.
func ConfigPath(configDir string) string {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}
	return filepath.Join(configDir, "config.toml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("capital.total", 12.0)
	v.SetDefault("capital.min_trade_capital", 1.0)
	v.SetDefault("capital.max_trade_capital", 3.0)

	v.SetDefault("leverage.min", 50)
	v.SetDefault("leverage.max", 100)

	v.SetDefault("risk.max_drawdown", 0.009)
	v.SetDefault("risk.stop_loss_percent", 0.0025)
	v.SetDefault("risk.take_profit", 0.6)
	v.SetDefault("risk.flatten_on_stop", true)

	v.SetDefault("signal.min_confidence", 0.78)
	v.SetDefault("signal.min_expected_profit", 0.5)
	v.SetDefault("signal.max_risk_score", 0.6)
	v.SetDefault("signal.leverage_scale", 85.0)
	v.SetDefault("signal.movement_factor", 0.5)

	v.SetDefault("catalog.min_confidence", 0.75)
	v.SetDefault("catalog.min_volume", 5_000_000.0)
	v.SetDefault("catalog.min_volatility", 0.03)
	v.SetDefault("catalog.max_min_order", 5.0)
	v.SetDefault("catalog.min_asset_count", 300)
	v.SetDefault("catalog.workers", 16)
	v.SetDefault("catalog.predict_timeout", "5s")

	v.SetDefault("loops.catalog_interval", "60s")
	v.SetDefault("loops.signal_interval", "5s")
	v.SetDefault("loops.signal_top_n", 5)
	v.SetDefault("loops.trading_interval", "5s")
	v.SetDefault("loops.performance_interval", "15s")
	v.SetDefault("loops.risk_interval", "2s")
	v.SetDefault("loops.report_interval", "30s")
	v.SetDefault("loops.snapshot_schedule", "@every 1m")
	v.SetDefault("loops.error_backoff", "5s")

	v.SetDefault("market.provider", "simulated")
	v.SetDefault("market.base_url", "https://api.bybit.com")
	v.SetDefault("market.category", "linear")
	v.SetDefault("market.universe_size", 300)
	v.SetDefault("market.seed", 0)
	v.SetDefault("market.timeout", "10s")
	v.SetDefault("market.max_retries", 3)

	v.SetDefault("predictor.kind", "simulated")
	v.SetDefault("predictor.model", "gpt-4o-mini")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "")

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.addr", "127.0.0.1:8088")

	v.SetDefault("stream.enabled", false)
	v.SetDefault("stream.addr", "127.0.0.1:8089")
	v.SetDefault("stream.buffer_size", 256)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", false)
	v.SetDefault("logging.file_path", filepath.Join(DefaultConfigDir(), "logs", "trader.log"))
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	v.SetDefault("profiling.enabled", false)
	v.SetDefault("profiling.server", "http://localhost:4040")

	v.SetDefault("targets.win_rate", 0.8)
	v.SetDefault("targets.avg_profit_per_trade", 0.5)
	v.SetDefault("targets.daily_trades", 750)
	v.SetDefault("targets.tolerance", 0.875)
	v.SetDefault("targets.profit_tolerance", 0.6)
	v.SetDefault("targets.min_trades", 5)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && cfg.Predictor.APIKey == "" {
		cfg.Predictor.APIKey = v
	}
	if v := os.Getenv("OMNI_MARKET_PROVIDER"); v != "" {
		cfg.Market.Provider = v
	}
	if v := os.Getenv("OMNI_PREDICTOR"); v != "" {
		cfg.Predictor.Kind = v
	}
	if v := os.Getenv("OMNI_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("OMNI_STORE_DSN"); v != "" {
		cfg.Store.DSN = v
	}
	if v := os.Getenv("OMNI_API_ADDR"); v != "" {
		cfg.API.Addr = v
		cfg.API.Enabled = true
	}
	if v := os.Getenv("OMNI_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OMNI_TOTAL_CAPITAL"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Capital.Total = f
		}
	}
	if v := os.Getenv("OMNI_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Market.Seed = n
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Capital.Total <= 0 {
		return apperrors.NewValidationError("capital.total", c.Capital.Total, "must be positive")
	}
	if c.Capital.MinTradeCapital <= 0 || c.Capital.MinTradeCapital > c.Capital.MaxTradeCapital {
		return apperrors.NewValidationError("capital.min_trade_capital", c.Capital.MinTradeCapital, "must be positive and not exceed max_trade_capital")
	}
	if c.Capital.MaxTradeCapital > c.Capital.Total {
		return apperrors.NewValidationError("capital.max_trade_capital", c.Capital.MaxTradeCapital, "must not exceed total capital")
	}

	if c.Leverage.Min < 1 || c.Leverage.Min > c.Leverage.Max {
		return apperrors.NewValidationError("leverage.min", c.Leverage.Min, "must be at least 1 and not exceed leverage.max")
	}

	if c.Risk.MaxDrawdown <= 0 || c.Risk.MaxDrawdown >= 1 {
		return apperrors.NewValidationError("risk.max_drawdown", c.Risk.MaxDrawdown, "must be in (0, 1)")
	}
	if c.Risk.StopLossPercent <= 0 {
		return apperrors.NewValidationError("risk.stop_loss_percent", c.Risk.StopLossPercent, "must be positive")
	}
	if c.Risk.TakeProfit <= 0 {
		return apperrors.NewValidationError("risk.take_profit", c.Risk.TakeProfit, "must be positive")
	}

	if c.Signal.MinConfidence < 0 || c.Signal.MinConfidence > 1 {
		return apperrors.NewValidationError("signal.min_confidence", c.Signal.MinConfidence, "must be between 0 and 1")
	}
	if c.Catalog.MinConfidence < 0 || c.Catalog.MinConfidence > 1 {
		return apperrors.NewValidationError("catalog.min_confidence", c.Catalog.MinConfidence, "must be between 0 and 1")
	}
	if c.Catalog.Workers < 1 {
		return apperrors.NewValidationError("catalog.workers", c.Catalog.Workers, "must be at least 1")
	}

	if c.Loops.SignalTopN < 1 {
		return apperrors.NewValidationError("loops.signal_top_n", c.Loops.SignalTopN, "must be at least 1")
	}

	for name, d := range map[string]time.Duration{
		"loops.catalog_interval":     c.Loops.CatalogInterval,
		"loops.signal_interval":      c.Loops.SignalInterval,
		"loops.trading_interval":     c.Loops.TradingInterval,
		"loops.performance_interval": c.Loops.PerformanceInterval,
		"loops.risk_interval":        c.Loops.RiskInterval,
		"loops.report_interval":      c.Loops.ReportInterval,
	} {
		if d <= 0 {
			return apperrors.NewValidationError(name, d, "must be positive")
		}
	}

	switch c.Market.Provider {
	case "simulated", "bybit":
	default:
		return apperrors.NewValidationError("market.provider", c.Market.Provider, "must be 'simulated' or 'bybit'")
	}
	switch c.Predictor.Kind {
	case "simulated", "openai", "onnx":
	default:
		return apperrors.NewValidationError("predictor.kind", c.Predictor.Kind, "must be 'simulated', 'openai' or 'onnx'")
	}
	if c.Predictor.Kind == "onnx" && c.Predictor.ONNXPath == "" {
		return apperrors.NewValidationError("predictor.onnx_path", c.Predictor.ONNXPath, "required for the onnx predictor")
	}
	switch c.Store.Driver {
	case "sqlite", "postgres", "none":
	default:
		return apperrors.NewValidationError("store.driver", c.Store.Driver, "must be 'sqlite', 'postgres' or 'none'")
	}

	return nil
}

// IsSimulated returns true if market data comes from the built-in simulator.
func (c *Config) IsSimulated() bool {
	return c.Market.Provider == "simulated"
}
