// Package cli provides the command-line interface for the trader.
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"omni-trader/internal/config"
	"omni-trader/internal/logging"
	"omni-trader/internal/security"
)

// Version information
const (
	Version   = "0.3.0"
	BuildDate = "2026-10-01"
)

// App holds the state shared by every command.
type App struct {
	ConfigDir string
	Config    *config.Config
	Logger    zerolog.Logger
}

// ExitError carries a process exit code out of a command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute runs the root command and returns the process exit code.
func Execute() int {
	cmd := NewRootCmd()
	err := cmd.Execute()
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		if exit.Err != nil {
			fmt.Fprintln(os.Stderr, "Error:", exit.Err)
		}
		return exit.Code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return 1
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd() *cobra.Command {
	app := &App{Logger: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Capital-constrained crypto trade lifecycle simulator",
		Long: `trader runs a leveraged perpetual-futures trading loop against a fixed
capital pool. It scans the market, scores instruments, opens trades while
capital allows and closes them on stop-loss, take-profit or drawdown.

Use 'trader run --duration 1h' to start a bounded simulation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.init(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&app.ConfigDir, "config-dir", "", "config directory (default: ~/.config/omni-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
	rootCmd.AddCommand(newRunCmd(app))
	rootCmd.AddCommand(newHistoryCmd(app))
	rootCmd.AddCommand(newReportCmd(app))

	return rootCmd
}

func (a *App) init(cmd *cobra.Command) error {
	if a.Config != nil {
		return nil
	}
	cfg, err := config.Load(a.ConfigDir)
	if err != nil {
		return err
	}
	a.Config = cfg

	logCfg := logging.LogConfig{
		Level:      cfg.Logging.Level,
		Console:    cfg.Logging.Console,
		File:       cfg.Logging.File,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Out:        cmd.ErrOrStderr(),
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		logCfg.Level = "debug"
	}
	a.Logger = logging.NewLoggerWithConfig(logCfg)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// No config needed.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("omni-trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate the application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			redacted := redact(app.Config)
			if output.IsJSON() {
				return output.JSON(redacted)
			}
			showConfig(output, redacted)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			path := config.ConfigPath(app.ConfigDir)
			if output.IsJSON() {
				return output.JSON(map[string]string{"path": path})
			}
			output.Println(path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				return output.JSON(map[string]bool{"valid": true})
			}
			output.Success("Configuration is valid")
			return nil
		},
	})

	return cmd
}

// redact returns a copy of cfg safe to print.
func redact(cfg *config.Config) *config.Config {
	c := *cfg
	c.Predictor.APIKey = security.MaskCredential(c.Predictor.APIKey)
	c.Store.DSN = security.MaskSensitive(c.Store.DSN)
	return &c
}

func showConfig(output *Output, cfg *config.Config) {
	output.Bold("Capital")
	output.Printf("  Total:           %.4f USDT\n", cfg.Capital.Total)
	output.Printf("  Per trade:       %.4f - %.4f USDT\n", cfg.Capital.MinTradeCapital, cfg.Capital.MaxTradeCapital)
	output.Printf("  Leverage:        %dx - %dx\n", cfg.Leverage.Min, cfg.Leverage.Max)
	output.Println()

	output.Bold("Risk")
	output.Printf("  Max drawdown:    %.2f%%\n", cfg.Risk.MaxDrawdown*100)
	output.Printf("  Stop loss:       %.2f%% of entry\n", cfg.Risk.StopLossPercent*100)
	output.Printf("  Take profit:     %.4f USDT\n", cfg.Risk.TakeProfit)
	output.Printf("  Flatten on stop: %v\n", cfg.Risk.FlattenOnStop)
	output.Println()

	output.Bold("Providers")
	output.Printf("  Market:          %s\n", cfg.Market.Provider)
	output.Printf("  Predictor:       %s\n", cfg.Predictor.Kind)
	output.Printf("  Store:           %s\n", cfg.Store.Driver)
	output.Printf("  API:             %v (%s)\n", cfg.API.Enabled, cfg.API.Addr)
	output.Printf("  Stream:          %v (%s)\n", cfg.Stream.Enabled, cfg.Stream.Addr)
	output.Println()

	output.Bold("Loops")
	output.Printf("  Catalog:         %s\n", cfg.Loops.CatalogInterval)
	output.Printf("  Trading:         %s\n", cfg.Loops.TradingInterval)
	output.Printf("  Risk:            %s\n", cfg.Loops.RiskInterval)
	output.Printf("  Performance:     %s\n", cfg.Loops.PerformanceInterval)
}
