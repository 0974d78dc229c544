package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/grafana/pyroscope-go"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"omni-trader/internal/api"
	"omni-trader/internal/config"
	"omni-trader/internal/engine"
	"omni-trader/internal/stream"
	"omni-trader/pkg/utils"
)

func newRunCmd(app *App) *cobra.Command {
	var (
		duration time.Duration
		report   string
		profile  bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the trading engine",
		Long: `Start every loop and trade until interrupted, the duration elapses or the
drawdown limit is hit. Open trades are closed at the last price on stop
unless risk.flatten_on_stop is false.`,
		Example: `  trader run --duration 30m
  trader run --duration 2h --report summary.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if profile || app.Config.Profiling.Enabled {
				profiler, err := startProfiler(app.Config.Profiling, app.Logger)
				if err != nil {
					app.Logger.Warn().Err(err).Msg("Profiler not started")
				} else {
					defer func() { _ = profiler.Stop() }()
				}
			}

			e, cleanup, err := engine.Build(ctx, app.Config, app.Logger)
			if err != nil {
				return err
			}
			defer cleanup()
			attachServices(e, app.Config, app.Logger)

			summary, runErr := e.Run(ctx, duration)
			if summary == nil {
				return runErr
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				if err := output.JSON(summary); err != nil {
					return err
				}
			} else {
				printSummary(output, summary)
			}
			if report != "" {
				if err := writeReport(report, summary); err != nil {
					return err
				}
				app.Logger.Info().Str("path", report).Msg("Report written")
			}

			if code := summary.ExitCode(); code != 0 {
				return &ExitError{Code: code, Err: runErr}
			}
			return runErr
		},
	}

	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().StringVar(&report, "report", "", "write the final summary as YAML to this path")
	cmd.Flags().BoolVar(&profile, "profile", false, "send continuous profiles to the configured pyroscope server")

	return cmd
}

// attachServices registers the HTTP API and websocket stream when enabled.
func attachServices(e *engine.Engine, cfg *config.Config, logger zerolog.Logger) {
	if cfg.API.Enabled {
		router := api.New(e, logger)
		e.AddService("api", func(ctx context.Context) error {
			return router.Listen(ctx, cfg.API.Addr)
		})
	}
	if hub := e.Hub(); hub != nil && cfg.Stream.Addr != "" {
		srv := stream.NewServer(hub, logger)
		e.AddService("stream", func(ctx context.Context) error {
			return srv.ListenAndServe(ctx, cfg.Stream.Addr)
		})
	}
}

func startProfiler(cfg config.ProfilingConfig, logger zerolog.Logger) (*pyroscope.Profiler, error) {
	server := cfg.Server
	if server == "" {
		server = "http://localhost:4040"
	}
	logger.Info().Str("server", server).Msg("Continuous profiling enabled")
	return pyroscope.Start(pyroscope.Config{
		ApplicationName: "omni-trader",
		ServerAddress:   server,
		Tags:            map[string]string{"version": Version},
		ProfileTypes: []pyroscope.ProfileType{
			pyroscope.ProfileCPU,
			pyroscope.ProfileAllocObjects,
			pyroscope.ProfileAllocSpace,
			pyroscope.ProfileInuseObjects,
			pyroscope.ProfileInuseSpace,
			pyroscope.ProfileGoroutines,
		},
	})
}

func writeReport(path string, summary *engine.Summary) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func printSummary(output *Output, s *engine.Summary) {
	m := s.Metrics
	output.Println()
	output.Bold("Run Summary")
	output.Printf("  Duration:        %s\n", s.Duration)
	output.Printf("  Halt reason:     %s\n", s.HaltReason)
	if s.HaltError != "" {
		output.Printf("  Halt error:      %s\n", output.Red(s.HaltError))
	}
	output.Println()

	output.Bold("Capital")
	output.Printf("  Total:           %s USDT\n", s.Capital.Total)
	output.Printf("  Available:       %s USDT\n", s.Capital.Available)
	output.Printf("  Realized:        %s USDT\n", s.Capital.Realized)
	output.Println()

	output.Bold("Performance")
	output.Printf("  Trades:          %d (%d won, %d lost, %d cancelled)\n", m.TotalTrades, m.Wins, m.Losses, m.Cancelled)
	output.Printf("  Win rate:        %s\n", utils.FormatPercent(m.WinRate))
	output.Printf("  Net P&L:         %s\n", output.FormatPnL(m.NetPnL))
	output.Printf("  Avg per trade:   %s\n", output.FormatPnL(m.AvgProfitPerTrade))
	output.Printf("  Max drawdown:    %s\n", utils.FormatPercent(m.MaxDrawdownReached))
	output.Printf("  Trades today:    %d (%s of target)\n", m.TradesToday, utils.FormatPercent(m.DailyTargetProgress))
	output.Println()

	output.Bold("Validation")
	table := NewTable(output, "CHECK", "TARGET", "ACTUAL", "RESULT")
	for _, c := range s.Validation.Checks {
		table.AddRow(c.Name, fmt.Sprintf("%.4f", c.Target), fmt.Sprintf("%.4f", c.Actual), output.Check(c.Passed))
	}
	table.Render()
	if s.Validation.Passed {
		output.Success("All targets met")
	} else {
		for _, f := range s.Validation.Shortfalls() {
			output.Warning("Missed %s", f)
		}
	}
}
