package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	apperrors "omni-trader/internal/errors"
	"omni-trader/internal/models"
	"omni-trader/internal/performance"
	"omni-trader/internal/security"
	"omni-trader/internal/store"
	"omni-trader/pkg/utils"
)

const timeLayout = "2006-01-02 15:04:05"

// historyRow is the flat CSV form of a trade.
type historyRow struct {
	ID         string `csv:"id"`
	OrderID    string `csv:"order_id"`
	Symbol     string `csv:"symbol"`
	Side       string `csv:"side"`
	Leverage   int    `csv:"leverage"`
	Quantity   string `csv:"quantity"`
	Margin     string `csv:"margin"`
	EntryPrice string `csv:"entry_price"`
	ExitPrice  string `csv:"exit_price"`
	PnL        string `csv:"pnl"`
	Status     string `csv:"status"`
	OpenedAt   string `csv:"opened_at"`
	ClosedAt   string `csv:"closed_at"`
}

func toHistoryRow(t models.Trade) historyRow {
	row := historyRow{
		ID:         t.ID,
		OrderID:    t.OrderID,
		Symbol:     t.Symbol,
		Side:       string(t.Side),
		Leverage:   t.Leverage,
		Quantity:   t.Quantity.String(),
		Margin:     t.ReservedMargin.String(),
		EntryPrice: t.EntryPrice.String(),
		ExitPrice:  t.ExitPrice.String(),
		PnL:        t.RealizedPnL.StringFixed(4),
		Status:     string(t.Status),
		OpenedAt:   t.OpenedAt.UTC().Format(time.RFC3339),
	}
	if !t.ClosedAt.IsZero() {
		row.ClosedAt = t.ClosedAt.UTC().Format(time.RFC3339)
	}
	return row
}

func openStore(ctx context.Context, app *App) (store.TradeStore, error) {
	if app.Config.Store.Driver == "none" {
		return nil, apperrors.NewValidationError("store.driver", "none", "persistence is disabled")
	}
	return store.Open(ctx, app.Config.Store, app.Logger)
}

func newHistoryCmd(app *App) *cobra.Command {
	var (
		symbol string
		status string
		since  time.Duration
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show persisted trade history",
		Example: `  trader history --limit 20
  trader history --symbol BTCUSDT --status StopLoss
  trader history --since 24h --format csv > trades.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch format {
			case "table", "json", "csv":
			default:
				return apperrors.NewValidationError("format", format, "must be table, json or csv")
			}

			symbol = security.NormalizeSymbol(symbol)
			if symbol != "" {
				if err := security.ValidateSymbol(symbol); err != nil {
					return err
				}
			}
			if status != "" {
				if err := security.ValidateStatus(status); err != nil {
					return err
				}
			}

			ctx := cmd.Context()
			st, err := openStore(ctx, app)
			if err != nil {
				return err
			}
			defer st.Close()

			filter := store.TradeFilter{
				Symbol: symbol,
				Status: models.TradeStatus(status),
				Limit:  limit,
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			trades, err := st.GetTrades(ctx, filter)
			if err != nil {
				return err
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				format = "json"
			}
			return renderHistory(cmd, output, format, trades)
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "only trades for this symbol")
	cmd.Flags().StringVar(&status, "status", "", "only trades with this status (Open, StopLoss, ProfitTaken, Cancelled)")
	cmd.Flags().DurationVar(&since, "since", 0, "only trades opened within this window")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of trades")
	cmd.Flags().StringVar(&format, "format", "table", "output format: table, json or csv")

	return cmd
}

func renderHistory(cmd *cobra.Command, output *Output, format string, trades []models.Trade) error {
	switch format {
	case "json":
		if trades == nil {
			trades = []models.Trade{}
		}
		return output.JSON(trades)
	case "csv":
		rows := make([]historyRow, len(trades))
		for i, t := range trades {
			rows[i] = toHistoryRow(t)
		}
		return gocsv.Marshal(rows, cmd.OutOrStdout())
	}

	if len(trades) == 0 {
		output.Dim("No trades recorded")
		return nil
	}
	table := NewTable(output, "OPENED", "SYMBOL", "SIDE", "LEV", "MARGIN", "ENTRY", "EXIT", "P&L", "STATUS")
	for _, t := range trades {
		exit := "-"
		if !t.ExitPrice.IsZero() {
			exit = t.ExitPrice.String()
		}
		table.AddRow(
			t.OpenedAt.Local().Format(timeLayout),
			t.Symbol,
			string(t.Side),
			fmt.Sprintf("%dx", t.Leverage),
			t.ReservedMargin.StringFixed(4),
			t.EntryPrice.String(),
			exit,
			output.FormatPnL(t.RealizedPnL),
			string(t.Status),
		)
	}
	table.Render()
	output.Dim("%d trades", len(trades))
	return nil
}

func newReportCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show the latest persisted metrics snapshot and its validation",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx, app)
			if err != nil {
				return err
			}
			defer st.Close()

			m, err := st.LatestMetrics(ctx)
			if err != nil {
				if apperrors.Is(err, apperrors.ErrDataNotFound) {
					NewOutput(cmd).Dim("No metrics snapshot recorded yet")
					return nil
				}
				return err
			}

			report := struct {
				Metrics    models.PerformanceMetrics `json:"metrics" yaml:"metrics"`
				Validation performance.Validation    `json:"validation" yaml:"validation"`
			}{
				Metrics:    m,
				Validation: performance.Validate(m, app.Config.Targets, app.Config.Risk.MaxDrawdown),
			}

			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(report)
			}
			data, err := yaml.Marshal(report)
			if err != nil {
				return err
			}
			output.Bold("Metrics snapshot from %s", m.ComputedAt.Local().Format(timeLayout))
			output.Printf("%s", data)
			output.Printf("Net P&L: %s\n", utils.FormatPnL(m.NetPnL))
			return nil
		},
	}
}
