package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ensemble-trader/internal/models"
	"ensemble-trader/internal/performance"
	"ensemble-trader/internal/store"
	"ensemble-trader/pkg/utils"
)

func newModeCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mode",
		Short: "Show or change the execution mode",
		Long: `Show the execution mode in force. Orders in virtual mode fill on the
internal ledger, paper mode uses the brokerage sandbox and live mode places
real orders.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := app.Settings.ExecutionMode(cmd.Context())
			if err != nil {
				return err
			}
			return printMode(NewOutput(cmd), mode)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:       "set <virtual|paper|live>",
		Short:     "Change the execution mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(models.ModeVirtual), string(models.ModePaper), string(models.ModeLive)},
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := app.Settings.SetExecutionMode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			app.Logger.Info().Str("mode", string(mode)).Msg("Trading mode changed")
			return printMode(NewOutput(cmd), mode)
		},
	})

	return cmd
}

func printMode(output *Output, mode models.ExecutionMode) error {
	if output.IsJSON() {
		return output.JSON(map[string]models.ExecutionMode{"mode": mode})
	}
	if mode == models.ModeLive {
		output.Warning("Execution mode: %s (real orders)", mode)
		return nil
	}
	output.Info("Execution mode: %s", mode)
	return nil
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List virtual ledger positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			positions, err := app.Ledger.Positions(cmd.Context())
			if err != nil {
				return err
			}
			if output.IsJSON() {
				return output.JSON(positions)
			}
			if len(positions) == 0 {
				output.Dim("No virtual positions.")
				return nil
			}
			table := NewTable(output, "SYMBOL", "QTY", "AVG PRICE", "COST", "UPDATED")
			for _, p := range positions {
				table.AddRow(
					p.Symbol,
					utils.FormatQuantity(p.Quantity),
					FormatOptional(&p.AverageCost),
					FormatOptional(models.Float(p.Quantity*p.AverageCost)),
					p.UpdatedAt.Local().Format("2006-01-02 15:04"),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newTradesCmd(app *App) *cobra.Command {
	var filter store.TradeFilter
	var mode string

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show the trade log with a performance summary",
		Example: `  trader trades
  trader trades --symbol INFY --mode virtual --limit 10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if mode != "" {
				m, ok := models.ParseExecutionMode(mode)
				if !ok {
					return fmt.Errorf("invalid mode %q", mode)
				}
				filter.Mode = m
			}
			filter.Symbol = strings.ToUpper(filter.Symbol)

			trades, err := app.Store.RecentTrades(cmd.Context(), filter)
			if err != nil {
				return err
			}
			summary := performance.Summarize(trades)

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{
					"trades":  trades,
					"summary": summary,
				})
			}
			if len(trades) == 0 {
				output.Dim(summary.String())
				return nil
			}

			table := NewTable(output, "TIME", "SYMBOL", "SIDE", "CONF", "ENTRY", "EXIT", "P&L", "MODE", "ORDER")
			for _, t := range trades {
				pnl := "-"
				if t.PnL != nil {
					pnl = fmt.Sprintf("%.2f", *t.PnL)
				}
				table.AddRow(
					t.Timestamp.Local().Format("2006-01-02 15:04"),
					t.Symbol,
					string(t.Decision),
					fmt.Sprintf("%.2f", t.Confidence),
					FormatOptional(&t.EntryPrice),
					FormatOptional(t.ExitPrice),
					pnl,
					string(t.Mode),
					t.OrderID,
				)
			}
			table.Render()
			output.Println()
			output.Bold("Performance")
			output.Println(summary.String())
			return nil
		},
	}

	cmd.Flags().IntVar(&filter.Limit, "limit", store.DefaultTradeLimit, "number of trades to show")
	cmd.Flags().StringVar(&filter.Symbol, "symbol", "", "only trades for this symbol")
	cmd.Flags().StringVar(&mode, "mode", "", "only trades in this mode")
	return cmd
}
