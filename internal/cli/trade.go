package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"ensemble-trader/internal/models"
	"ensemble-trader/internal/trading"
)

func newAnalyzeCmd(app *App) *cobra.Command {
	var price float64
	var sized bool

	cmd := &cobra.Command{
		Use:   "analyze <symbol>",
		Short: "Ask the advisor ensemble about a symbol",
		Long: `Consult every advisor about the symbol and print the aggregated decision.

Without --price the snapshot comes from the Kite quote; --sized also runs
the risk filter so the recommended position size and stop loss are shown.`,
		Example: `  trader analyze RELIANCE
  trader analyze INFY --price 1500 --sized`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			p, err := app.Pipeline()
			if err != nil {
				return err
			}
			snap, err := snapshot(ctx, p, args[0], price)
			if err != nil {
				return err
			}

			var d models.Decision
			if sized {
				d, err = p.Decide(ctx, snap)
			} else {
				d, err = p.Analyze(ctx, snap)
			}
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(d)
			}
			printDecision(output, snap, d)
			return nil
		},
	}

	cmd.Flags().Float64Var(&price, "price", 0, "use this price instead of fetching a quote")
	cmd.Flags().BoolVar(&sized, "sized", false, "apply the risk filter to the decision")
	return cmd
}

func newTradeCmd(app *App) *cobra.Command {
	var price float64

	cmd := &cobra.Command{
		Use:   "trade <symbol>",
		Short: "Analyze a symbol and execute the decision",
		Long: `Run the full pipeline for a symbol: ensemble, risk filter and execution
in the current mode (see 'trader mode').

A HOLD decision, or a size too small for one share, places nothing.`,
		Example: `  trader trade TCS
  trader trade INFY --price 1500`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			output := NewOutput(cmd)

			p, err := app.Pipeline()
			if err != nil {
				return err
			}
			snap, err := snapshot(ctx, p, args[0], price)
			if err != nil {
				return err
			}

			res, err := p.Trade(ctx, snap)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(tradeOutput(res))
			}
			printDecision(output, snap, res.Decision)
			output.Println()
			printResult(output, res)
			if res.ExecError != nil {
				return fmt.Errorf("execution failed: %w", res.ExecError)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&price, "price", 0, "use this price instead of fetching a quote")
	return cmd
}

type tradeJSON struct {
	Symbol   string                   `json:"symbol"`
	Decision models.Decision          `json:"decision"`
	OrderID  *string                  `json:"order_id"`
	Receipt  *models.ExecutionReceipt `json:"receipt,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

func tradeOutput(res *trading.Result) tradeJSON {
	out := tradeJSON{Symbol: res.Symbol, Decision: res.Decision, Receipt: res.Receipt}
	if id := res.OrderID(); id != "" {
		out.OrderID = &id
	}
	if res.ExecError != nil {
		out.Error = res.ExecError.Error()
	}
	return out
}

func printDecision(output *Output, snap models.MarketSnapshot, d models.Decision) {
	output.Bold("%s @ %s", snap.Symbol, FormatOptional(&snap.CurrentPrice))
	output.Printf("  Decision:   %s (%s)\n", output.Vote(d.Final), d.Algorithm)
	output.Printf("  Confidence: %.2f\n", d.Confidence)
	output.Printf("  Votes:      BUY %d / SELL %d / HOLD %d\n",
		d.Votes[models.VoteBuy], d.Votes[models.VoteSell], d.Votes[models.VoteHold])
	if d.PositionSize != nil {
		output.Printf("  Size:       %s\n", FormatOptional(d.PositionSize))
	}
	output.Printf("  Target:     %s\n", FormatOptional(d.TargetPrice))
	output.Printf("  Stop loss:  %s\n", FormatOptional(d.StopLoss))

	if len(d.Recommendations) > 0 {
		output.Println()
		table := NewTable(output, "ADVISOR", "MODEL", "VOTE", "CONF", "REASONING")
		for _, r := range d.Recommendations {
			table.AddRow(r.AdvisorID, r.Model, string(r.Vote), fmt.Sprintf("%.2f", r.Confidence), truncate(r.Rationale, 60))
		}
		table.Render()
	}

	if len(d.Dissent) > 0 {
		output.Println()
		output.Warning("Dissent:")
		for _, ds := range d.Dissent {
			output.Printf("  %s: %s\n", ds.AdvisorID, truncate(ds.Rationale, 100))
		}
	}
}

func printResult(output *Output, res *trading.Result) {
	switch {
	case res.ExecError != nil:
		output.Error("✗ Execution failed: %v", res.ExecError)
	case res.Receipt == nil:
		output.Dim("No order placed.")
	default:
		r := res.Receipt
		output.Success("✓ %s %d %s (%s), order %s", r.Side, r.Quantity, res.Symbol, r.Mode, r.OrderID)
		if r.RealizedPnL != nil {
			output.Printf("  Realized P&L: %s\n", output.FormatPnL(*r.RealizedPnL))
		}
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
