// Package cli provides the command-line interface for the trading application.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2024-06-01"
)

// NewRootCmd creates the root command for the CLI. The application is
// assembled lazily once flags are parsed, so --config takes effect.
func NewRootCmd(logger zerolog.Logger) *cobra.Command {
	return newRootCmd(&App{Logger: logger})
}

func newRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "trader",
		Short: "Ensemble Trader - LLM ensemble trading decisions",
		Long: `Ensemble Trader asks a panel of LLM advisors about a stock, folds their
votes into one decision, sizes it against the account and executes it on a
virtual ledger, the brokerage sandbox or the live account.

The execution mode is read on every trade; change it with 'trader mode set'.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			configDir, _ := cmd.Flags().GetString("config")
			debug, _ := cmd.Flags().GetBool("debug")
			return app.Open(configDir, debug)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return app.Close()
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/ensemble-trader)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newVersionCmd(),
		newAnalyzeCmd(app),
		newTradeCmd(app),
		newModeCmd(app),
		newPositionsCmd(app),
		newTradesCmd(app),
		newWatchCmd(app),
		newServeCmd(app),
	)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
				})
			}
			output.Printf("Ensemble Trader v%s\n", Version)
			output.Dim("Build date: %s", BuildDate)
			return nil
		},
	}
}
