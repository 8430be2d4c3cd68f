package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"ensemble-trader/internal/api"
	"ensemble-trader/internal/notify"
	"ensemble-trader/internal/trading"
)

type watchFlags struct {
	symbols     []string
	interval    time.Duration
	autoTrade   bool
	marketHours bool
}

func (f *watchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.symbols, "symbols", nil, "symbols to watch (default: watch.symbols)")
	cmd.Flags().DurationVar(&f.interval, "interval", 0, "polling interval (default: watch.interval)")
	cmd.Flags().BoolVar(&f.autoTrade, "auto-trade", false, "execute decisions (default: trading.auto_trade)")
	cmd.Flags().BoolVar(&f.marketHours, "market-hours", false, "only poll during NSE trading hours (default: watch.market_hours_only)")
}

func (f *watchFlags) apply(cmd *cobra.Command, wc trading.WatchConfig) trading.WatchConfig {
	if len(f.symbols) > 0 {
		wc.Symbols = make([]string, 0, len(f.symbols))
		for _, s := range f.symbols {
			if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
				wc.Symbols = append(wc.Symbols, s)
			}
		}
	}
	if f.interval > 0 {
		wc.Interval = f.interval
	}
	if cmd.Flags().Changed("auto-trade") {
		wc.AutoTrade = f.autoTrade
	}
	if cmd.Flags().Changed("market-hours") {
		wc.MarketHoursOnly = f.marketHours
	}
	return wc
}

// newWatcher builds the polling loop and reports its results through
// output and the notifier's error channel.
func newWatcher(app *App, p *trading.Pipeline, wc trading.WatchConfig, output *Output) *trading.Watcher {
	w := trading.NewWatcher(p, wc, app.Logger)
	w.OnResult = func(res *trading.Result) {
		if output.IsJSON() {
			_ = output.JSON(tradeOutput(res))
			return
		}
		line := fmt.Sprintf("%s %s %s conf %.2f", time.Now().Format("15:04:05"), res.Symbol, output.Vote(res.Decision.Final), res.Decision.Confidence)
		if id := res.OrderID(); id != "" {
			line += fmt.Sprintf(" -> %s %d (%s)", res.Receipt.Side, res.Receipt.Quantity, id)
		}
		output.Println(line)
		if res.ExecError != nil {
			output.Error("  execution failed: %v", res.ExecError)
			if err := app.Notifier.SendError(context.Background(), res.ExecError, "execute "+res.Symbol); err != nil {
				app.Logger.Warn().Err(err).Msg("Error notification failed")
			}
		}
	}
	return w
}

func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}

func newWatchCmd(app *App) *cobra.Command {
	var flags watchFlags
	var bell bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll symbols and run the pipeline on an interval",
		Long: `Every interval, analyze each watched symbol and, with auto trading on,
execute the decision. Accumulation symbols are bought on every cycle when
accumulation is enabled. Stops on Ctrl+C.`,
		Example: `  trader watch --symbols INFY,TCS --interval 10m
  trader watch --auto-trade`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := app.Pipeline()
			if err != nil {
				return err
			}

			wc := flags.apply(cmd, app.WatchConfig())
			if len(wc.Symbols) == 0 && len(wc.Accumulate) == 0 {
				return fmt.Errorf("nothing to watch: pass --symbols or set watch.symbols")
			}

			if !output.IsJSON() {
				terminal := notify.NewTerminalNotifier(cmd.ErrOrStderr(), output.colorEnabled)
				terminal.SetBellEnabled(bell)
				app.Notifier.AddChannel(terminal)
				output.Info("Watching %s every %s (auto trade: %v)", strings.Join(wc.Symbols, ", "), wc.Interval, wc.AutoTrade)
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			w := newWatcher(app, p, wc, output)
			if err := w.Run(ctx); err != nil {
				return err
			}
			stats := w.Stats()
			if output.IsJSON() {
				return nil
			}
			output.Dim("Stopped after %d cycles: %d analyzed, %d executed, %d failed, %d skipped off-hours",
				stats.Cycles, stats.Analyzed, stats.Executed, stats.Failed, stats.Skipped)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&bell, "bell", false, "ring the terminal bell on executed trades")
	return cmd
}

func newServeCmd(app *App) *cobra.Command {
	var flags watchFlags
	var addr string
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the HTTP API. With --watch the polling loop runs alongside the
server and both stop together.`,
		Example: `  trader serve --addr :8000
  trader serve --watch --symbols INFY,TCS`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			p, err := app.Pipeline()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = app.Config.Server.Addr
			}

			server := api.NewServer(api.Deps{
				Pipeline:  p,
				Settings:  app.Settings,
				Trades:    app.Store,
				Positions: app.Ledger,
				Health:    app.HealthMonitor(),
			}, addr, app.Logger)

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			group, ctx := errgroup.WithContext(ctx)
			group.Go(func() error {
				if err := server.Start(ctx); err != nil {
					return fmt.Errorf("http server error: %w", err)
				}
				return nil
			})

			if watch {
				wc := flags.apply(cmd, app.WatchConfig())
				w := newWatcher(app, p, wc, output)
				group.Go(func() error {
					return w.Run(ctx)
				})
			}

			if !output.IsJSON() {
				output.Info("Listening on %s", addr)
			}
			return group.Wait()
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.addr)")
	cmd.Flags().BoolVar(&watch, "watch", false, "run the polling loop alongside the server")
	return cmd
}
