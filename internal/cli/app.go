package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ensemble-trader/internal/agents"
	"ensemble-trader/internal/broker"
	"ensemble-trader/internal/config"
	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
	"ensemble-trader/internal/notify"
	"ensemble-trader/internal/resilience"
	"ensemble-trader/internal/security"
	"ensemble-trader/internal/store"
	"ensemble-trader/internal/trading"
)

// App holds the application dependencies.
type App struct {
	Config   *config.Config
	Logger   zerolog.Logger
	Store    *store.SQLiteStore
	Settings *config.Settings
	Ledger   *broker.VirtualLedger
	Notifier *notify.MultiNotifier

	// llm overrides the OpenRouter client; tests set it.
	llm      agents.LLMClient
	breaker  interface{ BreakerState() string }
	pipeline *trading.Pipeline
}

// Open loads configuration from configDir and opens the database.
func (a *App) Open(configDir string, debug bool) error {
	cfg, err := config.Load(configDir)
	if err != nil {
		return err
	}
	a.Config = cfg

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	logCfg := logging.DefaultLogConfig()
	logCfg.Level = level
	logCfg.File = cfg.Logging.File
	logCfg.FilePath = cfg.Logging.Path
	a.Logger = logging.NewLoggerWithConfig(logCfg)

	db, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database %s: %w", cfg.Database.Path, err)
	}
	a.Store = db
	a.Settings = config.NewSettings(db, cfg)
	a.Ledger = broker.NewVirtualLedger(db)
	a.Notifier = notify.NewMultiNotifier(cfg.Notifications, db, a.Logger)

	a.Logger.Debug().
		Str("database", cfg.Database.Path).
		Strs("channels", a.Notifier.Channels()).
		Msg("Application opened")
	return nil
}

// Close releases the database.
func (a *App) Close() error {
	if a.Store == nil {
		return nil
	}
	err := a.Store.Close()
	a.Store = nil
	return err
}

// Pipeline assembles the advisors, ensemble, risk filter and dispatcher.
// Without an OpenRouter API key the advisors degrade to HOLD; the market
// data source is optional.
func (a *App) Pipeline() (*trading.Pipeline, error) {
	if a.pipeline != nil {
		return a.pipeline, nil
	}
	cfg := a.Config

	client := a.llm
	if client == nil {
		oc, err := agents.NewOpenAIClient(agents.OpenAIClientConfig{
			APIKey:      cfg.Credentials.OpenRouter.APIKey,
			BaseURL:     cfg.Ensemble.BaseURL,
			Temperature: float32(cfg.Ensemble.Temperature),
			MaxTokens:   cfg.Ensemble.MaxTokens,
			Timeout:     cfg.Ensemble.RequestTimeout,
			MaxFailures: cfg.Ensemble.Breaker.MaxFailures,
			OpenTimeout: cfg.Ensemble.Breaker.OpenTimeout,
		}, a.Logger)
		switch {
		case errors.Is(err, apperrors.ErrMissingCredentials):
			a.Logger.Warn().Err(err).Msg("No OpenRouter API key, every advisor will fall back to HOLD")
			uc := agents.UnavailableClient{Err: err}
			client = uc
			a.breaker = uc
		case err != nil:
			return nil, err
		default:
			client = oc
			a.breaker = oc
		}
	}

	advisors, err := agents.NewLLMAdvisors(cfg.Ensemble.Advisors, cfg.AdvisorModel, client, a.Logger)
	if err != nil {
		return nil, err
	}
	ensemble := agents.NewEnsemble(advisors, cfg.Ensemble.Weights, a.Settings, a.Logger)

	var source broker.SnapshotSource
	if cfg.HasBrokerCredentials() {
		zb, err := broker.NewZerodhaBroker(broker.ZerodhaConfig{
			APIKey:      cfg.Credentials.Kite.APIKey,
			AccessToken: cfg.Credentials.Kite.AccessToken,
			Exchange:    models.Exchange(cfg.Broker.Exchange),
			Product:     models.ProductType(cfg.Broker.Product),
		}, a.Logger)
		if err != nil {
			return nil, err
		}
		source = zb
	} else {
		a.Logger.Debug().Msg("No Kite credentials, market snapshots must be supplied")
	}

	dispatcher := trading.NewDispatcher(trading.DispatcherConfig{
		Modes:     a.Settings,
		Ledger:    a.Ledger,
		Brokerage: broker.NewBrokerageFactory(cfg, a.Logger),
		Trades:    a.Store,
		Notifier:  a.Notifier,
		Exchange:  models.Exchange(cfg.Broker.Exchange),
		Product:   models.ProductType(cfg.Broker.Product),
		Logger:    a.Logger,
	})

	a.pipeline = trading.NewPipeline(source, ensemble, trading.NewRiskFilter(a.Settings), dispatcher, a.Logger)
	a.Logger.Debug().Strs("advisors", ensemble.Advisors()).Msg("Pipeline ready")
	return a.pipeline, nil
}

// HealthMonitor registers checks for the database, the runtime settings and
// the LLM circuit breaker. Call it after Pipeline.
func (a *App) HealthMonitor() *resilience.HealthMonitor {
	m := resilience.NewHealthMonitor(resilience.DefaultHealthMonitorConfig(), a.Logger)
	m.RegisterComponent("store", resilience.Probe(a.Store.Ping))
	m.RegisterComponent("settings", resilience.Probe(func(ctx context.Context) error {
		_, err := a.Settings.ExecutionMode(ctx)
		return err
	}))
	if a.breaker != nil {
		m.RegisterComponent("llm", func(context.Context) resilience.ComponentHealth {
			state := a.breaker.BreakerState()
			h := resilience.ComponentHealth{
				Status:  resilience.HealthStatusHealthy,
				Details: map[string]interface{}{"breaker": state},
			}
			if state != "closed" {
				h.Status = resilience.HealthStatusDegraded
				h.Message = "circuit breaker " + state
				if state == "unavailable" {
					h.Message = "model client not configured"
				}
			}
			return h
		})
	}
	return m
}

// WatchConfig builds the polling loop configuration from the file config.
func (a *App) WatchConfig() trading.WatchConfig {
	cfg := a.Config
	wc := trading.WatchConfig{
		Symbols:         cfg.Watch.Symbols,
		Interval:        cfg.Watch.Interval,
		AutoTrade:       cfg.Trading.AutoTrade,
		MarketHoursOnly: cfg.Watch.MarketHoursOnly,
		Plan: trading.AccumulationPlan{
			Enabled:      cfg.Accumulate.Enabled,
			InvestAmount: cfg.Accumulate.InvestAmount,
			MaxPrice:     cfg.Accumulate.MaxPrice,
		},
	}
	if cfg.Accumulate.Enabled {
		wc.Accumulate = cfg.Accumulate.Symbols
	}
	return wc
}

// snapshot returns the market view for symbol. A positive price builds a
// manual snapshot; otherwise the brokerage quote is used.
func snapshot(ctx context.Context, p *trading.Pipeline, symbol string, price float64) (models.MarketSnapshot, error) {
	symbol, err := security.NormalizeSymbol(symbol)
	if err != nil {
		return models.MarketSnapshot{}, err
	}
	if price > 0 {
		return models.MarketSnapshot{
			Symbol:       symbol,
			Timestamp:    time.Now(),
			CurrentPrice: price,
		}, nil
	}
	snap, err := p.Snapshot(ctx, symbol)
	if err != nil {
		return models.MarketSnapshot{}, fmt.Errorf("fetching snapshot for %s (use --price to supply one): %w", symbol, err)
	}
	return snap, nil
}
