// Package config provides configuration management for the trading application.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/models"
)

// Config holds all application configuration.
type Config struct {
	Trading       TradingConfig      `mapstructure:"trading"`
	Risk          RiskConfig         `mapstructure:"risk"`
	Ensemble      EnsembleConfig     `mapstructure:"ensemble"`
	Broker        BrokerConfig       `mapstructure:"broker"`
	Watch         WatchConfig        `mapstructure:"watch"`
	Accumulate    AccumulateConfig   `mapstructure:"accumulate"`
	Notifications NotificationConfig `mapstructure:"notifications"`
	Server        ServerConfig       `mapstructure:"server"`
	Database      DatabaseConfig     `mapstructure:"database"`
	Logging       LoggingConfig      `mapstructure:"logging"`
	Credentials   Credentials        `mapstructure:"-"` // Loaded separately
}

// TradingConfig holds trading-related configuration.
type TradingConfig struct {
	Mode      string `mapstructure:"mode"` // "virtual", "paper", "live"
	AutoTrade bool   `mapstructure:"auto_trade"`
}

// RiskConfig holds the default risk parameters. Runtime overrides live in
// the settings store.
type RiskConfig struct {
	AccountEquity       float64 `mapstructure:"account_equity"`
	MaxPositionRatio    float64 `mapstructure:"max_position_ratio"`
	MinStopLossDistance float64 `mapstructure:"min_stop_loss_distance"`
}

// EnsembleConfig holds advisor and aggregation configuration.
type EnsembleConfig struct {
	Algorithm           string             `mapstructure:"algorithm"`
	ConfidenceThreshold float64            `mapstructure:"confidence_threshold"`
	BaseURL             string             `mapstructure:"base_url"`
	DefaultModel        string             `mapstructure:"default_model"`
	Temperature         float64            `mapstructure:"temperature"`
	MaxTokens           int                `mapstructure:"max_tokens"`
	RequestTimeout      time.Duration      `mapstructure:"request_timeout"`
	Advisors            []string           `mapstructure:"advisors"`
	Weights             map[string]float64 `mapstructure:"weights"`
	Models              map[string]string  `mapstructure:"models"`
	Breaker             BreakerConfig      `mapstructure:"breaker"`
}

// BreakerConfig configures the circuit breaker around the model endpoint.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// BrokerConfig holds brokerage configuration.
type BrokerConfig struct {
	Exchange     string `mapstructure:"exchange"`
	Product      string `mapstructure:"product"`
	PaperBaseURI string `mapstructure:"paper_base_uri"`
}

// WatchConfig holds the polling loop configuration.
type WatchConfig struct {
	Symbols         []string      `mapstructure:"symbols"`
	Interval        time.Duration `mapstructure:"interval"`
	MarketHoursOnly bool          `mapstructure:"market_hours_only"`
}

// AccumulateConfig holds fixed-amount periodic buying configuration.
type AccumulateConfig struct {
	Enabled      bool     `mapstructure:"enabled"`
	Symbols      []string `mapstructure:"symbols"`
	InvestAmount float64  `mapstructure:"invest_amount"`
	MaxPrice     float64  `mapstructure:"max_price"` // 0 disables the cap
}

// NotificationConfig holds notification configuration.
type NotificationConfig struct {
	Level    string         `mapstructure:"level"` // all, trades_only, errors_only
	Discord  DiscordConfig  `mapstructure:"discord"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// DiscordConfig holds Discord webhook configuration.
type DiscordConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig holds sqlite configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logger configuration.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  bool   `mapstructure:"file"`
	Path  string `mapstructure:"path"`
}

// Credentials holds API credentials.
type Credentials struct {
	Kite       KiteCredentials       `mapstructure:"kite"`
	OpenRouter OpenRouterCredentials `mapstructure:"openrouter"`
}

// KiteCredentials holds Kite Connect API credentials.
type KiteCredentials struct {
	APIKey      string `mapstructure:"api_key"`
	AccessToken string `mapstructure:"access_token"`
}

// OpenRouterCredentials holds the model endpoint API key.
type OpenRouterCredentials struct {
	APIKey string `mapstructure:"api_key"`
}

// DefaultWeights are the per-advisor weights used by weighted majority.
var DefaultWeights = map[string]float64{
	"technical_analysis":   0.25,
	"fundamental_analysis": 0.20,
	"sentiment_analysis":   0.20,
	"risk_evaluation":      0.20,
	"momentum_analysis":    0.15,
}

// DefaultAdvisors lists the advisors consulted when none are configured.
var DefaultAdvisors = []string{
	"technical_analysis",
	"fundamental_analysis",
	"sentiment_analysis",
	"risk_evaluation",
	"momentum_analysis",
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/ensemble-trader"
	}
	return filepath.Join(home, ".config", "ensemble-trader")
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	v := viper.New()
	setDefaults(v, DefaultConfigDir())
	_ = v.Unmarshal(cfg)
	return cfg
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory. Missing files
// are created from templates and loading continues with defaults.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{}

	if err := loadConfigFile(configDir, cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	if err := loadCredentials(configDir, &cfg.Credentials); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w: %w", apperrors.ErrConfigInvalid, err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, configDir string) {
	v.SetDefault("trading.mode", string(models.ModeVirtual))
	v.SetDefault("trading.auto_trade", false)

	v.SetDefault("risk.account_equity", 100000.0)
	v.SetDefault("risk.max_position_ratio", 0.10)
	v.SetDefault("risk.min_stop_loss_distance", 0.03)

	v.SetDefault("ensemble.algorithm", string(models.AlgorithmWeightedMajority))
	v.SetDefault("ensemble.confidence_threshold", 0.6)
	v.SetDefault("ensemble.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("ensemble.temperature", 0.2)
	v.SetDefault("ensemble.max_tokens", 800)
	v.SetDefault("ensemble.request_timeout", 60*time.Second)
	v.SetDefault("ensemble.advisors", DefaultAdvisors)
	v.SetDefault("ensemble.weights", DefaultWeights)
	v.SetDefault("ensemble.breaker.max_failures", 5)
	v.SetDefault("ensemble.breaker.open_timeout", 30*time.Second)

	v.SetDefault("broker.exchange", string(models.NSE))
	v.SetDefault("broker.product", string(models.ProductCNC))

	v.SetDefault("watch.interval", 300*time.Second)
	v.SetDefault("watch.market_hours_only", false)

	v.SetDefault("accumulate.enabled", false)
	v.SetDefault("accumulate.invest_amount", 0.0)

	v.SetDefault("notifications.level", "trades_only")

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("database.path", filepath.Join(configDir, "trading.db"))

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.path", filepath.Join(configDir, "logs", "trader.log"))
}

func loadConfigFile(configDir string, cfg *Config) error {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		if err := createTemplate(configDir, "config.toml", configTemplate, 0644); err != nil {
			return err
		}
	}

	return v.Unmarshal(cfg)
}

func loadCredentials(configDir string, creds *Credentials) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// Use restricted permissions for credentials file
		return createTemplate(configDir, "credentials.toml", credentialsTemplate, 0600)
	}

	return v.Unmarshal(creds)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KITE_API_KEY"); v != "" {
		cfg.Credentials.Kite.APIKey = v
	}
	if v := os.Getenv("KITE_ACCESS_TOKEN"); v != "" {
		cfg.Credentials.Kite.AccessToken = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.Credentials.OpenRouter.APIKey = v
	}

	if v := os.Getenv("TRADING_MODE"); v != "" {
		cfg.Trading.Mode = v
	}
	if v := os.Getenv("AUTO_TRADE_ENABLED"); v != "" {
		cfg.Trading.AutoTrade = parseBool(v, cfg.Trading.AutoTrade)
	}

	if v := os.Getenv("DISCORD_WEBHOOK_URL"); v != "" {
		cfg.Notifications.Discord.WebhookURL = v
	}
	if v := os.Getenv("DISCORD_ENABLED"); v != "" {
		cfg.Notifications.Discord.Enabled = parseBool(v, cfg.Notifications.Discord.Enabled)
	}

	if v := os.Getenv("WATCH_SYMBOLS"); v != "" {
		cfg.Watch.Symbols = splitSymbols(v)
	}
	if v := os.Getenv("POLL_INTERVAL_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.Watch.Interval = time.Duration(secs) * time.Second
		}
	}

	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
}

func parseBool(s string, fallback bool) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return b
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if sym := strings.ToUpper(strings.TrimSpace(part)); sym != "" {
			out = append(out, sym)
		}
	}
	return out
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Trading.Mode != "" {
		if _, ok := models.ParseExecutionMode(c.Trading.Mode); !ok {
			return fmt.Errorf("invalid trading mode: %s (must be 'virtual', 'paper' or 'live')", c.Trading.Mode)
		}
	}

	if c.Risk.AccountEquity < 0 {
		return fmt.Errorf("account_equity must be non-negative")
	}
	if c.Risk.MaxPositionRatio < 0 || c.Risk.MaxPositionRatio > 1 {
		return fmt.Errorf("max_position_ratio must be between 0 and 1")
	}
	if c.Risk.MinStopLossDistance < 0 || c.Risk.MinStopLossDistance >= 1 {
		return fmt.Errorf("min_stop_loss_distance must be in [0, 1)")
	}

	if c.Ensemble.ConfidenceThreshold < 0 {
		return fmt.Errorf("confidence_threshold must be non-negative")
	}
	for name, w := range c.Ensemble.Weights {
		if w < 0 {
			return fmt.Errorf("weight for %s must be non-negative", name)
		}
	}

	if c.Accumulate.InvestAmount < 0 {
		return fmt.Errorf("invest_amount must be non-negative")
	}

	return nil
}

// AdvisorModel returns the model configured for an advisor.
func (c *Config) AdvisorModel(name string) string {
	if m, ok := c.Ensemble.Models[name]; ok && m != "" {
		return m
	}
	return c.Ensemble.DefaultModel
}

// HasBrokerCredentials reports whether Kite Connect credentials are present.
func (c *Config) HasBrokerCredentials() bool {
	return c.Credentials.Kite.APIKey != "" && c.Credentials.Kite.AccessToken != ""
}
