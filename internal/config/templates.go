package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Ensemble Trader Configuration

[trading]
# Execution mode: "virtual", "paper" or "live"
# The value stored at runtime (mode command / API) takes precedence.
mode = "virtual"
# Execute decisions from the watch loop automatically
auto_trade = false

[risk]
# Account equity used for position sizing
account_equity = 100000.0
# Fraction of equity committed per trade
max_position_ratio = 0.10
# Minimum distance of the stop-loss below the current price
min_stop_loss_distance = 0.03

[ensemble]
# Aggregation algorithm: weighted_majority, unanimous
algorithm = "weighted_majority"
# Score a side must strictly exceed to trade (weighted_majority)
confidence_threshold = 0.6
# OpenAI-compatible endpoint
base_url = "https://openrouter.ai/api/v1"
# Model for every advisor without an entry in [ensemble.models].
# Empty keeps each advisor's built-in default.
default_model = ""
temperature = 0.2
max_tokens = 800
request_timeout = "60s"
advisors = ["technical_analysis", "fundamental_analysis", "sentiment_analysis", "risk_evaluation", "momentum_analysis"]

[ensemble.weights]
technical_analysis = 0.25
fundamental_analysis = 0.20
sentiment_analysis = 0.20
risk_evaluation = 0.20
momentum_analysis = 0.15

[ensemble.models]
# technical_analysis = "anthropic/claude-3.5-sonnet"

[ensemble.breaker]
max_failures = 5
open_timeout = "30s"

[broker]
exchange = "NSE"
product = "CNC"
# Kite Connect sandbox root used in paper mode
paper_base_uri = ""

[watch]
symbols = []
interval = "5m"
# Skip polling cycles outside NSE trading hours (09:15-15:30 IST, Mon-Fri)
market_hours_only = false

[accumulate]
enabled = false
symbols = []
invest_amount = 0.0
# Skip buying above this price (0 disables the cap)
max_price = 0.0

[notifications]
# Notification level: all, trades_only, errors_only
level = "trades_only"

[notifications.discord]
enabled = false
webhook_url = ""

[notifications.webhook]
enabled = false
url = ""

[notifications.telegram]
enabled = false
bot_token = ""
chat_id = ""

[server]
addr = ":8000"

[logging]
level = "info"
file = true
`

const credentialsTemplate = `# Ensemble Trader Credentials
# WARNING: Keep this file secure! Do not commit to version control.

[kite]
api_key = ""
access_token = ""

[openrouter]
api_key = ""
`

func createTemplate(configDir, name, content string, perm os.FileMode) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, name)
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		return fmt.Errorf("writing %s template: %w", name, err)
	}

	return nil
}
