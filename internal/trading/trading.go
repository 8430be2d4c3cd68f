// Package trading provides the risk filter, the execution dispatcher and the
// decision pipeline that ties them to the advisor ensemble.
package trading

import (
	"context"

	"ensemble-trader/internal/broker"
	"ensemble-trader/internal/config"
	"ensemble-trader/internal/models"
)

// Ledger applies simulated fills.
type Ledger interface {
	ApplyFill(ctx context.Context, symbol string, side models.OrderSide, quantity, price float64) (models.Fill, error)
}

// BrokerageFactory resolves the brokerage client for paper or live mode.
type BrokerageFactory func(ctx context.Context, mode models.ExecutionMode) (broker.Brokerage, error)

// TradeLogger appends executed trades to the trade log.
type TradeLogger interface {
	Record(ctx context.Context, rec models.TradeRecord) (int64, error)
}

// Notifier announces executed trades.
type Notifier interface {
	SendTradeAlert(ctx context.Context, symbol string, snap models.MarketSnapshot, decision models.Decision, orderID string, mode models.ExecutionMode) error
}

// ModeProvider yields the execution mode in force for a call.
type ModeProvider interface {
	ExecutionMode(ctx context.Context) (models.ExecutionMode, error)
}

// RiskProvider yields the risk parameters in force for a call.
type RiskProvider interface {
	RiskParams(ctx context.Context) (config.RiskParams, error)
}

// Analyzer produces an aggregated decision for a snapshot.
type Analyzer interface {
	RunAnalysis(ctx context.Context, snap models.MarketSnapshot) (models.Decision, error)
}
