// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"ensemble-trader/internal/models"
)

// DataStore defines the interface for data persistence.
type DataStore interface {
	// Trade log
	Record(ctx context.Context, rec models.TradeRecord) (int64, error)
	RecentTrades(ctx context.Context, filter TradeFilter) ([]models.TradeRecord, error)

	// Runtime settings
	Get(ctx context.Context, key, def string) (string, error)
	Set(ctx context.Context, key, value string) error

	// Virtual positions
	GetPosition(ctx context.Context, symbol string) (*models.VirtualPosition, error)
	UpsertPosition(ctx context.Context, pos models.VirtualPosition) error
	UpdateQuantity(ctx context.Context, symbol string, quantity float64, at time.Time) error
	DeletePosition(ctx context.Context, symbol string) error
	ListPositions(ctx context.Context) ([]models.VirtualPosition, error)

	// Lifecycle
	Close() error
}

// DefaultTradeLimit is the number of trades returned when no limit is given.
const DefaultTradeLimit = 50

// TradeFilter represents filters for querying trades.
type TradeFilter struct {
	Symbol string
	Mode   models.ExecutionMode
	Since  time.Time
	Limit  int
}
