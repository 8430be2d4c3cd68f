// Package broker provides brokerage integration and the virtual position ledger.
package broker

import (
	"context"

	"ensemble-trader/internal/models"
)

// Brokerage places orders against a real brokerage account.
type Brokerage interface {
	// PlaceOrder submits order and returns the brokerage's order id.
	PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error)
}

// SnapshotSource provides the market view for one analysis cycle.
type SnapshotSource interface {
	Snapshot(ctx context.Context, symbol string) (models.MarketSnapshot, error)
}

// OrderResult represents the result of an order placement.
type OrderResult struct {
	OrderID string
	Status  string
	Message string
}

// MarketOrder builds a day-valid market order.
func MarketOrder(symbol string, exchange models.Exchange, product models.ProductType, side models.OrderSide, qty int) *models.Order {
	return &models.Order{
		Symbol:   symbol,
		Exchange: exchange,
		Side:     side,
		Type:     models.OrderTypeMarket,
		Product:  product,
		Quantity: qty,
		Validity: models.ValidityDay,
	}
}
