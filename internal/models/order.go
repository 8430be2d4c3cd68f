package models

// OrderType represents the type of order.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce represents order validity.
type TimeInForce string

const (
	ValidityDay TimeInForce = "DAY"
	ValidityIOC TimeInForce = "IOC"
)

// Order is a brokerage order request.
type Order struct {
	Symbol   string
	Exchange Exchange
	Side     OrderSide
	Type     OrderType
	Product  ProductType
	Quantity int
	Validity TimeInForce
	Tag      string
}
