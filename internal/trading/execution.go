package trading

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ensemble-trader/internal/broker"
	"ensemble-trader/internal/config"
	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
)

// DispatcherConfig wires a Dispatcher. Trades and Notifier are optional.
type DispatcherConfig struct {
	Modes     ModeProvider
	Ledger    Ledger
	Brokerage BrokerageFactory
	Trades    TradeLogger
	Notifier  Notifier
	Exchange  models.Exchange
	Product   models.ProductType
	Logger    zerolog.Logger
}

// Dispatcher routes risk-adjusted decisions to the virtual ledger or to a
// brokerage, depending on the execution mode in force at call time.
type Dispatcher struct {
	modes     ModeProvider
	ledger    Ledger
	brokerage BrokerageFactory
	trades    TradeLogger
	notifier  Notifier
	exchange  models.Exchange
	product   models.ProductType
	logger    zerolog.Logger
	now       func() time.Time
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = models.NSE
	}
	product := cfg.Product
	if product == "" {
		product = models.ProductCNC
	}
	return &Dispatcher{
		modes:     cfg.Modes,
		ledger:    cfg.Ledger,
		brokerage: cfg.Brokerage,
		trades:    cfg.Trades,
		notifier:  cfg.Notifier,
		exchange:  exchange,
		product:   product,
		logger:    logging.WithComponent(cfg.Logger, "dispatcher"),
		now:       time.Now,
	}
}

// MaxOrderQuantity is the largest quantity an order may carry.
const MaxOrderQuantity = math.MaxInt32

// Quantity returns the whole number of units a position size buys at price.
// It returns 0 when the quotient is not a finite number of at most
// MaxOrderQuantity units.
func Quantity(positionSize, price float64) int {
	if positionSize <= 0 || price <= 0 {
		return 0
	}
	units := math.Floor(positionSize / price)
	if !(units <= MaxOrderQuantity) {
		return 0
	}
	return int(units)
}

// Execute carries out decision for symbol. It returns a nil receipt and nil
// error when there is nothing to trade: a HOLD, a missing or non-positive
// position size, or a size too small for one unit. A size worth more than
// MaxOrderQuantity units is an InvariantError.
//
// Any error means no order was placed and the ledger is unchanged. Failures
// of the trade log or the notifier are logged and do not affect the receipt.
func (d *Dispatcher) Execute(ctx context.Context, symbol string, snap models.MarketSnapshot, decision models.Decision) (*models.ExecutionReceipt, error) {
	side, ok := decision.Final.Side()
	if !ok {
		return nil, nil
	}
	if decision.PositionSize == nil || *decision.PositionSize <= 0 {
		return nil, nil
	}
	if snap.CurrentPrice <= 0 {
		return nil, apperrors.NewInvariantError("dispatcher", fmt.Sprintf("non-positive price %v for %s", snap.CurrentPrice, symbol))
	}
	if units := *decision.PositionSize / snap.CurrentPrice; !(units <= MaxOrderQuantity) {
		return nil, apperrors.NewInvariantError("dispatcher", fmt.Sprintf("position size %v at price %v for %s exceeds %d units", *decision.PositionSize, snap.CurrentPrice, symbol, MaxOrderQuantity))
	}
	qty := Quantity(*decision.PositionSize, snap.CurrentPrice)
	if qty == 0 {
		return nil, nil
	}

	mode, err := d.modes.ExecutionMode(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving execution mode: %w", err)
	}

	logger := logging.WithSymbol(d.logger, symbol)

	var receipt *models.ExecutionReceipt
	switch mode {
	case models.ModeVirtual:
		receipt, err = d.executeVirtual(ctx, symbol, side, qty, snap)
	case models.ModePaper, models.ModeLive:
		receipt, err = d.executeBrokerage(ctx, mode, symbol, side, qty, snap)
	default:
		err = apperrors.NewConfigError(config.KeyTradingMode, fmt.Sprintf("unknown mode %q", mode), apperrors.ErrInvalidMode)
	}
	if err != nil {
		logger.Error().Err(err).Str("mode", string(mode)).Msg("Execution failed")
		return nil, err
	}

	d.record(ctx, logger, symbol, snap, decision, receipt)
	d.notify(ctx, logger, symbol, snap, decision, receipt)
	logging.LogReceipt(logger, symbol, receipt)
	return receipt, nil
}

func (d *Dispatcher) executeVirtual(ctx context.Context, symbol string, side models.OrderSide, qty int, snap models.MarketSnapshot) (*models.ExecutionReceipt, error) {
	orderID := fmt.Sprintf("virtual-%s-%d-%s", symbol, d.now().Unix(), uuid.NewString()[:8])
	fill, err := d.ledger.ApplyFill(ctx, symbol, side, float64(qty), snap.CurrentPrice)
	if err != nil {
		return nil, fmt.Errorf("applying virtual fill: %w", err)
	}
	return &models.ExecutionReceipt{
		Mode:        models.ModeVirtual,
		OrderID:     orderID,
		Side:        side,
		Quantity:    qty,
		RealizedPnL: fill.RealizedPnL,
		EntryPrice:  fill.EntryPrice,
	}, nil
}

func (d *Dispatcher) executeBrokerage(ctx context.Context, mode models.ExecutionMode, symbol string, side models.OrderSide, qty int, snap models.MarketSnapshot) (*models.ExecutionReceipt, error) {
	if d.brokerage == nil {
		return nil, apperrors.NewConfigError("broker", "no brokerage configured", apperrors.ErrMissingCredentials)
	}
	b, err := d.brokerage(ctx, mode)
	if err != nil {
		return nil, err
	}

	logging.LogTrade(d.logger, symbol, string(side), qty, snap.CurrentPrice)
	res, err := b.PlaceOrder(ctx, broker.MarketOrder(symbol, d.exchange, d.product, side, qty))
	if err != nil {
		return nil, err
	}
	return &models.ExecutionReceipt{
		Mode:       mode,
		OrderID:    res.OrderID,
		Side:       side,
		Quantity:   qty,
		EntryPrice: snap.CurrentPrice,
	}, nil
}

func (d *Dispatcher) record(ctx context.Context, logger zerolog.Logger, symbol string, snap models.MarketSnapshot, decision models.Decision, r *models.ExecutionReceipt) {
	if d.trades == nil {
		return
	}
	rec := models.TradeRecord{
		Timestamp:       d.now().UTC(),
		MarketTimestamp: snap.Timestamp,
		Symbol:          symbol,
		Decision:        decision.Final,
		Confidence:      decision.Confidence,
		EntryPrice:      r.EntryPrice,
		PnL:             r.RealizedPnL,
		AdvisorVotes:    models.AdvisorVotesOf(decision),
		Mode:            r.Mode,
		OrderID:         r.OrderID,
	}
	if r.Mode == models.ModeVirtual && r.Side == models.OrderSideSell {
		rec.ExitPrice = models.Float(snap.CurrentPrice)
	}
	if _, err := d.trades.Record(ctx, rec); err != nil {
		logger.Warn().Err(err).Str("order_id", r.OrderID).Msg("Failed to record trade")
	}
}

func (d *Dispatcher) notify(ctx context.Context, logger zerolog.Logger, symbol string, snap models.MarketSnapshot, decision models.Decision, r *models.ExecutionReceipt) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.SendTradeAlert(ctx, symbol, snap, decision, r.OrderID, r.Mode); err != nil {
		logger.Warn().Err(err).Str("order_id", r.OrderID).Msg("Failed to send trade alert")
	}
}
