package broker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	"ensemble-trader/internal/config"
	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/indicators"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
	"ensemble-trader/pkg/utils"
)

// ZerodhaBroker places orders and reads quotes through Kite Connect.
type ZerodhaBroker struct {
	client   *kiteconnect.Client
	exchange models.Exchange
	product  models.ProductType
	retry    utils.RetryConfig
	logger   zerolog.Logger
}

// ZerodhaConfig holds configuration for Zerodha broker.
type ZerodhaConfig struct {
	APIKey      string
	AccessToken string
	BaseURI     string // empty uses the production root
	Exchange    models.Exchange
	Product     models.ProductType
}

// NewZerodhaBroker creates a new Zerodha broker instance. Missing
// credentials are a configuration error.
func NewZerodhaBroker(cfg ZerodhaConfig, logger zerolog.Logger) (*ZerodhaBroker, error) {
	if cfg.APIKey == "" {
		return nil, apperrors.NewConfigError("KITE_API_KEY", "api key is not set", apperrors.ErrMissingCredentials)
	}
	if cfg.AccessToken == "" {
		return nil, apperrors.NewConfigError("KITE_ACCESS_TOKEN", "access token is not set", apperrors.ErrMissingCredentials)
	}

	client := kiteconnect.New(cfg.APIKey)
	client.SetAccessToken(cfg.AccessToken)
	if cfg.BaseURI != "" {
		client.SetBaseURI(cfg.BaseURI)
	}

	exchange := cfg.Exchange
	if exchange == "" {
		exchange = models.NSE
	}
	product := cfg.Product
	if product == "" {
		product = models.ProductCNC
	}

	return &ZerodhaBroker{
		client:   client,
		exchange: exchange,
		product:  product,
		retry:    utils.DefaultRetryConfig(),
		logger:   logging.WithComponent(logger, "kite"),
	}, nil
}

// Exchange returns the exchange orders are routed to.
func (z *ZerodhaBroker) Exchange() models.Exchange { return z.exchange }

// Product returns the product type used for orders.
func (z *ZerodhaBroker) Product() models.ProductType { return z.product }

// PlaceOrder places a new order.
func (z *ZerodhaBroker) PlaceOrder(ctx context.Context, order *models.Order) (*OrderResult, error) {
	params := kiteconnect.OrderParams{
		Exchange:        string(order.Exchange),
		Tradingsymbol:   order.Symbol,
		TransactionType: string(order.Side),
		OrderType:       string(order.Type),
		Product:         string(order.Product),
		Quantity:        order.Quantity,
		Validity:        string(order.Validity),
		Tag:             order.Tag,
	}

	if params.Exchange == "" {
		params.Exchange = string(z.exchange)
	}
	if params.Product == "" {
		params.Product = string(z.product)
	}
	if params.Validity == "" {
		params.Validity = kiteconnect.ValidityDay
	}

	start := time.Now()
	resp, err := z.client.PlaceOrder(kiteconnect.VarietyRegular, params)
	logging.LogAPICall(z.logger, "POST", "/orders/regular", time.Since(start), err)
	if err != nil {
		return nil, apperrors.NewBrokerError("place_order", fmt.Sprintf("%s %d %s", order.Side, order.Quantity, order.Symbol), err)
	}

	return &OrderResult{
		OrderID: resp.OrderID,
		Status:  "PLACED",
		Message: "Order placed successfully",
	}, nil
}

// Snapshot builds a market snapshot from the latest quote, enriched with
// indicators from daily history. A failed history fetch leaves the snapshot
// quote-only.
func (z *ZerodhaBroker) Snapshot(ctx context.Context, symbol string) (models.MarketSnapshot, error) {
	instrument := string(z.exchange) + ":" + strings.ToUpper(symbol)

	quotes, err := utils.RetryWithResult(ctx, z.retry, retryableKiteError, func() (kiteconnect.Quote, error) {
		start := time.Now()
		q, err := z.client.GetQuote(instrument)
		logging.LogAPICall(z.logger, "GET", "/quote", time.Since(start), err)
		return q, err
	})
	if err != nil {
		return models.MarketSnapshot{}, apperrors.NewBrokerError("quote", instrument, err)
	}

	q, ok := quotes[instrument]
	if !ok {
		return models.MarketSnapshot{}, fmt.Errorf("quote for %s: %w", instrument, apperrors.ErrSymbolNotFound)
	}

	snap := models.MarketSnapshot{
		Symbol:       strings.ToUpper(symbol),
		Timestamp:    time.Now().UTC(),
		CurrentPrice: q.LastPrice,
		Volume:       models.Int64(int64(q.Volume)),
	}
	if !q.Timestamp.Time.IsZero() {
		snap.Timestamp = q.Timestamp.Time
	}
	if q.OHLC.Close > 0 {
		snap.PriceChange1D = models.Float((q.LastPrice - q.OHLC.Close) / q.OHLC.Close * 100)
	}

	candles, err := z.dailyHistory(ctx, q.InstrumentToken)
	if err != nil {
		logger := logging.WithSymbol(z.logger, snap.Symbol)
		logger.Warn().Err(err).Msg("Daily history unavailable, using quote only")
		return snap, nil
	}
	return indicators.Enrich(snap, candles), nil
}

// dailyHistory fetches daily candles, oldest first, for the indicator window.
func (z *ZerodhaBroker) dailyHistory(ctx context.Context, token int) ([]models.Candle, error) {
	to := time.Now()
	from := to.AddDate(0, 0, -indicators.HistoryLookback)

	data, err := utils.RetryWithResult(ctx, z.retry, retryableKiteError, func() ([]kiteconnect.HistoricalData, error) {
		start := time.Now()
		d, err := z.client.GetHistoricalData(token, "day", from, to, false, false)
		logging.LogAPICall(z.logger, "GET", "/instruments/historical", time.Since(start), err)
		return d, err
	})
	if err != nil {
		return nil, apperrors.NewBrokerError("historical", fmt.Sprintf("token %d", token), err)
	}
	return candlesFromHistory(data), nil
}

func candlesFromHistory(data []kiteconnect.HistoricalData) []models.Candle {
	candles := make([]models.Candle, len(data))
	for i, d := range data {
		candles[i] = models.Candle{
			Timestamp: d.Date.Time,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    int64(d.Volume),
		}
	}
	return candles
}

// retryableKiteError reports whether a read is worth repeating. Token, input
// and permission failures are final; transport errors are retried.
func retryableKiteError(err error) bool {
	var kerr kiteconnect.Error
	if !errors.As(err, &kerr) {
		return true
	}
	switch kerr.ErrorType {
	case kiteconnect.NetworkError, kiteconnect.GeneralError:
		return true
	}
	return kerr.Code >= 500
}

// NewBrokerageFactory returns a constructor that resolves a brokerage client
// for paper or live mode. Credentials are checked on every call, so a
// missing credential fails only the order that needs it.
func NewBrokerageFactory(cfg *config.Config, logger zerolog.Logger) func(ctx context.Context, mode models.ExecutionMode) (Brokerage, error) {
	return func(_ context.Context, mode models.ExecutionMode) (Brokerage, error) {
		zc := ZerodhaConfig{
			APIKey:      cfg.Credentials.Kite.APIKey,
			AccessToken: cfg.Credentials.Kite.AccessToken,
			Exchange:    models.Exchange(cfg.Broker.Exchange),
			Product:     models.ProductType(cfg.Broker.Product),
		}
		switch mode {
		case models.ModePaper:
			if cfg.Broker.PaperBaseURI == "" {
				return nil, apperrors.NewConfigError("broker.paper_base_uri", "paper mode needs a sandbox endpoint", nil)
			}
			zc.BaseURI = cfg.Broker.PaperBaseURI
		case models.ModeLive:
		default:
			return nil, apperrors.NewConfigError(config.KeyTradingMode, fmt.Sprintf("mode %q has no brokerage", mode), apperrors.ErrInvalidMode)
		}
		return NewZerodhaBroker(zc, logger)
	}
}
