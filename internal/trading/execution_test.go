package trading

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ensemble-trader/internal/broker"
	"ensemble-trader/internal/config"
	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/models"
)

type mockTrades struct {
	mock.Mock
}

func (m *mockTrades) Record(ctx context.Context, rec models.TradeRecord) (int64, error) {
	args := m.Called(ctx, rec)
	return args.Get(0).(int64), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) SendTradeAlert(ctx context.Context, symbol string, snap models.MarketSnapshot, d models.Decision, orderID string, mode models.ExecutionMode) error {
	return m.Called(ctx, symbol, snap, d, orderID, mode).Error(0)
}

type mockBrokerage struct {
	mock.Mock
}

func (m *mockBrokerage) PlaceOrder(ctx context.Context, order *models.Order) (*broker.OrderResult, error) {
	args := m.Called(ctx, order)
	res, _ := args.Get(0).(*broker.OrderResult)
	return res, args.Error(1)
}

type fixture struct {
	settings   *config.Settings
	positions  *broker.MemoryPositionStore
	trades     *mockTrades
	notifier   *mockNotifier
	brokerage  *mockBrokerage
	factoryErr error
	dispatcher *Dispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		settings:  config.NewSettings(config.NewMemoryStore(), nil),
		positions: broker.NewMemoryPositionStore(),
		trades:    &mockTrades{},
		notifier:  &mockNotifier{},
		brokerage: &mockBrokerage{},
	}
	f.dispatcher = NewDispatcher(DispatcherConfig{
		Modes:  f.settings,
		Ledger: broker.NewVirtualLedger(f.positions),
		Brokerage: func(context.Context, models.ExecutionMode) (broker.Brokerage, error) {
			if f.factoryErr != nil {
				return nil, f.factoryErr
			}
			return f.brokerage, nil
		},
		Trades:   f.trades,
		Notifier: f.notifier,
		Logger:   zerolog.Nop(),
	})
	f.dispatcher.now = func() time.Time { return time.Unix(1700000000, 0) }
	return f
}

func buyDecision(size float64) models.Decision {
	return models.Decision{
		Final:        models.VoteBuy,
		Confidence:   0.8,
		PositionSize: models.Float(size),
		Recommendations: []models.Recommendation{
			{AdvisorID: "technical_analysis", Model: "m1", Vote: models.VoteBuy, Confidence: 0.8},
		},
	}
}

func TestDispatcher_NoTrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := models.MarketSnapshot{Symbol: "AAPL", CurrentPrice: 150}

	tests := []struct {
		name     string
		decision models.Decision
	}{
		{"hold", models.Decision{Final: models.VoteHold, PositionSize: models.Float(10000)}},
		{"no size", models.Decision{Final: models.VoteBuy}},
		{"zero size", buyDecision(0)},
		{"negative size", buyDecision(-5)},
		{"below one unit", buyDecision(149.99)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			receipt, err := f.dispatcher.Execute(ctx, "AAPL", snap, tt.decision)
			assert.NoError(t, err)
			assert.Nil(t, receipt)
		})
	}

	positions, err := f.positions.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
	f.trades.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestDispatcher_VirtualBuyThenSell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.trades.On("Record", mock.Anything, mock.Anything).Return(int64(1), nil)
	f.notifier.On("SendTradeAlert", mock.Anything, "AAPL", mock.Anything, mock.Anything, mock.Anything, models.ModeVirtual).Return(nil)

	receipt, err := f.dispatcher.Execute(ctx, "AAPL", models.MarketSnapshot{Symbol: "AAPL", CurrentPrice: 150}, buyDecision(10000))
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, models.ModeVirtual, receipt.Mode)
	assert.Equal(t, 66, receipt.Quantity)
	assert.Equal(t, 150.0, receipt.EntryPrice)
	assert.Nil(t, receipt.RealizedPnL)
	assert.True(t, strings.HasPrefix(receipt.OrderID, "virtual-AAPL-1700000000-"), receipt.OrderID)

	sell := buyDecision(10000)
	sell.Final = models.VoteSell
	receipt, err = f.dispatcher.Execute(ctx, "AAPL", models.MarketSnapshot{Symbol: "AAPL", CurrentPrice: 160}, sell)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, 62, receipt.Quantity)
	require.NotNil(t, receipt.RealizedPnL)
	assert.InDelta(t, 620.0, *receipt.RealizedPnL, 1e-9)
	assert.InDelta(t, 150.0, receipt.EntryPrice, 1e-9)

	pos, err := f.positions.GetPosition(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 4.0, pos.Quantity)

	f.trades.AssertNumberOfCalls(t, "Record", 2)
	last := f.trades.Calls[1].Arguments.Get(1).(models.TradeRecord)
	assert.Equal(t, models.VoteSell, last.Decision)
	require.NotNil(t, last.ExitPrice)
	assert.Equal(t, 160.0, *last.ExitPrice)
	assert.Equal(t, receipt.OrderID, last.OrderID)
	require.Len(t, last.AdvisorVotes, 1)
	f.notifier.AssertNumberOfCalls(t, "SendTradeAlert", 2)
}

func TestDispatcher_PersistenceFailuresSwallowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.trades.On("Record", mock.Anything, mock.Anything).Return(int64(0), errors.New("disk full"))
	f.notifier.On("SendTradeAlert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("webhook down"))

	receipt, err := f.dispatcher.Execute(ctx, "INFY", models.MarketSnapshot{Symbol: "INFY", CurrentPrice: 100}, buyDecision(1000))
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, 10, receipt.Quantity)
}

func TestDispatcher_LiveOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.settings.SetExecutionMode(ctx, "live")
	require.NoError(t, err)

	f.brokerage.On("PlaceOrder", mock.Anything, mock.MatchedBy(func(o *models.Order) bool {
		return o.Symbol == "INFY" && o.Quantity == 6 && o.Side == models.OrderSideBuy &&
			o.Type == models.OrderTypeMarket && o.Validity == models.ValidityDay
	})).Return(&broker.OrderResult{OrderID: "230101000001"}, nil)
	f.trades.On("Record", mock.Anything, mock.Anything).Return(int64(1), nil)
	f.notifier.On("SendTradeAlert", mock.Anything, "INFY", mock.Anything, mock.Anything, "230101000001", models.ModeLive).Return(nil)

	receipt, err := f.dispatcher.Execute(ctx, "INFY", models.MarketSnapshot{Symbol: "INFY", CurrentPrice: 1500}, buyDecision(10000))
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, "230101000001", receipt.OrderID)
	assert.Equal(t, models.ModeLive, receipt.Mode)
	assert.Equal(t, 1500.0, receipt.EntryPrice)

	rec := f.trades.Calls[0].Arguments.Get(1).(models.TradeRecord)
	assert.Equal(t, 1500.0, rec.EntryPrice)
	assert.Nil(t, rec.PnL)
	f.brokerage.AssertExpectations(t)
	f.notifier.AssertExpectations(t)

	positions, err := f.positions.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestDispatcher_BrokerageFailures(t *testing.T) {
	ctx := context.Background()
	snap := models.MarketSnapshot{Symbol: "INFY", CurrentPrice: 100}

	t.Run("missing credentials", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.settings.SetExecutionMode(ctx, "paper")
		require.NoError(t, err)
		f.factoryErr = apperrors.NewConfigError("KITE_API_KEY", "api key is not set", apperrors.ErrMissingCredentials)

		receipt, err := f.dispatcher.Execute(ctx, "INFY", snap, buyDecision(1000))
		assert.Nil(t, receipt)
		assert.ErrorIs(t, err, apperrors.ErrMissingCredentials)
		f.trades.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
		f.notifier.AssertNotCalled(t, "SendTradeAlert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("order rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.settings.SetExecutionMode(ctx, "live")
		require.NoError(t, err)
		f.brokerage.On("PlaceOrder", mock.Anything, mock.Anything).
			Return(nil, apperrors.NewBrokerError("place_order", "rejected", apperrors.ErrOrderRejected))

		receipt, err := f.dispatcher.Execute(ctx, "INFY", snap, buyDecision(1000))
		assert.Nil(t, receipt)
		assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
		f.trades.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
	})

	t.Run("corrupt mode setting", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.settings.Set(ctx, config.KeyTradingMode, "yolo"))

		receipt, err := f.dispatcher.Execute(ctx, "INFY", snap, buyDecision(1000))
		assert.Nil(t, receipt)
		var cfgErr *apperrors.ConfigError
		assert.ErrorAs(t, err, &cfgErr)
	})
}

func TestDispatcher_ModeReadPerCall(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.trades.On("Record", mock.Anything, mock.Anything).Return(int64(1), nil)
	f.notifier.On("SendTradeAlert", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.brokerage.On("PlaceOrder", mock.Anything, mock.Anything).Return(&broker.OrderResult{OrderID: "P1"}, nil)
	snap := models.MarketSnapshot{Symbol: "TCS", CurrentPrice: 100}

	r1, err := f.dispatcher.Execute(ctx, "TCS", snap, buyDecision(500))
	require.NoError(t, err)
	assert.Equal(t, models.ModeVirtual, r1.Mode)

	_, err = f.settings.SetExecutionMode(ctx, "PAPER")
	require.NoError(t, err)

	r2, err := f.dispatcher.Execute(ctx, "TCS", snap, buyDecision(500))
	require.NoError(t, err)
	assert.Equal(t, models.ModePaper, r2.Mode)
	assert.Equal(t, "P1", r2.OrderID)
}

func TestQuantity(t *testing.T) {
	assert.Equal(t, 66, Quantity(10000, 150))
	assert.Equal(t, 1, Quantity(100, 100))
	assert.Equal(t, 0, Quantity(99.99, 100))
	assert.Equal(t, 0, Quantity(100, 0))
	assert.Equal(t, MaxOrderQuantity, Quantity(MaxOrderQuantity, 1))
	assert.Equal(t, 0, Quantity(1e12, 0.0001))
	assert.Equal(t, 0, Quantity(math.Inf(1), 100))
	assert.Equal(t, 0, Quantity(math.NaN(), 100))
}

func TestDispatcher_OversizedOrderIsInvariantError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	snap := models.MarketSnapshot{Symbol: "PENNY", CurrentPrice: 0.0001}

	receipt, err := f.dispatcher.Execute(ctx, "PENNY", snap, buyDecision(1e12))
	require.Error(t, err)
	assert.Nil(t, receipt)
	assert.ErrorIs(t, err, apperrors.ErrInvariant)

	positions, err := f.positions.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, positions)
	f.trades.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}
