package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ensemble-trader/internal/broker"
	"ensemble-trader/internal/config"
	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/models"
)

var (
	_ DataStore            = (*SQLiteStore)(nil)
	_ broker.PositionStore = (*SQLiteStore)(nil)
	_ config.Store         = (*SQLiteStore)(nil)
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "nested", "trading.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_TradeLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 9, 15, 0, 0, time.UTC)

	first := models.TradeRecord{
		Timestamp:       base,
		MarketTimestamp: base.Add(-time.Minute),
		Symbol:          "INFY",
		Decision:        models.VoteBuy,
		Confidence:      0.72,
		EntryPrice:      1500,
		AdvisorVotes: []models.AdvisorVote{
			{AdvisorID: "technical_analysis", Model: "m1", Vote: models.VoteBuy, Confidence: 0.8},
		},
		Mode:    models.ModeVirtual,
		OrderID: "virtual-INFY-1",
	}
	id, err := s.Record(ctx, first)
	require.NoError(t, err)
	assert.Positive(t, id)

	second := models.TradeRecord{
		Timestamp:     base.Add(time.Hour),
		Symbol:        "INFY",
		Decision:      models.VoteSell,
		Confidence:    0.65,
		EntryPrice:    1500,
		ExitPrice:     models.Float(1550),
		PnL:           models.Float(500),
		HoldingPeriod: time.Hour,
		Mode:          models.ModeVirtual,
		OrderID:       "virtual-INFY-2",
	}
	_, err = s.Record(ctx, second)
	require.NoError(t, err)

	_, err = s.Record(ctx, models.TradeRecord{Timestamp: base.Add(2 * time.Hour), Symbol: "TCS", Decision: models.VoteBuy, EntryPrice: 3000, Mode: models.ModeLive, OrderID: "K1"})
	require.NoError(t, err)

	all, err := s.RecentTrades(ctx, TradeFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "K1", all[0].OrderID)
	assert.Equal(t, "virtual-INFY-1", all[2].OrderID)

	got := all[1]
	assert.Equal(t, models.VoteSell, got.Decision)
	require.NotNil(t, got.PnL)
	assert.Equal(t, 500.0, *got.PnL)
	assert.Equal(t, 1550.0, *got.ExitPrice)
	assert.Equal(t, time.Hour, got.HoldingPeriod)
	assert.Empty(t, got.AdvisorVotes)
	assert.True(t, got.MarketTimestamp.IsZero())

	got = all[2]
	assert.Nil(t, got.PnL)
	assert.Nil(t, got.ExitPrice)
	assert.True(t, got.MarketTimestamp.Equal(first.MarketTimestamp))
	assert.Equal(t, first.AdvisorVotes, got.AdvisorVotes)

	infy, err := s.RecentTrades(ctx, TradeFilter{Symbol: "INFY", Limit: 1})
	require.NoError(t, err)
	require.Len(t, infy, 1)
	assert.Equal(t, "virtual-INFY-2", infy[0].OrderID)

	live, err := s.RecentTrades(ctx, TradeFilter{Mode: models.ModeLive})
	require.NoError(t, err)
	require.Len(t, live, 1)

	recent, err := s.RecentTrades(ctx, TradeFilter{Since: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestSQLiteStore_Settings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.Get(ctx, config.KeyTradingMode, "virtual")
	require.NoError(t, err)
	assert.Equal(t, "virtual", v)

	require.NoError(t, s.Set(ctx, config.KeyTradingMode, "paper"))
	require.NoError(t, s.Set(ctx, config.KeyTradingMode, "live"))
	v, err = s.Get(ctx, config.KeyTradingMode, "virtual")
	require.NoError(t, err)
	assert.Equal(t, "live", v)

	settings := config.NewSettings(s, nil)
	mode, err := settings.ExecutionMode(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.ModeLive, mode)
}

func TestSQLiteStore_Positions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	pos, err := s.GetPosition(ctx, "INFY")
	require.NoError(t, err)
	assert.Nil(t, pos)

	require.NoError(t, s.UpsertPosition(ctx, models.VirtualPosition{Symbol: "TCS", Quantity: 3, AverageCost: 3000, UpdatedAt: now}))
	require.NoError(t, s.UpsertPosition(ctx, models.VirtualPosition{Symbol: "INFY", Quantity: 10, AverageCost: 1500, UpdatedAt: now}))
	require.NoError(t, s.UpsertPosition(ctx, models.VirtualPosition{Symbol: "INFY", Quantity: 20, AverageCost: 1525, UpdatedAt: now}))
	require.NoError(t, s.UpdateQuantity(ctx, "INFY", 5, now.Add(time.Hour)))

	pos, err = s.GetPosition(ctx, "INFY")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 5.0, pos.Quantity)
	assert.Equal(t, 1525.0, pos.AverageCost)
	assert.True(t, pos.UpdatedAt.Equal(now.Add(time.Hour)))

	err = s.UpdateQuantity(ctx, "HDFC", 1, now)
	assert.ErrorIs(t, err, apperrors.ErrPositionNotFound)

	all, err := s.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "INFY", all[0].Symbol)
	assert.Equal(t, "TCS", all[1].Symbol)

	require.NoError(t, s.DeletePosition(ctx, "INFY"))
	all, err = s.ListPositions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestSQLiteStore_LedgerConcurrentFills(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ledger := broker.NewVirtualLedger(s)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			symbol := fmt.Sprintf("SYM%d", i%4)
			_, err := ledger.ApplyFill(ctx, symbol, models.OrderSideBuy, 1, 100)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	all, err := s.ListPositions(ctx)
	require.NoError(t, err)
	require.Len(t, all, 4)
	for _, p := range all {
		assert.Equal(t, 5.0, p.Quantity, p.Symbol)
		assert.Equal(t, 100.0, p.AverageCost, p.Symbol)
	}
}

// Property: Recording trades and reading them back yields the same rows
// newest first.
func TestProperty_TradeLogRoundTrip(t *testing.T) {
	s := newTestStore(t)

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	var run int
	properties.Property("round trip preserves trades", prop.ForAll(
		func(prices []float64, pnls []float64) bool {
			ctx := context.Background()
			run++
			symbol := fmt.Sprintf("RT%d", run)
			base := time.Date(2024, 1, 1, 9, 15, 0, 0, time.UTC)

			for i, price := range prices {
				rec := models.TradeRecord{
					Timestamp:  base.Add(time.Duration(i) * time.Minute),
					Symbol:     symbol,
					Decision:   models.VoteBuy,
					Confidence: 0.7,
					EntryPrice: price,
					Mode:       models.ModeVirtual,
					OrderID:    fmt.Sprintf("%s-%d", symbol, i),
				}
				if i < len(pnls) {
					rec.PnL = models.Float(pnls[i])
				}
				if _, err := s.Record(ctx, rec); err != nil {
					return false
				}
			}

			got, err := s.RecentTrades(ctx, TradeFilter{Symbol: symbol, Limit: len(prices)})
			if err != nil || len(got) != len(prices) {
				return false
			}
			for j, rec := range got {
				i := len(prices) - 1 - j
				if rec.EntryPrice != prices[i] || rec.OrderID != fmt.Sprintf("%s-%d", symbol, i) {
					return false
				}
				if (i < len(pnls)) != (rec.PnL != nil) {
					return false
				}
				if rec.PnL != nil && *rec.PnL != pnls[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(5, gen.Float64Range(1, 10000)),
		gen.SliceOf(gen.Float64Range(-1000, 1000)),
	))

	properties.TestingRun(t)
}
