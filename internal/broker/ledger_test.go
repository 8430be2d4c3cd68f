package broker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/models"
)

func TestVirtualLedger_RoundTrip(t *testing.T) {
	ctx := context.Background()
	ledger := NewVirtualLedger(NewMemoryPositionStore())

	fill, err := ledger.ApplyFill(ctx, "AAPL", models.OrderSideBuy, 10, 100)
	require.NoError(t, err)
	assert.Nil(t, fill.RealizedPnL)
	assert.Equal(t, 100.0, fill.EntryPrice)

	fill, err = ledger.ApplyFill(ctx, "AAPL", models.OrderSideBuy, 10, 120)
	require.NoError(t, err)
	assert.Equal(t, 120.0, fill.EntryPrice)

	pos, err := ledger.Position(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 20.0, pos.Quantity)
	assert.InDelta(t, 110.0, pos.AverageCost, 1e-9)

	fill, err = ledger.ApplyFill(ctx, "AAPL", models.OrderSideSell, 5, 130)
	require.NoError(t, err)
	require.NotNil(t, fill.RealizedPnL)
	assert.InDelta(t, 100.0, *fill.RealizedPnL, 1e-9)
	assert.InDelta(t, 110.0, fill.EntryPrice, 1e-9)

	pos, err = ledger.Position(ctx, "AAPL")
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, 15.0, pos.Quantity)
	assert.InDelta(t, 110.0, pos.AverageCost, 1e-9)

	fill, err = ledger.ApplyFill(ctx, "AAPL", models.OrderSideSell, 20, 140)
	require.NoError(t, err)
	require.NotNil(t, fill.RealizedPnL)
	assert.InDelta(t, 450.0, *fill.RealizedPnL, 1e-9)

	pos, err = ledger.Position(ctx, "AAPL")
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestVirtualLedger_SellWithoutPosition(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryPositionStore()
	ledger := NewVirtualLedger(store)

	fill, err := ledger.ApplyFill(ctx, "MSFT", models.OrderSideSell, 7, 321.5)
	require.NoError(t, err)
	require.NotNil(t, fill.RealizedPnL)
	assert.Zero(t, *fill.RealizedPnL)
	assert.Equal(t, 321.5, fill.EntryPrice)

	all, err := store.ListPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestVirtualLedger_FractionalQuantity(t *testing.T) {
	ctx := context.Background()
	ledger := NewVirtualLedger(NewMemoryPositionStore())

	_, err := ledger.ApplyFill(ctx, "BTC", models.OrderSideBuy, 0.5, 30000)
	require.NoError(t, err)
	fill, err := ledger.ApplyFill(ctx, "BTC", models.OrderSideSell, 0.2, 31000)
	require.NoError(t, err)
	assert.InDelta(t, 200.0, *fill.RealizedPnL, 1e-9)

	pos, err := ledger.Position(ctx, "BTC")
	require.NoError(t, err)
	assert.InDelta(t, 0.3, pos.Quantity, 1e-12)
}

func TestVirtualLedger_RejectsInvalidFill(t *testing.T) {
	ledger := NewVirtualLedger(NewMemoryPositionStore())
	ctx := context.Background()

	_, err := ledger.ApplyFill(ctx, "AAPL", models.OrderSideBuy, 1, 0)
	assert.ErrorIs(t, err, apperrors.ErrInvariant)

	_, err = ledger.ApplyFill(ctx, "AAPL", models.OrderSideBuy, -1, 10)
	assert.ErrorIs(t, err, apperrors.ErrInvariant)

	_, err = ledger.ApplyFill(ctx, "AAPL", models.OrderSide("SHORT"), 1, 10)
	assert.ErrorIs(t, err, apperrors.ErrInvariant)
}

func TestVirtualLedger_ConcurrentFillsSameSymbol(t *testing.T) {
	ctx := context.Background()
	ledger := NewVirtualLedger(NewMemoryPositionStore())

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ledger.ApplyFill(ctx, "AAPL", models.OrderSideBuy, 2, 100)
			assert.NoError(t, err)
			_, err = ledger.ApplyFill(ctx, "MSFT", models.OrderSideBuy, 1, 50)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	pos, err := ledger.Position(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, float64(2*workers), pos.Quantity)
	assert.InDelta(t, 100.0, pos.AverageCost, 1e-9)

	pos, err = ledger.Position(ctx, "MSFT")
	require.NoError(t, err)
	assert.Equal(t, float64(workers), pos.Quantity)
	assert.Empty(t, ledger.locks.locks)
}

// Property: For any sequence of fills the stored quantity never goes
// negative, and the realized P&L of each sell equals (price - average) times
// the units actually sold.
func TestProperty_LedgerQuantityNeverNegative(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("quantity stays non-negative and P&L matches basis", prop.ForAll(
		func(sides []bool, qtys []int, prices []int) bool {
			ctx := context.Background()
			ledger := NewVirtualLedger(NewMemoryPositionStore())
			for i, buy := range sides {
				qty := float64(qtys[i%len(qtys)])
				price := float64(prices[i%len(prices)])

				before, _ := ledger.Position(ctx, "X")
				side := models.OrderSideSell
				if buy {
					side = models.OrderSideBuy
				}
				fill, err := ledger.ApplyFill(ctx, "X", side, qty, price)
				if err != nil {
					return false
				}
				after, _ := ledger.Position(ctx, "X")
				if after != nil && after.Quantity <= 0 {
					return false
				}
				if side == models.OrderSideSell && before != nil {
					sold := min(qty, before.Quantity)
					want := (price - before.AverageCost) * sold
					if diff := *fill.RealizedPnL - want; diff > 1e-6 || diff < -1e-6 {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(gen.Bool()),
		gen.SliceOfN(4, gen.IntRange(1, 100)),
		gen.SliceOfN(4, gen.IntRange(1, 1000)),
	))

	properties.TestingRun(t)
}
