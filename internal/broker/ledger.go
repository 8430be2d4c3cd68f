package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/models"
)

// PositionStore persists virtual positions. GetPosition returns nil when
// the symbol has no position.
type PositionStore interface {
	GetPosition(ctx context.Context, symbol string) (*models.VirtualPosition, error)
	UpsertPosition(ctx context.Context, pos models.VirtualPosition) error
	UpdateQuantity(ctx context.Context, symbol string, quantity float64, at time.Time) error
	DeletePosition(ctx context.Context, symbol string) error
	ListPositions(ctx context.Context) ([]models.VirtualPosition, error)
}

// VirtualLedger simulates fills against stored positions using a
// weighted-average cost basis. Fills for one symbol are serialized; fills
// for different symbols proceed independently.
type VirtualLedger struct {
	store PositionStore
	locks keyedMutex
	now   func() time.Time
}

// NewVirtualLedger creates a ledger over store.
func NewVirtualLedger(store PositionStore) *VirtualLedger {
	return &VirtualLedger{store: store, now: time.Now}
}

// ApplyFill applies a filled order.
//
// A buy raises the quantity and re-averages the cost basis; the entry price
// is the fill price. A sell reduces the quantity by at most the held amount,
// realizes (price - average) per unit sold and reports the average as the
// entry price. The position is removed once nothing is left. Selling with no
// holdings realizes 0 and changes nothing.
func (l *VirtualLedger) ApplyFill(ctx context.Context, symbol string, side models.OrderSide, quantity, price float64) (models.Fill, error) {
	if price <= 0 {
		return models.Fill{}, apperrors.NewInvariantError("ledger", fmt.Sprintf("non-positive fill price %v for %s", price, symbol))
	}
	if quantity <= 0 {
		return models.Fill{}, apperrors.NewInvariantError("ledger", fmt.Sprintf("non-positive fill quantity %v for %s", quantity, symbol))
	}

	unlock := l.locks.Lock(symbol)
	defer unlock()

	pos, err := l.store.GetPosition(ctx, symbol)
	if err != nil {
		return models.Fill{}, fmt.Errorf("loading position %s: %w", symbol, err)
	}
	oldQty, oldAvg := decimal.Zero, decimal.Zero
	if pos != nil {
		oldQty = decimal.NewFromFloat(pos.Quantity)
		oldAvg = decimal.NewFromFloat(pos.AverageCost)
	}
	qty := decimal.NewFromFloat(quantity)
	px := decimal.NewFromFloat(price)

	switch side {
	case models.OrderSideBuy:
		newQty := oldQty.Add(qty)
		avg := px
		if newQty.IsPositive() {
			avg = oldQty.Mul(oldAvg).Add(qty.Mul(px)).Div(newQty)
		}
		err := l.store.UpsertPosition(ctx, models.VirtualPosition{
			Symbol:      symbol,
			Quantity:    newQty.InexactFloat64(),
			AverageCost: avg.InexactFloat64(),
			UpdatedAt:   l.now(),
		})
		if err != nil {
			return models.Fill{}, fmt.Errorf("saving position %s: %w", symbol, err)
		}
		return models.Fill{EntryPrice: price}, nil

	case models.OrderSideSell:
		sellQty := decimal.Zero
		if oldQty.IsPositive() {
			sellQty = decimal.Min(qty, oldQty)
		}
		if !sellQty.IsPositive() {
			zero := 0.0
			return models.Fill{RealizedPnL: &zero, EntryPrice: price}, nil
		}

		pnl := px.Sub(oldAvg).Mul(sellQty).InexactFloat64()
		newQty := oldQty.Sub(sellQty)
		if newQty.IsPositive() {
			err = l.store.UpdateQuantity(ctx, symbol, newQty.InexactFloat64(), l.now())
		} else {
			err = l.store.DeletePosition(ctx, symbol)
		}
		if err != nil {
			return models.Fill{}, fmt.Errorf("saving position %s: %w", symbol, err)
		}
		return models.Fill{RealizedPnL: &pnl, EntryPrice: oldAvg.InexactFloat64()}, nil

	default:
		return models.Fill{}, apperrors.NewInvariantError("ledger", fmt.Sprintf("unknown side %q", side))
	}
}

// Position returns the current position for symbol, or nil.
func (l *VirtualLedger) Position(ctx context.Context, symbol string) (*models.VirtualPosition, error) {
	return l.store.GetPosition(ctx, symbol)
}

// Positions returns all open positions ordered by symbol.
func (l *VirtualLedger) Positions(ctx context.Context) ([]models.VirtualPosition, error) {
	return l.store.ListPositions(ctx)
}

// keyedMutex hands out one mutex per key. Entries are dropped when no
// goroutine holds or waits on them.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// MemoryPositionStore keeps positions in process memory.
type MemoryPositionStore struct {
	mu        sync.RWMutex
	positions map[string]models.VirtualPosition
}

// NewMemoryPositionStore creates an empty store.
func NewMemoryPositionStore() *MemoryPositionStore {
	return &MemoryPositionStore{positions: make(map[string]models.VirtualPosition)}
}

// GetPosition returns the position for symbol, or nil.
func (m *MemoryPositionStore) GetPosition(_ context.Context, symbol string) (*models.VirtualPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return nil, nil
	}
	return &pos, nil
}

// UpsertPosition inserts or replaces a position.
func (m *MemoryPositionStore) UpsertPosition(_ context.Context, pos models.VirtualPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[pos.Symbol] = pos
	return nil
}

// UpdateQuantity changes the quantity of an existing position.
func (m *MemoryPositionStore) UpdateQuantity(_ context.Context, symbol string, quantity float64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return fmt.Errorf("%s: %w", symbol, apperrors.ErrPositionNotFound)
	}
	pos.Quantity = quantity
	pos.UpdatedAt = at
	m.positions[symbol] = pos
	return nil
}

// DeletePosition removes a position.
func (m *MemoryPositionStore) DeletePosition(_ context.Context, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.positions, symbol)
	return nil
}

// ListPositions returns all positions ordered by symbol.
func (m *MemoryPositionStore) ListPositions(context.Context) ([]models.VirtualPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.VirtualPosition, 0, len(m.positions))
	for _, p := range m.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
