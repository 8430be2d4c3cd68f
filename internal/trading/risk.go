package trading

import (
	"context"
	"fmt"

	"ensemble-trader/internal/config"
	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/models"
)

// ApplyRiskFilters returns a copy of d sized and stop-checked against p.
//
// HOLD decisions get a zero position size and nothing else changes. Directional
// decisions are sized at a flat fraction of account equity. A stop-loss closer
// to the current price than MinStopLossDistance is moved to
// price*(1-MinStopLossDistance). The same formula is used for BUY and SELL.
func ApplyRiskFilters(d models.Decision, snap models.MarketSnapshot, p config.RiskParams) (models.Decision, error) {
	out := d.Clone()
	if out.Final == models.VoteHold {
		out.PositionSize = models.Float(0)
		return out, nil
	}

	out.PositionSize = models.Float(p.AccountEquity * p.MaxPositionRatio)

	if out.StopLoss != nil {
		price := snap.CurrentPrice
		if price <= 0 {
			return models.Decision{}, apperrors.NewInvariantError("risk", fmt.Sprintf("non-positive price %v for %s", price, snap.Symbol))
		}
		distance := (price - *out.StopLoss) / price
		if distance < p.MinStopLossDistance {
			out.StopLoss = models.Float(price * (1 - p.MinStopLossDistance))
		}
	}
	return out, nil
}

// RiskFilter applies risk filters with parameters read at call time.
type RiskFilter struct {
	params RiskProvider
}

// NewRiskFilter creates a filter backed by params.
func NewRiskFilter(params RiskProvider) *RiskFilter {
	return &RiskFilter{params: params}
}

// Apply reads the current risk parameters and filters d.
func (f *RiskFilter) Apply(ctx context.Context, d models.Decision, snap models.MarketSnapshot) (models.Decision, error) {
	p, err := f.params.RiskParams(ctx)
	if err != nil {
		return models.Decision{}, fmt.Errorf("reading risk params: %w", err)
	}
	return ApplyRiskFilters(d, snap, p)
}
