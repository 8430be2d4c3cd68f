package trading

import (
	"github.com/google/uuid"

	"ensemble-trader/internal/models"
)

// AccumulationPlan describes a fixed-amount periodic buy.
type AccumulationPlan struct {
	Enabled      bool
	InvestAmount float64
	// MaxPrice skips the buy when the price is above it. Zero means no cap.
	MaxPrice float64
}

// AccumulationDecision builds the plan's BUY decision for snap, or reports
// false when the plan is disabled, has nothing to invest, or the price is
// above the cap.
func AccumulationDecision(snap models.MarketSnapshot, plan AccumulationPlan) (models.Decision, bool) {
	if !plan.Enabled || plan.InvestAmount <= 0 {
		return models.Decision{}, false
	}
	if plan.MaxPrice > 0 && snap.CurrentPrice > plan.MaxPrice {
		return models.Decision{}, false
	}

	votes := models.NewVoteTally()
	votes[models.VoteBuy] = 1
	return models.Decision{
		ID:           uuid.NewString(),
		Symbol:       snap.Symbol,
		Timestamp:    snap.Timestamp,
		Algorithm:    models.AlgorithmAccumulate,
		Final:        models.VoteBuy,
		Confidence:   1.0,
		Votes:        votes,
		PositionSize: models.Float(plan.InvestAmount),
	}, true
}
