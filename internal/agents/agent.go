// Package agents provides the trade advisors and the ensemble that combines
// their recommendations into a single decision.
package agents

import (
	"context"
	"fmt"

	"ensemble-trader/internal/models"
)

// Advisor produces one recommendation per market snapshot.
//
// Analyze never returns a fault. An implementation that fails internally
// answers with a degraded HOLD whose rationale names the failure.
type Advisor interface {
	// Name returns the advisor id used for weighting and dissent.
	Name() string
	// Analyze returns the advisor's recommendation for snap.
	Analyze(ctx context.Context, snap models.MarketSnapshot) models.Recommendation
}

// Fallback confidence reported by an advisor that failed internally.
const FallbackConfidence = 0.5

// BaseAgent provides common functionality for all advisors.
type BaseAgent struct {
	name  string
	model string
}

// NewBaseAgent creates a new base agent with the given name and model.
func NewBaseAgent(name, model string) BaseAgent {
	return BaseAgent{name: name, model: model}
}

// Name returns the advisor's name.
func (b *BaseAgent) Name() string {
	return b.name
}

// Model returns the model the advisor queries.
func (b *BaseAgent) Model() string {
	return b.model
}

// Fallback builds the degraded recommendation returned on internal failure.
func (b *BaseAgent) Fallback(err error) models.Recommendation {
	return models.Recommendation{
		AdvisorID:  b.name,
		Model:      b.model,
		Vote:       models.VoteHold,
		Confidence: FallbackConfidence,
		Rationale:  fmt.Sprintf("fallback_due_to_error: %v", err),
	}
}

// StaticAdvisor always returns the same recommendation. It backs dry runs
// and tests.
type StaticAdvisor struct {
	Rec models.Recommendation
}

// Name returns the advisor id of the fixed recommendation.
func (s StaticAdvisor) Name() string { return s.Rec.AdvisorID }

// Analyze returns the fixed recommendation.
func (s StaticAdvisor) Analyze(context.Context, models.MarketSnapshot) models.Recommendation {
	return s.Rec
}
