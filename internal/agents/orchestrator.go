package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"ensemble-trader/internal/config"
	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
)

// ParamsProvider resolves the aggregation parameters at call time.
type ParamsProvider interface {
	EnsembleParams(ctx context.Context) (config.EnsembleParams, error)
}

// Ensemble consults a fixed set of advisors in parallel and folds their
// recommendations into one decision.
type Ensemble struct {
	advisors []Advisor
	weights  map[string]float64
	params   ParamsProvider
	logger   zerolog.Logger
	now      func() time.Time
}

// NewEnsemble creates a new ensemble. weights maps advisor ids to their
// weighted-majority weight; advisors without an entry weigh 0.
func NewEnsemble(advisors []Advisor, weights map[string]float64, params ParamsProvider, logger zerolog.Logger) *Ensemble {
	w := make(map[string]float64, len(weights))
	for k, v := range weights {
		w[k] = v
	}
	return &Ensemble{
		advisors: append([]Advisor(nil), advisors...),
		weights:  w,
		params:   params,
		logger:   logging.WithComponent(logger, "ensemble"),
		now:      time.Now,
	}
}

// Advisors returns the advisor ids in consultation order.
func (e *Ensemble) Advisors() []string {
	names := make([]string, len(e.advisors))
	for i, a := range e.advisors {
		names[i] = a.Name()
	}
	return names
}

// RunAnalysis asks every advisor about snap and aggregates the answers.
// It fails only on an invalid snapshot or an unreadable setting.
func (e *Ensemble) RunAnalysis(ctx context.Context, snap models.MarketSnapshot) (models.Decision, error) {
	if err := snap.Validate(); err != nil {
		return models.Decision{}, apperrors.Wrap(err, "run analysis")
	}
	params, err := e.params.EnsembleParams(ctx)
	if err != nil {
		return models.Decision{}, err
	}

	recs := Collect(ctx, e.advisors, snap)

	d := Aggregate(recs, params.Algorithm, params.ConfidenceThreshold, e.weights)
	d.ID = uuid.NewString()
	d.Symbol = snap.Symbol
	d.Timestamp = e.now()

	logging.LogDecision(logging.WithSymbol(e.logger, snap.Symbol), d)
	return d, nil
}

// Collect runs every advisor concurrently on snap and waits for all of them.
// The result is in advisor order. An advisor that panics is replaced by a
// HOLD with zero confidence; the rest of the batch is unaffected.
func Collect(ctx context.Context, advisors []Advisor, snap models.MarketSnapshot) []models.Recommendation {
	recs := make([]models.Recommendation, len(advisors))

	var wg conc.WaitGroup
	for i, a := range advisors {
		i, a := i, a
		wg.Go(func() {
			var pc panics.Catcher
			pc.Try(func() {
				recs[i] = a.Analyze(ctx, snap)
			})
			if r := pc.Recovered(); r != nil {
				recs[i] = models.Recommendation{
					AdvisorID:  a.Name(),
					Vote:       models.VoteHold,
					Confidence: 0,
					Rationale:  fmt.Sprintf("advisor_unreachable: %v", r.Value),
				}
			}
		})
	}
	wg.Wait()

	return recs
}

// Aggregate folds recommendations into a decision. It is a pure function.
//
// weighted_majority scores each side as the sum of confidence times weight
// over its voters. A side wins only when its score is strictly greater than
// threshold, BUY checked first. Otherwise the decision is HOLD with the
// larger score as confidence.
//
// unanimous requires at least one non-HOLD vote and all non-HOLD votes to
// agree. The confidence is the mean over all advisors, capped at 1.
// Otherwise the decision is HOLD with zero confidence.
func Aggregate(recs []models.Recommendation, alg models.AggregationAlgorithm, threshold float64, weights map[string]float64) models.Decision {
	recs = append([]models.Recommendation(nil), recs...)
	tally := models.NewVoteTally()
	for i := range recs {
		if !recs[i].Vote.Valid() {
			recs[i].Vote = models.VoteHold
		}
		tally[recs[i].Vote]++
	}

	var (
		final      models.Vote
		confidence float64
	)
	switch alg {
	case models.AlgorithmUnanimous:
		final, confidence = unanimous(recs)
	default:
		alg = models.AlgorithmWeightedMajority
		final, confidence = weightedMajority(recs, threshold, weights)
	}

	var dissent []models.Dissent
	for _, r := range recs {
		if r.Vote != final {
			dissent = append(dissent, models.Dissent{AdvisorID: r.AdvisorID, Rationale: r.Rationale})
		}
	}

	return models.Decision{
		Algorithm:       alg,
		Final:           final,
		Confidence:      confidence,
		Votes:           tally,
		Dissent:         dissent,
		TargetPrice:     meanOf(recs, func(r models.Recommendation) *float64 { return r.TargetPrice }),
		StopLoss:        meanOf(recs, func(r models.Recommendation) *float64 { return r.StopLoss }),
		Recommendations: recs,
	}
}

func weightedMajority(recs []models.Recommendation, threshold float64, weights map[string]float64) (models.Vote, float64) {
	var buyScore, sellScore float64
	for _, r := range recs {
		w := weights[r.AdvisorID]
		switch r.Vote {
		case models.VoteBuy:
			buyScore += r.Confidence * w
		case models.VoteSell:
			sellScore += r.Confidence * w
		}
	}

	switch {
	case buyScore > threshold:
		return models.VoteBuy, buyScore
	case sellScore > threshold:
		return models.VoteSell, sellScore
	default:
		return models.VoteHold, max(buyScore, sellScore)
	}
}

func unanimous(recs []models.Recommendation) (models.Vote, float64) {
	var direction models.Vote
	for _, r := range recs {
		if r.Vote == models.VoteHold {
			continue
		}
		if direction == "" {
			direction = r.Vote
		} else if r.Vote != direction {
			return models.VoteHold, 0
		}
	}
	if direction == "" {
		return models.VoteHold, 0
	}

	var sum float64
	for _, r := range recs {
		sum += r.Confidence
	}
	return direction, min(1.0, sum/float64(len(recs)))
}

// meanOf averages the values pick returns, skipping nils. No outlier
// rejection is applied.
func meanOf(recs []models.Recommendation, pick func(models.Recommendation) *float64) *float64 {
	var (
		sum float64
		n   int
	)
	for _, r := range recs {
		if v := pick(r); v != nil {
			sum += *v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	mean := sum / float64(n)
	return &mean
}
