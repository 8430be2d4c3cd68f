package models

import "time"

// Vote is an advisor's or the ensemble's trade direction.
type Vote string

const (
	VoteBuy  Vote = "BUY"
	VoteSell Vote = "SELL"
	VoteHold Vote = "HOLD"
)

// Valid reports whether v is one of BUY, SELL or HOLD.
func (v Vote) Valid() bool {
	return v == VoteBuy || v == VoteSell || v == VoteHold
}

// Side maps a directional vote to an order side. HOLD has no side.
func (v Vote) Side() (OrderSide, bool) {
	switch v {
	case VoteBuy:
		return OrderSideBuy, true
	case VoteSell:
		return OrderSideSell, true
	}
	return "", false
}

// AggregationAlgorithm selects how recommendations are folded into a decision.
type AggregationAlgorithm string

const (
	AlgorithmWeightedMajority AggregationAlgorithm = "weighted_majority"
	AlgorithmUnanimous        AggregationAlgorithm = "unanimous"

	// AlgorithmAccumulate marks fixed-amount accumulation buys that bypass
	// the ensemble.
	AlgorithmAccumulate AggregationAlgorithm = "accumulate"
)

// ParseAlgorithm returns the named algorithm, defaulting to weighted majority.
func ParseAlgorithm(s string) AggregationAlgorithm {
	if AggregationAlgorithm(s) == AlgorithmUnanimous {
		return AlgorithmUnanimous
	}
	return AlgorithmWeightedMajority
}

// Recommendation is one advisor's opinion on a snapshot.
type Recommendation struct {
	AdvisorID     string   `json:"node_id" validate:"required"`
	Model         string   `json:"model"`
	Vote          Vote     `json:"recommendation" validate:"oneof=BUY SELL HOLD"`
	Confidence    float64  `json:"confidence" validate:"gte=0,lte=1"`
	Rationale     string   `json:"reasoning"`
	TargetPrice   *float64 `json:"target_price,omitempty"`
	StopLoss      *float64 `json:"stop_loss,omitempty"`
	HoldingPeriod string   `json:"holding_period,omitempty"`
}

// VoteTally counts advisor votes per direction.
type VoteTally map[Vote]int

// NewVoteTally returns a tally with all three buckets present.
func NewVoteTally() VoteTally {
	return VoteTally{VoteBuy: 0, VoteSell: 0, VoteHold: 0}
}

// Total returns the number of votes counted.
func (t VoteTally) Total() int {
	return t[VoteBuy] + t[VoteSell] + t[VoteHold]
}

// Dissent records an advisor that disagreed with the final vote.
type Dissent struct {
	AdvisorID string `json:"node"`
	Rationale string `json:"reason"`
}

// Decision is the ensemble's output for one snapshot.
//
// Dissent is nil when every advisor agreed with the final vote; it is never
// an empty slice. PositionSize is nil until the risk filter has run.
type Decision struct {
	ID              string               `json:"id"`
	Symbol          string               `json:"symbol"`
	Timestamp       time.Time            `json:"timestamp"`
	Algorithm       AggregationAlgorithm `json:"algorithm"`
	Final           Vote                 `json:"final_decision"`
	Confidence      float64              `json:"aggregate_confidence"`
	Votes           VoteTally            `json:"votes"`
	Dissent         []Dissent            `json:"dissenting_opinions"`
	PositionSize    *float64             `json:"recommended_position_size"`
	TargetPrice     *float64             `json:"target_price"`
	StopLoss        *float64             `json:"stop_loss"`
	Recommendations []Recommendation     `json:"node_results"`
}

// Clone returns a deep copy so adjustments never alias the original.
func (d Decision) Clone() Decision {
	out := d
	if d.Votes != nil {
		out.Votes = make(VoteTally, len(d.Votes))
		for k, v := range d.Votes {
			out.Votes[k] = v
		}
	}
	if d.Dissent != nil {
		out.Dissent = append([]Dissent(nil), d.Dissent...)
	}
	if d.Recommendations != nil {
		out.Recommendations = append([]Recommendation(nil), d.Recommendations...)
	}
	out.PositionSize = copyFloat(d.PositionSize)
	out.TargetPrice = copyFloat(d.TargetPrice)
	out.StopLoss = copyFloat(d.StopLoss)
	return out
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
