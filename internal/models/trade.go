package models

import "time"

// VirtualPosition is a simulated holding in the virtual ledger.
// AverageCost is meaningful only while Quantity > 0.
type VirtualPosition struct {
	Symbol      string    `json:"symbol"`
	Quantity    float64   `json:"quantity"`
	AverageCost float64   `json:"avg_price"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Fill is the ledger's answer to an applied order.
type Fill struct {
	RealizedPnL *float64
	EntryPrice  float64
}

// ExecutionReceipt describes an executed decision.
type ExecutionReceipt struct {
	Mode        ExecutionMode `json:"mode"`
	OrderID     string        `json:"order_id"`
	Side        OrderSide     `json:"side"`
	Quantity    int           `json:"quantity"`
	RealizedPnL *float64      `json:"realized_pnl,omitempty"`
	EntryPrice  float64       `json:"entry_price"`
}

// AdvisorVote is the compact per-advisor summary stored with a trade.
type AdvisorVote struct {
	AdvisorID  string  `json:"node_id"`
	Model      string  `json:"model"`
	Vote       Vote    `json:"recommendation"`
	Confidence float64 `json:"confidence"`
}

// TradeRecord is one row of the trade log.
type TradeRecord struct {
	ID              int64         `json:"id"`
	Timestamp       time.Time     `json:"timestamp"`
	MarketTimestamp time.Time     `json:"market_timestamp"`
	Symbol          string        `json:"symbol"`
	Decision        Vote          `json:"decision"`
	Confidence      float64       `json:"aggregate_confidence"`
	EntryPrice      float64       `json:"entry_price"`
	ExitPrice       *float64      `json:"exit_price"`
	PnL             *float64      `json:"profit_loss"`
	HoldingPeriod   time.Duration `json:"holding_period"`
	AdvisorVotes    []AdvisorVote `json:"node_votes"`
	Mode            ExecutionMode `json:"mode"`
	OrderID         string        `json:"order_id"`
}

// AdvisorVotesOf summarizes the recommendations behind a decision.
func AdvisorVotesOf(d Decision) []AdvisorVote {
	votes := make([]AdvisorVote, 0, len(d.Recommendations))
	for _, r := range d.Recommendations {
		votes = append(votes, AdvisorVote{
			AdvisorID:  r.AdvisorID,
			Model:      r.Model,
			Vote:       r.Vote,
			Confidence: r.Confidence,
		})
	}
	return votes
}
