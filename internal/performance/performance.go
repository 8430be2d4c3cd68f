// Package performance summarizes trade results and throttles outbound calls.
package performance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ensemble-trader/internal/models"
)

// Summary aggregates realized results over a window of trades.
type Summary struct {
	TotalTrades  int     `json:"total_trades"`
	ClosedTrades int     `json:"closed_trades"`
	TotalPnL     float64 `json:"total_pnl"`
	WinRate      float64 `json:"win_rate"`
	AveragePnL   float64 `json:"average_pnl"`
}

// Summarize computes a Summary. Only trades with a realized P&L count
// towards the win rate and averages; TotalTrades counts everything.
func Summarize(trades []models.TradeRecord) Summary {
	s := Summary{TotalTrades: len(trades)}
	wins := 0
	for _, t := range trades {
		if t.PnL == nil {
			continue
		}
		s.ClosedTrades++
		s.TotalPnL += *t.PnL
		if *t.PnL > 0 {
			wins++
		}
	}
	if s.ClosedTrades > 0 {
		s.WinRate = float64(wins) / float64(s.ClosedTrades) * 100
		s.AveragePnL = s.TotalPnL / float64(s.ClosedTrades)
	}
	return s
}

// String renders the summary as notification lines.
func (s Summary) String() string {
	if s.TotalTrades == 0 {
		return "No trades yet."
	}
	return fmt.Sprintf("Total trades: %d\nRealized P&L: %.2f\nWin rate: %.1f%%\nAverage P&L: %.2f",
		s.TotalTrades, s.TotalPnL, s.WinRate, s.AveragePnL)
}

// RateLimiter implements a token bucket rate limiter.
type RateLimiter struct {
	rate       float64 // tokens per second
	burst      int     // max tokens
	tokens     float64
	lastUpdate time.Time
	mu         sync.Mutex
	now        func() time.Time
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		rate:       rate,
		burst:      burst,
		tokens:     float64(burst),
		lastUpdate: time.Now(),
		now:        time.Now,
	}
}

// Allow checks if a request is allowed under the rate limit.
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.tokens += now.Sub(r.lastUpdate).Seconds() * r.rate
	r.lastUpdate = now
	if r.tokens > float64(r.burst) {
		r.tokens = float64(r.burst)
	}

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// Wait blocks until a request is allowed or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if r.Allow() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
