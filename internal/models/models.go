// Package models provides domain models for the trading application.
package models

import (
	"strings"
	"time"
)

// Exchange represents a stock exchange.
type Exchange string

const (
	NSE Exchange = "NSE"
	BSE Exchange = "BSE"
)

// OrderSide represents the side of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// ProductType represents the product type of an order.
type ProductType string

const (
	ProductMIS ProductType = "MIS" // Intraday
	ProductCNC ProductType = "CNC" // Delivery
)

// ExecutionMode selects where an executed decision is routed.
type ExecutionMode string

const (
	ModeVirtual ExecutionMode = "virtual" // internal ledger
	ModePaper   ExecutionMode = "paper"   // brokerage sandbox
	ModeLive    ExecutionMode = "live"    // real capital
)

// ParseExecutionMode parses a mode name, case-insensitively.
func ParseExecutionMode(s string) (ExecutionMode, bool) {
	switch ExecutionMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeVirtual:
		return ModeVirtual, true
	case ModePaper:
		return ModePaper, true
	case ModeLive:
		return ModeLive, true
	}
	return "", false
}

// Candle represents one OHLCV bar.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// MACD holds the MACD line and its signal line.
type MACD struct {
	Value  float64 `json:"value"`
	Signal float64 `json:"signal"`
}

// TechnicalIndicators holds derived indicators for a snapshot.
type TechnicalIndicators struct {
	RSI14   *float64 `json:"rsi_14,omitempty"`
	MACD    *MACD    `json:"macd,omitempty"`
	BBUpper *float64 `json:"bb_upper,omitempty"`
	BBLower *float64 `json:"bb_lower,omitempty"`
}

// Fundamentals holds basic valuation data.
type Fundamentals struct {
	PERatio   *float64 `json:"pe_ratio,omitempty"`
	MarketCap *float64 `json:"market_cap,omitempty"`
}

// NewsSentimentItem is a single scored headline.
type NewsSentimentItem struct {
	Headline       string  `json:"headline"`
	SentimentScore float64 `json:"sentiment_score"`
}

// MarketSnapshot is the immutable market view for one analysis cycle.
type MarketSnapshot struct {
	Symbol        string               `json:"symbol" validate:"required"`
	Timestamp     time.Time            `json:"timestamp"`
	CurrentPrice  float64              `json:"current_price" validate:"gt=0"`
	PriceChange1D *float64             `json:"price_change_1d,omitempty"`
	PriceChange1W *float64             `json:"price_change_1w,omitempty"`
	Volume        *int64               `json:"volume,omitempty" validate:"omitempty,gte=0"`
	VolumeAvg30D  *int64               `json:"volume_avg_30d,omitempty" validate:"omitempty,gte=0"`
	Indicators    *TechnicalIndicators `json:"technical_indicators,omitempty"`
	Fundamentals  *Fundamentals        `json:"fundamentals,omitempty"`
	NewsSentiment []NewsSentimentItem  `json:"news_sentiment,omitempty"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// Int64 returns a pointer to v.
func Int64(v int64) *int64 {
	return &v
}
