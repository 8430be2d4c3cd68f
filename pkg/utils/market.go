package utils

import (
	"time"
)

// MarketStatus is the NSE cash session state.
type MarketStatus string

const (
	MarketPreOpen          MarketStatus = "PRE_OPEN"
	MarketOpen             MarketStatus = "OPEN"
	MarketMISSquareOffWarn MarketStatus = "MIS_SQUAREOFF_WARNING"
	MarketClosed           MarketStatus = "CLOSED"
)

// Session boundaries in minutes after midnight IST.
const (
	preOpenMinute   = 9 * 60
	openMinute      = 9*60 + 15
	squareOffMinute = 15 * 60
	closeMinute     = 15*60 + 30
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Fallback to UTC+5:30
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// MarketStatusAt returns the session state at t. Exchange holidays are not
// tracked, so only weekends count as closed days.
func MarketStatusAt(t time.Time) MarketStatus {
	now := t.In(IndiaLocation)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return MarketClosed
	}

	minutes := now.Hour()*60 + now.Minute()
	switch {
	case minutes >= preOpenMinute && minutes < openMinute:
		return MarketPreOpen
	case minutes >= squareOffMinute && minutes < squareOffMinute+15:
		return MarketMISSquareOffWarn
	case minutes >= openMinute && minutes < closeMinute:
		return MarketOpen
	}
	return MarketClosed
}

// IsMarketOpen reports whether continuous trading is running at t.
func IsMarketOpen(t time.Time) bool {
	status := MarketStatusAt(t)
	return status == MarketOpen || status == MarketMISSquareOffWarn
}

// NextMarketOpen returns the first session open strictly after t.
func NextMarketOpen(t time.Time) time.Time {
	now := t.In(IndiaLocation)
	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, IndiaLocation)
	if !now.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
