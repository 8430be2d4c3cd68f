package indicators

import (
	"ensemble-trader/internal/models"
)

// Periods used for snapshot indicators.
const (
	RSIPeriod       = 14
	MACDFast        = 12
	MACDSlow        = 26
	MACDSignal      = 9
	BollingerPeriod = 20
	BollingerStdDev = 2.0
	WeekBars        = 5
	VolumeAvgWindow = 30
	HistoryLookback = 120 // calendar days of daily bars to request
)

// Enrich returns a copy of snap with the fields derivable from daily candles
// (oldest first) filled in: 1D and 1W price change, 30-day average volume,
// RSI-14, MACD(12,26,9) and Bollinger(20,2). Fields already set on snap are
// kept, and indicators without enough history stay nil.
func Enrich(snap models.MarketSnapshot, candles []models.Candle) models.MarketSnapshot {
	n := len(candles)
	if n == 0 {
		return snap
	}
	last := candles[n-1].Close

	if snap.PriceChange1D == nil && n >= 2 {
		snap.PriceChange1D = percentChange(last, candles[n-2].Close)
	}
	if snap.PriceChange1W == nil && n > WeekBars {
		snap.PriceChange1W = percentChange(last, candles[n-1-WeekBars].Close)
	}
	if snap.Volume == nil {
		snap.Volume = models.Int64(candles[n-1].Volume)
	}
	if snap.VolumeAvg30D == nil {
		window := candles[max(0, n-VolumeAvgWindow):]
		var total int64
		for _, c := range window {
			total += c.Volume
		}
		snap.VolumeAvg30D = models.Int64(total / int64(len(window)))
	}

	if snap.Indicators == nil {
		if ti := technicals(candles); ti != nil {
			snap.Indicators = ti
		}
	}
	return snap
}

func technicals(candles []models.Candle) *models.TechnicalIndicators {
	var ti models.TechnicalIndicators
	found := false
	n := len(candles)

	if values, err := NewRSI(RSIPeriod).Calculate(candles); err == nil {
		ti.RSI14 = models.Float(values[n-1])
		found = true
	}
	if series, err := NewMACD(MACDFast, MACDSlow, MACDSignal).Calculate(candles); err == nil {
		ti.MACD = &models.MACD{
			Value:  series["macd"][n-1],
			Signal: series["signal"][n-1],
		}
		found = true
	}
	if bands, err := NewBollingerBands(BollingerPeriod, BollingerStdDev).Calculate(candles); err == nil {
		ti.BBUpper = models.Float(bands["upper"][n-1])
		ti.BBLower = models.Float(bands["lower"][n-1])
		found = true
	}

	if !found {
		return nil
	}
	return &ti
}

func percentChange(now, then float64) *float64 {
	if then == 0 {
		return nil
	}
	return models.Float((now - then) / then * 100)
}
