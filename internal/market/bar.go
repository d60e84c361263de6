package market

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidBar is returned when a bar is missing or has malformed OHLC fields
var ErrInvalidBar = errors.New("invalid bar")

// Bar represents one OHLC candle for a single symbol
type Bar struct {
	Symbol     string    `json:"symbol"`
	Time       time.Time `json:"time"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     *float64  `json:"volume,omitempty"`
	VWAP       *float64  `json:"vwap,omitempty"`
	TradeCount *int64    `json:"trade_count,omitempty"`
}

// Validate fails fast on bars that cannot be used for gap detection or exits
func (b Bar) Validate() error {
	if b.Time.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidBar)
	}
	fields := []struct {
		name  string
		value float64
	}{
		{"open", b.Open},
		{"high", b.High},
		{"low", b.Low},
		{"close", b.Close},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || math.IsInf(f.value, 0) || f.value <= 0 {
			return fmt.Errorf("%w: %s %s at %s is %v", ErrInvalidBar, b.Symbol, f.name, b.Time.Format(time.RFC3339), f.value)
		}
	}
	if b.High < b.Low {
		return fmt.Errorf("%w: %s high %.4f below low %.4f at %s", ErrInvalidBar, b.Symbol, b.High, b.Low, b.Time.Format(time.RFC3339))
	}
	return nil
}

// Quote is the top of book for a symbol
type Quote struct {
	Symbol string
	Bid    float64
	Ask    float64
	Last   float64
	Time   time.Time
}

// Mid returns the bid/ask midpoint, or 0 if either side is missing
func (q Quote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// EntryPrice picks the side of the book a market order would cross.
// Falls back to the midpoint and then the last trade.
func (q Quote) EntryPrice(long bool) float64 {
	if long && q.Ask > 0 {
		return q.Ask
	}
	if !long && q.Bid > 0 {
		return q.Bid
	}
	if mid := q.Mid(); mid > 0 {
		return mid
	}
	return q.Last
}
