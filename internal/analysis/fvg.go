package analysis

import (
	"fmt"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/market"
)

// FVGType represents the direction of a Fair Value Gap
type FVGType string

const (
	BullishFVG FVGType = "bullish"
	BearishFVG FVGType = "bearish"
)

// Opposite returns the other direction
func (t FVGType) Opposite() FVGType {
	if t == BullishFVG {
		return BearishFVG
	}
	return BullishFVG
}

// FVG is a three-candle price gap. Low is always below High.
type FVG struct {
	Type      FVGType   `json:"type"`
	Low       float64   `json:"low"`
	High      float64   `json:"high"`
	CreatedAt time.Time `json:"created_at"`
}

// Width returns the price distance between the gap boundaries
func (g FVG) Width() float64 {
	return g.High - g.Low
}

// Contains checks if price is within the gap zone
func (g FVG) Contains(price float64) bool {
	return price >= g.Low && price <= g.High
}

// FilledBy reports whether the bar has traded back through the gap's far boundary
func (g FVG) FilledBy(bar market.Bar) bool {
	if g.Type == BullishFVG {
		return bar.Low <= g.Low
	}
	return bar.High >= g.High
}

func (g FVG) String() string {
	return fmt.Sprintf("%s[%.4f,%.4f]", g.Type, g.Low, g.High)
}

// DetectGap checks three consecutive bars for a gap between b0 and b2.
// Bullish is checked first: b2.Low > b0.High. Bearish: b2.High < b0.Low.
// The middle bar only has to be well formed. Returns nil when there is no gap.
func DetectGap(b0, b1, b2 market.Bar) (*FVG, error) {
	for _, b := range []market.Bar{b0, b1, b2} {
		if err := b.Validate(); err != nil {
			return nil, err
		}
	}

	if b2.Low > b0.High {
		return &FVG{
			Type:      BullishFVG,
			Low:       b0.High,
			High:      b2.Low,
			CreatedAt: b2.Time,
		}, nil
	}

	if b2.High < b0.Low {
		return &FVG{
			Type:      BearishFVG,
			Low:       b2.High,
			High:      b0.Low,
			CreatedAt: b2.Time,
		}, nil
	}

	return nil, nil
}

// ScanGaps runs DetectGap over every three-bar window and returns all gaps found
func ScanGaps(bars []market.Bar) ([]FVG, error) {
	if len(bars) < 3 {
		return nil, nil
	}

	var gaps []FVG
	for i := 0; i < len(bars)-2; i++ {
		g, err := DetectGap(bars[i], bars[i+1], bars[i+2])
		if err != nil {
			return gaps, fmt.Errorf("window at index %d: %w", i, err)
		}
		if g != nil {
			gaps = append(gaps, *g)
		}
	}
	return gaps, nil
}
