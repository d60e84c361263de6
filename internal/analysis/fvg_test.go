package analysis

import (
	"errors"
	"testing"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/market"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func bar(i int, o, h, l, c float64) market.Bar {
	return market.Bar{
		Symbol: "SPY",
		Time:   t0.Add(time.Duration(i) * time.Minute),
		Open:   o,
		High:   h,
		Low:    l,
		Close:  c,
	}
}

// TestDetectBullishFVG tests detection of bullish Fair Value Gaps
func TestDetectBullishFVG(t *testing.T) {
	gap, err := DetectGap(
		bar(0, 10.0, 10.5, 9.9, 10.2),
		bar(1, 10.2, 11.0, 10.1, 10.9),
		bar(2, 10.9, 11.5, 10.8, 11.4),
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gap == nil {
		t.Fatal("Expected a bullish FVG")
	}

	if gap.Type != BullishFVG {
		t.Errorf("Expected BullishFVG, got %s", gap.Type)
	}
	if gap.Low != 10.5 {
		t.Errorf("Expected Low 10.5, got %f", gap.Low)
	}
	if gap.High != 10.8 {
		t.Errorf("Expected High 10.8, got %f", gap.High)
	}
	if !gap.CreatedAt.Equal(t0.Add(2 * time.Minute)) {
		t.Errorf("Expected CreatedAt at third bar, got %v", gap.CreatedAt)
	}
}

// TestDetectBearishFVG tests detection of bearish Fair Value Gaps
func TestDetectBearishFVG(t *testing.T) {
	gap, err := DetectGap(
		bar(0, 105, 106, 100, 102),
		bar(1, 102, 103, 95, 96),
		bar(2, 96, 99, 92, 94),
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gap == nil {
		t.Fatal("Expected a bearish FVG")
	}

	if gap.Type != BearishFVG {
		t.Errorf("Expected BearishFVG, got %s", gap.Type)
	}
	if gap.Low != 99 {
		t.Errorf("Expected Low 99, got %f", gap.Low)
	}
	if gap.High != 100 {
		t.Errorf("Expected High 100, got %f", gap.High)
	}
}

// TestNoFVGDetection tests that no FVG is detected when candles overlap
func TestNoFVGDetection(t *testing.T) {
	gap, err := DetectGap(
		bar(0, 100, 105, 99, 104),
		bar(1, 104, 107, 102, 106),
		bar(2, 106, 108, 104, 107),
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gap != nil {
		t.Errorf("Expected no FVG, got %s", gap)
	}
}

// TestDetectGapTouchingBoundary tests that equal boundaries do not form a gap
func TestDetectGapTouchingBoundary(t *testing.T) {
	gap, err := DetectGap(
		bar(0, 10, 10.5, 9.9, 10.2),
		bar(1, 10.2, 11, 10.1, 10.9),
		bar(2, 10.9, 11.5, 10.5, 11.4),
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if gap != nil {
		t.Errorf("Expected no FVG when b2.low equals b0.high, got %s", gap)
	}
}

func TestDetectGapMalformedBar(t *testing.T) {
	bad := bar(1, 10, 11, 10, 0)
	_, err := DetectGap(bar(0, 10, 10.5, 9.9, 10.2), bad, bar(2, 10.9, 11.5, 10.8, 11.4))
	if !errors.Is(err, market.ErrInvalidBar) {
		t.Errorf("Expected ErrInvalidBar, got %v", err)
	}
}

func TestScanGaps(t *testing.T) {
	bars := []market.Bar{
		bar(0, 10.0, 10.5, 9.9, 10.2),
		bar(1, 10.2, 11.0, 10.1, 10.9),
		bar(2, 10.9, 11.5, 10.8, 11.4),
		bar(3, 11.4, 11.6, 11.2, 11.5),
		bar(4, 11.8, 12.2, 11.7, 12.0),
	}

	gaps, err := ScanGaps(bars)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// windows 0-2 and 2-4 gap up, 1-3 gaps too (11.0 < 11.2)
	if len(gaps) != 3 {
		t.Fatalf("Expected 3 gaps, got %d", len(gaps))
	}
	for _, g := range gaps {
		if g.Type != BullishFVG {
			t.Errorf("Expected only bullish gaps, got %s", g)
		}
		if g.Low >= g.High {
			t.Errorf("Gap boundaries out of order: %s", g)
		}
	}
}

func TestScanGapsShortInput(t *testing.T) {
	gaps, err := ScanGaps([]market.Bar{bar(0, 1, 2, 0.5, 1.5)})
	if err != nil || gaps != nil {
		t.Errorf("Expected nil result for fewer than 3 bars, got %v, %v", gaps, err)
	}
}
