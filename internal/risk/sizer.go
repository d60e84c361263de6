package risk

import (
	"fmt"
	"math"
)

// MinQuantityPolicy decides what happens when risk-based sizing rounds below one unit
type MinQuantityPolicy string

const (
	// MinQuantitySkip returns 0 and lets the caller skip the trade
	MinQuantitySkip MinQuantityPolicy = "skip"
	// MinQuantityOne forces a single unit when one unit fits under the caps
	MinQuantityOne MinQuantityPolicy = "min_one"
)

// ParseMinQuantityPolicy validates a configured policy name
func ParseMinQuantityPolicy(s string) (MinQuantityPolicy, error) {
	switch MinQuantityPolicy(s) {
	case MinQuantitySkip, MinQuantityOne:
		return MinQuantityPolicy(s), nil
	default:
		return "", fmt.Errorf("unknown sizing policy %q", s)
	}
}

// SizingConfig holds position sizing parameters
type SizingConfig struct {
	RiskFraction        float64           // Fraction of equity risked per trade, 0.01 = 1%
	NotionalCapMultiple float64           // Max notional as a multiple of equity
	SafetyBuffer        float64           // Share of buying power usable per order
	AllowFractional     bool              // Longs may hold fractional units
	MinQuantity         MinQuantityPolicy // Behavior below one unit
}

// DefaultSizingConfig returns conservative live defaults
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		RiskFraction:        0.01,
		NotionalCapMultiple: 1.0,
		SafetyBuffer:        0.95,
		AllowFractional:     false,
		MinQuantity:         MinQuantitySkip,
	}
}

// Validate checks sizing parameters
func (c SizingConfig) Validate() error {
	if c.RiskFraction <= 0 || c.RiskFraction > 1 {
		return fmt.Errorf("risk fraction must be in (0, 1], got %v", c.RiskFraction)
	}
	if c.NotionalCapMultiple <= 0 {
		return fmt.Errorf("notional cap multiple must be positive, got %v", c.NotionalCapMultiple)
	}
	if c.SafetyBuffer <= 0 || c.SafetyBuffer > 1 {
		return fmt.Errorf("safety buffer must be in (0, 1], got %v", c.SafetyBuffer)
	}
	if _, err := ParseMinQuantityPolicy(string(c.MinQuantity)); err != nil {
		return err
	}
	return nil
}

// SizeRequest carries the per-trade inputs to the sizer
type SizeRequest struct {
	Long         bool
	Entry        float64
	RiskPerShare float64
	Equity       float64
	BuyingPower  float64 // 0 when unknown
}

// Sizer converts a risk budget into an order quantity
type Sizer struct {
	config SizingConfig
}

// NewSizer creates a new position sizer
func NewSizer(config SizingConfig) *Sizer {
	if config.SafetyBuffer <= 0 {
		config.SafetyBuffer = 1
	}
	if config.MinQuantity == "" {
		config.MinQuantity = MinQuantitySkip
	}
	return &Sizer{config: config}
}

// Config returns the sizer's parameters
func (s *Sizer) Config() SizingConfig {
	return s.config
}

// Quantity returns a non-negative quantity. Zero means do not trade.
func (s *Sizer) Quantity(req SizeRequest) float64 {
	if req.RiskPerShare <= 0 || req.Entry <= 0 || req.Equity <= 0 {
		return 0
	}

	qty := req.Equity * s.config.RiskFraction / req.RiskPerShare

	// Affordability caps
	maxUnits := math.Inf(1)
	if s.config.NotionalCapMultiple > 0 {
		maxUnits = req.Equity * s.config.NotionalCapMultiple / req.Entry
	}
	if req.BuyingPower > 0 {
		maxUnits = math.Min(maxUnits, req.BuyingPower*s.config.SafetyBuffer/req.Entry)
	}
	qty = math.Min(qty, maxUnits)

	if !req.Long || !s.config.AllowFractional {
		qty = math.Floor(qty)
	}

	if qty < 1 && s.config.MinQuantity == MinQuantityOne && maxUnits >= 1 {
		qty = 1
	}

	if math.IsNaN(qty) || qty < 0 {
		return 0
	}
	return qty
}
