package risk

import (
	"errors"
	"math"
	"testing"
)

func TestFractionEndpoints(t *testing.T) {
	tests := []struct {
		name string
		x    float64
		want float64
	}{
		{"negative", -0.5, 0},
		{"zero", 0, 0},
		{"at max", 2.0, 1},
		{"beyond max", 5.0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fraction(tt.x, 2.0, 2.0); got != tt.want {
				t.Errorf("Fraction(%v) = %v, want %v", tt.x, got, tt.want)
			}
		})
	}
}

func TestFractionMidpoint(t *testing.T) {
	got := Fraction(1.0, 2.0, 2.0)
	want := math.Log(3) / math.Log(5)
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Fraction(1.0) = %v, want %v", got, want)
	}
	if math.Floor(100*got) != 68 {
		t.Errorf("Expected 68 of 100 closed at 1R, got %v", math.Floor(100*got))
	}
}

func TestFractionMonotone(t *testing.T) {
	params := []struct{ k, xMax float64 }{
		{2.0, 2.0},
		{1.5, 1.0},
		{0.1, 3.0},
		{10, 0.5},
	}

	for _, p := range params {
		prev := 0.0
		for x := -1.0; x <= p.xMax+1; x += 0.01 {
			f := Fraction(x, p.k, p.xMax)
			if f < 0 || f > 1 {
				t.Fatalf("Fraction(%v, %v, %v) = %v out of bounds", x, p.k, p.xMax, f)
			}
			if f < prev {
				t.Fatalf("Fraction decreased at x=%v (k=%v, xMax=%v): %v < %v", x, p.k, p.xMax, f, prev)
			}
			prev = f
		}
	}
}

func TestFractionDegenerateParams(t *testing.T) {
	if got := Fraction(1, 0, 2); got != 0 {
		t.Errorf("Expected 0 for k=0, got %v", got)
	}
	if got := Fraction(1, 2, -1); got != 0 {
		t.Errorf("Expected 0 for negative xMax, got %v", got)
	}
}

func TestCurveConfigValidate(t *testing.T) {
	if err := DefaultCurveConfig().Validate(); err != nil {
		t.Errorf("Default curves should be valid: %v", err)
	}

	bad := []CurveConfig{
		{Alpha: 0, RMax: 2, Beta: 1.5, RStop: 1},
		{Alpha: 2, RMax: -1, Beta: 1.5, RStop: 1},
		{Alpha: 2, RMax: 2, Beta: 1.5, RStop: 0},
	}
	for _, c := range bad {
		if err := c.Validate(); !errors.Is(err, ErrInvalidCurve) {
			t.Errorf("Expected ErrInvalidCurve for %+v, got %v", c, err)
		}
	}
}

func TestCurveConfigFractions(t *testing.T) {
	c := DefaultCurveConfig()
	if got := c.ProfitFraction(c.RMax); got != 1 {
		t.Errorf("Profit fraction at r_max = %v, want 1", got)
	}
	if got := c.LossFraction(c.RStop); got != 1 {
		t.Errorf("Loss fraction at r_stop = %v, want 1", got)
	}
	if got := c.LossFraction(0.5); got <= 0 || got >= 1 {
		t.Errorf("Loss fraction at 0.5R should be strictly between 0 and 1, got %v", got)
	}
}

func TestSizerQuantity(t *testing.T) {
	base := SizingConfig{
		RiskFraction:        0.01,
		NotionalCapMultiple: 1.0,
		SafetyBuffer:        0.95,
		MinQuantity:         MinQuantitySkip,
	}

	tests := []struct {
		name   string
		config func(c *SizingConfig)
		req    SizeRequest
		want   float64
	}{
		{
			name: "buying power cap binds",
			req:  SizeRequest{Long: true, Entry: 50, RiskPerShare: 0.5, Equity: 10000, BuyingPower: 10000},
			want: 190,
		},
		{
			name: "risk binds",
			req:  SizeRequest{Long: true, Entry: 50, RiskPerShare: 2, Equity: 10000, BuyingPower: 50000},
			want: 50,
		},
		{
			name: "notional cap binds without buying power",
			req:  SizeRequest{Long: true, Entry: 50, RiskPerShare: 0.1, Equity: 10000},
			want: 200,
		},
		{
			name: "zero risk per share",
			req:  SizeRequest{Long: true, Entry: 50, RiskPerShare: 0, Equity: 10000},
			want: 0,
		},
		{
			name: "zero entry",
			req:  SizeRequest{Long: true, Entry: 0, RiskPerShare: 1, Equity: 10000},
			want: 0,
		},
		{
			name:   "fractional long kept",
			config: func(c *SizingConfig) { c.AllowFractional = true },
			req:    SizeRequest{Long: true, Entry: 50, RiskPerShare: 3, Equity: 1000},
			want:   1000 * 0.01 / 3,
		},
		{
			name:   "short always whole",
			config: func(c *SizingConfig) { c.AllowFractional = true },
			req:    SizeRequest{Long: false, Entry: 50, RiskPerShare: 3, Equity: 1000},
			want:   3,
		},
		{
			name: "below one unit skipped",
			req:  SizeRequest{Long: true, Entry: 50, RiskPerShare: 20, Equity: 1000},
			want: 0,
		},
		{
			name:   "below one unit forced to one",
			config: func(c *SizingConfig) { c.MinQuantity = MinQuantityOne },
			req:    SizeRequest{Long: true, Entry: 50, RiskPerShare: 20, Equity: 1000},
			want:   1,
		},
		{
			name:   "one unit unaffordable",
			config: func(c *SizingConfig) { c.MinQuantity = MinQuantityOne },
			req:    SizeRequest{Long: true, Entry: 500, RiskPerShare: 20, Equity: 400},
			want:   0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			if tt.config != nil {
				tt.config(&cfg)
			}
			got := NewSizer(cfg).Quantity(tt.req)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Quantity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSizerNeverNegative(t *testing.T) {
	s := NewSizer(DefaultSizingConfig())
	inputs := []float64{-100, -1, 0, 0.001, 1, 50, 1e6}
	for _, entry := range inputs {
		for _, rps := range inputs {
			for _, equity := range inputs {
				q := s.Quantity(SizeRequest{Long: entry > 1, Entry: entry, RiskPerShare: rps, Equity: equity})
				if q < 0 || math.IsNaN(q) {
					t.Fatalf("Quantity(entry=%v, rps=%v, equity=%v) = %v", entry, rps, equity, q)
				}
			}
		}
	}
}

func TestSizingConfigValidate(t *testing.T) {
	if err := DefaultSizingConfig().Validate(); err != nil {
		t.Errorf("Default sizing config should be valid: %v", err)
	}
	cfg := DefaultSizingConfig()
	cfg.MinQuantity = "always"
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for unknown sizing policy")
	}
	cfg = DefaultSizingConfig()
	cfg.RiskFraction = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero risk fraction")
	}
}
