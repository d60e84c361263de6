package analysis

import (
	"testing"
)

func bullGap(low, high float64) FVG {
	return FVG{Type: BullishFVG, Low: low, High: high, CreatedAt: t0}
}

func bearGap(low, high float64) FVG {
	return FVG{Type: BearishFVG, Low: low, High: high, CreatedAt: t0}
}

func TestPopInvalidatedBullish(t *testing.T) {
	s := NewGapStack(PushPolicyBoundary, 0)
	s.Push(bullGap(10.5, 10.8))

	popped := s.PopInvalidated(bar(3, 10.7, 10.9, 10.4, 10.6))
	if len(popped) != 1 {
		t.Fatalf("Expected 1 popped gap, got %d", len(popped))
	}
	if s.Len() != 0 {
		t.Errorf("Expected empty stack, got depth %d", s.Len())
	}
}

func TestPopInvalidatedStopsAtHoldingGap(t *testing.T) {
	s := NewGapStack(PushPolicyBoundary, 0)
	s.Push(bullGap(10.0, 10.2))
	s.Push(bullGap(10.5, 10.8))
	s.Push(bullGap(10.9, 11.1))

	// Fills the top two but not the bottom
	popped := s.PopInvalidated(bar(5, 11.0, 11.0, 10.3, 10.4))
	if len(popped) != 2 {
		t.Fatalf("Expected 2 popped gaps, got %d", len(popped))
	}
	if popped[0].Low != 10.9 {
		t.Errorf("Expected top gap popped first, got %s", popped[0])
	}
	top, ok := s.Top()
	if !ok || top.Low != 10.0 {
		t.Errorf("Expected remaining top at 10.0, got %s", top)
	}
}

func TestPopInvalidatedBearish(t *testing.T) {
	s := NewGapStack(PushPolicyBoundary, 0)
	s.Push(bearGap(99, 100))

	if popped := s.PopInvalidated(bar(3, 98, 99.9, 97, 98)); len(popped) != 0 {
		t.Errorf("High below gap top should not pop, got %d", len(popped))
	}
	if popped := s.PopInvalidated(bar(4, 98, 100, 97, 99)); len(popped) != 1 {
		t.Errorf("High touching gap top should pop, got %d", len(popped))
	}
}

func TestPopInvalidatedIdempotent(t *testing.T) {
	s := NewGapStack(PushPolicyBoundary, 0)
	s.Push(bullGap(10.0, 10.2))
	s.Push(bullGap(10.5, 10.8))
	b := bar(3, 10.6, 10.9, 10.4, 10.6)

	s.PopInvalidated(b)
	depth := s.Len()
	if popped := s.PopInvalidated(b); len(popped) != 0 || s.Len() != depth {
		t.Errorf("Second pop with same bar changed the stack: popped %d, depth %d -> %d", len(popped), depth, s.Len())
	}
}

func TestShouldPushBoundaryPolicy(t *testing.T) {
	tests := []struct {
		name      string
		stack     []FVG
		candidate FVG
		want      bool
	}{
		{"empty accepts bullish", nil, bullGap(10, 10.1), true},
		{"empty accepts bearish", nil, bearGap(10, 10.1), true},
		{"bullish continuation", []FVG{bullGap(10.5, 10.8)}, bullGap(10.6, 10.9), true},
		{"bullish not higher", []FVG{bullGap(10.5, 10.8)}, bullGap(10.5, 11.0), false},
		{"bullish lower", []FVG{bullGap(10.5, 10.8)}, bullGap(10.2, 10.4), false},
		{"opposite rejected", []FVG{bullGap(10.5, 10.8)}, bearGap(10.6, 10.7), false},
		{"bearish continuation", []FVG{bearGap(99, 100)}, bearGap(97, 98), true},
		{"bearish not lower", []FVG{bearGap(99, 100)}, bearGap(99.5, 100.5), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewGapStack(PushPolicyBoundary, 0)
			for _, g := range tt.stack {
				s.Push(g)
			}
			if got := s.ShouldPush(tt.candidate); got != tt.want {
				t.Errorf("ShouldPush(%s) = %v, want %v", tt.candidate, got, tt.want)
			}
		})
	}
}

func TestShouldPushWidthPolicy(t *testing.T) {
	tests := []struct {
		name      string
		stack     []FVG
		candidate FVG
		want      bool
	}{
		{"narrow anchor rejected", nil, bullGap(10, 10.01), false},
		{"wide anchor accepted", nil, bullGap(10, 10.05), true},
		{"wider continuation", []FVG{bullGap(10, 10.05)}, bullGap(9.9, 10.0), true},
		{"narrower continuation", []FVG{bullGap(10, 10.05)}, bullGap(10.5, 10.53), false},
		{"opposite rejected", []FVG{bullGap(10, 10.05)}, bearGap(9, 10), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewGapStack(PushPolicyWidth, DefaultMinAnchorWidth)
			for _, g := range tt.stack {
				s.Push(g)
			}
			if got := s.ShouldPush(tt.candidate); got != tt.want {
				t.Errorf("ShouldPush(%s) = %v, want %v", tt.candidate, got, tt.want)
			}
		})
	}
}

// TestStackDirectionInvariant feeds a mixed sequence and checks every gap
// on the stack always shares one direction.
func TestStackDirectionInvariant(t *testing.T) {
	s := NewGapStack(PushPolicyBoundary, 0)
	seq := []struct {
		popBar bool
		gap    FVG
	}{
		{false, bullGap(10, 10.2)},
		{false, bearGap(9, 9.5)},
		{false, bullGap(10.3, 10.6)},
		{true, bearGap(9.7, 9.8)},
		{false, bearGap(9.2, 9.4)},
		{false, bullGap(9.9, 10.0)},
	}

	for i, step := range seq {
		if step.popBar {
			// trade down through every bullish gap
			s.PopInvalidated(bar(i, 10, 10.1, 9.0, 9.5))
		}
		if s.ShouldPush(step.gap) {
			s.Push(step.gap)
		}
		gaps := s.Gaps()
		for _, g := range gaps {
			if g.Type != gaps[0].Type {
				t.Fatalf("Step %d: mixed directions on stack %v", i, gaps)
			}
		}
	}

	dir, ok := s.Direction()
	if !ok || dir != BearishFVG {
		t.Errorf("Expected bearish stack after flip, got %s (ok=%v)", dir, ok)
	}
}

func TestResetAndRestore(t *testing.T) {
	s := NewGapStack("", 0)
	if s.Policy() != PushPolicyBoundary {
		t.Errorf("Expected default boundary policy, got %s", s.Policy())
	}
	s.Push(bullGap(1, 2))
	s.Reset()
	if s.Len() != 0 {
		t.Errorf("Expected empty stack after reset, got %d", s.Len())
	}

	s.Restore([]FVG{bullGap(1, 2), bullGap(3, 4)})
	top, _ := s.Top()
	if s.Len() != 2 || top.Low != 3 {
		t.Errorf("Restore did not rebuild stack in order: %v", s.Gaps())
	}
}

func TestParsePushPolicy(t *testing.T) {
	if p, err := ParsePushPolicy("width"); err != nil || p != PushPolicyWidth {
		t.Errorf("Expected width policy, got %s (%v)", p, err)
	}
	if _, err := ParsePushPolicy("widest"); err == nil {
		t.Error("Expected error for unknown policy")
	}
}
