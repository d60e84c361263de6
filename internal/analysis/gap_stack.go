package analysis

import (
	"fmt"
	"math"

	"github.com/ferdinandre/tradingdemo/internal/market"
)

// PushPolicy decides whether a newly detected gap joins the stack
type PushPolicy string

const (
	// PushPolicyBoundary accepts a same-direction gap whose near boundary
	// moved in the trend direction
	PushPolicyBoundary PushPolicy = "boundary"
	// PushPolicyWidth accepts a same-direction gap that is wider than the top,
	// and requires a minimum width for the first gap of a sequence
	PushPolicyWidth PushPolicy = "width"

	// DefaultMinAnchorWidth is the minimum anchor width for PushPolicyWidth
	DefaultMinAnchorWidth = 0.02
)

// ParsePushPolicy validates a configured policy name
func ParsePushPolicy(s string) (PushPolicy, error) {
	switch PushPolicy(s) {
	case PushPolicyBoundary, PushPolicyWidth:
		return PushPolicy(s), nil
	case "":
		return PushPolicyBoundary, nil
	default:
		return "", fmt.Errorf("unknown push policy %q", s)
	}
}

// GapStack is the per-session LIFO of same-direction gaps.
// Not safe for concurrent use; a session owns exactly one.
type GapStack struct {
	policy         PushPolicy
	minAnchorWidth float64
	gaps           []FVG
}

// NewGapStack creates an empty stack using the given push policy
func NewGapStack(policy PushPolicy, minAnchorWidth float64) *GapStack {
	if policy == "" {
		policy = PushPolicyBoundary
	}
	if minAnchorWidth <= 0 {
		minAnchorWidth = DefaultMinAnchorWidth
	}
	return &GapStack{
		policy:         policy,
		minAnchorWidth: minAnchorWidth,
	}
}

// Policy returns the configured push policy
func (s *GapStack) Policy() PushPolicy {
	return s.policy
}

// Len returns the stack depth
func (s *GapStack) Len() int {
	return len(s.gaps)
}

// Top returns the most recent gap, or false when empty
func (s *GapStack) Top() (FVG, bool) {
	if len(s.gaps) == 0 {
		return FVG{}, false
	}
	return s.gaps[len(s.gaps)-1], true
}

// Direction returns the direction shared by every gap on the stack
func (s *GapStack) Direction() (FVGType, bool) {
	top, ok := s.Top()
	return top.Type, ok
}

// Gaps returns a copy of the stack, bottom first
func (s *GapStack) Gaps() []FVG {
	out := make([]FVG, len(s.gaps))
	copy(out, s.gaps)
	return out
}

// PopInvalidated removes gaps from the top while the bar has filled them.
// Stops at the first gap that still holds. Returns the removed gaps, top first.
func (s *GapStack) PopInvalidated(bar market.Bar) []FVG {
	var popped []FVG
	for len(s.gaps) > 0 {
		top := s.gaps[len(s.gaps)-1]
		if !top.FilledBy(bar) {
			break
		}
		s.gaps = s.gaps[:len(s.gaps)-1]
		popped = append(popped, top)
	}
	return popped
}

// ShouldPush decides if candidate extends the stack under the configured policy
func (s *GapStack) ShouldPush(candidate FVG) bool {
	top, ok := s.Top()

	switch s.policy {
	case PushPolicyWidth:
		if !ok {
			return math.Abs(candidate.Width()) > s.minAnchorWidth
		}
		if candidate.Type != top.Type {
			return false
		}
		return math.Abs(candidate.Width()) > math.Abs(top.Width())

	default:
		if !ok {
			return true
		}
		if candidate.Type != top.Type {
			return false
		}
		if candidate.Type == BullishFVG {
			return candidate.Low > top.Low
		}
		return candidate.High < top.High
	}
}

// Push appends a gap. Callers must check ShouldPush first.
func (s *GapStack) Push(g FVG) {
	s.gaps = append(s.gaps, g)
}

// Reset clears the stack at session start
func (s *GapStack) Reset() {
	s.gaps = s.gaps[:0]
}

// Restore replaces the stack contents, used when resuming a persisted session
func (s *GapStack) Restore(gaps []FVG) {
	s.gaps = append(s.gaps[:0], gaps...)
}
