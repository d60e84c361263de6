package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PaperExecutor fills every order in full at its reference price.
// Used by the backtest and by dry-run live sessions.
type PaperExecutor struct {
	mu    sync.Mutex
	fills []PaperFill
	now   func() time.Time
}

// PaperFill is an executed paper order kept for inspection
type PaperFill struct {
	Order Order
	Fill  Fill
}

// NewPaperExecutor creates an in-memory executor
func NewPaperExecutor() *PaperExecutor {
	return &PaperExecutor{now: time.Now}
}

// Execute simulates a market order at order.RefPrice
func (p *PaperExecutor) Execute(ctx context.Context, order Order) (Fill, error) {
	if err := ctx.Err(); err != nil {
		return Fill{}, err
	}
	if order.Qty <= 0 {
		return Fill{}, fmt.Errorf("%w: quantity must be > 0, got %v", ErrOrderRejected, order.Qty)
	}
	if order.RefPrice <= 0 {
		return Fill{}, fmt.Errorf("%w: paper fills need a reference price", ErrOrderRejected)
	}

	fill := Fill{
		OrderID:  uuid.New().String(),
		Qty:      order.Qty,
		AvgPrice: order.RefPrice,
		Time:     p.now().UTC(),
	}

	p.mu.Lock()
	p.fills = append(p.fills, PaperFill{Order: order, Fill: fill})
	p.mu.Unlock()

	return fill, nil
}

// Fills returns every simulated fill so far
func (p *PaperExecutor) Fills() []PaperFill {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]PaperFill, len(p.fills))
	copy(out, p.fills)
	return out
}

// PnLBooker is implemented by simulated accounts that book realized P&L locally
type PnLBooker interface {
	Book(pnl float64)
}

// StaticAccount is an AccountProvider with fixed or externally updated values
type StaticAccount struct {
	mu       sync.RWMutex
	snapshot AccountSnapshot
}

// NewStaticAccount creates an account provider starting at equity
func NewStaticAccount(equity, buyingPower float64) *StaticAccount {
	return &StaticAccount{snapshot: AccountSnapshot{Equity: equity, BuyingPower: buyingPower, Cash: equity}}
}

// Account returns the current snapshot
func (a *StaticAccount) Account(ctx context.Context) (AccountSnapshot, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot, nil
}

// SetEquity updates equity and cash, used by drivers that book P&L locally
func (a *StaticAccount) SetEquity(equity float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot.Equity = equity
	a.snapshot.Cash = equity
}

// Book adds realized P&L to equity and cash
func (a *StaticAccount) Book(pnl float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.snapshot.Equity += pnl
	a.snapshot.Cash += pnl
}
