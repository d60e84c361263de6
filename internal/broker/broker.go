// Package broker defines the execution, account and market-data surfaces the
// trading core talks to. Concrete backends live in subpackages or in paper.go.
package broker

import (
	"context"
	"errors"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/market"
)

// Typed execution failures. Backends wrap these so callers can use errors.Is.
var (
	ErrOrderRejected = errors.New("order rejected")
	ErrOrderTimeout  = errors.New("order timed out")
	ErrNoQuote       = errors.New("no quote available")
)

// OrderSide is the side of an order
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Order is a market order for a quantity delta.
// RefPrice is the price the caller expects to trade at; simulated backends fill there.
type Order struct {
	ClientOrderID string
	Symbol        string
	Side          OrderSide
	Qty           float64
	RefPrice      float64
	Intent        string // entry, scale_out, cut, stop, tp, eod, flatten
}

// Fill is the normalized result of an order. Qty below the order quantity is a partial fill.
type Fill struct {
	OrderID  string
	Qty      float64
	AvgPrice float64
	Time     time.Time
}

// AccountSnapshot holds the values sizing depends on
type AccountSnapshot struct {
	Equity      float64
	BuyingPower float64 // 0 when unknown
	Cash        float64
}

// Executor places market orders for quantity deltas
type Executor interface {
	Execute(ctx context.Context, order Order) (Fill, error)
}

// AccountProvider reports current equity and buying power
type AccountProvider interface {
	Account(ctx context.Context) (AccountSnapshot, error)
}

// QuoteProvider returns the latest top of book
type QuoteProvider interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
}

// BarSource yields bars in strictly increasing timestamp order
type BarSource interface {
	Next(ctx context.Context) (market.Bar, error)
}
