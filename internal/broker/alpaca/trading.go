package alpaca

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/broker"

	"github.com/shopspring/decimal"
)

var (
	_ broker.Executor        = (*Client)(nil)
	_ broker.AccountProvider = (*Client)(nil)
	_ broker.QuoteProvider   = (*Client)(nil)
)

// Order statuses that end polling
const (
	StatusFilled   = "filled"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
	StatusRejected = "rejected"
)

// Order is the trading API order object, decoded once at the boundary
type Order struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	Symbol         string           `json:"symbol"`
	Side           string           `json:"side"`
	Status         string           `json:"status"`
	Qty            decimal.Decimal  `json:"qty"`
	FilledQty      decimal.Decimal  `json:"filled_qty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price"`
	FilledAt       *time.Time       `json:"filled_at"`
}

// Terminal reports whether the order can no longer fill
func (o Order) Terminal() bool {
	switch o.Status {
	case StatusFilled, StatusCanceled, StatusExpired, StatusRejected:
		return true
	}
	return false
}

func (o Order) fill() broker.Fill {
	f := broker.Fill{OrderID: o.ID, Qty: o.FilledQty.InexactFloat64()}
	if o.FilledAvgPrice != nil {
		f.AvgPrice = o.FilledAvgPrice.InexactFloat64()
	}
	if o.FilledAt != nil {
		f.Time = *o.FilledAt
	}
	return f
}

// Account is the trading API account object
type Account struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	Equity          decimal.Decimal `json:"equity"`
	BuyingPower     decimal.Decimal `json:"buying_power"`
	Cash            decimal.Decimal `json:"cash"`
	ShortingEnabled bool            `json:"shorting_enabled"`
}

type orderRequest struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	ClientOrderID string `json:"client_order_id,omitempty"`
}

// Account returns equity and buying power
func (c *Client) Account(ctx context.Context) (broker.AccountSnapshot, error) {
	var acct Account
	if err := c.get(ctx, c.trading, "/v2/account", nil, &acct); err != nil {
		return broker.AccountSnapshot{}, err
	}
	return broker.AccountSnapshot{
		Equity:      acct.Equity.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
		Cash:        acct.Cash.InexactFloat64(),
	}, nil
}

// SubmitOrder places a day market order
func (c *Client) SubmitOrder(ctx context.Context, order broker.Order) (Order, error) {
	req := orderRequest{
		Symbol:        order.Symbol,
		Qty:           decimal.NewFromFloat(order.Qty).String(),
		Side:          string(order.Side),
		Type:          "market",
		TimeInForce:   "day",
		ClientOrderID: order.ClientOrderID,
	}

	resp, err := c.trading.R().
		SetContext(ctx).
		SetBody(req).
		Post("/v2/orders")
	if err != nil {
		return Order{}, fmt.Errorf("failed to submit order: %w", err)
	}

	var out Order
	if err := decode(resp, &out); err != nil {
		if isRejection(err) {
			return Order{}, fmt.Errorf("%w: %v", broker.ErrOrderRejected, err)
		}
		return Order{}, err
	}
	return out, nil
}

// GetOrder fetches an order by id
func (c *Client) GetOrder(ctx context.Context, id string) (Order, error) {
	var out Order
	err := c.get(ctx, c.trading, "/v2/orders/"+id, nil, &out)
	return out, err
}

// CancelOrder requests cancellation of an open order
func (c *Client) CancelOrder(ctx context.Context, id string) error {
	resp, err := c.trading.R().
		SetContext(ctx).
		Delete("/v2/orders/" + id)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	return decode(resp, nil)
}

// Execute submits a market order and polls until it is terminal or the fill
// timeout passes. An order still working on timeout or when ctx ends is
// cancelled; whatever filled is returned.
func (c *Client) Execute(ctx context.Context, order broker.Order) (broker.Fill, error) {
	submitted, err := c.SubmitOrder(ctx, order)
	if err != nil {
		return broker.Fill{}, err
	}

	final, err := c.awaitTerminal(ctx, submitted)
	if errors.Is(err, broker.ErrOrderTimeout) || (err != nil && ctx.Err() != nil) {
		final, err = c.abandon(ctx, final, err)
		if err != nil {
			return broker.Fill{}, err
		}
	} else if err != nil {
		return broker.Fill{}, err
	}

	if final.Status != StatusFilled && !final.FilledQty.IsPositive() {
		return broker.Fill{}, fmt.Errorf("%w: order %s %s", broker.ErrOrderRejected, final.ID, final.Status)
	}

	fill := final.fill()
	if fill.AvgPrice == 0 {
		fill.AvgPrice = order.RefPrice
	}
	c.logger.Debug().
		Str("order_id", final.ID).
		Str("intent", order.Intent).
		Str("status", final.Status).
		Float64("qty", fill.Qty).
		Float64("avg_price", fill.AvgPrice).
		Msg("Order done")
	return fill, nil
}

// abandon cancels a working order and reads back what filled. It runs on a
// detached context so a cancelled caller still learns the filled quantity.
// cause is returned when nothing filled.
func (c *Client) abandon(ctx context.Context, order Order, cause error) (Order, error) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.config.Timeout)
	defer cancel()

	if err := c.CancelOrder(cancelCtx, order.ID); err != nil {
		c.logger.Warn().Err(err).Str("order_id", order.ID).Msg("Failed to cancel working order")
	}
	if latest, err := c.GetOrder(cancelCtx, order.ID); err == nil {
		order = latest
	} else {
		c.logger.Error().Err(err).Str("order_id", order.ID).Msg("Failed to read back abandoned order")
	}

	if !order.FilledQty.IsPositive() {
		return order, cause
	}
	c.logger.Warn().
		AnErr("cause", cause).
		Str("order_id", order.ID).
		Str("filled", order.FilledQty.String()).
		Str("qty", order.Qty.String()).
		Msg("Order abandoned after a fill")
	return order, nil
}

func (c *Client) awaitTerminal(ctx context.Context, order Order) (Order, error) {
	if order.Terminal() {
		return order, nil
	}

	deadline := time.NewTimer(c.config.FillTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return order, ctx.Err()
		case <-deadline.C:
			return order, fmt.Errorf("%w: order %s still %s after %s", broker.ErrOrderTimeout, order.ID, order.Status, c.config.FillTimeout)
		case <-ticker.C:
			latest, err := c.GetOrder(ctx, order.ID)
			if err != nil {
				c.logger.Warn().Err(err).Str("order_id", order.ID).Msg("Order poll failed")
				continue
			}
			order = latest
			if order.Terminal() {
				return order, nil
			}
		}
	}
}
