package alpaca

import (
	"context"
	"fmt"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/broker"
	"github.com/ferdinandre/tradingdemo/internal/market"

	"github.com/shopspring/decimal"
)

// Bar is the market data bar object
type Bar struct {
	Timestamp  time.Time        `json:"t"`
	Open       decimal.Decimal  `json:"o"`
	High       decimal.Decimal  `json:"h"`
	Low        decimal.Decimal  `json:"l"`
	Close      decimal.Decimal  `json:"c"`
	Volume     decimal.Decimal  `json:"v"`
	VWAP       *decimal.Decimal `json:"vw"`
	TradeCount *int64           `json:"n"`
}

func (b Bar) toMarket(symbol string) market.Bar {
	vol := b.Volume.InexactFloat64()
	out := market.Bar{
		Symbol:     symbol,
		Time:       b.Timestamp,
		Open:       b.Open.InexactFloat64(),
		High:       b.High.InexactFloat64(),
		Low:        b.Low.InexactFloat64(),
		Close:      b.Close.InexactFloat64(),
		Volume:     &vol,
		TradeCount: b.TradeCount,
	}
	if b.VWAP != nil {
		v := b.VWAP.InexactFloat64()
		out.VWAP = &v
	}
	return out
}

// Quote is the latest NBBO quote object
type Quote struct {
	Timestamp time.Time       `json:"t"`
	AskPrice  decimal.Decimal `json:"ap"`
	BidPrice  decimal.Decimal `json:"bp"`
}

// Trade is the latest trade object
type Trade struct {
	Timestamp time.Time       `json:"t"`
	Price     decimal.Decimal `json:"p"`
}

type barsResponse struct {
	Bars          map[string][]Bar `json:"bars"`
	NextPageToken *string          `json:"next_page_token"`
}

// LatestBar returns the latest completed minute bar
func (c *Client) LatestBar(ctx context.Context, symbol string) (market.Bar, error) {
	var resp struct {
		Bars map[string]Bar `json:"bars"`
	}
	params := map[string]string{"symbols": symbol, "feed": c.config.Feed}
	if err := c.get(ctx, c.data, "/v2/stocks/bars/latest", params, &resp); err != nil {
		return market.Bar{}, err
	}
	bar, ok := resp.Bars[symbol]
	if !ok {
		return market.Bar{}, fmt.Errorf("no latest bar for %s", symbol)
	}
	return bar.toMarket(symbol), nil
}

// Bars pages through historical bars in [start, end)
func (c *Client) Bars(ctx context.Context, symbol, timeframe string, start, end time.Time) ([]market.Bar, error) {
	var out []market.Bar
	pageToken := ""
	for {
		params := map[string]string{
			"symbols":   symbol,
			"timeframe": timeframe,
			"start":     start.UTC().Format(time.RFC3339),
			"end":       end.UTC().Format(time.RFC3339),
			"limit":     "10000",
			"feed":      c.config.Feed,
			"sort":      "asc",
		}
		if pageToken != "" {
			params["page_token"] = pageToken
		}

		var resp barsResponse
		if err := c.get(ctx, c.data, "/v2/stocks/bars", params, &resp); err != nil {
			return out, err
		}
		for _, b := range resp.Bars[symbol] {
			out = append(out, b.toMarket(symbol))
		}
		c.logger.Debug().Int("bars", len(out)).Msg("Fetched bar page")

		if resp.NextPageToken == nil || *resp.NextPageToken == "" {
			return out, nil
		}
		pageToken = *resp.NextPageToken
	}
}

// Quote returns the latest quote, with the last trade price as fallback
func (c *Client) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	params := map[string]string{"symbols": symbol, "feed": c.config.Feed}

	var quotes struct {
		Quotes map[string]Quote `json:"quotes"`
	}
	if err := c.get(ctx, c.data, "/v2/stocks/quotes/latest", params, &quotes); err != nil {
		return market.Quote{}, err
	}
	q := quotes.Quotes[symbol]
	out := market.Quote{
		Symbol: symbol,
		Bid:    q.BidPrice.InexactFloat64(),
		Ask:    q.AskPrice.InexactFloat64(),
		Time:   q.Timestamp,
	}

	var trades struct {
		Trades map[string]Trade `json:"trades"`
	}
	if err := c.get(ctx, c.data, "/v2/stocks/trades/latest", params, &trades); err != nil {
		c.logger.Debug().Err(err).Msg("Latest trade unavailable")
	} else if t, ok := trades.Trades[symbol]; ok {
		out.Last = t.Price.InexactFloat64()
	}

	if out.Bid <= 0 && out.Ask <= 0 && out.Last <= 0 {
		return out, fmt.Errorf("%w for %s", broker.ErrNoQuote, symbol)
	}
	return out, nil
}
