package marketdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/market"

	"github.com/rs/zerolog"
)

var ErrSourceUnavailable = errors.New("bar source unavailable")

// SliceSource replays a fixed set of bars and then returns io.EOF
type SliceSource struct {
	bars []market.Bar
	next int
}

// NewSliceSource creates a replay source over bars
func NewSliceSource(bars []market.Bar) *SliceSource {
	return &SliceSource{bars: bars}
}

// Next returns the next bar
func (s *SliceSource) Next(ctx context.Context) (market.Bar, error) {
	if err := ctx.Err(); err != nil {
		return market.Bar{}, err
	}
	if s.next >= len(s.bars) {
		return market.Bar{}, io.EOF
	}
	b := s.bars[s.next]
	s.next++
	return b, nil
}

// LatestBarFetcher returns the most recent completed bar for a symbol
type LatestBarFetcher interface {
	LatestBar(ctx context.Context, symbol string) (market.Bar, error)
}

// PollingSource polls the latest bar on a fixed interval and yields each new bar once
type PollingSource struct {
	fetcher     LatestBarFetcher
	symbol      string
	interval    time.Duration
	maxFailures int
	last        time.Time
	logger      zerolog.Logger
}

// NewPollingSource creates a polling source. maxFailures consecutive fetch
// errors end the source with ErrSourceUnavailable.
func NewPollingSource(fetcher LatestBarFetcher, symbol string, interval time.Duration, maxFailures int, logger zerolog.Logger) *PollingSource {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if maxFailures <= 0 {
		maxFailures = 10
	}
	return &PollingSource{
		fetcher:     fetcher,
		symbol:      symbol,
		interval:    interval,
		maxFailures: maxFailures,
		logger:      logger.With().Str("component", "PollingSource").Str("symbol", symbol).Logger(),
	}
}

// Next blocks until a bar newer than the last one returned is available
func (s *PollingSource) Next(ctx context.Context) (market.Bar, error) {
	failures := 0
	for {
		bar, err := s.fetcher.LatestBar(ctx, s.symbol)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return market.Bar{}, ctx.Err()
			}
			failures++
			s.logger.Warn().Err(err).Int("failures", failures).Msg("Latest bar fetch failed")
			if failures >= s.maxFailures {
				return market.Bar{}, fmt.Errorf("%w: %d consecutive failures: %v", ErrSourceUnavailable, failures, err)
			}
		case bar.Time.After(s.last):
			s.last = bar.Time
			return bar, nil
		default:
			failures = 0
		}

		select {
		case <-ctx.Done():
			return market.Bar{}, ctx.Err()
		case <-time.After(s.interval):
		}
	}
}
