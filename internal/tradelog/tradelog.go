// Package tradelog provides append-only destinations for closed-trade records.
package tradelog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/position"

	"github.com/rs/zerolog"
)

// Sink receives one record per fully closed position
type Sink interface {
	Record(ctx context.Context, rec position.TradeRecord) error
}

// MemorySink keeps records in memory
type MemorySink struct {
	mu      sync.RWMutex
	records []position.TradeRecord
}

// NewMemorySink creates an empty in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record appends rec
func (s *MemorySink) Record(ctx context.Context, rec position.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return nil
}

// Records returns a copy of every record, oldest first
func (s *MemorySink) Records() []position.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]position.TradeRecord, len(s.records))
	copy(out, s.records)
	return out
}

// Recent returns up to n most recent records, newest first
func (s *MemorySink) Recent(n int) []position.TradeRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.records) {
		n = len(s.records)
	}
	out := make([]position.TradeRecord, 0, n)
	for i := len(s.records) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.records[i])
	}
	return out
}

// ListTrades returns up to limit records for symbol, newest first.
// An empty symbol matches every record.
func (s *MemorySink) ListTrades(ctx context.Context, symbol string, limit int) ([]position.TradeRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []position.TradeRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if symbol == "" || s.records[i].Symbol == symbol {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

// MultiSink fans a record out to every sink and joins their errors
type MultiSink []Sink

// Record writes rec to every sink
func (m MultiSink) Record(ctx context.Context, rec position.TradeRecord) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogSink writes each record as a structured log line
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink that logs at info level
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "TradeLog").Logger()}
}

// Record logs rec
func (s *LogSink) Record(ctx context.Context, rec position.TradeRecord) error {
	s.logger.Info().
		Str("id", rec.ID).
		Str("symbol", rec.Symbol).
		Str("direction", string(rec.Direction)).
		Time("entry_ts", rec.EntryTime).
		Time("exit_ts", rec.ExitTime).
		Float64("entry", rec.Entry).
		Float64("stop", rec.Stop).
		Float64("tp", rec.Target).
		Float64("shares", rec.Quantity).
		Float64("exit_price", rec.ExitPrice).
		Str("exit_reason", string(rec.ExitReason)).
		Float64("pnl", rec.PnL).
		Float64("equity_after", rec.EquityAfter).
		Msg("Trade closed")
	return nil
}

// CSVHeader is the column order written by CSVSink
var CSVHeader = []string{
	"entry_ts", "exit_ts", "direction", "entry", "stop", "tp", "shares",
	"exit_price", "exit_reason", "pnl", "equity_after",
}

// CSVSink writes records as CSV rows, header first
type CSVSink struct {
	mu          sync.Mutex
	w           *csv.Writer
	wroteHeader bool
}

// NewCSVSink creates a CSV sink over w
func NewCSVSink(w io.Writer) *CSVSink {
	return &CSVSink{w: csv.NewWriter(w)}
}

// Record writes one row and flushes
func (s *CSVSink) Record(ctx context.Context, rec position.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.wroteHeader {
		if err := s.w.Write(CSVHeader); err != nil {
			return fmt.Errorf("failed to write trade log header: %w", err)
		}
		s.wroteHeader = true
	}

	row := []string{
		rec.EntryTime.Format(time.RFC3339),
		rec.ExitTime.Format(time.RFC3339),
		string(rec.Direction),
		formatFloat(rec.Entry),
		formatFloat(rec.Stop),
		formatFloat(rec.Target),
		formatFloat(rec.Quantity),
		formatFloat(rec.ExitPrice),
		string(rec.ExitReason),
		formatFloat(rec.PnL),
		formatFloat(rec.EquityAfter),
	}
	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("failed to write trade log row: %w", err)
	}
	s.w.Flush()
	return s.w.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
