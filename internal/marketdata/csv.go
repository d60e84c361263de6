// Package marketdata loads historical bars and provides live bar sources.
package marketdata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/market"
)

var ErrBadRow = errors.New("bad bar row")

// CSVColumns is the header written by WriteCSV
var CSVColumns = []string{"timestamp", "open", "high", "low", "close", "volume", "vwap", "trade_count"}

// LoadCSV reads bars from a CSV file with a header row
func LoadCSV(path, symbol string) ([]market.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bar file: %w", err)
	}
	defer f.Close()
	return ReadCSV(f, symbol)
}

// ReadCSV parses bars from r. Column names are matched case-insensitively;
// time may be RFC3339, "2006-01-02 15:04:05-07:00" or unix seconds.
func ReadCSV(r io.Reader, symbol string) ([]market.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var out []market.Bar
	var headers []string
	line := 0

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read bar file: %w", err)
		}
		line++
		if headers == nil {
			headers = rec
			continue
		}

		row := map[string]string{}
		for j, h := range headers {
			k := strings.ToLower(strings.TrimSpace(h))
			if j < len(rec) {
				row[k] = strings.TrimSpace(rec[j])
			}
		}
		if isBlank(rec) {
			continue
		}

		bar, err := parseRow(row, symbol)
		if err != nil {
			return nil, fmt.Errorf("%w at line %d: %v", ErrBadRow, line, err)
		}
		out = append(out, bar)
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Time.Before(out[j].Time) })
	return out, nil
}

func parseRow(row map[string]string, symbol string) (market.Bar, error) {
	bar := market.Bar{Symbol: symbol}
	if s := first(row, "symbol"); s != "" {
		bar.Symbol = s
	}

	ts := first(row, "timestamp", "time", "ts", "ts_et", "t")
	if ts == "" {
		return bar, errors.New("missing timestamp")
	}
	t, err := parseTimeFlexible(ts)
	if err != nil {
		return bar, err
	}
	bar.Time = t

	fields := []struct {
		dst  *float64
		keys []string
	}{
		{&bar.Open, []string{"open", "o"}},
		{&bar.High, []string{"high", "h"}},
		{&bar.Low, []string{"low", "l"}},
		{&bar.Close, []string{"close", "c"}},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(first(row, f.keys...), 64)
		if err != nil {
			return bar, fmt.Errorf("%s: %w", f.keys[0], err)
		}
		*f.dst = v
	}

	if s := first(row, "volume", "vol", "v"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return bar, fmt.Errorf("volume: %w", err)
		}
		bar.Volume = &v
	}
	if s := first(row, "vwap", "vw"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return bar, fmt.Errorf("vwap: %w", err)
		}
		bar.VWAP = &v
	}
	if s := first(row, "trade_count", "n"); s != "" {
		// pandas writes integer columns with missing values as floats
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return bar, fmt.Errorf("trade_count: %w", err)
		}
		n := int64(v)
		bar.TradeCount = &n
	}
	return bar, nil
}

// WriteCSV writes bars with the CSVColumns header
func WriteCSV(w io.Writer, bars []market.Bar) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVColumns); err != nil {
		return err
	}
	for _, b := range bars {
		row := []string{
			b.Time.UTC().Format(time.RFC3339),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			"", "", "",
		}
		if b.Volume != nil {
			row[5] = formatFloat(*b.Volume)
		}
		if b.VWAP != nil {
			row[6] = formatFloat(*b.VWAP)
		}
		if b.TradeCount != nil {
			row[7] = strconv.FormatInt(*b.TradeCount, 10)
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func first(row map[string]string, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != "" {
			return v
		}
	}
	return ""
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// parseTimeFlexible supports RFC3339 variants or UNIX seconds
func parseTimeFlexible(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time: %s", s)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
