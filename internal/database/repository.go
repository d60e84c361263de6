package database

import (
	"context"
	"fmt"

	"github.com/ferdinandre/tradingdemo/internal/position"

	"github.com/jackc/pgx/v5"
)

// Trade sources
const (
	SourceLive     = "live"
	SourceBacktest = "backtest"
)

// Repository persists closed trades. It implements tradelog.Sink.
type Repository struct {
	db     *DB
	source string
}

// NewRepository creates a new repository tagging rows with source
func NewRepository(db *DB, source string) *Repository {
	if source == "" {
		source = SourceLive
	}
	return &Repository{db: db, source: source}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

const insertTrade = `
	INSERT INTO fvg_trades (
		id, symbol, direction, entry_time, exit_time, entry_price, stop_price, target_price,
		quantity, exit_price, exit_reason, pnl, equity_after, mfe_r, mae_r, source
	) VALUES (
		@id, @symbol, @direction, @entry_time, @exit_time, @entry_price, @stop_price, @target_price,
		@quantity, @exit_price, @exit_reason, @pnl, @equity_after, @mfe_r, @mae_r, @source
	)
	ON CONFLICT (id) DO NOTHING
`

// tradeArgs maps a record onto the insert's named parameters
func tradeArgs(rec position.TradeRecord, source string) pgx.NamedArgs {
	return pgx.NamedArgs{
		"id":           rec.ID,
		"symbol":       rec.Symbol,
		"direction":    string(rec.Direction),
		"entry_time":   rec.EntryTime,
		"exit_time":    rec.ExitTime,
		"entry_price":  rec.Entry,
		"stop_price":   rec.Stop,
		"target_price": rec.Target,
		"quantity":     rec.Quantity,
		"exit_price":   rec.ExitPrice,
		"exit_reason":  string(rec.ExitReason),
		"pnl":          rec.PnL,
		"equity_after": rec.EquityAfter,
		"mfe_r":        rec.MFE,
		"mae_r":        rec.MAE,
		"source":       source,
	}
}

// Record inserts a closed trade. Re-recording the same id is a no-op.
func (r *Repository) Record(ctx context.Context, rec position.TradeRecord) error {
	if _, err := r.db.Pool.Exec(ctx, insertTrade, tradeArgs(rec, r.source)); err != nil {
		return fmt.Errorf("failed to insert trade %s: %w", rec.ID, err)
	}
	return nil
}

// ListTrades returns the most recent trades for symbol, newest first.
// An empty symbol lists all symbols.
func (r *Repository) ListTrades(ctx context.Context, symbol string, limit int) ([]position.TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, symbol, direction, entry_time, exit_time, entry_price::float8, stop_price::float8,
		       target_price::float8, quantity::float8, exit_price::float8, exit_reason, pnl::float8,
		       equity_after::float8, mfe_r::float8, mae_r::float8
		FROM fvg_trades
		WHERE ($1 = '' OR symbol = $1) AND source = $2
		ORDER BY exit_time DESC
		LIMIT $3
	`
	rows, err := r.db.Pool.Query(ctx, query, symbol, r.source, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []position.TradeRecord
	for rows.Next() {
		var t position.TradeRecord
		var direction, reason string
		err := rows.Scan(
			&t.ID, &t.Symbol, &direction, &t.EntryTime, &t.ExitTime, &t.Entry, &t.Stop,
			&t.Target, &t.Quantity, &t.ExitPrice, &reason, &t.PnL,
			&t.EquityAfter, &t.MFE, &t.MAE,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Direction = position.Side(direction)
		t.ExitReason = position.ExitReason(reason)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
