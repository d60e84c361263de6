// Package live drives a session engine from a real-time bar source and a broker.
package live

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/broker"
	"github.com/ferdinandre/tradingdemo/internal/circuit"
	"github.com/ferdinandre/tradingdemo/internal/events"
	"github.com/ferdinandre/tradingdemo/internal/market"
	"github.com/ferdinandre/tradingdemo/internal/position"
	"github.com/ferdinandre/tradingdemo/internal/session"
	"github.com/ferdinandre/tradingdemo/internal/tradelog"

	"github.com/rs/zerolog"
)

var (
	// ErrSessionCancelled is returned by Run when its context ends
	ErrSessionCancelled = errors.New("live session cancelled")
	// ErrAlreadyRunning is returned by a second concurrent Run
	ErrAlreadyRunning = errors.New("live runner already running")
)

// StateStore persists the session context between restarts
type StateStore interface {
	Save(ctx context.Context, snap session.Snapshot) error
	Load(ctx context.Context, symbol string) (session.Snapshot, bool, error)
}

// Config holds the runner's settings
type Config struct {
	Symbol      string
	ResumeState bool // restore the stored context on start
	Mode        string
	BarInterval time.Duration // the final bar is complete one interval after the session close
	CloseGrace  time.Duration // extra wait for a late final bar
}

// Deps are the runner's collaborators. Store, Sink and Guard may be nil.
type Deps struct {
	Source   broker.BarSource
	Accounts broker.AccountProvider
	Quotes   broker.QuoteProvider
	Store    StateStore
	Sink     tradelog.Sink
	Bus      *events.EventBus
	Guard    *circuit.Breaker // gates entries only
}

// Runner feeds live bars into a session engine. Entries fill at the current
// quote as soon as a bar arms a signal. It never flattens on its own when stopped;
// call Flatten for an explicit exit.
type Runner struct {
	config   Config
	calendar market.Calendar
	engine   *session.Engine
	deps     Deps
	logger   zerolog.Logger

	// now and sleep are the session clock
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	engineMu sync.Mutex // guards engine between Run and Flatten

	mu         sync.RWMutex
	running    bool
	startedAt  time.Time
	lastBar    market.Bar
	equity     float64
	trades     int
	realized   float64
	failedKey  string
	lastErr    string
	sessionKey string
}

// NewRunner creates a live runner around engine
func NewRunner(config Config, calendar market.Calendar, engine *session.Engine, deps Deps, logger zerolog.Logger) *Runner {
	if config.Mode == "" {
		config.Mode = "live"
	}
	if config.BarInterval <= 0 {
		config.BarInterval = time.Minute
	}
	if config.CloseGrace < 0 {
		config.CloseGrace = 0
	}
	if deps.Sink == nil {
		deps.Sink = tradelog.NewMemorySink()
	}
	return &Runner{
		config:   config,
		calendar: calendar,
		engine:   engine,
		deps:     deps,
		logger:   logger.With().Str("component", "LiveRunner").Str("symbol", config.Symbol).Logger(),
		now:      time.Now,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cancelled(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil {
		err = cause
	}
	return fmt.Errorf("%w: %w", ErrSessionCancelled, err)
}

// Run processes bars until ctx ends or the source fails. Cancellation
// returns an error wrapping ErrSessionCancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrAlreadyRunning
	}
	r.running = true
	r.startedAt = r.now()
	r.mu.Unlock()

	r.deps.Bus.PublishBotStarted(r.config.Mode)
	reason := "stopped"
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		r.deps.Bus.PublishBotStopped(r.config.Mode, reason)
	}()

	r.Resume(ctx)
	r.refreshEquity(ctx)

	for {
		cutoff, err := r.awaitSession(ctx)
		if err != nil {
			reason = "cancelled"
			return cancelled(ctx, err)
		}
		if cutoff.IsZero() {
			continue
		}

		barCtx, cancel := context.WithTimeout(ctx, cutoff.Sub(r.now()))
		bar, err := r.deps.Source.Next(barCtx)
		expired := barCtx.Err() != nil
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				reason = "cancelled"
				return cancelled(ctx, err)
			}
			if expired {
				// no bar before the cutoff, the clock check takes over
				continue
			}
			reason = "source failed"
			return fmt.Errorf("bar source for %s: %w", r.config.Symbol, err)
		}

		if !r.calendar.InSession(bar.Time) {
			r.logger.Debug().Time("bar", bar.Time).Msg("Ignoring bar outside regular hours")
			continue
		}
		r.onBar(ctx, bar)
	}
}

// sessionWindow returns when bars for now's date start and stop arriving.
// The final bar is published once its minute has ended.
func (r *Runner) sessionWindow(now time.Time) (time.Time, time.Time) {
	open := r.calendar.SessionOpenAt(now)
	cutoff := r.calendar.SessionCloseAt(now).Add(r.config.BarInterval + r.config.CloseGrace)
	return open, cutoff
}

// awaitSession returns the current session's cutoff while bars are due.
// Outside that window it closes out a position left open past the cutoff,
// then sleeps until the next open and returns a zero cutoff.
func (r *Runner) awaitSession(ctx context.Context) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, err
	}
	now := r.now()
	if r.calendar.IsTradingDay(now) {
		open, cutoff := r.sessionWindow(now)
		if !now.Before(open) && now.Before(cutoff) {
			return cutoff, nil
		}
		if !now.Before(cutoff) {
			r.closeOut(ctx)
		}
	}

	next := r.nextOpen(now)
	r.logger.Info().Time("open", next).Msg("Market closed, waiting for the next session")
	return time.Time{}, r.sleep(ctx, next.Sub(now))
}

// closeOut exits a position the final bar did not close
func (r *Runner) closeOut(ctx context.Context) {
	_, err := r.flatten(ctx, position.ExitEndOfDay)
	switch {
	case errors.Is(err, position.ErrNotOpen):
	case err != nil:
		r.setErr(err)
		r.logger.Error().Err(err).Msg("End of day exit failed, position carried")
	default:
		r.logger.Warn().Msg("Final bar missed, position closed at the quote")
	}
}

// nextOpen returns the next weekday open after now
func (r *Runner) nextOpen(now time.Time) time.Time {
	open := r.calendar.SessionOpenAt(now)
	for !open.After(now) || !r.calendar.InSession(open) {
		open = r.calendar.SessionOpenAt(open.Add(24 * time.Hour))
	}
	return open
}

// onBar steps the engine and enters a signal armed by the bar at the quote
func (r *Runner) onBar(ctx context.Context, bar market.Bar) {
	r.engineMu.Lock()
	defer r.engineMu.Unlock()

	key := r.calendar.SessionKey(bar.Time)
	r.mu.Lock()
	r.lastBar = bar
	r.sessionKey = key
	failed := r.failedKey == key
	r.mu.Unlock()
	if failed {
		return
	}

	res, err := r.engine.Step(ctx, bar)
	if err != nil && (errors.Is(err, market.ErrInvalidBar) || errors.Is(err, session.ErrOutOfOrder)) {
		r.mu.Lock()
		r.failedKey = key
		r.lastErr = err.Error()
		r.mu.Unlock()
		r.deps.Bus.PublishSessionError(r.config.Symbol, key, err)
		r.logger.Error().Err(err).Str("session", key).Msg("Bad data, ignoring the rest of the session")
		return
	}
	if err != nil {
		r.setErr(err)
		r.logger.Warn().Err(err).Time("bar", bar.Time).Msg("Position update incomplete")
	}

	r.credit(res.Update.RealizedPnL())
	if res.Closed != nil {
		r.book(ctx, res.Closed)
	}
	if res.Signal != nil {
		r.enter(ctx, *res.Signal, r.now())
	}
	r.save(ctx)
}

// credit books realized P&L locally and on simulated accounts
func (r *Runner) credit(pnl float64) {
	if pnl == 0 {
		return
	}
	r.mu.Lock()
	r.realized += pnl
	r.equity += pnl
	r.mu.Unlock()
	if b, ok := r.deps.Accounts.(broker.PnLBooker); ok {
		b.Book(pnl)
	}
}

// enter sizes against a fresh account snapshot and opens at the quote
func (r *Runner) enter(ctx context.Context, sig position.Signal, at time.Time) {
	r.mu.RLock()
	key := r.sessionKey
	r.mu.RUnlock()
	if ok, reason := r.deps.Guard.CanTrade(key); !ok {
		r.logger.Warn().Str("reason", reason).Str("side", string(sig.Side)).Msg("Entry blocked")
		return
	}

	account, err := r.deps.Accounts.Account(ctx)
	if err != nil {
		r.setErr(err)
		r.logger.Warn().Err(err).Msg("Account unavailable, skipping entry")
		return
	}
	r.mu.Lock()
	r.equity = account.Equity
	r.mu.Unlock()

	quote, err := r.deps.Quotes.Quote(ctx, r.config.Symbol)
	if err != nil {
		r.setErr(err)
		r.logger.Warn().Err(err).Msg("Quote unavailable, skipping entry")
		return
	}
	ref := quote.EntryPrice(sig.Side == position.SideLong)
	if ref <= 0 {
		r.logger.Warn().Msg("Quote has no usable price, skipping entry")
		return
	}

	pos, err := r.engine.Enter(ctx, sig, ref, account, at)
	if err != nil {
		if errors.Is(err, position.ErrEntryRejected) {
			r.logger.Debug().Err(err).Msg("Entry skipped")
			return
		}
		r.setErr(err)
		r.logger.Warn().Err(err).Msg("Entry failed")
		return
	}
	r.logger.Info().
		Str("side", string(pos.Side)).
		Float64("entry", pos.Entry).
		Float64("stop", pos.Stop).
		Float64("target", pos.Target).
		Float64("qty", pos.InitialQty).
		Msg("Position opened")
}

// Flatten closes the open position at the current quote
func (r *Runner) Flatten(ctx context.Context) (*position.TradeRecord, error) {
	return r.flatten(ctx, position.ExitFlatten)
}

func (r *Runner) flatten(ctx context.Context, reason position.ExitReason) (*position.TradeRecord, error) {
	r.engineMu.Lock()
	defer r.engineMu.Unlock()

	pos := r.engine.Position()
	if pos == nil {
		return nil, position.ErrNotOpen
	}
	quote, err := r.deps.Quotes.Quote(ctx, r.config.Symbol)
	if err != nil {
		return nil, fmt.Errorf("flatten %s: %w", r.config.Symbol, err)
	}
	// exiting a long sells at the bid
	ref := quote.EntryPrice(!pos.IsLong())

	closed, update, err := r.engine.Flatten(ctx, ref, reason, r.now())
	r.credit(update.RealizedPnL())

	var rec *position.TradeRecord
	if closed != nil {
		booked := r.book(ctx, closed)
		rec = &booked
	}
	r.save(ctx)
	if err != nil {
		return rec, fmt.Errorf("flatten %s: %w", r.config.Symbol, err)
	}
	return rec, nil
}

// book records a closed position with the broker's equity when available
func (r *Runner) book(ctx context.Context, closed *position.Position) position.TradeRecord {
	r.refreshEquity(ctx)
	r.mu.Lock()
	equity := r.equity
	key := r.sessionKey
	r.trades++
	r.mu.Unlock()

	rec := closed.Record(equity)
	r.deps.Guard.RecordTrade(key, rec.PnL, equity-rec.PnL)
	r.deps.Bus.PublishPositionClosed(rec.Symbol, string(rec.ExitReason), rec.ExitPrice, rec.PnL, equity, rec.ExitTime)
	if err := r.deps.Sink.Record(ctx, rec); err != nil {
		r.logger.Error().Err(err).Str("trade", rec.ID).Msg("Failed to record trade")
	}
	r.logger.Info().
		Str("trade", rec.ID).
		Str("reason", string(rec.ExitReason)).
		Float64("pnl", rec.PnL).
		Float64("equity", equity).
		Msg("Position closed")
	return rec
}

func (r *Runner) refreshEquity(ctx context.Context) {
	account, err := r.deps.Accounts.Account(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to refresh account")
		return
	}
	r.mu.Lock()
	r.equity = account.Equity
	r.mu.Unlock()
}

// Resume restores today's stored context, or any context holding an open
// position. It reports whether a context was restored.
func (r *Runner) Resume(ctx context.Context) bool {
	if !r.config.ResumeState || r.deps.Store == nil {
		return false
	}
	snap, ok, err := r.deps.Store.Load(ctx, r.config.Symbol)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Failed to load session state")
		return false
	}
	if !ok {
		return false
	}
	today := r.calendar.SessionKey(r.now())
	if snap.Key != today && !snap.Position.IsOpen() {
		r.logger.Info().Str("session", snap.Key).Msg("Stored session is stale, starting fresh")
		return false
	}

	r.engineMu.Lock()
	r.engine.Restore(snap)
	r.engineMu.Unlock()
	r.logger.Info().
		Str("session", snap.Key).
		Int("gaps", len(snap.Gaps)).
		Bool("position", snap.Position.IsOpen()).
		Msg("Session state restored")
	return true
}

func (r *Runner) save(ctx context.Context) {
	if r.deps.Store == nil {
		return
	}
	if err := r.deps.Store.Save(ctx, r.engine.Snapshot()); err != nil {
		r.logger.Warn().Err(err).Msg("Failed to save session state")
	}
}

func (r *Runner) setErr(err error) {
	r.mu.Lock()
	r.lastErr = err.Error()
	r.mu.Unlock()
}

// Status is a point-in-time view of the runner
type Status struct {
	Symbol      string             `json:"symbol"`
	Mode        string             `json:"mode"`
	Running     bool               `json:"running"`
	StartedAt   time.Time          `json:"started_at"`
	Session     string             `json:"session"`
	LastBarTime time.Time          `json:"last_bar_time"`
	LastClose   float64            `json:"last_close"`
	Equity      float64            `json:"equity"`
	RealizedPnL float64            `json:"realized_pnl"`
	Trades      int                `json:"trades"`
	StackDepth  int                `json:"stack_depth"`
	Position    *position.Position `json:"position,omitempty"`
	LastError   string             `json:"last_error,omitempty"`
}

// Status returns the current state
func (r *Runner) Status() Status {
	r.engineMu.Lock()
	sc := r.engine.Context()
	depth := sc.Stack.Len()
	var pos *position.Position
	if open := r.engine.Position(); open != nil {
		cp := *open
		pos = &cp
	}
	r.engineMu.Unlock()

	r.mu.RLock()
	defer r.mu.RUnlock()
	return Status{
		Symbol:      r.config.Symbol,
		Mode:        r.config.Mode,
		Running:     r.running,
		StartedAt:   r.startedAt,
		Session:     r.sessionKey,
		LastBarTime: r.lastBar.Time,
		LastClose:   r.lastBar.Close,
		Equity:      r.equity,
		RealizedPnL: r.realized,
		Trades:      r.trades,
		StackDepth:  depth,
		Position:    pos,
		LastError:   r.lastErr,
	}
}

// GetStatus returns Status as a map for the ops API
func (r *Runner) GetStatus() map[string]interface{} {
	s := r.Status()
	out := map[string]interface{}{
		"symbol":        s.Symbol,
		"mode":          s.Mode,
		"running":       s.Running,
		"started_at":    s.StartedAt,
		"session":       s.Session,
		"last_bar_time": s.LastBarTime,
		"last_close":    s.LastClose,
		"equity":        s.Equity,
		"realized_pnl":  s.RealizedPnL,
		"trades":        s.Trades,
		"stack_depth":   s.StackDepth,
		"state":         position.StateFlat,
	}
	if s.Position != nil {
		out["position"] = s.Position
		out["state"] = s.Position.State
	}
	if s.LastError != "" {
		out["last_error"] = s.LastError
	}
	if r.deps.Guard != nil {
		out["circuit_breaker"] = r.deps.Guard.GetStats()
	}
	return out
}
