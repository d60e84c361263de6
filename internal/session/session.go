// Package session holds the per-session trading context and the bar step
// shared by the backtest and live drivers.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/analysis"
	"github.com/ferdinandre/tradingdemo/internal/broker"
	"github.com/ferdinandre/tradingdemo/internal/events"
	"github.com/ferdinandre/tradingdemo/internal/market"
	"github.com/ferdinandre/tradingdemo/internal/position"

	"github.com/rs/zerolog"
)

// ErrOutOfOrder is returned when a bar does not advance the session clock
var ErrOutOfOrder = errors.New("bar out of order")

// Config holds the entry rules
type Config struct {
	Symbol         string
	PushPolicy     analysis.PushPolicy
	MinAnchorWidth float64
	MinGap         float64 // gaps narrower than this are ignored
	TradeOnFirst   bool    // enter on the anchoring push, not only on continuations
	AllowShorts    bool
}

// Context is everything one trading session owns
type Context struct {
	Key      string
	Stack    *analysis.GapStack
	Prev     []market.Bar // up to the last two bars, oldest first
	Position *position.Position
	LastTime time.Time
	Bars     int
}

// Snapshot is the persisted form of a Context
type Snapshot struct {
	Symbol   string             `json:"symbol"`
	Key      string             `json:"key"`
	Gaps     []analysis.FVG     `json:"gaps"`
	Prev     []market.Bar       `json:"prev"`
	Position *position.Position `json:"position,omitempty"`
	LastTime time.Time          `json:"last_time"`
	Bars     int                `json:"bars"`
	SavedAt  time.Time          `json:"saved_at"`
}

// StepResult reports what one bar did
type StepResult struct {
	Popped     []analysis.FVG
	Gap        *analysis.FVG // detected this bar, pushed or not
	Pushed     bool
	Signal     *position.Signal
	Update     position.BarUpdate
	Closed     *position.Position // set when the position went flat on this bar
	SessionEnd bool
	NewSession bool
}

// Engine runs the gap stack and the position manager over a stream of bars
type Engine struct {
	config   Config
	calendar market.Calendar
	manager  *position.Manager
	bus      *events.EventBus
	logger   zerolog.Logger
	sc       *Context
}

// NewEngine creates a new session engine
func NewEngine(config Config, calendar market.Calendar, manager *position.Manager, bus *events.EventBus, logger zerolog.Logger) *Engine {
	e := &Engine{
		config:   config,
		calendar: calendar,
		manager:  manager,
		bus:      bus,
		logger:   logger.With().Str("component", "SessionEngine").Str("symbol", config.Symbol).Logger(),
	}
	e.sc = e.newContext("")
	return e
}

func (e *Engine) newContext(key string) *Context {
	return &Context{
		Key:   key,
		Stack: analysis.NewGapStack(e.config.PushPolicy, e.config.MinAnchorWidth),
	}
}

// Context returns the current session context
func (e *Engine) Context() *Context {
	return e.sc
}

// Position returns the open position, or nil when flat
func (e *Engine) Position() *position.Position {
	if e.sc.Position.IsOpen() {
		return e.sc.Position
	}
	return nil
}

// Begin starts a new session, clearing the stack and bar history.
// An open position is carried over and logged.
func (e *Engine) Begin(key string) {
	carried := e.sc.Position
	e.sc = e.newContext(key)
	if carried.IsOpen() {
		e.logger.Warn().
			Str("session", key).
			Float64("remaining", carried.RemainingQty).
			Msg("Position carried into new session")
		e.sc.Position = carried
	}
	e.logger.Debug().Str("session", key).Msg("Session started")
}

// Step processes one bar: pops invalidated gaps, manages an open position,
// or, when flat, detects and pushes a gap and arms an entry signal.
// Data errors are returned and leave the context unchanged.
func (e *Engine) Step(ctx context.Context, bar market.Bar) (StepResult, error) {
	var res StepResult

	if err := bar.Validate(); err != nil {
		return res, err
	}
	if key := e.calendar.SessionKey(bar.Time); key != e.sc.Key {
		e.Begin(key)
		e.bus.PublishSessionStarted(e.config.Symbol, key, bar.Time)
		res.NewSession = true
	}
	if !e.sc.LastTime.IsZero() && !bar.Time.After(e.sc.LastTime) {
		return res, fmt.Errorf("%w: %s at %s after %s", ErrOutOfOrder, e.config.Symbol,
			bar.Time.Format(time.RFC3339), e.sc.LastTime.Format(time.RFC3339))
	}

	sc := e.sc
	res.SessionEnd = e.calendar.IsFinalBar(bar.Time)

	res.Popped = sc.Stack.PopInvalidated(bar)
	if len(res.Popped) > 0 {
		e.bus.PublishGapsPopped(e.config.Symbol, len(res.Popped), sc.Stack.Len(), bar.Time)
	}

	var stepErr error
	if sc.Position.IsOpen() {
		update, err := e.manager.OnBar(ctx, sc.Position, bar, res.SessionEnd)
		res.Update = update
		if update.Closed {
			res.Closed = sc.Position
			sc.Position = nil
		}
		if err != nil {
			stepErr = fmt.Errorf("managing position: %w", err)
		}
	} else if len(sc.Prev) == 2 {
		gap, err := analysis.DetectGap(sc.Prev[0], sc.Prev[1], bar)
		if err != nil {
			return res, err
		}
		if gap != nil {
			res.Gap = gap
			res.Pushed, res.Signal = e.consider(*gap, bar, res.SessionEnd)
		}
	}

	sc.Prev = append(sc.Prev, bar)
	if len(sc.Prev) > 2 {
		sc.Prev = sc.Prev[len(sc.Prev)-2:]
	}
	sc.LastTime = bar.Time
	sc.Bars++

	return res, stepErr
}

// consider applies the width filter and push policy, and arms a signal when the push triggers one
func (e *Engine) consider(gap analysis.FVG, bar market.Bar, sessionEnd bool) (bool, *position.Signal) {
	sc := e.sc
	if gap.Width() < e.config.MinGap {
		return false, nil
	}
	if !sc.Stack.ShouldPush(gap) {
		return false, nil
	}

	anchor := sc.Stack.Len() == 0
	sc.Stack.Push(gap)
	e.bus.PublishGapPushed(e.config.Symbol, string(gap.Type), gap.Low, gap.High, sc.Stack.Len(), bar.Time)
	e.logger.Debug().
		Str("gap", gap.String()).
		Int("depth", sc.Stack.Len()).
		Msg("Gap pushed")

	if anchor && !e.config.TradeOnFirst {
		return true, nil
	}
	if gap.Type == analysis.BearishFVG && !e.config.AllowShorts {
		return true, nil
	}
	if sessionEnd {
		return true, nil
	}

	sig := &position.Signal{
		Symbol:    e.config.Symbol,
		Side:      position.SideFor(gap.Type),
		Gap:       gap,
		SignalBar: bar,
		Anchor:    anchor,
	}
	e.bus.PublishSignal(sig.Symbol, string(sig.Side), sig.Stop(), anchor, bar.Time)
	return true, sig
}

// Enter opens a position for sig at refPrice unless one is already open
func (e *Engine) Enter(ctx context.Context, sig position.Signal, refPrice float64, account broker.AccountSnapshot, at time.Time) (*position.Position, error) {
	if e.sc.Position.IsOpen() {
		return nil, fmt.Errorf("%w: position already open", position.ErrEntryRejected)
	}
	pos, err := e.manager.Open(ctx, sig, refPrice, account, at)
	if err != nil {
		return nil, err
	}
	e.sc.Position = pos
	return pos, nil
}

// Flatten closes the open position at refPrice outside the bar loop
func (e *Engine) Flatten(ctx context.Context, refPrice float64, reason position.ExitReason, at time.Time) (*position.Position, position.BarUpdate, error) {
	pos := e.sc.Position
	if !pos.IsOpen() {
		return nil, position.BarUpdate{}, position.ErrNotOpen
	}
	update, err := e.manager.Flatten(ctx, pos, refPrice, reason, at)
	if update.Closed {
		e.sc.Position = nil
		return pos, update, err
	}
	return nil, update, err
}

// Snapshot captures the context for persistence
func (e *Engine) Snapshot() Snapshot {
	sc := e.sc
	prev := make([]market.Bar, len(sc.Prev))
	copy(prev, sc.Prev)
	return Snapshot{
		Symbol:   e.config.Symbol,
		Key:      sc.Key,
		Gaps:     sc.Stack.Gaps(),
		Prev:     prev,
		Position: sc.Position,
		LastTime: sc.LastTime,
		Bars:     sc.Bars,
		SavedAt:  time.Now().UTC(),
	}
}

// Restore replaces the context with a persisted one
func (e *Engine) Restore(snap Snapshot) {
	sc := e.newContext(snap.Key)
	sc.Stack.Restore(snap.Gaps)
	sc.Prev = append(sc.Prev, snap.Prev...)
	sc.Position = snap.Position
	sc.LastTime = snap.LastTime
	sc.Bars = snap.Bars
	e.sc = sc
}
