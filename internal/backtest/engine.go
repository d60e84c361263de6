package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/broker"
	"github.com/ferdinandre/tradingdemo/internal/events"
	"github.com/ferdinandre/tradingdemo/internal/market"
	"github.com/ferdinandre/tradingdemo/internal/position"
	"github.com/ferdinandre/tradingdemo/internal/session"
	"github.com/ferdinandre/tradingdemo/internal/tradelog"

	"github.com/rs/zerolog"
)

// DefaultMinSessionBars is the shortest session the backtest will trade
const DefaultMinSessionBars = 10

var ErrNoBars = errors.New("no bars inside regular trading hours")

// Config holds the run-level backtest settings
type Config struct {
	InitialEquity  float64
	MonthlyDeposit float64 // added on the first session of every calendar month seen
	MinSessionBars int
}

// BacktestEngine replays historical bars through the session engine
type BacktestEngine struct {
	config   Config
	session  session.Config
	calendar market.Calendar
	manager  *position.Manager
	sink     tradelog.Sink
	bus      *events.EventBus
	logger   zerolog.Logger
}

// BacktestResult is the outcome of a run. Performance statistics are left to the caller.
type BacktestResult struct {
	Symbol          string                 `json:"symbol"`
	StartEquity     float64                `json:"start_equity"`
	EndEquity       float64                `json:"end_equity"`
	Deposits        float64                `json:"deposits"`
	Sessions        int                    `json:"sessions"`
	SkippedSessions int                    `json:"skipped_sessions"`
	Trades          []position.TradeRecord `json:"trades"`
	EquityCurve     []EquityPoint          `json:"equity_curve"`
	SessionErrors   []SessionError         `json:"session_errors,omitempty"`
}

// EquityPoint represents account equity after a closed trade
type EquityPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Equity    float64   `json:"equity"`
}

// SessionError records a session abandoned on bad data
type SessionError struct {
	Session string `json:"session"`
	Error   string `json:"error"`
}

// NewBacktestEngine creates a new backtest engine
func NewBacktestEngine(config Config, sessionConfig session.Config, calendar market.Calendar, manager *position.Manager, sink tradelog.Sink, bus *events.EventBus, logger zerolog.Logger) *BacktestEngine {
	if config.MinSessionBars <= 0 {
		config.MinSessionBars = DefaultMinSessionBars
	}
	if sink == nil {
		sink = tradelog.NewMemorySink()
	}
	return &BacktestEngine{
		config:   config,
		session:  sessionConfig,
		calendar: calendar,
		manager:  manager,
		sink:     sink,
		bus:      bus,
		logger:   logger.With().Str("component", "Backtest").Str("symbol", sessionConfig.Symbol).Logger(),
	}
}

// run is the mutable state of one RunBacktest call
type run struct {
	result *BacktestResult
	engine *session.Engine
	equity float64
}

// RunBacktest replays bars session by session. Entries fill at the open of the
// bar after the signal. A position still open when a session ends is flattened
// at the last close.
func (be *BacktestEngine) RunBacktest(ctx context.Context, bars []market.Bar) (*BacktestResult, error) {
	sessions := be.calendar.SplitSessions(bars)
	if len(sessions) == 0 {
		return nil, ErrNoBars
	}

	r := &run{
		result: &BacktestResult{
			Symbol:      be.session.Symbol,
			StartEquity: be.config.InitialEquity,
			Trades:      make([]position.TradeRecord, 0),
			EquityCurve: make([]EquityPoint, 0),
		},
		engine: session.NewEngine(be.session, be.calendar, be.manager, be.bus, be.logger),
		equity: be.config.InitialEquity,
	}

	lastMonth := ""
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			r.result.EndEquity = r.equity
			return r.result, err
		}

		if month := s.Key[:7]; month != lastMonth {
			if be.config.MonthlyDeposit > 0 {
				r.equity += be.config.MonthlyDeposit
				r.result.Deposits += be.config.MonthlyDeposit
				be.logger.Debug().Str("month", month).Float64("equity", r.equity).Msg("Monthly deposit added")
			}
			lastMonth = month
		}

		if len(s.Bars) < be.config.MinSessionBars {
			r.result.SkippedSessions++
			be.logger.Debug().Str("session", s.Key).Int("bars", len(s.Bars)).Msg("Skipping short session")
			continue
		}

		if err := be.runSession(ctx, r, s); err != nil {
			r.result.SessionErrors = append(r.result.SessionErrors, SessionError{Session: s.Key, Error: err.Error()})
			be.bus.PublishSessionError(be.session.Symbol, s.Key, err)
			be.logger.Warn().Err(err).Str("session", s.Key).Msg("Session aborted")
		}
		r.result.Sessions++
	}

	r.result.EndEquity = r.equity
	be.logger.Info().
		Int("sessions", r.result.Sessions).
		Int("trades", len(r.result.Trades)).
		Float64("start_equity", r.result.StartEquity).
		Float64("end_equity", r.result.EndEquity).
		Msg("Backtest complete")
	return r.result, nil
}

func (be *BacktestEngine) runSession(ctx context.Context, r *run, s market.Session) error {
	var pending *position.Signal
	var last market.Bar
	var sessionErr error

	for _, bar := range s.Bars {
		if pending != nil {
			be.enter(ctx, r, *pending, bar)
			pending = nil
		}

		res, err := r.engine.Step(ctx, bar)
		if err != nil && (errors.Is(err, market.ErrInvalidBar) || errors.Is(err, session.ErrOutOfOrder)) {
			sessionErr = err
			break
		}
		last = bar
		if err != nil {
			// Order failures are retried by the manager on the next bar
			be.logger.Warn().Err(err).Time("bar", bar.Time).Msg("Position update incomplete")
		}

		r.equity += res.Update.RealizedPnL()
		if res.Closed != nil {
			be.book(ctx, r, res.Closed)
		}
		if res.Signal != nil {
			pending = res.Signal
		}
	}

	if r.engine.Position() != nil && !last.Time.IsZero() {
		closed, update, err := r.engine.Flatten(ctx, last.Close, position.ExitEndOfDay, last.Time)
		r.equity += update.RealizedPnL()
		if closed != nil {
			be.book(ctx, r, closed)
		}
		if err != nil {
			sessionErr = errors.Join(sessionErr, fmt.Errorf("flattening at session end: %w", err))
		}
	}
	return sessionErr
}

func (be *BacktestEngine) enter(ctx context.Context, r *run, sig position.Signal, bar market.Bar) {
	account := broker.AccountSnapshot{Equity: r.equity, Cash: r.equity}
	pos, err := r.engine.Enter(ctx, sig, bar.Open, account, bar.Time)
	if err != nil {
		if errors.Is(err, position.ErrEntryRejected) {
			be.logger.Debug().Err(err).Time("bar", bar.Time).Msg("Entry skipped")
		} else {
			be.logger.Warn().Err(err).Time("bar", bar.Time).Msg("Entry failed")
		}
		return
	}
	be.logger.Debug().
		Str("side", string(pos.Side)).
		Float64("entry", pos.Entry).
		Float64("stop", pos.Stop).
		Float64("qty", pos.InitialQty).
		Msg("Position opened")
}

func (be *BacktestEngine) book(ctx context.Context, r *run, closed *position.Position) {
	rec := closed.Record(r.equity)
	r.result.Trades = append(r.result.Trades, rec)
	r.result.EquityCurve = append(r.result.EquityCurve, EquityPoint{Timestamp: rec.ExitTime, Equity: r.equity})
	be.bus.PublishPositionClosed(rec.Symbol, string(rec.ExitReason), rec.ExitPrice, rec.PnL, r.equity, rec.ExitTime)
	if err := be.sink.Record(ctx, rec); err != nil {
		be.logger.Error().Err(err).Str("trade", rec.ID).Msg("Failed to record trade")
	}
}
