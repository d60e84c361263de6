package position

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/broker"
	"github.com/ferdinandre/tradingdemo/internal/events"
	"github.com/ferdinandre/tradingdemo/internal/market"
	"github.com/ferdinandre/tradingdemo/internal/risk"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Errors for position management
var (
	ErrEntryRejected = errors.New("entry rejected")
	ErrNotOpen       = errors.New("position is not open")
)

// Config holds the exit parameters applied to every position
type Config struct {
	Curves           risk.CurveConfig
	TakeProfitR      float64 // target distance in R
	Slippage         float64 // price units, always against the trader
	EnableLossLadder bool
	LotStep          float64 // ladder quantities are floored to this step, 0 for continuous
}

// DefaultConfig returns the standard exit parameters
func DefaultConfig() Config {
	return Config{
		Curves:           risk.DefaultCurveConfig(),
		TakeProfitR:      2.0,
		Slippage:         0.01,
		EnableLossLadder: true,
		LotStep:          1,
	}
}

// Reduction is one executed exit, partial or final
type Reduction struct {
	Intent string    `json:"intent"`
	Qty    float64   `json:"qty"`
	Price  float64   `json:"price"`
	PnL    float64   `json:"pnl"`
	Time   time.Time `json:"time"`
}

// BarUpdate summarizes what a bar did to a position
type BarUpdate struct {
	Reductions []Reduction
	Closed     bool
	Reason     ExitReason
}

// RealizedPnL sums the P&L of every reduction in the update
func (u BarUpdate) RealizedPnL() float64 {
	var total float64
	for _, r := range u.Reductions {
		total += r.PnL
	}
	return total
}

// Manager opens positions and drives them to flat bar by bar.
// It holds no per-position state; the caller owns the *Position.
type Manager struct {
	config   Config
	sizer    *risk.Sizer
	executor broker.Executor
	bus      *events.EventBus
	logger   zerolog.Logger
}

// NewManager creates a new position manager
func NewManager(config Config, sizer *risk.Sizer, executor broker.Executor, bus *events.EventBus, logger zerolog.Logger) *Manager {
	if config.TakeProfitR <= 0 {
		config.TakeProfitR = 2.0
	}
	return &Manager{
		config:   config,
		sizer:    sizer,
		executor: executor,
		bus:      bus,
		logger:   logger.With().Str("component", "PositionManager").Logger(),
	}
}

// Config returns the manager's exit parameters
func (m *Manager) Config() Config {
	return m.config
}

// Open sizes and executes an entry for sig at refPrice.
// Rejections wrap ErrEntryRejected; execution failures wrap the broker error.
func (m *Manager) Open(ctx context.Context, sig Signal, refPrice float64, account broker.AccountSnapshot, at time.Time) (*Position, error) {
	long := sig.Side == SideLong

	entry := refPrice
	if long {
		entry += m.config.Slippage
	} else {
		entry -= m.config.Slippage
	}
	stop := sig.Stop()

	rps := math.Abs(entry - stop)
	if refPrice <= 0 || rps <= 0 {
		m.logger.Debug().
			Str("symbol", sig.Symbol).
			Float64("entry", entry).
			Float64("stop", stop).
			Msg("Entry skipped, no risk distance")
		return nil, fmt.Errorf("%w: risk per share %.4f", ErrEntryRejected, rps)
	}

	target := entry + m.config.TakeProfitR*rps
	if !long {
		target = entry - m.config.TakeProfitR*rps
	}

	qty := m.sizer.Quantity(risk.SizeRequest{
		Long:         long,
		Entry:        entry,
		RiskPerShare: rps,
		Equity:       account.Equity,
		BuyingPower:  account.BuyingPower,
	})
	if qty <= 0 {
		m.logger.Debug().
			Str("symbol", sig.Symbol).
			Float64("equity", account.Equity).
			Float64("risk_per_share", rps).
			Msg("Entry skipped, sized to zero")
		return nil, fmt.Errorf("%w: sized to zero", ErrEntryRejected)
	}

	side := broker.SideBuy
	if !long {
		side = broker.SideSell
	}
	posID := uuid.New().String()
	fill, err := m.executor.Execute(ctx, broker.Order{
		ClientOrderID: posID,
		Symbol:        sig.Symbol,
		Side:          side,
		Qty:           qty,
		RefPrice:      entry,
		Intent:        "entry",
	})
	if err != nil {
		m.bus.PublishOrderFailed(sig.Symbol, "entry", qty, err)
		return nil, fmt.Errorf("entry order for %s: %w", sig.Symbol, err)
	}
	if fill.Qty <= qtyEpsilon {
		return nil, fmt.Errorf("%w: entry order for %s filled nothing", ErrEntryRejected, sig.Symbol)
	}

	filled := math.Min(fill.Qty, qty)
	if fill.AvgPrice > 0 {
		entry = fill.AvgPrice
		rps = math.Abs(entry - stop)
	}

	pos := &Position{
		ID:           posID,
		Symbol:       sig.Symbol,
		Side:         sig.Side,
		State:        StateOpen,
		Entry:        entry,
		Stop:         stop,
		Target:       target,
		RiskPerShare: rps,
		InitialQty:   filled,
		RemainingQty: filled,
		EntryTime:    at,
	}

	m.logger.Info().
		Str("symbol", pos.Symbol).
		Str("side", string(pos.Side)).
		Float64("entry", pos.Entry).
		Float64("stop", pos.Stop).
		Float64("target", pos.Target).
		Float64("qty", pos.InitialQty).
		Bool("anchor", sig.Anchor).
		Msg("Position opened")
	m.bus.PublishPositionOpened(pos.Symbol, string(pos.Side), pos.Entry, pos.Stop, pos.Target, pos.InitialQty, at)

	return pos, nil
}

// OnBar applies one bar to an open position: excursions, profit ladder,
// loss ladder, then hard exits. Execution failures leave quantity unchanged
// and are returned joined; the next bar re-evaluates.
func (m *Manager) OnBar(ctx context.Context, pos *Position, bar market.Bar, sessionEnd bool) (BarUpdate, error) {
	var update BarUpdate
	if !pos.IsOpen() {
		return update, ErrNotOpen
	}

	var errs []error
	pos.updateExcursions(bar)

	if pos.PendingExit == "" && pos.RiskPerShare > 0 {
		// Profit ladder
		desired := m.floorLot(pos.InitialQty * m.config.Curves.ProfitFraction(pos.MFE))
		if inc := math.Min(desired-pos.ProfitClosedQty, pos.RemainingQty); inc > qtyEpsilon {
			execR := math.Min(pos.MFE, m.config.Curves.RMax)
			price := pos.Entry + execR*pos.RiskPerShare - m.config.Slippage
			if !pos.IsLong() {
				price = pos.Entry - execR*pos.RiskPerShare + m.config.Slippage
			}
			filled, err := m.reduce(ctx, pos, &update, "scale_out", inc, price, bar.Time)
			pos.ProfitClosedQty += filled
			if err != nil {
				errs = append(errs, err)
			}
			if pos.RemainingQty <= qtyEpsilon {
				m.close(pos, &update, ExitScaledOut, bar.Time)
				return update, errors.Join(errs...)
			}
		}

		// Loss ladder
		if m.config.EnableLossLadder {
			desired := m.floorLot(pos.InitialQty * m.config.Curves.LossFraction(pos.MAE))
			if inc := math.Min(desired-pos.LossCutQty, pos.RemainingQty); inc > qtyEpsilon {
				execR := math.Min(pos.MAE, m.config.Curves.RStop)
				price := pos.Entry - execR*pos.RiskPerShare - m.config.Slippage
				if !pos.IsLong() {
					price = pos.Entry + execR*pos.RiskPerShare + m.config.Slippage
				}
				filled, err := m.reduce(ctx, pos, &update, "cut", inc, price, bar.Time)
				pos.LossCutQty += filled
				if err != nil {
					errs = append(errs, err)
				}
				if pos.RemainingQty <= qtyEpsilon {
					m.close(pos, &update, ExitScaledOutLoss, bar.Time)
					return update, errors.Join(errs...)
				}
			}
		}
	}

	reason, price := m.hardExit(pos, bar, sessionEnd)
	if reason == "" {
		return update, errors.Join(errs...)
	}

	if _, err := m.reduce(ctx, pos, &update, string(reason), pos.RemainingQty, price, bar.Time); err != nil {
		errs = append(errs, err)
	}
	if pos.RemainingQty <= qtyEpsilon {
		m.close(pos, &update, reason, bar.Time)
	} else {
		pos.PendingExit = reason
		m.logger.Warn().
			Str("symbol", pos.Symbol).
			Str("reason", string(reason)).
			Float64("remaining", pos.RemainingQty).
			Msg("Hard exit incomplete, retrying next bar")
	}

	return update, errors.Join(errs...)
}

// Flatten closes all remaining quantity at refPrice, outside the bar loop
func (m *Manager) Flatten(ctx context.Context, pos *Position, refPrice float64, reason ExitReason, at time.Time) (BarUpdate, error) {
	var update BarUpdate
	if !pos.IsOpen() {
		return update, ErrNotOpen
	}

	price := refPrice - m.config.Slippage
	if !pos.IsLong() {
		price = refPrice + m.config.Slippage
	}
	_, err := m.reduce(ctx, pos, &update, string(reason), pos.RemainingQty, price, at)
	if pos.RemainingQty <= qtyEpsilon {
		m.close(pos, &update, reason, at)
	} else {
		pos.PendingExit = reason
	}
	return update, err
}

// hardExit picks the exit reason and price for this bar. Stop wins over target.
func (m *Manager) hardExit(pos *Position, bar market.Bar, sessionEnd bool) (ExitReason, float64) {
	slip := m.config.Slippage
	if !pos.IsLong() {
		slip = -slip
	}

	if pos.PendingExit != "" {
		return pos.PendingExit, bar.Close - slip
	}

	if pos.IsLong() {
		if bar.Low <= pos.Stop {
			return ExitStop, pos.Stop - slip
		}
		if bar.High >= pos.Target {
			return ExitTarget, pos.Target - slip
		}
	} else {
		if bar.High >= pos.Stop {
			return ExitStop, pos.Stop - slip
		}
		if bar.Low <= pos.Target {
			return ExitTarget, pos.Target - slip
		}
	}

	if sessionEnd {
		return ExitEndOfDay, bar.Close - slip
	}
	return "", 0
}

// reduce sends an exit order and books only what actually filled
func (m *Manager) reduce(ctx context.Context, pos *Position, update *BarUpdate, intent string, qty, price float64, at time.Time) (float64, error) {
	qty = math.Min(qty, pos.RemainingQty)
	if qty <= qtyEpsilon {
		return 0, nil
	}

	side := broker.SideSell
	if !pos.IsLong() {
		side = broker.SideBuy
	}

	fill, err := m.executor.Execute(ctx, broker.Order{
		ClientOrderID: uuid.New().String(),
		Symbol:        pos.Symbol,
		Side:          side,
		Qty:           qty,
		RefPrice:      price,
		Intent:        intent,
	})
	if err != nil {
		m.logger.Error().
			Err(err).
			Str("symbol", pos.Symbol).
			Str("intent", intent).
			Float64("qty", qty).
			Msg("Exit order failed")
		m.bus.PublishOrderFailed(pos.Symbol, intent, qty, err)
		return 0, fmt.Errorf("%s order for %s: %w", intent, pos.Symbol, err)
	}

	filled := math.Min(fill.Qty, qty)
	if filled <= qtyEpsilon {
		return 0, nil
	}
	if fill.AvgPrice > 0 {
		price = fill.AvgPrice
	}

	pnl := pos.pnlPerUnit(price) * filled
	pos.RemainingQty -= filled
	if pos.RemainingQty < qtyEpsilon {
		pos.RemainingQty = 0
	}
	pos.RealizedPnL += pnl
	pos.LastExitPrice = price
	if pos.RemainingQty > 0 {
		pos.State = StatePartial
	}

	update.Reductions = append(update.Reductions, Reduction{
		Intent: intent,
		Qty:    filled,
		Price:  price,
		PnL:    pnl,
		Time:   at,
	})

	if filled < qty {
		m.logger.Warn().
			Str("symbol", pos.Symbol).
			Str("intent", intent).
			Float64("requested", qty).
			Float64("filled", filled).
			Msg("Partial fill")
	}
	if intent == "scale_out" || intent == "cut" {
		m.bus.PublishPositionScaled(pos.Symbol, intent, filled, price, pnl, pos.RemainingQty, at)
	}

	return filled, nil
}

func (m *Manager) close(pos *Position, update *BarUpdate, reason ExitReason, at time.Time) {
	exitTime := at
	pos.State = StateFlat
	pos.RemainingQty = 0
	pos.ExitReason = reason
	pos.ExitTime = &exitTime
	pos.PendingExit = ""

	update.Closed = true
	update.Reason = reason

	m.logger.Info().
		Str("symbol", pos.Symbol).
		Str("reason", string(reason)).
		Float64("exit_price", pos.LastExitPrice).
		Float64("pnl", pos.RealizedPnL).
		Float64("mfe_r", pos.MFE).
		Float64("mae_r", pos.MAE).
		Msg("Position closed")
}

func (m *Manager) floorLot(qty float64) float64 {
	step := m.config.LotStep
	if step <= 0 {
		return qty
	}
	return math.Floor(qty/step+qtyEpsilon) * step
}
