// Package position tracks a single position from entry fill to flat and runs
// the profit ladder, loss ladder and hard exits against each bar.
package position

import (
	"math"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/analysis"
	"github.com/ferdinandre/tradingdemo/internal/market"
)

// Side is the direction of a position
type Side string

const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// SideFor maps a gap direction to the position side that trades it
func SideFor(t analysis.FVGType) Side {
	if t == analysis.BearishFVG {
		return SideShort
	}
	return SideLong
}

// Position state status constants
const (
	StateFlat    = "FLAT"    // No exposure
	StateOpen    = "OPEN"    // Full initial quantity held
	StatePartial = "PARTIAL" // Some quantity already closed
)

// ExitReason explains why a position went flat
type ExitReason string

const (
	ExitStop          ExitReason = "stop"
	ExitTarget        ExitReason = "tp"
	ExitEndOfDay      ExitReason = "eod"
	ExitScaledOut     ExitReason = "scaled_out"
	ExitScaledOutLoss ExitReason = "scaled_out_loss"
	ExitFlatten       ExitReason = "flatten"
)

const qtyEpsilon = 1e-9

// Signal is an armed entry produced by a triggering push
type Signal struct {
	Symbol    string       `json:"symbol"`
	Side      Side         `json:"side"`
	Gap       analysis.FVG `json:"gap"`
	SignalBar market.Bar   `json:"signal_bar"`
	Anchor    bool         `json:"anchor"` // first gap of the stack rather than a continuation
}

// Stop returns the protective stop implied by the signal bar
func (s Signal) Stop() float64 {
	if s.Side == SideShort {
		return s.SignalBar.High
	}
	return s.SignalBar.Low
}

// Position is the live state of one trade
type Position struct {
	ID              string     `json:"id"`
	Symbol          string     `json:"symbol"`
	Side            Side       `json:"side"`
	State           string     `json:"state"`
	Entry           float64    `json:"entry"`
	Stop            float64    `json:"stop"`
	Target          float64    `json:"target"`
	RiskPerShare    float64    `json:"risk_per_share"`
	InitialQty      float64    `json:"initial_qty"`
	RemainingQty    float64    `json:"remaining_qty"`
	ProfitClosedQty float64    `json:"profit_closed_qty"`
	LossCutQty      float64    `json:"loss_cut_qty"`
	MFE             float64    `json:"mfe_r"`
	MAE             float64    `json:"mae_r"`
	RealizedPnL     float64    `json:"realized_pnl"`
	LastExitPrice   float64    `json:"last_exit_price"`
	EntryTime       time.Time  `json:"entry_time"`
	ExitTime        *time.Time `json:"exit_time,omitempty"`
	ExitReason      ExitReason `json:"exit_reason,omitempty"`
	PendingExit     ExitReason `json:"pending_exit,omitempty"` // hard exit still being worked
}

// IsLong reports whether the position profits from rising prices
func (p *Position) IsLong() bool {
	return p.Side == SideLong
}

// IsOpen reports whether the position still holds quantity
func (p *Position) IsOpen() bool {
	return p != nil && p.State != StateFlat
}

// ClosedQty returns the quantity already exited by any route
func (p *Position) ClosedQty() float64 {
	return p.InitialQty - p.RemainingQty
}

// pnlPerUnit returns the realized P&L per unit exited at price
func (p *Position) pnlPerUnit(price float64) float64 {
	if p.IsLong() {
		return price - p.Entry
	}
	return p.Entry - price
}

// updateExcursions folds the bar's extremes into MFE and MAE, in R
func (p *Position) updateExcursions(bar market.Bar) {
	if p.RiskPerShare <= 0 {
		return
	}
	var favorable, adverse float64
	if p.IsLong() {
		favorable = (bar.High - p.Entry) / p.RiskPerShare
		adverse = (p.Entry - bar.Low) / p.RiskPerShare
	} else {
		favorable = (p.Entry - bar.Low) / p.RiskPerShare
		adverse = (bar.High - p.Entry) / p.RiskPerShare
	}
	p.MFE = math.Max(p.MFE, favorable)
	p.MAE = math.Max(p.MAE, adverse)
}

// TradeRecord is the log entry written once a position is flat
type TradeRecord struct {
	ID          string     `json:"id"`
	Symbol      string     `json:"symbol"`
	Direction   Side       `json:"direction"`
	EntryTime   time.Time  `json:"entry_ts"`
	ExitTime    time.Time  `json:"exit_ts"`
	Entry       float64    `json:"entry"`
	Stop        float64    `json:"stop"`
	Target      float64    `json:"tp"`
	Quantity    float64    `json:"shares"`
	ExitPrice   float64    `json:"exit_price"`
	ExitReason  ExitReason `json:"exit_reason"`
	PnL         float64    `json:"pnl"`
	EquityAfter float64    `json:"equity_after"`
	MFE         float64    `json:"mfe_r"`
	MAE         float64    `json:"mae_r"`
}

// Record builds the trade log entry for a closed position
func (p *Position) Record(equityAfter float64) TradeRecord {
	rec := TradeRecord{
		ID:          p.ID,
		Symbol:      p.Symbol,
		Direction:   p.Side,
		EntryTime:   p.EntryTime,
		Entry:       p.Entry,
		Stop:        p.Stop,
		Target:      p.Target,
		Quantity:    p.InitialQty,
		ExitPrice:   p.LastExitPrice,
		ExitReason:  p.ExitReason,
		PnL:         p.RealizedPnL,
		EquityAfter: equityAfter,
		MFE:         p.MFE,
		MAE:         p.MAE,
	}
	if p.ExitTime != nil {
		rec.ExitTime = *p.ExitTime
	}
	return rec
}
