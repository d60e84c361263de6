package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/analysis"
	"github.com/ferdinandre/tradingdemo/internal/broker"
	"github.com/ferdinandre/tradingdemo/internal/market"
	"github.com/ferdinandre/tradingdemo/internal/position"
	"github.com/ferdinandre/tradingdemo/internal/risk"

	"github.com/rs/zerolog"
)

var day = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func mkBar(t time.Time, o, h, l, c float64) market.Bar {
	return market.Bar{Symbol: "SPY", Time: t, Open: o, High: h, Low: l, Close: c}
}

func at(i int) time.Time {
	return day.Add(time.Duration(i) * time.Minute)
}

// bullishRun is two stacked bullish gaps: an anchor on bar 2 and a continuation on bar 3
func bullishRun() []market.Bar {
	return []market.Bar{
		mkBar(at(0), 10.0, 10.5, 9.9, 10.2),
		mkBar(at(1), 10.2, 11.0, 10.1, 10.9),
		mkBar(at(2), 10.9, 11.5, 10.8, 11.4),
		mkBar(at(3), 11.4, 11.6, 11.2, 11.5),
	}
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	cal, err := market.NewCalendar("UTC", "09:30", "15:59")
	if err != nil {
		t.Fatalf("calendar: %v", err)
	}
	pcfg := position.DefaultConfig()
	pcfg.Slippage = 0
	pcfg.EnableLossLadder = false
	sizer := risk.NewSizer(risk.SizingConfig{
		RiskFraction:        0.01,
		NotionalCapMultiple: 1.0,
		SafetyBuffer:        0.95,
		MinQuantity:         risk.MinQuantityOne,
	})
	mgr := position.NewManager(pcfg, sizer, broker.NewPaperExecutor(), nil, zerolog.Nop())
	if cfg.Symbol == "" {
		cfg.Symbol = "SPY"
	}
	return NewEngine(cfg, cal, mgr, nil, zerolog.Nop())
}

func run(t *testing.T, e *Engine, bars []market.Bar) []StepResult {
	t.Helper()
	var out []StepResult
	for _, b := range bars {
		res, err := e.Step(context.Background(), b)
		if err != nil {
			t.Fatalf("Step at %s: %v", b.Time, err)
		}
		out = append(out, res)
	}
	return out
}

func TestContinuationArmsSignal(t *testing.T) {
	e := newTestEngine(t, Config{AllowShorts: true})
	results := run(t, e, bullishRun())

	if !results[2].Pushed || results[2].Signal != nil {
		t.Fatalf("Anchor push should not arm a signal: %+v", results[2])
	}
	sig := results[3].Signal
	if sig == nil {
		t.Fatal("Expected continuation push to arm a signal")
	}
	if sig.Side != position.SideLong || sig.Anchor {
		t.Errorf("Expected long continuation signal, got %+v", sig)
	}
	if sig.Stop() != 11.2 {
		t.Errorf("Expected stop at signal bar low 11.2, got %v", sig.Stop())
	}
	if e.Context().Stack.Len() != 2 {
		t.Errorf("Expected stack depth 2, got %d", e.Context().Stack.Len())
	}
}

func TestTradeOnFirstArmsAnchor(t *testing.T) {
	e := newTestEngine(t, Config{TradeOnFirst: true})
	results := run(t, e, bullishRun()[:3])

	if results[2].Signal == nil || !results[2].Signal.Anchor {
		t.Fatalf("Expected anchor signal, got %+v", results[2])
	}
}

func TestShortsDisabled(t *testing.T) {
	e := newTestEngine(t, Config{TradeOnFirst: true, AllowShorts: false})
	bars := []market.Bar{
		mkBar(at(0), 105, 106, 100, 102),
		mkBar(at(1), 102, 103, 95, 96),
		mkBar(at(2), 96, 99, 92, 94),
	}
	results := run(t, e, bars)

	if !results[2].Pushed {
		t.Fatal("Bearish gap should still be pushed")
	}
	if results[2].Signal != nil {
		t.Errorf("Short signal armed with shorts disabled: %+v", results[2].Signal)
	}
}

func TestMinGapFilter(t *testing.T) {
	e := newTestEngine(t, Config{MinGap: 0.5})
	results := run(t, e, bullishRun()[:3])

	if results[2].Gap == nil {
		t.Fatal("Expected gap to be detected")
	}
	if results[2].Pushed {
		t.Error("Gap narrower than min gap should not be pushed")
	}
}

func TestNewSessionResetsStack(t *testing.T) {
	e := newTestEngine(t, Config{})
	run(t, e, bullishRun())

	next := day.Add(24 * time.Hour)
	res, err := e.Step(context.Background(), mkBar(next, 11.5, 11.6, 11.4, 11.5))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !res.NewSession {
		t.Error("Expected new session flag")
	}
	if e.Context().Stack.Len() != 0 || len(e.Context().Prev) != 1 {
		t.Errorf("Expected fresh context, got depth %d prev %d", e.Context().Stack.Len(), len(e.Context().Prev))
	}
}

func TestOutOfOrderBar(t *testing.T) {
	e := newTestEngine(t, Config{})
	run(t, e, bullishRun()[:2])

	_, err := e.Step(context.Background(), mkBar(at(1), 10.9, 11.5, 10.8, 11.4))
	if !errors.Is(err, ErrOutOfOrder) {
		t.Errorf("Expected ErrOutOfOrder, got %v", err)
	}
}

func TestInvalidBarFailsFast(t *testing.T) {
	e := newTestEngine(t, Config{})
	_, err := e.Step(context.Background(), mkBar(at(0), 10, 10.5, 0, 10.2))
	if !errors.Is(err, market.ErrInvalidBar) {
		t.Errorf("Expected ErrInvalidBar, got %v", err)
	}
	if e.Context().Bars != 0 {
		t.Error("Invalid bar should not be recorded")
	}
}

func TestEnterManageAndClose(t *testing.T) {
	e := newTestEngine(t, Config{})
	results := run(t, e, bullishRun())
	sig := results[3].Signal
	if sig == nil {
		t.Fatal("Expected signal")
	}

	next := mkBar(at(4), 11.5, 11.55, 11.1, 11.15)
	pos, err := e.Enter(context.Background(), *sig, next.Open, broker.AccountSnapshot{Equity: 10000}, next.Time)
	if err != nil {
		t.Fatalf("Enter: %v", err)
	}
	if pos.Stop != 11.2 || pos.Entry != 11.5 {
		t.Errorf("Unexpected entry/stop %v/%v", pos.Entry, pos.Stop)
	}

	if _, err := e.Enter(context.Background(), *sig, next.Open, broker.AccountSnapshot{Equity: 10000}, next.Time); !errors.Is(err, position.ErrEntryRejected) {
		t.Errorf("Expected second entry to be rejected, got %v", err)
	}

	res, err := e.Step(context.Background(), next)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Closed == nil || res.Closed.ExitReason != position.ExitStop {
		t.Fatalf("Expected stop-out on entry bar, got %+v", res)
	}
	if e.Position() != nil {
		t.Error("Engine should be flat after close")
	}
}

func TestEntryNotEvaluatedWhileOpen(t *testing.T) {
	e := newTestEngine(t, Config{})
	results := run(t, e, bullishRun())
	if _, err := e.Enter(context.Background(), *results[3].Signal, 11.5, broker.AccountSnapshot{Equity: 10000}, at(4)); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	// gaps up again, but a position is open
	res, err := e.Step(context.Background(), mkBar(at(4), 11.7, 12.0, 11.7, 11.9))
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if res.Gap != nil || res.Signal != nil {
		t.Errorf("Detection should be skipped while a position is open: %+v", res)
	}
}

func TestSnapshotRestore(t *testing.T) {
	e := newTestEngine(t, Config{})
	results := run(t, e, bullishRun())
	if _, err := e.Enter(context.Background(), *results[3].Signal, 11.5, broker.AccountSnapshot{Equity: 10000}, at(4)); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	snap := e.Snapshot()
	restored := newTestEngine(t, Config{})
	restored.Restore(snap)

	sc := restored.Context()
	if sc.Stack.Len() != 2 || len(sc.Prev) != 2 || sc.Key != "2024-03-04" {
		t.Errorf("Restored context mismatch: depth %d prev %d key %s", sc.Stack.Len(), len(sc.Prev), sc.Key)
	}
	if restored.Position() == nil || restored.Position().Entry != 11.5 {
		t.Errorf("Restored position mismatch: %+v", restored.Position())
	}
	top, _ := sc.Stack.Top()
	if top.Type != analysis.BullishFVG || top.Low != 11.0 {
		t.Errorf("Unexpected restored top %s", top)
	}
}

func TestFinalBarExitsAtEndOfDay(t *testing.T) {
	e := newTestEngine(t, Config{})
	results := run(t, e, bullishRun())
	if _, err := e.Enter(context.Background(), *results[3].Signal, 11.5, broker.AccountSnapshot{Equity: 10000}, at(4)); err != nil {
		t.Fatalf("Enter: %v", err)
	}

	final := mkBar(time.Date(2024, 3, 4, 15, 59, 0, 0, time.UTC), 11.5, 11.5, 11.45, 11.48)
	res, err := e.Step(context.Background(), final)
	if err != nil {
		t.Fatalf("Step: %v", err)
	}
	if !res.SessionEnd {
		t.Error("15:59 should be the session's final bar")
	}
	if res.Closed == nil || res.Closed.ExitReason != position.ExitEndOfDay {
		t.Fatalf("Expected eod close, got %+v", res)
	}
	if res.Closed.LastExitPrice != 11.48 {
		t.Errorf("Expected exit at the close 11.48, got %v", res.Closed.LastExitPrice)
	}
	if e.Position() != nil {
		t.Error("Engine should be flat after the final bar")
	}
}
