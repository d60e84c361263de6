// Package metrics exposes Prometheus metrics fed from the event bus.
//
//   - fvg_gaps_pushed_total{symbol,direction}
//   - fvg_gaps_popped_total{symbol}
//   - fvg_stack_depth{symbol}
//   - fvg_signals_total{symbol,direction}
//   - fvg_positions_opened_total{symbol,side}
//   - fvg_reductions_total{symbol,ladder}
//   - fvg_trades_closed_total{symbol,reason}
//   - fvg_equity_usd{symbol}
//   - fvg_order_failures_total{symbol,intent}
//   - fvg_session_errors_total{symbol}
package metrics

import (
	"github.com/ferdinandre/tradingdemo/internal/events"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors registered for one process
type Metrics struct {
	gapsPushed    *prometheus.CounterVec
	gapsPopped    *prometheus.CounterVec
	stackDepth    *prometheus.GaugeVec
	signals       *prometheus.CounterVec
	opened        *prometheus.CounterVec
	reductions    *prometheus.CounterVec
	closed        *prometheus.CounterVec
	equity        *prometheus.GaugeVec
	orderFailures *prometheus.CounterVec
	sessionErrors *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		gapsPushed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvg_gaps_pushed_total",
			Help: "Gaps accepted onto the stack",
		}, []string{"symbol", "direction"}),
		gapsPopped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvg_gaps_popped_total",
			Help: "Gaps popped as filled",
		}, []string{"symbol"}),
		stackDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fvg_stack_depth",
			Help: "Current gap stack depth",
		}, []string{"symbol"}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvg_signals_total",
			Help: "Entry signals armed",
		}, []string{"symbol", "direction"}),
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvg_positions_opened_total",
			Help: "Positions opened",
		}, []string{"symbol", "side"}),
		reductions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvg_reductions_total",
			Help: "Ladder reductions filled",
		}, []string{"symbol", "ladder"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvg_trades_closed_total",
			Help: "Positions closed, by exit reason",
		}, []string{"symbol", "reason"}),
		equity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fvg_equity_usd",
			Help: "Equity after the last closed trade",
		}, []string{"symbol"}),
		orderFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvg_order_failures_total",
			Help: "Orders that failed to execute",
		}, []string{"symbol", "intent"}),
		sessionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fvg_session_errors_total",
			Help: "Sessions aborted on bad data",
		}, []string{"symbol"}),
	}

	for _, c := range []prometheus.Collector{
		m.gapsPushed, m.gapsPopped, m.stackDepth, m.signals, m.opened,
		m.reductions, m.closed, m.equity, m.orderFailures, m.sessionErrors,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Subscribe feeds every bus event into the collectors
func (m *Metrics) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll(m.Handle)
}

// Handle updates collectors for one event
func (m *Metrics) Handle(e events.Event) {
	symbol := str(e.Data, "symbol")
	switch e.Type {
	case events.EventGapPushed:
		m.gapsPushed.WithLabelValues(symbol, str(e.Data, "direction")).Inc()
		m.stackDepth.WithLabelValues(symbol).Set(num(e.Data, "depth"))
	case events.EventGapPopped:
		m.gapsPopped.WithLabelValues(symbol).Add(num(e.Data, "count"))
		m.stackDepth.WithLabelValues(symbol).Set(num(e.Data, "depth"))
	case events.EventSessionStarted:
		m.stackDepth.WithLabelValues(symbol).Set(0)
	case events.EventSignalGenerated:
		m.signals.WithLabelValues(symbol, str(e.Data, "direction")).Inc()
	case events.EventPositionOpened:
		m.opened.WithLabelValues(symbol, str(e.Data, "side")).Inc()
	case events.EventPositionScaled:
		m.reductions.WithLabelValues(symbol, str(e.Data, "ladder")).Inc()
	case events.EventPositionClosed:
		m.closed.WithLabelValues(symbol, str(e.Data, "reason")).Inc()
		m.equity.WithLabelValues(symbol).Set(num(e.Data, "equity_after"))
	case events.EventOrderFailed:
		m.orderFailures.WithLabelValues(symbol, str(e.Data, "intent")).Inc()
	case events.EventSessionError:
		m.sessionErrors.WithLabelValues(symbol).Inc()
	}
}

func str(data map[string]interface{}, key string) string {
	s, _ := data[key].(string)
	return s
}

func num(data map[string]interface{}, key string) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}
