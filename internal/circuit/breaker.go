// Package circuit halts new entries after a run of losses or a bad session.
package circuit

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BreakerState represents the circuit breaker state
type BreakerState string

const (
	StateClosed   BreakerState = "closed"    // Normal operation
	StateOpen     BreakerState = "open"      // Entries halted
	StateHalfOpen BreakerState = "half_open" // One entry allowed to test recovery
)

// Config holds circuit breaker limits. Zero limits are not enforced.
type Config struct {
	Enabled              bool    `json:"enabled"`
	MaxConsecutiveLosses int     `json:"max_consecutive_losses"`
	MaxSessionLossPct    float64 `json:"max_session_loss_pct"` // percent of equity at the first trade of the session
	MaxSessionTrades     int     `json:"max_session_trades"`
	CooldownMinutes      int     `json:"cooldown_minutes"`
}

// DefaultConfig returns the limits used when the breaker is switched on
func DefaultConfig() Config {
	return Config{
		Enabled:              false,
		MaxConsecutiveLosses: 4,
		MaxSessionLossPct:    3.0,
		MaxSessionTrades:     20,
		CooldownMinutes:      30,
	}
}

// Breaker gates new entries. Exits are never blocked.
// Session counters reset whenever a new session key is seen.
type Breaker struct {
	config            Config
	state             BreakerState
	consecutiveLosses int
	session           string
	sessionEquity     float64
	sessionLoss       float64
	sessionTrades     int
	lastTripTime      time.Time
	tripReason        string
	now               func() time.Time
	mu                sync.RWMutex
	logger            zerolog.Logger
}

// NewBreaker creates a new circuit breaker
func NewBreaker(config Config, logger zerolog.Logger) *Breaker {
	return &Breaker{
		config: config,
		state:  StateClosed,
		now:    time.Now,
		logger: logger.With().Str("component", "CircuitBreaker").Logger(),
	}
}

// CanTrade reports whether a new entry is allowed in session, with the reason when not
func (cb *Breaker) CanTrade(session string) (bool, string) {
	if cb == nil || !cb.config.Enabled {
		return true, ""
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.rollSession(session)

	if cb.state == StateOpen {
		elapsed := cb.now().Sub(cb.lastTripTime)
		cooldown := time.Duration(cb.config.CooldownMinutes) * time.Minute
		if elapsed < cooldown {
			return false, fmt.Sprintf("circuit breaker open, cooldown remaining: %v (reason: %s)",
				(cooldown - elapsed).Round(time.Second), cb.tripReason)
		}
		cb.state = StateHalfOpen
		cb.logger.Info().Str("reason", cb.tripReason).Msg("Cooldown over, allowing a test entry")
	}

	if cb.config.MaxSessionLossPct > 0 && cb.sessionLossPct() >= cb.config.MaxSessionLossPct {
		return false, fmt.Sprintf("session loss limit reached: %.2f%% >= %.2f%%",
			cb.sessionLossPct(), cb.config.MaxSessionLossPct)
	}
	if cb.config.MaxSessionTrades > 0 && cb.sessionTrades >= cb.config.MaxSessionTrades {
		return false, fmt.Sprintf("session trade limit reached: %d trades", cb.sessionTrades)
	}
	return true, ""
}

// RecordTrade books a closed trade's P&L against equity before the trade
func (cb *Breaker) RecordTrade(session string, pnl, equityBefore float64) {
	if cb == nil || !cb.config.Enabled {
		return
	}
	if math.IsNaN(pnl) || math.IsInf(pnl, 0) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.rollSession(session)
	if cb.sessionEquity == 0 {
		cb.sessionEquity = equityBefore
	}
	cb.sessionTrades++

	if pnl < 0 {
		cb.consecutiveLosses++
		cb.sessionLoss += -pnl
	} else {
		cb.consecutiveLosses = 0
		if cb.state == StateHalfOpen {
			cb.state = StateClosed
			cb.tripReason = ""
			cb.logger.Info().Msg("Circuit breaker closed after a winning trade")
		}
	}

	cb.checkAndTrip()
}

func (cb *Breaker) sessionLossPct() float64 {
	if cb.sessionEquity <= 0 {
		return 0
	}
	return cb.sessionLoss / cb.sessionEquity * 100
}

// rollSession resets the session counters on a new key
func (cb *Breaker) rollSession(session string) {
	if session == cb.session {
		return
	}
	cb.session = session
	cb.sessionEquity = 0
	cb.sessionLoss = 0
	cb.sessionTrades = 0
}

// checkAndTrip trips the breaker when a limit is hit
func (cb *Breaker) checkAndTrip() {
	var reason string
	switch {
	case cb.config.MaxConsecutiveLosses > 0 && cb.consecutiveLosses >= cb.config.MaxConsecutiveLosses:
		reason = fmt.Sprintf("consecutive losses: %d", cb.consecutiveLosses)
	case cb.state == StateHalfOpen && cb.consecutiveLosses > 0:
		reason = "loss on test entry"
	case cb.config.MaxSessionLossPct > 0 && cb.sessionLossPct() >= cb.config.MaxSessionLossPct:
		reason = fmt.Sprintf("session loss: %.2f%%", cb.sessionLossPct())
	}
	if reason == "" {
		return
	}

	cb.state = StateOpen
	cb.lastTripTime = cb.now()
	cb.tripReason = reason
	cb.logger.Warn().
		Str("reason", reason).
		Int("consecutive_losses", cb.consecutiveLosses).
		Float64("session_loss", cb.sessionLoss).
		Msg("Circuit breaker tripped")
}

// ForceReset manually resets the circuit breaker
func (cb *Breaker) ForceReset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.consecutiveLosses = 0
	cb.tripReason = ""
}

// GetState returns current breaker state
func (cb *Breaker) GetState() BreakerState {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// GetStats returns current statistics
func (cb *Breaker) GetStats() map[string]interface{} {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return map[string]interface{}{
		"enabled":            cb.config.Enabled,
		"state":              string(cb.state),
		"consecutive_losses": cb.consecutiveLosses,
		"session":            cb.session,
		"session_loss":       cb.sessionLoss,
		"session_trades":     cb.sessionTrades,
		"trip_reason":        cb.tripReason,
		"last_trip_time":     cb.lastTripTime,
	}
}
