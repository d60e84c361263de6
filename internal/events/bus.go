package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSessionStarted  EventType = "SESSION_STARTED"
	EventSessionError    EventType = "SESSION_ERROR"
	EventGapPushed       EventType = "GAP_PUSHED"
	EventGapPopped       EventType = "GAP_POPPED"
	EventSignalGenerated EventType = "SIGNAL_GENERATED"
	EventPositionOpened  EventType = "POSITION_OPENED"
	EventPositionScaled  EventType = "POSITION_SCALED"
	EventPositionClosed  EventType = "POSITION_CLOSED"
	EventOrderFailed     EventType = "ORDER_FAILED"
	EventBotStarted      EventType = "BOT_STARTED"
	EventBotStopped      EventType = "BOT_STOPPED"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions.
// A nil *EventBus is valid and drops every event.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
	sync        bool
}

// NewEventBus creates a new event bus that notifies subscribers on their own goroutines
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// NewSyncEventBus creates a bus that calls subscribers inline, in subscription order
func NewSyncEventBus() *EventBus {
	eb := NewEventBus()
	eb.sync = true
	return eb
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}

	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	deliver := func(sub Subscriber) {
		if eb.sync {
			sub(event)
			return
		}
		go sub(event) // Run in goroutine to avoid blocking the bar loop
	}

	for _, sub := range eb.subscribers[event.Type] {
		deliver(sub)
	}
	for _, sub := range eb.allSubs {
		deliver(sub)
	}
}

// PublishGapPushed publishes a gap accepted onto the stack
func (eb *EventBus) PublishGapPushed(symbol, direction string, low, high float64, depth int, at time.Time) {
	eb.Publish(Event{
		Type:      EventGapPushed,
		Timestamp: at,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"direction": direction,
			"low":       low,
			"high":      high,
			"depth":     depth,
		},
	})
}

// PublishGapsPopped publishes gaps invalidated by a bar
func (eb *EventBus) PublishGapsPopped(symbol string, count, depth int, at time.Time) {
	eb.Publish(Event{
		Type:      EventGapPopped,
		Timestamp: at,
		Data: map[string]interface{}{
			"symbol": symbol,
			"count":  count,
			"depth":  depth,
		},
	})
}

// PublishSignal publishes an armed entry signal
func (eb *EventBus) PublishSignal(symbol, direction string, stop float64, anchor bool, at time.Time) {
	eb.Publish(Event{
		Type:      EventSignalGenerated,
		Timestamp: at,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"direction": direction,
			"stop":      stop,
			"anchor":    anchor,
		},
	})
}

// PublishPositionOpened publishes a new position
func (eb *EventBus) PublishPositionOpened(symbol, side string, entry, stop, target, qty float64, at time.Time) {
	eb.Publish(Event{
		Type:      EventPositionOpened,
		Timestamp: at,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"side":     side,
			"entry":    entry,
			"stop":     stop,
			"target":   target,
			"quantity": qty,
		},
	})
}

// PublishPositionScaled publishes a ladder reduction
func (eb *EventBus) PublishPositionScaled(symbol, ladder string, qty, price, pnl, remaining float64, at time.Time) {
	eb.Publish(Event{
		Type:      EventPositionScaled,
		Timestamp: at,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"ladder":    ladder,
			"quantity":  qty,
			"price":     price,
			"pnl":       pnl,
			"remaining": remaining,
		},
	})
}

// PublishPositionClosed publishes a fully closed position
func (eb *EventBus) PublishPositionClosed(symbol, reason string, exitPrice, pnl, equityAfter float64, at time.Time) {
	eb.Publish(Event{
		Type:      EventPositionClosed,
		Timestamp: at,
		Data: map[string]interface{}{
			"symbol":       symbol,
			"reason":       reason,
			"exit_price":   exitPrice,
			"pnl":          pnl,
			"equity_after": equityAfter,
		},
	})
}

// PublishOrderFailed publishes an execution failure
func (eb *EventBus) PublishOrderFailed(symbol, intent string, qty float64, err error) {
	eb.Publish(Event{
		Type: EventOrderFailed,
		Data: map[string]interface{}{
			"symbol":   symbol,
			"intent":   intent,
			"quantity": qty,
			"error":    err.Error(),
		},
	})
}

// PublishSessionStarted publishes the start of a trading session
func (eb *EventBus) PublishSessionStarted(symbol, session string, at time.Time) {
	eb.Publish(Event{
		Type:      EventSessionStarted,
		Timestamp: at,
		Data: map[string]interface{}{
			"symbol":  symbol,
			"session": session,
		},
	})
}

// PublishSessionError publishes a data error that ended a session
func (eb *EventBus) PublishSessionError(symbol, session string, err error) {
	eb.Publish(Event{
		Type: EventSessionError,
		Data: map[string]interface{}{
			"symbol":  symbol,
			"session": session,
			"error":   err.Error(),
		},
	})
}

// PublishBotStarted publishes bot started event
func (eb *EventBus) PublishBotStarted(mode string) {
	eb.Publish(Event{
		Type: EventBotStarted,
		Data: map[string]interface{}{
			"mode": mode,
		},
	})
}

// PublishBotStopped publishes bot stopped event
func (eb *EventBus) PublishBotStopped(mode string, reason string) {
	eb.Publish(Event{
		Type: EventBotStopped,
		Data: map[string]interface{}{
			"mode":   mode,
			"reason": reason,
		},
	})
}
