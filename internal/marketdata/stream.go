package marketdata

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/market"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var (
	ErrStreamAuth   = errors.New("stream authentication failed")
	ErrStreamClosed = errors.New("stream closed")
)

// StreamConfig configures the minute-bar websocket stream
type StreamConfig struct {
	URL            string // e.g. wss://stream.data.alpaca.markets/v2/iex
	KeyID          string
	SecretKey      string
	Symbol         string
	ReconnectDelay time.Duration
	HandshakeWait  time.Duration
}

// streamMessage covers the control and bar frames of the stream.
// encoding/json prefers exact tag matches, so "T" and "t" do not collide.
type streamMessage struct {
	Type       string    `json:"T"`
	Msg        string    `json:"msg"`
	Code       int       `json:"code"`
	Symbol     string    `json:"S"`
	Open       float64   `json:"o"`
	High       float64   `json:"h"`
	Low        float64   `json:"l"`
	Close      float64   `json:"c"`
	Volume     float64   `json:"v"`
	VWAP       float64   `json:"vw"`
	TradeCount int64     `json:"n"`
	Timestamp  time.Time `json:"t"`
}

func (m streamMessage) bar() market.Bar {
	vol, vwap, n := m.Volume, m.VWAP, m.TradeCount
	return market.Bar{
		Symbol:     m.Symbol,
		Time:       m.Timestamp,
		Open:       m.Open,
		High:       m.High,
		Low:        m.Low,
		Close:      m.Close,
		Volume:     &vol,
		VWAP:       &vwap,
		TradeCount: &n,
	}
}

// StreamSource receives minute bars over a websocket and reconnects on drops
type StreamSource struct {
	config StreamConfig
	dialer *websocket.Dialer
	logger zerolog.Logger

	bars chan market.Bar
	errs chan error

	mu      sync.Mutex
	conn    *websocket.Conn
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewStreamSource creates a stream source; call Connect before Next
func NewStreamSource(config StreamConfig, logger zerolog.Logger) *StreamSource {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 3 * time.Second
	}
	if config.HandshakeWait <= 0 {
		config.HandshakeWait = 10 * time.Second
	}
	return &StreamSource{
		config: config,
		dialer: websocket.DefaultDialer,
		logger: logger.With().Str("component", "BarStream").Str("symbol", config.Symbol).Logger(),
		bars:   make(chan market.Bar, 256),
		errs:   make(chan error, 1),
	}
}

// Connect dials, authenticates and subscribes, then reads in the background
// until ctx is cancelled or Close is called. Authentication errors are returned here.
func (s *StreamSource) Connect(ctx context.Context) error {
	conn, err := s.handshake(ctx)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.conn = conn
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.run(runCtx, conn)
	return nil
}

func (s *StreamSource) handshake(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := s.dialer.DialContext(ctx, s.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bar stream: %w", err)
	}

	steps := []struct {
		send any
		want string
	}{
		{nil, "connected"},
		{map[string]string{"action": "auth", "key": s.config.KeyID, "secret": s.config.SecretKey}, "authenticated"},
		{map[string]any{"action": "subscribe", "bars": []string{s.config.Symbol}}, "subscription"},
	}
	for _, step := range steps {
		if step.send != nil {
			if err := conn.WriteJSON(step.send); err != nil {
				conn.Close()
				return nil, fmt.Errorf("failed to write stream request: %w", err)
			}
		}
		if err := s.await(conn, step.want); err != nil {
			conn.Close()
			return nil, err
		}
	}
	conn.SetReadDeadline(time.Time{})

	s.logger.Info().Str("url", s.config.URL).Msg("Bar stream subscribed")
	return conn, nil
}

// await reads frames until one acknowledges want
func (s *StreamSource) await(conn *websocket.Conn, want string) error {
	conn.SetReadDeadline(time.Now().Add(s.config.HandshakeWait))
	for {
		var msgs []streamMessage
		if err := conn.ReadJSON(&msgs); err != nil {
			return fmt.Errorf("failed waiting for %s: %w", want, err)
		}
		for _, m := range msgs {
			switch {
			case m.Type == "error":
				if m.Code == 401 || m.Code == 402 || m.Code == 403 || m.Code == 404 {
					return fmt.Errorf("%w: %d %s", ErrStreamAuth, m.Code, m.Msg)
				}
				return fmt.Errorf("stream error %d: %s", m.Code, m.Msg)
			case want == "subscription" && m.Type == "subscription":
				return nil
			case m.Type == "success" && m.Msg == want:
				return nil
			}
		}
	}
}

func (s *StreamSource) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)

	// unblock the reader on shutdown
	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
	}()

	for {
		err := s.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Dur("retry_in", s.config.ReconnectDelay).Msg("Bar stream lost, reconnecting")

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.config.ReconnectDelay):
			}
			conn, err = s.handshake(ctx)
			if err == nil {
				break
			}
			if errors.Is(err, ErrStreamAuth) {
				s.fail(err)
				return
			}
			s.logger.Warn().Err(err).Msg("Bar stream reconnect failed")
		}

		s.mu.Lock()
		s.conn = conn
		s.mu.Unlock()
		if ctx.Err() != nil {
			conn.Close()
			return
		}
	}
}

func (s *StreamSource) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msgs []streamMessage
		if err := conn.ReadJSON(&msgs); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return ErrStreamClosed
			}
			return err
		}
		for _, m := range msgs {
			switch m.Type {
			case "b":
				select {
				case s.bars <- m.bar():
				case <-ctx.Done():
					return ctx.Err()
				}
			case "error":
				s.logger.Error().Int("code", m.Code).Str("msg", m.Msg).Msg("Bar stream error")
			}
		}
	}
}

func (s *StreamSource) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Next blocks until the next bar arrives
func (s *StreamSource) Next(ctx context.Context) (market.Bar, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if !running {
		return market.Bar{}, ErrStreamClosed
	}

	select {
	case bar := <-s.bars:
		return bar, nil
	case err := <-s.errs:
		return market.Bar{}, err
	case <-ctx.Done():
		return market.Bar{}, ctx.Err()
	}
}

// Close stops the stream and waits for the reader to exit
func (s *StreamSource) Close() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	<-done
	return nil
}
