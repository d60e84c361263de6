// Package alpaca implements the broker interfaces against the Alpaca trading
// and market data REST APIs.
package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

const (
	DefaultTradingURL = "https://paper-api.alpaca.markets"
	DefaultDataURL    = "https://data.alpaca.markets"
	DefaultStreamURL  = "wss://stream.data.alpaca.markets/v2/iex"
)

// Config holds credentials and endpoints
type Config struct {
	TradingURL   string
	DataURL      string
	KeyID        string
	SecretKey    string
	Feed         string // iex or sip
	Timeout      time.Duration
	FillTimeout  time.Duration // how long Execute waits for a terminal order state
	PollInterval time.Duration
}

// Client talks to the Alpaca REST APIs
type Client struct {
	config  Config
	trading *resty.Client
	data    *resty.Client
	logger  zerolog.Logger
}

// APIError is a non-2xx response
type APIError struct {
	Status  int
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("alpaca API error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("alpaca API error %d", e.Status)
}

// NewClient creates a new Alpaca client
func NewClient(config Config, logger zerolog.Logger) *Client {
	if config.TradingURL == "" {
		config.TradingURL = DefaultTradingURL
	}
	if config.DataURL == "" {
		config.DataURL = DefaultDataURL
	}
	if config.Feed == "" {
		config.Feed = "iex"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.FillTimeout <= 0 {
		config.FillTimeout = 30 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 500 * time.Millisecond
	}

	headers := map[string]string{
		"APCA-API-KEY-ID":     config.KeyID,
		"APCA-API-SECRET-KEY": config.SecretKey,
	}

	trading := resty.New().
		SetBaseURL(config.TradingURL).
		SetTimeout(config.Timeout).
		SetHeaders(headers)

	// Market data reads are idempotent and safe to retry
	data := resty.New().
		SetBaseURL(config.DataURL).
		SetTimeout(config.Timeout).
		SetHeaders(headers).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)

	return &Client{
		config:  config,
		trading: trading,
		data:    data,
		logger:  logger.With().Str("component", "Alpaca").Logger(),
	}
}

// decode checks the status and unmarshals the body into out
func decode(resp *resty.Response, out any) error {
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		apiErr := &APIError{Status: resp.StatusCode()}
		if err := json.Unmarshal(resp.Body(), apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = resp.String()
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("failed to parse %s response: %w", resp.Request.URL, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, rc *resty.Client, path string, params map[string]string, out any) error {
	resp, err := rc.R().
		SetContext(ctx).
		SetQueryParams(params).
		Get(path)
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", path, err)
	}
	return decode(resp, out)
}

func isRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Status == http.StatusForbidden || apiErr.Status == http.StatusUnprocessableEntity
}
