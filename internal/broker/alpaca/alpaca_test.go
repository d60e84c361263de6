package alpaca

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/broker"

	"github.com/rs/zerolog"
)

// fakeAlpaca serves the handful of endpoints the client uses
type fakeAlpaca struct {
	mu        sync.Mutex
	submitted []map[string]string
	polls     int
	// order states returned by successive GET /v2/orders/{id}
	states    []string
	filledQty string
	avgPrice  string
	submitErr int
	cancelled bool
}

func (f *fakeAlpaca) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v2/account", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("APCA-API-KEY-ID") != "key" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"code":40110000,"message":"request is not authorized"}`))
			return
		}
		w.Write([]byte(`{"id":"a1","status":"ACTIVE","equity":"10250.55","buying_power":"20501.10","cash":"10250.55","shorting_enabled":true}`))
	})

	mux.HandleFunc("/v2/orders", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		f.mu.Lock()
		f.submitted = append(f.submitted, req)
		f.mu.Unlock()
		if f.submitErr != 0 {
			w.WriteHeader(f.submitErr)
			w.Write([]byte(`{"code":40310000,"message":"insufficient buying power"}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "o1", "client_order_id": req["client_order_id"], "symbol": req["symbol"],
			"side": req["side"], "status": "accepted", "qty": req["qty"], "filled_qty": "0", "filled_avg_price": nil,
		})
	})

	mux.HandleFunc("/v2/orders/o1", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if r.Method == http.MethodDelete {
			f.cancelled = true
			w.WriteHeader(http.StatusNoContent)
			return
		}
		status := f.states[len(f.states)-1]
		if f.polls < len(f.states) {
			status = f.states[f.polls]
		}
		if f.cancelled {
			status = StatusCanceled
		}
		f.polls++
		var avg any
		if f.avgPrice != "" {
			avg = f.avgPrice
		}
		json.NewEncoder(w).Encode(map[string]any{
			"id": "o1", "symbol": "SPY", "side": "buy", "status": status,
			"qty": "100", "filled_qty": f.filledQty, "filled_avg_price": avg,
		})
	})

	mux.HandleFunc("/v2/stocks/quotes/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"quotes":{"SPY":{"t":"2024-03-04T14:31:00Z","ap":512.34,"bp":512.30,"as":1,"bs":2}}}`))
	})
	mux.HandleFunc("/v2/stocks/trades/latest", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"trades":{"SPY":{"t":"2024-03-04T14:31:00Z","p":512.32}}}`))
	})
	mux.HandleFunc("/v2/stocks/bars/latest", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("feed") != "iex" {
			t.Errorf("Expected iex feed, got %q", r.URL.Query().Get("feed"))
		}
		w.Write([]byte(`{"bars":{"SPY":{"t":"2024-03-04T14:31:00Z","o":512.1,"h":512.5,"l":511.9,"c":512.3,"v":10234,"n":120,"vw":512.2}}}`))
	})
	mux.HandleFunc("/v2/stocks/bars", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page_token") == "" {
			w.Write([]byte(`{"bars":{"SPY":[{"t":"2024-03-04T14:30:00Z","o":1,"h":2,"l":0.5,"c":1.5,"v":10}]},"next_page_token":"p2"}`))
			return
		}
		w.Write([]byte(`{"bars":{"SPY":[{"t":"2024-03-04T14:31:00Z","o":1.5,"h":2,"l":1,"c":1.8,"v":12}]},"next_page_token":null}`))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeAlpaca) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(Config{
		TradingURL:   srv.URL,
		DataURL:      srv.URL,
		KeyID:        "key",
		SecretKey:    "secret",
		FillTimeout:  200 * time.Millisecond,
		PollInterval: 5 * time.Millisecond,
	}, zerolog.Nop())
}

func TestAccount(t *testing.T) {
	c := newTestClient(t, &fakeAlpaca{})
	acct, err := c.Account(context.Background())
	if err != nil {
		t.Fatalf("Account: %v", err)
	}
	if acct.Equity != 10250.55 || acct.BuyingPower != 20501.10 {
		t.Errorf("Unexpected account %+v", acct)
	}
}

func TestAccountUnauthorized(t *testing.T) {
	f := &fakeAlpaca{}
	srv := httptest.NewServer(f.handler(t))
	defer srv.Close()
	c := NewClient(Config{TradingURL: srv.URL, DataURL: srv.URL, KeyID: "bad"}, zerolog.Nop())

	_, err := c.Account(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("Expected 401 APIError, got %v", err)
	}
	if apiErr.Message != "request is not authorized" {
		t.Errorf("Unexpected message %q", apiErr.Message)
	}
}

func TestExecuteFilled(t *testing.T) {
	f := &fakeAlpaca{states: []string{"new", "partially_filled", StatusFilled}, filledQty: "100", avgPrice: "512.35"}
	c := newTestClient(t, f)

	fill, err := c.Execute(context.Background(), broker.Order{
		ClientOrderID: "c1", Symbol: "SPY", Side: broker.SideBuy, Qty: 100, RefPrice: 512.34, Intent: "entry",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if fill.Qty != 100 || fill.AvgPrice != 512.35 || fill.OrderID != "o1" {
		t.Errorf("Unexpected fill %+v", fill)
	}
	sub := f.submitted[0]
	if sub["qty"] != "100" || sub["side"] != "buy" || sub["type"] != "market" || sub["client_order_id"] != "c1" {
		t.Errorf("Unexpected order request %+v", sub)
	}
}

func TestExecuteRejected(t *testing.T) {
	f := &fakeAlpaca{submitErr: http.StatusForbidden}
	c := newTestClient(t, f)

	_, err := c.Execute(context.Background(), broker.Order{Symbol: "SPY", Side: broker.SideSell, Qty: 1.5})
	if !errors.Is(err, broker.ErrOrderRejected) {
		t.Errorf("Expected ErrOrderRejected, got %v", err)
	}
	if f.submitted[0]["qty"] != "1.5" {
		t.Errorf("Fractional qty should be sent as a decimal string, got %q", f.submitted[0]["qty"])
	}
}

func TestExecuteTimeoutCancelsAndReturnsPartial(t *testing.T) {
	f := &fakeAlpaca{states: []string{"partially_filled"}, filledQty: "40", avgPrice: "512.30"}
	c := newTestClient(t, f)

	fill, err := c.Execute(context.Background(), broker.Order{Symbol: "SPY", Side: broker.SideBuy, Qty: 100})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !f.cancelled {
		t.Error("Timed-out order should be cancelled")
	}
	if fill.Qty != 40 {
		t.Errorf("Expected partial fill of 40, got %v", fill.Qty)
	}
}

func TestExecuteTimeoutNothingFilled(t *testing.T) {
	f := &fakeAlpaca{states: []string{"new"}, filledQty: "0"}
	c := newTestClient(t, f)

	_, err := c.Execute(context.Background(), broker.Order{Symbol: "SPY", Side: broker.SideBuy, Qty: 100})
	if !errors.Is(err, broker.ErrOrderTimeout) {
		t.Errorf("Expected ErrOrderTimeout, got %v", err)
	}
}

func TestExecuteCancelledWhilePolling(t *testing.T) {
	tests := []struct {
		name      string
		filledQty string
		wantQty   float64
	}{
		{name: "partial fill is returned", filledQty: "40", wantQty: 40},
		{name: "nothing filled", filledQty: "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeAlpaca{states: []string{"partially_filled"}, filledQty: tt.filledQty, avgPrice: "512.30"}
			c := newTestClient(t, f)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			time.AfterFunc(30*time.Millisecond, cancel)

			fill, err := c.Execute(ctx, broker.Order{Symbol: "SPY", Side: broker.SideSell, Qty: 100, RefPrice: 512.3})
			f.mu.Lock()
			cancelled := f.cancelled
			f.mu.Unlock()
			if !cancelled {
				t.Error("Working order should be cancelled when the caller gives up")
			}
			if tt.wantQty == 0 {
				if !errors.Is(err, context.Canceled) {
					t.Errorf("Expected context.Canceled, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if fill.Qty != tt.wantQty || fill.AvgPrice != 512.30 {
				t.Errorf("Expected %v filled at 512.30, got %+v", tt.wantQty, fill)
			}
		})
	}
}

func TestQuoteAndLatestBar(t *testing.T) {
	c := newTestClient(t, &fakeAlpaca{})
	ctx := context.Background()

	q, err := c.Quote(ctx, "SPY")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Ask != 512.34 || q.Bid != 512.30 || q.Last != 512.32 {
		t.Errorf("Unexpected quote %+v", q)
	}

	bar, err := c.LatestBar(ctx, "SPY")
	if err != nil {
		t.Fatalf("LatestBar: %v", err)
	}
	if bar.Close != 512.3 || bar.VWAP == nil || *bar.TradeCount != 120 {
		t.Errorf("Unexpected bar %+v", bar)
	}
}

func TestBarsPaging(t *testing.T) {
	c := newTestClient(t, &fakeAlpaca{})
	start := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

	bars, err := c.Bars(context.Background(), "SPY", "1Min", start, start.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("Bars: %v", err)
	}
	if len(bars) != 2 || bars[1].Close != 1.8 {
		t.Errorf("Expected 2 bars across pages, got %+v", bars)
	}
}
