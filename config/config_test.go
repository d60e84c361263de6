package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/analysis"
	"github.com/ferdinandre/tradingdemo/internal/risk"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config should validate, got %v", err)
	}
	e := cfg.ExecutionConfig
	if e.TakeProfitR != 2.0 || e.Slippage != 0.01 || !e.EnableLossLadder || e.PushPolicy != string(analysis.PushPolicyBoundary) {
		t.Errorf("Unexpected execution defaults %+v", e)
	}
	if cfg.SessionConfig.Open != "09:30" || cfg.SessionConfig.Close != "15:59" || cfg.SessionConfig.Timezone != "America/New_York" {
		t.Errorf("Unexpected session defaults %+v", cfg.SessionConfig)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `{
		"execution": {"risk_fraction": 0.02, "slippage": 0, "enable_loss_ladder": false, "allow_shorts": true},
		"session": {"symbol": "qqq"},
		"backtest": {"monthly_deposit": 500}
	}`)
	t.Setenv("SYMBOL", "iwm")
	t.Setenv("TP_R", "3")
	t.Setenv("LOG_JSON", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	e := cfg.ExecutionConfig
	if e.RiskFraction != 0.02 || e.Slippage != 0 || e.EnableLossLadder || !e.AllowShorts {
		t.Errorf("File values not applied: %+v", e)
	}
	if e.TakeProfitR != 3 {
		t.Errorf("Env TP_R not applied, got %v", e.TakeProfitR)
	}
	if cfg.SessionConfig.Symbol != "IWM" {
		t.Errorf("Env symbol should win and be upper-cased, got %q", cfg.SessionConfig.Symbol)
	}
	if cfg.BacktestConfig.MonthlyDeposit != 500 || cfg.BacktestConfig.InitialEquity != 10000 {
		t.Errorf("Unexpected backtest config %+v", cfg.BacktestConfig)
	}
	if cfg.LoggingConfig.JSONFormat {
		t.Error("LOG_JSON=false should disable JSON logs")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Error("Explicit missing file should fail")
	}
}

func TestLoadBadJSON(t *testing.T) {
	if _, err := Load(writeConfig(t, `{"execution":`)); err == nil {
		t.Error("Expected parse error")
	}
}

func TestValidateAggregates(t *testing.T) {
	cfg := Default()
	cfg.ExecutionConfig.Alpha = 0
	cfg.ExecutionConfig.PushPolicy = "widest"
	cfg.ExecutionConfig.SizingPolicy = "round_up"
	cfg.SessionConfig.Timezone = "Mars/Olympus"
	cfg.BacktestConfig.InitialEquity = 0
	cfg.LiveConfig.BarSource = "carrier_pigeon"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Expected validation error")
	}
	msg := err.Error()
	for _, want := range []string{"profit curve", "widest", "round_up", "Mars/Olympus", "initial_equity", "carrier_pigeon"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Validation error missing %q: %s", want, msg)
		}
	}
}

func TestSizingConfigModeDefaults(t *testing.T) {
	e := Default().ExecutionConfig
	tests := []struct {
		policy string
		mode   string
		want   risk.MinQuantityPolicy
	}{
		{"", ModeBacktest, risk.MinQuantityOne},
		{"", ModeLive, risk.MinQuantitySkip},
		{"skip", ModeBacktest, risk.MinQuantitySkip},
		{"min_one", ModeLive, risk.MinQuantityOne},
	}
	for _, tt := range tests {
		e.SizingPolicy = tt.policy
		if got := e.SizingConfig(tt.mode).MinQuantity; got != tt.want {
			t.Errorf("SizingConfig(%q) with policy %q = %q, want %q", tt.mode, tt.policy, got, tt.want)
		}
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.ExecutionConfig.MinGap = 0.05
	cfg.ExecutionConfig.TradeOnFirst = true

	entry := cfg.ExecutionConfig.EntryConfig("SPY")
	if entry.Symbol != "SPY" || entry.MinGap != 0.05 || !entry.TradeOnFirst || entry.PushPolicy != analysis.PushPolicyBoundary {
		t.Errorf("Unexpected entry config %+v", entry)
	}

	pos := cfg.ExecutionConfig.PositionConfig()
	if pos.Curves != risk.DefaultCurveConfig() || pos.TakeProfitR != 2.0 || !pos.EnableLossLadder {
		t.Errorf("Unexpected position config %+v", pos)
	}

	cal, err := cfg.SessionConfig.Calendar()
	if err != nil {
		t.Fatalf("Calendar: %v", err)
	}
	if cal.Location.String() != "America/New_York" {
		t.Errorf("Unexpected calendar zone %v", cal.Location)
	}

	if got := cfg.LiveConfig.CloseGrace(); got != 30*time.Second {
		t.Errorf("Expected 30s close grace, got %v", got)
	}
}

func TestGenerateSampleConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.json")
	if err := GenerateSampleConfig(path); err != nil {
		t.Fatalf("GenerateSampleConfig: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Errorf("Sample config should load, got %v", err)
	}
}
