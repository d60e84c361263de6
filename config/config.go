package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ferdinandre/tradingdemo/internal/analysis"
	"github.com/ferdinandre/tradingdemo/internal/circuit"
	"github.com/ferdinandre/tradingdemo/internal/market"
	"github.com/ferdinandre/tradingdemo/internal/position"
	"github.com/ferdinandre/tradingdemo/internal/risk"
	"github.com/ferdinandre/tradingdemo/internal/session"

	"github.com/joho/godotenv"
)

// DefaultConfigFile is read when Load is given no path
const DefaultConfigFile = "config.json"

// Run modes, used to pick per-mode defaults
const (
	ModeBacktest = "backtest"
	ModeLive     = "live"
)

// Bar source kinds for the live driver
const (
	BarSourcePoll   = "poll"
	BarSourceStream = "stream"
)

type Config struct {
	ExecutionConfig ExecutionConfig `json:"execution"`
	SessionConfig   SessionConfig   `json:"session"`
	BacktestConfig  BacktestConfig  `json:"backtest"`
	LiveConfig      LiveConfig      `json:"live"`
	BrokerConfig    BrokerConfig    `json:"broker"`
	LoggingConfig   LoggingConfig   `json:"logging"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	RedisConfig     RedisConfig     `json:"redis"`
	ServerConfig    ServerConfig    `json:"server"`
	VaultConfig     VaultConfig     `json:"vault"`
}

// ExecutionConfig holds the entry, sizing and exit parameters. Immutable per run.
type ExecutionConfig struct {
	RiskFraction        float64 `json:"risk_fraction"`
	NotionalCapMultiple float64 `json:"notional_cap_multiple"`
	SafetyBuffer        float64 `json:"safety_buffer"` // share of buying power usable per order
	AllowFractional     bool    `json:"allow_fractional"`
	Alpha               float64 `json:"alpha"`
	RMax                float64 `json:"r_max"`
	Beta                float64 `json:"beta"`
	RStop               float64 `json:"r_stop"`
	EnableLossLadder    bool    `json:"enable_loss_ladder"`
	TakeProfitR         float64 `json:"tp_r"`
	Slippage            float64 `json:"slippage"`      // price units per fill
	SizingPolicy        string  `json:"sizing_policy"` // skip | min_one, empty for the mode default
	PushPolicy          string  `json:"push_policy"`   // boundary | width
	MinAnchorWidth      float64 `json:"min_anchor_width"`
	MinGap              float64 `json:"min_gap"`
	TradeOnFirst        bool    `json:"trade_on_first"`
	AllowShorts         bool    `json:"allow_shorts"`
	LotStep             float64 `json:"lot_step"`
}

// SessionConfig holds the traded symbol and the regular-hours calendar
type SessionConfig struct {
	Symbol   string `json:"symbol"`
	Timezone string `json:"timezone"`
	Open     string `json:"open"`  // HH:MM
	Close    string `json:"close"` // HH:MM, time of the final bar
}

// BacktestConfig holds the historical driver settings
type BacktestConfig struct {
	DataFile       string  `json:"data_file"`
	InitialEquity  float64 `json:"initial_equity"`
	MonthlyDeposit float64 `json:"monthly_deposit"`
	MinSessionBars int     `json:"min_session_bars"`
	TradesCSV      string  `json:"trades_csv"` // optional per-trade CSV output
}

// LiveConfig holds the streaming driver settings
type LiveConfig struct {
	BarSource       string         `json:"bar_source"` // poll | stream
	PollIntervalSec int            `json:"poll_interval_sec"`
	MaxPollFailures int            `json:"max_poll_failures"`
	CloseGraceSec   int            `json:"close_grace_sec"` // wait past the final bar's minute before closing out on the clock
	ResumeState     bool           `json:"resume_state"` // restore stack and position from Redis on start
	DryRun          bool           `json:"dry_run"`      // paper executor instead of broker orders
	PaperEquity     float64        `json:"paper_equity"`
	CircuitBreaker  circuit.Config `json:"circuit_breaker"`
}

// BrokerConfig holds the Alpaca endpoints and keys
type BrokerConfig struct {
	Name           string `json:"name"`
	Paper          bool   `json:"paper"`
	TradingURL     string `json:"trading_url"`
	DataURL        string `json:"data_url"`
	StreamURL      string `json:"stream_url"`
	Feed           string `json:"feed"`
	KeyID          string `json:"key_id"`
	SecretKey      string `json:"secret_key"`
	TimeoutSec     int    `json:"timeout_sec"`
	FillTimeoutSec int    `json:"fill_timeout_sec"`
	FillPollMillis int    `json:"fill_poll_millis"`
}

// LoggingConfig holds root logger settings
type LoggingConfig struct {
	Level       string `json:"level"`
	Output      string `json:"output"` // stdout, stderr or a file path
	Component   string `json:"component"`
	IncludeFile bool   `json:"include_file"`
	JSONFormat  bool   `json:"json_format"`
}

// DatabaseConfig holds PostgreSQL settings for the trade log
type DatabaseConfig struct {
	Enabled  bool   `json:"enabled"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Name     string `json:"name"`
	SSLMode  string `json:"ssl_mode"`
	MaxConns int    `json:"max_conns"`
}

// RedisConfig holds Redis configuration for live session state
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// ServerConfig holds the ops HTTP server settings
type ServerConfig struct {
	Enabled         bool     `json:"enabled"`
	Host            string   `json:"host"`
	Port            int      `json:"port"`
	ProductionMode  bool     `json:"production_mode"`
	AllowedOrigins  []string `json:"allowed_origins"`
	ShutdownTimeout int      `json:"shutdown_timeout"` // seconds
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV v2 mount
	SecretPath string `json:"secret_path"` // prefix for broker keys
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// Load starts from Default, then reads path (or config.json when empty), then .env,
// then the environment, and validates. A missing default file is not an error.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile
	}

	cfg := Default()
	if err := loadFromFile(path, cfg); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing overrides it
func Default() *Config {
	cfg := &Config{}
	cfg.ExecutionConfig.Slippage = position.DefaultConfig().Slippage
	cfg.ExecutionConfig.EnableLossLadder = true
	cfg.BrokerConfig.Paper = true
	cfg.LoggingConfig.JSONFormat = true
	cfg.LiveConfig.CircuitBreaker = circuit.DefaultConfig()
	applyDefaults(cfg)
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	e := &cfg.ExecutionConfig
	e.RiskFraction = getEnvFloatOrDefault("RISK_FRACTION", e.RiskFraction)
	e.NotionalCapMultiple = getEnvFloatOrDefault("NOTIONAL_CAP_MULTIPLE", e.NotionalCapMultiple)
	e.Alpha = getEnvFloatOrDefault("CURVE_ALPHA", e.Alpha)
	e.RMax = getEnvFloatOrDefault("CURVE_R_MAX", e.RMax)
	e.Beta = getEnvFloatOrDefault("CURVE_BETA", e.Beta)
	e.RStop = getEnvFloatOrDefault("CURVE_R_STOP", e.RStop)
	e.EnableLossLadder = getEnvBoolOrDefault("ENABLE_LOSS_LADDER", e.EnableLossLadder)
	e.TakeProfitR = getEnvFloatOrDefault("TP_R", e.TakeProfitR)
	e.Slippage = getEnvFloatOrDefault("SLIPPAGE", e.Slippage)
	e.SizingPolicy = getEnvOrDefault("SIZING_POLICY", e.SizingPolicy)
	e.PushPolicy = getEnvOrDefault("PUSH_POLICY", e.PushPolicy)
	e.MinGap = getEnvFloatOrDefault("MIN_GAP", e.MinGap)
	e.TradeOnFirst = getEnvBoolOrDefault("TRADE_ON_FIRST", e.TradeOnFirst)
	e.AllowShorts = getEnvBoolOrDefault("SHORT_ENABLED", e.AllowShorts)

	cfg.SessionConfig.Symbol = strings.ToUpper(getEnvOrDefault("SYMBOL", cfg.SessionConfig.Symbol))
	cfg.SessionConfig.Timezone = getEnvOrDefault("SESSION_TZ", cfg.SessionConfig.Timezone)

	cfg.BacktestConfig.DataFile = getEnvOrDefault("BACKTEST_DATA_FILE", cfg.BacktestConfig.DataFile)
	cfg.BacktestConfig.InitialEquity = getEnvFloatOrDefault("BACKTEST_INITIAL_EQUITY", cfg.BacktestConfig.InitialEquity)
	cfg.BacktestConfig.MonthlyDeposit = getEnvFloatOrDefault("BACKTEST_MONTHLY_DEPOSIT", cfg.BacktestConfig.MonthlyDeposit)

	cfg.LiveConfig.BarSource = getEnvOrDefault("LIVE_BAR_SOURCE", cfg.LiveConfig.BarSource)
	cfg.LiveConfig.PollIntervalSec = getEnvIntOrDefault("LIVE_POLL_INTERVAL_SEC", cfg.LiveConfig.PollIntervalSec)
	cfg.LiveConfig.CloseGraceSec = getEnvIntOrDefault("LIVE_CLOSE_GRACE_SEC", cfg.LiveConfig.CloseGraceSec)
	cfg.LiveConfig.ResumeState = getEnvBoolOrDefault("LIVE_RESUME_STATE", cfg.LiveConfig.ResumeState)
	cfg.LiveConfig.DryRun = getEnvBoolOrDefault("TRADING_DRY_RUN", cfg.LiveConfig.DryRun)
	cfg.LiveConfig.CircuitBreaker.Enabled = getEnvBoolOrDefault("CIRCUIT_BREAKER_ENABLED", cfg.LiveConfig.CircuitBreaker.Enabled)

	// Alpaca's own variable names
	cfg.BrokerConfig.KeyID = getEnvOrDefault("APCA_API_KEY_ID", cfg.BrokerConfig.KeyID)
	cfg.BrokerConfig.SecretKey = getEnvOrDefault("APCA_API_SECRET_KEY", cfg.BrokerConfig.SecretKey)
	cfg.BrokerConfig.TradingURL = getEnvOrDefault("APCA_API_BASE_URL", cfg.BrokerConfig.TradingURL)
	cfg.BrokerConfig.DataURL = getEnvOrDefault("APCA_API_DATA_URL", cfg.BrokerConfig.DataURL)
	cfg.BrokerConfig.Feed = getEnvOrDefault("APCA_DATA_FEED", cfg.BrokerConfig.Feed)
	cfg.BrokerConfig.Paper = getEnvBoolOrDefault("ALPACA_PAPER", cfg.BrokerConfig.Paper)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", cfg.LoggingConfig.Level)
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", cfg.LoggingConfig.Output)
	cfg.LoggingConfig.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.LoggingConfig.JSONFormat)
	cfg.LoggingConfig.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.LoggingConfig.IncludeFile)

	cfg.DatabaseConfig.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.DatabaseConfig.Enabled)
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", cfg.DatabaseConfig.Host)
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", cfg.DatabaseConfig.Port)
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Name = getEnvOrDefault("DB_NAME", cfg.DatabaseConfig.Name)
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.DatabaseConfig.SSLMode)

	cfg.RedisConfig.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.RedisConfig.Enabled)
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDR", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.ServerConfig.Enabled = getEnvBoolOrDefault("WEB_ENABLED", cfg.ServerConfig.Enabled)
	cfg.ServerConfig.Port = getEnvIntOrDefault("WEB_PORT", cfg.ServerConfig.Port)
	cfg.ServerConfig.Host = getEnvOrDefault("WEB_HOST", cfg.ServerConfig.Host)
	if origins := getEnvOrDefault("SERVER_ALLOWED_ORIGINS", ""); origins != "" {
		cfg.ServerConfig.AllowedOrigins = strings.Split(origins, ",")
	}

	cfg.VaultConfig.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.VaultConfig.Enabled)
	cfg.VaultConfig.Address = getEnvOrDefault("VAULT_ADDR", cfg.VaultConfig.Address)
	cfg.VaultConfig.Token = getEnvOrDefault("VAULT_TOKEN", cfg.VaultConfig.Token)
	cfg.VaultConfig.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.VaultConfig.MountPath)
	cfg.VaultConfig.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.VaultConfig.SecretPath)
	cfg.VaultConfig.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.VaultConfig.TLSEnabled)
	cfg.VaultConfig.CACert = getEnvOrDefault("VAULT_CACERT", cfg.VaultConfig.CACert)
}

// applyDefaults fills zero values
func applyDefaults(cfg *Config) {
	curves := risk.DefaultCurveConfig()
	sizing := risk.DefaultSizingConfig()
	exits := position.DefaultConfig()

	e := &cfg.ExecutionConfig
	setFloat(&e.RiskFraction, sizing.RiskFraction)
	setFloat(&e.NotionalCapMultiple, sizing.NotionalCapMultiple)
	setFloat(&e.SafetyBuffer, sizing.SafetyBuffer)
	setFloat(&e.Alpha, curves.Alpha)
	setFloat(&e.RMax, curves.RMax)
	setFloat(&e.Beta, curves.Beta)
	setFloat(&e.RStop, curves.RStop)
	setFloat(&e.TakeProfitR, exits.TakeProfitR)
	setFloat(&e.LotStep, exits.LotStep)
	setString(&e.PushPolicy, string(analysis.PushPolicyBoundary))

	setString(&cfg.SessionConfig.Symbol, "SPY")
	setString(&cfg.SessionConfig.Timezone, "America/New_York")
	setString(&cfg.SessionConfig.Open, "09:30")
	setString(&cfg.SessionConfig.Close, "15:59")

	setFloat(&cfg.BacktestConfig.InitialEquity, 10000)
	setInt(&cfg.BacktestConfig.MinSessionBars, 10)

	setString(&cfg.LiveConfig.BarSource, BarSourcePoll)
	setInt(&cfg.LiveConfig.PollIntervalSec, 5)
	setInt(&cfg.LiveConfig.MaxPollFailures, 10)
	setInt(&cfg.LiveConfig.CloseGraceSec, 30)
	setFloat(&cfg.LiveConfig.PaperEquity, 100000)

	setString(&cfg.BrokerConfig.Name, "alpaca")
	setString(&cfg.BrokerConfig.Feed, "iex")
	setInt(&cfg.BrokerConfig.TimeoutSec, 10)
	setInt(&cfg.BrokerConfig.FillTimeoutSec, 30)
	setInt(&cfg.BrokerConfig.FillPollMillis, 500)

	setString(&cfg.LoggingConfig.Level, "INFO")
	setString(&cfg.LoggingConfig.Output, "stdout")
	setString(&cfg.LoggingConfig.Component, "fvg-trader")

	setString(&cfg.DatabaseConfig.Host, "localhost")
	setInt(&cfg.DatabaseConfig.Port, 5432)
	setString(&cfg.DatabaseConfig.User, "fvg")
	setString(&cfg.DatabaseConfig.Name, "fvg_trading")
	setString(&cfg.DatabaseConfig.SSLMode, "disable")
	setInt(&cfg.DatabaseConfig.MaxConns, 5)

	setString(&cfg.RedisConfig.Address, "localhost:6379")
	setInt(&cfg.RedisConfig.PoolSize, 10)

	setString(&cfg.ServerConfig.Host, "0.0.0.0")
	setInt(&cfg.ServerConfig.Port, 8090)
	setInt(&cfg.ServerConfig.ShutdownTimeout, 10)

	setString(&cfg.VaultConfig.Address, "http://localhost:8200")
	setString(&cfg.VaultConfig.MountPath, "secret")
	setString(&cfg.VaultConfig.SecretPath, "fvg-trader/brokers")
}

// Validate aggregates every configuration error
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	e := c.ExecutionConfig
	if err := e.Curves().Validate(); err != nil {
		errs = append(errs, err)
	}
	if e.TakeProfitR <= 0 {
		add("tp_r must be positive, got %v", e.TakeProfitR)
	}
	if e.Slippage < 0 {
		add("slippage must not be negative, got %v", e.Slippage)
	}
	if e.MinGap < 0 || e.MinAnchorWidth < 0 {
		add("gap width filters must not be negative")
	}
	if e.LotStep < 0 {
		add("lot_step must not be negative, got %v", e.LotStep)
	}
	if _, err := analysis.ParsePushPolicy(e.PushPolicy); err != nil {
		errs = append(errs, err)
	}
	for _, mode := range []string{ModeBacktest, ModeLive} {
		if err := e.SizingConfig(mode).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s sizing: %w", mode, err))
		}
	}

	if c.SessionConfig.Symbol == "" {
		add("session symbol is required")
	}
	if _, err := c.SessionConfig.Calendar(); err != nil {
		errs = append(errs, err)
	}

	if c.BacktestConfig.InitialEquity <= 0 {
		add("backtest initial_equity must be positive, got %v", c.BacktestConfig.InitialEquity)
	}
	if c.BacktestConfig.MonthlyDeposit < 0 {
		add("backtest monthly_deposit must not be negative, got %v", c.BacktestConfig.MonthlyDeposit)
	}
	if c.BacktestConfig.MinSessionBars < 0 {
		add("backtest min_session_bars must not be negative, got %d", c.BacktestConfig.MinSessionBars)
	}

	switch c.LiveConfig.BarSource {
	case BarSourcePoll, BarSourceStream:
	default:
		add("unknown live bar_source %q", c.LiveConfig.BarSource)
	}
	if c.LiveConfig.CloseGraceSec < 0 {
		add("live close_grace_sec must not be negative, got %d", c.LiveConfig.CloseGraceSec)
	}
	if cb := c.LiveConfig.CircuitBreaker; cb.MaxConsecutiveLosses < 0 || cb.MaxSessionLossPct < 0 || cb.MaxSessionTrades < 0 || cb.CooldownMinutes < 0 {
		add("circuit breaker limits must not be negative")
	}

	if c.DatabaseConfig.Enabled && (c.DatabaseConfig.Host == "" || c.DatabaseConfig.Name == "") {
		add("database host and name are required when the database is enabled")
	}
	if c.RedisConfig.Enabled && c.RedisConfig.Address == "" {
		add("redis address is required when redis is enabled")
	}
	if c.ServerConfig.Enabled && (c.ServerConfig.Port <= 0 || c.ServerConfig.Port > 65535) {
		add("server port out of range: %d", c.ServerConfig.Port)
	}
	if c.VaultConfig.Enabled && c.VaultConfig.Address == "" {
		add("vault address is required when vault is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// Curves returns the ladder shapes
func (e ExecutionConfig) Curves() risk.CurveConfig {
	return risk.CurveConfig{Alpha: e.Alpha, RMax: e.RMax, Beta: e.Beta, RStop: e.RStop}
}

// SizingConfig returns sizer parameters. An empty sizing policy means min_one for
// backtests and skip for live trading.
func (e ExecutionConfig) SizingConfig(mode string) risk.SizingConfig {
	policy := risk.MinQuantityPolicy(e.SizingPolicy)
	if policy == "" {
		policy = risk.MinQuantitySkip
		if mode == ModeBacktest {
			policy = risk.MinQuantityOne
		}
	}
	return risk.SizingConfig{
		RiskFraction:        e.RiskFraction,
		NotionalCapMultiple: e.NotionalCapMultiple,
		SafetyBuffer:        e.SafetyBuffer,
		AllowFractional:     e.AllowFractional,
		MinQuantity:         policy,
	}
}

// PositionConfig returns the exit parameters
func (e ExecutionConfig) PositionConfig() position.Config {
	return position.Config{
		Curves:           e.Curves(),
		TakeProfitR:      e.TakeProfitR,
		Slippage:         e.Slippage,
		EnableLossLadder: e.EnableLossLadder,
		LotStep:          e.LotStep,
	}
}

// EntryConfig returns the entry rules for symbol
func (e ExecutionConfig) EntryConfig(symbol string) session.Config {
	return session.Config{
		Symbol:         symbol,
		PushPolicy:     analysis.PushPolicy(e.PushPolicy),
		MinAnchorWidth: e.MinAnchorWidth,
		MinGap:         e.MinGap,
		TradeOnFirst:   e.TradeOnFirst,
		AllowShorts:    e.AllowShorts,
	}
}

// Calendar builds the regular-hours calendar
func (s SessionConfig) Calendar() (market.Calendar, error) {
	return market.NewCalendar(s.Timezone, s.Open, s.Close)
}

// Timeout returns the REST timeout
func (b BrokerConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSec) * time.Second
}

// FillTimeout returns how long to wait for an order to reach a terminal state
func (b BrokerConfig) FillTimeout() time.Duration {
	return time.Duration(b.FillTimeoutSec) * time.Second
}

// FillPollInterval returns the order status polling interval
func (b BrokerConfig) FillPollInterval() time.Duration {
	return time.Duration(b.FillPollMillis) * time.Millisecond
}

// PollInterval returns the latest-bar polling interval
func (l LiveConfig) PollInterval() time.Duration {
	return time.Duration(l.PollIntervalSec) * time.Second
}

// CloseGrace returns how long past the final bar's minute the live runner waits for it
func (l LiveConfig) CloseGrace() time.Duration {
	return time.Duration(l.CloseGraceSec) * time.Second
}

// loadFromFile overlays the file onto cfg; keys absent from the file keep their value
func loadFromFile(filename string, cfg *Config) error {
	file, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}
	if err := json.Unmarshal(file, cfg); err != nil {
		return fmt.Errorf("error parsing config file %s: %w", filename, err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

// GenerateSampleConfig writes a config file with every default filled
func GenerateSampleConfig(filename string) error {
	data, err := json.MarshalIndent(Default(), "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}
