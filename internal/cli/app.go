package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ferdinandre/tradingdemo/config"
	"github.com/ferdinandre/tradingdemo/internal/broker"
	"github.com/ferdinandre/tradingdemo/internal/broker/alpaca"
	"github.com/ferdinandre/tradingdemo/internal/database"
	"github.com/ferdinandre/tradingdemo/internal/events"
	"github.com/ferdinandre/tradingdemo/internal/logging"
	"github.com/ferdinandre/tradingdemo/internal/marketdata"
	"github.com/ferdinandre/tradingdemo/internal/position"
	"github.com/ferdinandre/tradingdemo/internal/risk"
	"github.com/ferdinandre/tradingdemo/internal/tradelog"
	"github.com/ferdinandre/tradingdemo/internal/vault"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// app holds what every command shares: configuration, the root logger and
// the resources opened on demand, closed in reverse order
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	closers []func()
}

func newApp(configPath, logLevel string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LoggingConfig.Level = logLevel
	}

	logger, closer, err := logging.New(cfg.LoggingConfig)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	a.onClose(func() { closer.Close() })
	return a, nil
}

func (a *app) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// openDB connects to Postgres and migrates. Returns nil when the database is disabled.
func (a *app) openDB(ctx context.Context) (*database.DB, error) {
	dc := a.cfg.DatabaseConfig
	if !dc.Enabled {
		return nil, nil
	}
	db, err := database.NewDB(ctx, database.Config{
		Host:     dc.Host,
		Port:     dc.Port,
		User:     dc.User,
		Password: dc.Password,
		Database: dc.Name,
		SSLMode:  dc.SSLMode,
		MaxConns: int32(dc.MaxConns),
	}, a.logger)
	if err != nil {
		return nil, err
	}
	a.onClose(db.Close)

	if err := db.RunMigrations(ctx); err != nil {
		return nil, err
	}
	return db, nil
}

// openRedis returns a client, or nil when Redis is disabled
func (a *app) openRedis() *redis.Client {
	rc := a.cfg.RedisConfig
	if !rc.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:         rc.Address,
		Password:     rc.Password,
		DB:           rc.DB,
		PoolSize:     rc.PoolSize,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})
	a.onClose(func() { client.Close() })
	return client
}

// credentials resolves broker keys from Vault, falling back to the config
func (a *app) credentials(ctx context.Context) (vault.Credentials, error) {
	bc := a.cfg.BrokerConfig
	fallback := vault.Credentials{KeyID: bc.KeyID, SecretKey: bc.SecretKey, Broker: bc.Name, Paper: bc.Paper}

	vc, err := vault.NewClient(a.cfg.VaultConfig, a.logger)
	if err != nil {
		return vault.Credentials{}, err
	}
	if vc.IsEnabled() {
		if err := vc.Health(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("Vault unhealthy, using configured keys")
			return fallback, nil
		}
	}
	return vc.Resolve(ctx, bc.Name, bc.Paper, fallback)
}

// alpacaClient builds the broker client, requiring keys
func (a *app) alpacaClient(ctx context.Context) (*alpaca.Client, vault.Credentials, error) {
	creds, err := a.credentials(ctx)
	if err != nil {
		return nil, creds, err
	}
	if !creds.Complete() {
		return nil, creds, fmt.Errorf("%s API keys are not configured", a.cfg.BrokerConfig.Name)
	}
	bc := a.cfg.BrokerConfig
	client := alpaca.NewClient(alpaca.Config{
		TradingURL:   bc.TradingURL,
		DataURL:      bc.DataURL,
		KeyID:        creds.KeyID,
		SecretKey:    creds.SecretKey,
		Feed:         bc.Feed,
		Timeout:      bc.Timeout(),
		FillTimeout:  bc.FillTimeout(),
		PollInterval: bc.FillPollInterval(),
	}, a.logger)
	return client, creds, nil
}

// newManager builds the position manager for mode over executor
func (a *app) newManager(mode string, executor broker.Executor, bus *events.EventBus) *position.Manager {
	exec := a.cfg.ExecutionConfig
	return position.NewManager(exec.PositionConfig(), risk.NewSizer(exec.SizingConfig(mode)), executor, bus, a.logger)
}

// barSource picks the live bar feed
func (a *app) barSource(ctx context.Context, client *alpaca.Client, creds vault.Credentials) (broker.BarSource, error) {
	lc := a.cfg.LiveConfig
	symbol := a.cfg.SessionConfig.Symbol
	if lc.BarSource != config.BarSourceStream {
		return marketdata.NewPollingSource(client, symbol, lc.PollInterval(), lc.MaxPollFailures, a.logger), nil
	}

	url := a.cfg.BrokerConfig.StreamURL
	if url == "" {
		url = alpaca.DefaultStreamURL
	}
	stream := marketdata.NewStreamSource(marketdata.StreamConfig{
		URL:       url,
		KeyID:     creds.KeyID,
		SecretKey: creds.SecretKey,
		Symbol:    symbol,
	}, a.logger)
	if err := stream.Connect(ctx); err != nil {
		return nil, err
	}
	a.onClose(func() { stream.Close() })
	return stream, nil
}

// tradeSinks returns the memory log plus every configured durable sink
func (a *app) tradeSinks(db *database.DB, source string, csvPath string) (*tradelog.MemorySink, tradelog.MultiSink, *database.Repository, error) {
	memory := tradelog.NewMemorySink()
	sinks := tradelog.MultiSink{memory, tradelog.NewLogSink(a.logger)}

	var repo *database.Repository
	if db != nil {
		repo = database.NewRepository(db, source)
		sinks = append(sinks, repo)
	}

	if csvPath != "" {
		f, err := os.Create(csvPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to create trades file: %w", err)
		}
		a.onClose(func() { f.Close() })
		sinks = append(sinks, tradelog.NewCSVSink(f))
	}
	return memory, sinks, repo, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
