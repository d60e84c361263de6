// Package cli wires configuration, brokers and storage into the trader's commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ferdinandre/tradingdemo/config"
	"github.com/ferdinandre/tradingdemo/internal/api"
	"github.com/ferdinandre/tradingdemo/internal/backtest"
	"github.com/ferdinandre/tradingdemo/internal/broker"
	"github.com/ferdinandre/tradingdemo/internal/circuit"
	"github.com/ferdinandre/tradingdemo/internal/database"
	"github.com/ferdinandre/tradingdemo/internal/events"
	"github.com/ferdinandre/tradingdemo/internal/live"
	"github.com/ferdinandre/tradingdemo/internal/marketdata"
	"github.com/ferdinandre/tradingdemo/internal/metrics"
	"github.com/ferdinandre/tradingdemo/internal/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
		a          *app
	)

	rootCmd := &cobra.Command{
		Use:           "fvg-trader",
		Short:         "Fair value gap stack trader",
		Long:          "Detects stacked fair value gaps on one-minute bars and trades continuations with scaled exits, in backtest or live.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Annotations["config"] == "none" {
				return nil
			}
			var err error
			a, err = newApp(configPath, logLevel)
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				a.Close()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (default config.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level")

	getApp := func() *app { return a }
	rootCmd.AddCommand(newBacktestCmd(getApp))
	rootCmd.AddCommand(newLiveCmd(getApp))
	rootCmd.AddCommand(newFlattenCmd(getApp))
	rootCmd.AddCommand(newFetchCmd(getApp))
	rootCmd.AddCommand(newMigrateCmd(getApp))
	rootCmd.AddCommand(newConfigCmd())

	return rootCmd
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// newBacktestCmd creates the backtest command
func newBacktestCmd(getApp func() *app) *cobra.Command {
	var (
		dataFile  string
		symbol    string
		tradesCSV string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay historical one-minute bars from a CSV file",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			if dataFile != "" {
				a.cfg.BacktestConfig.DataFile = dataFile
			}
			if symbol != "" {
				a.cfg.SessionConfig.Symbol = strings.ToUpper(symbol)
			}
			if tradesCSV != "" {
				a.cfg.BacktestConfig.TradesCSV = tradesCSV
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runBacktest(ctx, a, asJSON)
		},
	}

	cmd.Flags().StringVar(&dataFile, "data", "", "Bar CSV file (overrides backtest.data_file)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "Symbol (overrides session.symbol)")
	cmd.Flags().StringVar(&tradesCSV, "trades", "", "Write the trade log as CSV to this file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}

func runBacktest(ctx context.Context, a *app, asJSON bool) error {
	cfg := a.cfg
	if cfg.BacktestConfig.DataFile == "" {
		return errors.New("no data file: set backtest.data_file or pass --data")
	}
	symbol := cfg.SessionConfig.Symbol

	bars, err := marketdata.LoadCSV(cfg.BacktestConfig.DataFile, symbol)
	if err != nil {
		return err
	}
	cal, err := cfg.SessionConfig.Calendar()
	if err != nil {
		return err
	}

	db, err := a.openDB(ctx)
	if err != nil {
		return err
	}
	_, sinks, _, err := a.tradeSinks(db, database.SourceBacktest, cfg.BacktestConfig.TradesCSV)
	if err != nil {
		return err
	}

	manager := a.newManager(config.ModeBacktest, broker.NewPaperExecutor(), nil)
	engine := backtest.NewBacktestEngine(backtest.Config{
		InitialEquity:  cfg.BacktestConfig.InitialEquity,
		MonthlyDeposit: cfg.BacktestConfig.MonthlyDeposit,
		MinSessionBars: cfg.BacktestConfig.MinSessionBars,
	}, cfg.ExecutionConfig.EntryConfig(symbol), cal, manager, sinks, nil, a.logger)

	start := time.Now()
	result, err := engine.RunBacktest(ctx, bars)
	if err != nil && result == nil {
		return err
	}

	if asJSON {
		if jerr := writeJSON(os.Stdout, result); jerr != nil {
			return jerr
		}
		return err
	}
	printSummary(result, time.Since(start))
	return err
}

func printSummary(r *backtest.BacktestResult, elapsed time.Duration) {
	wins := 0
	for _, t := range r.Trades {
		if t.PnL > 0 {
			wins++
		}
	}
	winRate := 0.0
	if len(r.Trades) > 0 {
		winRate = float64(wins) / float64(len(r.Trades)) * 100
	}

	fmt.Printf("Symbol:            %s\n", r.Symbol)
	fmt.Printf("Sessions:          %d (%d skipped)\n", r.Sessions, r.SkippedSessions)
	fmt.Printf("Trades:            %d (%.1f%% winners)\n", len(r.Trades), winRate)
	fmt.Printf("Start equity:      %.2f\n", r.StartEquity)
	fmt.Printf("Deposits:          %.2f\n", r.Deposits)
	fmt.Printf("End equity:        %.2f\n", r.EndEquity)
	fmt.Printf("Net P&L:           %.2f\n", r.EndEquity-r.StartEquity-r.Deposits)
	for _, se := range r.SessionErrors {
		fmt.Printf("Session %s abandoned: %s\n", se.Session, se.Error)
	}
	fmt.Printf("Elapsed:           %s\n", elapsed.Round(time.Millisecond))
}

// newLiveCmd creates the live command
func newLiveCmd(getApp func() *app) *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "live",
		Short: "Trade the configured symbol on live bars until interrupted",
		Long: `Trade the configured symbol on live one-minute bars. Stopping the process
leaves any open position in place; use the flatten command to close it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			if cmd.Flags().Changed("dry-run") {
				a.cfg.LiveConfig.DryRun = dryRun
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runLive(ctx, a)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Fill orders on a paper account instead of the broker")
	return cmd
}

// liveStack is everything a live runner needs, built once per command
type liveStack struct {
	runner   *live.Runner
	bus      *events.EventBus
	registry *prometheus.Registry
	memory   api.TradeLister
	repo     *database.Repository
}

func buildLive(ctx context.Context, a *app, withSource bool) (*liveStack, error) {
	cfg := a.cfg
	symbol := cfg.SessionConfig.Symbol

	client, creds, err := a.alpacaClient(ctx)
	if err != nil {
		return nil, err
	}
	cal, err := cfg.SessionConfig.Calendar()
	if err != nil {
		return nil, err
	}

	bus := events.NewEventBus()
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(registry)
	if err != nil {
		return nil, err
	}
	m.Subscribe(bus)

	db, err := a.openDB(ctx)
	if err != nil {
		return nil, err
	}
	memory, sinks, repo, err := a.tradeSinks(db, database.SourceLive, "")
	if err != nil {
		return nil, err
	}
	store := database.NewSessionStateStore(ctx, a.openRedis(), a.logger)

	var (
		executor broker.Executor        = client
		accounts broker.AccountProvider = client
		mode                            = config.ModeLive
	)
	if cfg.LiveConfig.DryRun {
		executor = broker.NewPaperExecutor()
		accounts = broker.NewStaticAccount(cfg.LiveConfig.PaperEquity, 0)
		mode = "dry_run"
		a.logger.Warn().Float64("equity", cfg.LiveConfig.PaperEquity).Msg("Dry run, orders fill on a paper account")
	}

	manager := a.newManager(config.ModeLive, executor, bus)
	engine := session.NewEngine(cfg.ExecutionConfig.EntryConfig(symbol), cal, manager, bus, a.logger)

	deps := live.Deps{
		Accounts: accounts,
		Quotes:   client,
		Store:    store,
		Sink:     sinks,
		Bus:      bus,
		Guard:    circuit.NewBreaker(cfg.LiveConfig.CircuitBreaker, a.logger),
	}
	if withSource {
		deps.Source, err = a.barSource(ctx, client, creds)
		if err != nil {
			return nil, err
		}
	}

	runner := live.NewRunner(live.Config{
		Symbol:      symbol,
		ResumeState: cfg.LiveConfig.ResumeState,
		Mode:        mode,
		CloseGrace:  cfg.LiveConfig.CloseGrace(),
	}, cal, engine, deps, a.logger)

	return &liveStack{runner: runner, bus: bus, registry: registry, memory: memory, repo: repo}, nil
}

func runLive(ctx context.Context, a *app) error {
	stack, err := buildLive(ctx, a, true)
	if err != nil {
		return err
	}

	var server *api.Server
	if sc := a.cfg.ServerConfig; sc.Enabled {
		deps := api.Deps{
			Status:   stack.runner,
			Trades:   stack.memory,
			Gatherer: stack.registry,
			EventBus: stack.bus,
		}
		if stack.repo != nil {
			deps.Trades = stack.repo
			deps.Health = stack.repo
		}
		server = api.NewServer(api.ServerConfig{
			Host:           sc.Host,
			Port:           sc.Port,
			ProductionMode: sc.ProductionMode,
			AllowOrigins:   sc.AllowedOrigins,
		}, deps, a.logger)

		go func() {
			if err := server.Start(ctx); err != nil {
				a.logger.Error().Err(err).Msg("HTTP server stopped")
			}
		}()
	}

	runErr := stack.runner.Run(ctx)

	if server != nil {
		timeout := time.Duration(a.cfg.ServerConfig.ShutdownTimeout) * time.Second
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		}
	}

	if errors.Is(runErr, live.ErrSessionCancelled) {
		status := stack.runner.Status()
		ev := a.logger.Info().Int("trades", status.Trades).Float64("realized_pnl", status.RealizedPnL)
		if status.Position != nil {
			ev = ev.Float64("open_qty", status.Position.RemainingQty)
		}
		ev.Msg("Live session stopped")
		return nil
	}
	return runErr
}

// newFlattenCmd creates the flatten command
func newFlattenCmd(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "flatten",
		Short: "Close the stored live position at the current quote",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			a.cfg.LiveConfig.ResumeState = true

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			stack, err := buildLive(ctx, a, false)
			if err != nil {
				return err
			}
			if !stack.runner.Resume(ctx) {
				fmt.Println("No stored session state, nothing to flatten")
				return nil
			}
			rec, err := stack.runner.Flatten(ctx)
			if rec != nil {
				fmt.Printf("Flattened %s %s %.4f @ %.4f, P&L %.2f\n", rec.Symbol, rec.Direction, rec.Quantity, rec.ExitPrice, rec.PnL)
			}
			return err
		},
	}
}

// newFetchCmd creates the fetch command
func newFetchCmd(getApp func() *app) *cobra.Command {
	var (
		symbol    string
		start     string
		end       string
		out       string
		timeframe string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Download historical bars from the broker into a CSV file",
		Long: `Download historical bars into the CSV layout the backtest reads.
Example: fvg-trader fetch --symbol SPY --start 2024-01-02 --end 2024-02-01 --out spy.csv`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			if symbol == "" {
				symbol = a.cfg.SessionConfig.Symbol
			}
			symbol = strings.ToUpper(symbol)

			from, err := time.Parse("2006-01-02", start)
			if err != nil {
				return fmt.Errorf("invalid start date, use YYYY-MM-DD: %w", err)
			}
			to := time.Now().UTC()
			if end != "" {
				if to, err = time.Parse("2006-01-02", end); err != nil {
					return fmt.Errorf("invalid end date, use YYYY-MM-DD: %w", err)
				}
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			client, _, err := a.alpacaClient(ctx)
			if err != nil {
				return err
			}
			bars, err := client.Bars(ctx, symbol, timeframe, from, to)
			if err != nil {
				return err
			}

			w := os.Stdout
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}
			if err := marketdata.WriteCSV(w, bars); err != nil {
				return err
			}
			a.logger.Info().Str("symbol", symbol).Int("bars", len(bars)).Str("out", out).Msg("Bars written")
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "Symbol (default session.symbol)")
	cmd.Flags().StringVar(&start, "start", "", "First day, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "End day, exclusive, YYYY-MM-DD (default now)")
	cmd.Flags().StringVar(&out, "out", "", "Output file (default stdout)")
	cmd.Flags().StringVar(&timeframe, "timeframe", "1Min", "Bar timeframe")
	cmd.MarkFlagRequired("start")
	return cmd
}

// newMigrateCmd creates the migrate command
func newMigrateCmd(getApp func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the trade log tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			a := getApp()
			a.cfg.DatabaseConfig.Enabled = true
			_, err := a.openDB(cmd.Context())
			return err
		},
	}
}

// newConfigCmd creates the config command
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:         "config",
		Short:       "Configuration management",
		Annotations: map[string]string{"config": "none"},
	}

	configCmd.AddCommand(&cobra.Command{
		Use:         "sample [FILE]",
		Short:       "Write a configuration file holding every default",
		Args:        cobra.MaximumNArgs(1),
		Annotations: map[string]string{"config": "none"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.DefaultConfigFile
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.GenerateSampleConfig(path); err != nil {
				return err
			}
			fmt.Printf("Sample configuration written to %s\n", path)
			return nil
		},
	})

	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Configuration is valid")
			return nil
		},
	})

	return configCmd
}
