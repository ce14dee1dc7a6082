/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the savings engine: HTTP API plus the nightly
  accrual scheduler. Handles configuration, dependency injection, and
  graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, environment, flags)
  2. Initialize logger and metrics
  3. Open the store (memory, SQLite or PostgreSQL)
  4. Build tiers, guard, ledger, notifier and savings service
  5. Start the accrual scheduler and the HTTP server

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      Database URL or SQLite path (overrides DATABASE_URL)
           Use ":memory:" for an in-memory SQLite database
  -env     Extra .env file to load
  -accrue  Run accrual for YYYY-MM-DD (or "today") and exit

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler and cancel a running accrual
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close notifier, lock client and database
  5. Exit

EXAMPLES:
  # Run with the default SQLite file
  ./server

  # Run against PostgreSQL
  DATABASE_DRIVER=postgres DATABASE_URL=postgres://... ./server

  # Backfill one business date
  ./server -accrue=2025-01-02

ENVIRONMENT:
  See config/config.go for every key and its default.

SEE ALSO:
  - api/server.go: Router configuration
  - api/scheduler.go: Nightly accrual
  - config/config.go: Configuration keys
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/savings-engine/api"
	"github.com/warp/savings-engine/config"
	"github.com/warp/savings-engine/factory"
	"github.com/warp/savings-engine/generic"
	memstore "github.com/warp/savings-engine/generic/store"
	"github.com/warp/savings-engine/kyc"
	"github.com/warp/savings-engine/notify"
	"github.com/warp/savings-engine/observability"
	"github.com/warp/savings-engine/savings"
	"github.com/warp/savings-engine/store/postgres"
	"github.com/warp/savings-engine/store/redislock"
	"github.com/warp/savings-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.String("port", "", "HTTP server port (overrides PORT)")
	dbURL := flag.String("db", "", "Database URL or SQLite path (overrides DATABASE_URL)")
	envFile := flag.String("env", "", "Extra .env file to load")
	accrue := flag.String("accrue", "", "Run accrual for YYYY-MM-DD or \"today\" and exit")
	flag.Parse()

	if err := run(*port, *dbURL, *envFile, *accrue); err != nil {
		fmt.Fprintf(os.Stderr, "savings-engine: %v\n", err)
		os.Exit(1)
	}
}

func run(port, dbURL, envFile, accrue string) error {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return err
	}
	if port != "" {
		cfg.Port = port
	}
	if dbURL != "" {
		cfg.DatabaseURL = dbURL
	}

	logger := observability.InitLogger(observability.LogConfig{Level: cfg.LogLevel, Format: cfg.LogFormat})
	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	currency, err := generic.ParseCurrency(cfg.Currency)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize store
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer closeStore()

	// Product tables
	tables := factory.Defaults(currency)
	if cfg.RateTablesFile != "" {
		if tables, err = factory.NewRateTableFactory().ParseFile(cfg.RateTablesFile); err != nil {
			return err
		}
		if tables.Currency != currency {
			return fmt.Errorf("rate tables are in %s, engine runs in %s", tables.Currency, currency)
		}
		logger.Info("rate tables loaded", "file", cfg.RateTablesFile)
	}

	// Domain wiring
	metrics := observability.NewMetrics()
	clock := generic.SystemClock{Loc: loc}
	tiers, err := kyc.NewStaticTierProvider(tables.Tiers, kyc.Level(cfg.DefaultTier))
	if err != nil {
		return err
	}
	guard := kyc.NewGuard(kyc.GuardConfig{Tiers: tiers, Location: loc, Observer: metrics, Logger: logger})
	ledger := generic.NewLedger(store, generic.LedgerConfig{
		MaxAttempts: cfg.TransferMaxAttempts,
		Clock:       clock,
		Guard:       guard,
		Observer:    metrics,
		Logger:      logger,
	})

	notifier, closeNotifier, err := openNotifier(cfg, logger)
	if err != nil {
		return err
	}
	defer closeNotifier()

	svcCfg := savings.DefaultConfig(currency)
	svcCfg.FlexibleRates = tables.Flexible
	svcCfg.FixedRates = tables.Fixed
	svcCfg.SettleMatured = cfg.AccrualSettleMatured
	svcCfg.Workers = cfg.AccrualWorkers
	svcCfg.Notifier = notifier
	svcCfg.Observer = metrics
	svcCfg.Logger = logger
	svc, err := savings.NewService(ledger, svcCfg)
	if err != nil {
		return err
	}

	locker, closeLocker, err := openLocker(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLocker()

	scheduler := api.NewAccrualScheduler(svc, locker, api.SchedulerConfig{
		Schedule: cfg.AccrualSchedule,
		Location: loc,
		Logger:   logger,
	})

	// One-shot accrual
	if accrue != "" {
		date := generic.Today(clock)
		if accrue != "today" {
			if date, err = generic.ParseBusinessDate(accrue); err != nil {
				return err
			}
		}
		report, ran, err := scheduler.RunOnce(ctx, date)
		if err != nil {
			return err
		}
		if !ran {
			return fmt.Errorf("accrual for %s is running elsewhere", date)
		}
		if len(report.Failures) > 0 {
			return fmt.Errorf("accrual for %s: %d accounts failed", date, len(report.Failures))
		}
		return nil
	}

	if err := scheduler.Start(); err != nil {
		return err
	}

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	go limiter.Run(ctx)

	handler := api.NewHandler(svc, guard, tiers, logger)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Origins(),
		RateLimiter:    limiter,
		Metrics:        metrics.Handler(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "database", cfg.DatabaseDriver, "notifier", cfg.Notifier)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("shutting down")
	<-scheduler.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg config.Config) (generic.TxStore, func(), error) {
	switch cfg.DatabaseDriver {
	case "memory":
		return memstore.NewMemory(), func() {}, nil
	case "postgres", "pgx":
		driver := "pgx"
		if cfg.DatabaseDriver == "postgres" {
			driver = "postgres"
		}
		s, err := postgres.Open(ctx, postgres.Config{
			Driver:          driver,
			URL:             cfg.DatabaseURL,
			MaxOpenConns:    25,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		s, err := sqlite.New(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	}
}

func openNotifier(cfg config.Config, logger *slog.Logger) (generic.Notifier, func(), error) {
	switch cfg.Notifier {
	case "amqp":
		n := notify.NewAMQPOrLog(cfg.AMQPURL, cfg.AMQPExchange, logger)
		return n, closer(n), nil
	case "kafka":
		k := notify.NewKafka(cfg.Brokers(), cfg.KafkaTopic)
		// Kafka delivery failures are logged too.
		return notify.Fanout{notify.NewLog(logger), k}, func() { k.Close() }, nil
	default:
		return notify.NewLog(logger), func() {}, nil
	}
}

func openLocker(ctx context.Context, cfg config.Config) (redislock.Locker, func(), error) {
	if cfg.RedisURL == "" {
		return redislock.NewLocal(), func() {}, nil
	}
	client, err := redislock.Connect(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return redislock.New(client, ""), func() { client.Close() }, nil
}

func closer(v any) func() {
	if c, ok := v.(io.Closer); ok {
		return func() { c.Close() }
	}
	return func() {}
}
