package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"exchange-core/internal/admin"
	"exchange-core/internal/api"
	"exchange-core/internal/broker"
	"exchange-core/internal/config"
	"exchange-core/internal/database"
	"exchange-core/internal/fees"
	"exchange-core/internal/history"
	"exchange-core/internal/jobs"
	"exchange-core/internal/ledger"
	"exchange-core/internal/lock"
	"exchange-core/internal/logger"
	"exchange-core/internal/market"
	"exchange-core/internal/settlement"

	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	periods, err := cfg.Exchange.Periods()
	if err != nil {
		log.Fatal("Invalid candle periods", zap.Error(err))
	}
	exemption, err := market.ParseExemption(cfg.Exchange.FeeExemption)
	if err != nil {
		log.Fatal("Invalid fee exemption mode", zap.Error(err))
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.Database, log)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.", zap.String("driver", cfg.Database.Driver))
	repo := database.NewRepository(db)

	locks := lock.NewManager()
	led := ledger.New(log)
	collector := fees.NewCollector(repo, locks, log)

	var sinks []history.Sink
	if len(cfg.Broker.Brokers) > 0 {
		producer := broker.NewProducer(cfg.Broker, log)
		defer producer.Close()
		sinks = append(sinks, producer)
		log.Info("Publishing trades to broker", zap.Strings("brokers", cfg.Broker.Brokers), zap.String("topic", cfg.Broker.Topic))
	}
	hist := history.NewService(repo, locks, history.Options{
		Periods: periods,
		Window:  cfg.Exchange.StatisticsWindow,
		Buffer:  cfg.Exchange.EventBuffer,
		Sinks:   sinks,
	}, log)

	engine := market.NewEngine(repo, locks, led, collector, hist, exemption, log)

	rpc := settlement.NewRPCClient(cfg.Settlement, settlement.RecoveryFor(cfg.Settlement.SyntheticRecovery), log)
	withdrawals := settlement.NewWithdrawals(repo, locks, led, collector, rpc, cfg.Settlement.MinConfirmations, log)
	deposits := settlement.NewDeposits(repo, locks, led, rpc, cfg.Settlement.MinConfirmations, cfg.Settlement.ReconcileBatch, log)

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	// History outlives the HTTP server so in-flight orders still reach it.
	histCtx, stopHistory := context.WithCancel(context.Background())
	hist.Start(histCtx)

	scheduler := jobs.NewScheduler(log)
	if cfg.Settlement.URL != "" {
		scheduler.Add(jobs.Job{
			Name:     "reconcile-deposits",
			Interval: cfg.Settlement.ReconcileInterval,
			Run: func(ctx context.Context) error {
				_, err := deposits.Reconcile(ctx)
				return err
			},
		})
	}
	scheduler.Add(jobs.Job{
		Name:     "close-candles",
		Interval: cfg.Exchange.CandleSweep,
		Run: func(ctx context.Context) error {
			_, err := hist.CloseElapsed(ctx, time.Now())
			return err
		},
	})
	scheduler.Add(jobs.Job{
		Name:     "purge-orders",
		Interval: cfg.Exchange.PurgeInterval,
		Run: func(ctx context.Context) error {
			_, err := engine.PurgeClosed(ctx, cfg.Exchange.OrderRetention)
			return err
		},
	})
	scheduler.Start(ctx)

	server := api.NewServer(cfg.Server, api.Services{
		Repo:        repo,
		Engine:      engine,
		Ledger:      led,
		Fees:        collector,
		History:     hist,
		Withdrawals: withdrawals,
		Deposits:    deposits,
		Admin:       admin.NewService(repo, locks, log),
	}, log)
	server.Start()

	<-ctx.Done()

	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer done()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}
	scheduler.Wait()
	stopHistory()
	hist.Wait()

	log.Info("Exchange core has been shut down.")
}
