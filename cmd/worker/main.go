package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/config"
	"github.com/ariefcatur/order-fulfillment/internal/eventlog"
	"github.com/ariefcatur/order-fulfillment/internal/inventory"
	kafkax "github.com/ariefcatur/order-fulfillment/internal/kafka"
	"github.com/ariefcatur/order-fulfillment/internal/obs"
	"github.com/ariefcatur/order-fulfillment/internal/postgres"
	"github.com/ariefcatur/order-fulfillment/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// The worker runs the background loops: reservation expiry, low-stock
// checks, event redelivery and the audit consumer on the order event topic.
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, err := obs.NewLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("service", cfg.ServiceName+"-worker"))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.SetupTracing(ctx, cfg.ServiceName+"-worker", cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic, log.Named("kafka"))
	defer func() { _ = prod.Close() }()

	stock := inventory.NewLedger(inventory.NewPGStore(db), cfg.Reservation.TTL, log.Named("inventory"))
	pub := eventlog.NewPublisher(eventlog.NewPGStore(db), prod, cfg.ServiceName, cfg.PublishTimeout, log.Named("eventlog"))

	sweeper := inventory.NewSweeper(stock, cfg.Reservation.SweepInterval, cfg.Reservation.SweepBatch, log.Named("sweeper"))
	lowStock := inventory.NewLowStockMonitor(stock, cfg.Reservation.LowStockInterval, log.Named("low-stock"))
	relay := eventlog.NewRelay(pub, cfg.Relay.Interval, cfg.Relay.Grace, cfg.Relay.Batch, log.Named("relay"))

	tracker := eventlog.NewTracker(rdb, cfg.ConsumerGroup, log.Named("audit"))
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, cfg.OrderEventsTopic, cfg.ConsumerWorkers, log.Named("consumer"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sweeper.Run(gctx) })
	g.Go(func() error { return lowStock.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		log.Info("audit consumer started",
			zap.String("group", cfg.ConsumerGroup),
			zap.String("topic", cfg.OrderEventsTopic),
			zap.Int("workers", cfg.ConsumerWorkers))
		return cons.Start(gctx, tracker.Handle)
	})

	err = g.Wait()
	log.Info("worker stopped", zap.Error(err))
	return err
}
