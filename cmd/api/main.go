package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ariefcatur/order-fulfillment/internal/clients"
	"github.com/ariefcatur/order-fulfillment/internal/config"
	"github.com/ariefcatur/order-fulfillment/internal/eventlog"
	"github.com/ariefcatur/order-fulfillment/internal/httpx"
	"github.com/ariefcatur/order-fulfillment/internal/inventory"
	kafkax "github.com/ariefcatur/order-fulfillment/internal/kafka"
	"github.com/ariefcatur/order-fulfillment/internal/obs"
	"github.com/ariefcatur/order-fulfillment/internal/orders"
	"github.com/ariefcatur/order-fulfillment/internal/payments"
	"github.com/ariefcatur/order-fulfillment/internal/postgres"
	"github.com/ariefcatur/order-fulfillment/internal/redisx"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := obs.SetupTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracing shutdown", zap.Error(err))
		}
	}()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		return err
	}

	// Redis
	rdb, err := redisx.Connect(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic, log.Named("kafka"))
	defer func() {
		if err := prod.Close(); err != nil {
			log.Warn("close producer", zap.Error(err))
		}
	}()

	events := eventlog.NewPublisher(eventlog.NewPGStore(db), prod, cfg.ServiceName, cfg.PublishTimeout, log.Named("eventlog"))
	stock := inventory.NewLedger(inventory.NewPGStore(db), cfg.Reservation.TTL, log.Named("inventory"))
	gateway := payments.NewSimulator(payments.Rates{
		Authorize: cfg.Payment.AuthorizeRate,
		Capture:   cfg.Payment.CaptureRate,
		Refund:    cfg.Payment.RefundRate,
		Void:      cfg.Payment.VoidRate,
	}, cfg.Payment.Delay)
	pays := payments.NewLedger(payments.NewPGStore(db), gateway, cfg.Payment.Timeout, log.Named("payments"))

	svc := orders.NewService(orders.Deps{
		Repo:      orders.NewRepo(db),
		Carts:     clients.NewCartClient(cfg.CartServiceURL, cfg.ServiceToken, cfg.UpstreamTimeout, nil),
		Addresses: clients.NewAddressClient(cfg.UserServiceURL, cfg.ServiceToken, cfg.UpstreamTimeout, nil),
		Payments:  pays,
		Inventory: stock,
		Events:    events,
		Log:       log.Named("orders"),
	}, orders.Settings{Currency: cfg.Currency, ShippingRate: cfg.FlatShippingRate})

	router := httpx.NewRouter(log.Named("http"))
	(&httpx.OrdersHandler{Svc: svc, Redis: rdb, Log: log.Named("http")}).Register(router)
	(&httpx.StockHandler{Svc: stock, Log: log.Named("http")}).Register(router)
	(&httpx.PaymentsHandler{Svc: pays, Log: log.Named("http")}).Register(router)
	srv := httpx.NewServer(cfg.HTTPAddr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
