package main

import (
	"context"
	"errors"
	"github.com/ariefcatur/go-shop-checkout/internal/carts"
	"github.com/ariefcatur/go-shop-checkout/internal/config"
	"github.com/ariefcatur/go-shop-checkout/internal/httpx"
	"github.com/ariefcatur/go-shop-checkout/internal/inventory"
	kafkax "github.com/ariefcatur/go-shop-checkout/internal/kafka"
	"github.com/ariefcatur/go-shop-checkout/internal/logx"
	"github.com/ariefcatur/go-shop-checkout/internal/orders"
	"github.com/ariefcatur/go-shop-checkout/internal/postgres"
	"github.com/ariefcatur/go-shop-checkout/internal/redisx"
	"github.com/ariefcatur/go-shop-checkout/internal/sweeper"
	"github.com/ariefcatur/go-shop-checkout/internal/telemetry"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	cfg.ServiceName += "-worker"

	logger, err := logx.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OtelEndpoint, cfg.ServiceName)
	if err != nil {
		logger.Fatal("tracing setup", zap.Error(err))
	}
	metrics, metricsHandler, shutdownMetrics, err := telemetry.SetupPrometheus()
	if err != nil {
		logger.Fatal("metrics setup", zap.Error(err))
	}

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := &redisx.OrderCache{RDB: rdb}

	// Lifecycle events from the sweeper go to the same topic as the API's.
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatus, 1024, logger)
	prod.Start(context.Background())

	inv := &inventory.Repo{DB: db, Metrics: metrics}
	sw := &sweeper.Sweeper{
		Carts: &carts.Service{DB: db, Inventory: inv, Log: logger.Named("carts")},
		Orders: &orders.Service{
			DB:          db,
			Inventory:   inv,
			Cache:       cache,
			Publisher:   prod,
			Log:         logger.Named("orders"),
			ServiceName: cfg.ServiceName,
		},
		Cfg:     cfg.Sweeper,
		Metrics: metrics,
		Log:     logger.Named("sweeper"),
	}
	projector := &orders.Projector{
		Orders: &orders.Repo{DB: db},
		Cache:  cache,
		Dedup:  cache,
		Log:    logger.Named("projector"),
	}
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.Projector.Group, orders.TopicOrderStatus, cfg.Projector.Workers, logger)

	// worker only exposes health and metrics
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           httpx.NewRouter(logger.Named("http"), metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	})
	g.Go(func() error {
		logger.Info("sweeper started",
			zap.Duration("cart_interval", cfg.Sweeper.CartInterval),
			zap.Duration("order_interval", cfg.Sweeper.OrderInterval))
		sw.Start(gctx)
		<-gctx.Done()
		sw.Stop()
		return nil
	})
	g.Go(func() error {
		logger.Info("projector consumer started",
			zap.String("group", cfg.Projector.Group),
			zap.String("topic", orders.TopicOrderStatus),
			zap.Int("workers", cfg.Projector.Workers))
		return cons.Start(gctx, projector.Handle)
	})

	if err := g.Wait(); err != nil {
		logger.Error("worker exit", zap.Error(err))
	}
	logger.Info("shutting down worker...")

	prod.Close()
	prod.WaitClosed()
	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = shutdownTracing(ctx2)
	_ = shutdownMetrics(ctx2)
}
