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
	"github.com/ariefcatur/go-shop-checkout/internal/payments"
	"github.com/ariefcatur/go-shop-checkout/internal/postgres"
	"github.com/ariefcatur/go-shop-checkout/internal/redisx"
	"github.com/ariefcatur/go-shop-checkout/internal/telemetry"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logx.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Telemetry
	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.OtelEndpoint, cfg.ServiceName)
	if err != nil {
		logger.Fatal("tracing setup", zap.Error(err))
	}
	metrics, metricsHandler, shutdownMetrics, err := telemetry.SetupPrometheus()
	if err != nil {
		logger.Fatal("metrics setup", zap.Error(err))
	}

	// DB
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, cfg.PostgresDSN); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
	}
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	cache := &redisx.OrderCache{RDB: rdb}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatus, 1024, logger)
	prod.Start(ctx)

	// Services
	inv := &inventory.Repo{DB: db, Metrics: metrics}
	cartSvc := &carts.Service{DB: db, Inventory: inv, Log: logger.Named("carts")}
	orderSvc := &orders.Service{
		DB:          db,
		Inventory:   inv,
		Cache:       cache,
		Publisher:   prod,
		Log:         logger.Named("orders"),
		ServiceName: cfg.ServiceName,
	}
	paySvc := &payments.Service{
		Orders:    orderSvc,
		P24:       payments.NewClient(cfg.P24),
		PublicURL: cfg.PublicURL,
		Metrics:   metrics,
		Log:       logger.Named("payments"),
	}

	// Router & handlers
	router := httpx.NewRouter(logger.Named("http"), metricsHandler)
	(&httpx.CartsHandler{Carts: cartSvc, Log: logger}).Register(router)
	(&httpx.OrdersHandler{Orders: orderSvc, Payments: paySvc, AdminToken: cfg.AdminToken, Log: logger}).Register(router)
	(&httpx.ProductsHandler{Products: inv, AdminToken: cfg.AdminToken, Log: logger}).Register(router)

	// HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(router, "http-server"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// graceful shutdown
	go func() {
		logger.Info("HTTP listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()      // tutup inbox -> flush & close writer
	prod.WaitClosed() // drain
	cancel()
	if err := shutdownTracing(ctx2); err != nil {
		logger.Warn("tracing shutdown", zap.Error(err))
	}
	_ = shutdownMetrics(ctx2)
}
