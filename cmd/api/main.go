package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-live-orders/internal/admission"
	"github.com/ariefcatur/go-live-orders/internal/config"
	"github.com/ariefcatur/go-live-orders/internal/dispatch"
	"github.com/ariefcatur/go-live-orders/internal/httpx"
	kafkax "github.com/ariefcatur/go-live-orders/internal/kafka"
	"github.com/ariefcatur/go-live-orders/internal/logx"
	"github.com/ariefcatur/go-live-orders/internal/orders"
	"github.com/ariefcatur/go-live-orders/internal/postgres"
	"github.com/ariefcatur/go-live-orders/internal/reconcile"
	"github.com/ariefcatur/go-live-orders/internal/redisx"
	"github.com/ariefcatur/go-live-orders/internal/reservation"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger, err := logx.New(cfg.ServiceName+"-api", cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN, cfg.PostgresPool)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		logger.Fatal("db migrate", zap.Error(err))
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer for detached work
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.DispatchTopic, 1024, logger)
	prod.Start()
	queue := &dispatch.KafkaQueue{Producer: prod, ServiceName: cfg.ServiceName + "-api"}

	ledger := &orders.Repo{DB: db}
	admit := &admission.Service{
		Catalog:       &orders.CatalogRepo{DB: db},
		Ledger:        ledger,
		Sessions:      &orders.SessionRepo{DB: db},
		Reservations:  reservation.NewRedisStore(rdb),
		Queue:         queue,
		Log:           logger.Named("admission"),
		Window:        cfg.ReservationTTL,
		Extension:     cfg.ReservationExtend,
		MaxExtensions: cfg.MaxExtensions,
	}
	if cfg.Razorpay.WebhookSecret == "" {
		logger.Warn("RAZORPAY_WEBHOOK_SECRET not set, every webhook will be rejected")
	}
	rec := &reconcile.Service{
		Secret:   cfg.Razorpay.WebhookSecret,
		Payments: &orders.PaymentRepo{DB: db},
		Orders:   ledger,
		Queue:    queue,
		Alerts:   reconcile.LogAlerter{Log: logger.Named("alert")},
		Log:      logger.Named("reconcile"),
	}

	router := httpx.NewRouter(logger)
	(&httpx.OrdersHandler{Orders: admit, Log: logger}).Register(router)
	(&httpx.WebhookHandler{Reconciler: rec, Log: logger}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	// graceful shutdown
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("shutting down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close() // flush pending tasks before exit
	prod.WaitClosed()
	cancel()
}
