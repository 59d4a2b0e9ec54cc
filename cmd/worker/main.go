package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-live-orders/internal/admission"
	"github.com/ariefcatur/go-live-orders/internal/config"
	"github.com/ariefcatur/go-live-orders/internal/dispatch"
	kafkax "github.com/ariefcatur/go-live-orders/internal/kafka"
	"github.com/ariefcatur/go-live-orders/internal/logx"
	"github.com/ariefcatur/go-live-orders/internal/notify"
	"github.com/ariefcatur/go-live-orders/internal/orders"
	"github.com/ariefcatur/go-live-orders/internal/payment"
	"github.com/ariefcatur/go-live-orders/internal/postgres"
	"github.com/ariefcatur/go-live-orders/internal/redisx"
	"github.com/ariefcatur/go-live-orders/internal/reservation"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	service := cfg.ServiceName + "-worker"

	logger, err := logx.New(service, cfg.LogLevel)
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

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// The sweep enqueues expiry and reminder notifications on the same topic.
	prod := kafkax.NewProducer(cfg.KafkaBrokers, cfg.DispatchTopic, 1024, logger)
	prod.Start()
	queue := &dispatch.KafkaQueue{Producer: prod, ServiceName: service}

	ledger := &orders.Repo{DB: db}
	payments := &orders.PaymentRepo{DB: db}

	worker := &dispatch.Worker{
		Orders:         ledger,
		Payments:       payments,
		Notifications:  &orders.NotificationRepo{DB: db},
		Gateway:        payment.NewRazorpayClient(cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.Razorpay.BaseURL, cfg.Razorpay.CallbackURL, cfg.HTTPClientTimeout),
		Sender:         notify.NewGupshupClient(cfg.Gupshup.APIKey, cfg.Gupshup.AppName, cfg.Gupshup.Source, cfg.Gupshup.BaseURL, cfg.HTTPClientTimeout),
		Redis:          rdb,
		Log:            logger.Named("dispatch"),
		ServiceName:    service,
		ReservationTTL: cfg.ReservationTTL,
	}

	sweeper := &admission.Sweeper{
		Service: &admission.Service{
			Ledger:       ledger,
			Reservations: reservation.NewRedisStore(rdb),
			Queue:        queue,
			Log:          logger.Named("sweeper"),
			Window:       cfg.ReservationTTL,
		},
		Ledger:         ledger,
		Payments:       payments,
		Interval:       cfg.SweepInterval,
		ReminderBefore: cfg.ReminderBefore,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.DispatchGroup, cfg.DispatchTopic, cfg.DispatchWorkers, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		logger.Info("dispatch consumer started", zap.String("group", cfg.DispatchGroup), zap.Int("workers", cfg.DispatchWorkers))
		if err := cons.Start(ctx, worker.Handle); err != nil {
			logger.Error("consumer exit", zap.Error(err))
			cancel()
		}
	}()
	go func() {
		defer wg.Done()
		sweeper.Run(ctx)
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	logger.Info("shutting down worker")
	cancel()
	wg.Wait()
	prod.Close()
	prod.WaitClosed()
}
