package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
	_ "time/tzdata"

	"github.com/bookline/bookline/libs/auth"
	"github.com/bookline/bookline/libs/db"
	"github.com/bookline/bookline/libs/grpcx"
	"github.com/bookline/bookline/libs/httpx"
	"github.com/bookline/bookline/libs/kafkax"
	otelx "github.com/bookline/bookline/libs/otel"
	"github.com/bookline/bookline/libs/runtime"
	"github.com/bookline/bookline/services/scheduling-service/internal/availability"
	"github.com/bookline/bookline/services/scheduling-service/internal/consumer"
	"github.com/bookline/bookline/services/scheduling-service/internal/handlers"
	"github.com/bookline/bookline/services/scheduling-service/internal/metrics"
	"github.com/bookline/bookline/services/scheduling-service/internal/model"
	"github.com/bookline/bookline/services/scheduling-service/internal/outbox"
	"github.com/bookline/bookline/services/scheduling-service/internal/reservation"
	"github.com/bookline/bookline/services/scheduling-service/internal/storage/postgres"
	"github.com/bookline/bookline/services/scheduling-service/internal/storage/sqlite"
	"github.com/bookline/bookline/services/scheduling-service/internal/sweeper"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// store is what the service needs from either storage driver.
type store interface {
	availability.Store
	reservation.Ledger
	reservation.Catalog
	sweeper.Ledger
	outbox.Source
	consumer.Inbox
	ListBookings(ctx context.Context, businessID string, f model.BookingFilter) ([]model.Booking, error)
	UnpublishedCount(ctx context.Context) (int, error)
	Ping(ctx context.Context) error
}

func main() {
	if err := runtime.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext(logger)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	st, readyChecks, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("storage init failed", "driver", cfg.StorageDriver, "err", err)
		panic(err)
	}
	defer closeStore()

	m := metrics.New(prometheus.DefaultRegisterer, "scheduling")
	go m.WatchBacklog(ctx, 15*time.Second, st.UnpublishedCount, logger)

	generator := availability.NewGenerator(st, logger, availability.WithObserver(m))
	arbiterOpts := []reservation.Option{reservation.WithObserver(m)}
	if cfg.ReserveRevalidate {
		arbiterOpts = append(arbiterOpts, reservation.WithRevalidation(generator))
	}
	arbiter := reservation.NewArbiter(st, st, logger, arbiterOpts...)

	holdSweeper := sweeper.New(st, logger, sweeper.Config{
		HoldWindow: cfg.HoldWindow,
		Interval:   cfg.SweepInterval,
		BatchSize:  cfg.SweepBatchSize,
	}, sweeper.WithObserver(m))
	go holdSweeper.Run(ctx)

	sink, err := openSink(cfg)
	if err != nil {
		logger.Error("event sink init failed; outbox will accumulate", "sink", cfg.EventSink, "err", err)
	}
	outboxPublisher := outbox.NewPublisher(st, sink, logger, outbox.PublisherConfig{
		PollEvery: 2 * time.Second,
		BatchSize: 50,
		OnResult:  m.OutboxResult,
	})
	go outboxPublisher.Run(ctx)

	if cfg.KafkaBrokers != "" && cfg.KafkaPaymentTopic != "" {
		paymentConsumer := consumer.New(logger, st, consumer.Config{
			Brokers: cfg.KafkaBrokers,
			GroupID: cfg.KafkaGroupID,
			Topic:   cfg.KafkaPaymentTopic,
		}, consumer.PaymentMethodHandler(arbiter, logger))
		go paymentConsumer.Run(ctx)
	}

	bookingHandler := handlers.NewBookingHandler(generator, arbiter, st, logger)
	stripeHandler := handlers.NewStripeHandler(arbiter, st, logger, cfg.StripeWebhookSecret, cfg.StripeWebhookTolerance)

	var keys auth.KeyResolver
	if cfg.JWKSURL != "" {
		keys = auth.NewJWKSClient(cfg.JWKSURL, 10*time.Minute)
	}

	if cfg.KafkaBrokers != "" {
		var topics []string
		if cfg.KafkaPaymentTopic != "" {
			topics = append(topics, cfg.KafkaPaymentTopic)
		}
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers, topics...)})
	}
	httpHandler := newRouter(routerDeps{
		logger:      logger,
		bookings:    bookingHandler,
		stripe:      stripeHandler,
		verifier:    auth.NewVerifier(cfg.JWTSecret, keys),
		rateLimit:   publicRateLimit(cfg, logger),
		readyChecks: readyChecks,
		corsOrigins: cfg.CORSAllowedOrigins,
		metrics:     promhttp.Handler(),
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv := grpcx.NewServer(logger, cfg.Service, readyChecks...)
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Error("grpc listen failed", "addr", ":"+cfg.GRPCPort, "err", err)
	} else {
		go func() {
			if err := grpcSrv.Serve(ctx, lis); err != nil {
				logger.Error("grpc server error", "err", err)
			}
		}()
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "storage", cfg.StorageDriver, "event_sink", cfg.EventSink)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func openStore(ctx context.Context, cfg appConfig, logger *slog.Logger) (store, []runtime.ReadyCheck, func(), error) {
	switch cfg.StorageDriver {
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, err
		}
		checks := []runtime.ReadyCheck{{Name: "db", Check: s.Ping}}
		return s, checks, func() { _ = s.Close() }, nil
	default:
		pool, err := db.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, err
		}
		s := postgres.New(pool)
		if cfg.MigrateOnStart {
			if err := s.Migrate(ctx); err != nil {
				pool.Close()
				return nil, nil, nil, err
			}
			logger.Info("schema migrated")
		}
		checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
		return s, checks, pool.Close, nil
	}
}

func openSink(cfg appConfig) (outbox.Sink, error) {
	switch cfg.EventSink {
	case "kafka":
		if cfg.KafkaBrokers == "" {
			return nil, errors.New("KAFKA_BROKERS is empty")
		}
		sink, err := outbox.NewKafkaSink(cfg.KafkaBrokers)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case "rabbitmq":
		if cfg.RabbitMQURL == "" {
			return nil, errors.New("RABBITMQ_URL is empty")
		}
		sink, err := outbox.NewRabbitMQSink(cfg.RabbitMQURL)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, nil
	}
}

// publicRateLimit uses Redis when configured so limits hold across replicas.
func publicRateLimit(cfg appConfig, logger *slog.Logger) httpx.Middleware {
	if cfg.RedisAddr == "" {
		return httpx.NewRateLimiter(cfg.RateLimitPerMinute, time.Minute).Middleware()
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	return httpx.NewRedisRateLimiter(rdb, cfg.RateLimitPerMinute, time.Minute, "scheduling").Middleware(logger, true)
}
