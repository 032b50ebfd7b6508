package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/bookline/bookline/libs/config"
	"github.com/bookline/bookline/services/scheduling-service/internal/consumer"
)

type appConfig struct {
	Service  string
	Port     string
	GRPCPort string

	StorageDriver  string
	DatabaseURL    string
	SQLitePath     string
	MigrateOnStart bool

	HoldWindow        time.Duration
	SweepInterval     time.Duration
	SweepBatchSize    int
	ReserveRevalidate bool

	EventSink         string
	KafkaBrokers      string
	KafkaGroupID      string
	KafkaPaymentTopic string
	RabbitMQURL       string

	RedisAddr          string
	RateLimitPerMinute int
	CORSAllowedOrigins []string

	JWTSecret string
	JWKSURL   string

	StripeWebhookSecret    string
	StripeWebhookTolerance time.Duration
}

func loadConfig() (appConfig, error) {
	cfg := appConfig{
		Service:             config.String("SERVICE_NAME", "scheduling-service"),
		StorageDriver:       strings.ToLower(config.String("STORAGE_DRIVER", "postgres")),
		SQLitePath:          config.String("SQLITE_PATH", "scheduling.db"),
		MigrateOnStart:      config.Bool("MIGRATE_ON_START", true),
		ReserveRevalidate:   config.Bool("RESERVE_REVALIDATE", true),
		EventSink:           strings.ToLower(config.String("EVENT_SINK", "kafka")),
		KafkaBrokers:        config.String("KAFKA_BROKERS", ""),
		KafkaGroupID:        config.String("KAFKA_GROUP_ID", "scheduling-service"),
		KafkaPaymentTopic:   config.String("KAFKA_PAYMENT_TOPIC", consumer.PaymentMethodTopic),
		RabbitMQURL:         config.String("RABBITMQ_URL", ""),
		RedisAddr:           config.String("REDIS_ADDR", ""),
		CORSAllowedOrigins:  config.List("CORS_ALLOWED_ORIGINS"),
		JWTSecret:           config.String("JWT_SECRET", ""),
		JWKSURL:             config.String("JWKS_URL", ""),
		StripeWebhookSecret: config.String("STRIPE_WEBHOOK_SECRET", ""),
	}

	var err error
	if cfg.Port, err = config.Port("PORT", "8083"); err != nil {
		return cfg, err
	}
	if cfg.GRPCPort, err = config.Port("GRPC_PORT", "9093"); err != nil {
		return cfg, err
	}
	if cfg.HoldWindow, err = config.Duration("HOLD_WINDOW", 5*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = config.Duration("SWEEP_INTERVAL", 30*time.Second); err != nil {
		return cfg, err
	}
	if cfg.SweepBatchSize, err = config.Int("SWEEP_BATCH_SIZE", 100); err != nil {
		return cfg, err
	}
	if cfg.RateLimitPerMinute, err = config.Int("RATE_LIMIT_PER_MINUTE", 120); err != nil {
		return cfg, err
	}
	if cfg.StripeWebhookTolerance, err = config.Duration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute); err != nil {
		return cfg, err
	}

	switch cfg.StorageDriver {
	case "postgres":
		if cfg.DatabaseURL, err = config.RequiredString("DATABASE_URL"); err != nil {
			return cfg, err
		}
	case "sqlite":
	default:
		return cfg, fmt.Errorf("STORAGE_DRIVER must be postgres or sqlite, got %q", cfg.StorageDriver)
	}
	switch cfg.EventSink {
	case "kafka", "rabbitmq", "none":
	default:
		return cfg, fmt.Errorf("EVENT_SINK must be kafka, rabbitmq, or none, got %q", cfg.EventSink)
	}
	if cfg.HoldWindow <= 0 {
		return cfg, fmt.Errorf("HOLD_WINDOW must be positive")
	}
	return cfg, nil
}
