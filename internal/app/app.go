// Package app builds the runtime dependencies shared by the binaries.
package app

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"workforce-queue/internal/audit"
	"workforce-queue/internal/broker"
	"workforce-queue/internal/config"
	"workforce-queue/internal/dedupe"
	"workforce-queue/internal/migrations"
	"workforce-queue/internal/observability"
	"workforce-queue/internal/store"
	"workforce-queue/internal/store/memory"
	"workforce-queue/internal/store/postgres"
	"workforce-queue/internal/store/sqlite"
	"workforce-queue/pkg/retry"
)

// OpenStore connects to the configured store driver.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.StoreDriverMemory:
		return memory.New(), nil
	case config.StoreDriverSQLite:
		return sqlite.Open(cfg.DSN)
	case config.StoreDriverPostgres:
		return postgres.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// Migrate applies schema migrations for SQL drivers; memory is a no-op.
func Migrate(cfg config.StoreConfig, logger *logrus.Entry) error {
	switch cfg.Driver {
	case config.StoreDriverMemory:
		return nil
	case config.StoreDriverSQLite:
		return migrations.Up(migrations.DriverSQLite, cfg.DSN, logger)
	default:
		return migrations.Up(migrations.DriverPostgres, cfg.DSN, logger)
	}
}

func NewBroker(cfg config.RabbitMQConfig, metrics observability.MetricsCollector) *broker.RabbitMQ {
	logger := observability.Component("broker")
	return broker.NewRabbitMQ(broker.Config{
		URL:            cfg.URL(),
		ReconnectDelay: cfg.ReconnectDelay,
		Metrics:        metrics,
		Logger:         logger,
		OnError: func(queue string, d broker.Delivery, err error) {
			logger.WithError(err).WithFields(logrus.Fields{
				"queue":      queue,
				"message_id": d.MessageID,
			}).Error("Message rejected to dead-letter queue")
		},
	})
}

// NewDedupe returns a Redis-backed store when an address is configured.
func NewDedupe(ctx context.Context, cfg config.RedisConfig) (dedupe.Store, error) {
	if cfg.Addr == "" {
		return dedupe.NewInMemoryStore(cfg.TTL), nil
	}
	rs := dedupe.NewRedisStore(dedupe.RedisConfig{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		TTL:      cfg.TTL,
	})
	if err := rs.Ping(ctx); err != nil {
		_ = rs.Close()
		return nil, err
	}
	return rs, nil
}

func NewEventSink(cfg config.KafkaConfig) audit.Sink {
	if !cfg.Enabled {
		return audit.Nop{}
	}
	return audit.NewKafkaSink(audit.KafkaConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
	})
}

func NewRetryPolicy(cfg config.QueueConfig) retry.Policy {
	return retry.NewPolicyWithOptions(cfg.RetryPolicy, retry.Options{
		BaseDelay: cfg.BaseDelay,
		MaxDelay:  cfg.MaxDelay,
	})
}
