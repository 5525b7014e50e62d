package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"workforce-queue/internal/app"
	"workforce-queue/internal/audit"
	"workforce-queue/internal/config"
	"workforce-queue/internal/observability"
	"workforce-queue/internal/scheduler"
	"workforce-queue/internal/service"
	"workforce-queue/pkg/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	var migrate bool

	root := &cobra.Command{
		Use:          "consumer",
		Short:        "Process leave requests from the work queue",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(envFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, migrate)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded when present")
	root.Flags().BoolVar(&migrate, "migrate", false, "apply database migrations before consuming")

	root.AddCommand(
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply database migrations and exit",
			RunE: func(*cobra.Command, []string) error {
				cfg, err := loadConfig(envFile)
				if err != nil {
					return err
				}
				return app.Migrate(cfg.Store, observability.Component("migrations"))
			},
		},
		&cobra.Command{
			Use:   "failed",
			Short: "List messages that failed processing",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := loadConfig(envFile)
				if err != nil {
					return err
				}
				return listFailed(cmd.Context(), cfg, cmd.OutOrStdout())
			},
		},
		newEventsCmd(&envFile),
	)
	return root
}

func loadConfig(envFile string) (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	observability.InitLogger(cfg.Logging.Level)
	return cfg, nil
}

func run(parent context.Context, cfg *config.Config, migrate bool) error {
	logger := observability.Component("consumer")
	logger.WithField("queue", models.QueueLeaveRequested).Info("Starting leave request consumer")

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if migrate {
		if err := app.Migrate(cfg.Store, observability.Component("migrations")); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}

	st, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	seen, err := app.NewDedupe(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("open dedupe store: %w", err)
	}
	defer seen.Close()

	events := app.NewEventSink(cfg.Kafka)
	defer events.Close()

	metrics := observability.NewMetricsCollector(cfg.Metrics.Enabled)
	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics.Addr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	mq := app.NewBroker(cfg.RabbitMQ, metrics)
	defer mq.Close()

	svc, err := service.NewQueueConsumerService(service.Config{
		Broker:     mq,
		Leaves:     st,
		Logs:       st,
		Policy:     app.NewRetryPolicy(cfg.Queue),
		Scheduler:  scheduler.New(observability.Component("retry-scheduler")),
		Dedupe:     seen,
		Events:     events,
		Metrics:    metrics,
		Queue:      models.QueueLeaveRequested,
		MaxRetries: cfg.Queue.MaxRetries,
	})
	if err != nil {
		return err
	}

	runErr := svc.Start(ctx)
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
	defer cancel()
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Retries did not drain before timeout")
	}
	return runErr
}

func serveMetrics(addr string, logger *logrus.Entry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		logger.WithField("addr", addr).Info("Serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Metrics server stopped")
		}
	}()
	return srv
}

func listFailed(ctx context.Context, cfg *config.Config, out io.Writer) error {
	st, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	logs, err := st.FindFailedLogs(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	for _, l := range logs {
		if err := enc.Encode(audit.EventFromLog(l)); err != nil {
			return err
		}
	}
	return nil
}

func newEventsCmd(envFile *string) *cobra.Command {
	var groupID string
	var fromStart bool

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow the processing event topic",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*envFile)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tail := audit.NewKafkaTail(audit.TailConfig{
				Brokers:   cfg.Kafka.Brokers,
				Topic:     cfg.Kafka.Topic,
				GroupID:   groupID,
				FromStart: fromStart,
			})
			defer tail.Close()

			enc := json.NewEncoder(cmd.OutOrStdout())
			return tail.Run(ctx, func(_ context.Context, e audit.Event) error {
				return enc.Encode(e)
			})
		},
	}
	cmd.Flags().StringVar(&groupID, "group", "leaveq-events", "consumer group whose offsets are committed")
	cmd.Flags().BoolVar(&fromStart, "from-start", false, "replay retained events")
	return cmd
}
