package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"workforce-queue/internal/app"
	"workforce-queue/internal/audit"
	"workforce-queue/internal/config"
	"workforce-queue/internal/dedupe"
	"workforce-queue/internal/observability"
	"workforce-queue/internal/service"
	"workforce-queue/pkg/models"
)

type options struct {
	envFile    string
	employeeID int64
	start      string
	end        string
	leaveType  string
	wait       time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:          "producer",
		Short:        "Create a leave request and publish it to the work queue",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded when present")
	cmd.Flags().Int64Var(&opts.employeeID, "employee", 1, "employee id")
	cmd.Flags().StringVar(&opts.start, "start", "", "first day of leave (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.end, "end", "", "last day of leave (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.leaveType, "type", string(models.LeaveTypeVacation), "leave type")
	cmd.Flags().DurationVar(&opts.wait, "wait", 0, "poll the processing log until the message settles")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func run(cmd *cobra.Command, opts options) error {
	cfg, err := config.Load(opts.envFile)
	if err != nil {
		return err
	}
	observability.InitLogger(cfg.Logging.Level)
	logger := observability.Component("producer")
	ctx := cmd.Context()

	start, err := models.ParseDate(opts.start)
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := models.ParseDate(opts.end)
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}
	lr, err := service.NewLeaveRequest(opts.employeeID, start, end, models.LeaveType(opts.leaveType))
	if err != nil {
		return err
	}

	st, err := app.OpenStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	lr, err = st.SaveLeaveRequest(ctx, lr)
	if err != nil {
		return fmt.Errorf("save leave request: %w", err)
	}

	mq := app.NewBroker(cfg.RabbitMQ, observability.NewMetricsCollector(false))
	defer mq.Close()
	if err := mq.Connect(ctx); err != nil {
		logger.WithError(err).Warn("Broker unavailable, the request will be recorded as failed")
	}

	events := app.NewEventSink(cfg.Kafka)
	defer events.Close()

	svc, err := service.NewQueueConsumerService(service.Config{
		Broker:     mq,
		Leaves:     st,
		Logs:       st,
		Dedupe:     dedupe.Nop{},
		Events:     events,
		Queue:      models.QueueLeaveRequested,
		MaxRetries: cfg.Queue.MaxRetries,
	})
	if err != nil {
		return err
	}

	messageID, err := svc.Publish(ctx, lr)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"leave_request_id": lr.ID,
		"message_id":       messageID,
		"days":             lr.DaysCount,
	}).Info("Leave request submitted")

	entry, err := waitForLog(ctx, svc, messageID, opts.wait)
	if err != nil {
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(audit.EventFromLog(entry))
}

// waitForLog polls until the record is terminal or wait elapses.
func waitForLog(ctx context.Context, svc *service.QueueConsumerService, messageID string, wait time.Duration) (*models.ProcessingLog, error) {
	deadline := time.Now().Add(wait)
	for {
		entry, err := svc.LogStatus(ctx, messageID)
		if err != nil {
			return nil, err
		}
		if entry.Status.Terminal() || !time.Now().Before(deadline) {
			return entry, nil
		}

		select {
		case <-ctx.Done():
			return entry, nil
		case <-time.After(500 * time.Millisecond):
		}
	}
}
