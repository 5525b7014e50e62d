package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"workforce-queue/internal/audit"
	"workforce-queue/internal/broker"
	"workforce-queue/internal/dedupe"
	"workforce-queue/internal/observability"
	"workforce-queue/internal/scheduler"
	"workforce-queue/internal/store"
	"workforce-queue/pkg/models"
	"workforce-queue/pkg/retry"
)

// LeaveRequestMessage is the message consumed from the leave request queue.
type LeaveRequestMessage = models.QueueMessage[models.LeaveRequestQueuePayload]

type Config struct {
	Broker     broker.Broker
	Leaves     store.LeaveRequestStore
	Logs       store.ProcessingLogStore
	Policy     retry.Policy
	Scheduler  *scheduler.Scheduler
	Dedupe     dedupe.Store
	Events     audit.Sink
	Metrics    observability.MetricsCollector
	Logger     *logrus.Entry
	Queue      models.QueueName
	MaxRetries int
	// StartRetryDelay is the wait between failed attempts to reach the broker in Start.
	StartRetryDelay time.Duration
}

// QueueConsumerService publishes leave requests and processes them exactly
// once per message id, recording every attempt in the processing log.
type QueueConsumerService struct {
	broker          broker.Broker
	leaves          store.LeaveRequestStore
	logs            store.ProcessingLogStore
	policy          retry.Policy
	scheduler       *scheduler.Scheduler
	dedupe          dedupe.Store
	events          audit.Sink
	metrics         observability.MetricsCollector
	logger          *logrus.Entry
	queue           models.QueueName
	maxRetries      int
	startRetryDelay time.Duration
}

func NewQueueConsumerService(cfg Config) (*QueueConsumerService, error) {
	if cfg.Broker == nil {
		return nil, errors.New("broker is required")
	}
	if cfg.Leaves == nil || cfg.Logs == nil {
		return nil, errors.New("leave request and processing log stores are required")
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Component("queue-service")
	}
	if cfg.Policy == nil {
		cfg.Policy = retry.NewPolicy(retry.PolicyExponential)
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = scheduler.New(cfg.Logger)
	}
	if cfg.Dedupe == nil {
		cfg.Dedupe = dedupe.Nop{}
	}
	if cfg.Events == nil {
		cfg.Events = audit.Nop{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewInMemoryMetrics()
	}
	if cfg.Queue == "" {
		cfg.Queue = models.QueueLeaveRequested
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = models.DefaultMaxRetries
	}
	if cfg.StartRetryDelay <= 0 {
		cfg.StartRetryDelay = 10 * time.Second
	}

	return &QueueConsumerService{
		broker:          cfg.Broker,
		leaves:          cfg.Leaves,
		logs:            cfg.Logs,
		policy:          cfg.Policy,
		scheduler:       cfg.Scheduler,
		dedupe:          cfg.Dedupe,
		events:          cfg.Events,
		metrics:         cfg.Metrics,
		logger:          cfg.Logger,
		queue:           cfg.Queue,
		maxRetries:      cfg.MaxRetries,
		startRetryDelay: cfg.StartRetryDelay,
	}, nil
}

// Publish sends a snapshot of lr to the queue and records it as PROCESSING.
// When the broker is unavailable a FAILED record is written under a local
// id instead; that id is returned without an error so callers can look the
// outcome up with LogStatus. Once the broker has accepted the message the
// error is always nil: a missing record is created by the consumer.
func (s *QueueConsumerService) Publish(ctx context.Context, lr *models.LeaveRequest) (string, error) {
	payload := models.NewLeaveRequestQueuePayload(lr)
	logger := s.logger.WithField("leave_request_id", lr.ID)

	messageID, pubErr := s.broker.Publish(ctx, s.queue.String(), payload)
	if pubErr == nil {
		logger = logger.WithField("message_id", messageID)
		entry, err := s.newLog(messageID, payload, models.QueueStatusProcessing)
		if err == nil {
			_, err = s.logs.CreateLog(ctx, entry)
		}
		// a duplicate means the consumer got to the message first
		if err != nil && !errors.Is(err, store.ErrDuplicateMessageID) {
			logger.WithError(err).Warn("Published message not recorded, consumer will create the record")
		}
		logger.Info("Leave request published")
		return messageID, nil
	}

	messageID = uuid.NewString()
	logger.WithError(pubErr).WithField("message_id", messageID).Error("Failed to publish leave request")

	entry, err := s.newLog(messageID, payload, models.QueueStatusFailed)
	if err != nil {
		return "", err
	}
	entry.SetError(pubErr)
	created, err := s.logs.CreateLog(ctx, entry)
	if err != nil {
		return "", fmt.Errorf("record failed publish: %w", err)
	}
	s.emit(ctx, created)
	return messageID, nil
}

// Handle processes one leave request message. Processing failures are
// recorded in the processing log and scheduled for retry, so Handle only
// returns an error when the log itself cannot be read or written. The
// broker then dead-letters the delivery instead of acking unrecorded work.
func (s *QueueConsumerService) Handle(ctx context.Context, msg LeaveRequestMessage) error {
	key := msg.LogKey()
	logger := s.logger.WithFields(logrus.Fields{
		"message_id":       msg.ID,
		"log_key":          key,
		"leave_request_id": msg.Data.LeaveRequestID,
	})

	if seen, err := s.dedupe.Exists(ctx, key); err != nil {
		logger.WithError(err).Warn("Dedupe lookup failed, falling back to processing log")
	} else if seen {
		s.metrics.IncDuplicate(s.queue.String())
		logger.Info("Message already processed, skipping")
		return nil
	}

	entry, proceed, err := s.acquireLog(ctx, key, msg.Data)
	if err != nil {
		return err
	}
	if !proceed {
		s.metrics.IncDuplicate(s.queue.String())
		logger.WithField("status", entry.Status).Info("Message already processed, skipping")
		return nil
	}

	logger.WithField("attempt", entry.RetryCount+1).Info("Processing leave request message")

	if err := s.process(ctx, msg.Data); err != nil {
		logger.WithError(err).Error("Error processing leave request message")
		return s.handleProcessingError(ctx, msg, err)
	}

	now := time.Now()
	entry.Status = models.QueueStatusCompleted
	entry.ProcessedAt = &now
	saved, err := s.logs.SaveLog(ctx, entry)
	if err != nil {
		return fmt.Errorf("mark message %s completed: %w", key, err)
	}

	if err := s.dedupe.Add(ctx, key); err != nil {
		logger.WithError(err).Warn("Failed to record message in dedupe store")
	}
	s.metrics.IncProcessed(s.queue.String())
	s.emit(ctx, saved)
	logger.Info("Successfully processed leave request")
	return nil
}

// acquireLog returns the record for key, creating it when missing, and
// reports whether processing should go ahead.
func (s *QueueConsumerService) acquireLog(ctx context.Context, key string, payload models.LeaveRequestQueuePayload) (*models.ProcessingLog, bool, error) {
	entry, err := s.logs.FindLogByMessageID(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("find processing log %s: %w", key, err)
	}

	if entry == nil {
		fresh, err := s.newLog(key, payload, models.QueueStatusProcessing)
		if err != nil {
			return nil, false, err
		}
		created, err := s.logs.CreateLog(ctx, fresh)
		switch {
		case err == nil:
			return created, true, nil
		case errors.Is(err, store.ErrDuplicateMessageID):
			// another delivery created it between the lookup and the insert
			entry, err = s.logs.FindLogByMessageID(ctx, key)
			if err != nil {
				return nil, false, fmt.Errorf("find processing log %s: %w", key, err)
			}
			if entry == nil {
				return nil, false, fmt.Errorf("processing log %s vanished after duplicate insert", key)
			}
		default:
			return nil, false, fmt.Errorf("create processing log %s: %w", key, err)
		}
	}

	if entry.Status.Terminal() {
		return entry, false, nil
	}
	if entry.Status == models.QueueStatusRetry {
		entry.Status = models.QueueStatusProcessing
		saved, err := s.logs.SaveLog(ctx, entry)
		if err != nil {
			return nil, false, fmt.Errorf("resume processing log %s: %w", key, err)
		}
		entry = saved
	}
	return entry, true, nil
}

func (s *QueueConsumerService) process(ctx context.Context, payload models.LeaveRequestQueuePayload) error {
	if err := payload.Validate(); err != nil {
		return &ValidationError{Err: err}
	}

	lr, err := s.leaves.FindLeaveRequestByID(ctx, payload.LeaveRequestID)
	if err != nil {
		return fmt.Errorf("load leave request #%d: %w", payload.LeaveRequestID, err)
	}
	if lr == nil {
		return &NotFoundError{LeaveRequestID: payload.LeaveRequestID}
	}

	lr.Status = EvaluateLeaveRequest(lr.DaysCount)
	if _, err := s.leaves.SaveLeaveRequest(ctx, lr); err != nil {
		return fmt.Errorf("save leave request #%d: %w", lr.ID, err)
	}

	s.logger.WithFields(logrus.Fields{
		"leave_request_id": lr.ID,
		"days":             lr.DaysCount,
		"status":           lr.Status,
	}).Info("Applied leave request rules")
	return nil
}

// handleProcessingError records procErr and either schedules a retry or marks
// the message FAILED. It returns an error only when that outcome could not be
// persisted.
func (s *QueueConsumerService) handleProcessingError(ctx context.Context, msg LeaveRequestMessage, procErr error) error {
	key := msg.LogKey()
	logger := s.logger.WithField("log_key", key)

	entry, err := s.logs.FindLogByMessageID(ctx, key)
	if err != nil {
		return fmt.Errorf("load processing log %s after %v: %w", key, procErr, err)
	}
	if entry == nil {
		logger.Error("Processing log not found, cannot schedule retry")
		return nil
	}

	entry.SetError(procErr)
	entry.RetryCount++

	if !s.policy.ShouldRetry(entry.RetryCount, entry.MaxRetries, procErr) {
		entry.Status = models.QueueStatusFailed
		saved, err := s.logs.SaveLog(ctx, entry)
		if err != nil {
			return fmt.Errorf("mark message %s failed: %w", key, err)
		}
		s.metrics.IncFailed(s.queue.String())
		s.emit(ctx, saved)
		logger.WithFields(logrus.Fields{
			"retry_count": entry.RetryCount,
			"max_retries": entry.MaxRetries,
		}).Error("Giving up on message")
		return nil
	}

	entry.Status = models.QueueStatusRetry
	saved, err := s.logs.SaveLog(ctx, entry)
	if err != nil {
		return fmt.Errorf("mark message %s for retry: %w", key, err)
	}
	s.metrics.IncRetried(s.queue.String())
	s.emit(ctx, saved)

	delay := s.policy.NextDelay(entry.RetryCount)
	logger.WithFields(logrus.Fields{
		"attempt": entry.RetryCount,
		"delay":   delay,
	}).Info("Scheduling retry")
	s.scheduleRetry(key, msg.Data, entry.RetryCount, delay, procErr)
	return nil
}

// scheduleRetry republishes payload after delay. The new message carries
// key as its correlation id so it resolves to the same processing log.
func (s *QueueConsumerService) scheduleRetry(key string, payload models.LeaveRequestQueuePayload, attempt int, delay time.Duration, cause error) {
	_, err := s.scheduler.Schedule(delay, func(ctx context.Context) {
		id, err := s.broker.Publish(ctx, s.queue.String(), payload,
			broker.WithCorrelationID(key),
			broker.WithHeader(models.HeaderRetryAttempt, int32(attempt)),
			broker.WithHeader(models.HeaderFailureReason, cause.Error()),
		)
		if err != nil {
			s.failRetry(ctx, key, err)
			return
		}
		s.logger.WithFields(logrus.Fields{
			"log_key":    key,
			"message_id": id,
			"attempt":    attempt,
		}).Info("Retry published")
	})
	if err != nil {
		s.logger.WithError(err).WithField("log_key", key).Warn("Retry not scheduled, message stays in RETRY")
	}
}

// failRetry marks the record FAILED when its retry could not be republished.
func (s *QueueConsumerService) failRetry(ctx context.Context, key string, pubErr error) {
	logger := s.logger.WithField("log_key", key)
	logger.WithError(pubErr).Error("Failed to publish retry")

	entry, err := s.logs.FindLogByMessageID(ctx, key)
	if err != nil || entry == nil || entry.Status != models.QueueStatusRetry {
		return
	}
	entry.Status = models.QueueStatusFailed
	entry.SetError(fmt.Errorf("republish retry: %w", pubErr))
	saved, err := s.logs.SaveLog(ctx, entry)
	if err != nil {
		logger.WithError(err).Error("Failed to mark message failed")
		return
	}
	s.metrics.IncFailed(s.queue.String())
	s.emit(ctx, saved)
}

// Start connects to the broker, retrying every StartRetryDelay, then
// consumes the queue until ctx is cancelled.
func (s *QueueConsumerService) Start(ctx context.Context) error {
	s.logger.Info("Starting leave request queue consumer")

	for {
		err := s.broker.Connect(ctx)
		if err == nil {
			break
		}
		if errors.Is(err, broker.ErrClosed) {
			return err
		}
		s.logger.WithError(err).Error("Failed to start leave request consumer, retrying")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.startRetryDelay):
		}
	}

	s.logger.WithField("queue", s.queue).Info("Consumer started")
	return broker.ConsumeJSON(ctx, s.broker, s.queue.String(), s.Handle)
}

// Shutdown cancels retries that have not fired and waits for running ones.
func (s *QueueConsumerService) Shutdown(ctx context.Context) error {
	pending := s.scheduler.Pending()
	if err := s.scheduler.Shutdown(ctx); err != nil {
		return fmt.Errorf("drain retries: %w", err)
	}
	s.logger.WithField("cancelled_retries", pending).Info("Queue consumer stopped")
	return nil
}

// LogStatus returns the processing log recorded for messageID.
func (s *QueueConsumerService) LogStatus(ctx context.Context, messageID string) (*models.ProcessingLog, error) {
	entry, err := s.logs.FindLogByMessageID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("message %s: %w", messageID, store.ErrLogNotFound)
	}
	return entry, nil
}

// FailedLogs lists messages that exhausted their retries or could not be published.
func (s *QueueConsumerService) FailedLogs(ctx context.Context) ([]*models.ProcessingLog, error) {
	return s.logs.FindFailedLogs(ctx)
}

func (s *QueueConsumerService) newLog(messageID string, payload models.LeaveRequestQueuePayload, status models.QueueStatus) (*models.ProcessingLog, error) {
	entry, err := models.NewProcessingLog(messageID, s.queue, payload, status)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	entry.MaxRetries = s.maxRetries
	return entry, nil
}

func (s *QueueConsumerService) emit(ctx context.Context, entry *models.ProcessingLog) {
	if err := s.events.Emit(ctx, audit.EventFromLog(entry)); err != nil {
		s.logger.WithError(err).WithField("message_id", entry.MessageID).Warn("Failed to emit processing event")
	}
}
