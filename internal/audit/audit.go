// Package audit publishes processing-log transitions as events so other
// systems can follow what happened to a leave request message.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"workforce-queue/internal/observability"
	"workforce-queue/pkg/models"
)

// Event describes one processing-log transition.
type Event struct {
	MessageID  string             `json:"messageId"`
	Queue      string             `json:"queue"`
	Status     models.QueueStatus `json:"status"`
	RetryCount int                `json:"retryCount"`
	MaxRetries int                `json:"maxRetries"`
	Error      string             `json:"error,omitempty"`
	OccurredAt time.Time          `json:"occurredAt"`
}

// EventFromLog snapshots the current state of l.
func EventFromLog(l *models.ProcessingLog) Event {
	e := Event{
		MessageID:  l.MessageID,
		Queue:      l.QueueName,
		Status:     l.Status,
		RetryCount: l.RetryCount,
		MaxRetries: l.MaxRetries,
		OccurredAt: time.Now().UTC(),
	}
	if l.ErrorMessage != nil {
		e.Error = *l.ErrorMessage
	}
	return e
}

// Sink receives processing events.
type Sink interface {
	Emit(ctx context.Context, e Event) error
	Close() error
}

// Writer is the subset of *kafka.Writer the sink uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaConfig struct {
	Brokers     []string
	Topic       string
	MaxRetries  int
	BaseBackoff time.Duration
	Logger      *logrus.Entry
	// Writer overrides the writer built from Brokers and Topic.
	Writer Writer
}

// KafkaSink writes events keyed by message id so all transitions of one
// message land on the same partition in order.
type KafkaSink struct {
	writer      Writer
	topic       string
	maxRetries  int
	baseBackoff time.Duration
	logger      *logrus.Entry
}

func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseBackoff == 0 {
		cfg.BaseBackoff = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Component("audit")
	}
	if cfg.Writer == nil {
		cfg.Writer = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.Topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			WriteTimeout:           10 * time.Second,
			AllowAutoTopicCreation: true,
		}
	}

	return &KafkaSink{
		writer:      cfg.Writer,
		topic:       cfg.Topic,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		logger:      cfg.Logger,
	}
}

func (s *KafkaSink) Emit(ctx context.Context, e Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.MessageID),
		Value: value,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(e.Status)},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(math.Min(
				float64(s.baseBackoff)*math.Pow(2, float64(attempt-1)),
				float64(5*time.Second),
			))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if lastErr = s.writer.WriteMessages(ctx, msg); lastErr == nil {
			return nil
		}
		s.logger.WithError(lastErr).WithFields(logrus.Fields{
			"topic":      s.topic,
			"message_id": e.MessageID,
			"attempt":    attempt + 1,
		}).Warn("Failed to write processing event")
	}
	return fmt.Errorf("write processing event after %d attempts: %w", s.maxRetries+1, lastErr)
}

func (s *KafkaSink) Close() error {
	if err := s.writer.Close(); err != nil {
		return fmt.Errorf("close event writer: %w", err)
	}
	return nil
}

// Nop discards every event.
type Nop struct{}

func (Nop) Emit(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }
