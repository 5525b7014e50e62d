package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"

	"workforce-queue/internal/observability"
)

// Reader is the subset of *kafka.Reader the tail uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type TailConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// FromStart replays the topic from the oldest retained event.
	FromStart bool
	Logger    *logrus.Entry
	// Reader overrides the reader built from Brokers and Topic.
	Reader Reader
	// ErrorBackoff is the wait after a failed fetch.
	ErrorBackoff time.Duration
}

// EventHandler is called once per decoded event.
type EventHandler func(ctx context.Context, e Event) error

// Tail follows the processing event topic.
type Tail struct {
	reader       Reader
	logger       *logrus.Entry
	errorBackoff time.Duration

	processed atomic.Int64
	skipped   atomic.Int64
}

func NewKafkaTail(cfg TailConfig) *Tail {
	if cfg.Logger == nil {
		cfg.Logger = observability.Component("audit-tail")
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = time.Second
	}
	if cfg.Reader == nil {
		startOffset := kafka.LastOffset
		if cfg.FromStart {
			startOffset = kafka.FirstOffset
		}
		cfg.Reader = kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			GroupID:        cfg.GroupID,
			Topic:          cfg.Topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        time.Second,
			CommitInterval: time.Second,
			StartOffset:    startOffset,
		})
	}

	return &Tail{
		reader:       cfg.Reader,
		logger:       cfg.Logger,
		errorBackoff: cfg.ErrorBackoff,
	}
}

// Run hands every event to handler until ctx is cancelled. Events are
// committed after the handler returns; undecodable events are skipped.
// A handler error stops the tail without committing the event.
func (t *Tail) Run(ctx context.Context, handler EventHandler) error {
	defer func() {
		t.logger.WithFields(logrus.Fields{
			"processed": t.processed.Load(),
			"skipped":   t.skipped.Load(),
		}).Info("Event tail stopped")
	}()

	for {
		m, err := t.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			t.logger.WithError(err).Error("Error reading processing event")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(t.errorBackoff):
			}
			continue
		}

		var e Event
		if err := json.Unmarshal(m.Value, &e); err != nil {
			t.skipped.Add(1)
			t.logger.WithError(err).WithFields(logrus.Fields{
				"partition": m.Partition,
				"offset":    m.Offset,
			}).Warn("Skipping undecodable processing event")
		} else if err := t.handle(ctx, handler, e); err != nil {
			return err
		} else {
			t.processed.Add(1)
		}

		if err := t.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			t.logger.WithError(err).Error("Failed to commit processing event")
		}
	}
}

func (t *Tail) handle(ctx context.Context, handler EventHandler, e Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.WithFields(logrus.Fields{
				"panic":      r,
				"message_id": e.MessageID,
				"stack":      string(debug.Stack()),
			}).Error("Panic in event handler")
			err = fmt.Errorf("event handler panicked: %v", r)
		}
	}()
	return handler(ctx, e)
}

func (t *Tail) Close() error {
	if err := t.reader.Close(); err != nil {
		return fmt.Errorf("close event reader: %w", err)
	}
	return nil
}
