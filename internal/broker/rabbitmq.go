package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"workforce-queue/config/topology"
	"workforce-queue/internal/observability"
	"workforce-queue/pkg/models"
)

// Handler processes one delivery. A nil return acks the delivery; an error
// nacks it without requeue so the broker dead-letters it.
type Handler func(ctx context.Context, d Delivery) error

// Broker defines the message broker operations the service depends on.
type Broker interface {
	Connect(ctx context.Context) error
	Publish(ctx context.Context, queue string, data any, opts ...PublishOption) (string, error)
	Consume(ctx context.Context, queue string, handler Handler) error
	Healthy() bool
	Close() error
}

// PublishOption customizes a single publish.
type PublishOption func(p *amqp.Publishing)

// WithCorrelationID sets the AMQP correlation-id property.
func WithCorrelationID(id string) PublishOption {
	return func(p *amqp.Publishing) {
		p.CorrelationId = id
	}
}

// WithHeader adds an application header.
func WithHeader(key string, value interface{}) PublishOption {
	return func(p *amqp.Publishing) {
		if p.Headers == nil {
			p.Headers = amqp.Table{}
		}
		p.Headers[key] = value
	}
}

type Config struct {
	URL            string
	ReconnectDelay time.Duration
	ConsumerTag    string
	Dialer         Dialer
	Metrics        observability.MetricsCollector
	Logger         *logrus.Entry
	// OnError is called for every delivery the handler rejects.
	OnError func(queue string, d Delivery, err error)
}

// RabbitMQ implements Broker on a single shared AMQP connection. Publishes go
// through one channel; every consumed queue gets a channel of its own.
type RabbitMQ struct {
	url            string
	reconnectDelay time.Duration
	consumerTag    string
	dial           Dialer
	metrics        observability.MetricsCollector
	logger         *logrus.Entry
	onError        func(queue string, d Delivery, err error)

	mu       sync.Mutex
	conn     Connection
	ch       Channel
	declared map[string]bool
	closed   bool
	done     chan struct{}

	// amqp channels are not safe for concurrent publishing
	pubMu sync.Mutex
}

var _ Broker = (*RabbitMQ)(nil)

func NewRabbitMQ(cfg Config) *RabbitMQ {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.Dialer == nil {
		cfg.Dialer = DialAMQP
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewInMemoryMetrics()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.Component("broker")
	}
	if cfg.ConsumerTag == "" {
		cfg.ConsumerTag = "workforce-queue"
	}

	return &RabbitMQ{
		url:            cfg.URL,
		reconnectDelay: cfg.ReconnectDelay,
		consumerTag:    cfg.ConsumerTag,
		dial:           cfg.Dialer,
		metrics:        cfg.Metrics,
		logger:         cfg.Logger,
		onError:        cfg.OnError,
		declared:       make(map[string]bool),
		done:           make(chan struct{}),
	}
}

// Connect dials the broker and opens the publish channel. It is a no-op
// while a healthy connection exists. Once connected, losing the connection
// triggers reconnect attempts every ReconnectDelay until Close.
func (b *RabbitMQ) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	_, err := b.channelLocked()
	return err
}

// channelLocked returns the publish channel, dialing or reopening as needed.
func (b *RabbitMQ) channelLocked() (Channel, error) {
	if b.closed {
		return nil, ErrClosed
	}
	if b.conn != nil && !b.conn.IsClosed() {
		if b.ch != nil && !b.ch.IsClosed() {
			return b.ch, nil
		}
		ch, err := b.conn.Channel()
		if err != nil {
			return nil, &ConnectionError{Err: fmt.Errorf("open channel: %w", err)}
		}
		b.ch = ch
		b.declared = make(map[string]bool)
		return ch, nil
	}

	conn, err := b.dial(b.url)
	if err != nil {
		return nil, &ConnectionError{Err: err}
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, &ConnectionError{Err: fmt.Errorf("open channel: %w", err)}
	}

	b.conn = conn
	b.ch = ch
	b.declared = make(map[string]bool)
	go b.watch(conn)

	b.logger.Info("Connected to RabbitMQ")
	return ch, nil
}

// watch waits for conn to close and reconnects unless the broker was closed.
func (b *RabbitMQ) watch(conn Connection) {
	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))

	var reason *amqp.Error
	select {
	case <-b.done:
		return
	case reason = <-closeCh:
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.conn == conn {
		b.conn = nil
		b.ch = nil
	}
	b.mu.Unlock()

	entry := b.logger
	if reason != nil {
		entry = entry.WithError(reason)
	}
	entry.Warn("RabbitMQ connection lost, scheduling reconnect")
	b.reconnectLoop()
}

func (b *RabbitMQ) reconnectLoop() {
	for attempt := 1; ; attempt++ {
		select {
		case <-b.done:
			return
		case <-time.After(b.reconnectDelay):
		}

		b.metrics.IncReconnects()
		if err := b.Connect(context.Background()); err != nil {
			if errors.Is(err, ErrClosed) {
				return
			}
			b.logger.WithError(err).WithField("attempt", attempt).Error("Reconnect to RabbitMQ failed")
			continue
		}
		b.logger.WithField("attempt", attempt).Info("Reconnected to RabbitMQ")
		return
	}
}

// Publish wraps data in a QueueMessage and sends it persistently to queue
// through the main exchange. It returns the id of the published message.
func (b *RabbitMQ) Publish(ctx context.Context, queue string, data any, opts ...PublishOption) (string, error) {
	logger := b.logger.WithField("queue", queue)

	ch, err := b.publishChannel(queue)
	if err != nil {
		b.metrics.IncPublishFailed(queue)
		logger.WithError(err).Error("Broker channel not available")
		return "", &PublishError{Queue: queue, Err: err}
	}

	msg := models.QueueMessage[any]{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Data:      data,
	}
	body, err := json.Marshal(msg)
	if err != nil {
		b.metrics.IncPublishFailed(queue)
		return "", &PublishError{Queue: queue, Err: fmt.Errorf("encode message: %w", err)}
	}

	pub := amqp.Publishing{
		ContentType:  models.ContentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.Timestamp,
		Body:         body,
	}
	for _, opt := range opts {
		opt(&pub)
	}

	t := topology.For(models.QueueName(queue))
	b.pubMu.Lock()
	err = ch.PublishWithContext(ctx, t.Exchange, t.RoutingKey, false, false, pub)
	b.pubMu.Unlock()
	if err != nil {
		b.metrics.IncPublishFailed(queue)
		logger.WithError(err).Error("Failed to publish message")
		return "", &PublishError{Queue: queue, Err: err}
	}

	b.metrics.IncPublished(queue)
	logger.WithFields(logrus.Fields{
		"message_id":     msg.ID,
		"correlation_id": pub.CorrelationId,
	}).Debug("Message published")
	return msg.ID, nil
}

// publishChannel returns a connected channel with queue's topology asserted.
func (b *RabbitMQ) publishChannel(queue string) (Channel, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, err := b.channelLocked()
	if err != nil {
		return nil, err
	}
	if b.declared[queue] {
		return ch, nil
	}
	if err := declareTopology(ch, topology.For(models.QueueName(queue))); err != nil {
		return nil, err
	}
	b.declared[queue] = true
	return ch, nil
}

// Consume delivers messages from queue to handler one at a time until ctx is
// cancelled or the broker is closed. When the connection drops, Consume
// resubscribes once the broker has reconnected.
func (b *RabbitMQ) Consume(ctx context.Context, queue string, handler Handler) error {
	logger := b.logger.WithField("queue", queue)

	for {
		ch, deliveries, err := b.subscribe(queue)
		switch {
		case errors.Is(err, ErrClosed):
			return ErrClosed
		case err != nil:
			logger.WithError(err).Warn("Failed to subscribe, retrying")
		default:
			logger.Info("Consumer started")
			b.drain(ctx, queue, deliveries, handler)
			_ = ch.Close()
		}

		if ctx.Err() != nil {
			logger.Info("Consumer stopped")
			return nil
		}
		if b.isClosed() {
			return nil
		}

		select {
		case <-ctx.Done():
			logger.Info("Consumer stopped")
			return nil
		case <-b.done:
			return nil
		case <-time.After(b.reconnectDelay):
		}
	}
}

func (b *RabbitMQ) subscribe(queue string) (Channel, <-chan amqp.Delivery, error) {
	b.mu.Lock()
	if _, err := b.channelLocked(); err != nil {
		b.mu.Unlock()
		return nil, nil, err
	}
	conn := b.conn
	b.mu.Unlock()

	ch, err := conn.Channel()
	if err != nil {
		return nil, nil, &ConnectionError{Err: fmt.Errorf("open consumer channel: %w", err)}
	}

	t := topology.For(models.QueueName(queue))
	if err := declareTopology(ch, t); err != nil {
		_ = ch.Close()
		return nil, nil, err
	}
	if err := ch.Qos(t.PrefetchCount, 0, false); err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := ch.Consume(t.Queue, b.consumerTag, false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, nil, fmt.Errorf("consume %s: %w", t.Queue, err)
	}
	return ch, deliveries, nil
}

// drain handles deliveries sequentially until the channel closes or ctx ends.
func (b *RabbitMQ) drain(ctx context.Context, queue string, deliveries <-chan amqp.Delivery, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				b.logger.WithField("queue", queue).Warn("Delivery channel closed")
				return
			}
			b.handleDelivery(ctx, queue, d, handler)
		}
	}
}

func (b *RabbitMQ) handleDelivery(ctx context.Context, queue string, raw amqp.Delivery, handler Handler) {
	d := newDelivery(raw)
	logger := b.logger.WithFields(logrus.Fields{
		"queue":      queue,
		"message_id": d.MessageID,
	})
	b.metrics.IncReceived(queue)

	// a delivery that started is finished and settled even when consuming stops
	err := safeHandle(context.WithoutCancel(ctx), handler, d)
	if err == nil {
		if ackErr := raw.Ack(false); ackErr != nil {
			logger.WithError(ackErr).Error("Failed to ack message")
		}
		return
	}

	logger.WithError(err).Error("Message rejected, dead-lettering")
	if b.onError != nil {
		b.onError(queue, d, err)
	}
	if nackErr := raw.Nack(false, false); nackErr != nil {
		logger.WithError(nackErr).Error("Failed to nack message")
		return
	}
	b.metrics.IncDeadLettered(queue)
}

func safeHandle(ctx context.Context, handler Handler, d Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, d)
}

// ConsumeJSON consumes queue, decoding every delivery into a QueueMessage[T].
// Bodies that fail to decode are rejected with a ValidationError.
func ConsumeJSON[T any](ctx context.Context, b Broker, queue string, handler func(ctx context.Context, msg models.QueueMessage[T]) error) error {
	return b.Consume(ctx, queue, func(ctx context.Context, d Delivery) error {
		msg, err := DecodeMessage[T](d)
		if err != nil {
			return err
		}
		return handler(ctx, msg)
	})
}

// Healthy reports whether a connection and publish channel are open.
func (b *RabbitMQ) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.closed &&
		b.conn != nil && !b.conn.IsClosed() &&
		b.ch != nil && !b.ch.IsClosed()
}

func (b *RabbitMQ) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Close stops reconnecting and closes the publish channel and connection.
// Consumer channels close with the connection. Calling Close twice is safe.
func (b *RabbitMQ) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	close(b.done)

	if b.ch != nil && !b.ch.IsClosed() {
		if err := b.ch.Close(); err != nil {
			b.logger.WithError(err).Warn("Failed to close publish channel")
		}
	}
	b.ch = nil

	if b.conn != nil && !b.conn.IsClosed() {
		if err := b.conn.Close(); err != nil {
			b.conn = nil
			return &ConnectionError{Err: fmt.Errorf("close connection: %w", err)}
		}
	}
	b.conn = nil

	b.logger.Info("RabbitMQ connection closed")
	return nil
}
