package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MockBroker is an in-process Broker for testing
type MockBroker struct {
	mu                sync.RWMutex
	PublishedMessages []PublishedMessage
	PublishFunc       func(ctx context.Context, queue string, data any, opts ...PublishOption) (string, error)
	ConnectFunc       func(ctx context.Context) error
	CloseFunc         func() error
	FailCount         int
	failureCounter    int
	handlers          map[string]Handler
	closed            bool
}

type PublishedMessage struct {
	Queue         string
	ID            string
	Body          []byte
	Data          any
	CorrelationID string
	Headers       map[string]interface{}
}

// Delivery converts the published message into what a consumer would receive.
func (p PublishedMessage) Delivery() Delivery {
	return Delivery{
		MessageID:     p.ID,
		CorrelationID: p.CorrelationID,
		Body:          p.Body,
		Headers:       p.Headers,
	}
}

var _ Broker = (*MockBroker)(nil)

func NewMockBroker() *MockBroker {
	return &MockBroker{
		PublishedMessages: make([]PublishedMessage, 0),
		handlers:          make(map[string]Handler),
	}
}

func (m *MockBroker) Connect(ctx context.Context) error {
	if m.ConnectFunc != nil {
		return m.ConnectFunc(ctx)
	}
	return nil
}

func (m *MockBroker) Publish(ctx context.Context, queue string, data any, opts ...PublishOption) (string, error) {
	if m.PublishFunc != nil {
		return m.PublishFunc(ctx, queue, data, opts...)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Simulate failures for testing the publish failure path
	if m.FailCount > 0 {
		m.failureCounter++
		if m.failureCounter <= m.FailCount {
			return "", &PublishError{Queue: queue, Err: fmt.Errorf("simulated publish failure %d", m.failureCounter)}
		}
	}

	pub := amqp.Publishing{MessageId: uuid.NewString()}
	for _, opt := range opts {
		opt(&pub)
	}
	body, err := json.Marshal(map[string]any{
		"id":        pub.MessageId,
		"timestamp": time.Now().UnixMilli(),
		"data":      data,
	})
	if err != nil {
		return "", &PublishError{Queue: queue, Err: err}
	}

	m.PublishedMessages = append(m.PublishedMessages, PublishedMessage{
		Queue:         queue,
		ID:            pub.MessageId,
		Body:          body,
		Data:          data,
		CorrelationID: pub.CorrelationId,
		Headers:       pub.Headers,
	})
	return pub.MessageId, nil
}

// Consume registers handler for queue and blocks until ctx is cancelled.
func (m *MockBroker) Consume(ctx context.Context, queue string, handler Handler) error {
	m.mu.Lock()
	m.handlers[queue] = handler
	m.mu.Unlock()

	<-ctx.Done()

	m.mu.Lock()
	delete(m.handlers, queue)
	m.mu.Unlock()
	return nil
}

// Deliver hands d to the handler registered for queue.
func (m *MockBroker) Deliver(ctx context.Context, queue string, d Delivery) error {
	m.mu.RLock()
	handler, ok := m.handlers[queue]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("no consumer registered for %s", queue)
	}
	return safeHandle(ctx, handler, d)
}

// HasConsumer reports whether a consumer is registered for queue.
func (m *MockBroker) HasConsumer(queue string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.handlers[queue]
	return ok
}

func (m *MockBroker) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}

func (m *MockBroker) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

func (m *MockBroker) GetPublishedMessages() []PublishedMessage {
	m.mu.RLock()
	defer m.mu.RUnlock()

	messages := make([]PublishedMessage, len(m.PublishedMessages))
	copy(messages, m.PublishedMessages)
	return messages
}

func (m *MockBroker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.PublishedMessages = make([]PublishedMessage, 0)
	m.failureCounter = 0
}
