package broker

import (
	"context"
	"errors"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

type declaredQueue struct {
	Name string
	Args amqp.Table
}

type binding struct {
	Queue, Key, Exchange string
}

type fakeChannel struct {
	mu         sync.Mutex
	exchanges  []string
	queues     []declaredQueue
	bindings   []binding
	published  []amqp.Publishing
	routes     []string
	prefetch   int
	consumed   string
	deliveries chan amqp.Delivery
	closed     bool
	publishErr error
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: make(chan amqp.Delivery, 16)}
}

func (c *fakeChannel) ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exchanges = append(c.exchanges, name)
	return nil
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queues = append(c.queues, declaredQueue{Name: name, Args: args})
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindings = append(c.bindings, binding{Queue: name, Key: key, Exchange: exchange})
	return nil
}

func (c *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prefetch = prefetchCount
	return nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publishErr != nil {
		return c.publishErr
	}
	c.published = append(c.published, msg)
	c.routes = append(c.routes, exchange+"/"+key)
	return nil
}

func (c *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumed = queue
	return c.deliveries, nil
}

func (c *fakeChannel) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeChannel) consuming() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.consumed
}

type fakeConnection struct {
	mu       sync.Mutex
	channels []*fakeChannel
	notify   []chan *amqp.Error
	closed   bool
}

func (c *fakeConnection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, amqp.ErrClosed
	}
	ch := newFakeChannel()
	c.channels = append(c.channels, ch)
	return ch, nil
}

func (c *fakeConnection) NotifyClose(receiver chan *amqp.Error) chan *amqp.Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notify = append(c.notify, receiver)
	return receiver
}

func (c *fakeConnection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConnection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// drop simulates the server closing the connection.
func (c *fakeConnection) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for _, ch := range c.channels {
		ch.closed = true
		close(ch.deliveries)
	}
	for _, n := range c.notify {
		n <- &amqp.Error{Code: amqp.ConnectionForced, Reason: "forced"}
	}
}

func (c *fakeConnection) watched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notify) > 0
}

func (c *fakeConnection) channel(i int) *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	if i >= len(c.channels) {
		return nil
	}
	return c.channels[i]
}

func (c *fakeConnection) channelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.channels)
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConnection
	err   error
}

func (d *fakeDialer) Dial(string) (Connection, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	conn := &fakeConnection{}
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) conn(i int) *fakeConnection {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) fail(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

type ackRecord struct {
	Tag     uint64
	Ack     bool
	Requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	records []ackRecord
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{Tag: tag, Ack: true})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records, ackRecord{Tag: tag, Requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return errors.New("reject is not used")
}

func (a *fakeAcknowledger) all() []ackRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ackRecord, len(a.records))
	copy(out, a.records)
	return out
}
