package broker

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"workforce-queue/config/topology"
)

// declareTopology asserts both exchanges, the dead-letter queue and the main
// queue for t. Every declaration is idempotent on the broker side.
func declareTopology(ch Channel, t topology.Config) error {
	if err := ch.ExchangeDeclare(t.Exchange, topology.ExchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.Exchange, err)
	}
	if err := ch.ExchangeDeclare(t.DeadLetterExchange, topology.ExchangeKind, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", t.DeadLetterExchange, err)
	}

	if _, err := ch.QueueDeclare(t.DLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.DLQ, err)
	}
	if err := ch.QueueBind(t.DLQ, t.RoutingKey, t.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.DLQ, err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    t.DeadLetterExchange,
		"x-dead-letter-routing-key": t.RoutingKey,
	}
	if _, err := ch.QueueDeclare(t.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("declare queue %s: %w", t.Queue, err)
	}
	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", t.Queue, err)
	}
	return nil
}
