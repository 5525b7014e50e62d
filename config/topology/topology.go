// Package topology holds the fixed broker names shared by producers and consumers.
package topology

import "workforce-queue/pkg/models"

const (
	MainExchange       = "workforce.direct"
	DeadLetterExchange = "workforce.dlx"
	ExchangeKind       = "direct"
	PrefetchCount      = 1
)

// Config describes the exchanges and queues asserted for one logical queue.
type Config struct {
	Exchange           string
	DeadLetterExchange string
	Queue              string
	RoutingKey         string
	DLQ                string
	PrefetchCount      int
}

// For returns the topology of queue q.
func For(q models.QueueName) Config {
	return Config{
		Exchange:           MainExchange,
		DeadLetterExchange: DeadLetterExchange,
		Queue:              q.String(),
		RoutingKey:         q.String(),
		DLQ:                q.DLQ(),
		PrefetchCount:      PrefetchCount,
	}
}
