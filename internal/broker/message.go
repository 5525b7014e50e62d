package broker

import (
	"encoding/json"
	"errors"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"workforce-queue/pkg/models"
)

// Delivery is a broker message handed to a Handler.
type Delivery struct {
	MessageID     string
	CorrelationID string
	Body          []byte
	Headers       map[string]interface{}
	Redelivered   bool
	Timestamp     time.Time
}

func newDelivery(d amqp.Delivery) Delivery {
	return Delivery{
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		Body:          d.Body,
		Headers:       d.Headers,
		Redelivered:   d.Redelivered,
		Timestamp:     d.Timestamp,
	}
}

// DecodeMessage parses a delivery body into a typed QueueMessage.
// Broker properties that are not part of the body are copied over.
func DecodeMessage[T any](d Delivery) (models.QueueMessage[T], error) {
	var msg models.QueueMessage[T]
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return msg, &ValidationError{MessageID: d.MessageID, Err: err}
	}
	if msg.ID == "" {
		msg.ID = d.MessageID
	}
	if msg.ID == "" {
		return msg, &ValidationError{MessageID: d.MessageID, Err: errors.New("message id is missing")}
	}
	msg.CorrelationID = d.CorrelationID
	msg.Redelivered = d.Redelivered
	return msg, nil
}
