package models

import (
	"encoding/json"
	"time"
)

// QueueName identifies a logical queue. Each name carries exactly one payload type.
type QueueName string

const (
	// QueueLeaveRequested carries LeaveRequestQueuePayload.
	QueueLeaveRequested QueueName = "leave.requested"
)

// DLQ returns the dead-letter queue bound for q.
func (q QueueName) DLQ() string {
	return string(q) + ".dlq"
}

func (q QueueName) String() string {
	return string(q)
}

// QueueMessage represents a message on the wire: {"id", "timestamp" (epoch ms), "data"}.
type QueueMessage[T any] struct {
	ID        string
	Timestamp time.Time
	Data      T

	// CorrelationID is read from the broker properties, never from the body.
	// It is set on application-level retries to the id of the message that
	// owns the processing log record.
	CorrelationID string
	Redelivered   bool
}

type wireMessage[T any] struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Data      T      `json:"data"`
}

func (m QueueMessage[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage[T]{
		ID:        m.ID,
		Timestamp: m.Timestamp.UnixMilli(),
		Data:      m.Data,
	})
}

func (m *QueueMessage[T]) UnmarshalJSON(b []byte) error {
	var w wireMessage[T]
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	m.ID = w.ID
	m.Timestamp = time.UnixMilli(w.Timestamp)
	m.Data = w.Data
	return nil
}

// LogKey returns the message id that owns the processing log record.
func (m QueueMessage[T]) LogKey() string {
	if m.CorrelationID != "" {
		return m.CorrelationID
	}
	return m.ID
}

// Message property constants
const (
	ContentTypeJSON     = "application/json"
	HeaderRetryAttempt  = "x-retry-attempt"
	HeaderFailureReason = "x-failure-reason"
)
