package models

import (
	"encoding/json"
	"time"
)

type QueueStatus string

const (
	QueueStatusProcessing QueueStatus = "PROCESSING"
	QueueStatusCompleted  QueueStatus = "COMPLETED"
	QueueStatusFailed     QueueStatus = "FAILED"
	QueueStatusRetry      QueueStatus = "RETRY"
)

// Terminal reports whether no further transition is allowed from s.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusFailed
}

const DefaultMaxRetries = 3

// ProcessingLog is the audit record kept for every distinct message id.
type ProcessingLog struct {
	ID           int64
	MessageID    string
	QueueName    string
	Payload      json.RawMessage
	Status       QueueStatus
	RetryCount   int
	MaxRetries   int
	ErrorMessage *string
	ProcessedAt  *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewProcessingLog builds a record with the default retry budget.
func NewProcessingLog(messageID string, queue QueueName, payload any, status QueueStatus) (*ProcessingLog, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &ProcessingLog{
		MessageID:  messageID,
		QueueName:  queue.String(),
		Payload:    raw,
		Status:     status,
		MaxRetries: DefaultMaxRetries,
	}, nil
}

func (l *ProcessingLog) SetError(err error) {
	msg := err.Error()
	l.ErrorMessage = &msg
}
