package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workforce-queue/internal/observability"
	"workforce-queue/pkg/models"
)

type mockWriter struct {
	mu        sync.Mutex
	messages  []kafka.Message
	FailCount int
	failures  int
	closed    bool
}

func (w *mockWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failures < w.FailCount {
		w.failures++
		return errors.New("leader not available")
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *mockWriter) Close() error {
	w.closed = true
	return nil
}

func newSink(w *mockWriter, maxRetries int) *KafkaSink {
	return NewKafkaSink(KafkaConfig{
		Topic:       "leave.processing.events",
		MaxRetries:  maxRetries,
		BaseBackoff: time.Millisecond,
		Logger:      observability.NopEntry(),
		Writer:      w,
	})
}

func TestKafkaSink_Emit(t *testing.T) {
	w := &mockWriter{}
	sink := newSink(w, 3)

	msg := "leave request 9 not found"
	event := EventFromLog(&models.ProcessingLog{
		MessageID:    "msg-1",
		QueueName:    "leave.requested",
		Status:       models.QueueStatusFailed,
		RetryCount:   3,
		MaxRetries:   3,
		ErrorMessage: &msg,
	})
	require.NoError(t, sink.Emit(context.Background(), event))

	require.Len(t, w.messages, 1)
	assert.Equal(t, []byte("msg-1"), w.messages[0].Key)
	assert.Equal(t, "status", w.messages[0].Headers[0].Key)
	assert.Equal(t, []byte("FAILED"), w.messages[0].Headers[0].Value)

	var decoded Event
	require.NoError(t, json.Unmarshal(w.messages[0].Value, &decoded))
	assert.Equal(t, "msg-1", decoded.MessageID)
	assert.Equal(t, models.QueueStatusFailed, decoded.Status)
	assert.Equal(t, 3, decoded.RetryCount)
	assert.Equal(t, msg, decoded.Error)
}

func TestKafkaSink_RetriesTransientFailures(t *testing.T) {
	w := &mockWriter{FailCount: 2}
	sink := newSink(w, 3)

	require.NoError(t, sink.Emit(context.Background(), Event{MessageID: "msg-1"}))
	assert.Len(t, w.messages, 1)
}

func TestKafkaSink_GivesUpAfterMaxRetries(t *testing.T) {
	w := &mockWriter{FailCount: 10}
	sink := newSink(w, 2)

	err := sink.Emit(context.Background(), Event{MessageID: "msg-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Empty(t, w.messages)
}

func TestKafkaSink_ContextCancellation(t *testing.T) {
	w := &mockWriter{FailCount: 10}
	sink := NewKafkaSink(KafkaConfig{
		MaxRetries:  5,
		BaseBackoff: time.Second,
		Logger:      observability.NopEntry(),
		Writer:      w,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := sink.Emit(ctx, Event{MessageID: "msg-1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKafkaSink_Close(t *testing.T) {
	w := &mockWriter{}
	require.NoError(t, newSink(w, 0).Close())
	assert.True(t, w.closed)
}
