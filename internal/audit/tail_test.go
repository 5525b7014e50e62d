package audit

import (
	"context"
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

type mockReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
}

func (r *mockReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *mockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *mockReader) Close() error {
	r.closed = true
	return nil
}

func (r *mockReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func newTail(r *mockReader) *Tail {
	return NewKafkaTail(TailConfig{
		Reader:       r,
		Logger:       observability.NopEntry(),
		ErrorBackoff: time.Millisecond,
	})
}

func TestTail_DeliversAndCommits(t *testing.T) {
	r := &mockReader{
		fetchErrs: []error{errors.New("broker not available")},
		queue: []kafka.Message{
			{Offset: 1, Value: []byte(`{"messageId":"msg-1","status":"RETRY","retryCount":1}`)},
			{Offset: 2, Value: []byte(`not json`)},
			{Offset: 3, Value: []byte(`{"messageId":"msg-1","status":"COMPLETED","retryCount":1}`)},
		},
	}
	tail := newTail(r)

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var seen []Event
	done := make(chan error, 1)
	go func() {
		done <- tail.Run(ctx, func(_ context.Context, e Event) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, e)
			return nil
		})
	}()

	require.Eventually(t, func() bool { return len(r.commits()) == 3 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, models.QueueStatusRetry, seen[0].Status)
	assert.Equal(t, models.QueueStatusCompleted, seen[1].Status)
	assert.Equal(t, []int64{1, 2, 3}, r.commits())
}

func TestTail_HandlerErrorStopsWithoutCommit(t *testing.T) {
	r := &mockReader{queue: []kafka.Message{{Offset: 7, Value: []byte(`{"messageId":"msg-1"}`)}}}
	tail := newTail(r)

	err := tail.Run(context.Background(), func(context.Context, Event) error {
		return errors.New("sink unavailable")
	})
	require.Error(t, err)
	assert.Empty(t, r.commits())
}

func TestTail_RecoversHandlerPanic(t *testing.T) {
	r := &mockReader{queue: []kafka.Message{{Offset: 1, Value: []byte(`{"messageId":"msg-1"}`)}}}
	tail := newTail(r)

	err := tail.Run(context.Background(), func(context.Context, Event) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")
}

func TestTail_Close(t *testing.T) {
	r := &mockReader{}
	require.NoError(t, newTail(r).Close())
	assert.True(t, r.closed)
}
