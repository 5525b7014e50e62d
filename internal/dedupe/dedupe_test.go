package dedupe

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryStore(t *testing.T) {
	store := NewInMemoryStore(time.Hour)
	defer store.Close()
	ctx := context.Background()

	exists, err := store.Exists(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Add(ctx, "msg-1"))

	exists, err = store.Exists(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestInMemoryStore_Expiry(t *testing.T) {
	store := NewInMemoryStore(time.Minute)
	defer store.Close()
	ctx := context.Background()

	now := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	require.NoError(t, store.Add(ctx, "msg-1"))

	now = now.Add(2 * time.Minute)
	exists, err := store.Exists(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, exists)

	store.evictExpired()
	assert.Empty(t, store.store)
}

func TestInMemoryStore_CloseIsIdempotent(t *testing.T) {
	store := NewInMemoryStore(time.Minute)
	assert.NoError(t, store.Close())
	assert.NoError(t, store.Close())
}

func TestMockStore(t *testing.T) {
	mock := NewMockStore()
	ctx := context.Background()

	require.NoError(t, mock.Add(ctx, "msg-1"))
	exists, _ := mock.Exists(ctx, "msg-1")
	assert.True(t, exists)

	mock.Reset()
	exists, _ = mock.Exists(ctx, "msg-1")
	assert.False(t, exists)

	mock.ExistsFunc = func(ctx context.Context, messageID string) (bool, error) {
		return false, errors.New("unavailable")
	}
	_, err := mock.Exists(ctx, "msg-1")
	assert.Error(t, err)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("LEAVEQ_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LEAVEQ_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()

	store := NewRedisStore(RedisConfig{Addr: addr, TTL: time.Minute, Prefix: "leaveq:test:" + uuid.NewString() + ":"})
	defer store.Close()
	require.NoError(t, store.Ping(ctx))

	exists, err := store.Exists(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Add(ctx, "msg-1"))

	exists, err = store.Exists(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, exists)
}
