package dedupe

import (
	"context"
	"sync"
)

// MockStore is a mock implementation of Store for testing
type MockStore struct {
	mu          sync.RWMutex
	ExistsFunc  func(ctx context.Context, messageID string) (bool, error)
	AddFunc     func(ctx context.Context, messageID string) error
	existingIDs map[string]bool
}

func NewMockStore() *MockStore {
	return &MockStore{
		existingIDs: make(map[string]bool),
	}
}

func (m *MockStore) Exists(ctx context.Context, messageID string) (bool, error) {
	if m.ExistsFunc != nil {
		return m.ExistsFunc(ctx, messageID)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.existingIDs[messageID], nil
}

func (m *MockStore) Add(ctx context.Context, messageID string) error {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, messageID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.existingIDs[messageID] = true
	return nil
}

func (m *MockStore) Close() error {
	return nil
}

func (m *MockStore) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.existingIDs = make(map[string]bool)
}
