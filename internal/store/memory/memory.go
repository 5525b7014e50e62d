// Package memory is a map-backed store for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"workforce-queue/internal/store"
	"workforce-queue/pkg/models"
)

type Store struct {
	mu         sync.RWMutex
	leaves     map[int64]models.LeaveRequest
	logs       map[string]models.ProcessingLog
	nextLeave  int64
	nextLog    int64
	now        func() time.Time
	SaveLogErr error
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		leaves: make(map[int64]models.LeaveRequest),
		logs:   make(map[string]models.ProcessingLog),
		now:    time.Now,
	}
}

func (s *Store) FindLeaveRequestByID(_ context.Context, id int64) (*models.LeaveRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lr, ok := s.leaves[id]
	if !ok {
		return nil, nil
	}
	return &lr, nil
}

func (s *Store) SaveLeaveRequest(_ context.Context, lr *models.LeaveRequest) (*models.LeaveRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	saved := *lr
	if saved.ID == 0 {
		s.nextLeave++
		saved.ID = s.nextLeave
		saved.CreatedAt = now
	} else {
		existing, ok := s.leaves[saved.ID]
		if !ok {
			return nil, errors.Wrapf(store.ErrLeaveNotFound, "save leave request %d", saved.ID)
		}
		saved.CreatedAt = existing.CreatedAt
	}
	saved.UpdatedAt = now
	s.leaves[saved.ID] = saved
	return &saved, nil
}

// DeleteLeaveRequest removes a request; used to exercise the not-found path.
func (s *Store) DeleteLeaveRequest(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.leaves, id)
}

func (s *Store) FindLogByMessageID(_ context.Context, messageID string) (*models.ProcessingLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.logs[messageID]
	if !ok {
		return nil, nil
	}
	return cloneLog(l), nil
}

func (s *Store) CreateLog(_ context.Context, log *models.ProcessingLog) (*models.ProcessingLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.logs[log.MessageID]; exists {
		return nil, store.ErrDuplicateMessageID
	}

	now := s.now()
	created := *cloneLog(*log)
	s.nextLog++
	created.ID = s.nextLog
	created.CreatedAt = now
	created.UpdatedAt = now
	s.logs[created.MessageID] = created
	return cloneLog(created), nil
}

func (s *Store) SaveLog(_ context.Context, log *models.ProcessingLog) (*models.ProcessingLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveLogErr != nil {
		return nil, s.SaveLogErr
	}
	existing, ok := s.logs[log.MessageID]
	if !ok {
		return nil, errors.Wrapf(store.ErrLogNotFound, "save log %q", log.MessageID)
	}

	saved := *cloneLog(*log)
	saved.ID = existing.ID
	saved.CreatedAt = existing.CreatedAt
	saved.UpdatedAt = s.now()
	s.logs[saved.MessageID] = saved
	return cloneLog(saved), nil
}

func (s *Store) FindFailedLogs(_ context.Context) ([]*models.ProcessingLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	failed := make([]*models.ProcessingLog, 0)
	for _, l := range s.logs {
		if l.Status == models.QueueStatusFailed {
			failed = append(failed, cloneLog(l))
		}
	}
	sort.Slice(failed, func(i, j int) bool {
		if failed[i].CreatedAt.Equal(failed[j].CreatedAt) {
			return failed[i].ID > failed[j].ID
		}
		return failed[i].CreatedAt.After(failed[j].CreatedAt)
	})
	return failed, nil
}

func (s *Store) Close() error {
	return nil
}

func cloneLog(l models.ProcessingLog) *models.ProcessingLog {
	out := l
	if l.Payload != nil {
		out.Payload = append([]byte(nil), l.Payload...)
	}
	if l.ErrorMessage != nil {
		msg := *l.ErrorMessage
		out.ErrorMessage = &msg
	}
	if l.ProcessedAt != nil {
		at := *l.ProcessedAt
		out.ProcessedAt = &at
	}
	return &out
}
