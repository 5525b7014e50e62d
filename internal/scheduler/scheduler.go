// Package scheduler runs delayed one-shot tasks that can be cancelled and
// drained on shutdown.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"workforce-queue/internal/observability"
)

var ErrShutdown = errors.New("scheduler is shut down")

// Task is run once its delay elapses. The context is cancelled when a
// shutdown deadline expires while the task is still running.
type Task func(ctx context.Context)

// CancelFunc stops a scheduled task. It reports false when the task
// already started or was cancelled before.
type CancelFunc func() bool

type Scheduler struct {
	mu     sync.Mutex
	timers map[uint64]*time.Timer
	nextID uint64
	closed bool

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *logrus.Entry
}

func New(logger *logrus.Entry) *Scheduler {
	if logger == nil {
		logger = observability.Component("scheduler")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		timers: make(map[uint64]*time.Timer),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Schedule runs task after delay on its own goroutine.
func (s *Scheduler) Schedule(delay time.Duration, task Task) (CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrShutdown
	}

	id := s.nextID
	s.nextID++
	s.wg.Add(1)
	s.timers[id] = time.AfterFunc(delay, func() { s.run(id, task) })

	return func() bool { return s.stop(id) }, nil
}

func (s *Scheduler) run(id uint64, task Task) {
	s.mu.Lock()
	if _, ok := s.timers[id]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.timers, id)
	s.mu.Unlock()

	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.WithField("panic", r).Error("Scheduled task panicked")
		}
	}()
	task(s.ctx)
}

func (s *Scheduler) stop(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer, ok := s.timers[id]
	if !ok {
		return false
	}
	timer.Stop()
	delete(s.timers, id)
	s.wg.Done()
	return true
}

// Pending returns the number of tasks waiting for their delay.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Shutdown cancels every task that has not started and waits for running
// tasks to finish. If ctx ends first, running tasks see their context
// cancelled and ctx.Err() is returned.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cancelled := len(s.timers)
	for id, timer := range s.timers {
		timer.Stop()
		delete(s.timers, id)
		s.wg.Done()
	}
	s.mu.Unlock()

	if cancelled > 0 {
		s.logger.WithField("cancelled", cancelled).Info("Cancelled pending tasks")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		s.logger.Warn("Shutdown deadline exceeded, abandoning running tasks")
		return ctx.Err()
	}
}
