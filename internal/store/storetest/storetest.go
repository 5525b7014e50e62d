// Package storetest holds the behaviour every store.Store implementation
// must share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workforce-queue/internal/store"
	"workforce-queue/pkg/models"
)

// Run executes the shared suite. newStore must return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("LeaveRequestRoundTrip", func(t *testing.T) { testLeaveRequestRoundTrip(t, newStore(t)) })
	t.Run("LeaveRequestMissing", func(t *testing.T) { testLeaveRequestMissing(t, newStore(t)) })
	t.Run("LogLifecycle", func(t *testing.T) { testLogLifecycle(t, newStore(t)) })
	t.Run("DuplicateMessageID", func(t *testing.T) { testDuplicateMessageID(t, newStore(t)) })
	t.Run("SaveMissingLog", func(t *testing.T) { testSaveMissingLog(t, newStore(t)) })
	t.Run("FindFailedLogs", func(t *testing.T) { testFindFailedLogs(t, newStore(t)) })
}

func newLeaveRequest() *models.LeaveRequest {
	return &models.LeaveRequest{
		EmployeeID: 7,
		StartDate:  models.NewDate(2025, time.January, 6),
		EndDate:    models.NewDate(2025, time.January, 7),
		DaysCount:  2,
		LeaveType:  models.LeaveTypeVacation,
		Status:     models.LeaveStatusPending,
	}
}

func testLeaveRequestRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	created, err := s.SaveLeaveRequest(ctx, newLeaveRequest())
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	found, err := s.FindLeaveRequestByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, int64(7), found.EmployeeID)
	assert.Equal(t, "2025-01-06", found.StartDate.String())
	assert.Equal(t, "2025-01-07", found.EndDate.String())
	assert.Equal(t, 2, found.DaysCount)
	assert.Equal(t, models.LeaveTypeVacation, found.LeaveType)
	assert.Equal(t, models.LeaveStatusPending, found.Status)

	found.Status = models.LeaveStatusApproved
	updated, err := s.SaveLeaveRequest(ctx, found)
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)

	reloaded, err := s.FindLeaveRequestByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeaveStatusApproved, reloaded.Status)
}

func testLeaveRequestMissing(t *testing.T, s store.Store) {
	ctx := context.Background()

	found, err := s.FindLeaveRequestByID(ctx, 4242)
	require.NoError(t, err)
	assert.Nil(t, found)

	missing := newLeaveRequest()
	missing.ID = 4242
	_, err = s.SaveLeaveRequest(ctx, missing)
	assert.True(t, errors.Is(err, store.ErrLeaveNotFound), "got %v", err)
}

func testLogLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	log, err := models.NewProcessingLog("msg-1", models.QueueLeaveRequested,
		map[string]int{"leaveRequestId": 1}, models.QueueStatusProcessing)
	require.NoError(t, err)

	created, err := s.CreateLog(ctx, log)
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.Equal(t, models.QueueStatusProcessing, created.Status)
	assert.Equal(t, models.DefaultMaxRetries, created.MaxRetries)
	assert.Nil(t, created.ErrorMessage)
	assert.Nil(t, created.ProcessedAt)

	created.Status = models.QueueStatusRetry
	created.RetryCount = 1
	created.SetError(errors.New("leave request not found"))
	_, err = s.SaveLog(ctx, created)
	require.NoError(t, err)

	processedAt := time.Now().Truncate(time.Millisecond)
	created.Status = models.QueueStatusCompleted
	created.ProcessedAt = &processedAt
	_, err = s.SaveLog(ctx, created)
	require.NoError(t, err)

	found, err := s.FindLogByMessageID(ctx, "msg-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)
	assert.Equal(t, models.QueueLeaveRequested.String(), found.QueueName)
	assert.Equal(t, models.QueueStatusCompleted, found.Status)
	assert.Equal(t, 1, found.RetryCount)
	require.NotNil(t, found.ErrorMessage)
	assert.Equal(t, "leave request not found", *found.ErrorMessage)
	require.NotNil(t, found.ProcessedAt)
	assert.WithinDuration(t, processedAt, *found.ProcessedAt, time.Millisecond)

	var payload map[string]int
	require.NoError(t, json.Unmarshal(found.Payload, &payload))
	assert.Equal(t, 1, payload["leaveRequestId"])

	absent, err := s.FindLogByMessageID(ctx, "msg-unknown")
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func testDuplicateMessageID(t *testing.T, s store.Store) {
	ctx := context.Background()

	first, err := models.NewProcessingLog("dup", models.QueueLeaveRequested, nil, models.QueueStatusProcessing)
	require.NoError(t, err)
	_, err = s.CreateLog(ctx, first)
	require.NoError(t, err)

	second, err := models.NewProcessingLog("dup", models.QueueLeaveRequested, nil, models.QueueStatusProcessing)
	require.NoError(t, err)
	_, err = s.CreateLog(ctx, second)
	assert.ErrorIs(t, err, store.ErrDuplicateMessageID)
}

func testSaveMissingLog(t *testing.T, s store.Store) {
	log, err := models.NewProcessingLog("never-created", models.QueueLeaveRequested, nil, models.QueueStatusFailed)
	require.NoError(t, err)

	_, err = s.SaveLog(context.Background(), log)
	assert.True(t, errors.Is(err, store.ErrLogNotFound), "got %v", err)
}

func testFindFailedLogs(t *testing.T, s store.Store) {
	ctx := context.Background()

	for _, tc := range []struct {
		id     string
		status models.QueueStatus
	}{
		{"a", models.QueueStatusFailed},
		{"b", models.QueueStatusCompleted},
		{"c", models.QueueStatusFailed},
		{"d", models.QueueStatusRetry},
	} {
		log, err := models.NewProcessingLog(tc.id, models.QueueLeaveRequested, nil, tc.status)
		require.NoError(t, err)
		_, err = s.CreateLog(ctx, log)
		require.NoError(t, err)
	}

	failed, err := s.FindFailedLogs(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "c", failed[0].MessageID)
	assert.Equal(t, "a", failed[1].MessageID)
}
