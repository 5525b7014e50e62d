package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workforce-queue/pkg/models"
	"workforce-queue/pkg/retry"
)

func TestEvaluateLeaveRequest(t *testing.T) {
	tests := []struct {
		days int
		want models.LeaveStatus
	}{
		{days: 1, want: models.LeaveStatusApproved},
		{days: 2, want: models.LeaveStatusApproved},
		{days: 3, want: models.LeaveStatusPending},
		{days: 5, want: models.LeaveStatusPending},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, EvaluateLeaveRequest(tt.days), "days=%d", tt.days)
	}
}

func TestBusinessDays(t *testing.T) {
	// 2025-01-06 is a Monday
	mon := models.NewDate(2025, time.January, 6)
	fri := models.NewDate(2025, time.January, 10)
	sat := models.NewDate(2025, time.January, 11)
	sun := models.NewDate(2025, time.January, 12)
	nextTue := models.NewDate(2025, time.January, 14)

	assert.Equal(t, 5, BusinessDays(mon, fri))
	assert.Equal(t, 1, BusinessDays(mon, mon))
	assert.Equal(t, 0, BusinessDays(sat, sun))
	assert.Equal(t, 7, BusinessDays(mon, nextTue))
	assert.Equal(t, 0, BusinessDays(fri, mon))
}

func TestNewLeaveRequest(t *testing.T) {
	lr, err := NewLeaveRequest(3, models.NewDate(2025, time.January, 9), models.NewDate(2025, time.January, 13), models.LeaveTypeSick)
	require.NoError(t, err)
	assert.Equal(t, int64(3), lr.EmployeeID)
	assert.Equal(t, 3, lr.DaysCount)
	assert.Equal(t, models.LeaveStatusPending, lr.Status)

	_, err = NewLeaveRequest(3, models.NewDate(2025, time.January, 11), models.NewDate(2025, time.January, 12), models.LeaveTypeSick)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.True(t, retry.IsPermanent(err))

	_, err = NewLeaveRequest(3, models.NewDate(2025, time.January, 10), models.NewDate(2025, time.January, 6), models.LeaveTypeSick)
	assert.ErrorAs(t, err, &validationErr)

	_, err = NewLeaveRequest(3, models.NewDate(2025, time.January, 6), models.NewDate(2025, time.January, 6), "SABBATICAL")
	assert.ErrorAs(t, err, &validationErr)
}
