package service

import (
	"errors"
	"time"

	"workforce-queue/pkg/models"
)

// AutoApproveMaxDays is the longest leave approved without a manager.
const AutoApproveMaxDays = 2

// EvaluateLeaveRequest returns the status a leave of daysCount days gets.
func EvaluateLeaveRequest(daysCount int) models.LeaveStatus {
	if daysCount <= AutoApproveMaxDays {
		return models.LeaveStatusApproved
	}
	return models.LeaveStatusPending
}

// BusinessDays counts the weekdays between start and end, both inclusive.
func BusinessDays(start, end models.Date) int {
	count := 0
	for d := start.Time; !d.After(end.Time); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			count++
		}
	}
	return count
}

// NewLeaveRequest builds a PENDING request whose day count excludes weekends.
func NewLeaveRequest(employeeID int64, start, end models.Date, leaveType models.LeaveType) (*models.LeaveRequest, error) {
	if employeeID <= 0 {
		return nil, &ValidationError{Err: errors.New("employee id must be positive")}
	}
	if !leaveType.Valid() {
		return nil, &ValidationError{Err: errors.New("unknown leave type " + string(leaveType))}
	}
	if end.Before(start) {
		return nil, &ValidationError{Err: errors.New("end date is before start date")}
	}
	days := BusinessDays(start, end)
	if days == 0 {
		return nil, &ValidationError{Err: errors.New("leave covers no business days")}
	}

	return &models.LeaveRequest{
		EmployeeID: employeeID,
		StartDate:  start,
		EndDate:    end,
		DaysCount:  days,
		LeaveType:  leaveType,
		Status:     models.LeaveStatusPending,
	}, nil
}
