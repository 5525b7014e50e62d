package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type LeaveType string

const (
	LeaveTypeSick      LeaveType = "SICK"
	LeaveTypeVacation  LeaveType = "VACATION"
	LeaveTypePersonal  LeaveType = "PERSONAL"
	LeaveTypeMaternity LeaveType = "MATERNITY"
	LeaveTypePaternity LeaveType = "PATERNITY"
	LeaveTypeOther     LeaveType = "OTHER"
)

// Valid reports whether t is one of the known leave types.
func (t LeaveType) Valid() bool {
	switch t {
	case LeaveTypeSick, LeaveTypeVacation, LeaveTypePersonal,
		LeaveTypeMaternity, LeaveTypePaternity, LeaveTypeOther:
		return true
	}
	return false
}

type LeaveStatus string

const (
	LeaveStatusPending   LeaveStatus = "PENDING"
	LeaveStatusApproved  LeaveStatus = "APPROVED"
	LeaveStatusRejected  LeaveStatus = "REJECTED"
	LeaveStatusCancelled LeaveStatus = "CANCELLED"
)

// LeaveRequest is the authoritative leave request record.
type LeaveRequest struct {
	ID         int64
	EmployeeID int64
	StartDate  Date
	EndDate    Date
	DaysCount  int
	LeaveType  LeaveType
	Status     LeaveStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// LeaveRequestQueuePayload is the snapshot of a leave request sent over the queue.
type LeaveRequestQueuePayload struct {
	LeaveRequestID int64     `json:"leaveRequestId"`
	EmployeeID     int64     `json:"employeeId"`
	StartDate      Date      `json:"startDate"`
	EndDate        Date      `json:"endDate"`
	DaysCount      int       `json:"daysCount"`
	LeaveType      LeaveType `json:"leaveType"`
}

func NewLeaveRequestQueuePayload(lr *LeaveRequest) LeaveRequestQueuePayload {
	return LeaveRequestQueuePayload{
		LeaveRequestID: lr.ID,
		EmployeeID:     lr.EmployeeID,
		StartDate:      lr.StartDate,
		EndDate:        lr.EndDate,
		DaysCount:      lr.DaysCount,
		LeaveType:      lr.LeaveType,
	}
}

// Validate checks the payload invariants that a consumer relies on.
func (p LeaveRequestQueuePayload) Validate() error {
	if p.LeaveRequestID <= 0 {
		return fmt.Errorf("leaveRequestId must be positive, got %d", p.LeaveRequestID)
	}
	if p.DaysCount < 1 {
		return fmt.Errorf("daysCount must be at least 1, got %d", p.DaysCount)
	}
	if p.EndDate.Before(p.StartDate) {
		return fmt.Errorf("endDate %s is before startDate %s", p.EndDate, p.StartDate)
	}
	if !p.LeaveType.Valid() {
		return fmt.Errorf("unknown leaveType %q", p.LeaveType)
	}
	return nil
}

const dateLayout = "2006-01-02"

// Date is a calendar day without a time component, encoded as YYYY-MM-DD.
type Date struct {
	time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, err
	}
	return Date{t}, nil
}

func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
