package service

import "fmt"

// NotFoundError reports that the leave request named by a message does not
// exist (yet). It is retried: the request may still be committing.
type NotFoundError struct {
	LeaveRequestID int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("leave request #%d not found", e.LeaveRequestID)
}

// ValidationError reports a payload that can never be processed.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid leave request payload: %v", e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Permanent() bool {
	return true
}
