package broker

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by operations on a broker after Close.
var ErrClosed = errors.New("broker closed")

// ConnectionError reports that the broker could not be reached.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("broker connection failed: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PublishError reports that a message could not be handed to the broker.
type PublishError struct {
	Queue string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %s failed: %v", e.Queue, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// ValidationError reports a delivery body that cannot be decoded.
// Retrying reproduces the same failure, so it is permanent.
type ValidationError struct {
	MessageID string
	Err       error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("malformed message %q: %v", e.MessageID, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Permanent() bool {
	return true
}
