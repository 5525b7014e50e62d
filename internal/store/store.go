// Package store defines the persistence the queue consumer depends on.
// Implementations live in the memory, sqlite and postgres subpackages.
package store

import (
	"context"

	"github.com/go-faster/errors"

	"workforce-queue/pkg/models"
)

var (
	// ErrDuplicateMessageID is returned by CreateLog when a record for the
	// message id already exists. Callers treat it as "already seen".
	ErrDuplicateMessageID = errors.New("processing log already exists for message id")
	ErrLogNotFound        = errors.New("processing log not found")
	ErrLeaveNotFound      = errors.New("leave request not found")
)

type LeaveRequestStore interface {
	// FindLeaveRequestByID returns nil and no error when the request does not exist.
	FindLeaveRequestByID(ctx context.Context, id int64) (*models.LeaveRequest, error)
	// SaveLeaveRequest inserts lr when its ID is zero and updates it otherwise.
	SaveLeaveRequest(ctx context.Context, lr *models.LeaveRequest) (*models.LeaveRequest, error)
}

type ProcessingLogStore interface {
	// FindLogByMessageID returns nil and no error when no record exists.
	FindLogByMessageID(ctx context.Context, messageID string) (*models.ProcessingLog, error)
	CreateLog(ctx context.Context, log *models.ProcessingLog) (*models.ProcessingLog, error)
	SaveLog(ctx context.Context, log *models.ProcessingLog) (*models.ProcessingLog, error)
	// FindFailedLogs returns FAILED records, newest first.
	FindFailedLogs(ctx context.Context) ([]*models.ProcessingLog, error)
}

// Store bundles both stores behind a single backend.
type Store interface {
	LeaveRequestStore
	ProcessingLogStore
	Close() error
}
