// Package postgres implements the store on PostgreSQL through pgx.
package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"workforce-queue/internal/store"
	"workforce-queue/pkg/models"
)

const uniqueViolation = "23505"

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db   DB
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open creates a connection pool for dsn and verifies it.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "create pgx pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}
	return &Store{db: pool, pool: pool}, nil
}

// New wraps an existing connection, e.g. a transaction.
func New(db DB) *Store {
	return &Store{db: db}
}

func (s *Store) FindLeaveRequestByID(ctx context.Context, id int64) (*models.LeaveRequest, error) {
	const query = `
		SELECT id, employee_id, start_date, end_date, days_count, leave_type, status, created_at, updated_at
		FROM leave_requests
		WHERE id = $1`

	lr, err := scanLeaveRequest(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find leave request %d", id)
	}
	return lr, nil
}

func (s *Store) SaveLeaveRequest(ctx context.Context, lr *models.LeaveRequest) (*models.LeaveRequest, error) {
	if lr.ID == 0 {
		const insert = `
			INSERT INTO leave_requests (employee_id, start_date, end_date, days_count, leave_type, status)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id, employee_id, start_date, end_date, days_count, leave_type, status, created_at, updated_at`
		saved, err := scanLeaveRequest(s.db.QueryRow(ctx, insert,
			lr.EmployeeID,
			dateValue(lr.StartDate),
			dateValue(lr.EndDate),
			lr.DaysCount,
			string(lr.LeaveType),
			string(lr.Status),
		))
		if err != nil {
			return nil, errors.Wrap(err, "insert leave request")
		}
		return saved, nil
	}

	const update = `
		UPDATE leave_requests
		SET employee_id = $2, start_date = $3, end_date = $4, days_count = $5, leave_type = $6, status = $7, updated_at = now()
		WHERE id = $1
		RETURNING id, employee_id, start_date, end_date, days_count, leave_type, status, created_at, updated_at`
	saved, err := scanLeaveRequest(s.db.QueryRow(ctx, update,
		lr.ID,
		lr.EmployeeID,
		dateValue(lr.StartDate),
		dateValue(lr.EndDate),
		lr.DaysCount,
		string(lr.LeaveType),
		string(lr.Status),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(store.ErrLeaveNotFound, "save leave request %d", lr.ID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "update leave request %d", lr.ID)
	}
	return saved, nil
}

const logColumns = `id, message_id, queue_name, payload, status, retry_count, max_retries, error_message, processed_at, created_at, updated_at`

func (s *Store) FindLogByMessageID(ctx context.Context, messageID string) (*models.ProcessingLog, error) {
	l, err := scanLog(s.db.QueryRow(ctx, `SELECT `+logColumns+` FROM queue_processing_log WHERE message_id = $1`, messageID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find log %q", messageID)
	}
	return l, nil
}

func (s *Store) CreateLog(ctx context.Context, log *models.ProcessingLog) (*models.ProcessingLog, error) {
	const insert = `
		INSERT INTO queue_processing_log
			(message_id, queue_name, payload, status, retry_count, max_retries, error_message, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + logColumns

	created, err := scanLog(s.db.QueryRow(ctx, insert,
		log.MessageID,
		log.QueueName,
		payloadValue(log.Payload),
		string(log.Status),
		log.RetryCount,
		log.MaxRetries,
		log.ErrorMessage,
		log.ProcessedAt,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, store.ErrDuplicateMessageID
		}
		return nil, errors.Wrap(err, "insert processing log")
	}
	return created, nil
}

func (s *Store) SaveLog(ctx context.Context, log *models.ProcessingLog) (*models.ProcessingLog, error) {
	const update = `
		UPDATE queue_processing_log
		SET status = $2, retry_count = $3, max_retries = $4, error_message = $5, processed_at = $6, payload = $7, updated_at = now()
		WHERE message_id = $1
		RETURNING ` + logColumns

	saved, err := scanLog(s.db.QueryRow(ctx, update,
		log.MessageID,
		string(log.Status),
		log.RetryCount,
		log.MaxRetries,
		log.ErrorMessage,
		log.ProcessedAt,
		payloadValue(log.Payload),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(store.ErrLogNotFound, "save log %q", log.MessageID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "save log %q", log.MessageID)
	}
	return saved, nil
}

func (s *Store) FindFailedLogs(ctx context.Context) ([]*models.ProcessingLog, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+logColumns+` FROM queue_processing_log WHERE status = $1 ORDER BY created_at DESC, id DESC`,
		string(models.QueueStatusFailed),
	)
	if err != nil {
		return nil, errors.Wrap(err, "query failed logs")
	}
	defer rows.Close()

	logs := make([]*models.ProcessingLog, 0)
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan failed log")
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate failed logs")
	}
	return logs, nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func scanLeaveRequest(row pgx.Row) (*models.LeaveRequest, error) {
	var (
		lr              models.LeaveRequest
		start, end      pgtype.Date
		leaveType, stat string
	)
	if err := row.Scan(
		&lr.ID, &lr.EmployeeID, &start, &end, &lr.DaysCount,
		&leaveType, &stat, &lr.CreatedAt, &lr.UpdatedAt,
	); err != nil {
		return nil, err
	}
	lr.StartDate = models.DateOf(start.Time)
	lr.EndDate = models.DateOf(end.Time)
	lr.LeaveType = models.LeaveType(leaveType)
	lr.Status = models.LeaveStatus(stat)
	return &lr, nil
}

func scanLog(row pgx.Row) (*models.ProcessingLog, error) {
	var (
		l      models.ProcessingLog
		status string
	)
	if err := row.Scan(
		&l.ID, &l.MessageID, &l.QueueName, &l.Payload, &status,
		&l.RetryCount, &l.MaxRetries, &l.ErrorMessage, &l.ProcessedAt, &l.CreatedAt, &l.UpdatedAt,
	); err != nil {
		return nil, err
	}
	l.Status = models.QueueStatus(status)
	return &l, nil
}

func dateValue(d models.Date) pgtype.Date {
	return pgtype.Date{Time: d.Time, Valid: !d.IsZero()}
}

// payloadValue keeps a nil payload as SQL NULL instead of the JSON literal null.
func payloadValue(p []byte) any {
	if p == nil {
		return nil
	}
	return string(p)
}
