// Package sqlite implements the store on an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"workforce-queue/internal/store"
	"workforce-queue/pkg/models"
)

type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open connects to the database file at path. The schema is created by
// the migrations package.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// one writer avoids SQLITE_BUSY between the consumer and retry goroutines
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite")
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) FindLeaveRequestByID(ctx context.Context, id int64) (*models.LeaveRequest, error) {
	const query = `
		SELECT id, employee_id, start_date, end_date, days_count, leave_type, status, created_at, updated_at
		FROM leave_requests
		WHERE id = ?;`

	var (
		lr                   models.LeaveRequest
		start, end           string
		createdAt, updatedAt int64
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&lr.ID, &lr.EmployeeID, &start, &end, &lr.DaysCount,
		&lr.LeaveType, &lr.Status, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find leave request %d", id)
	}

	if lr.StartDate, err = models.ParseDate(start); err != nil {
		return nil, errors.Wrap(err, "parse start_date")
	}
	if lr.EndDate, err = models.ParseDate(end); err != nil {
		return nil, errors.Wrap(err, "parse end_date")
	}
	lr.CreatedAt = time.UnixMilli(createdAt)
	lr.UpdatedAt = time.UnixMilli(updatedAt)
	return &lr, nil
}

func (s *Store) SaveLeaveRequest(ctx context.Context, lr *models.LeaveRequest) (*models.LeaveRequest, error) {
	now := s.now()
	saved := *lr
	saved.UpdatedAt = now

	if saved.ID == 0 {
		saved.CreatedAt = now
		const insert = `
			INSERT INTO leave_requests (employee_id, start_date, end_date, days_count, leave_type, status, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?);`
		res, err := s.db.ExecContext(ctx, insert,
			saved.EmployeeID,
			saved.StartDate.String(),
			saved.EndDate.String(),
			saved.DaysCount,
			string(saved.LeaveType),
			string(saved.Status),
			now.UnixMilli(),
			now.UnixMilli(),
		)
		if err != nil {
			return nil, errors.Wrap(err, "insert leave request")
		}
		if saved.ID, err = res.LastInsertId(); err != nil {
			return nil, errors.Wrap(err, "read leave request id")
		}
		return &saved, nil
	}

	const update = `
		UPDATE leave_requests
		SET employee_id = ?, start_date = ?, end_date = ?, days_count = ?, leave_type = ?, status = ?, updated_at = ?
		WHERE id = ?
		RETURNING created_at;`
	var createdAt int64
	err := s.db.QueryRowContext(ctx, update,
		saved.EmployeeID,
		saved.StartDate.String(),
		saved.EndDate.String(),
		saved.DaysCount,
		string(saved.LeaveType),
		string(saved.Status),
		now.UnixMilli(),
		saved.ID,
	).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(store.ErrLeaveNotFound, "save leave request %d", saved.ID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "update leave request %d", saved.ID)
	}
	saved.CreatedAt = time.UnixMilli(createdAt)
	return &saved, nil
}

const logColumns = `id, message_id, queue_name, payload, status, retry_count, max_retries, error_message, processed_at, created_at, updated_at`

func (s *Store) FindLogByMessageID(ctx context.Context, messageID string) (*models.ProcessingLog, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+logColumns+` FROM queue_processing_log WHERE message_id = ?;`, messageID)
	l, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "find log %q", messageID)
	}
	return l, nil
}

func (s *Store) CreateLog(ctx context.Context, log *models.ProcessingLog) (*models.ProcessingLog, error) {
	now := s.now()
	const insert = `
		INSERT INTO queue_processing_log
			(message_id, queue_name, payload, status, retry_count, max_retries, error_message, processed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	res, err := s.db.ExecContext(ctx, insert,
		log.MessageID,
		log.QueueName,
		nullableString(log.Payload),
		string(log.Status),
		log.RetryCount,
		log.MaxRetries,
		nullableText(log.ErrorMessage),
		nullableMillis(log.ProcessedAt),
		now.UnixMilli(),
		now.UnixMilli(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrDuplicateMessageID
		}
		return nil, errors.Wrap(err, "insert processing log")
	}

	created := *log
	if created.ID, err = res.LastInsertId(); err != nil {
		return nil, errors.Wrap(err, "read processing log id")
	}
	created.CreatedAt = time.UnixMilli(now.UnixMilli())
	created.UpdatedAt = created.CreatedAt
	return &created, nil
}

func (s *Store) SaveLog(ctx context.Context, log *models.ProcessingLog) (*models.ProcessingLog, error) {
	now := s.now()
	const update = `
		UPDATE queue_processing_log
		SET status = ?, retry_count = ?, max_retries = ?, error_message = ?, processed_at = ?, payload = ?, updated_at = ?
		WHERE message_id = ?
		RETURNING ` + logColumns + `;`

	row := s.db.QueryRowContext(ctx, update,
		string(log.Status),
		log.RetryCount,
		log.MaxRetries,
		nullableText(log.ErrorMessage),
		nullableMillis(log.ProcessedAt),
		nullableString(log.Payload),
		now.UnixMilli(),
		log.MessageID,
	)
	saved, err := scanLog(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(store.ErrLogNotFound, "save log %q", log.MessageID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "save log %q", log.MessageID)
	}
	return saved, nil
}

func (s *Store) FindFailedLogs(ctx context.Context) ([]*models.ProcessingLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM queue_processing_log WHERE status = ? ORDER BY created_at DESC, id DESC;`,
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
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLog(row scanner) (*models.ProcessingLog, error) {
	var (
		l                    models.ProcessingLog
		payload, errMsg      sql.NullString
		processedAt          sql.NullInt64
		createdAt, updatedAt int64
	)
	if err := row.Scan(
		&l.ID, &l.MessageID, &l.QueueName, &payload, &l.Status,
		&l.RetryCount, &l.MaxRetries, &errMsg, &processedAt, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	if payload.Valid {
		l.Payload = []byte(payload.String)
	}
	if errMsg.Valid {
		msg := errMsg.String
		l.ErrorMessage = &msg
	}
	if processedAt.Valid {
		at := time.UnixMilli(processedAt.Int64)
		l.ProcessedAt = &at
	}
	l.CreatedAt = time.UnixMilli(createdAt)
	l.UpdatedAt = time.UnixMilli(updatedAt)
	return &l, nil
}

func nullableString(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullableText(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	case sqlite3.SQLITE_CONSTRAINT:
		return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
	}
	return false
}
