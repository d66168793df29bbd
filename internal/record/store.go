package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const tableName = "analysis"

// Placeholders use the $n form, which both lib/pq and modernc.org/sqlite accept.
const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
    task_id    VARCHAR(64) PRIMARY KEY,
    status     VARCHAR(32) NOT NULL,
    file_name  TEXT        NOT NULL,
    query      TEXT        NOT NULL,
    result     TEXT        NULL,
    error      TEXT        NULL,
    created_at TIMESTAMP   NOT NULL,
    updated_at TIMESTAMP   NOT NULL
)`
	createStatusIndexSQL = `CREATE INDEX IF NOT EXISTS idx_analysis_status ON ` + tableName + ` (status)`

	insertSQL = `INSERT INTO ` + tableName + ` (task_id, status, file_name, query, result, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NULL, NULL, $5, $6)`
	selectSQL = `SELECT task_id, status, file_name, query, result, error, created_at, updated_at
		FROM ` + tableName + ` WHERE task_id = $1`
	completeSQL = `UPDATE ` + tableName + ` SET status = $1, result = $2, error = NULL, updated_at = $3
		WHERE task_id = $4 AND status = $5`
	failSQL = `UPDATE ` + tableName + ` SET status = $1, error = $2, result = NULL, updated_at = $3
		WHERE task_id = $4 AND status = $5`
	deleteSQL         = `DELETE FROM ` + tableName + ` WHERE task_id = $1`
	failProcessingSQL = `UPDATE ` + tableName + ` SET status = $1, error = $2, result = NULL, updated_at = $3
		WHERE status = $4`
	purgeSQL = `DELETE FROM ` + tableName + ` WHERE status IN ($1, $2) AND updated_at < $3`
)

// SQLStore persists task records in a relational database.
// It is safe for concurrent use; every terminal transition is one statement
// that writes status and payload together.
type SQLStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Migrate creates the table and index when they are missing.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if s.db == nil {
		return ErrNilDB
	}
	for _, stmt := range []string{createTableSQL, createStatusIndexSQL} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Create inserts a new record in the processing state.
func (s *SQLStore) Create(ctx context.Context, rec Record) error {
	if s.db == nil {
		return ErrNilDB
	}
	now := s.now()
	if _, err := s.db.ExecContext(ctx, insertSQL,
		rec.TaskID, string(StatusProcessing), rec.FileName, rec.Query, now, now); err != nil {
		if _, getErr := s.Get(ctx, rec.TaskID); getErr == nil {
			return fmt.Errorf("%w: %s", ErrDuplicateID, rec.TaskID)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// Get loads the current snapshot of a record.
func (s *SQLStore) Get(ctx context.Context, taskID string) (*Record, error) {
	if s.db == nil {
		return nil, ErrNilDB
	}
	var (
		rec            Record
		status         string
		result, errMsg sql.NullString
	)
	err := s.db.QueryRowContext(ctx, selectSQL, taskID).Scan(
		&rec.TaskID, &status, &rec.FileName, &rec.Query, &result, &errMsg, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select record: %w", err)
	}
	rec.Status = Status(status)
	if result.Valid {
		v := result.String
		rec.Result = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		rec.Error = &v
	}
	return &rec, nil
}

// Complete moves a processing record to completed with its result.
func (s *SQLStore) Complete(ctx context.Context, taskID, result string) error {
	return s.finish(ctx, completeSQL, StatusCompleted, taskID, result)
}

// Fail moves a processing record to failed with an error message.
func (s *SQLStore) Fail(ctx context.Context, taskID, message string) error {
	return s.finish(ctx, failSQL, StatusFailed, taskID, message)
}

func (s *SQLStore) finish(ctx context.Context, stmt string, to Status, taskID, payload string) error {
	if s.db == nil {
		return ErrNilDB
	}
	res, err := s.db.ExecContext(ctx, stmt, string(to), payload, s.now(), taskID, string(StatusProcessing))
	if err != nil {
		return fmt.Errorf("update record to %s: %w", to, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	// Nothing matched: either the row is gone or it already left processing.
	current, err := s.Get(ctx, taskID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s is %s", ErrAlreadyFinal, taskID, current.Status)
}

// Delete removes a record. Used to roll back a submission that could not be scheduled.
func (s *SQLStore) Delete(ctx context.Context, taskID string) error {
	if s.db == nil {
		return ErrNilDB
	}
	if _, err := s.db.ExecContext(ctx, deleteSQL, taskID); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	return nil
}

// FailProcessing moves every processing record to failed with message.
// Returns the number of records changed.
func (s *SQLStore) FailProcessing(ctx context.Context, message string) (int64, error) {
	if s.db == nil {
		return 0, ErrNilDB
	}
	res, err := s.db.ExecContext(ctx, failProcessingSQL,
		string(StatusFailed), message, s.now(), string(StatusProcessing))
	if err != nil {
		return 0, fmt.Errorf("fail processing records: %w", err)
	}
	return res.RowsAffected() //nolint:wrapcheck
}

// PurgeFinished deletes terminal records last updated before cutoff.
func (s *SQLStore) PurgeFinished(ctx context.Context, cutoff time.Time) (int64, error) {
	if s.db == nil {
		return 0, ErrNilDB
	}
	res, err := s.db.ExecContext(ctx, purgeSQL,
		string(StatusCompleted), string(StatusFailed), cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge records: %w", err)
	}
	return res.RowsAffected() //nolint:wrapcheck
}
