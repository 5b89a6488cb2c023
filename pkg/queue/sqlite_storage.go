package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/engagekit/pkg/logger"
)

// SQLiteStorage keeps the queue in the pending_tasks and dead_letter_tasks
// tables created by pkg/sqlite migrations.
//
// Rows that cannot be decoded are logged and skipped by the list methods, so
// one damaged row never blocks delivery of the rest of the queue.
type SQLiteStorage struct {
	db     *sql.DB
	logger *slog.Logger
}

// SQLiteOption configures a SQLiteStorage.
type SQLiteOption func(*SQLiteStorage)

// WithSQLiteLogger sets the logger used to report skipped rows.
func WithSQLiteLogger(l *slog.Logger) SQLiteOption {
	return func(s *SQLiteStorage) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewSQLiteStorage(db *sql.DB, opts ...SQLiteOption) *SQLiteStorage {
	s := &SQLiteStorage{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLiteStorage) CreateTask(ctx context.Context, task *PendingTask) error {
	if task == nil {
		return ErrTaskNil
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_tasks (id, type, payload, attempts, created_at, last_attempted_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		task.ID.String(), string(task.Type), string(task.Payload), task.Attempts,
		toMillis(task.CreatedAt), toNullMillis(task.LastAttemptedAt))
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return nil
}

func (s *SQLiteStorage) ListPending(ctx context.Context) ([]PendingTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, payload, attempts, created_at, last_attempted_at
		FROM pending_tasks
		ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []PendingTask
	for rows.Next() {
		t, err := scanSQLiteTask(rows)
		if errors.Is(err, ErrCorruptRow) {
			s.logger.WarnContext(ctx, "skipping undecodable pending task",
				logger.Component("queue"), logger.Error(err))
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending tasks: %w", err)
	}
	return out, nil
}

func (s *SQLiteStorage) Ack(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_tasks WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("ack task %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStorage) MarkFailed(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pending_tasks SET attempts = attempts + 1, last_attempted_at = ?
		WHERE id = ?`, toMillis(now), id.String())
	if err != nil {
		return fmt.Errorf("mark task %s failed: %w", id, err)
	}
	return nil
}

func (s *SQLiteStorage) MoveToDeadLetter(ctx context.Context, id uuid.UUID, reason string, now time.Time) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin dead-letter tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letter_tasks (id, type, payload, attempts, created_at, last_attempted_at, reason, failed_at)
		SELECT id, type, payload, attempts, created_at, last_attempted_at, ?, ?
		FROM pending_tasks WHERE id = ?`, reason, toMillis(now), id.String())
	if err != nil {
		return fmt.Errorf("copy task %s to dead letters: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return nil
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM pending_tasks WHERE id = ?`, id.String()); err != nil {
		return fmt.Errorf("delete dead-lettered task %s: %w", id, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit dead-letter tx: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) ListDeadLetters(ctx context.Context) ([]DeadLetterTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, payload, attempts, created_at, last_attempted_at, reason, failed_at
		FROM dead_letter_tasks
		ORDER BY failed_at ASC, rowid ASC`)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []DeadLetterTask
	for rows.Next() {
		var (
			id, typ, payload, reason string
			attempts                 int
			createdAt, failedAt      int64
			lastAttempted            sql.NullInt64
		)
		if err := rows.Scan(&id, &typ, &payload, &attempts, &createdAt, &lastAttempted, &reason, &failedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		t, err := buildTask(id, typ, payload, attempts, createdAt, lastAttempted)
		if err != nil {
			s.logger.WarnContext(ctx, "skipping undecodable dead letter",
				logger.Component("queue"), logger.Error(err))
			continue
		}
		out = append(out, DeadLetterTask{PendingTask: t, Reason: reason, FailedAt: fromMillis(failedAt)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dead letters: %w", err)
	}
	return out, nil
}

func (s *SQLiteStorage) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_tasks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}
	return n, nil
}

func scanSQLiteTask(rows *sql.Rows) (PendingTask, error) {
	var (
		id, typ, payload string
		attempts         int
		createdAt        int64
		lastAttempted    sql.NullInt64
	)
	if err := rows.Scan(&id, &typ, &payload, &attempts, &createdAt, &lastAttempted); err != nil {
		return PendingTask{}, fmt.Errorf("scan pending task: %w", err)
	}
	return buildTask(id, typ, payload, attempts, createdAt, lastAttempted)
}

func buildTask(id, typ, payload string, attempts int, createdAt int64, lastAttempted sql.NullInt64) (PendingTask, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return PendingTask{}, errors.Join(ErrCorruptRow, fmt.Errorf("task id %q: %w", id, err))
	}
	t := PendingTask{
		ID:        uid,
		Type:      TaskType(typ),
		Payload:   []byte(payload),
		Attempts:  attempts,
		CreatedAt: fromMillis(createdAt),
	}
	if lastAttempted.Valid {
		at := fromMillis(lastAttempted.Int64)
		t.LastAttemptedAt = &at
	}
	return t, nil
}
