package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/engagekit/pkg/pg"
)

// PostgresStorage keeps the queue in Postgres so several processes on one
// host (kiosk fleets, desktop agents) can share it. Ties in created_at are
// broken by the seq column.
type PostgresStorage struct {
	pool *pgxpool.Pool
}

func NewPostgresStorage(pool *pgxpool.Pool) *PostgresStorage {
	return &PostgresStorage{pool: pool}
}

func (s *PostgresStorage) CreateTask(ctx context.Context, task *PendingTask) error {
	if task == nil {
		return ErrTaskNil
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_tasks (id, type, payload, attempts, created_at, last_attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		task.ID, string(task.Type), []byte(task.Payload), task.Attempts,
		toMillis(task.CreatedAt), toNullMillis(task.LastAttemptedAt))
	if pg.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %s", ErrTaskExists, task.ID)
	}
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return nil
}

func (s *PostgresStorage) ListPending(ctx context.Context) ([]PendingTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, payload, attempts, created_at, last_attempted_at
		FROM pending_tasks
		ORDER BY created_at ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pending tasks: %w", err)
	}

	tasks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (PendingTask, error) {
		var (
			t             PendingTask
			typ           string
			payload       []byte
			createdAt     int64
			lastAttempted *int64
		)
		if err := row.Scan(&t.ID, &typ, &payload, &t.Attempts, &createdAt, &lastAttempted); err != nil {
			return t, err
		}
		t.Type = TaskType(typ)
		t.Payload = payload
		t.CreatedAt = fromMillis(createdAt)
		t.LastAttemptedAt = fromNullMillis(lastAttempted)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan pending tasks: %w", err)
	}
	return tasks, nil
}

func (s *PostgresStorage) Ack(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM pending_tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("ack task %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStorage) MarkFailed(ctx context.Context, id uuid.UUID, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE pending_tasks SET attempts = attempts + 1, last_attempted_at = $2
		WHERE id = $1`, id, toMillis(now))
	if err != nil {
		return fmt.Errorf("mark task %s failed: %w", id, err)
	}
	return nil
}

// MoveToDeadLetter moves the row in a single statement.
func (s *PostgresStorage) MoveToDeadLetter(ctx context.Context, id uuid.UUID, reason string, now time.Time) error {
	_, err := s.pool.Exec(ctx, `
		WITH moved AS (
			DELETE FROM pending_tasks WHERE id = $1
			RETURNING id, type, payload, attempts, created_at, last_attempted_at
		)
		INSERT INTO dead_letter_tasks (id, type, payload, attempts, created_at, last_attempted_at, reason, failed_at)
		SELECT id, type, payload, attempts, created_at, last_attempted_at, $2, $3 FROM moved
		ON CONFLICT (id) DO NOTHING`, id, reason, toMillis(now))
	if err != nil {
		return fmt.Errorf("dead-letter task %s: %w", id, err)
	}
	return nil
}

func (s *PostgresStorage) ListDeadLetters(ctx context.Context) ([]DeadLetterTask, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, type, payload, attempts, created_at, last_attempted_at, reason, failed_at
		FROM dead_letter_tasks
		ORDER BY failed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (DeadLetterTask, error) {
		var (
			t                   DeadLetterTask
			typ                 string
			payload             []byte
			createdAt, failedAt int64
			lastAttempted       *int64
		)
		if err := row.Scan(&t.ID, &typ, &payload, &t.Attempts, &createdAt, &lastAttempted, &t.Reason, &failedAt); err != nil {
			return t, err
		}
		t.Type = TaskType(typ)
		t.Payload = payload
		t.CreatedAt = fromMillis(createdAt)
		t.LastAttemptedAt = fromNullMillis(lastAttempted)
		t.FailedAt = fromMillis(failedAt)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan dead letters: %w", err)
	}
	return out, nil
}

func (s *PostgresStorage) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pending_tasks`).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("count pending tasks: %w", err)
	}
	return n, nil
}
