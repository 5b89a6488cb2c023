package queue_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/engagekit/pkg/logger"
	"github.com/dmitrymomot/engagekit/pkg/pg"
	"github.com/dmitrymomot/engagekit/pkg/queue"
	"github.com/dmitrymomot/engagekit/pkg/sqlite"
)

func newSQLiteStorage(t *testing.T) *queue.SQLiteStorage {
	t.Helper()

	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.Config{
		Path:        filepath.Join(t.TempDir(), "queue.db"),
		BusyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(ctx, db, logger.Discard()))

	return queue.NewSQLiteStorage(db)
}

// storages returns a fresh instance of every backend available in this
// environment. Postgres runs only when PG_CONN_URL is set.
func storages(t *testing.T) map[string]queue.DeadLetterStorage {
	t.Helper()

	out := map[string]queue.DeadLetterStorage{
		"memory": queue.NewMemoryStorage(),
		"sqlite": newSQLiteStorage(t),
	}

	if url := os.Getenv("PG_CONN_URL"); url != "" {
		ctx := context.Background()
		cfg := pg.Config{ConnectionString: url, MaxOpenConns: 4, RetryAttempts: 1, MigrationsTable: "engagekit_migrations"}
		pool, err := pg.Connect(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(pool.Close)
		require.NoError(t, pg.Migrate(ctx, pool, cfg, logger.Discard()))
		_, err = pool.Exec(ctx, `TRUNCATE pending_tasks, dead_letter_tasks`)
		require.NoError(t, err)
		out["postgres"] = queue.NewPostgresStorage(pool)
	}
	return out
}

func newTask(typ queue.TaskType, payload string, createdAt time.Time) *queue.PendingTask {
	return &queue.PendingTask{
		ID:        uuid.New(),
		Type:      typ,
		Payload:   json.RawMessage(payload),
		CreatedAt: time.UnixMilli(createdAt.UnixMilli()),
	}
}

func TestStorage(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, storage := range storages(t) {
		t.Run(name, func(t *testing.T) {
			// Subtests share the storage and run in order.
			ctx := context.Background()

			t.Run("list is ordered by createdAt then insertion", func(t *testing.T) {
				late := newTask(queue.TaskTypeEvent, `{"n":3}`, base.Add(2*time.Second))
				first := newTask(queue.TaskTypeEvent, `{"n":1}`, base)
				second := newTask(queue.TaskTypeProfile, `{"n":2}`, base)

				for _, task := range []*queue.PendingTask{late, first, second} {
					require.NoError(t, storage.CreateTask(ctx, task))
				}

				pending, err := storage.ListPending(ctx)
				require.NoError(t, err)
				require.Len(t, pending, 3)
				assert.Equal(t, first.ID, pending[0].ID)
				assert.Equal(t, second.ID, pending[1].ID)
				assert.Equal(t, late.ID, pending[2].ID)

				assert.Equal(t, 0, pending[0].Attempts)
				assert.Nil(t, pending[0].LastAttemptedAt)
				assert.JSONEq(t, `{"n":1}`, string(pending[0].Payload))
				assert.True(t, first.CreatedAt.Equal(pending[0].CreatedAt))

				for _, p := range pending {
					require.NoError(t, storage.Ack(ctx, p.ID))
				}
			})

			t.Run("mark failed increments attempts by one", func(t *testing.T) {
				task := newTask(queue.TaskTypeKeepAlive, `{}`, base)
				require.NoError(t, storage.CreateTask(ctx, task))

				at := base.Add(time.Minute)
				for i := 1; i <= 3; i++ {
					require.NoError(t, storage.MarkFailed(ctx, task.ID, at))

					pending, err := storage.ListPending(ctx)
					require.NoError(t, err)
					require.Len(t, pending, 1)
					assert.Equal(t, i, pending[0].Attempts)
					require.NotNil(t, pending[0].LastAttemptedAt)
					assert.True(t, at.Equal(*pending[0].LastAttemptedAt))
				}

				require.NoError(t, storage.Ack(ctx, task.ID))
			})

			t.Run("ack is idempotent", func(t *testing.T) {
				task := newTask(queue.TaskTypeEvent, `{}`, base)
				require.NoError(t, storage.CreateTask(ctx, task))

				require.NoError(t, storage.Ack(ctx, task.ID))
				require.NoError(t, storage.Ack(ctx, task.ID))
				require.NoError(t, storage.Ack(ctx, uuid.New()))

				pending, err := storage.ListPending(ctx)
				require.NoError(t, err)
				assert.Empty(t, pending)
			})

			t.Run("mark failed on missing row is a no-op", func(t *testing.T) {
				assert.NoError(t, storage.MarkFailed(ctx, uuid.New(), base))

				pending, err := storage.ListPending(ctx)
				require.NoError(t, err)
				assert.Empty(t, pending)
			})

			t.Run("move to dead letter", func(t *testing.T) {
				task := newTask(queue.TaskTypePushToken, `{"token":"x"}`, base)
				require.NoError(t, storage.CreateTask(ctx, task))
				require.NoError(t, storage.MarkFailed(ctx, task.ID, base))

				failedAt := base.Add(time.Hour)
				require.NoError(t, storage.MoveToDeadLetter(ctx, task.ID, "rejected", failedAt))
				// Second move finds nothing to move.
				require.NoError(t, storage.MoveToDeadLetter(ctx, task.ID, "rejected", failedAt))

				pending, err := storage.ListPending(ctx)
				require.NoError(t, err)
				assert.Empty(t, pending)

				dead, err := storage.ListDeadLetters(ctx)
				require.NoError(t, err)
				require.Len(t, dead, 1)
				assert.Equal(t, task.ID, dead[0].ID)
				assert.Equal(t, queue.TaskTypePushToken, dead[0].Type)
				assert.Equal(t, 1, dead[0].Attempts)
				assert.Equal(t, "rejected", dead[0].Reason)
				assert.True(t, failedAt.Equal(dead[0].FailedAt))
			})

			t.Run("count", func(t *testing.T) {
				counter, ok := storage.(queue.Counter)
				require.True(t, ok)

				require.NoError(t, storage.CreateTask(ctx, newTask(queue.TaskTypeEvent, `{}`, base)))
				require.NoError(t, storage.CreateTask(ctx, newTask(queue.TaskTypeEvent, `{}`, base)))

				n, err := counter.Count(ctx)
				require.NoError(t, err)
				assert.Equal(t, 2, n)
			})
		})
	}
}

func TestMemoryStorage_CreateTask(t *testing.T) {
	t.Parallel()

	t.Run("nil task", func(t *testing.T) {
		t.Parallel()

		err := queue.NewMemoryStorage().CreateTask(context.Background(), nil)
		assert.ErrorIs(t, err, queue.ErrTaskNil)
	})

	t.Run("duplicate id", func(t *testing.T) {
		t.Parallel()

		s := queue.NewMemoryStorage()
		task := newTask(queue.TaskTypeEvent, `{}`, time.Now())
		require.NoError(t, s.CreateTask(context.Background(), task))
		assert.ErrorIs(t, s.CreateTask(context.Background(), task), queue.ErrTaskExists)
	})

	t.Run("stored payload is isolated from caller", func(t *testing.T) {
		t.Parallel()

		s := queue.NewMemoryStorage()
		task := newTask(queue.TaskTypeEvent, `{"a":1}`, time.Now())
		require.NoError(t, s.CreateTask(context.Background(), task))
		task.Payload[2] = 'b'

		pending, err := s.ListPending(context.Background())
		require.NoError(t, err)
		require.Len(t, pending, 1)
		assert.JSONEq(t, `{"a":1}`, string(pending[0].Payload))
	})
}

func TestSQLiteStorage_CorruptRow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.Config{
		Path:        filepath.Join(t.TempDir(), "queue.db"),
		BusyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(ctx, db, logger.Discard()))

	storage := queue.NewSQLiteStorage(db, queue.WithSQLiteLogger(logger.Discard()))

	_, err = db.ExecContext(ctx, `
		INSERT INTO pending_tasks (id, type, payload, attempts, created_at)
		VALUES ('not-a-uuid', 'EVENT', '{}', 0, 1)`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, `
		INSERT INTO dead_letter_tasks (id, type, payload, attempts, created_at, reason, failed_at)
		VALUES ('also-not-a-uuid', 'EVENT', '{}', 3, 1, 'exhausted', 2)`)
	require.NoError(t, err)

	t.Run("list skips the undecodable row", func(t *testing.T) {
		valid := newTask(queue.TaskTypeEvent, `{"n":1}`, time.Now())
		require.NoError(t, storage.CreateTask(ctx, valid))

		list, err := storage.ListPending(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, valid.ID, list[0].ID)

		dead, err := storage.ListDeadLetters(ctx)
		require.NoError(t, err)
		assert.Empty(t, dead)

		require.NoError(t, storage.Ack(ctx, valid.ID))
	})

	t.Run("valid tasks keep being delivered", func(t *testing.T) {
		d, e := setup(t, storage)

		var delivered atomic.Int32
		require.NoError(t, d.RegisterHandler(queue.TaskTypeEvent, queue.HandlerFunc(
			func(context.Context, queue.PendingTask) error {
				delivered.Add(1)
				return nil
			})))

		_, err := e.Enqueue(ctx, queue.TaskTypeEvent, eventPayload{Name: "CE App Launched"})
		require.NoError(t, err)

		for range 3 {
			_, err := d.Drain(ctx)
			require.NoError(t, err)
		}
		assert.Equal(t, int32(1), delivered.Load())

		n, err := storage.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n, "only the undecodable row remains")
	})
}
