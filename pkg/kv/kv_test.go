package kv_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/engagekit/pkg/kv"
	"github.com/dmitrymomot/engagekit/pkg/logger"
	"github.com/dmitrymomot/engagekit/pkg/redis"
	"github.com/dmitrymomot/engagekit/pkg/sqlite"
)

func stores(t *testing.T) map[string]kv.Store {
	t.Helper()

	ctx := context.Background()
	db, err := sqlite.Open(ctx, sqlite.Config{
		Path:        filepath.Join(t.TempDir(), "kv.db"),
		BusyTimeout: 5 * time.Second,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, sqlite.Migrate(ctx, db, logger.Discard()))

	out := map[string]kv.Store{
		"memory": kv.NewMemoryStore(),
		"sqlite": kv.NewSQLiteStore(db),
	}

	if url := os.Getenv("REDIS_URL"); url != "" {
		client, err := redis.Connect(ctx, redis.Config{ConnectionURL: url, RetryAttempts: 1})
		require.NoError(t, err)
		t.Cleanup(func() { _ = client.Close() })
		out["redis"] = kv.NewRedisStore(client, "engagekit-test:"+uuid.NewString()+":")
	}
	return out
}

func TestStore(t *testing.T) {
	t.Parallel()

	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			t.Run("get missing key", func(t *testing.T) {
				_, err := store.Get(ctx, "missing")
				assert.ErrorIs(t, err, kv.ErrNotFound)
			})

			t.Run("set then get", func(t *testing.T) {
				require.NoError(t, store.Set(ctx, "a", []byte("1")))
				v, err := store.Get(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, []byte("1"), v)

				require.NoError(t, store.Set(ctx, "a", []byte("2")))
				v, err = store.Get(ctx, "a")
				require.NoError(t, err)
				assert.Equal(t, []byte("2"), v)
			})

			t.Run("delete", func(t *testing.T) {
				require.NoError(t, store.Set(ctx, "b", []byte("x")))
				require.NoError(t, store.Delete(ctx, "b"))
				_, err := store.Get(ctx, "b")
				assert.ErrorIs(t, err, kv.ErrNotFound)

				// Deleting an absent key is not an error.
				assert.NoError(t, store.Delete(ctx, "b"))
			})

			t.Run("empty key", func(t *testing.T) {
				_, err := store.Get(ctx, "")
				assert.ErrorIs(t, err, kv.ErrEmptyKey)
				assert.ErrorIs(t, store.Set(ctx, "", nil), kv.ErrEmptyKey)
			})

			t.Run("update creates and deletes", func(t *testing.T) {
				err := store.Update(ctx, "c", func(cur []byte, exists bool) ([]byte, error) {
					assert.False(t, exists)
					return []byte("created"), nil
				})
				require.NoError(t, err)

				err = store.Update(ctx, "c", func(cur []byte, exists bool) ([]byte, error) {
					assert.True(t, exists)
					assert.Equal(t, []byte("created"), cur)
					return nil, nil
				})
				require.NoError(t, err)

				_, err = store.Get(ctx, "c")
				assert.ErrorIs(t, err, kv.ErrNotFound)
			})

			t.Run("update error leaves value untouched", func(t *testing.T) {
				require.NoError(t, store.Set(ctx, "d", []byte("keep")))
				boom := errors.New("boom")

				err := store.Update(ctx, "d", func([]byte, bool) ([]byte, error) {
					return nil, boom
				})
				assert.ErrorIs(t, err, boom)

				v, err := store.Get(ctx, "d")
				require.NoError(t, err)
				assert.Equal(t, []byte("keep"), v)
			})

			t.Run("concurrent updates are serialized", func(t *testing.T) {
				const n = 25
				var wg sync.WaitGroup
				for range n {
					wg.Add(1)
					go func() {
						defer wg.Done()
						err := store.Update(ctx, "counter", func(cur []byte, exists bool) ([]byte, error) {
							i := 0
							if exists {
								i, _ = strconv.Atoi(string(cur))
							}
							return []byte(strconv.Itoa(i + 1)), nil
						})
						assert.NoError(t, err)
					}()
				}
				wg.Wait()

				v, err := store.Get(ctx, "counter")
				require.NoError(t, err)
				assert.Equal(t, strconv.Itoa(n), string(v))
			})
		})
	}
}

func TestMemoryStore_CopiesValues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := kv.NewMemoryStore()
	in := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", in))
	in[0] = 'z'

	out, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(out))
}
