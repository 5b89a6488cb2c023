package kv

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("kv: key not found")

	// ErrConflict is returned when an optimistic update kept losing races.
	ErrConflict = errors.New("kv: concurrent update conflict")

	// ErrEmptyKey is returned for operations on "".
	ErrEmptyKey = errors.New("kv: empty key")
)

// UpdateFunc computes the next value of a key from its current value.
// Returning a nil slice deletes the key. Returning an error aborts the
// update and leaves the stored value untouched.
type UpdateFunc func(current []byte, exists bool) ([]byte, error)

// Store is a durable key/value store with atomic read-modify-write.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Update(ctx context.Context, key string, fn UpdateFunc) error
}
