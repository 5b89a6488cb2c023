// Package kv provides the small durable key/value store behind SDK state that
// is not a queue row: the active-trigger list, the session counter and
// descriptor, the first-launch flag and the SDK token.
//
// The important operation is Update, an atomic read-modify-write. Callers pass
// an UpdateFunc that receives the current value and returns the next one; the
// store guarantees no other writer touches the key in between. Backends:
//
//   - MemoryStore: mutex-guarded map, for tests and ephemeral clients.
//   - SQLiteStore: the kv table of the on-device database, one IMMEDIATE
//     transaction per Update.
//   - RedisStore:  WATCH/MULTI optimistic transaction, retried on conflict.
package kv
