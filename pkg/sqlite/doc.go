// Package sqlite opens the on-device SQLite database used for durable SDK state
// and applies its embedded schema migrations.
//
// The driver is modernc.org/sqlite (pure Go, no cgo). Connections are opened in
// WAL mode with a busy timeout, and write transactions start with
// BEGIN IMMEDIATE so a read-modify-write cannot be interleaved with another
// writer.
//
//	db, err := sqlite.Open(ctx, sqlite.Config{Path: "engagekit.db"})
//	if err != nil { ... }
//	if err := sqlite.Migrate(ctx, db, log); err != nil { ... }
package sqlite
