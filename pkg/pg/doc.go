// Package pg connects to PostgreSQL through pgxpool and applies the embedded
// queue schema.
//
// The engagekit queue normally lives in an on-device SQLite file. Postgres is
// the alternative for hosts where several SDK processes share one outbound
// queue (kiosk fleets, desktop agents behind one gateway): all of them enqueue
// into the same pending_tasks table and any of them may drain it.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil { ... }
//	if err := pg.Migrate(ctx, pool, log); err != nil { ... }
//
// Connect retries with a linearly growing delay and verifies the pool with a
// ping. Error helpers classify pgx errors without leaking driver types.
package pg
