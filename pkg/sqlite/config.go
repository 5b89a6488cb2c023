package sqlite

import "time"

type Config struct {
	// Path is the database file. ":memory:" keeps everything in RAM.
	Path string `env:"ENGAGE_DB_PATH" envDefault:"engagekit.db"`
	// BusyTimeout is how long a connection waits on a locked database.
	BusyTimeout time.Duration `env:"ENGAGE_DB_BUSY_TIMEOUT" envDefault:"5s"`
	// MaxOpenConns caps the pool. One connection serializes all access.
	MaxOpenConns int `env:"ENGAGE_DB_MAX_OPEN_CONNS" envDefault:"1"`
	// Synchronous is the PRAGMA synchronous level.
	Synchronous string `env:"ENGAGE_DB_SYNCHRONOUS" envDefault:"NORMAL"`
}
