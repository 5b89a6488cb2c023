package engagekit

import (
	"errors"
	"time"
)

var (
	ErrUnknownBackend   = errors.New("engagekit: unknown backend")
	ErrPostgresRequired = errors.New("engagekit: postgres backend requires WithPostgres")
	ErrRedisRequired    = errors.New("engagekit: redis backend requires WithRedis")
)

// Diagnostic describes an error a producer call did not return.
type Diagnostic struct {
	Op  string
	Err error
	At  time.Time
}
