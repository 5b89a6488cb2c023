package engagekit

import (
	"time"

	"github.com/dmitrymomot/engagekit/pkg/queue"
	"github.com/dmitrymomot/engagekit/pkg/session"
	"github.com/dmitrymomot/engagekit/pkg/sqlite"
)

// Backend names for Config.QueueBackend and Config.StateBackend.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

type Config struct {
	CollectorURL   string        `env:"ENGAGE_COLLECTOR_URL,required"`
	AppID          string        `env:"ENGAGE_APP_ID"`
	AppSecret      string        `env:"ENGAGE_APP_SECRET"`
	DeviceID       string        `env:"ENGAGE_DEVICE_ID"`
	RequestTimeout time.Duration `env:"ENGAGE_REQUEST_TIMEOUT" envDefault:"10s"`

	// QueueBackend is one of memory, sqlite or postgres. postgres needs a
	// pool passed with WithPostgres.
	QueueBackend string `env:"ENGAGE_QUEUE_BACKEND" envDefault:"sqlite"`

	// StateBackend is one of memory, sqlite or redis. redis needs a client
	// passed with WithRedis.
	StateBackend string `env:"ENGAGE_STATE_BACKEND" envDefault:"sqlite"`
	RedisPrefix  string `env:"ENGAGE_REDIS_PREFIX" envDefault:"engagekit:"`

	// CircuitFailures is the number of consecutive collector failures that
	// opens the circuit breaker. Zero disables it.
	CircuitFailures int           `env:"ENGAGE_CIRCUIT_FAILURES" envDefault:"0"`
	CircuitRecovery time.Duration `env:"ENGAGE_CIRCUIT_RECOVERY" envDefault:"30s"`

	Queue   queue.Config
	Session session.Config
	SQLite  sqlite.Config
}
