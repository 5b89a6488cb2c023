package engagekit

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/engagekit/pkg/kv"
	"github.com/dmitrymomot/engagekit/pkg/queue"
	"github.com/dmitrymomot/engagekit/pkg/session"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	logger      *slog.Logger
	now         func() time.Time
	httpClient  *http.Client
	props       session.PropertiesCollector
	diagnostics func(Diagnostic)
	onDelivery  func(queue.Delivery)
	storage     queue.Storage
	store       kv.Store
	pgPool      *pgxpool.Pool
	redis       redis.UniversalClient
}

// WithLogger sets the logger shared by every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithNowFunc overrides the clock shared by every component.
func WithNowFunc(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithHTTPClient sets the HTTP client used to reach the collector.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithPropertiesCollector sets the source of device properties merged into
// launch events and session profile updates.
func WithPropertiesCollector(pc session.PropertiesCollector) Option {
	return func(o *options) {
		o.props = pc
	}
}

// WithDiagnostics registers a hook for errors producer calls swallow.
func WithDiagnostics(fn func(Diagnostic)) Option {
	return func(o *options) {
		o.diagnostics = fn
	}
}

// WithOnDelivery registers a hook called after every delivery attempt.
func WithOnDelivery(fn func(queue.Delivery)) Option {
	return func(o *options) {
		o.onDelivery = fn
	}
}

// WithStorage replaces the queue storage selected by Config.QueueBackend.
func WithStorage(s queue.Storage) Option {
	return func(o *options) {
		o.storage = s
	}
}

// WithStore replaces the state store selected by Config.StateBackend.
func WithStore(s kv.Store) Option {
	return func(o *options) {
		o.store = s
	}
}

// WithPostgres supplies the pool used by the postgres queue backend. The
// caller owns the pool and is expected to have applied pg.Migrate.
func WithPostgres(pool *pgxpool.Pool) Option {
	return func(o *options) {
		o.pgPool = pool
	}
}

// WithRedis supplies the client used by the redis state backend. The caller
// owns the client.
func WithRedis(rc redis.UniversalClient) Option {
	return func(o *options) {
		o.redis = rc
	}
}
