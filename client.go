package engagekit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/engagekit/pkg/collector"
	"github.com/dmitrymomot/engagekit/pkg/kv"
	"github.com/dmitrymomot/engagekit/pkg/logger"
	"github.com/dmitrymomot/engagekit/pkg/pg"
	"github.com/dmitrymomot/engagekit/pkg/queue"
	"github.com/dmitrymomot/engagekit/pkg/redis"
	"github.com/dmitrymomot/engagekit/pkg/session"
	"github.com/dmitrymomot/engagekit/pkg/sqlite"
	"github.com/dmitrymomot/engagekit/pkg/telemetry"
	"github.com/dmitrymomot/engagekit/pkg/trigger"
)

// triggerCompactionInterval is how often expired triggers are pruned from
// the state store when nothing reads them.
const triggerCompactionInterval = time.Minute

// Client owns the queue, dispatcher, session manager, trigger tracker and
// collector transport.
type Client struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
	diag   func(Diagnostic)

	db         *sql.DB
	storage    queue.Storage
	store      kv.Store
	collector  *collector.Client
	dispatcher *queue.Dispatcher
	enqueuer   *queue.Enqueuer
	triggers   *trigger.Tracker
	sessions   *session.Manager

	checks []func(context.Context) error
}

// New wires a Client from cfg. SQLite backends open and migrate the
// database at cfg.SQLite.Path; the Client closes it on Close.
func New(ctx context.Context, cfg Config, opts ...Option) (_ *Client, err error) {
	o := &options{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{
		cfg:    cfg,
		logger: o.logger,
		now:    o.now,
		diag:   o.diagnostics,
	}
	defer func() {
		if err != nil && c.db != nil {
			_ = c.db.Close()
		}
	}()

	if c.storage, err = c.openStorage(ctx, o); err != nil {
		return nil, err
	}
	if c.store, err = c.openStore(ctx, o); err != nil {
		return nil, err
	}

	colOpts := []collector.Option{
		collector.WithCredentials(collector.Credentials{
			AppID:     cfg.AppID,
			AppSecret: cfg.AppSecret,
			DeviceID:  cfg.DeviceID,
		}),
		collector.WithStore(c.store),
		collector.WithTimeout(cfg.RequestTimeout),
		collector.WithHTTPClient(o.httpClient),
		collector.WithLogger(o.logger),
	}
	if cfg.CircuitFailures > 0 {
		cb := collector.NewCircuitBreaker(cfg.CircuitFailures, 1, cfg.CircuitRecovery).WithClock(o.now)
		cb.OnStateChange(func(from, to collector.CircuitState) {
			o.logger.Warn("collector circuit breaker changed state",
				logger.Component("collector"),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		})
		colOpts = append(colOpts, collector.WithCircuitBreaker(cb))
	}
	if c.collector, err = collector.New(cfg.CollectorURL, colOpts...); err != nil {
		return nil, err
	}

	dispOpts := append(cfg.Queue.DispatcherOptions(collector.IsPermanent),
		queue.WithDispatcherNowFunc(o.now),
		queue.WithDispatcherLogger(o.logger),
		queue.WithOnDelivery(o.onDelivery),
	)
	if c.dispatcher, err = queue.NewDispatcher(c.storage, dispOpts...); err != nil {
		return nil, err
	}
	if err = c.dispatcher.RegisterHandlers(c.collector.Handlers()); err != nil {
		return nil, err
	}

	c.enqueuer, err = queue.NewEnqueuer(c.storage,
		queue.WithEnqueuerNowFunc(o.now),
		queue.WithEnqueuerLogger(o.logger),
		queue.WithOnEnqueue(func(queue.PendingTask) { c.dispatcher.Notify() }),
	)
	if err != nil {
		return nil, err
	}

	c.triggers, err = trigger.New(c.store,
		trigger.WithNowFunc(o.now),
		trigger.WithLogger(o.logger),
	)
	if err != nil {
		return nil, err
	}

	c.sessions, err = session.New(c.enqueuer,
		session.WithStore(c.store),
		session.WithTriggerSource(c.triggers),
		session.WithPropertiesCollector(o.props),
		session.WithConfig(cfg.Session),
		session.WithNowFunc(o.now),
		session.WithLogger(o.logger),
		session.WithErrorHandler(func(_ context.Context, op string, err error) {
			c.emit("session: "+op, err)
		}),
	)
	if err != nil {
		return nil, err
	}

	return c, nil
}

func (c *Client) openStorage(ctx context.Context, o *options) (queue.Storage, error) {
	if o.storage != nil {
		return o.storage, nil
	}
	switch c.cfg.QueueBackend {
	case BackendMemory:
		return queue.NewMemoryStorage(), nil
	case BackendSQLite, "":
		db, err := c.sqliteDB(ctx)
		if err != nil {
			return nil, err
		}
		return queue.NewSQLiteStorage(db, queue.WithSQLiteLogger(c.logger)), nil
	case BackendPostgres:
		if o.pgPool == nil {
			return nil, ErrPostgresRequired
		}
		c.checks = append(c.checks, pg.Healthcheck(o.pgPool))
		return queue.NewPostgresStorage(o.pgPool), nil
	default:
		return nil, fmt.Errorf("%w: queue backend %q", ErrUnknownBackend, c.cfg.QueueBackend)
	}
}

func (c *Client) openStore(ctx context.Context, o *options) (kv.Store, error) {
	if o.store != nil {
		return o.store, nil
	}
	switch c.cfg.StateBackend {
	case BackendMemory:
		return kv.NewMemoryStore(), nil
	case BackendSQLite, "":
		db, err := c.sqliteDB(ctx)
		if err != nil {
			return nil, err
		}
		return kv.NewSQLiteStore(db), nil
	case BackendRedis:
		if o.redis == nil {
			return nil, ErrRedisRequired
		}
		c.checks = append(c.checks, redis.Healthcheck(o.redis))
		return kv.NewRedisStore(o.redis, c.cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("%w: state backend %q", ErrUnknownBackend, c.cfg.StateBackend)
	}
}

// sqliteDB opens and migrates the on-device database once.
func (c *Client) sqliteDB(ctx context.Context) (*sql.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	db, err := sqlite.Open(ctx, c.cfg.SQLite)
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(ctx, db, c.logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	c.db = db
	c.checks = append(c.checks, sqlite.Healthcheck(db))
	return db, nil
}

// Start begins background delivery.
func (c *Client) Start(ctx context.Context) error {
	return c.dispatcher.Start(ctx)
}

// Stop halts background delivery and waits for in-flight attempts.
func (c *Client) Stop() error {
	err := c.dispatcher.Stop()
	if errors.Is(err, queue.ErrDispatcherNotStarted) {
		return nil
	}
	return err
}

// Run delivers in the background and compacts expired triggers until ctx is
// cancelled. It returns a function suitable for errgroup.
func (c *Client) Run(ctx context.Context) func() error {
	return func() error {
		g, ctx := errgroup.WithContext(ctx)
		g.Go(c.dispatcher.Run(ctx))
		g.Go(func() error {
			ticker := time.NewTicker(triggerCompactionInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if _, err := c.triggers.Active(ctx); err != nil && ctx.Err() == nil {
						c.report(ctx, "compact triggers", err)
					}
				}
			}
		})
		return g.Wait()
	}
}

// Close stops delivery, records the session's last-seen time and releases
// the database if the Client opened it. Pending tasks stay queued.
func (c *Client) Close() error {
	ctx := context.Background()
	errs := []error{c.Stop(), c.sessions.Close(ctx)}
	if c.db != nil {
		errs = append(errs, c.db.Close())
	}
	return errors.Join(errs...)
}

// Launch signals an app cold start.
func (c *Client) Launch(ctx context.Context) {
	if err := c.sessions.Launch(ctx); err != nil {
		c.report(ctx, "launch", err)
	}
}

// EnterForeground signals the app coming to the foreground.
func (c *Client) EnterForeground(ctx context.Context) {
	if err := c.sessions.EnterForeground(ctx); err != nil {
		c.report(ctx, "enter foreground", err)
	}
}

// EnterBackground signals the app going to the background.
func (c *Client) EnterBackground(ctx context.Context) {
	if err := c.sessions.EnterBackground(ctx); err != nil {
		c.report(ctx, "enter background", err)
	}
}

// TrackEvent queues an analytics event and returns its task id, or uuid.Nil
// if it could not be queued.
func (c *Client) TrackEvent(ctx context.Context, name string, props map[string]any) uuid.UUID {
	return c.SendEvent(ctx, telemetry.NewEvent(name, props))
}

// SendEvent queues a prebuilt event. Session, screen and trigger fields are
// stamped before it is stored.
func (c *Client) SendEvent(ctx context.Context, e telemetry.Event) uuid.UUID {
	id, err := c.sessions.SendEvent(ctx, e)
	if err != nil {
		c.report(ctx, "track event "+e.Name, err)
		return uuid.Nil
	}
	return id
}

// UpdateProfile queues a user profile update.
func (c *Client) UpdateProfile(ctx context.Context, userData, userProperties map[string]any) uuid.UUID {
	id, err := c.sessions.UpdateProfile(ctx, telemetry.ProfileUpdate{
		UserData:       userData,
		UserProperties: userProperties,
	})
	if err != nil {
		c.report(ctx, "update profile", err)
		return uuid.Nil
	}
	return id
}

// SetPushToken queues registration of the device push token.
func (c *Client) SetPushToken(ctx context.Context, token string) uuid.UUID {
	id, err := c.sessions.SetPushToken(ctx, token)
	if err != nil {
		c.report(ctx, "set push token", err)
		return uuid.Nil
	}
	return id
}

// RecordActiveTrigger marks a trigger as live for ttlSeconds.
func (c *Client) RecordActiveTrigger(ctx context.Context, id string, ttlSeconds int64) {
	if _, err := c.triggers.Record(ctx, id, ttlSeconds); err != nil {
		c.report(ctx, "record trigger", err)
	}
}

// ActiveTriggers returns the unexpired triggers, or nil if they could not be
// read.
func (c *Client) ActiveTriggers(ctx context.Context) []trigger.ActiveTrigger {
	active, err := c.triggers.Active(ctx)
	if err != nil {
		c.report(ctx, "read triggers", err)
		return nil
	}
	return active
}

// OnTriggerRecorded registers fn for every recorded trigger.
func (c *Client) OnTriggerRecorded(fn func(trigger.ActiveTrigger)) (unsubscribe func()) {
	return c.triggers.OnRecord(fn)
}

// Session returns the current session, if any.
func (c *Client) Session() (session.Session, bool) {
	return c.sessions.Current()
}

// SessionID returns the current session id, or "" when there is none.
func (c *Client) SessionID() string {
	s, _ := c.sessions.Current()
	return s.ID
}

// SessionNumber returns the current session number, or 0 when there is none.
func (c *Client) SessionNumber() int64 {
	s, _ := c.sessions.Current()
	return s.Number
}

func (c *Client) SetCurrentScreen(name string) {
	c.sessions.SetCurrentScreen(name)
}

func (c *Client) CurrentScreen() string {
	return c.sessions.CurrentScreen()
}

// Subscribe registers a session lifecycle observer.
func (c *Client) Subscribe(o session.Observer) (unsubscribe func()) {
	return c.sessions.Subscribe(o)
}

// Flush runs one drain pass synchronously.
func (c *Client) Flush(ctx context.Context) (queue.DrainResult, error) {
	return c.dispatcher.Drain(ctx)
}

// Healthcheck pings every backend the Client opened or was given a
// connection for. Storages injected with WithStorage or WithStore are not
// checked.
func (c *Client) Healthcheck(ctx context.Context) error {
	var errs []error
	for _, check := range c.checks {
		if err := check(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Pending returns the number of queued tasks when the storage can count.
func (c *Client) Pending(ctx context.Context) (int, error) {
	counter, ok := c.storage.(queue.Counter)
	if !ok {
		return 0, errors.ErrUnsupported
	}
	return counter.Count(ctx)
}

// DeadLetters returns dead-lettered tasks when the storage keeps them.
func (c *Client) DeadLetters(ctx context.Context) ([]queue.DeadLetterTask, error) {
	dlq, ok := c.storage.(queue.DeadLetterStorage)
	if !ok {
		return nil, errors.ErrUnsupported
	}
	return dlq.ListDeadLetters(ctx)
}

func (c *Client) report(ctx context.Context, op string, err error) {
	c.logger.ErrorContext(ctx, "engagekit operation failed",
		slog.String("op", op),
		logger.Error(err))
	c.emit(op, err)
}

func (c *Client) emit(op string, err error) {
	if c.diag != nil {
		c.diag(Diagnostic{Op: op, Err: err, At: c.now()})
	}
}
