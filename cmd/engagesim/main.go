// Command engagesim drives an engagekit Client through a scripted app
// lifecycle against a collector. Point ENGAGE_COLLECTOR_URL at a running
// devcollector to watch the deliveries arrive.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/engagekit"
	"github.com/dmitrymomot/engagekit/pkg/config"
	"github.com/dmitrymomot/engagekit/pkg/logger"
	"github.com/dmitrymomot/engagekit/pkg/pg"
	"github.com/dmitrymomot/engagekit/pkg/redis"
	"github.com/dmitrymomot/engagekit/pkg/session"
)

type simConfig struct {
	Log           logger.Config
	Events        int           `env:"SIM_EVENTS" envDefault:"5"`
	BackgroundGap time.Duration `env:"SIM_BACKGROUND_GAP" envDefault:"10m"`
	Triggers      []string      `env:"SIM_TRIGGERS" envSeparator:","`
	TriggerTTL    int64         `env:"SIM_TRIGGER_TTL" envDefault:"300"`
}

// simClock is advanced by the script rather than by wall time, so long
// background gaps run instantly.
type simClock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *simClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *simClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

type step struct {
	name string
	run  func(ctx context.Context) error
}

func main() {
	sim := config.MustLoad[simConfig]()
	log := logger.New(logger.WithConfig(sim.Log), logger.WithAttr(logger.Component("engagesim")))
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, sim, log); err != nil {
		log.Error("simulation failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, sim simConfig, log *slog.Logger) error {
	cfg, err := config.Load[engagekit.Config]()
	if err != nil {
		return err
	}

	clock := &simClock{}
	opts := []engagekit.Option{
		engagekit.WithLogger(log),
		engagekit.WithNowFunc(clock.Now),
		engagekit.WithDiagnostics(func(d engagekit.Diagnostic) {
			log.Warn("diagnostic", slog.String("op", d.Op), logger.Error(d.Err))
		}),
		engagekit.WithPropertiesCollector(session.PropertiesFunc(func(context.Context) map[string]any {
			host, _ := os.Hostname()
			return map[string]any{"CE Device": host, "CE SDK": "engagesim"}
		})),
	}

	if cfg.QueueBackend == engagekit.BackendPostgres {
		pgCfg, err := config.Load[pg.Config]()
		if err != nil {
			return err
		}
		pool, err := pg.Connect(ctx, pgCfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := pg.Migrate(ctx, pool, pgCfg, log); err != nil {
			return err
		}
		opts = append(opts, engagekit.WithPostgres(pool))
	}

	if cfg.StateBackend == engagekit.BackendRedis {
		redisCfg, err := config.Load[redis.Config]()
		if err != nil {
			return err
		}
		rc, err := redis.Connect(ctx, redisCfg)
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()
		opts = append(opts, engagekit.WithRedis(rc))
	}

	client, err := engagekit.New(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	if err := client.Healthcheck(ctx); err != nil {
		return err
	}

	client.Subscribe(func(n session.Notification) {
		log.Info("session notification",
			slog.String("kind", string(n.Kind)),
			logger.SessionID(n.Session.ID),
			logger.SessionNumber(n.Session.Number),
			logger.Duration(n.Duration))
	})

	// Delivery runs until the script is done.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	g.Go(client.Run(gctx))

	results := make([]string, 0, 16)
	g.Go(func() error {
		defer cancel()
		for i, s := range script(client, clock, sim) {
			if err := s.run(logger.WithSessionID(gctx, client.SessionID())); err != nil {
				return fmt.Errorf("step %d (%s): %w", i, s.name, err)
			}
			results = append(results, s.name)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	pending, err := client.Pending(context.Background())
	if err != nil {
		pending = -1
	}
	log.Info("simulation finished",
		slog.Any("steps", results),
		slog.Int("pending", pending),
		slog.Int64("session_number", client.SessionNumber()))
	return nil
}

// script returns the ordered lifecycle the simulation walks through.
func script(client *engagekit.Client, clock *simClock, sim simConfig) []step {
	steps := []step{
		{"launch", func(ctx context.Context) error {
			client.Launch(ctx)
			client.SetCurrentScreen("home")
			return nil
		}},
	}

	for _, id := range sim.Triggers {
		steps = append(steps, step{"trigger " + id, func(ctx context.Context) error {
			client.RecordActiveTrigger(ctx, id, sim.TriggerTTL)
			return nil
		}})
	}

	for i := range sim.Events {
		steps = append(steps, step{fmt.Sprintf("event %d", i+1), func(ctx context.Context) error {
			client.TrackEvent(ctx, "Sim Event", map[string]any{"index": i + 1})
			clock.Advance(time.Second)
			return nil
		}})
	}

	return append(steps,
		step{"push token", func(ctx context.Context) error {
			client.SetPushToken(ctx, "sim-token")
			return nil
		}},
		step{"background", func(ctx context.Context) error {
			client.EnterBackground(ctx)
			clock.Advance(sim.BackgroundGap)
			return nil
		}},
		step{"foreground", func(ctx context.Context) error {
			client.EnterForeground(ctx)
			return nil
		}},
		step{"flush", func(ctx context.Context) error {
			res, err := client.Flush(ctx)
			if err != nil {
				return err
			}
			slog.InfoContext(ctx, "flushed",
				slog.Int("delivered", res.Delivered),
				slog.Int("failed", res.Failed),
				slog.Int("deferred", res.Deferred),
				slog.Int("dead_lettered", res.DeadLettered),
				slog.Int("unacked", res.Unacked))
			return nil
		}},
	)
}
