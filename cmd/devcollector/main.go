// Command devcollector runs a local engagement collector that records every
// delivery in memory. Inspect it with GET /debug/received and script
// failures with POST /debug/fail.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/engagekit/pkg/config"
	"github.com/dmitrymomot/engagekit/pkg/devcollector"
	"github.com/dmitrymomot/engagekit/pkg/httpserver"
	"github.com/dmitrymomot/engagekit/pkg/logger"
)

type appConfig struct {
	HTTP         httpserver.Config
	Log          logger.Config
	RequireToken bool `env:"DEVCOLLECTOR_REQUIRE_TOKEN" envDefault:"true"`
}

func main() {
	cfg := config.MustLoad[appConfig]()
	log := logger.New(logger.WithConfig(cfg.Log), logger.WithAttr(logger.Component("devcollector")))
	logger.SetAsDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := []devcollector.Option{devcollector.WithLogger(log)}
	if !cfg.RequireToken {
		opts = append(opts, devcollector.WithoutTokenCheck())
	}
	sink := devcollector.New(opts...)
	srv := httpserver.New(cfg.HTTP, sink.Router(), httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(srv.Runner(ctx))

	if err := g.Wait(); err != nil {
		log.Error("devcollector stopped", logger.Error(err))
		os.Exit(1)
	}
}
