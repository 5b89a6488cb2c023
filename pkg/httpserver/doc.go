// Package httpserver runs an http.Handler with configured timeouts and
// graceful shutdown bound to a context.
//
//	srv := httpserver.New(cfg, router, httpserver.WithLogger(log))
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Runner(ctx))
//	return g.Wait()
//
// Run wraps listen failures with ErrStart and Shutdown wraps graceful
// shutdown failures with ErrShutdown.
package httpserver
