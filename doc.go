// Package engagekit is a client for a customer-engagement collector. It
// records analytics events, profile updates and session lifecycle signals in
// a durable local queue and delivers them to the collector in the background
// with at-least-once semantics.
//
// A Client is constructed explicitly and owns every component: the queue
// storage, the dispatcher that drains it, the session manager, the active
// trigger tracker and the collector transport.
//
//	cfg := config.MustLoad[engagekit.Config]()
//	client, err := engagekit.New(ctx, cfg, engagekit.WithLogger(log))
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(client.Run(ctx))
//
//	client.Launch(ctx)
//	client.TrackEvent(ctx, "Added To Cart", map[string]any{"sku": "A1"})
//
// Producer calls never return delivery errors. Failures to persist are
// logged and reported to the hook registered with WithDiagnostics.
package engagekit
