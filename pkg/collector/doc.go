// Package collector delivers queued tasks to the remote engagement collector
// over HTTP.
//
// Each task type maps to one POST endpoint:
//
//	EVENT              /v1/event/track
//	PROFILE            /v1/user/update
//	SESSION_CONCLUDED  /v1/session/conclude
//	KEEP_ALIVE         /v1/session/keepAlive
//	FB_TOKEN           /v1/user/setPushToken
//
// Delivery calls carry an SDK token in the x-sdk-token header. The token is
// obtained once from /v1/user/save using the app credentials, persisted in a
// kv.Store under TokenKey, and cleared when the collector answers 401.
//
// A 2xx response is a success. Anything else is an error wrapping
// ErrTransport or ErrServer; IsPermanent reports which server errors will not
// succeed on retry. When a CircuitBreaker is configured and open, handlers
// return queue.ErrDeferred so the dispatcher leaves the task untouched.
//
// Usage:
//
//	client, err := collector.New("https://collector.example.com",
//		collector.WithCredentials(collector.Credentials{AppID: id, AppSecret: secret}),
//		collector.WithStore(store),
//		collector.WithCircuitBreaker(collector.NewCircuitBreaker(5, 2, 30*time.Second)),
//	)
//	if err != nil {
//		return err
//	}
//	if err := dispatcher.RegisterHandlers(client.Handlers()); err != nil {
//		return err
//	}
package collector
