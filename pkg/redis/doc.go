// Package redis connects to Redis with go-redis/v9.
//
// engagekit uses Redis as an optional backend for small SDK state (active
// trigger list, session counter, SDK token) when several processes on one host
// must share it. See pkg/kv for the store built on top of this client.
package redis
