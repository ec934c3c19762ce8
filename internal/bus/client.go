// Package bus is a thin publish/set abstraction over a Redis-compatible
// key/value and pub/sub endpoint. It is the only component downstream
// consumers touch; publication is best-effort: errors are logged and never
// returned to the subscriber.
package bus

import (
	"context"
	"encoding/json"

	"github.com/go-redis/redis/v8"
	"github.com/ethereum/go-ethereum/log"
)

// Client wraps a single process-wide *redis.Client. go-redis pools its
// connections internally, so Client is safe to invoke concurrently from
// every subscriber without additional locking.
type Client struct {
	rdb *redis.Client
}

// New builds a client for addr (host:port) and db; go-redis opens its
// connections lazily, on the first command. The bus is not flushed on
// connect: downstream consumers may already be subscribed when this
// process (re)starts.
func New(addr string, db int) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Publish serializes payload as compact JSON and publishes it on channel.
// Errors are logged and swallowed, never returned to the caller. The call
// is synchronous: the calling subscriber waits until the command completes
// or fails.
func (c *Client) Publish(ctx context.Context, channel string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("bus: marshal payload", "channel", channel, "err", err)
		return
	}
	if err := c.rdb.Publish(ctx, channel, body).Err(); err != nil {
		log.Error("bus: publish", "channel", channel, "err", err)
	}
}

// Set serializes payload as compact JSON and stores it under key with no
// expiry, overwriting whatever was there. Errors are logged and
// swallowed.
func (c *Client) Set(ctx context.Context, key string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Error("bus: marshal payload", "key", key, "err", err)
		return
	}
	if err := c.rdb.Set(ctx, key, body, 0).Err(); err != nil {
		log.Error("bus: set", "key", key, "err", err)
	}
}
