package redisclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// pendingMarker is stored under a claimed key until the response is known
const pendingMarker = "\x00pending"

// ErrRequestInProgress is returned by Lookup when a request with the same key
// has been claimed but has not completed yet
var ErrRequestInProgress = errors.New("request with this idempotency key is in progress")

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the Redis connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func idempotencyKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}

// Lookup returns the response stored for key. found is false when the key has
// never been claimed or has expired.
func (c *Client) Lookup(ctx context.Context, key string) (response []byte, found bool, err error) {
	val, err := c.rdb.Get(ctx, idempotencyKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if string(val) == pendingMarker {
		return nil, true, ErrRequestInProgress
	}
	return val, true, nil
}

// Claim reserves key for one request. It reports false when another request
// already holds or completed the key.
func (c *Client) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, idempotencyKey(key), pendingMarker, ttl).Result()
}

// Complete stores the response for a claimed key
func (c *Client) Complete(ctx context.Context, key string, response []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, idempotencyKey(key), response, ttl).Err()
}

// Release drops a claim so that the request can be retried
func (c *Client) Release(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, idempotencyKey(key)).Err()
}
