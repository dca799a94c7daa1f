// Copyright (c) 2026 eafonin
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package kv wraps the Redis client used as the orchestrator's queue and
// idempotency backend.
package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client is a thin wrapper over *redis.Client exposing only the primitives
// the rest of the system needs, so callers never import go-redis directly.
type Client struct {
	rdb *redis.Client
}

// New connects to addr (host:port) using the given password/db.
func New(addr, password string, db int) *Client {
	return &Client{rdb: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

// NewFromURL connects using a redis:// URL.
func NewFromURL(url string) (*Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Client{rdb: redis.NewClient(opt)}, nil
}

// Raw exposes the underlying client for packages (queue) that
// need operations this wrapper does not surface directly.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Ping checks connectivity, used by the /health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// SetNX sets key to value with ttl only if it does not already exist,
// returning whether the set happened. Grounds the idempotency store's
// SETNX-with-TTL requirement.
func (c *Client) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, ttl).Result()
}

// Get returns the string value at key, or redis.Nil if absent.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

// IsNil reports whether err is the redis "key does not exist" sentinel.
func IsNil(err error) bool { return err == redis.Nil }
