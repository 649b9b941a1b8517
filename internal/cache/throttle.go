// Copyright (c) 2026 Madalin Gabriel Ignisca <hi@madalin.me>
// Copyright (c) 2026 Vlah Software House SRL <contact@vlah.sh>
// All rights reserved. See LICENSE for details.

package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// throttleKeyPrefix is the Valkey key prefix for failure counters.
	throttleKeyPrefix = "throttle:"

	// DefaultThrottleWindow is how long failures are remembered.
	DefaultThrottleWindow = 15 * time.Minute
)

// Throttle counts failed attempts per key (a sign-in e-mail) in Valkey
// and reports the key as blocked once the limit is reached. Counters
// expire a fixed window after the first failure. Unlike the per-IP rate
// limiter it holds across server instances and client addresses.
type Throttle struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewThrottle creates a throttle allowing limit failures per window.
// A zero window uses DefaultThrottleWindow.
func NewThrottle(client *redis.Client, limit int, window time.Duration) *Throttle {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &Throttle{client: client, limit: int64(limit), window: window}
}

// Blocked reports whether key has used up its failures for the window.
func (t *Throttle) Blocked(ctx context.Context, key string) (bool, error) {
	n, err := t.client.Get(ctx, throttleKey(key)).Int64()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("throttle get: %w", err)
	}
	return n >= t.limit, nil
}

// Fail records one failure for key, starting the window on the first one.
func (t *Throttle) Fail(ctx context.Context, key string) error {
	k := throttleKey(key)
	pipe := t.client.TxPipeline()
	pipe.Incr(ctx, k)
	pipe.ExpireNX(ctx, k, t.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("throttle incr: %w", err)
	}
	return nil
}

// Reset clears the failures for key, typically after a successful sign-in.
func (t *Throttle) Reset(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, throttleKey(key)).Err(); err != nil {
		return fmt.Errorf("throttle reset: %w", err)
	}
	return nil
}

// throttleKey normalises key so "Ana@Example.com" and "ana@example.com"
// share a counter.
func throttleKey(key string) string {
	return throttleKeyPrefix + strings.ToLower(strings.TrimSpace(key))
}
