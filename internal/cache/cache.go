// Package cache is an optional key-value cache with per-entry expiry.
// Callers treat it as best effort: a miss, an error, or the Noop
// implementation all mean "fetch from the source".
package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache stores namespaced byte values with a time-to-live. Writes are
// last-write-wins.
type Cache interface {
	Get(ctx context.Context, namespace, key string) ([]byte, bool, error)
	Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
}

// Noop is a Cache that stores nothing.
type Noop struct{}

func (Noop) Get(context.Context, string, string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(context.Context, string, string, []byte, time.Duration) error { return nil }

func (Noop) Delete(context.Context, string, string) error { return nil }

// GetJSON decodes a cached value into v. It reports false on a miss, a
// cache error, or a value that no longer decodes.
func GetJSON(ctx context.Context, c Cache, namespace, key string, v any) bool {
	data, ok, err := c.Get(ctx, namespace, key)
	if err != nil || !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// SetJSON encodes v and stores it.
func SetJSON(ctx context.Context, c Cache, namespace, key string, v any, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.Set(ctx, namespace, key, data, ttl)
}
