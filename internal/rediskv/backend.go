package rediskv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key written by Backend.
const DefaultPrefix = "bizpos"

// Backend implements cache.Backend on Redis.
type Backend struct {
	client redis.UniversalClient
	prefix string
}

// New wraps client. An empty prefix uses DefaultPrefix.
func New(client redis.UniversalClient, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{client: client, prefix: prefix}
}

// Connect dials addr and pings it, retrying with capped exponential
// backoff until attempts run out.
func Connect(ctx context.Context, addr string, attempts int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = client.Ping(ctx).Err(); err == nil {
			return client, nil
		}
		if attempt == attempts {
			break
		}
		sleep := min(time.Second*time.Duration(1<<min(attempt, 5)), 30*time.Second)
		select {
		case <-ctx.Done():
			client.Close()
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
	client.Close()
	return nil, fmt.Errorf("connect redis %s: %w", addr, err)
}

// Key returns the Redis key of a tenant-scoped cache key.
func (b *Backend) Key(tenantID, key string) string {
	return b.prefix + ":" + tenantID + ":" + key
}

// LoadValues implements cache.Backend. Missing keys are absent from the
// result.
func (b *Backend) LoadValues(ctx context.Context, tenantID string, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.Key(tenantID, k)
	}

	vals, err := b.client.MGet(ctx, full...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("load values for %s: %w", tenantID, err)
	}
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		out[keys[i]] = s
	}
	return out, nil
}

// SetValues implements cache.Backend. All entries are written in one
// MULTI/EXEC transaction.
func (b *Backend) SetValues(ctx context.Context, tenantID string, entries map[string]string) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for k, v := range entries {
			pipe.Set(ctx, b.Key(tenantID, k), v, 0)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("set values for %s: %w", tenantID, err)
	}
	return nil
}

// DeleteValues implements cache.Backend.
func (b *Backend) DeleteValues(ctx context.Context, tenantID string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.Key(tenantID, k)
	}
	if err := b.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("delete values for %s: %w", tenantID, err)
	}
	return nil
}
