package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get when the key is absent.
var ErrMiss = errors.New("cache miss")

// Cache stores JSON values in Redis under a common key prefix.
// A nil *Cache is valid: every read misses and every write is dropped.
type Cache struct {
	client *redis.Client
	prefix string
}

func NewCache(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) key(k string) string { return c.prefix + k }

// Get decodes the value at key into dest. A missing key yields ErrMiss.
func (c *Cache) Get(ctx context.Context, key string, dest any) error {
	if c == nil {
		return ErrMiss
	}
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		return ErrMiss
	case err != nil:
		return errors.Wrapf(err, "cache read %q", key)
	}
	return errors.Wrapf(json.Unmarshal(raw, dest), "cache decode %q", key)
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.Wrapf(err, "cache encode %q", key)
	}
	return errors.Wrapf(c.client.Set(ctx, c.key(key), raw, ttl).Err(), "cache write %q", key)
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if c == nil {
		return nil
	}
	return errors.Wrapf(c.client.Del(ctx, c.key(key)).Err(), "cache delete %q", key)
}

// Exists reports whether key is present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if c == nil {
		return false, nil
	}
	n, err := c.client.Exists(ctx, c.key(key)).Result()
	if err != nil {
		return false, errors.Wrapf(err, "cache exists %q", key)
	}
	return n > 0, nil
}

// Clear removes every key under the prefix, or under prefix+sub when sub is given.
func (c *Cache) Clear(ctx context.Context, sub string) error {
	if c == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, c.key(sub)+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return errors.Wrap(err, "cache clear")
		}
	}
	return errors.Wrap(iter.Err(), "cache scan")
}

// Load returns the cached value at key, or calls load and caches its result.
// Cache failures are reported to onErr (if set) and never fail the call;
// load failures are returned and not cached.
func Load[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error), onErr func(error)) (T, error) {
	var v T
	err := c.Get(ctx, key, &v)
	if err == nil {
		return v, nil
	}
	if !errors.Is(err, ErrMiss) && onErr != nil {
		onErr(err)
	}

	v, err = load(ctx)
	if err != nil {
		return v, err
	}
	if err := c.Set(ctx, key, v, ttl); err != nil && onErr != nil {
		onErr(err)
	}
	return v, nil
}
