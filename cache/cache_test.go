package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, prefix string) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rds := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rds.Close() })
	return NewCache(rds, prefix), mr
}

type entry struct {
	Label    string `json:"label"`
	Priority int    `json:"priority"`
}

func TestCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t, "catalog:")
	ctx := context.Background()

	var got []entry
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)

	want := []entry{{Label: "Fever", Priority: 1}}
	require.NoError(t, c.Set(ctx, "k", want, time.Minute))
	assert.True(t, mr.Exists("catalog:k"), "keys carry the prefix")

	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, want, got)

	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)
}

func TestCacheExpiry(t *testing.T) {
	c, mr := newTestCache(t, "p:")
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", "v", time.Second))

	mr.FastForward(2 * time.Second)
	ok, err := c.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheCorruptValue(t *testing.T) {
	c, mr := newTestCache(t, "p:")
	require.NoError(t, mr.Set("p:k", "{not json"))

	var got entry
	err := c.Get(context.Background(), "k", &got)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMiss)
}

func TestCacheClear(t *testing.T) {
	c, mr := newTestCache(t, "catalog:")
	ctx := context.Background()
	for _, k := range []string{"DR-1:CL-1:complaint", "DR-1:CL-1:medicine", "DR-2:CL-1:complaint"} {
		require.NoError(t, c.Set(ctx, k, []entry{}, time.Minute))
	}
	require.NoError(t, mr.Set("other:key", "x"))

	require.NoError(t, c.Clear(ctx, "DR-1:"))
	assert.False(t, mr.Exists("catalog:DR-1:CL-1:complaint"))
	assert.False(t, mr.Exists("catalog:DR-1:CL-1:medicine"))
	assert.True(t, mr.Exists("catalog:DR-2:CL-1:complaint"))

	require.NoError(t, c.Clear(ctx, ""))
	assert.False(t, mr.Exists("catalog:DR-2:CL-1:complaint"))
	assert.True(t, mr.Exists("other:key"), "keys outside the prefix survive")
}

func TestLoadCachesOnlySuccess(t *testing.T) {
	c, mr := newTestCache(t, "catalog:")
	ctx := context.Background()
	calls := 0
	load := func(context.Context) ([]entry, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("db down")
		}
		return []entry{{Label: "Fever"}}, nil
	}

	_, err := Load(ctx, c, "k", time.Minute, load, nil)
	require.Error(t, err)
	assert.False(t, mr.Exists("catalog:k"))

	got, err := Load(ctx, c, "k", time.Minute, load, nil)
	require.NoError(t, err)
	assert.Equal(t, []entry{{Label: "Fever"}}, got)

	got, err = Load(ctx, c, "k", time.Minute, load, nil)
	require.NoError(t, err)
	assert.Equal(t, []entry{{Label: "Fever"}}, got)
	assert.Equal(t, 2, calls)
}

func TestLoadReportsCacheFailures(t *testing.T) {
	c, mr := newTestCache(t, "p:")
	require.NoError(t, mr.Set("p:k", "{not json"))

	var reported []error
	got, err := Load(context.Background(), c, "k", time.Minute,
		func(context.Context) (string, error) { return "fresh", nil },
		func(err error) { reported = append(reported, err) })
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
	assert.Len(t, reported, 1)
}

func TestNilCache(t *testing.T) {
	var c *Cache
	ctx := context.Background()
	var got string
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)
	assert.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	assert.NoError(t, c.Delete(ctx, "k"))
	assert.NoError(t, c.Clear(ctx, ""))
	ok, err := c.Exists(ctx, "k")
	assert.NoError(t, err)
	assert.False(t, ok)

	v, err := Load(ctx, c, "k", time.Minute, func(context.Context) (int, error) { return 7, nil }, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}
