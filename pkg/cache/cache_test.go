package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type item struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, time.Minute)

	var got item
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)

	in := item{Name: "Starter", Price: "1000.00"}
	require.NoError(t, c.Set(ctx, "k", in, time.Minute))
	in.Name = "mutated"

	require.NoError(t, c.Get(ctx, "k", &got))
	assert.Equal(t, "Starter", got.Name, "stored value is a copy")

	require.NoError(t, c.Delete(ctx, "k"))
	assert.ErrorIs(t, c.Get(ctx, "k", &got), ErrMiss)
}

func TestMultiLevelBackfillsLocal(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	remote := NewRedisCache(rdb, "test:")
	local := NewMemoryCache(time.Minute, time.Minute)
	ml := NewMultiLevelCache(local, remote)

	require.NoError(t, remote.Set(ctx, "pkg", item{Name: "Business"}, time.Minute))
	assert.True(t, mr.Exists("test:pkg"))

	var got item
	require.NoError(t, ml.Get(ctx, "pkg", &got))
	assert.Equal(t, "Business", got.Name)

	var fromLocal item
	require.NoError(t, local.Get(ctx, "pkg", &fromLocal))
	assert.Equal(t, "Business", fromLocal.Name)

	require.NoError(t, ml.Delete(ctx, "pkg"))
	assert.ErrorIs(t, ml.Get(ctx, "pkg", &got), ErrMiss)
}

func TestGetOrLoad(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, time.Minute)
	calls := 0
	load := func(context.Context) ([]item, error) {
		calls++
		return []item{{Name: "Starter"}, {Name: "Enterprise"}}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := GetOrLoad(ctx, c, "catalog", time.Minute, load)
		require.NoError(t, err)
		assert.Len(t, got, 2)
	}
	assert.Equal(t, 1, calls)

	boom := errors.New("db down")
	_, err := GetOrLoad(ctx, c, "other", time.Minute, func(context.Context) (int, error) { return 0, boom })
	assert.ErrorIs(t, err, boom)

	got, err := GetOrLoad[int](ctx, nil, "nocache", time.Minute, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}
