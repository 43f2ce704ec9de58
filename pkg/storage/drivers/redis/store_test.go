package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/bullwark/pkg/storage/drivers/redis"
	"github.com/aussiebroadwan/bullwark/pkg/storage/storagetest"
)

func newStore(t *testing.T, mr *miniredis.Miniredis, prefix string) *redis.Store {
	t.Helper()
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.New(rdb, prefix)
}

func TestRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	storagetest.Run(t, newStore(t, mr, ""))
}

func TestRedisStore_KeysArePrefixed(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s := newStore(t, mr, "app1")
	require.NoError(t, s.Set(context.Background(), "bullwark:jwt", "a.b.c"))

	got, err := mr.Get("app1:bullwark:jwt")
	require.NoError(t, err)
	require.Equal(t, "a.b.c", got)
}

func TestRedisStore_WatchSeesOtherClient(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	watcher := newStore(t, mr, "")
	writer := newStore(t, mr, "")
	storagetest.RunWatcher(t, watcher, writer)
}

func TestRedisStore_Open(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, err := redis.Open(context.Background(), mr.Addr(), "")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	mr.Close()
	_, err = redis.Open(context.Background(), mr.Addr(), "")
	require.Error(t, err)
}
