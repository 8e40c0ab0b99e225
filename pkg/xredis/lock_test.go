package xredis_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"stakex.com/pkg/xredis"
)

// 需要本地 127.0.0.1:6379 的 Redis，连不上就跳过
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb, err := xredis.NewRedis(context.Background(), &xredis.Config{Addr: "127.0.0.1:6379"})
	if err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestDistLock_OnlyOneHolder(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	key := "test:lock:" + time.Now().Format("150405.000000")

	var wg sync.WaitGroup
	var successCount int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock := xredis.NewDistLock(rdb, key, 5*time.Second)
			ok, err := lock.TryLock(ctx)
			if err == nil && ok {
				atomic.AddInt32(&successCount, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successCount, "同一时刻只能有一个持有者")
	_ = rdb.Del(ctx, key).Err()
}

func TestDistLock_UnlockRequiresToken(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	key := "test:lock:token:" + time.Now().Format("150405.000000")
	owner := xredis.NewDistLock(rdb, key, 5*time.Second)
	other := xredis.NewDistLock(rdb, key, 5*time.Second)

	ok, err := owner.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := other.Unlock(ctx)
	require.NoError(t, err)
	assert.False(t, released, "别人的 token 不能解锁")

	released, err = owner.Unlock(ctx)
	require.NoError(t, err)
	assert.True(t, released)
}

func TestDistLock_RefreshRequiresToken(t *testing.T) {
	rdb := newTestRedis(t)
	ctx := context.Background()

	key := "test:lock:refresh:" + time.Now().Format("150405.000000")
	owner := xredis.NewDistLock(rdb, key, 2*time.Second)
	other := xredis.NewDistLock(rdb, key, time.Minute)

	ok, err := owner.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	refreshed, err := other.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, refreshed, "别人的 token 不能续期")

	refreshed, err = owner.Refresh(ctx)
	require.NoError(t, err)
	assert.True(t, refreshed)

	require.NoError(t, rdb.Del(ctx, key).Err())
	refreshed, err = owner.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, refreshed, "锁没了续期失败")
}
