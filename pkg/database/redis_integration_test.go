package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"video_pipeline_service/pkg/logger"
	testtool "video_pipeline_service/pkg/test_tool"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type counter struct {
	Owner string `json:"owner"`
	N     int    `json:"n"`
}

func setupRedis(t *testing.T) RedisRepository[counter] {
	t.Helper()
	if testing.Short() {
		t.Skip("skip integration test in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	logger.SetNewNop()

	ctx := context.Background()
	container, host, port, err := testtool.SetupContainer(ctx, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	rdb, err := NewRedisClient(RedisConnection{Addr: host + ":" + port, RetryCount: 5, RetryInterval: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisRepository[counter](rdb)
}

func TestRedisRepositoryIntegration(t *testing.T) {
	repo := setupRedis(t)
	ctx := context.Background()

	t.Run("Update 併發時不遺失寫入", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "counter", counter{}, time.Minute))

		var wg sync.WaitGroup
		for i := 0; i < 4; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 5; j++ {
					// WATCH 衝突超過重試次數時再呼叫一次
					for {
						_, err := repo.Update(ctx, "counter", time.Minute, func(c counter) (counter, error) {
							c.N++
							return c, nil
						})
						if err == nil {
							break
						}
					}
				}
			}()
		}
		wg.Wait()

		got, err := repo.Get(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, 20, got.N)
	})

	t.Run("fn 回傳錯誤時不寫入", func(t *testing.T) {
		require.NoError(t, repo.Set(ctx, "owned", counter{Owner: "a"}, time.Minute))
		errTaken := errors.New("taken")

		_, err := repo.Update(ctx, "owned", time.Minute, func(c counter) (counter, error) {
			if c.Owner != "" {
				return c, errTaken
			}
			c.Owner = "b"
			return c, nil
		})
		assert.ErrorIs(t, err, errTaken)

		got, err := repo.Get(ctx, "owned")
		require.NoError(t, err)
		assert.Equal(t, "a", got.Owner)
	})

	t.Run("Update key 不存在", func(t *testing.T) {
		_, err := repo.Update(ctx, "missing", time.Minute, func(c counter) (counter, error) { return c, nil })
		assert.ErrorIs(t, err, ErrRedisNil)
	})

	t.Run("PushCapped 保留上限", func(t *testing.T) {
		for i := 1; i <= 3; i++ {
			require.NoError(t, repo.PushCapped(ctx, "history", counter{N: i}, 2))
		}
		items, err := repo.Range(ctx, "history", 0, -1)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, 3, items[0].N)

		require.NoError(t, repo.PushCapped(ctx, "history", counter{N: 4}, 0))
		items, err = repo.Range(ctx, "history", 0, -1)
		require.NoError(t, err)
		assert.Empty(t, items)
	})
}
