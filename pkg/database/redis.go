package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"video_pipeline_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ErrRedisNil key 不存在
var ErrRedisNil = errors.New("redis.Nil")

// RedisRepository 定义接口，value 一律以 JSON 存放
type RedisRepository[T any] interface {
	Set(ctx context.Context, key string, value T, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value T, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (T, error)
	Del(ctx context.Context, key string) error
	Update(ctx context.Context, key string, ttl time.Duration, fn func(current T) (T, error)) (T, error)
	PushCapped(ctx context.Context, key string, value T, limit int) error
	Range(ctx context.Context, key string, start, stop int64) ([]T, error)
	Ping(ctx context.Context) error
}

type redisRepository[T any] struct {
	client redis.UniversalClient
}

// NewRedisClient init redis connection，有 sentinel 設定時走哨兵，否則單節點
func NewRedisClient(c RedisConnection) (redis.UniversalClient, error) {
	var rdb redis.UniversalClient
	if len(c.SentinelAddrs) > 0 {
		rdb = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    c.MasterName,    // 哨兵主节点名称
			SentinelAddrs: c.SentinelAddrs, // 哨兵地址列表
			Password:      c.Password,
			DB:            c.DB,
		})
	} else {
		rdb = redis.NewClient(&redis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
		})
	}

	var err error
	for i := 1; i <= c.RetryCount; i++ {
		// 测试连接
		if err = rdb.Ping(context.Background()).Err(); err == nil {
			logger.Log.Info("redis 連線成功", zap.Int("attempt", i))
			return rdb, nil
		}
		logger.Log.Warn("failed to connect to redis, retrying...",
			zap.Int("attempt", i),
			zap.Int("retry_count", c.RetryCount),
			zap.Error(err),
		)
		time.Sleep(c.RetryInterval * time.Second)
	}

	_ = rdb.Close()
	return nil, fmt.Errorf("failed to connect to redis: %w", err)
}

// NewRedisRepository init Redis repository
func NewRedisRepository[T any](client redis.UniversalClient) RedisRepository[T] {
	return &redisRepository[T]{client: client}
}

func (r *redisRepository[T]) Set(ctx context.Context, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return r.client.Set(ctx, key, data, ttl).Err()
}

// SetNX key 不存在時才寫入，回傳是否寫入成功
func (r *redisRepository[T]) SetNX(ctx context.Context, key string, value T, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return false, fmt.Errorf("failed to marshal value: %w", err)
	}
	ok, err := r.client.SetNX(ctx, key, data, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to setnx %s: %w", key, err)
	}
	return ok, nil
}

func (r *redisRepository[T]) Get(ctx context.Context, key string) (T, error) {
	var zeroValue T
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return zeroValue, ErrRedisNil
	} else if err != nil {
		return zeroValue, fmt.Errorf("failed to get %s: %w", key, err)
	}

	var result T
	if err := json.Unmarshal([]byte(val), &result); err != nil {
		logger.Log.Error("redis get unmarshal", zap.String("key", key), zap.Error(err))
		return zeroValue, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return result, nil
}

func (r *redisRepository[T]) Del(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

// maxUpdateRetries WATCH 衝突時最多重試次數
const maxUpdateRetries = 5

// Update WATCH key 後讀取、交給 fn 修改、在 MULTI 中寫回
// 期間 key 被其他 client 改動時重讀重試，fn 回傳錯誤時不寫入並原樣回傳
func (r *redisRepository[T]) Update(ctx context.Context, key string, ttl time.Duration, fn func(current T) (T, error)) (T, error) {
	var (
		zeroValue T
		result    T
	)
	txf := func(tx *redis.Tx) error {
		val, err := tx.Get(ctx, key).Result()
		if err == redis.Nil {
			return ErrRedisNil
		} else if err != nil {
			return fmt.Errorf("failed to get %s: %w", key, err)
		}

		var current T
		if err := json.Unmarshal([]byte(val), &current); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		data, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			return nil
		})
		if err != nil {
			return err
		}
		result = next
		return nil
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return zeroValue, err
	}
	return zeroValue, fmt.Errorf("failed to update %s: too many concurrent writers", key)
}

// PushCapped LPUSH 後 LTRIM，list 最多保留 limit 筆，limit <= 0 時不保留
func (r *redisRepository[T]) PushCapped(ctx context.Context, key string, value T, limit int) error {
	if limit <= 0 {
		return r.client.Del(ctx, key).Err()
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, int64(limit-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to push %s: %w", key, err)
	}
	return nil
}

// Range LRANGE，無法解析的項目略過
func (r *redisRepository[T]) Range(ctx context.Context, key string, start, stop int64) ([]T, error) {
	vals, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to lrange %s: %w", key, err)
	}

	out := make([]T, 0, len(vals))
	for _, v := range vals {
		var item T
		if err := json.Unmarshal([]byte(v), &item); err != nil {
			logger.Log.Warn("redis range skip item", zap.String("key", key), zap.Error(err))
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (r *redisRepository[T]) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
