package app

import (
	"context"
	"errors"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/database"
	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
)

// Heartbeat 定期寫入 unix millis，health 以此判斷 worker 是否存活
type Heartbeat struct {
	store    database.RedisRepository[int64]
	interval time.Duration
	ttl      time.Duration
	alive    func() bool
}

// NewHeartbeat alive 回傳 false 時不寫入，讓 health 看到 worker down，nil 視為永遠存活
func NewHeartbeat(store database.RedisRepository[int64], interval, ttl time.Duration, alive func() bool) *Heartbeat {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if ttl < interval {
		ttl = 3 * interval
	}
	return &Heartbeat{store: store, interval: interval, ttl: ttl, alive: alive}
}

// Beat 寫入一次
func (h *Heartbeat) Beat(ctx context.Context) error {
	return h.store.Set(ctx, domain.HeartbeatKey, nowFunc().UnixMilli(), h.ttl)
}

// Run 每個 interval 寫入一次直到 ctx 結束
func (h *Heartbeat) Run(ctx context.Context) error {
	h.tick(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

func (h *Heartbeat) tick(ctx context.Context) {
	if h.alive != nil && !h.alive() {
		logger.Log.Warn("consumer not receiving deliveries, skip heartbeat")
		return
	}
	if err := h.Beat(ctx); err != nil {
		logger.Log.Warn("heartbeat", zap.Error(err))
	}
}

// WorkerAlive 最後一次 heartbeat 在 staleAfter 內才算存活
func WorkerAlive(ctx context.Context, store database.RedisRepository[int64], staleAfter time.Duration) (bool, error) {
	ms, err := store.Get(ctx, domain.HeartbeatKey)
	if errors.Is(err, database.ErrRedisNil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return nowFunc().Sub(time.UnixMilli(ms)) <= staleAfter, nil
}
