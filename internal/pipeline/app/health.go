package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Pinger 單一依賴的健康檢查
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapter
type PingFunc func(ctx context.Context) error

// Ping call f
func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// HealthChecker 平行檢查所有依賴
type HealthChecker struct {
	checks  map[string]Pinger
	timeout time.Duration
}

// NewHealthChecker key 為回傳 payload 裡的 service 名稱
func NewHealthChecker(checks map[string]Pinger, timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HealthChecker{checks: checks, timeout: timeout}
}

// Check 全部 ok 時 OK 才為 true
func (h *HealthChecker) Check(ctx context.Context) domain.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	status := domain.HealthStatus{OK: true, Services: make(map[string]bool, len(h.checks))}
	var mu sync.Mutex

	var g errgroup.Group
	for name, p := range h.checks {
		name, p := name, p
		g.Go(func() error {
			err := p.Ping(ctx)
			if err != nil {
				logger.Log.Warn("health check failed", zap.String("service", name), zap.Error(err))
			}
			mu.Lock()
			status.Services[name] = err == nil
			if err != nil {
				status.OK = false
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return status
}

// WorkerPinger heartbeat 過期時回傳錯誤
func WorkerPinger(alive func(ctx context.Context) (bool, error)) Pinger {
	return PingFunc(func(ctx context.Context) error {
		ok, err := alive(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("worker heartbeat stale")
		}
		return nil
	})
}
