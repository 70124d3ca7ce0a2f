package grpcserver

import (
	"context"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Checker 與 GET /health 使用同一份檢查
type Checker interface {
	Check(ctx context.Context) domain.HealthStatus
}

// HealthServer 把依賴檢查結果同步成 grpc.health.v1 狀態
// service "" 代表整體，其他 service 名稱對應 HealthStatus.Services 的 key
type HealthServer struct {
	checker  Checker
	interval time.Duration
	health   *health.Server
}

// NewHealthServer interval <= 0 時使用 10s
func NewHealthServer(checker Checker, interval time.Duration) *HealthServer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &HealthServer{
		checker:  checker,
		interval: interval,
		health:   health.NewServer(),
	}
}

// Register 掛到 grpc server
func (s *HealthServer) Register(g *grpc.Server) {
	healthpb.RegisterHealthServer(g, s.health)
}

// Sync 執行一次檢查並更新狀態
func (s *HealthServer) Sync(ctx context.Context) domain.HealthStatus {
	status := s.checker.Check(ctx)
	for name, ok := range status.Services {
		s.health.SetServingStatus(name, servingStatus(ok))
	}
	s.health.SetServingStatus("", servingStatus(status.OK))
	return status
}

// Run 定期 Sync，ctx 結束時所有 service 轉為 NOT_SERVING
func (s *HealthServer) Run(ctx context.Context) error {
	s.Sync(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return nil
		case <-ticker.C:
			if status := s.Sync(ctx); !status.OK {
				logger.Log.Warn("dependency check failed", zap.Any("services", status.Services))
			}
		}
	}
}

func servingStatus(ok bool) healthpb.HealthCheckResponse_ServingStatus {
	if ok {
		return healthpb.HealthCheckResponse_SERVING
	}
	return healthpb.HealthCheckResponse_NOT_SERVING
}
