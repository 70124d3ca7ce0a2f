package database

import (
	"context"
	"fmt"
	"time"

	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

// CreateGRPCClient create grpc client，等到 READY 或 timeout
func CreateGRPCClient(ctx context.Context, grpcAddr string, timeout time.Duration) (*grpc.ClientConn, error) {
	client, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("建立 gRPC client [%s] 失敗: %w", grpcAddr, err)
	}
	client.Connect()

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		state := client.GetState()
		if state == connectivity.Ready {
			logger.Log.Info("gRPC connection is READY", zap.String("addr", grpcAddr))
			return client, nil
		}
		if !client.WaitForStateChange(waitCtx, state) {
			_ = client.Close()
			return nil, fmt.Errorf("gRPC connection [%s] did not become READY within %s", grpcAddr, timeout)
		}
	}
}
