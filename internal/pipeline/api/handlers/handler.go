package handlers

import (
	"context"
	"fmt"
	"strconv"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthService 依賴檢查
type HealthService interface {
	Check(ctx context.Context) domain.HealthStatus
}

// ConnectCheck check api connect start
func ConnectCheck(c *fiber.Ctx) error {
	return c.SendString("pipeline worker start!")
}

// DebugLogFlag toggle debug log flag
func DebugLogFlag(c *fiber.Ctx) error {
	statusStr := c.Query("status")
	logger.Log.Info("debug", zap.String("status", statusStr))
	status, err := strconv.ParseBool(statusStr)
	if err != nil {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	logger.Log.SetDebugMode(status)
	return c.SendString(fmt.Sprintf("service[pipeline_worker]: debug mode is : %t", status))
}

// Health 任何依賴 down 時回傳 503
func Health(checker HealthService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		status := checker.Check(c.UserContext())
		code := fiber.StatusOK
		if !status.OK {
			code = fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(status)
	}
}

// Metrics prometheus exposition
func Metrics() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
