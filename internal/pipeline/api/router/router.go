package router

import (
	"video_pipeline_service/internal/pipeline/api/handlers"
	"video_pipeline_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
)

// RegisterRoutes 注册 pipeline 相關的路由
func RegisterRoutes(app *fiber.App, pipelineHandler *handlers.PipelineHandler, health handlers.HealthService) {
	app.Get("/", handlers.ConnectCheck)
	app.Get("/health", handlers.Health(health))
	app.Get("/metrics", handlers.Metrics())

	internal := app.Group("/internal")
	internal.Use(middlewares.ServiceAuth())
	internal.Post("/debug", handlers.DebugLogFlag)

	internal.Post("/videos/:id/process", pipelineHandler.ProcessVideo)
	internal.Post("/videos/:id/retry", pipelineHandler.RetryVideo)
	internal.Get("/videos/:id", pipelineHandler.GetVideo)
	internal.Delete("/videos/:id", pipelineHandler.DeleteVideo)
	internal.Get("/videos/:id/attempts", pipelineHandler.Attempts)
	internal.Get("/jobs", pipelineHandler.Jobs)
}
