package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"video_pipeline_service/internal/pipeline/app"
	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/logger"
	"video_pipeline_service/pkg/middlewares"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// PipelineHandler internal pipeline api
type PipelineHandler struct {
	Usecase app.PipelineUseCase
}

// NewPipelineHandler create pipeline handler
func NewPipelineHandler(usecase app.PipelineUseCase) *PipelineHandler {
	return &PipelineHandler{Usecase: usecase}
}

// ProcessVideo POST /internal/videos/:id/process
func (h *PipelineHandler) ProcessVideo(c *fiber.Ctx) error {
	videoID := c.Params("id")
	logger.Log.Debug("process video", zap.String("video_id", videoID), zap.Any("caller", c.Locals(middlewares.TokenService)))

	rec, enqueued, err := h.Usecase.ProcessVideo(c.UserContext(), videoID)
	if err != nil {
		return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"job":      rec,
		"enqueued": enqueued,
	})
}

// RetryVideo POST /internal/videos/:id/retry
func (h *PipelineHandler) RetryVideo(c *fiber.Ctx) error {
	rec, enqueued, err := h.Usecase.RetryVideo(c.UserContext(), c.Params("id"))
	if err != nil {
		return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{
		"job":      rec,
		"enqueued": enqueued,
	})
}

// GetVideo GET /internal/videos/:id
func (h *PipelineHandler) GetVideo(c *fiber.Ctx) error {
	view, err := h.Usecase.GetVideo(c.UserContext(), c.Params("id"))
	if err != nil {
		return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(view)
}

// DeleteVideo DELETE /internal/videos/:id
func (h *PipelineHandler) DeleteVideo(c *fiber.Ctx) error {
	if err := h.Usecase.DeleteVideo(c.UserContext(), c.Params("id")); err != nil {
		return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(http.StatusNoContent)
}

// Attempts GET /internal/videos/:id/attempts?limit=
func (h *PipelineHandler) Attempts(c *fiber.Ctx) error {
	limit, err := strconv.ParseInt(c.Query("limit", "20"), 10, 64)
	if err != nil || limit < 0 {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "invalid limit"})
	}
	logs, err := h.Usecase.Attempts(c.UserContext(), c.Params("id"), limit)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(logs)
}

// Jobs GET /internal/jobs?kind=completed|failed
func (h *PipelineHandler) Jobs(c *fiber.Ctx) error {
	kind := domain.HistoryKind(c.Query("kind", string(domain.HistoryFailed)))
	if kind != domain.HistoryCompleted && kind != domain.HistoryFailed {
		return c.Status(http.StatusBadRequest).JSON(fiber.Map{"error": "kind must be completed or failed"})
	}
	records, err := h.Usecase.History(c.UserContext(), kind)
	if err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(records)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrVideoNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNotEligibleForRetry), errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrMissingScreen):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
