package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/repository"
	"video_pipeline_service/pkg/database"
	errprocess "video_pipeline_service/pkg/err"
	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
)

// PipelineUseCase 這裡封裝了對外提供的應用服務
type PipelineUseCase interface {
	ProcessVideo(ctx context.Context, videoID string) (*domain.JobRecord, bool, error)
	RetryVideo(ctx context.Context, videoID string) (*domain.JobRecord, bool, error)
	GetVideo(ctx context.Context, videoID string) (*domain.VideoView, error)
	DeleteVideo(ctx context.Context, videoID string) error
	History(ctx context.Context, kind domain.HistoryKind) ([]domain.JobRecord, error)
	Attempts(ctx context.Context, videoID string, limit int64) ([]*domain.AttemptLog, error)
}

type pipelineUseCase struct {
	Videos     repository.VideoRepo
	Store      database.MinIOClientRepo
	Queue      JobQueue
	Events     repository.EventPublisher
	AttemptLog repository.AttemptRepo

	presignExpiry time.Duration
}

// NewPipelineUseCase 建立一個新的 PipelineUseCase
func NewPipelineUseCase(videos repository.VideoRepo,
	store database.MinIOClientRepo,
	queue JobQueue,
	events repository.EventPublisher,
	attempts repository.AttemptRepo,
	presignExpiry time.Duration,
) PipelineUseCase {
	if events == nil {
		events = repository.NewNoopEventPublisher()
	}
	if attempts == nil {
		attempts = repository.NewNoopAttemptRepo()
	}
	if presignExpiry <= 0 {
		presignExpiry = time.Hour
	}
	return &pipelineUseCase{
		Videos:        videos,
		Store:         store,
		Queue:         queue,
		Events:        events,
		AttemptLog:    attempts,
		presignExpiry: presignExpiry,
	}
}

// ProcessVideo 上傳完成後觸發，影片須存在、有 screen track 且尚未 READY
func (s *pipelineUseCase) ProcessVideo(ctx context.Context, videoID string) (*domain.JobRecord, bool, error) {
	video, err := s.Videos.GetByID(ctx, videoID)
	if err != nil {
		return nil, false, errprocess.Wrap(err, fmt.Sprintf("videoID[%s] 找不到影片", videoID))
	}
	if !video.HasScreen() {
		return nil, false, errprocess.Wrap(domain.ErrMissingScreen, fmt.Sprintf("videoID[%s] 缺少 screen track", videoID))
	}
	if video.Status == domain.VideoReady {
		return nil, false, errprocess.Wrap(domain.ErrInvalidTransition, fmt.Sprintf("videoID[%s] 影片已處理完成", videoID))
	}
	return s.enqueue(ctx, videoID)
}

// RetryVideo 只接受 PROCESSING 或 FAILED，先回到 PROCESSING 再用同一個 job id 投遞
func (s *pipelineUseCase) RetryVideo(ctx context.Context, videoID string) (*domain.JobRecord, bool, error) {
	video, err := s.Videos.GetByID(ctx, videoID)
	if err != nil {
		return nil, false, errprocess.Wrap(err, fmt.Sprintf("videoID[%s] 找不到影片", videoID))
	}
	if !domain.RetryEligible(video.Status) {
		return nil, false, errprocess.Wrap(domain.ErrNotEligibleForRetry, fmt.Sprintf("videoID[%s] 狀態 %s 不可重試", videoID, video.Status))
	}

	if err := s.Videos.TransitionStatus(ctx, videoID, domain.VideoProcessing, ""); err != nil {
		return nil, false, errprocess.Wrap(err, fmt.Sprintf("videoID[%s] 重設狀態失敗", videoID))
	}
	s.emit(ctx, domain.VideoEvent{Type: domain.EventStatusChanged, VideoID: videoID, Status: domain.VideoProcessing, Reason: "retry requested"})

	return s.enqueue(ctx, videoID)
}

// GetVideo 狀態、object key、presigned url 與依 start 排序的字幕片段
func (s *pipelineUseCase) GetVideo(ctx context.Context, videoID string) (*domain.VideoView, error) {
	video, err := s.Videos.GetByID(ctx, videoID)
	if err != nil {
		return nil, errprocess.Wrap(err, fmt.Sprintf("videoID[%s] 找不到影片", videoID))
	}

	segs, err := s.Videos.ListSegments(ctx, videoID)
	if err != nil {
		return nil, errprocess.Wrap(err, fmt.Sprintf("videoID[%s] 讀取字幕片段失敗", videoID))
	}
	video.Segments = segs

	view := &domain.VideoView{Video: *video}
	view.OutputURL = s.presign(ctx, video.OutputKey)
	view.ThumbURL = s.presign(ctx, video.ThumbKey)
	view.SubtitleURL = s.presign(ctx, video.SubtitleKey)
	return view, nil
}

// DeleteVideo 移除所有 object、attempt log 與資料列
func (s *pipelineUseCase) DeleteVideo(ctx context.Context, videoID string) error {
	video, err := s.Videos.GetByID(ctx, videoID)
	if err != nil {
		return errprocess.Wrap(err, fmt.Sprintf("videoID[%s] 找不到影片", videoID))
	}

	for _, key := range video.ArtifactKeys() {
		if err := s.Store.RemoveObject(ctx, key); err != nil {
			return errprocess.Wrap(err, fmt.Sprintf("videoID[%s] 刪除物件 %s 失敗", videoID, key))
		}
	}
	if err := s.AttemptLog.DeleteByVideo(ctx, videoID); err != nil {
		logger.Log.Warn("delete attempt logs", zap.String("video_id", videoID), zap.Error(err))
	}
	if err := s.Videos.Delete(ctx, videoID); err != nil {
		return errprocess.Wrap(err, fmt.Sprintf("videoID[%s] 刪除影片失敗", videoID))
	}

	s.emit(ctx, domain.VideoEvent{Type: domain.EventDeleted, VideoID: videoID})
	return nil
}

// History completed / failed
func (s *pipelineUseCase) History(ctx context.Context, kind domain.HistoryKind) ([]domain.JobRecord, error) {
	records, err := s.Queue.History(ctx, kind)
	if err != nil {
		return nil, errprocess.Set(fmt.Sprintf("kind[%s] 讀取 job 紀錄失敗: %v", kind, err))
	}
	return records, nil
}

// Attempts 最新的在前
func (s *pipelineUseCase) Attempts(ctx context.Context, videoID string, limit int64) ([]*domain.AttemptLog, error) {
	logs, err := s.AttemptLog.ListByVideo(ctx, videoID, limit)
	if err != nil {
		return nil, errprocess.Set(fmt.Sprintf("videoID[%s] 讀取 attempt 紀錄失敗: %v", videoID, err))
	}
	return logs, nil
}

func (s *pipelineUseCase) enqueue(ctx context.Context, videoID string) (*domain.JobRecord, bool, error) {
	rec, enqueued, err := s.Queue.Enqueue(ctx, videoID)
	if err != nil {
		jobsEnqueued.WithLabelValues("error").Inc()
		return nil, false, errprocess.Set(fmt.Sprintf("videoID[%s] 投遞 job 失敗: %v", videoID, err))
	}
	if enqueued {
		jobsEnqueued.WithLabelValues("enqueued").Inc()
	} else {
		jobsEnqueued.WithLabelValues("duplicate").Inc()
	}
	return &rec, enqueued, nil
}

func (s *pipelineUseCase) presign(ctx context.Context, key *string) string {
	if key == nil || *key == "" {
		return ""
	}
	u, err := s.Store.PresignGetURL(ctx, *key, s.presignExpiry)
	if err != nil {
		logger.Log.Warn("presign url", zap.String("key", *key), zap.Error(err))
		return ""
	}
	return u
}

func (s *pipelineUseCase) emit(ctx context.Context, evt domain.VideoEvent) {
	evt.OccurredAt = nowFunc()
	if err := s.Events.Publish(ctx, evt); err != nil && !errors.Is(err, context.Canceled) {
		logger.Log.Warn("publish video event", zap.String("video_id", evt.VideoID), zap.Error(err))
	}
}
