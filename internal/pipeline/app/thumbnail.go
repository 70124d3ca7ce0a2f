package app

import (
	"context"
	"path/filepath"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/repository"
	"video_pipeline_service/pkg/database"
)

type thumbnailStage struct {
	store  database.MinIOClientRepo
	tools  MediaToolkit
	videos repository.VideoRepo
}

// NewThumbnailStage create thumbnail stage
func NewThumbnailStage(store database.MinIOClientRepo, tools MediaToolkit, videos repository.VideoRepo) Thumbnailer {
	return &thumbnailStage{store: store, tools: tools, videos: videos}
}

func (s *thumbnailStage) Thumbnail(ctx context.Context, videoID, outputKey, workDir string) (string, error) {
	dir := filepath.Join(workDir, "thumbnail")
	if err := mkdirAll(dir, 0755); err != nil {
		return "", domain.NewStageError(domain.StageThumbnail, domain.KindTransient, "create work dir", err)
	}
	defer removeAll(dir)

	inPath := filepath.Join(dir, "input.mp4")
	if _, err := download(ctx, s.store, domain.StageThumbnail, outputKey, inPath); err != nil {
		return "", err
	}

	thumbPath := filepath.Join(dir, "thumb.jpg")
	if err := s.tools.Thumbnail(ctx, inPath, thumbPath); err != nil {
		return "", domain.NewStageError(domain.StageThumbnail, domain.KindFatal, "ffmpeg thumbnail", err)
	}
	info, err := statFile(thumbPath)
	if err != nil || info.Size() == 0 {
		return "", domain.NewStageError(domain.StageThumbnail, domain.KindFatal, "thumbnail output", domain.ErrEmptyInput)
	}

	key := domain.ThumbKey(videoID)
	if err := s.store.UploadFile(ctx, key, thumbPath, "image/jpeg"); err != nil {
		return "", domain.NewStageError(domain.StageThumbnail, domain.KindTransient, "upload thumbnail", err)
	}
	if err := s.videos.SetThumbKey(ctx, videoID, key); err != nil {
		return "", domain.NewStageError(domain.StageThumbnail, domain.KindTransient, "record thumb key", err)
	}
	return key, nil
}
