package app

import (
	"context"
	"path/filepath"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/media"
	"video_pipeline_service/internal/pipeline/repository"
	"video_pipeline_service/pkg/database"
	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
)

type transcribeStage struct {
	store  database.MinIOClientRepo
	tools  MediaToolkit
	videos repository.VideoRepo
}

// NewTranscribeStage create transcription stage
func NewTranscribeStage(store database.MinIOClientRepo, tools MediaToolkit, videos repository.VideoRepo) Transcriber {
	return &transcribeStage{store: store, tools: tools, videos: videos}
}

// Transcribe 所有錯誤都是 best_effort，由 processor 記錄後吞掉
// 沒有 segment 時不寫任何東西，subtitle key 與 segments 同時存在或同時不存在
func (s *transcribeStage) Transcribe(ctx context.Context, videoID, outputKey, workDir string) (*domain.TranscriptResult, error) {
	dir := filepath.Join(workDir, "transcribe")
	if err := mkdirAll(dir, 0755); err != nil {
		return nil, bestEffort("create work dir", err)
	}
	defer removeAll(dir)

	inPath := filepath.Join(dir, "input.mp4")
	if _, err := download(ctx, s.store, domain.StageTranscribe, outputKey, inPath); err != nil {
		return nil, bestEffort("download deliverable", err)
	}

	wavPath := filepath.Join(dir, "audio.wav")
	if err := s.tools.ExtractAudio(ctx, inPath, wavPath); err != nil {
		return nil, bestEffort("extract audio", err)
	}

	outBase := filepath.Join(dir, "output")
	if err := s.tools.Transcribe(ctx, wavPath, outBase); err != nil {
		return nil, bestEffort("whisper", err)
	}

	segs, err := media.ReadWhisperJSON(outBase + ".json")
	if err != nil {
		return nil, bestEffort("parse whisper output", err)
	}
	if len(segs) == 0 {
		logger.Log.Info("transcription produced no segments", zap.String("video_id", videoID))
		return &domain.TranscriptResult{}, nil
	}

	key := domain.SubtitleKey(videoID)
	if err := s.store.PutObject(ctx, key, []byte(media.BuildVTT(segs)), "text/vtt"); err != nil {
		return nil, bestEffort("upload subtitles", err)
	}

	if err := s.videos.SaveTranscript(ctx, videoID, key, segs); err != nil {
		// transaction 失敗時移除已上傳的 vtt
		if rmErr := s.store.RemoveObject(ctx, key); rmErr != nil {
			logger.Log.Warn("remove orphan subtitles", zap.String("video_id", videoID), zap.Error(rmErr))
		}
		return nil, bestEffort("save transcript", err)
	}

	return &domain.TranscriptResult{SubtitleKey: key, Segments: segs}, nil
}

func bestEffort(message string, err error) error {
	return domain.NewStageError(domain.StageTranscribe, domain.KindBestEffort, message, err)
}
