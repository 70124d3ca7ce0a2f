package app

import (
	"context"
	"errors"
	"path/filepath"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/media"
	"video_pipeline_service/pkg/database"
	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
)

type composeStage struct {
	store database.MinIOClientRepo
	tools MediaToolkit
}

// NewComposeStage create compose stage
func NewComposeStage(store database.MinIOClientRepo, tools MediaToolkit) Composer {
	return &composeStage{store: store, tools: tools}
}

// Compose 下載 raw tracks，依 camera / mic 選擇 plan 合成，probe 檢查後上傳 output.mp4
func (s *composeStage) Compose(ctx context.Context, video *domain.Video, workDir string) (domain.ComposeResult, error) {
	if !video.HasScreen() {
		return domain.ComposeResult{}, domain.NewStageError(domain.StageCompose, domain.KindFatal, "screen key missing", domain.ErrMissingScreen)
	}

	dir := filepath.Join(workDir, "compose")
	if err := mkdirAll(dir, 0755); err != nil {
		return domain.ComposeResult{}, domain.NewStageError(domain.StageCompose, domain.KindTransient, "create work dir", err)
	}
	defer removeAll(dir)

	plan := domain.SelectPlan(video.HasCamera(), video.HasMic())
	in := media.ComposeInputs{Screen: filepath.Join(dir, "screen.webm")}

	sizes := map[string]int64{}
	n, err := download(ctx, s.store, domain.StageCompose, *video.ScreenKey, in.Screen)
	if err != nil {
		return domain.ComposeResult{}, err
	}
	sizes["screen"] = n

	if plan.UsesCamera() {
		in.Camera = filepath.Join(dir, "camera.webm")
		if sizes["camera"], err = download(ctx, s.store, domain.StageCompose, *video.CameraKey, in.Camera); err != nil {
			return domain.ComposeResult{}, err
		}
	}
	if plan.ExpectsMicAudio() {
		in.Mic = filepath.Join(dir, "mic.webm")
		if sizes["mic"], err = download(ctx, s.store, domain.StageCompose, *video.MicKey, in.Mic); err != nil {
			return domain.ComposeResult{}, err
		}
	}

	log := logger.Log.With(zap.String("video_id", video.ID), zap.String("stage", string(domain.StageCompose)))
	log.Info("compose inputs",
		zap.String("plan", string(plan)),
		zap.Int64("screen_bytes", sizes["screen"]),
		zap.Int64("camera_bytes", sizes["camera"]),
		zap.Int64("mic_bytes", sizes["mic"]),
	)

	outPath := filepath.Join(dir, "output.mp4")
	if err := s.tools.Compose(ctx, plan, in, outPath); err != nil {
		return domain.ComposeResult{}, domain.NewStageError(domain.StageCompose, domain.KindFatal, "ffmpeg compose", err)
	}

	probe, err := s.tools.Probe(ctx, outPath)
	if err != nil {
		return domain.ComposeResult{}, domain.NewStageError(domain.StageCompose, domain.KindFatal, "ffprobe output", err)
	}

	res := domain.ComposeResult{
		OutputKey:    domain.OutputKey(video.ID),
		Duration:     probe.RoundedDuration(),
		Plan:         plan,
		VideoStreams: probe.VideoStreamCount(),
		AudioStreams: probe.AudioStreamCount(),
	}
	log.Info("compose output",
		zap.Int("video_streams", res.VideoStreams),
		zap.Int("audio_streams", res.AudioStreams),
		zap.Int("duration", res.Duration),
	)

	if res.VideoStreams == 0 {
		return domain.ComposeResult{}, domain.NewStageError(domain.StageCompose, domain.KindFatal, "probe output", domain.ErrNoVideoStream)
	}
	// mic 有上傳但輸出沒有音軌，不能當成功
	if plan.ExpectsMicAudio() && res.AudioStreams == 0 {
		return domain.ComposeResult{}, domain.NewStageError(domain.StageCompose, domain.KindFatal, "probe output", domain.ErrMissingAudio)
	}

	if err := s.store.UploadFile(ctx, res.OutputKey, outPath, "video/mp4"); err != nil {
		return domain.ComposeResult{}, domain.NewStageError(domain.StageCompose, domain.KindTransient, "upload output", err)
	}
	return res, nil
}

// download 取回物件，0 byte 或物件不存在視為 fatal
func download(ctx context.Context, store database.MinIOClientRepo, stage domain.Stage, key, dest string) (int64, error) {
	n, err := store.DownloadFile(ctx, key, dest)
	if err != nil {
		if errors.Is(err, database.ErrObjectNotFound) {
			return 0, domain.NewStageError(stage, domain.KindFatal, "download "+key, err)
		}
		return 0, domain.NewStageError(stage, domain.KindTransient, "download "+key, err)
	}
	if n == 0 {
		return 0, domain.NewStageError(stage, domain.KindFatal, "download "+key, domain.ErrEmptyInput)
	}
	return n, nil
}
