package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/repository"
	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
)

// Processor 處理一個 claimed job
type Processor interface {
	Process(ctx context.Context, claim *domain.JobClaim) error
}

// ProcessorDeps 所有依賴由 main 注入
type ProcessorDeps struct {
	Videos      repository.VideoRepo
	Composer    Composer
	Thumbnailer Thumbnailer
	Transcriber Transcriber
	Events      repository.EventPublisher
	Attempts    repository.AttemptRepo

	ScratchDir           string
	TranscriptionEnabled bool
}

// VideoProcessor compose -> thumbnail -> READY -> transcription
type VideoProcessor struct {
	deps ProcessorDeps
}

// NewVideoProcessor create video processor
func NewVideoProcessor(deps ProcessorDeps) *VideoProcessor {
	if deps.Events == nil {
		deps.Events = repository.NewNoopEventPublisher()
	}
	if deps.Attempts == nil {
		deps.Attempts = repository.NewNoopAttemptRepo()
	}
	return &VideoProcessor{deps: deps}
}

// Process 1. 轉成 PROCESSING，影片不存在或已 READY 時直接略過
// 2. compose 3. thumbnail，失敗時 FAILED 並把錯誤交回 queue 重試
// 4. MarkReady 5. transcription 失敗只記錄
func (p *VideoProcessor) Process(ctx context.Context, claim *domain.JobClaim) error {
	videoID := claim.Job.VideoID
	log := logger.Log.With(
		zap.String("video_id", videoID),
		zap.String("job_id", claim.Job.JobID),
		zap.Int("attempt", claim.Attempt),
	)

	attempt := &domain.AttemptLog{
		VideoID:   videoID,
		JobID:     claim.Job.JobID,
		RunID:     claim.RunID,
		Attempt:   claim.Attempt,
		StartedAt: nowFunc(),
	}
	defer p.recordAttempt(ctx, log, attempt)

	err := p.deps.Videos.TransitionStatus(ctx, videoID, domain.VideoProcessing, "")
	if errors.Is(err, domain.ErrVideoNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
		log.Warn("skip job", zap.Error(err))
		attempt.Outcome = domain.OutcomeSkipped
		jobsProcessed.WithLabelValues(domain.OutcomeSkipped).Inc()
		return nil
	}
	if err != nil {
		attempt.Outcome = domain.OutcomeFailed
		attempt.ErrorKind = domain.KindTransient
		attempt.Error = err.Error()
		jobsProcessed.WithLabelValues(domain.OutcomeFailed).Inc()
		return fmt.Errorf("videoID[%s] 更新狀態為 PROCESSING 失敗: %w", videoID, err)
	}
	p.emit(ctx, log, domain.VideoEvent{Type: domain.EventStatusChanged, VideoID: videoID, Status: domain.VideoProcessing, JobID: claim.Job.JobID, Attempt: claim.Attempt})
	log.Info("processing started")

	video, err := p.deps.Videos.GetByID(ctx, videoID)
	if err != nil {
		return p.fail(ctx, log, claim, attempt, domain.NewStageError(domain.StageCompose, domain.KindTransient, "load video", err))
	}

	workDir, err := mkdirTemp(p.deps.ScratchDir, fmt.Sprintf("job-%s-", videoID))
	if err != nil {
		return p.fail(ctx, log, claim, attempt, domain.NewStageError(domain.StageCompose, domain.KindTransient, "create scratch dir", err))
	}
	defer func() {
		if err := removeAll(workDir); err != nil {
			log.Warn("remove scratch dir", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	var composed domain.ComposeResult
	err = p.timed(attempt, domain.StageCompose, func() error {
		var cerr error
		composed, cerr = p.deps.Composer.Compose(ctx, video, workDir)
		return cerr
	})
	if err != nil {
		return p.fail(ctx, log, claim, attempt, err)
	}
	attempt.Plan = composed.Plan

	err = p.timed(attempt, domain.StageThumbnail, func() error {
		_, terr := p.deps.Thumbnailer.Thumbnail(ctx, videoID, composed.OutputKey, workDir)
		return terr
	})
	if err != nil {
		return p.fail(ctx, log, claim, attempt, err)
	}

	err = p.timed(attempt, domain.StageFinalize, func() error {
		return p.deps.Videos.MarkReady(ctx, videoID, composed.OutputKey, composed.Duration)
	})
	if errors.Is(err, domain.ErrVideoNotFound) {
		log.Warn("video deleted while processing")
		attempt.Outcome = domain.OutcomeSkipped
		jobsProcessed.WithLabelValues(domain.OutcomeSkipped).Inc()
		return nil
	}
	if err != nil {
		return p.fail(ctx, log, claim, attempt, domain.NewStageError(domain.StageFinalize, domain.KindTransient, "mark ready", err))
	}
	attempt.Outcome = domain.OutcomeReady
	jobsProcessed.WithLabelValues(domain.OutcomeReady).Inc()
	p.emit(ctx, log, domain.VideoEvent{Type: domain.EventStatusChanged, VideoID: videoID, Status: domain.VideoReady, JobID: claim.Job.JobID, Attempt: claim.Attempt})
	log.Info("video ready", zap.String("plan", string(composed.Plan)), zap.Int("duration", composed.Duration))

	if p.deps.TranscriptionEnabled {
		p.transcribe(ctx, log, attempt, videoID, composed.OutputKey, workDir)
	}
	return nil
}

// transcribe 影片已經 READY，錯誤不影響 job 結果
func (p *VideoProcessor) transcribe(ctx context.Context, log *logger.LogInfo, attempt *domain.AttemptLog, videoID, outputKey, workDir string) {
	var res *domain.TranscriptResult
	err := p.timed(attempt, domain.StageTranscribe, func() error {
		var terr error
		res, terr = p.deps.Transcriber.Transcribe(ctx, videoID, outputKey, workDir)
		return terr
	})
	switch {
	case err != nil:
		transcriptions.WithLabelValues("error").Inc()
		log.Warn("transcription failed", zap.Error(err))
	case res == nil || len(res.Segments) == 0:
		transcriptions.WithLabelValues("empty").Inc()
	default:
		transcriptions.WithLabelValues("saved").Inc()
		p.emit(ctx, log, domain.VideoEvent{Type: domain.EventTranscribed, VideoID: videoID, Status: domain.VideoReady})
		log.Info("transcription saved", zap.Int("segments", len(res.Segments)))
	}
}

// fail 寫入 FAILED 與原因，原始錯誤交回 queue
func (p *VideoProcessor) fail(ctx context.Context, log *logger.LogInfo, claim *domain.JobClaim, attempt *domain.AttemptLog, cause error) error {
	videoID := claim.Job.VideoID
	kind := domain.KindOf(cause)
	reason := fmt.Sprintf("[%s] %s", kind, cause.Error())

	if err := p.deps.Videos.TransitionStatus(ctx, videoID, domain.VideoFailed, reason); err != nil {
		log.Error("mark video failed", zap.Error(err))
	}
	p.emit(ctx, log, domain.VideoEvent{Type: domain.EventStatusChanged, VideoID: videoID, Status: domain.VideoFailed, JobID: claim.Job.JobID, Attempt: claim.Attempt, Reason: reason})

	attempt.Outcome = domain.OutcomeFailed
	attempt.ErrorKind = kind
	attempt.Error = cause.Error()
	jobsProcessed.WithLabelValues(domain.OutcomeFailed).Inc()

	log.Error("processing failed", zap.String("kind", string(kind)), zap.Bool("final_attempt", claim.FinalAttempt()), zap.Error(cause))
	return cause
}

func (p *VideoProcessor) timed(attempt *domain.AttemptLog, stage domain.Stage, fn func() error) error {
	start := nowFunc()
	err := fn()
	elapsed := nowFunc().Sub(start)

	timing := domain.StageTiming{Stage: stage, StartedAt: start, DurationMS: elapsed.Milliseconds()}
	result := "ok"
	if err != nil {
		timing.Error = err.Error()
		result = "error"
	}
	attempt.Stages = append(attempt.Stages, timing)
	stageDuration.WithLabelValues(string(stage), result).Observe(elapsed.Seconds())
	return err
}

func (p *VideoProcessor) emit(ctx context.Context, log *logger.LogInfo, evt domain.VideoEvent) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = nowFunc()
	}
	if err := p.deps.Events.Publish(ctx, evt); err != nil {
		log.Warn("publish video event", zap.String("type", string(evt.Type)), zap.Error(err))
	}
}

func (p *VideoProcessor) recordAttempt(ctx context.Context, log *logger.LogInfo, attempt *domain.AttemptLog) {
	attempt.FinishedAt = nowFunc()
	insertCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := p.deps.Attempts.Insert(insertCtx, attempt); err != nil {
		log.Warn("record attempt", zap.Error(err))
	}
}
