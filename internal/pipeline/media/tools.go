package media

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/logger"

	"go.uber.org/zap"
)

// Options binaries and per-tool timeouts
type Options struct {
	FFmpegBin    string
	FFprobeBin   string
	WhisperBin   string
	WhisperModel string
	ModelsDir    string
	Language     string

	ComposeTimeout    time.Duration
	ProbeTimeout      time.Duration
	ThumbnailTimeout  time.Duration
	ExtractTimeout    time.Duration
	TranscribeTimeout time.Duration
}

// Tools ffmpeg / ffprobe / whisper wrapper
type Tools struct {
	opts   Options
	runner CommandRunner
}

// NewTools runner 為 nil 時使用 os/exec
func NewTools(opts Options, runner CommandRunner) *Tools {
	if runner == nil {
		runner = NewExecRunner()
	}
	if opts.FFmpegBin == "" {
		opts.FFmpegBin = "ffmpeg"
	}
	if opts.FFprobeBin == "" {
		opts.FFprobeBin = "ffprobe"
	}
	if opts.Language == "" {
		opts.Language = "auto"
	}
	return &Tools{opts: opts, runner: runner}
}

// Compose 依照 plan 合成 screen / camera / mic
func (t *Tools) Compose(ctx context.Context, plan domain.ComposePlan, in ComposeInputs, outPath string) error {
	args := ComposeArgs(plan, in, outPath)
	logger.Log.Debug("ffmpeg compose", zap.String("plan", string(plan)), zap.Strings("args", args))
	_, err := t.run(ctx, t.opts.ComposeTimeout, t.opts.FFmpegBin, args...)
	return err
}

// Probe ffprobe 檢查輸出
func (t *Tools) Probe(ctx context.Context, path string) (ProbeResult, error) {
	res, err := t.run(ctx, t.opts.ProbeTimeout, t.opts.FFprobeBin, ProbeArgs(path)...)
	if err != nil {
		return ProbeResult{}, err
	}
	return ParseProbe([]byte(res.Stdout))
}

// Thumbnail 取第一秒的畫面
func (t *Tools) Thumbnail(ctx context.Context, inPath, outPath string) error {
	_, err := t.run(ctx, t.opts.ThumbnailTimeout, t.opts.FFmpegBin, ThumbnailArgs(inPath, outPath)...)
	return err
}

// ExtractAudio 16kHz mono PCM wav
func (t *Tools) ExtractAudio(ctx context.Context, inPath, wavPath string) error {
	_, err := t.run(ctx, t.opts.ExtractTimeout, t.opts.FFmpegBin, ExtractAudioArgs(inPath, wavPath)...)
	return err
}

// Transcribe 執行 whisper，輸出 <outBase>.json
func (t *Tools) Transcribe(ctx context.Context, wavPath, outBase string) error {
	_, err := t.run(ctx, t.opts.TranscribeTimeout, t.opts.WhisperBin, WhisperArgs(t.ModelPath(), wavPath, outBase, t.opts.Language)...)
	return err
}

// ModelPath <models>/ggml-<model>.bin
func (t *Tools) ModelPath() string {
	return filepath.Join(t.opts.ModelsDir, fmt.Sprintf("ggml-%s.bin", t.opts.WhisperModel))
}

func (t *Tools) run(ctx context.Context, timeout time.Duration, name string, args ...string) (CommandResult, error) {
	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := t.runner.Run(runCtx, name, args...)
	if err == nil {
		return res, nil
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return res, fmt.Errorf("%s exceeded %s: %w", filepath.Base(name), timeout, domain.ErrToolTimeout)
	}
	return res, fmt.Errorf("%s exit %d: %w: %s", filepath.Base(name), res.ExitCode, err, tail(res.Stderr, 512))
}

// tail stderr 只保留最後 n 個字元
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
