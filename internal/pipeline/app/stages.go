package app

import (
	"context"
	"os"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/media"
)

// Composer compose stage
type Composer interface {
	Compose(ctx context.Context, video *domain.Video, workDir string) (domain.ComposeResult, error)
}

// Thumbnailer thumbnail stage，回傳 thumb key
type Thumbnailer interface {
	Thumbnail(ctx context.Context, videoID, outputKey, workDir string) (string, error)
}

// Transcriber transcription stage
type Transcriber interface {
	Transcribe(ctx context.Context, videoID, outputKey, workDir string) (*domain.TranscriptResult, error)
}

// MediaToolkit 外部工具，*media.Tools 實作
type MediaToolkit interface {
	Compose(ctx context.Context, plan domain.ComposePlan, in media.ComposeInputs, outPath string) error
	Probe(ctx context.Context, path string) (media.ProbeResult, error)
	Thumbnail(ctx context.Context, inPath, outPath string) error
	ExtractAudio(ctx context.Context, inPath, wavPath string) error
	Transcribe(ctx context.Context, wavPath, outBase string) error
}

// 讓測試可以替換檔案系統操作
var (
	mkdirTemp = os.MkdirTemp
	mkdirAll  = os.MkdirAll
	removeAll = os.RemoveAll
	statFile  = os.Stat
)
