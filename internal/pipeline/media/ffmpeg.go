package media

import (
	"video_pipeline_service/internal/pipeline/domain"
)

// OverlayFilter camera 縮到 240px 寬、alpha 0.9，放在右下角 20px
const OverlayFilter = "[1:v]scale=240:-1,format=yuva420p,colorchannelmixer=aa=0.9[cam];" +
	"[0:v][cam]overlay=W-w-20:H-h-20[out]"

// ComposeInputs local paths of the raw tracks
type ComposeInputs struct {
	Screen string
	Camera string
	Mic    string
}

func encodeArgs(outPath string) []string {
	return []string{
		"-c:v", "libx264",
		"-preset", "fast",
		"-crf", "23",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-y", outPath,
	}
}

// ComposeArgs ffmpeg arguments for one plan
func ComposeArgs(plan domain.ComposePlan, in ComposeInputs, outPath string) []string {
	var args []string
	switch plan {
	case domain.PlanOverlayMicAudio:
		args = []string{
			"-i", in.Screen,
			"-i", in.Camera,
			"-i", in.Mic,
			"-filter_complex", OverlayFilter,
			"-map", "[out]",
			"-map", "2:a",
		}
	case domain.PlanOverlayScreenAudio:
		args = []string{
			"-i", in.Screen,
			"-i", in.Camera,
			"-filter_complex", OverlayFilter,
			"-map", "[out]",
			"-map", "0:a?",
		}
	case domain.PlanScreenMicAudio:
		args = []string{
			"-i", in.Screen,
			"-i", in.Mic,
			"-map", "0:v",
			"-map", "1:a",
		}
	default:
		args = []string{"-i", in.Screen}
	}
	return append(args, encodeArgs(outPath)...)
}

// ThumbnailArgs 1 秒處取一張 640x360 內的 jpeg
func ThumbnailArgs(inPath, outPath string) []string {
	return []string{
		"-i", inPath,
		"-ss", "00:00:01",
		"-frames:v", "1",
		"-vf", "scale=640:360:force_original_aspect_ratio=decrease",
		"-q:v", "2",
		"-y", outPath,
	}
}

// ExtractAudioArgs whisper 需要的 wav 格式
func ExtractAudioArgs(inPath, wavPath string) []string {
	return []string{
		"-i", inPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ar", "16000",
		"-ac", "1",
		"-y", wavPath,
	}
}

// WhisperArgs whisper.cpp json output
func WhisperArgs(modelPath, wavPath, outBase, language string) []string {
	return []string{
		"-m", modelPath,
		"-f", wavPath,
		"-oj",
		"-of", outBase,
		"-l", language,
	}
}
