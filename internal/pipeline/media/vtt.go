package media

import (
	"fmt"
	"math"
	"strings"

	"video_pipeline_service/internal/pipeline/domain"
)

// FormatVTTTime 秒數轉 HH:MM:SS.mmm，四捨五入到毫秒
func FormatVTTTime(seconds float64) string {
	if seconds < 0 || math.IsNaN(seconds) {
		seconds = 0
	}
	total := int64(math.Round(seconds * 1000))
	ms := total % 1000
	s := (total / 1000) % 60
	m := (total / 60000) % 60
	h := total / 3600000
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

// BuildVTT WebVTT document, one cue per segment
func BuildVTT(segs []domain.Segment) string {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, seg := range segs {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n", FormatVTTTime(seg.Start), FormatVTTTime(seg.End), seg.Text)
	}
	return b.String()
}
