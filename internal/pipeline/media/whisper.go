package media

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"video_pipeline_service/internal/pipeline/domain"
)

type whisperOutput struct {
	Transcription []whisperItem `json:"transcription"`
}

type whisperItem struct {
	Timestamps *struct {
		From string `json:"from"`
		To   string `json:"to"`
	} `json:"timestamps"`
	Offsets *struct {
		From *int64 `json:"from"`
		To   *int64 `json:"to"`
	} `json:"offsets"`
	Text string `json:"text"`
}

// ReadWhisperJSON 讀 whisper 的 <outBase>.json
func ReadWhisperJSON(path string) ([]domain.Segment, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	return ParseWhisperJSON(raw)
}

// ParseWhisperJSON offsets (ms) 優先，沒有時才解析 timestamps
// 文字 trim 後為空的 segment 丟棄，結果依 start 排序
func ParseWhisperJSON(raw []byte) ([]domain.Segment, error) {
	var out whisperOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("whisper parse: %w", err)
	}

	segs := make([]domain.Segment, 0, len(out.Transcription))
	for i, item := range out.Transcription {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}

		start, end, err := item.bounds()
		if err != nil {
			return nil, fmt.Errorf("whisper segment %d: %w", i, err)
		}
		if end < start {
			end = start
		}
		segs = append(segs, domain.Segment{Start: start, End: end, Text: text})
	}

	sort.SliceStable(segs, func(i, j int) bool { return segs[i].Start < segs[j].Start })
	return segs, nil
}

func (w whisperItem) bounds() (float64, float64, error) {
	if w.Offsets != nil && w.Offsets.From != nil && w.Offsets.To != nil {
		return float64(*w.Offsets.From) / 1000, float64(*w.Offsets.To) / 1000, nil
	}
	if w.Timestamps == nil {
		return 0, 0, fmt.Errorf("no offsets or timestamps")
	}
	start, err := ParseTimestamp(w.Timestamps.From)
	if err != nil {
		return 0, 0, err
	}
	end, err := ParseTimestamp(w.Timestamps.To)
	if err != nil {
		return 0, 0, err
	}
	return start, end, nil
}

// ParseTimestamp HH:MM:SS,mmm 或 HH:MM:SS.mmm 轉成秒
func ParseTimestamp(ts string) (float64, error) {
	parts := strings.Split(strings.TrimSpace(ts), ":")
	if len(parts) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", ts)
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}

	secPart := strings.Replace(parts[2], ",", ".", 1)
	s, err := strconv.ParseFloat(secPart, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q: %w", ts, err)
	}
	return float64(h*3600+m*60) + s, nil
}
