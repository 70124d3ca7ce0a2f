package media

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ProbeResult ffprobe -show_streams -show_format 輸出
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

// ProbeStream single stream
type ProbeStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
	Channels  int    `json:"channels"`
}

// ProbeFormat container metadata
type ProbeFormat struct {
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	FormatName string `json:"format_name"`
}

// ProbeArgs ffprobe json output
func ProbeArgs(path string) []string {
	return []string{"-v", "quiet", "-print_format", "json", "-show_streams", "-show_format", path}
}

// ParseProbe decode ffprobe json
func ParseProbe(raw []byte) (ProbeResult, error) {
	var r ProbeResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return ProbeResult{}, fmt.Errorf("ffprobe parse: %w", err)
	}
	return r, nil
}

// VideoStreamCount video streams in the container
func (r ProbeResult) VideoStreamCount() int {
	return r.countType("video")
}

// AudioStreamCount audio streams in the container
func (r ProbeResult) AudioStreamCount() int {
	return r.countType("audio")
}

func (r ProbeResult) countType(codecType string) int {
	n := 0
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, codecType) {
			n++
		}
	}
	return n
}

// DurationSeconds 無法解析時為 0
func (r ProbeResult) DurationSeconds() float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil || math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// RoundedDuration 四捨五入到整秒
func (r ProbeResult) RoundedDuration() int {
	return int(math.Round(r.DurationSeconds()))
}
