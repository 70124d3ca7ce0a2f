package domain

// ComposePlan 合成方式，由 camera / mic 是否存在決定
type ComposePlan string

const (
	//PlanOverlayMicAudio screen + camera overlay, mic audio only
	PlanOverlayMicAudio ComposePlan = "overlay_mic_audio"
	//PlanOverlayScreenAudio screen + camera overlay, screen audio if any
	PlanOverlayScreenAudio ComposePlan = "overlay_screen_audio"
	//PlanScreenMicAudio screen video, mic audio
	PlanScreenMicAudio ComposePlan = "screen_mic_audio"
	//PlanScreenOnly screen video, screen audio if any
	PlanScreenOnly ComposePlan = "screen_only"
)

// SelectPlan decision table
func SelectPlan(hasCamera, hasMic bool) ComposePlan {
	switch {
	case hasCamera && hasMic:
		return PlanOverlayMicAudio
	case hasCamera:
		return PlanOverlayScreenAudio
	case hasMic:
		return PlanScreenMicAudio
	default:
		return PlanScreenOnly
	}
}

// ExpectsMicAudio 輸出必須帶 mic 音軌
func (p ComposePlan) ExpectsMicAudio() bool {
	return p == PlanOverlayMicAudio || p == PlanScreenMicAudio
}

// UsesCamera camera 是輸入之一
func (p ComposePlan) UsesCamera() bool {
	return p == PlanOverlayMicAudio || p == PlanOverlayScreenAudio
}

// ComposeResult compose stage 輸出
type ComposeResult struct {
	OutputKey    string      `json:"output_key"`
	Duration     int         `json:"duration"`
	Plan         ComposePlan `json:"plan"`
	VideoStreams int         `json:"video_streams"`
	AudioStreams int         `json:"audio_streams"`
}

// TranscriptResult transcription stage 輸出
type TranscriptResult struct {
	SubtitleKey string
	Segments    []Segment
}
