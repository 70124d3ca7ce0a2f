package domain

import (
	"time"
)

// VideoStatus definition video status
type VideoStatus string

const (
	//VideoUploading raw tracks are being uploaded by the web tier
	VideoUploading VideoStatus = "UPLOADING"
	//VideoProcessing a worker owns the video
	VideoProcessing VideoStatus = "PROCESSING"
	//VideoReady deliverable and thumbnail are available
	VideoReady VideoStatus = "READY"
	//VideoFailed last attempt failed, needs retry
	VideoFailed VideoStatus = "FAILED"
)

// allowedFrom 每個目標狀態允許的來源狀態
var allowedFrom = map[VideoStatus][]VideoStatus{
	VideoProcessing: {VideoUploading, VideoProcessing, VideoFailed},
	VideoReady:      {VideoProcessing},
	VideoFailed:     {VideoProcessing},
}

// AllowedSources 回傳可以轉換到 to 的來源狀態
func AllowedSources(to VideoStatus) []VideoStatus {
	src := allowedFrom[to]
	out := make([]VideoStatus, len(src))
	copy(out, src)
	return out
}

// CanTransition check from -> to is allowed
func CanTransition(from, to VideoStatus) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// RetryEligible 只有 PROCESSING 或 FAILED 可以手動重試
func RetryEligible(s VideoStatus) bool {
	return s == VideoProcessing || s == VideoFailed
}

// Video 定義影片模型
type Video struct {
	ID      string      `gorm:"type:varchar(36);primaryKey" json:"id"`
	OwnerID string      `gorm:"index" json:"owner_id"`
	Title   string      `json:"title"`
	Status  VideoStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// object key，raw tracks 由上傳流程寫入
	ScreenKey *string `json:"screen_key,omitempty"`
	CameraKey *string `json:"camera_key,omitempty"`
	MicKey    *string `json:"mic_key,omitempty"`

	// pipeline 產物
	OutputKey   *string `json:"output_key,omitempty"`
	ThumbKey    *string `json:"thumb_key,omitempty"`
	SubtitleKey *string `json:"subtitle_key,omitempty"`

	Duration        *int      `json:"duration,omitempty"` // 秒，四捨五入
	ViewCount       uint      `json:"view_count"`
	FailureReason   string    `json:"failure_reason,omitempty"`
	StatusChangedAt time.Time `json:"status_changed_at"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	Segments []Segment `gorm:"constraint:OnDelete:CASCADE" json:"segments,omitempty"`
}

// HasCamera camera track uploaded
func (v *Video) HasCamera() bool {
	return v.CameraKey != nil && *v.CameraKey != ""
}

// HasMic mic track uploaded
func (v *Video) HasMic() bool {
	return v.MicKey != nil && *v.MicKey != ""
}

// HasScreen screen track uploaded
func (v *Video) HasScreen() bool {
	return v.ScreenKey != nil && *v.ScreenKey != ""
}

// ArtifactKeys 所有存在的 object key（raw tracks 與產物）
func (v *Video) ArtifactKeys() []string {
	var keys []string
	for _, k := range []*string{v.ScreenKey, v.CameraKey, v.MicKey, v.OutputKey, v.ThumbKey, v.SubtitleKey} {
		if k != nil && *k != "" {
			keys = append(keys, *k)
		}
	}
	return keys
}

// Segment 字幕片段，時間單位為秒
type Segment struct {
	ID      uint    `gorm:"primaryKey" json:"id"`
	VideoID string  `gorm:"type:varchar(36);index;not null" json:"video_id"`
	Start   float64 `gorm:"column:start_sec" json:"start"`
	End     float64 `gorm:"column:end_sec" json:"end"`
	Text    string  `json:"text"`
}

// OutputKey object key layout
func OutputKey(videoID string) string { return "videos/" + videoID + "/output.mp4" }

// ThumbKey thumbnail object key
func ThumbKey(videoID string) string { return "videos/" + videoID + "/thumb.jpg" }

// SubtitleKey webvtt object key
func SubtitleKey(videoID string) string { return "videos/" + videoID + "/subtitles.vtt" }

// StrPtr helper for optional keys
func StrPtr(s string) *string { return &s }

// VideoView 對外回傳，附帶 presigned url
type VideoView struct {
	Video
	OutputURL   string `json:"output_url,omitempty"`
	ThumbURL    string `json:"thumb_url,omitempty"`
	SubtitleURL string `json:"subtitle_url,omitempty"`
}
