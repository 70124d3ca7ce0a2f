package domain

import "time"

// EventType video lifecycle event type
type EventType string

const (
	//EventStatusChanged status moved along the state machine
	EventStatusChanged EventType = "video.status_changed"
	//EventTranscribed subtitles persisted
	EventTranscribed EventType = "video.transcribed"
	//EventDeleted video and artifacts removed
	EventDeleted EventType = "video.deleted"
)

// VideoEvent kafka message, key is the video id
type VideoEvent struct {
	Type       EventType   `json:"type"`
	VideoID    string      `json:"video_id"`
	Status     VideoStatus `json:"status,omitempty"`
	JobID      string      `json:"job_id,omitempty"`
	Attempt    int         `json:"attempt,omitempty"`
	Reason     string      `json:"reason,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}
