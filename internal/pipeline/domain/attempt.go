package domain

import "time"

// StageTiming 單一 stage 的執行結果
type StageTiming struct {
	Stage      Stage     `bson:"stage" json:"stage"`
	StartedAt  time.Time `bson:"started_at" json:"started_at"`
	DurationMS int64     `bson:"duration_ms" json:"duration_ms"`
	Error      string    `bson:"error,omitempty" json:"error,omitempty"`
}

// AttemptLog 每次 attempt 的診斷紀錄
type AttemptLog struct {
	VideoID    string        `bson:"video_id" json:"video_id"`
	JobID      string        `bson:"job_id" json:"job_id"`
	RunID      string        `bson:"run_id" json:"run_id"`
	Attempt    int           `bson:"attempt" json:"attempt"`
	Plan       ComposePlan   `bson:"plan,omitempty" json:"plan,omitempty"`
	Stages     []StageTiming `bson:"stages" json:"stages"`
	Outcome    string        `bson:"outcome" json:"outcome"` // ready / failed / skipped
	ErrorKind  ErrorKind     `bson:"error_kind,omitempty" json:"error_kind,omitempty"`
	Error      string        `bson:"error,omitempty" json:"error,omitempty"`
	StartedAt  time.Time     `bson:"started_at" json:"started_at"`
	FinishedAt time.Time     `bson:"finished_at" json:"finished_at"`
}

const (
	//OutcomeReady video reached READY
	OutcomeReady = "ready"
	//OutcomeFailed attempt failed
	OutcomeFailed = "failed"
	//OutcomeSkipped video gone or already READY
	OutcomeSkipped = "skipped"
)

// HealthStatus GET /health payload
type HealthStatus struct {
	OK       bool            `json:"ok"`
	Services map[string]bool `json:"services"`
}
