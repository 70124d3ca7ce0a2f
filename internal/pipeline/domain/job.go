package domain

import (
	"fmt"
	"time"
)

const (
	//DefaultQueueName definition queue name
	DefaultQueueName = "video-processing"

	// redis keys
	jobKeyPrefix = "pipeline:job:"
	//CompletedJobsKey bounded list of finished jobs
	CompletedJobsKey = "pipeline:jobs:completed"
	//FailedJobsKey bounded list of jobs that used every attempt
	FailedJobsKey = "pipeline:jobs:failed"
	//HeartbeatKey worker liveness, value is unix millis
	HeartbeatKey = "pipeline:worker:heartbeat"
)

// JobState definition job state
type JobState string

const (
	//JobWaiting published, not yet picked up
	JobWaiting JobState = "waiting"
	//JobActive a worker slot owns the job
	JobActive JobState = "active"
	//JobDelayed waiting in a retry queue
	JobDelayed JobState = "delayed"
	//JobCompleted finished, removed from the identity key
	JobCompleted JobState = "completed"
	//JobFailed used every attempt
	JobFailed JobState = "failed"
)

// HistoryKind which retained list to read
type HistoryKind string

const (
	//HistoryCompleted completed list
	HistoryCompleted HistoryKind = "completed"
	//HistoryFailed failed list
	HistoryFailed HistoryKind = "failed"
)

// ProcessingJob 定義處理工作訊息
type ProcessingJob struct {
	VideoID string `json:"video_id"`
	JobID   string `json:"job_id"`
}

// NewProcessingJob job id 由 video id 決定
func NewProcessingJob(videoID string) ProcessingJob {
	return ProcessingJob{VideoID: videoID, JobID: JobID(videoID)}
}

// JobID deterministic identity, one in-flight job per video
func JobID(videoID string) string {
	return "video-" + videoID
}

// JobKey redis idempotency key
func JobKey(jobID string) string {
	return jobKeyPrefix + jobID
}

// JobRecord 存在 redis 的工作狀態
type JobRecord struct {
	JobID        string     `json:"job_id"`
	VideoID      string     `json:"video_id"`
	State        JobState   `json:"state"`
	AttemptsMade int        `json:"attempts_made"`
	MaxAttempts  int        `json:"max_attempts"`
	RunID        string     `json:"run_id,omitempty"`
	LastError    string     `json:"last_error,omitempty"`
	ErrorKind    ErrorKind  `json:"error_kind,omitempty"`
	EnqueuedAt   time.Time  `json:"enqueued_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// JobClaim 一次 attempt 的所有權
type JobClaim struct {
	Job         ProcessingJob
	RunID       string
	Attempt     int // 從 1 開始
	MaxAttempts int
	Record      JobRecord
}

// FinalAttempt 失敗後不會再重試
func (c JobClaim) FinalAttempt() bool {
	return c.Attempt >= c.MaxAttempts
}

// QueuePolicy attempts and exponential backoff
type QueuePolicy struct {
	Attempts    int
	BackoffBase time.Duration
}

// Delay attempt n 失敗後，下一次 attempt 前的等待時間 base*2^(n-1)
func (p QueuePolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.BackoffBase * time.Duration(1<<uint(attempt-1))
}

// RetryQueueName 每個 attempt 層級一個 retry queue
func RetryQueueName(queue string, attempt int) string {
	return fmt.Sprintf("%s.retry.%d", queue, attempt)
}
