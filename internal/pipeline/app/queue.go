package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/database"
	"video_pipeline_service/pkg/logger"

	"github.com/google/uuid"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var (
	// ErrJobRecordMissing delivery 對應的 redis record 已不存在
	ErrJobRecordMissing = errors.New("job record missing")
	// ErrJobActive 另一個 run 仍持有未過期的 lease
	ErrJobActive = errors.New("job active under another run")
	// ErrJobNotOwned claim 的 run id 已不是目前的 owner
	ErrJobNotOwned = errors.New("job owned by another run")
)

// DefaultJobLease active job 未續約時的過期時間
const DefaultJobLease = 2 * time.Minute

// JobQueue 這裡封裝了 job 的投遞、重試與歷史紀錄
type JobQueue interface {
	DeclareTopology() error
	Enqueue(ctx context.Context, videoID string) (domain.JobRecord, bool, error)
	Claim(ctx context.Context, job domain.ProcessingJob) (*domain.JobClaim, error)
	Renew(ctx context.Context, claim *domain.JobClaim) error
	Complete(ctx context.Context, claim *domain.JobClaim) error
	Fail(ctx context.Context, claim *domain.JobClaim, cause error) (bool, error)
	History(ctx context.Context, kind domain.HistoryKind) ([]domain.JobRecord, error)
	Deliveries(prefetch int, consumerTag string) (<-chan amqp.Delivery, error)
}

// QueueOptions queue policy 與保留數量
type QueueOptions struct {
	Name          string
	Policy        domain.QueuePolicy
	KeepCompleted int
	KeepFailed    int
	JobTTL        time.Duration
	Lease         time.Duration
}

type jobQueue struct {
	rabbit  database.RabbitRepo
	records database.RedisRepository[domain.JobRecord]
	opts    QueueOptions
}

// 測試時替換
var (
	newRunID = func() string { return uuid.NewString() }
	nowFunc  = time.Now
)

// NewJobQueue rabbitmq 負責投遞，redis 負責 identity 與歷史
func NewJobQueue(rabbit database.RabbitRepo, records database.RedisRepository[domain.JobRecord], opts QueueOptions) JobQueue {
	if opts.Name == "" {
		opts.Name = domain.DefaultQueueName
	}
	if opts.Policy.Attempts < 1 {
		opts.Policy.Attempts = 1
	}
	if opts.Lease <= 0 {
		opts.Lease = DefaultJobLease
	}
	return &jobQueue{rabbit: rabbit, records: records, opts: opts}
}

// DeclareTopology main queue 加上每個 attempt 層級的 retry queue
// retry queue 以 x-message-ttl 延遲，過期後 dead-letter 回 main queue
func (q *jobQueue) DeclareTopology() error {
	if err := q.rabbit.DeclareQueue(q.opts.Name, nil); err != nil {
		return err
	}
	for n := 1; n < q.opts.Policy.Attempts; n++ {
		args := amqp.Table{
			"x-message-ttl":             q.opts.Policy.Delay(n).Milliseconds(),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": q.opts.Name,
		}
		if err := q.rabbit.DeclareQueue(domain.RetryQueueName(q.opts.Name, n), args); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue 同一支影片只會有一個 waiting / active / delayed 的 job
func (q *jobQueue) Enqueue(ctx context.Context, videoID string) (domain.JobRecord, bool, error) {
	job := domain.NewProcessingJob(videoID)
	key := domain.JobKey(job.JobID)
	now := nowFunc()

	rec := domain.JobRecord{
		JobID:       job.JobID,
		VideoID:     videoID,
		State:       domain.JobWaiting,
		MaxAttempts: q.opts.Policy.Attempts,
		EnqueuedAt:  now,
		UpdatedAt:   now,
	}

	ok, err := q.records.SetNX(ctx, key, rec, q.opts.JobTTL)
	if err != nil {
		return domain.JobRecord{}, false, err
	}
	if !ok {
		existing, err := q.records.Get(ctx, key)
		if err != nil {
			return domain.JobRecord{}, false, fmt.Errorf("load existing job %s: %w", job.JobID, err)
		}
		return existing, false, nil
	}

	if err := q.publish(q.opts.Name, job); err != nil {
		if delErr := q.records.Del(ctx, key); delErr != nil {
			logger.Log.Error("release job identity", zap.String("job_id", job.JobID), zap.Error(delErr))
		}
		return domain.JobRecord{}, false, err
	}
	return rec, true, nil
}

// Claim attempt +1，換上新的 run id
// record 為 active 且 lease 未過期時回傳 ErrJobActive，讀取與寫回在同一個 WATCH transaction 內
func (q *jobQueue) Claim(ctx context.Context, job domain.ProcessingJob) (*domain.JobClaim, error) {
	runID := newRunID()
	rec, err := q.records.Update(ctx, domain.JobKey(job.JobID), q.opts.JobTTL, func(rec domain.JobRecord) (domain.JobRecord, error) {
		now := nowFunc()
		if rec.State == domain.JobActive && now.Sub(rec.UpdatedAt) < q.opts.Lease {
			return rec, ErrJobActive
		}
		rec.AttemptsMade++
		rec.State = domain.JobActive
		rec.RunID = runID
		rec.UpdatedAt = now
		if rec.MaxAttempts < 1 {
			rec.MaxAttempts = q.opts.Policy.Attempts
		}
		return rec, nil
	})
	if errors.Is(err, database.ErrRedisNil) {
		return nil, ErrJobRecordMissing
	}
	if err != nil {
		return nil, err
	}

	return &domain.JobClaim{
		Job:         job,
		RunID:       rec.RunID,
		Attempt:     rec.AttemptsMade,
		MaxAttempts: rec.MaxAttempts,
		Record:      rec,
	}, nil
}

// Renew 延長 lease，只有目前的 owner 可以續約
func (q *jobQueue) Renew(ctx context.Context, claim *domain.JobClaim) error {
	_, err := q.records.Update(ctx, domain.JobKey(claim.Job.JobID), q.opts.JobTTL, func(rec domain.JobRecord) (domain.JobRecord, error) {
		if rec.RunID != claim.RunID || rec.State != domain.JobActive {
			return rec, ErrJobNotOwned
		}
		rec.UpdatedAt = nowFunc()
		return rec, nil
	})
	if errors.Is(err, database.ErrRedisNil) {
		return ErrJobRecordMissing
	}
	return err
}

// Complete 釋放 identity，紀錄推進 completed list
func (q *jobQueue) Complete(ctx context.Context, claim *domain.JobClaim) error {
	now := nowFunc()
	rec := claim.Record
	rec.State = domain.JobCompleted
	rec.UpdatedAt = now
	rec.FinishedAt = &now

	if err := q.release(ctx, claim); err != nil {
		return err
	}
	return q.records.PushCapped(ctx, domain.CompletedJobsKey, rec, q.opts.KeepCompleted)
}

// Fail 還有 attempt 時送進 retry queue 並回傳 true，否則推進 failed list
func (q *jobQueue) Fail(ctx context.Context, claim *domain.JobClaim, cause error) (bool, error) {
	now := nowFunc()
	rec := claim.Record
	rec.UpdatedAt = now
	if cause != nil {
		rec.LastError = cause.Error()
		rec.ErrorKind = domain.KindOf(cause)
	}

	if !claim.FinalAttempt() {
		rec.State = domain.JobDelayed
		_, err := q.records.Update(ctx, domain.JobKey(rec.JobID), q.opts.JobTTL, func(current domain.JobRecord) (domain.JobRecord, error) {
			if current.RunID != claim.RunID {
				return current, ErrJobNotOwned
			}
			return rec, nil
		})
		if errors.Is(err, ErrJobNotOwned) || errors.Is(err, database.ErrRedisNil) {
			logger.Log.Warn("job owned by another run, skip retry",
				zap.String("job_id", claim.Job.JobID),
				zap.String("run_id", claim.RunID),
			)
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if err := q.publish(domain.RetryQueueName(q.opts.Name, claim.Attempt), claim.Job); err != nil {
			return false, err
		}
		return true, nil
	}

	rec.State = domain.JobFailed
	rec.FinishedAt = &now
	if err := q.release(ctx, claim); err != nil {
		return false, err
	}
	return false, q.records.PushCapped(ctx, domain.FailedJobsKey, rec, q.opts.KeepFailed)
}

// History 保留中的 completed / failed 紀錄，最新的在前
func (q *jobQueue) History(ctx context.Context, kind domain.HistoryKind) ([]domain.JobRecord, error) {
	switch kind {
	case domain.HistoryCompleted:
		return q.records.Range(ctx, domain.CompletedJobsKey, 0, -1)
	case domain.HistoryFailed:
		return q.records.Range(ctx, domain.FailedJobsKey, 0, -1)
	default:
		return nil, fmt.Errorf("unknown history kind %q", kind)
	}
}

// Deliveries prefetch 等於 worker 數量
func (q *jobQueue) Deliveries(prefetch int, consumerTag string) (<-chan amqp.Delivery, error) {
	if err := q.rabbit.Qos(prefetch); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return q.rabbit.Consume(q.opts.Name, consumerTag)
}

// release 只有目前的 owner 才能刪除 identity key
func (q *jobQueue) release(ctx context.Context, claim *domain.JobClaim) error {
	key := domain.JobKey(claim.Job.JobID)
	current, err := q.records.Get(ctx, key)
	if errors.Is(err, database.ErrRedisNil) {
		return nil
	}
	if err != nil {
		return err
	}
	if current.RunID != claim.RunID {
		logger.Log.Warn("job owned by another run, keep identity",
			zap.String("job_id", claim.Job.JobID),
			zap.String("run_id", claim.RunID),
			zap.String("owner_run_id", current.RunID),
		)
		return nil
	}
	return q.records.Del(ctx, key)
}

func (q *jobQueue) publish(queue string, job domain.ProcessingJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("job[%s] 序列化失敗: %w", job.JobID, err)
	}
	err = q.rabbit.Publish(
		"",    // 預設 exchange
		queue, // queue 名稱
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    job.JobID,
			Timestamp:    nowFunc(),
			Body:         data,
		},
	)
	if err != nil {
		return fmt.Errorf("job[%s] 發送 RabbitMQ 訊息失敗: %w", job.JobID, err)
	}
	return nil
}
