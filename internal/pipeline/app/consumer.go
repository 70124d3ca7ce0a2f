package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/logger"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// ErrDeliveriesClosed delivery channel 在 shutdown 以外的情況關閉（連線或 channel 中斷）
var ErrDeliveriesClosed = errors.New("amqp delivery channel closed")

var (
	// requeueDelay claim 失敗時，等待一段時間再 nack，避免空轉
	requeueDelay = 2 * time.Second
	// leaseRenewInterval 處理中的 job 續約間隔，需小於 queue lease
	leaseRenewInterval = 30 * time.Second
)

// Consumer worker pool，同時最多 concurrency 個 job
type Consumer struct {
	queue       JobQueue
	processor   Processor
	concurrency int
	tag         string
	consuming   atomic.Bool
}

// NewConsumer create consumer
func NewConsumer(queue JobQueue, processor Processor, concurrency int, tag string) *Consumer {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Consumer{queue: queue, processor: processor, concurrency: concurrency, tag: tag}
}

// Run 直到 ctx 結束或 channel 關閉
// 已經開始的 job 會跑完才返回
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.queue.Deliveries(c.concurrency, c.tag)
	if err != nil {
		return err
	}
	logger.Log.Info("consumer started", zap.Int("concurrency", c.concurrency), zap.String("tag", c.tag))
	c.consuming.Store(true)
	defer c.consuming.Store(false)

	var closed atomic.Bool

	var wg sync.WaitGroup
	for i := 0; i < c.concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						closed.Store(true)
						c.consuming.Store(false)
						return
					}
					// job 不因 shutdown 中斷
					c.handle(context.WithoutCancel(ctx), d, slot)
				}
			}
		}(i)
	}
	wg.Wait()

	if closed.Load() && ctx.Err() == nil {
		logger.Log.Error("delivery channel closed, consumer stopped", zap.String("tag", c.tag))
		return ErrDeliveriesClosed
	}
	logger.Log.Info("consumer stopped", zap.String("tag", c.tag))
	return nil
}

// Alive Run 正在接收 delivery 時為 true，heartbeat 以此決定是否續寫
func (c *Consumer) Alive() bool {
	return c.consuming.Load()
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery, slot int) {
	var job domain.ProcessingJob
	if err := json.Unmarshal(d.Body, &job); err != nil || job.VideoID == "" {
		logger.Log.Error("drop malformed job", zap.ByteString("body", d.Body), zap.Error(err))
		_ = d.Reject(false)
		return
	}
	if job.JobID == "" {
		job.JobID = domain.JobID(job.VideoID)
	}
	log := logger.Log.With(zap.String("job_id", job.JobID), zap.Int("slot", slot))

	claim, err := c.queue.Claim(ctx, job)
	if errors.Is(err, ErrJobRecordMissing) {
		log.Warn("job record missing, drop delivery")
		_ = d.Ack(false)
		return
	}
	if errors.Is(err, ErrJobActive) {
		// 重複投遞，原 owner 結束或 lease 過期後才會被接手
		log.Warn("job active under another run, requeue")
		time.Sleep(requeueDelay)
		_ = d.Nack(false, true)
		return
	}
	if err != nil {
		log.Error("claim job", zap.Error(err))
		time.Sleep(requeueDelay)
		_ = d.Nack(false, true)
		return
	}

	jobsInFlight.Inc()
	stopRenew := c.keepLease(ctx, log, claim)
	perr := c.processor.Process(ctx, claim)
	stopRenew()
	jobsInFlight.Dec()

	if perr == nil {
		if err := c.queue.Complete(ctx, claim); err != nil {
			log.Error("complete job", zap.Error(err))
		}
		_ = d.Ack(false)
		return
	}

	retrying, err := c.queue.Fail(ctx, claim, perr)
	if err != nil {
		log.Error("schedule retry", zap.Error(err))
		_ = d.Nack(false, true)
		return
	}
	if retrying {
		log.Info("job scheduled for retry", zap.Int("attempt", claim.Attempt), zap.Error(perr))
	} else {
		log.Error("job exhausted attempts", zap.Int("attempt", claim.Attempt), zap.Error(perr))
	}
	_ = d.Ack(false)
}

// keepLease 處理期間定期續約，回傳的 func 停止續約並等待 goroutine 結束
func (c *Consumer) keepLease(ctx context.Context, log *logger.LogInfo, claim *domain.JobClaim) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(leaseRenewInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.queue.Renew(ctx, claim); err != nil {
					log.Warn("renew job lease", zap.String("run_id", claim.RunID), zap.Error(err))
				}
			}
		}
	}()
	return func() {
		close(done)
		wg.Wait()
	}
}
