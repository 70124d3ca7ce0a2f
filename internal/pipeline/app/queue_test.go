package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/pkg/logger"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(attempts int) (*jobQueue, *memRabbit, *memRedis[domain.JobRecord]) {
	rabbit := newMemRabbit()
	records := newMemRedis[domain.JobRecord]()
	q := NewJobQueue(rabbit, records, QueueOptions{
		Name:          "video-processing",
		Policy:        domain.QueuePolicy{Attempts: attempts, BackoffBase: 5 * time.Second},
		KeepCompleted: 100,
		KeepFailed:    50,
		JobTTL:        24 * time.Hour,
	}).(*jobQueue)
	return q, rabbit, records
}

func TestDeclareTopology(t *testing.T) {
	logger.SetNewNop()
	q, rabbit, _ := newTestQueue(3)

	require.NoError(t, q.DeclareTopology())

	assert.Contains(t, rabbit.declared, "video-processing")
	assert.Equal(t, amqp.Table{
		"x-message-ttl":             int64(5000),
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": "video-processing",
	}, rabbit.declared["video-processing.retry.1"])
	assert.Equal(t, int64(10000), rabbit.declared["video-processing.retry.2"]["x-message-ttl"])
	assert.NotContains(t, rabbit.declared, "video-processing.retry.3")
}

func TestEnqueue(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()

	t.Run("同一支影片只投遞一次", func(t *testing.T) {
		q, rabbit, _ := newTestQueue(3)

		rec, enqueued, err := q.Enqueue(ctx, "v1")
		require.NoError(t, err)
		assert.True(t, enqueued)
		assert.Equal(t, "video-v1", rec.JobID)
		assert.Equal(t, domain.JobWaiting, rec.State)
		assert.Equal(t, 3, rec.MaxAttempts)

		again, enqueued, err := q.Enqueue(ctx, "v1")
		require.NoError(t, err)
		assert.False(t, enqueued)
		assert.Equal(t, rec.JobID, again.JobID)

		require.Len(t, rabbit.published, 1)
		p := rabbit.published[0]
		assert.Equal(t, "video-processing", p.queue)
		assert.Equal(t, "video-v1", p.msg.MessageId)
		assert.Equal(t, amqp.Persistent, p.msg.DeliveryMode)

		var job domain.ProcessingJob
		require.NoError(t, json.Unmarshal(p.msg.Body, &job))
		assert.Equal(t, domain.ProcessingJob{VideoID: "v1", JobID: "video-v1"}, job)
	})

	t.Run("publish 失敗時釋放 identity", func(t *testing.T) {
		q, rabbit, records := newTestQueue(3)
		rabbit.publishErr = errors.New("channel closed")

		_, enqueued, err := q.Enqueue(ctx, "v2")
		assert.Error(t, err)
		assert.False(t, enqueued)
		assert.False(t, records.has(domain.JobKey("video-v2")))
	})

	t.Run("redis 錯誤", func(t *testing.T) {
		q, rabbit, records := newTestQueue(3)
		records.err = errors.New("redis down")

		_, _, err := q.Enqueue(ctx, "v3")
		assert.Error(t, err)
		assert.Empty(t, rabbit.published)
	})
}

func TestClaimAndFail(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	origRunID := newRunID
	runs := 0
	newRunID = func() string { runs++; return fmt.Sprintf("run-%d", runs) }
	defer func() { newRunID = origRunID }()

	q, rabbit, records := newTestQueue(3)
	_, _, err := q.Enqueue(ctx, "v1")
	require.NoError(t, err)
	job := domain.NewProcessingJob("v1")

	claim, err := q.Claim(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 1, claim.Attempt)
	assert.Equal(t, "run-1", claim.RunID)
	assert.False(t, claim.FinalAttempt())

	retrying, err := q.Fail(ctx, claim, domain.NewStageError(domain.StageCompose, domain.KindFatal, "ffmpeg compose", domain.ErrToolTimeout))
	require.NoError(t, err)
	assert.True(t, retrying)

	rec, err := records.Get(ctx, domain.JobKey(job.JobID))
	require.NoError(t, err)
	assert.Equal(t, domain.JobDelayed, rec.State)
	assert.Equal(t, domain.KindFatal, rec.ErrorKind)
	assert.Equal(t, []string{"video-processing", "video-processing.retry.1"}, rabbit.queues())

	claim, err = q.Claim(ctx, job)
	require.NoError(t, err)
	assert.Equal(t, 2, claim.Attempt)
	retrying, err = q.Fail(ctx, claim, errors.New("minio down"))
	require.NoError(t, err)
	assert.True(t, retrying)
	assert.Equal(t, "video-processing.retry.2", rabbit.queues()[2])

	claim, err = q.Claim(ctx, job)
	require.NoError(t, err)
	assert.True(t, claim.FinalAttempt())
	retrying, err = q.Fail(ctx, claim, errors.New("minio down"))
	require.NoError(t, err)
	assert.False(t, retrying)

	assert.False(t, records.has(domain.JobKey(job.JobID)))
	failed, err := q.History(ctx, domain.HistoryFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, domain.JobFailed, failed[0].State)
	assert.Equal(t, 3, failed[0].AttemptsMade)
	assert.NotNil(t, failed[0].FinishedAt)
	assert.Len(t, rabbit.published, 3)
}

func TestClaimMissingRecord(t *testing.T) {
	logger.SetNewNop()
	q, _, _ := newTestQueue(3)

	_, err := q.Claim(context.Background(), domain.NewProcessingJob("gone"))
	assert.ErrorIs(t, err, ErrJobRecordMissing)
}

func TestComplete(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()

	t.Run("釋放 identity 並寫入 completed", func(t *testing.T) {
		q, _, records := newTestQueue(3)
		_, _, _ = q.Enqueue(ctx, "v1")
		claim, err := q.Claim(ctx, domain.NewProcessingJob("v1"))
		require.NoError(t, err)

		require.NoError(t, q.Complete(ctx, claim))
		assert.False(t, records.has(domain.JobKey("video-v1")))

		done, err := q.History(ctx, domain.HistoryCompleted)
		require.NoError(t, err)
		require.Len(t, done, 1)
		assert.Equal(t, domain.JobCompleted, done[0].State)

		_, enqueued, err := q.Enqueue(ctx, "v1")
		require.NoError(t, err)
		assert.True(t, enqueued)
	})

	t.Run("其他 run 持有時保留 identity", func(t *testing.T) {
		clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		origNow := nowFunc
		nowFunc = func() time.Time { return clock }
		defer func() { nowFunc = origNow }()

		q, _, records := newTestQueue(3)
		_, _, _ = q.Enqueue(ctx, "v1")
		stale, err := q.Claim(ctx, domain.NewProcessingJob("v1"))
		require.NoError(t, err)
		clock = clock.Add(q.opts.Lease + time.Second)
		_, err = q.Claim(ctx, domain.NewProcessingJob("v1"))
		require.NoError(t, err)

		require.NoError(t, q.Complete(ctx, stale))
		assert.True(t, records.has(domain.JobKey("video-v1")))
	})

	t.Run("completed 保留上限", func(t *testing.T) {
		q, _, _ := newTestQueue(1)
		q.opts.KeepCompleted = 2
		for _, id := range []string{"a", "b", "c"} {
			_, _, _ = q.Enqueue(ctx, id)
			claim, err := q.Claim(ctx, domain.NewProcessingJob(id))
			require.NoError(t, err)
			require.NoError(t, q.Complete(ctx, claim))
		}
		done, err := q.History(ctx, domain.HistoryCompleted)
		require.NoError(t, err)
		require.Len(t, done, 2)
		assert.Equal(t, "video-c", done[0].JobID)
	})

	t.Run("保留數量為 0 時不保留歷史", func(t *testing.T) {
		q, _, _ := newTestQueue(1)
		q.opts.KeepCompleted = 0
		for _, id := range []string{"a", "b"} {
			_, _, _ = q.Enqueue(ctx, id)
			claim, err := q.Claim(ctx, domain.NewProcessingJob(id))
			require.NoError(t, err)
			require.NoError(t, q.Complete(ctx, claim))
		}
		done, err := q.History(ctx, domain.HistoryCompleted)
		require.NoError(t, err)
		assert.Empty(t, done)
	})
}

func TestClaimLease(t *testing.T) {
	logger.SetNewNop()
	ctx := context.Background()
	clock := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	origNow, origRunID := nowFunc, newRunID
	runs := 0
	nowFunc = func() time.Time { return clock }
	newRunID = func() string { runs++; return fmt.Sprintf("run-%d", runs) }
	defer func() { nowFunc, newRunID = origNow, origRunID }()

	q, rabbit, records := newTestQueue(3)
	_, _, err := q.Enqueue(ctx, "v1")
	require.NoError(t, err)
	job := domain.NewProcessingJob("v1")

	owner, err := q.Claim(ctx, job)
	require.NoError(t, err)

	t.Run("重複投遞時拒絕第二個 owner", func(t *testing.T) {
		_, err := q.Claim(ctx, job)
		assert.ErrorIs(t, err, ErrJobActive)

		rec, err := records.Get(ctx, domain.JobKey(job.JobID))
		require.NoError(t, err)
		assert.Equal(t, owner.RunID, rec.RunID)
		assert.Equal(t, 1, rec.AttemptsMade)
	})

	t.Run("續約後 lease 延長", func(t *testing.T) {
		clock = clock.Add(q.opts.Lease - time.Second)
		require.NoError(t, q.Renew(ctx, owner))
		clock = clock.Add(q.opts.Lease - time.Second)

		_, err := q.Claim(ctx, job)
		assert.ErrorIs(t, err, ErrJobActive)
	})

	t.Run("lease 過期後可以接手", func(t *testing.T) {
		clock = clock.Add(2 * time.Second)
		takeover, err := q.Claim(ctx, job)
		require.NoError(t, err)
		assert.Equal(t, 2, takeover.Attempt)
		assert.NotEqual(t, owner.RunID, takeover.RunID)

		assert.ErrorIs(t, q.Renew(ctx, owner), ErrJobNotOwned)

		// 舊 owner 失敗時不覆蓋新 owner，也不排入重試
		retrying, err := q.Fail(ctx, owner, errors.New("stale failure"))
		require.NoError(t, err)
		assert.False(t, retrying)
		assert.Equal(t, []string{"video-processing"}, rabbit.queues())

		rec, err := records.Get(ctx, domain.JobKey(job.JobID))
		require.NoError(t, err)
		assert.Equal(t, takeover.RunID, rec.RunID)
		assert.Equal(t, domain.JobActive, rec.State)
	})

	t.Run("record 不存在時續約失敗", func(t *testing.T) {
		require.NoError(t, records.Del(ctx, domain.JobKey(job.JobID)))
		assert.ErrorIs(t, q.Renew(ctx, owner), ErrJobRecordMissing)
	})
}

func TestHistoryUnknownKind(t *testing.T) {
	q, _, _ := newTestQueue(3)
	_, err := q.History(context.Background(), domain.HistoryKind("active"))
	assert.Error(t, err)
}
