package app

import (
	"context"
	"sync"
	"time"

	"video_pipeline_service/internal/pipeline/domain"
	"video_pipeline_service/internal/pipeline/media"
	"video_pipeline_service/pkg/database"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/mock"
)

// MockMinIOClient 是 MinIOClientRepo 的 Mock
type MockMinIOClient struct {
	mock.Mock
}

func (m *MockMinIOClient) UploadFile(ctx context.Context, objectName, filePath, contentType string) error {
	args := m.Called(ctx, objectName, filePath, contentType)
	return args.Error(0)
}

func (m *MockMinIOClient) PutObject(ctx context.Context, objectName string, data []byte, contentType string) error {
	args := m.Called(ctx, objectName, data, contentType)
	return args.Error(0)
}

func (m *MockMinIOClient) DownloadFile(ctx context.Context, objectName, destPath string) (int64, error) {
	args := m.Called(ctx, objectName, destPath)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMinIOClient) RemoveObject(ctx context.Context, objectName string) error {
	args := m.Called(ctx, objectName)
	return args.Error(0)
}

func (m *MockMinIOClient) PresignGetURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, objectName, expiry)
	return args.String(0), args.Error(1)
}

func (m *MockMinIOClient) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockVideoRepo 是 VideoRepo 的 Mock
type MockVideoRepo struct {
	mock.Mock
}

func (m *MockVideoRepo) AutoMigrate() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockVideoRepo) Create(ctx context.Context, video *domain.Video) error {
	args := m.Called(ctx, video)
	return args.Error(0)
}

func (m *MockVideoRepo) GetByID(ctx context.Context, id string) (*domain.Video, error) {
	args := m.Called(ctx, id)
	v, _ := args.Get(0).(*domain.Video)
	return v, args.Error(1)
}

func (m *MockVideoRepo) TransitionStatus(ctx context.Context, id string, to domain.VideoStatus, reason string) error {
	args := m.Called(ctx, id, to, reason)
	return args.Error(0)
}

func (m *MockVideoRepo) MarkReady(ctx context.Context, id, outputKey string, duration int) error {
	args := m.Called(ctx, id, outputKey, duration)
	return args.Error(0)
}

func (m *MockVideoRepo) SetThumbKey(ctx context.Context, id, thumbKey string) error {
	args := m.Called(ctx, id, thumbKey)
	return args.Error(0)
}

func (m *MockVideoRepo) SaveTranscript(ctx context.Context, id, subtitleKey string, segments []domain.Segment) error {
	args := m.Called(ctx, id, subtitleKey, segments)
	return args.Error(0)
}

func (m *MockVideoRepo) ListSegments(ctx context.Context, id string) ([]domain.Segment, error) {
	args := m.Called(ctx, id)
	segs, _ := args.Get(0).([]domain.Segment)
	return segs, args.Error(1)
}

func (m *MockVideoRepo) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockTools 是 MediaToolkit 的 Mock
type MockTools struct {
	mock.Mock
}

func (m *MockTools) Compose(ctx context.Context, plan domain.ComposePlan, in media.ComposeInputs, outPath string) error {
	args := m.Called(ctx, plan, in, outPath)
	return args.Error(0)
}

func (m *MockTools) Probe(ctx context.Context, path string) (media.ProbeResult, error) {
	args := m.Called(ctx, path)
	return args.Get(0).(media.ProbeResult), args.Error(1)
}

func (m *MockTools) Thumbnail(ctx context.Context, inPath, outPath string) error {
	args := m.Called(ctx, inPath, outPath)
	return args.Error(0)
}

func (m *MockTools) ExtractAudio(ctx context.Context, inPath, wavPath string) error {
	args := m.Called(ctx, inPath, wavPath)
	return args.Error(0)
}

func (m *MockTools) Transcribe(ctx context.Context, wavPath, outBase string) error {
	args := m.Called(ctx, wavPath, outBase)
	return args.Error(0)
}

// MockComposer 是 Composer 的 Mock
type MockComposer struct {
	mock.Mock
}

func (m *MockComposer) Compose(ctx context.Context, video *domain.Video, workDir string) (domain.ComposeResult, error) {
	args := m.Called(ctx, video, workDir)
	return args.Get(0).(domain.ComposeResult), args.Error(1)
}

// MockThumbnailer 是 Thumbnailer 的 Mock
type MockThumbnailer struct {
	mock.Mock
}

func (m *MockThumbnailer) Thumbnail(ctx context.Context, videoID, outputKey, workDir string) (string, error) {
	args := m.Called(ctx, videoID, outputKey, workDir)
	return args.String(0), args.Error(1)
}

// MockTranscriber 是 Transcriber 的 Mock
type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) Transcribe(ctx context.Context, videoID, outputKey, workDir string) (*domain.TranscriptResult, error) {
	args := m.Called(ctx, videoID, outputKey, workDir)
	res, _ := args.Get(0).(*domain.TranscriptResult)
	return res, args.Error(1)
}

// MockProcessor 是 Processor 的 Mock
type MockProcessor struct {
	mock.Mock
}

func (m *MockProcessor) Process(ctx context.Context, claim *domain.JobClaim) error {
	args := m.Called(ctx, claim)
	return args.Error(0)
}

// MockJobQueue 是 JobQueue 的 Mock
type MockJobQueue struct {
	mock.Mock
}

func (m *MockJobQueue) DeclareTopology() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockJobQueue) Enqueue(ctx context.Context, videoID string) (domain.JobRecord, bool, error) {
	args := m.Called(ctx, videoID)
	return args.Get(0).(domain.JobRecord), args.Bool(1), args.Error(2)
}

func (m *MockJobQueue) Claim(ctx context.Context, job domain.ProcessingJob) (*domain.JobClaim, error) {
	args := m.Called(ctx, job)
	if fn, ok := args.Get(0).(func(context.Context, domain.ProcessingJob) (*domain.JobClaim, error)); ok {
		return fn(ctx, job)
	}
	c, _ := args.Get(0).(*domain.JobClaim)
	return c, args.Error(1)
}

func (m *MockJobQueue) Renew(ctx context.Context, claim *domain.JobClaim) error {
	args := m.Called(ctx, claim)
	return args.Error(0)
}

func (m *MockJobQueue) Complete(ctx context.Context, claim *domain.JobClaim) error {
	args := m.Called(ctx, claim)
	return args.Error(0)
}

func (m *MockJobQueue) Fail(ctx context.Context, claim *domain.JobClaim, cause error) (bool, error) {
	args := m.Called(ctx, claim, cause)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobQueue) History(ctx context.Context, kind domain.HistoryKind) ([]domain.JobRecord, error) {
	args := m.Called(ctx, kind)
	recs, _ := args.Get(0).([]domain.JobRecord)
	return recs, args.Error(1)
}

func (m *MockJobQueue) Deliveries(prefetch int, consumerTag string) (<-chan amqp.Delivery, error) {
	args := m.Called(prefetch, consumerTag)
	ch, _ := args.Get(0).(<-chan amqp.Delivery)
	return ch, args.Error(1)
}

// MockEventPublisher 是 EventPublisher 的 Mock
type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, evt domain.VideoEvent) error {
	args := m.Called(ctx, evt)
	return args.Error(0)
}

func (m *MockEventPublisher) Close() error {
	return m.Called().Error(0)
}

// MockAttemptRepo 是 AttemptRepo 的 Mock
type MockAttemptRepo struct {
	mock.Mock
}

func (m *MockAttemptRepo) EnsureIndexes(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockAttemptRepo) Insert(ctx context.Context, log *domain.AttemptLog) error {
	return m.Called(ctx, log).Error(0)
}

func (m *MockAttemptRepo) ListByVideo(ctx context.Context, videoID string, limit int64) ([]*domain.AttemptLog, error) {
	args := m.Called(ctx, videoID, limit)
	logs, _ := args.Get(0).([]*domain.AttemptLog)
	return logs, args.Error(1)
}

func (m *MockAttemptRepo) DeleteByVideo(ctx context.Context, videoID string) error {
	return m.Called(ctx, videoID).Error(0)
}

// memRedis 記憶體版 RedisRepository，queue 與 heartbeat 測試用
type memRedis[T any] struct {
	mu    sync.Mutex
	kv    map[string]T
	lists map[string][]T
	err   error
}

func newMemRedis[T any]() *memRedis[T] {
	return &memRedis[T]{kv: map[string]T{}, lists: map[string][]T{}}
}

func (r *memRedis[T]) Set(_ context.Context, key string, value T, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.kv[key] = value
	return nil
}

func (r *memRedis[T]) SetNX(_ context.Context, key string, value T, _ time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return false, r.err
	}
	if _, ok := r.kv[key]; ok {
		return false, nil
	}
	r.kv[key] = value
	return true, nil
}

func (r *memRedis[T]) Get(_ context.Context, key string) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if r.err != nil {
		return zero, r.err
	}
	v, ok := r.kv[key]
	if !ok {
		return zero, database.ErrRedisNil
	}
	return v, nil
}

func (r *memRedis[T]) Del(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.kv, key)
	return nil
}

func (r *memRedis[T]) Update(_ context.Context, key string, _ time.Duration, fn func(current T) (T, error)) (T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if r.err != nil {
		return zero, r.err
	}
	current, ok := r.kv[key]
	if !ok {
		return zero, database.ErrRedisNil
	}
	next, err := fn(current)
	if err != nil {
		return zero, err
	}
	r.kv[key] = next
	return next, nil
}

func (r *memRedis[T]) PushCapped(_ context.Context, key string, value T, limit int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		delete(r.lists, key)
		return nil
	}
	list := append([]T{value}, r.lists[key]...)
	if len(list) > limit {
		list = list[:limit]
	}
	r.lists[key] = list
	return nil
}

func (r *memRedis[T]) Range(_ context.Context, key string, _, _ int64) ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]T{}, r.lists[key]...), nil
}

func (r *memRedis[T]) Ping(context.Context) error {
	return r.err
}

func (r *memRedis[T]) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.kv[key]
	return ok
}

// memRabbit 記錄 publish 與 declare
type memRabbit struct {
	mu         sync.Mutex
	published  []published
	declared   map[string]amqp.Table
	publishErr error
	deliveries chan amqp.Delivery
}

type published struct {
	queue string
	msg   amqp.Publishing
}

func newMemRabbit() *memRabbit {
	return &memRabbit{declared: map[string]amqp.Table{}, deliveries: make(chan amqp.Delivery, 16)}
}

func (r *memRabbit) GetRabbit() *amqp.Channel { return nil }

func (r *memRabbit) Publish(_, key string, _, _ bool, msg amqp.Publishing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.publishErr != nil {
		return r.publishErr
	}
	r.published = append(r.published, published{queue: key, msg: msg})
	return nil
}

func (r *memRabbit) DeclareQueue(name string, args amqp.Table) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.declared[name] = args
	return nil
}

func (r *memRabbit) Qos(int) error { return nil }

func (r *memRabbit) Consume(string, string) (<-chan amqp.Delivery, error) {
	return r.deliveries, nil
}

func (r *memRabbit) IsClosed() bool { return false }

func (r *memRabbit) queues() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.published))
	for _, p := range r.published {
		out = append(out, p.queue)
	}
	return out
}

// fakeAck 記錄 delivery 的 ack / nack / reject
type fakeAck struct {
	mu      sync.Mutex
	acked   int
	nacked  int
	requeue bool
	reject  int
}

func (a *fakeAck) Ack(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acked++
	return nil
}

func (a *fakeAck) Nack(_ uint64, _ bool, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacked++
	a.requeue = requeue
	return nil
}

func (a *fakeAck) Reject(uint64, bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.reject++
	return nil
}
