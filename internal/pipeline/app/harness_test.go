package app

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"video_pipeline_service/internal/pipeline/domain"

	"github.com/streadway/amqp"
)

// memVideoRepo 依 transition table 檢查的記憶體 VideoRepo
type memVideoRepo struct {
	mu     sync.Mutex
	videos map[string]*domain.Video
	segs   map[string][]domain.Segment
	trail  map[string][]domain.VideoStatus
}

func newMemVideoRepo() *memVideoRepo {
	return &memVideoRepo{
		videos: map[string]*domain.Video{},
		segs:   map[string][]domain.Segment{},
		trail:  map[string][]domain.VideoStatus{},
	}
}

func (r *memVideoRepo) AutoMigrate() error { return nil }

func (r *memVideoRepo) Create(_ context.Context, v *domain.Video) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *v
	r.videos[v.ID] = &cp
	r.trail[v.ID] = []domain.VideoStatus{v.Status}
	return nil
}

func (r *memVideoRepo) GetByID(_ context.Context, id string) (*domain.Video, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return nil, domain.ErrVideoNotFound
	}
	cp := *v
	return &cp, nil
}

func (r *memVideoRepo) TransitionStatus(_ context.Context, id string, to domain.VideoStatus, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return domain.ErrVideoNotFound
	}
	if !domain.CanTransition(v.Status, to) {
		return domain.ErrInvalidTransition
	}
	v.Status = to
	switch to {
	case domain.VideoProcessing:
		v.FailureReason = ""
	case domain.VideoFailed:
		v.FailureReason = reason
	}
	r.trail[id] = append(r.trail[id], to)
	return nil
}

func (r *memVideoRepo) MarkReady(_ context.Context, id, outputKey string, duration int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return domain.ErrVideoNotFound
	}
	if !domain.CanTransition(v.Status, domain.VideoReady) {
		return domain.ErrInvalidTransition
	}
	v.Status = domain.VideoReady
	v.OutputKey = domain.StrPtr(outputKey)
	v.Duration = &duration
	r.trail[id] = append(r.trail[id], domain.VideoReady)
	return nil
}

func (r *memVideoRepo) SetThumbKey(_ context.Context, id, thumbKey string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.videos[id]; ok {
		v.ThumbKey = domain.StrPtr(thumbKey)
	}
	return nil
}

func (r *memVideoRepo) SaveTranscript(_ context.Context, id, subtitleKey string, segments []domain.Segment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.videos[id]
	if !ok {
		return domain.ErrVideoNotFound
	}
	v.SubtitleKey = domain.StrPtr(subtitleKey)
	r.segs[id] = append([]domain.Segment{}, segments...)
	return nil
}

func (r *memVideoRepo) ListSegments(_ context.Context, id string) ([]domain.Segment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]domain.Segment{}, r.segs[id]...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out, nil
}

func (r *memVideoRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.videos, id)
	delete(r.segs, id)
	return nil
}

func (r *memVideoRepo) statusTrail(id string) []domain.VideoStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.VideoStatus{}, r.trail[id]...)
}

// scriptedComposer 依序回傳預先設定的結果
type scriptedComposer struct {
	mu       sync.Mutex
	results  []error
	calls    int
	lastPlan domain.ComposePlan
}

func (c *scriptedComposer) Compose(_ context.Context, video *domain.Video, _ string) (domain.ComposeResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var err error
	if c.calls < len(c.results) {
		err = c.results[c.calls]
	}
	c.calls++
	if err != nil {
		return domain.ComposeResult{}, err
	}
	plan := domain.SelectPlan(video.HasCamera(), video.HasMic())
	c.lastPlan = plan
	return domain.ComposeResult{OutputKey: domain.OutputKey(video.ID), Duration: 42, Plan: plan, VideoStreams: 1, AudioStreams: 1}, nil
}

type stubThumbnailer struct{}

func (stubThumbnailer) Thumbnail(_ context.Context, videoID, _, _ string) (string, error) {
	return domain.ThumbKey(videoID), nil
}

type stubTranscriber struct {
	videos *memVideoRepo
	err    error
}

func (s stubTranscriber) Transcribe(ctx context.Context, videoID, _, _ string) (*domain.TranscriptResult, error) {
	if s.err != nil {
		return nil, s.err
	}
	segs := []domain.Segment{{VideoID: videoID, Start: 0, End: 1.5, Text: "hello"}}
	if err := s.videos.SaveTranscript(ctx, videoID, domain.SubtitleKey(videoID), segs); err != nil {
		return nil, err
	}
	return &domain.TranscriptResult{SubtitleKey: domain.SubtitleKey(videoID), Segments: segs}, nil
}

// pipelineHarness queue + consumer + processor，delivery 由測試手動推進
type pipelineHarness struct {
	queue    *jobQueue
	rabbit   *memRabbit
	records  *memRedis[domain.JobRecord]
	videos   *memVideoRepo
	composer *scriptedComposer
	consumer *Consumer
	usecase  PipelineUseCase
	acks     *fakeAck
	cursor   int
}

func newPipelineHarness(t *testing.T, transcribeErr error) *pipelineHarness {
	h := &pipelineHarness{
		rabbit:   newMemRabbit(),
		records:  newMemRedis[domain.JobRecord](),
		videos:   newMemVideoRepo(),
		composer: &scriptedComposer{},
		acks:     &fakeAck{},
	}
	h.queue = NewJobQueue(h.rabbit, h.records, QueueOptions{
		Policy:        domain.QueuePolicy{Attempts: 3, BackoffBase: 5 * time.Second},
		KeepCompleted: 100,
		KeepFailed:    50,
		JobTTL:        24 * time.Hour,
	}).(*jobQueue)

	proc := NewVideoProcessor(ProcessorDeps{
		Videos:               h.videos,
		Composer:             h.composer,
		Thumbnailer:          stubThumbnailer{},
		Transcriber:          stubTranscriber{videos: h.videos, err: transcribeErr},
		ScratchDir:           t.TempDir(),
		TranscriptionEnabled: true,
	})
	h.consumer = NewConsumer(h.queue, proc, 1, "harness")
	h.usecase = NewPipelineUseCase(h.videos, new(MockMinIOClient), h.queue, nil, nil, time.Hour)
	return h
}

// deliverNext retry queue 到期後會 dead-letter 回 main queue，這裡直接交給 consumer
func (h *pipelineHarness) deliverNext() bool {
	h.rabbit.mu.Lock()
	if h.cursor >= len(h.rabbit.published) {
		h.rabbit.mu.Unlock()
		return false
	}
	msg := h.rabbit.published[h.cursor].msg
	h.cursor++
	h.rabbit.mu.Unlock()

	h.consumer.handle(context.Background(), amqp.Delivery{Acknowledger: h.acks, Body: msg.Body}, 0)
	return true
}

func (h *pipelineHarness) drain() int {
	n := 0
	for h.deliverNext() {
		n++
	}
	return n
}
