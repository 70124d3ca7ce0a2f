package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"video_pipeline_service/internal/pipeline/domain"

	"github.com/segmentio/kafka-go"
)

// EventPublisher definition video lifecycle event sink
type EventPublisher interface {
	Publish(ctx context.Context, evt domain.VideoEvent) error
	Close() error
}

// MessageWriter *kafka.Writer 的子集，測試時可替換
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaEventPublisher struct {
	writer MessageWriter
}

// NewKafkaEventPublisher create kafka event publisher
func NewKafkaEventPublisher(writer MessageWriter) EventPublisher {
	return &kafkaEventPublisher{writer: writer}
}

// Publish key 為 video id，同一支影片的事件落在同一個 partition
func (p *kafkaEventPublisher) Publish(ctx context.Context, evt domain.VideoEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal video event: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(evt.VideoID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(evt.Type)},
		},
	})
}

func (p *kafkaEventPublisher) Close() error {
	return p.writer.Close()
}

type noopEventPublisher struct{}

// NewNoopEventPublisher kafka 未啟用時使用
func NewNoopEventPublisher() EventPublisher {
	return noopEventPublisher{}
}

func (noopEventPublisher) Publish(context.Context, domain.VideoEvent) error { return nil }
func (noopEventPublisher) Close() error                                     { return nil }
