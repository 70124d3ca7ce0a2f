package database

import (
	"fmt"
	"time"

	"video_pipeline_service/pkg/logger"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// RabbitRepo definition rabbit repo
type RabbitRepo interface {
	GetRabbit() *amqp.Channel
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	DeclareQueue(name string, args amqp.Table) error
	Qos(prefetch int) error
	Consume(queue, consumer string) (<-chan amqp.Delivery, error)
	IsClosed() bool
}

type rabbitRepo struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewRabbitRepository create a RabbitRepository
func NewRabbitRepository(conn *amqp.Connection, ch *amqp.Channel) RabbitRepo {
	return &rabbitRepo{conn: conn, channel: ch}
}

// ConnectRabbitMQWithRetry 嘗試連線到 RabbitMQ
func ConnectRabbitMQWithRetry(d Connection) (*amqp.Connection, error) {
	var conn *amqp.Connection
	var err error

	for attempt := 1; attempt <= d.RetryCount; attempt++ {
		conn, err = amqp.Dial(d.ConnectStr)
		if err == nil {
			logger.Log.Info("RabbitMQ 連線成功", zap.Int("attempt", attempt))
			return conn, nil
		}

		logger.Log.Warn("RabbitMQ 連線失敗",
			zap.Int("attempt", attempt),
			zap.Int("retry_count", d.RetryCount),
			zap.Error(err),
		)
		time.Sleep(d.RetryInterval * time.Second)
	}

	return nil, fmt.Errorf("無法連線 RabbitMQ，經過 %d 次嘗試: %v", d.RetryCount, err)
}

// GetRabbitMQChannelWithRetry 使用已有的 RabbitMQ 連線嘗試取得 Channel
func GetRabbitMQChannelWithRetry(conn *amqp.Connection, maxRetries int, baseDelay time.Duration) (*amqp.Channel, error) {
	var ch *amqp.Channel
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		ch, err = conn.Channel()
		if err == nil {
			return ch, nil
		}

		logger.Log.Warn("建立 RabbitMQ Channel 失敗", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(baseDelay * time.Second)
	}

	return nil, fmt.Errorf("無法取得 RabbitMQ Channel，經過 %d 次嘗試: %v", maxRetries, err)
}

func (r *rabbitRepo) GetRabbit() *amqp.Channel {
	return r.channel
}

func (r *rabbitRepo) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	return r.channel.Publish(exchange, key, mandatory, immediate, msg)
}

// DeclareQueue durable queue，args 用於 TTL / dead-letter 設定
func (r *rabbitRepo) DeclareQueue(name string, args amqp.Table) error {
	_, err := r.channel.QueueDeclare(name, true, false, false, false, args)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", name, err)
	}
	return nil
}

func (r *rabbitRepo) Qos(prefetch int) error {
	return r.channel.Qos(prefetch, 0, false)
}

// Consume manual ack
func (r *rabbitRepo) Consume(queue, consumer string) (<-chan amqp.Delivery, error) {
	return r.channel.Consume(queue, consumer, false, false, false, false, nil)
}

func (r *rabbitRepo) IsClosed() bool {
	if r.conn == nil {
		return true
	}
	return r.conn.IsClosed()
}
