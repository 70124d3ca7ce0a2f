package database

import (
	"fmt"
	"time"

	"video_pipeline_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NewKafkaWriterWithRetry 先 dial broker 確認可連線，再建立 Writer
func NewKafkaWriterWithRetry(k KafkaConnection) (*kafka.Writer, error) {
	if len(k.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers 未設定")
	}

	var err error
	for attempt := 1; attempt <= k.RetryCount; attempt++ {
		var conn *kafka.Conn
		conn, err = kafka.Dial("tcp", k.Brokers[0])
		if err == nil {
			_, err = conn.Brokers()
			_ = conn.Close()
		}
		if err == nil {
			logger.Log.Info("Kafka Writer 建立成功", zap.Int("attempt", attempt), zap.String("topic", k.Topic))
			return &kafka.Writer{
				Addr:                   kafka.TCP(k.Brokers...),
				Topic:                  k.Topic,
				Balancer:               &kafka.Hash{},
				AllowAutoTopicCreation: true,
			}, nil
		}

		logger.Log.Warn("Kafka 連線失敗",
			zap.Int("attempt", attempt),
			zap.Int("retry_count", k.RetryCount),
			zap.Error(err),
		)
		time.Sleep(k.RetryInterval * time.Second)
	}

	return nil, fmt.Errorf("無法建立 Kafka Writer，經過 %d 次嘗試: %v", k.RetryCount, err)
}
