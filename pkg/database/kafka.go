package database

import (
	"context"
	"fmt"
	"time"

	"chatroom_realtime_service/pkg/logger"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// NewKafkaWriterWithRetry 嘗試建立 Kafka Writer，以 broker metadata 確認連線
func NewKafkaWriterWithRetry(ctx context.Context, k KafkaConnection) (*kafka.Writer, error) {
	var err error

	for attempt := 1; attempt <= max(k.RetryCount, 1); attempt++ {
		var conn *kafka.Conn
		conn, err = kafka.DialContext(ctx, "tcp", k.Brokers[0])
		if err == nil {
			_, err = conn.ReadPartitions(k.Topic)
			_ = conn.Close()
		}
		if err == nil {
			logger.Log.Info("Kafka writer ready", zap.Int("attempt", attempt), zap.String("topic", k.Topic))
			return &kafka.Writer{
				Addr:         kafka.TCP(k.Brokers...),
				Topic:        k.Topic,
				Balancer:     &kafka.Hash{},
				RequiredAcks: kafka.RequireOne,
				BatchTimeout: 10 * time.Millisecond,
			}, nil
		}

		logger.Log.Warn("Kafka writer not ready, retrying...", zap.Int("attempt", attempt), zap.Error(err))
		retryWait(k.RetryInterval)
	}

	return nil, fmt.Errorf("kafka writer not ready after %d attempts: %w", k.RetryCount, err)
}

// NewKafkaReader create consumer group reader
func NewKafkaReader(k KafkaConnection) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        k.Brokers,
		GroupID:        k.GroupID,
		Topic:          k.Topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
	})
}
