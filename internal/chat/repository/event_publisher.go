package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"chatroom_realtime_service/internal/chat/domain"

	"github.com/segmentio/kafka-go"
)

// MessageEventPublisher publish stored message records for push delivery
type MessageEventPublisher interface {
	PublishCreated(ctx context.Context, rec domain.MessageCreatedRecord) error
	Close() error
}

type kafkaEventPublisher struct {
	writer *kafka.Writer
}

// NewKafkaEventPublisher create MessageEventPublisher, records of one room share a partition
func NewKafkaEventPublisher(writer *kafka.Writer) MessageEventPublisher {
	return &kafkaEventPublisher{writer: writer}
}

func (p *kafkaEventPublisher) PublishCreated(ctx context.Context, rec domain.MessageCreatedRecord) error {
	value, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal message record: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(rec.Message.ChatroomID),
		Value: value,
	})
}

func (p *kafkaEventPublisher) Close() error {
	return p.writer.Close()
}
