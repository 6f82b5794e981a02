package repository

import (
	"context"
	"encoding/json"

	"chatroom_realtime_service/internal/notification/domain"

	"github.com/streadway/amqp"
)

// PushQueue definition push batch queue
type PushQueue interface {
	Publish(ctx context.Context, batch domain.PushBatch) error
	// Consume deliveries with manual ack
	Consume(consumer string) (<-chan amqp.Delivery, error)
}

type rabbitPushQueue struct {
	ch    *amqp.Channel
	queue string
}

// NewRabbitPushQueue create PushQueue on a declared durable queue
func NewRabbitPushQueue(ch *amqp.Channel, queue string) PushQueue {
	if queue == "" {
		queue = domain.PushQueue
	}
	return &rabbitPushQueue{ch: ch, queue: queue}
}

func (q *rabbitPushQueue) Publish(ctx context.Context, batch domain.PushBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return q.ch.Publish(
		"",      // 預設 exchange
		q.queue, // queue 名稱
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    batch.ID,
			Body:         body,
		},
	)
}

func (q *rabbitPushQueue) Consume(consumer string) (<-chan amqp.Delivery, error) {
	if err := q.ch.Qos(1, 0, false); err != nil {
		return nil, err
	}
	return q.ch.Consume(
		q.queue,
		consumer,
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
}
