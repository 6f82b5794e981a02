package app

import (
	"context"
	"encoding/json"
	"errors"

	"chatroom_realtime_service/internal/notification/domain"
	"chatroom_realtime_service/internal/notification/repository"
	"chatroom_realtime_service/pkg/logger"
	"chatroom_realtime_service/pkg/metrics"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// Outcome result of one delivery
type Outcome string

const (
	// OutcomeAcked batch accepted by provider
	OutcomeAcked Outcome = "acked"
	// OutcomeRequeued batch put back for another try
	OutcomeRequeued Outcome = "requeued"
	// OutcomeDropped batch can never succeed
	OutcomeDropped Outcome = "dropped"
)

// ErrDeliveriesClosed consumer channel closed by broker
var ErrDeliveriesClosed = errors.New("push deliveries channel closed")

// Sender submit queued push batches to the provider
type Sender struct {
	provider repository.PushProvider
}

// NewSender create Sender
func NewSender(provider repository.PushProvider) *Sender {
	return &Sender{provider: provider}
}

// Run handle deliveries until ctx is done or the channel closes
func (s *Sender) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			s.Handle(ctx, d)
		}
	}
}

// Handle send one batch and ack or nack the delivery
func (s *Sender) Handle(ctx context.Context, d amqp.Delivery) Outcome {
	outcome := s.send(ctx, d.Body)
	var err error
	switch outcome {
	case OutcomeAcked:
		err = d.Ack(false)
	case OutcomeRequeued:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		logger.Log.Error("ack push delivery failed", zap.String("outcome", string(outcome)), zap.Error(err))
	}
	metrics.PushBatches.WithLabelValues("sent", string(outcome)).Inc()
	return outcome
}

func (s *Sender) send(ctx context.Context, body []byte) Outcome {
	var batch domain.PushBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		logger.Log.Warn("undecodable push batch dropped", zap.Error(err))
		return OutcomeDropped
	}
	if len(batch.Messages) == 0 {
		return OutcomeAcked
	}

	err := s.provider.Send(ctx, batch.Messages)
	switch {
	case err == nil:
		return OutcomeAcked
	case errors.Is(err, domain.ErrProviderUnavailable):
		logger.Log.Warn("push provider unavailable, requeue", zap.String("batch_id", batch.ID), zap.Error(err))
		return OutcomeRequeued
	default:
		logger.Log.Warn("push batch rejected", zap.String("batch_id", batch.ID), zap.Error(err))
		return OutcomeDropped
	}
}
