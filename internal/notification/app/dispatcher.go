package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	chatdomain "chatroom_realtime_service/internal/chat/domain"
	"chatroom_realtime_service/internal/notification/domain"
	"chatroom_realtime_service/internal/notification/repository"
	"chatroom_realtime_service/pkg"
	"chatroom_realtime_service/pkg/logger"
	"chatroom_realtime_service/pkg/metrics"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageReader kafka consumer group reader
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ParticipantLister room participants
type ParticipantLister interface {
	ListByRoom(ctx context.Context, roomID string) ([]chatdomain.ChatroomParticipant, error)
}

// Dispatcher turn message_created records into push batches
type Dispatcher struct {
	reader       MessageReader
	participants ParticipantLister
	devices      repository.DeviceRepository
	queue        repository.PushQueue
	batchSize    int
	retry        uint64
	interval     time.Duration
}

// NewDispatcher create Dispatcher
func NewDispatcher(
	reader MessageReader,
	participants ParticipantLister,
	devices repository.DeviceRepository,
	queue repository.PushQueue,
	batchSize int,
) *Dispatcher {
	if batchSize <= 0 {
		batchSize = domain.DefaultBatchSize
	}
	return &Dispatcher{
		reader:       reader,
		participants: participants,
		devices:      devices,
		queue:        queue,
		batchSize:    batchSize,
		retry:        3,
		interval:     200 * time.Millisecond,
	}
}

// Run fetch and commit records until ctx is done
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		m, err := d.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		b := backoff.NewExponentialBackOff()
		b.InitialInterval = d.interval
		policy := backoff.WithContext(backoff.WithMaxRetries(b, d.retry), ctx)

		// 重試時跳過已送出的 batch
		published := 0
		err = backoff.Retry(func() error {
			n, err := d.dispatch(ctx, m.Value, published)
			published = n
			return err
		}, policy)
		if err != nil {
			logger.Log.Warn("dispatch push failed, record skipped",
				zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
		}

		if err := d.reader.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit message: %w", err)
		}
	}
}

// Dispatch build and queue push batches of one record, returns number of batches queued
func (d *Dispatcher) Dispatch(ctx context.Context, value []byte) (int, error) {
	n, err := d.dispatch(ctx, value, 0)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return n, perm.Err
	}
	return n, err
}

func (d *Dispatcher) dispatch(ctx context.Context, value []byte, skip int) (int, error) {
	var rec chatdomain.MessageCreatedRecord
	if err := json.Unmarshal(value, &rec); err != nil {
		return skip, backoff.Permanent(fmt.Errorf("decode record: %w", err))
	}
	msg := rec.Message
	if msg.Kind != chatdomain.KindUser || msg.IsDeleted {
		return skip, nil
	}

	members, err := d.participants.ListByRoom(ctx, msg.ChatroomID)
	if err != nil {
		return skip, err
	}
	userIDs := make([]string, 0, len(members))
	for _, p := range members {
		userIDs = append(userIDs, p.UserID)
	}
	recipients := pkg.Without(userIDs, msg.SenderID)
	if len(recipients) == 0 {
		return skip, nil
	}

	devices, err := d.devices.ListEnabledByUsers(ctx, recipients)
	if err != nil {
		return skip, err
	}

	batches := domain.Chunk(d.buildMessages(rec, devices), d.batchSize)
	for i := skip; i < len(batches); i++ {
		batch := domain.PushBatch{
			ID:        uuid.New().String(),
			MessageID: msg.ID,
			Messages:  batches[i],
		}
		if err := d.queue.Publish(ctx, batch); err != nil {
			metrics.PushBatches.WithLabelValues("queued", "failed").Inc()
			return i, err
		}
		metrics.PushBatches.WithLabelValues("queued", "ok").Inc()
	}
	return len(batches), nil
}

func (d *Dispatcher) buildMessages(rec chatdomain.MessageCreatedRecord, devices []domain.Device) []domain.PushMessage {
	msg := rec.Message
	title := msg.Nickname
	if title == "" {
		title = rec.RoomName
	}
	body := domain.TruncateBody(msg.Body)

	out := make([]domain.PushMessage, 0, len(devices))
	seen := make(map[string]bool, len(devices))
	for _, dev := range devices {
		if !dev.NotificationsEnabled || dev.UserID == msg.SenderID || seen[dev.Token] {
			continue
		}
		seen[dev.Token] = true
		out = append(out, domain.PushMessage{
			To:    dev.Token,
			Title: title,
			Body:  body,
			Sound: "default",
			Data: map[string]string{
				"route":       domain.Route(msg.ChatroomID),
				"chatroom_id": msg.ChatroomID,
				"message_id":  msg.ID,
			},
		})
	}
	return out
}
