package app

import (
	"context"
	"encoding/json"
	"strings"

	"chatroom_realtime_service/internal/chat/domain"
	"chatroom_realtime_service/internal/chat/repository"
	"chatroom_realtime_service/pkg/logger"
	"chatroom_realtime_service/pkg/metrics"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Broadcaster publish event payload on pub/sub channel
type Broadcaster interface {
	Publish(ctx context.Context, channel, event string, payload []byte) error
}

// MessageUseCase 負責訊息寫入與即時 fan-out
type MessageUseCase struct {
	msgRepo  repository.MessageRepository
	partRepo repository.ParticipantRepository
	roomRepo repository.RoomRepository
	events   repository.MessageEventPublisher
	pub      Broadcaster
}

// NewMessageUseCase init message use case, events can be nil when push is disabled
func NewMessageUseCase(
	msgRepo repository.MessageRepository,
	partRepo repository.ParticipantRepository,
	roomRepo repository.RoomRepository,
	events repository.MessageEventPublisher,
	pub Broadcaster,
) *MessageUseCase {
	return &MessageUseCase{
		msgRepo:  msgRepo,
		partRepo: partRepo,
		roomRepo: roomRepo,
		events:   events,
		pub:      pub,
	}
}

// Send store user message and notify other participants
func (uc *MessageUseCase) Send(ctx context.Context, roomID, senderID, body string) (*domain.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, domain.ErrEmptyMessage
	}

	room, err := uc.openRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	sender, err := uc.partRepo.Find(ctx, roomID, senderID)
	if err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, domain.ErrNotParticipant
	}

	msg := &domain.Message{
		ID:         uuid.New().String(),
		ChatroomID: roomID,
		SenderID:   senderID,
		Body:       body,
		Kind:       domain.KindUser,
	}
	if err := uc.msgRepo.Insert(ctx, msg); err != nil {
		return nil, err
	}
	msg.Nickname = sender.Nickname

	if uc.events != nil {
		rec := domain.MessageCreatedRecord{Message: *msg, RoomName: room.Name}
		if err := uc.events.PublishCreated(ctx, rec); err != nil {
			logger.Log.Warn("publish message record failed", zap.String("message_id", msg.ID), zap.Error(err))
		}
	}

	members, err := uc.partRepo.ListByRoom(ctx, roomID)
	if err != nil {
		logger.Log.Warn("list participants for fan-out failed", zap.String("room_id", roomID), zap.Error(err))
		return msg, nil
	}
	recipients := make([]string, 0, len(members))
	for _, p := range members {
		if p.UserID != senderID {
			recipients = append(recipients, p.UserID)
		}
	}
	uc.fanOut(ctx, domain.NewEvent(domain.EventMessageCreated, *msg), recipients, false)
	return msg, nil
}

// PostSystemMessage store system message, extra recipients get it even when they already left the room
func (uc *MessageUseCase) PostSystemMessage(ctx context.Context, roomID, body string, extra ...string) (*domain.Message, error) {
	msg := &domain.Message{
		ID:         uuid.New().String(),
		ChatroomID: roomID,
		SenderID:   domain.SystemSenderID,
		Body:       body,
		Kind:       domain.KindSystem,
	}
	if err := uc.msgRepo.Insert(ctx, msg); err != nil {
		return nil, err
	}

	members, err := uc.partRepo.ListByRoom(ctx, roomID)
	if err != nil {
		logger.Log.Warn("list participants for fan-out failed", zap.String("room_id", roomID), zap.Error(err))
	}
	seen := make(map[string]bool, len(members)+len(extra))
	recipients := make([]string, 0, len(members)+len(extra))
	for _, p := range members {
		if !seen[p.UserID] {
			seen[p.UserID] = true
			recipients = append(recipients, p.UserID)
		}
	}
	for _, id := range extra {
		if id != "" && !seen[id] {
			seen[id] = true
			recipients = append(recipients, id)
		}
	}
	// room scope 的 session 只聽 room channel
	uc.fanOut(ctx, domain.NewEvent(domain.EventMessageCreated, *msg), recipients, true)
	return msg, nil
}

// Delete tombstone message, sender or host only, deleting twice is fine
func (uc *MessageUseCase) Delete(ctx context.Context, roomID, messageID, actorID string) (*domain.Message, error) {
	msg, err := uc.roomMessage(ctx, roomID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return msg, nil
	}

	room, err := uc.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, domain.ErrRoomNotFound
	}
	if msg.SenderID != actorID && !room.IsHost(actorID) {
		return nil, domain.ErrForbidden
	}

	deleted, err := uc.msgRepo.MarkDeleted(ctx, messageID)
	if err != nil {
		return nil, err
	}

	members, err := uc.partRepo.ListByRoom(ctx, roomID)
	if err != nil {
		logger.Log.Warn("list participants for fan-out failed", zap.String("room_id", roomID), zap.Error(err))
		return deleted, nil
	}
	recipients := make([]string, 0, len(members))
	for _, p := range members {
		if p.UserID != actorID {
			recipients = append(recipients, p.UserID)
		}
	}
	uc.fanOut(ctx, domain.NewEvent(domain.EventMessageDeleted, *deleted), recipients, false)
	return deleted, nil
}

// Edit change body of own message, other devices see it on next fetch
func (uc *MessageUseCase) Edit(ctx context.Context, roomID, messageID, actorID, body string) (*domain.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, domain.ErrEmptyMessage
	}
	msg, err := uc.roomMessage(ctx, roomID, messageID)
	if err != nil {
		return nil, err
	}
	if msg.IsDeleted {
		return nil, domain.ErrMessageNotFound
	}
	if msg.Kind != domain.KindUser || msg.SenderID != actorID {
		return nil, domain.ErrForbidden
	}
	return uc.msgRepo.UpdateBody(ctx, messageID, body)
}

func (uc *MessageUseCase) openRoom(ctx context.Context, roomID string) (*domain.Chatroom, error) {
	room, err := uc.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, domain.ErrRoomNotFound
	}
	if room.Closed {
		return nil, domain.ErrRoomClosed
	}
	return room, nil
}

func (uc *MessageUseCase) roomMessage(ctx context.Context, roomID, messageID string) (*domain.Message, error) {
	msg, err := uc.msgRepo.FindMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil || msg.ChatroomID != roomID {
		return nil, domain.ErrMessageNotFound
	}
	return msg, nil
}

// fanOut publish event to each user channel, failures only logged
func (uc *MessageUseCase) fanOut(ctx context.Context, ev domain.Event, userIDs []string, withRoom bool) {
	payload, err := json.Marshal(ev)
	if err != nil {
		logger.Log.Error("marshal event failed", zap.Error(err))
		return
	}

	channels := make([]string, 0, len(userIDs)+1)
	for _, id := range userIDs {
		channels = append(channels, domain.UserChannel(id))
	}
	if withRoom {
		channels = append(channels, domain.RoomChannel(ev.ChatroomID))
	}

	for _, ch := range channels {
		if err := uc.pub.Publish(ctx, ch, string(ev.Type), payload); err != nil {
			metrics.Broadcasts.WithLabelValues(string(ev.Type), "failed").Inc()
			logger.Log.Warn("fan-out publish failed", zap.String("channel", ch), zap.String("message_id", ev.MessageID), zap.Error(err))
			continue
		}
		metrics.Broadcasts.WithLabelValues(string(ev.Type), "sent").Inc()
	}
}
