package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chatroom_realtime_service/internal/chat/domain"
	"chatroom_realtime_service/internal/chat/repository"
	"chatroom_realtime_service/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SystemMessagePoster post membership notices into a room feed
type SystemMessagePoster interface {
	PostSystemMessage(ctx context.Context, roomID, body string, extra ...string) (*domain.Message, error)
}

// RoomUseCase 聊天室與成員管理
type RoomUseCase struct {
	roomRepo repository.RoomRepository
	partRepo repository.ParticipantRepository
	notices  SystemMessagePoster
	now      func() time.Time
}

// NewRoomUseCase init room use case
func NewRoomUseCase(r repository.RoomRepository, p repository.ParticipantRepository, notices SystemMessagePoster) *RoomUseCase {
	return &RoomUseCase{
		roomRepo: r,
		partRepo: p,
		notices:  notices,
		now:      time.Now,
	}
}

// Create create room, host joins under nickname
func (uc *RoomUseCase) Create(ctx context.Context, hostID, name string, capacity int, nickname string) (*domain.Chatroom, error) {
	roomName, err := domain.NormalizeRoomName(name)
	if err != nil {
		return nil, err
	}
	nick, err := domain.NormalizeNickname(nickname)
	if err != nil {
		return nil, err
	}
	if capacity <= 0 {
		capacity = domain.DefaultCapacity
	}

	now := uc.now().UTC()
	room := &domain.Chatroom{
		ID:        uuid.New().String(),
		Name:      roomName,
		HostID:    hostID,
		Capacity:  capacity,
		BannedIDs: []string{},
		CreatedAt: now,
	}
	if err := uc.roomRepo.CreateRoom(ctx, room); err != nil {
		return nil, err
	}
	host := &domain.ChatroomParticipant{ChatroomID: room.ID, UserID: hostID, Nickname: nick, JoinedAt: now}
	if err := uc.partRepo.Create(ctx, host); err != nil {
		return nil, err
	}

	uc.notice(ctx, room.ID, fmt.Sprintf("%s created the room", nick))
	return room, nil
}

// Room return room, closed room included
func (uc *RoomUseCase) Room(ctx context.Context, roomID string) (*domain.Chatroom, error) {
	room, err := uc.roomRepo.FindByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// Join join room under nickname, joining again returns the existing participant
func (uc *RoomUseCase) Join(ctx context.Context, roomID, userID, nickname string) (*domain.ChatroomParticipant, error) {
	nick, err := domain.NormalizeNickname(nickname)
	if err != nil {
		return nil, err
	}
	room, err := uc.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Closed {
		return nil, domain.ErrRoomClosed
	}
	if room.IsBanned(userID) {
		return nil, domain.ErrBanned
	}

	existing, err := uc.partRepo.Find(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	count, err := uc.partRepo.CountByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if count >= room.Capacity {
		return nil, domain.ErrRoomFull
	}

	p := &domain.ChatroomParticipant{ChatroomID: roomID, UserID: userID, Nickname: nick, JoinedAt: uc.now().UTC()}
	if err := uc.partRepo.Create(ctx, p); err != nil {
		if !errors.Is(err, domain.ErrAlreadyJoined) {
			return nil, err
		}
		// 同一個使用者同時加入，另一個請求先寫入
		existing, ferr := uc.partRepo.Find(ctx, roomID, userID)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}

	uc.notice(ctx, roomID, fmt.Sprintf("%s joined", nick))
	return p, nil
}

// Rename change nickname in room
func (uc *RoomUseCase) Rename(ctx context.Context, roomID, userID, nickname string) error {
	nick, err := domain.NormalizeNickname(nickname)
	if err != nil {
		return err
	}
	p, err := uc.participant(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if p.Nickname == nick {
		return nil
	}
	if err := uc.partRepo.UpdateNickname(ctx, roomID, userID, nick); err != nil {
		return err
	}

	uc.notice(ctx, roomID, fmt.Sprintf("%s is now %s", p.Nickname, nick))
	return nil
}

// Exit leave room, host passes to the earliest joined participant and the last one out closes the room
func (uc *RoomUseCase) Exit(ctx context.Context, roomID, userID string) error {
	room, err := uc.Room(ctx, roomID)
	if err != nil {
		return err
	}
	p, err := uc.participant(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if err := uc.partRepo.Delete(ctx, roomID, userID); err != nil {
		return err
	}

	remaining, err := uc.partRepo.ListByRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if len(remaining) == 0 {
		if err := uc.roomRepo.Close(ctx, roomID); err != nil {
			return err
		}
		uc.notice(ctx, roomID, fmt.Sprintf("%s left, the room is closed", p.Nickname), userID)
		return nil
	}

	if room.IsHost(userID) {
		next := remaining[0]
		if err := uc.roomRepo.UpdateHost(ctx, roomID, next.UserID); err != nil {
			return err
		}
		uc.notice(ctx, roomID, fmt.Sprintf("%s left, %s is now the host", p.Nickname, next.Nickname), userID)
		return nil
	}

	uc.notice(ctx, roomID, fmt.Sprintf("%s left", p.Nickname), userID)
	return nil
}

// Kick remove participant, host only
func (uc *RoomUseCase) Kick(ctx context.Context, roomID, hostID, targetID string) error {
	if _, err := uc.requireHost(ctx, roomID, hostID, targetID); err != nil {
		return err
	}
	target, err := uc.participant(ctx, roomID, targetID)
	if err != nil {
		return err
	}
	if err := uc.partRepo.Delete(ctx, roomID, targetID); err != nil {
		return err
	}

	uc.notice(ctx, roomID, fmt.Sprintf("%s was removed", target.Nickname), targetID)
	return nil
}

// Ban ban user from room and remove them when joined, host only
func (uc *RoomUseCase) Ban(ctx context.Context, roomID, hostID, targetID string) error {
	room, err := uc.requireHost(ctx, roomID, hostID, targetID)
	if err != nil {
		return err
	}
	if !room.IsBanned(targetID) {
		if err := uc.roomRepo.AddBan(ctx, roomID, targetID); err != nil {
			return err
		}
	}

	target, err := uc.partRepo.Find(ctx, roomID, targetID)
	if err != nil {
		return err
	}
	if target == nil {
		return nil
	}
	if err := uc.partRepo.Delete(ctx, roomID, targetID); err != nil {
		return err
	}

	uc.notice(ctx, roomID, fmt.Sprintf("%s was banned", target.Nickname), targetID)
	return nil
}

// TransferHost hand host to another participant, host only
func (uc *RoomUseCase) TransferHost(ctx context.Context, roomID, hostID, targetID string) error {
	if _, err := uc.requireHost(ctx, roomID, hostID, targetID); err != nil {
		return err
	}
	target, err := uc.participant(ctx, roomID, targetID)
	if err != nil {
		return err
	}
	if err := uc.roomRepo.UpdateHost(ctx, roomID, targetID); err != nil {
		return err
	}

	uc.notice(ctx, roomID, fmt.Sprintf("%s is now the host", target.Nickname))
	return nil
}

// Participants participants ordered by joined_at
func (uc *RoomUseCase) Participants(ctx context.Context, roomID string) ([]domain.ChatroomParticipant, error) {
	return uc.partRepo.ListByRoom(ctx, roomID)
}

// IsParticipant report whether user joined room
func (uc *RoomUseCase) IsParticipant(ctx context.Context, roomID, userID string) (bool, error) {
	p, err := uc.partRepo.Find(ctx, roomID, userID)
	if err != nil {
		return false, err
	}
	return p != nil, nil
}

// JoinedRoomIDs rooms the user is a participant of
func (uc *RoomUseCase) JoinedRoomIDs(ctx context.Context, userID string) ([]string, error) {
	return uc.partRepo.ListRoomIDsByUser(ctx, userID)
}

func (uc *RoomUseCase) participant(ctx context.Context, roomID, userID string) (*domain.ChatroomParticipant, error) {
	p, err := uc.partRepo.Find(ctx, roomID, userID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, domain.ErrNotParticipant
	}
	return p, nil
}

// requireHost room must be open, actor must be host and target someone else
func (uc *RoomUseCase) requireHost(ctx context.Context, roomID, hostID, targetID string) (*domain.Chatroom, error) {
	room, err := uc.Room(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room.Closed {
		return nil, domain.ErrRoomClosed
	}
	if !room.IsHost(hostID) {
		return nil, domain.ErrNotHost
	}
	if targetID == "" || targetID == hostID {
		return nil, domain.ErrInvalidTarget
	}
	return room, nil
}

// notice 系統訊息失敗不影響成員操作
func (uc *RoomUseCase) notice(ctx context.Context, roomID, body string, extra ...string) {
	if _, err := uc.notices.PostSystemMessage(ctx, roomID, body, extra...); err != nil {
		logger.Log.Warn("post system message failed", zap.String("room_id", roomID), zap.Error(err))
	}
}
