package repository

import (
	"context"
	"errors"

	"chatroom_realtime_service/internal/chat/domain"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	uniqueViolation    = "23505"
	nicknameConstraint = "idx_participant_nickname"
)

// ParticipantRepository definition chatroom participant storage
type ParticipantRepository interface {
	AutoMigrate() error
	// Create add participant, duplicate nickname in room return domain.ErrNicknameTaken
	Create(ctx context.Context, p *domain.ChatroomParticipant) error
	// Find return nil, nil when user not joined room
	Find(ctx context.Context, roomID, userID string) (*domain.ChatroomParticipant, error)
	UpdateNickname(ctx context.Context, roomID, userID, nickname string) error
	Delete(ctx context.Context, roomID, userID string) error
	// ListByRoom participants ordered by joined_at
	ListByRoom(ctx context.Context, roomID string) ([]domain.ChatroomParticipant, error)
	CountByRoom(ctx context.Context, roomID string) (int, error)
	ListRoomIDsByUser(ctx context.Context, userID string) ([]string, error)
}

type participantRepository struct {
	db *gorm.DB
}

// NewParticipantRepository create ParticipantRepository
func NewParticipantRepository(db *gorm.DB) ParticipantRepository {
	return &participantRepository{db: db}
}

// AutoMigrate create chatroom_participants with the (chatroom_id, nickname) unique index
func (r *participantRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&domain.ChatroomParticipant{})
}

func (r *participantRepository) Create(ctx context.Context, p *domain.ChatroomParticipant) error {
	return translate(r.db.WithContext(ctx).Create(p).Error)
}

func (r *participantRepository) Find(ctx context.Context, roomID, userID string) (*domain.ChatroomParticipant, error) {
	var p domain.ChatroomParticipant
	err := r.db.WithContext(ctx).
		Where("chatroom_id = ? AND user_id = ?", roomID, userID).
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *participantRepository) UpdateNickname(ctx context.Context, roomID, userID, nickname string) error {
	res := r.db.WithContext(ctx).
		Model(&domain.ChatroomParticipant{}).
		Where("chatroom_id = ? AND user_id = ?", roomID, userID).
		Update("nickname", nickname)
	if err := translate(res.Error); err != nil {
		return err
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotParticipant
	}
	return nil
}

func (r *participantRepository) Delete(ctx context.Context, roomID, userID string) error {
	return r.db.WithContext(ctx).
		Where("chatroom_id = ? AND user_id = ?", roomID, userID).
		Delete(&domain.ChatroomParticipant{}).Error
}

func (r *participantRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.ChatroomParticipant, error) {
	var list []domain.ChatroomParticipant
	err := r.db.WithContext(ctx).
		Where("chatroom_id = ?", roomID).
		Order("joined_at ASC").
		Find(&list).Error
	return list, err
}

func (r *participantRepository) CountByRoom(ctx context.Context, roomID string) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&domain.ChatroomParticipant{}).
		Where("chatroom_id = ?", roomID).
		Count(&n).Error
	return int(n), err
}

func (r *participantRepository) ListRoomIDsByUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&domain.ChatroomParticipant{}).
		Where("user_id = ?", userID).
		Order("joined_at ASC").
		Pluck("chatroom_id", &ids).Error
	return ids, err
}

// translate 只有暱稱 index 衝突算暱稱重複，主鍵衝突代表已經加入
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	if pgErr.ConstraintName == nicknameConstraint {
		return domain.ErrNicknameTaken
	}
	return domain.ErrAlreadyJoined
}
