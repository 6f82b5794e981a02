package repository

import (
	"context"
	"errors"

	"chatroom_realtime_service/internal/chat/domain"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// RoomRepository definition chat room
type RoomRepository interface {
	CreateRoom(ctx context.Context, room *domain.Chatroom) error
	// FindByID return nil, nil when room not exist
	FindByID(ctx context.Context, roomID string) (*domain.Chatroom, error)
	UpdateName(ctx context.Context, roomID, name string) error
	UpdateHost(ctx context.Context, roomID, hostID string) error
	AddBan(ctx context.Context, roomID, userID string) error
	Close(ctx context.Context, roomID string) error
}

type roomRepository struct {
	roomsColl *mongo.Collection
}

// NewMongoRoomRepository create new mongo room repository
func NewMongoRoomRepository(db *mongo.Database) RoomRepository {
	return &roomRepository{
		roomsColl: db.Collection("chatrooms"),
	}
}

// CreateRoom create room
func (r *roomRepository) CreateRoom(ctx context.Context, room *domain.Chatroom) error {
	if room.BannedIDs == nil {
		// $addToSet 不能用在 null 欄位
		room.BannedIDs = []string{}
	}
	_, err := r.roomsColl.InsertOne(ctx, room)
	return err
}

// FindByID find room by id
func (r *roomRepository) FindByID(ctx context.Context, roomID string) (*domain.Chatroom, error) {
	var room domain.Chatroom
	err := r.roomsColl.FindOne(ctx, bson.M{"_id": roomID}).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &room, nil
}

// UpdateName rename room
func (r *roomRepository) UpdateName(ctx context.Context, roomID, name string) error {
	return r.set(ctx, roomID, bson.M{"name": name})
}

// UpdateHost change room host
func (r *roomRepository) UpdateHost(ctx context.Context, roomID, hostID string) error {
	return r.set(ctx, roomID, bson.M{"host_id": hostID})
}

// AddBan add user to banned list
func (r *roomRepository) AddBan(ctx context.Context, roomID, userID string) error {
	res, err := r.roomsColl.UpdateOne(ctx, bson.M{"_id": roomID}, bson.M{"$addToSet": bson.M{"banned_ids": userID}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

// Close close room
func (r *roomRepository) Close(ctx context.Context, roomID string) error {
	return r.set(ctx, roomID, bson.M{"closed": true})
}

func (r *roomRepository) set(ctx context.Context, roomID string, fields bson.M) error {
	res, err := r.roomsColl.UpdateOne(ctx, bson.M{"_id": roomID}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}
