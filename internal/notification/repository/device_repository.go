package repository

import (
	"context"

	"chatroom_realtime_service/internal/notification/domain"
	errprocess "chatroom_realtime_service/pkg/err"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// DeviceRepository definition push device registry
type DeviceRepository interface {
	// Upsert register token, a token moved to another user is reassigned
	Upsert(ctx context.Context, d *domain.Device) error
	// ListEnabledByUsers devices of users with notifications enabled
	ListEnabledByUsers(ctx context.Context, userIDs []string) ([]domain.Device, error)
}

type deviceRepository struct {
	coll *mongo.Collection
}

// NewMongoDeviceRepository create device repository on push_devices collection
func NewMongoDeviceRepository(db *mongo.Database) DeviceRepository {
	return &deviceRepository{coll: db.Collection("push_devices")}
}

func (r *deviceRepository) Upsert(ctx context.Context, d *domain.Device) error {
	if d.Token == "" {
		return domain.ErrInvalidDevice
	}
	_, err := r.coll.ReplaceOne(ctx, bson.M{"_id": d.Token}, d, options.Replace().SetUpsert(true))
	return errprocess.Wrap("upsert push device", err)
}

func (r *deviceRepository) ListEnabledByUsers(ctx context.Context, userIDs []string) ([]domain.Device, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	cur, err := r.coll.Find(ctx, bson.M{
		"user_id":               bson.M{"$in": userIDs},
		"notifications_enabled": true,
	})
	if err != nil {
		return nil, errprocess.Wrap("find push devices", err)
	}
	defer cur.Close(ctx)

	var devices []domain.Device
	if err := cur.All(ctx, &devices); err != nil {
		return nil, errprocess.Wrap("decode push devices", err)
	}
	return devices, nil
}
