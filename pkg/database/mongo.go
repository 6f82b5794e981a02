package database

import (
	"context"
	"errors"

	"chatroom_realtime_service/pkg/logger"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// NewMongoDB create a new MongoDB connection
func NewMongoDB(ctx context.Context, c Connection, dbName string) (*MongoDB, error) {
	clientOpts := options.Client().ApplyURI(c.ConnectStr)

	var err error
	for i := 0; i <= c.RetryCount; i++ {
		var client *mongo.Client
		client, err = mongo.Connect(ctx, clientOpts)
		if err == nil {
			if err = client.Ping(ctx, readpref.Primary()); err == nil {
				return &MongoDB{
					Client:   client,
					Database: client.Database(dbName),
				}, nil
			}
			_ = client.Disconnect(ctx)
		}

		logger.Log.Warn("Failed to connect to mongoDB, retrying...", zap.Int("attempt", i+1), zap.Error(err))
		if i < c.RetryCount {
			retryWait(c.RetryInterval)
		}
	}

	return nil, errors.New("failed to connect to MongoDB after retries: " + err.Error())
}

// Close disconnect mongoDB
func (m *MongoDB) Close(ctx context.Context) error {
	return m.Client.Disconnect(ctx)
}
