package database

import (
	"time"

	"go.mongodb.org/mongo-driver/mongo"
)

// Connection definition connect string with retry setting
type Connection struct {
	ConnectStr string

	RetryCount    int
	RetryInterval time.Duration
}

// MongoDB definition mongo db
type MongoDB struct {
	Client   *mongo.Client
	Database *mongo.Database
}

// RedisConnection definition redis, Addr set means single node otherwise sentinel
type RedisConnection struct {
	Addr          string
	MasterName    string
	SentinelAddrs []string
	Password      string
	DB            int
}

// KafkaConnection definition kafka
type KafkaConnection struct {
	Brokers       []string
	Topic         string
	GroupID       string
	RetryCount    int
	RetryInterval time.Duration
}

func retryWait(interval time.Duration) {
	if interval < time.Millisecond {
		interval *= time.Second
	}
	time.Sleep(interval)
}
