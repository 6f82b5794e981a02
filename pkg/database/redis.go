package database

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient create redis client, use sentinel failover when Addr is empty
func NewRedisClient(ctx context.Context, c RedisConnection) (*redis.Client, error) {
	var rdb *redis.Client
	if c.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     c.Addr,
			Password: c.Password,
			DB:       c.DB,
		})
	} else {
		rdb = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    c.MasterName,    // 哨兵主节点名称
			SentinelAddrs: c.SentinelAddrs, // 哨兵地址列表
			Password:      c.Password,
			DB:            c.DB,
		})
	}

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return rdb, nil
}
