package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"chatroom_realtime_service/internal/chat/domain"
	"chatroom_realtime_service/internal/chat/session"
	"chatroom_realtime_service/pkg/logger"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// RedisPubSub definition redis pub/sub, every envelope is {"type":"broadcast","event":...,"payload":...}
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub create RedisPubSub
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

// Publish 包成 broadcast envelope 後發布到指定 channel
func (r *RedisPubSub) Publish(ctx context.Context, channel, event string, payload []byte) error {
	data, err := json.Marshal(domain.Envelope{
		Type:    domain.BroadcastType,
		Event:   event,
		Payload: payload,
	})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, channel, data).Err()
}

// Channel named channel bound to this client
func (r *RedisPubSub) Channel(name string) session.Channel {
	return &redisChannel{
		pubsub:   r,
		name:     name,
		handlers: make(map[string][]func([]byte)),
	}
}

type redisSubscription struct {
	ps     *redis.PubSub
	closed atomic.Bool
}

type redisChannel struct {
	pubsub *RedisPubSub
	name   string

	mu       sync.Mutex
	handlers map[string][]func([]byte)
	sub      *redisSubscription
}

func (c *redisChannel) On(event string, handler func(payload []byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

// Subscribe 等待 redis 回覆 subscribe 確認後才開始讀取
func (c *redisChannel) Subscribe(ctx context.Context, onDrop func(err error)) error {
	ps := c.pubsub.client.Subscribe(ctx, c.name)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return fmt.Errorf("redis subscribe %s: %w", c.name, err)
	}

	s := &redisSubscription{ps: ps}
	c.mu.Lock()
	old := c.sub
	c.sub = s
	c.mu.Unlock()
	if old != nil {
		old.closed.Store(true)
		_ = old.ps.Close()
	}

	go c.read(s, onDrop)
	return nil
}

// read deliver messages in order, a read error ends the subscription and reports a drop
func (c *redisChannel) read(s *redisSubscription, onDrop func(err error)) {
	for {
		msg, err := s.ps.ReceiveMessage(context.Background())
		if err != nil {
			if s.closed.Load() {
				return
			}
			s.closed.Store(true)
			_ = s.ps.Close()
			logger.Log.Warn("redis subscription dropped", zap.String("channel", c.name), zap.Error(err))
			if onDrop != nil {
				onDrop(err)
			}
			return
		}

		var env domain.Envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil || env.Type != domain.BroadcastType {
			logger.Log.Warn("ignore non broadcast message", zap.String("channel", c.name), zap.Error(err))
			continue
		}

		c.mu.Lock()
		hs := append([]func([]byte){}, c.handlers[env.Event]...)
		c.mu.Unlock()
		for _, h := range hs {
			h(env.Payload)
		}
	}
}

func (c *redisChannel) Send(ctx context.Context, event string, payload []byte) error {
	return c.pubsub.Publish(ctx, c.name, event, payload)
}

func (c *redisChannel) Unsubscribe() error {
	c.mu.Lock()
	s := c.sub
	c.sub = nil
	c.mu.Unlock()

	if s == nil || s.closed.Swap(true) {
		return nil
	}
	return s.ps.Close()
}
