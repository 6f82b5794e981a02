package app

import (
	"context"
	"errors"
	"strconv"

	"chatroom_realtime_service/internal/chat/domain"
	"chatroom_realtime_service/internal/chat/session"
)

// BadgeKey durable key of user badge count
func BadgeKey(userID string) string {
	return "chat:badge:" + userID
}

// DeviceBadge badge count of one user kept in KV, every change is mirrored to the device
type DeviceBadge struct {
	kv     session.KVStore
	userID string
	notify func(n int)
}

// NewDeviceBadge create DeviceBadge, notify can be nil
func NewDeviceBadge(kv session.KVStore, userID string, notify func(n int)) *DeviceBadge {
	if notify == nil {
		notify = func(int) {}
	}
	return &DeviceBadge{kv: kv, userID: userID, notify: notify}
}

// BadgeCount missing key means 0
func (b *DeviceBadge) BadgeCount(ctx context.Context) (int, error) {
	v, err := b.kv.Get(ctx, BadgeKey(b.userID))
	if errors.Is(err, domain.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		// 壞掉的值當作 0，下次 reconcile 會覆寫
		return 0, nil
	}
	return n, nil
}

func (b *DeviceBadge) SetBadgeCount(ctx context.Context, n int) error {
	if err := b.kv.Set(ctx, BadgeKey(b.userID), strconv.Itoa(n)); err != nil {
		return err
	}
	b.notify(n)
	return nil
}
