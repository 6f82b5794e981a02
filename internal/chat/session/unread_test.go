package session

import (
	"context"
	"testing"

	"chatroom_realtime_service/internal/chat/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnreadCounter_Count(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	rs := NewReadStateStore(newMemKV(), "u1")
	counter := NewUnreadCounter(store, rs, "u1")

	n, err := counter.Count(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	store.insert("r1", "u2", "a", domain.KindUser)
	store.insert("r1", "u1", "mine", domain.KindUser)
	store.insert("r1", domain.SystemSenderID, "u3 joined", domain.KindSystem)
	deleted := store.insert("r1", "u2", "gone", domain.KindUser)
	store.tombstone(deleted.ID)
	last := store.insert("r1", "u3", "b", domain.KindUser)
	store.insert("r2", "u2", "elsewhere", domain.KindUser)

	// 沒有 read marker 時全部都算未讀
	n, err = counter.Count(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rs.SetReadMarker(ctx, "r1", last.ID, last.CreatedAt)
	n, err = counter.Count(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	store.insert("r1", "u2", "c", domain.KindUser)
	store.insert("r1", "u1", "mine again", domain.KindUser)
	n, err = counter.Count(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnreadCounter_StoreError(t *testing.T) {
	store := newMemStore()
	store.failCount = true
	counter := NewUnreadCounter(store, NewReadStateStore(newMemKV(), "u1"), "u1")

	_, err := counter.Count(context.Background(), "r1")
	assert.ErrorIs(t, err, errBoom)
}
