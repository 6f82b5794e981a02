package session

import (
	"context"

	"chatroom_realtime_service/internal/chat/domain"
)

// UnreadCounter count messages newer than read marker, query every time instead of keeping a counter
type UnreadCounter struct {
	store     MessageStore
	readState *ReadStateStore
	userID    string
}

// NewUnreadCounter create UnreadCounter
func NewUnreadCounter(store MessageStore, readState *ReadStateStore, userID string) *UnreadCounter {
	return &UnreadCounter{store: store, readState: readState, userID: userID}
}

// Count unread user messages of others in room
func (u *UnreadCounter) Count(ctx context.Context, chatroomID string) (int, error) {
	q := domain.UnreadQuery{ChatroomID: chatroomID, ExcludeSenderID: u.userID}
	if marker := u.readState.GetReadMarker(ctx, chatroomID); marker != nil {
		after := marker.LastReadAt
		q.After = &after
	}
	return u.store.CountUnread(ctx, q)
}
