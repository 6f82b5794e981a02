package session

import (
	"context"
	"time"

	"chatroom_realtime_service/internal/chat/domain"
)

// MessageStore read side of the message store, messages carry sender nickname resolved at query time
type MessageStore interface {
	// ListMessages return messages descending by created_at, at most q.Limit
	ListMessages(ctx context.Context, q domain.MessageQuery) ([]domain.Message, error)
	// FindMessage return nil, nil when message not exist
	FindMessage(ctx context.Context, messageID string) (*domain.Message, error)
	CountUnread(ctx context.Context, q domain.UnreadQuery) (int, error)
}

// Fetcher cursor paginated feed reader
type Fetcher struct {
	store    MessageStore
	pageSize int
}

// NewFetcher create Fetcher, pageSize <= 0 use domain.PageSize
func NewFetcher(store MessageStore, pageSize int) *Fetcher {
	if pageSize <= 0 {
		pageSize = domain.PageSize
	}
	return &Fetcher{store: store, pageSize: pageSize}
}

// PageSize page size of this fetcher
func (f *Fetcher) PageSize() int {
	return f.pageSize
}

// FetchPage fetch messages older than cursor, nil cursor is the newest page
func (f *Fetcher) FetchPage(ctx context.Context, chatroomID string, cursor *time.Time) (domain.MessagePage, error) {
	msgs, err := f.store.ListMessages(ctx, domain.MessageQuery{
		ChatroomID: chatroomID,
		Before:     cursor,
		Limit:      f.pageSize,
	})
	if err != nil {
		return domain.MessagePage{}, err
	}
	if len(msgs) > f.pageSize {
		msgs = msgs[:f.pageSize]
	}

	page := domain.MessagePage{
		Messages: msgs,
		HasMore:  len(msgs) == f.pageSize,
	}
	if page.Messages == nil {
		page.Messages = []domain.Message{}
	}
	if page.HasMore {
		oldest := msgs[len(msgs)-1].CreatedAt
		page.NextCursor = &oldest
	}
	return page, nil
}

// FetchLatest newest message of room, nil when room has no message
func (f *Fetcher) FetchLatest(ctx context.Context, chatroomID string) (*domain.Message, error) {
	msgs, err := f.store.ListMessages(ctx, domain.MessageQuery{ChatroomID: chatroomID, Limit: 1})
	if err != nil || len(msgs) == 0 {
		return nil, err
	}
	return &msgs[0], nil
}

// FetchOne fetch message by id, nil when not found
func (f *Fetcher) FetchOne(ctx context.Context, messageID string) (*domain.Message, error) {
	return f.store.FindMessage(ctx, messageID)
}
