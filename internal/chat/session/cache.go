package session

import (
	"sort"
	"sync"
	"time"

	"chatroom_realtime_service/internal/chat/domain"
)

type roomEntry struct {
	pages []domain.MessagePage

	latest      *domain.Message
	latestFresh bool

	unread      int
	unreadFresh bool

	participantsStale bool
}

// FeedCache room id -> cached feed pages, latest message, unread count
type FeedCache struct {
	mu    sync.RWMutex
	rooms map[string]*roomEntry
}

// NewFeedCache create FeedCache
func NewFeedCache() *FeedCache {
	return &FeedCache{rooms: make(map[string]*roomEntry)}
}

func (c *FeedCache) entryLocked(roomID string) *roomEntry {
	e, ok := c.rooms[roomID]
	if !ok {
		e = &roomEntry{}
		c.rooms[roomID] = e
	}
	return e
}

// Pages return copy of cached pages, false when feed never fetched
func (c *FeedCache) Pages(roomID string) ([]domain.MessagePage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.rooms[roomID]
	if !ok || len(e.pages) == 0 {
		return nil, false
	}
	out := make([]domain.MessagePage, len(e.pages))
	for i, p := range e.pages {
		out[i] = copyPage(p)
	}
	return out, true
}

// Messages return cached messages of all pages in feed order
func (c *FeedCache) Messages(roomID string) []domain.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.rooms[roomID]
	if !ok {
		return nil
	}
	var out []domain.Message
	for _, p := range e.pages {
		out = append(out, p.Messages...)
	}
	return out
}

// PutPages replace cached pages of room
func (c *FeedCache) PutPages(roomID string, pages ...domain.MessagePage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(roomID)
	e.pages = make([]domain.MessagePage, len(pages))
	for i, p := range pages {
		e.pages[i] = copyPage(p)
	}
}

// AppendPage add older page after cached pages, ids already cached are skipped
func (c *FeedCache) AppendPage(roomID string, page domain.MessagePage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(roomID)
	seen := make(map[string]struct{})
	for _, p := range e.pages {
		for _, m := range p.Messages {
			seen[m.ID] = struct{}{}
		}
	}

	p := copyPage(page)
	kept := p.Messages[:0]
	for _, m := range p.Messages {
		if _, dup := seen[m.ID]; !dup {
			kept = append(kept, m)
		}
	}
	p.Messages = kept
	e.pages = append(e.pages, p)
}

// Contains report whether message id is in cached pages
func (c *FeedCache) Contains(roomID, messageID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.rooms[roomID]
	if !ok {
		return false
	}
	for _, p := range e.pages {
		for _, m := range p.Messages {
			if m.ID == messageID {
				return true
			}
		}
	}
	return false
}

// Prepend put message at head of the first page. A cached message with same id is updated in place instead, return true only when inserted
func (c *FeedCache) Prepend(roomID string, msg domain.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.rooms[roomID]
	if !ok || len(e.pages) == 0 {
		return false
	}
	for pi := range e.pages {
		for mi := range e.pages[pi].Messages {
			if e.pages[pi].Messages[mi].ID == msg.ID {
				e.pages[pi].Messages[mi] = msg
				return false
			}
		}
	}

	first := &e.pages[0]
	first.Messages = append([]domain.Message{msg}, first.Messages...)
	// keep descending order when an event arrives late
	sort.SliceStable(first.Messages, func(i, j int) bool {
		return first.Messages[i].CreatedAt.After(first.Messages[j].CreatedAt)
	})
	return true
}

// MarkDeleted tombstone cached message in place, return false when not cached
func (c *FeedCache) MarkDeleted(roomID, messageID string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.rooms[roomID]
	if !ok {
		return false
	}
	found := false
	for pi := range e.pages {
		for mi := range e.pages[pi].Messages {
			if e.pages[pi].Messages[mi].ID == messageID {
				e.pages[pi].Messages[mi].Tombstone(at)
				found = true
			}
		}
	}
	if e.latest != nil && e.latest.ID == messageID {
		e.latest.Tombstone(at)
	}
	return found
}

// Latest return cached latest message and whether it is fresh
func (c *FeedCache) Latest(roomID string) (*domain.Message, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.rooms[roomID]
	if !ok || e.latest == nil {
		return nil, ok && e.latestFresh
	}
	m := *e.latest
	return &m, e.latestFresh
}

// SetLatest set latest message, an older message than the fresh cached one is ignored
func (c *FeedCache) SetLatest(roomID string, msg *domain.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(roomID)
	if msg == nil {
		e.latest = nil
		e.latestFresh = true
		return
	}
	if e.latestFresh && e.latest != nil && e.latest.ID != msg.ID && msg.CreatedAt.Before(e.latest.CreatedAt) {
		return
	}
	m := *msg
	e.latest = &m
	e.latestFresh = true
}

// InvalidateLatest mark latest stale
func (c *FeedCache) InvalidateLatest(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(roomID).latestFresh = false
}

// Unread return cached unread count and whether it is fresh
func (c *FeedCache) Unread(roomID string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.rooms[roomID]
	if !ok {
		return 0, false
	}
	return e.unread, e.unreadFresh
}

// SetUnread cache unread count
func (c *FeedCache) SetUnread(roomID string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(roomID)
	e.unread = n
	e.unreadFresh = true
}

// InvalidateUnread mark unread count stale
func (c *FeedCache) InvalidateUnread(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(roomID).unreadFresh = false
}

// ParticipantsStale report participant list need reload
func (c *FeedCache) ParticipantsStale(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.rooms[roomID]
	return ok && e.participantsStale
}

// InvalidateParticipants mark participant list stale
func (c *FeedCache) InvalidateParticipants(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(roomID).participantsStale = true
}

// MarkParticipantsFresh clear participant stale flag
func (c *FeedCache) MarkParticipantsFresh(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entryLocked(roomID).participantsStale = false
}

// Rooms cached room ids
func (c *FeedCache) Rooms() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	ids := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Drop remove room entry
func (c *FeedCache) Drop(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, roomID)
}

func copyPage(p domain.MessagePage) domain.MessagePage {
	out := domain.MessagePage{HasMore: p.HasMore}
	out.Messages = append([]domain.Message{}, p.Messages...)
	if p.NextCursor != nil {
		cur := *p.NextCursor
		out.NextCursor = &cur
	}
	return out
}
