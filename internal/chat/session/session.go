package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"chatroom_realtime_service/internal/chat/domain"
	"chatroom_realtime_service/pkg/logger"
	"chatroom_realtime_service/pkg/metrics"

	"go.uber.org/zap"
)

// ErrStopped session was stopped, nothing is subscribed again
var ErrStopped = errors.New("session stopped")

// MessageWriter durable write side of messages
type MessageWriter interface {
	Send(ctx context.Context, roomID, senderID, body string) (*domain.Message, error)
	Delete(ctx context.Context, roomID, messageID, actorID string) (*domain.Message, error)
	Edit(ctx context.Context, roomID, messageID, actorID, body string) (*domain.Message, error)
}

// Config session config
type Config struct {
	UserID   string
	DeviceID string
	Scope    Scope
	PageSize int
}

// Dependencies collaborators of a session, Listener can be nil
type Dependencies struct {
	Store     MessageStore
	Writer    MessageWriter
	KV        KVStore
	Transport Transport
	Rooms     RoomSource
	Badge     BadgeAPI
	Listener  Listener
}

// Session realtime sync state of one connected device
type Session struct {
	cfg      Config
	writer   MessageWriter
	listener Listener
	log      *logger.LogInfo

	readState *ReadStateStore
	fetcher   *Fetcher
	cache     *FeedCache
	counter   *UnreadCounter
	bus       *EventBus
	subs      *SubscriptionManager
	badge     *BadgeReconciler

	// ctx cancelled by Stop, background work of the session uses it
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool
}

// New create Session, nothing is subscribed until Start
func New(cfg Config, deps Dependencies) (*Session, error) {
	if cfg.UserID == "" {
		return nil, errors.New("session needs user id")
	}
	if deps.Store == nil || deps.Writer == nil || deps.KV == nil || deps.Transport == nil || deps.Rooms == nil || deps.Badge == nil {
		return nil, errors.New("session dependencies incomplete")
	}
	if cfg.Scope == "" {
		cfg.Scope = ScopeUser
	}

	s := &Session{
		cfg:      cfg,
		writer:   deps.Writer,
		listener: deps.Listener,
		log:      logger.Log.ForSession(cfg.UserID, cfg.DeviceID),
	}
	if s.listener == nil {
		s.listener = func(Update) {}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.readState = NewReadStateStore(deps.KV, cfg.UserID)
	s.fetcher = NewFetcher(deps.Store, cfg.PageSize)
	s.cache = NewFeedCache()
	s.counter = NewUnreadCounter(deps.Store, s.readState, cfg.UserID)
	s.bus = NewEventBus(deps.Transport, s.fetcher, s.cache, s.counter, s.onUpdate)
	s.subs = NewSubscriptionManager(s.bus, deps.Rooms, cfg.UserID, cfg.Scope)
	s.badge = NewBadgeReconciler(deps.Badge, s.counter)
	return s, nil
}

// UserID session owner
func (s *Session) UserID() string {
	return s.cfg.UserID
}

// Start subscribe joined rooms and reconcile badge
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()
	metrics.ActiveSessions.Inc()

	if err := s.subs.Sync(ctx); err != nil {
		return fmt.Errorf("sync subscriptions: %w", err)
	}
	if _, err := s.badge.Reconcile(ctx, s.subs.Rooms()); err != nil {
		s.log.Warn("badge reconcile failed", zap.Error(err))
	}
	return nil
}

// Stop unsubscribe everything, safe to call more than once
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.cancel()

	if err := s.subs.Close(); err != nil {
		s.log.Warn("close subscriptions failed", zap.Error(err))
	}
	s.bus.Close()
	metrics.ActiveSessions.Dec()
}

// Foreground resync joined rooms and set badge to the total unread count
func (s *Session) Foreground(ctx context.Context) (int, error) {
	if s.isStopped() {
		return 0, ErrStopped
	}
	if err := s.subs.Sync(ctx); err != nil {
		return 0, fmt.Errorf("sync subscriptions: %w", err)
	}
	return s.badge.Reconcile(ctx, s.subs.Rooms())
}

// OpenRoom subscribe room channel and load the newest page
func (s *Session) OpenRoom(ctx context.Context, roomID string) (domain.MessagePage, error) {
	if err := s.subs.Enter(ctx, roomID); err != nil {
		// 訂閱失敗仍然回傳資料，之後由 reconnect 補上
		s.log.Warn("enter room subscribe failed", zap.String("chatroom_id", roomID), zap.Error(err))
	}

	page, err := s.fetcher.FetchPage(ctx, roomID, nil)
	if err != nil {
		return domain.MessagePage{}, fmt.Errorf("fetch feed: %w", err)
	}
	s.cache.PutPages(roomID, page)
	if len(page.Messages) > 0 {
		s.cache.SetLatest(roomID, &page.Messages[0])
	} else {
		s.cache.SetLatest(roomID, nil)
	}
	return s.visible(ctx, roomID, page), nil
}

// LoadMore fetch the page older than the cached ones
func (s *Session) LoadMore(ctx context.Context, roomID string) (domain.MessagePage, error) {
	pages, ok := s.cache.Pages(roomID)
	if !ok {
		return s.OpenRoom(ctx, roomID)
	}
	last := pages[len(pages)-1]
	if !last.HasMore || last.NextCursor == nil {
		return domain.MessagePage{Messages: []domain.Message{}}, nil
	}

	page, err := s.fetcher.FetchPage(ctx, roomID, last.NextCursor)
	if err != nil {
		return domain.MessagePage{}, fmt.Errorf("fetch feed: %w", err)
	}
	s.cache.AppendPage(roomID, page)
	return s.visible(ctx, roomID, page), nil
}

// CloseRoom stop viewing room
func (s *Session) CloseRoom(ctx context.Context, roomID string) error {
	return s.subs.Leave(ctx, roomID)
}

// Feed cached messages of room without hidden ones
func (s *Session) Feed(ctx context.Context, roomID string) []domain.Message {
	hidden := s.readState.GetHiddenMessageIDs(ctx, roomID)
	out := []domain.Message{}
	for _, m := range s.cache.Messages(roomID) {
		if _, ok := hidden[m.ID]; !ok {
			out = append(out, m)
		}
	}
	return out
}

// MarkRead move read marker to the latest message and decrement badge by the cleared count
func (s *Session) MarkRead(ctx context.Context, roomID string) (int, error) {
	latest, err := s.latest(ctx, roomID)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		s.cache.SetUnread(roomID, 0)
		return 0, nil
	}

	cleared, err := s.UnreadCount(ctx, roomID)
	if err != nil {
		s.log.Warn("unread count before mark read failed", zap.String("chatroom_id", roomID), zap.Error(err))
		cleared = 0
	}

	s.readState.AdvanceReadMarker(ctx, roomID, latest.ID, latest.CreatedAt)
	s.cache.SetUnread(roomID, 0)

	if err := s.badge.DecrementBadgeCount(ctx, cleared); err != nil {
		s.log.Warn("badge decrement failed", zap.Int("cleared", cleared), zap.Error(err))
	}
	return cleared, nil
}

// UnreadCount cached unread count, recomputed when stale
func (s *Session) UnreadCount(ctx context.Context, roomID string) (int, error) {
	if n, fresh := s.cache.Unread(roomID); fresh {
		return n, nil
	}
	n, err := s.counter.Count(ctx, roomID)
	if err != nil {
		return 0, err
	}
	s.cache.SetUnread(roomID, n)
	return n, nil
}

// ReadMarker read marker of room, nil when never read
func (s *Session) ReadMarker(ctx context.Context, roomID string) *domain.ReadMarker {
	return s.readState.GetReadMarker(ctx, roomID)
}

// SendMessage store message then update the local feed and broadcast
func (s *Session) SendMessage(ctx context.Context, roomID, body string) (*domain.Message, error) {
	msg, err := s.writer.Send(ctx, roomID, s.cfg.UserID, body)
	if err != nil {
		return nil, err
	}

	s.cache.Prepend(roomID, *msg)
	s.cache.SetLatest(roomID, msg)
	// 送出訊息代表已讀到這則
	s.readState.AdvanceReadMarker(ctx, roomID, msg.ID, msg.CreatedAt)
	s.cache.InvalidateUnread(roomID)

	s.bus.BroadcastCreated(ctx, *msg)
	return msg, nil
}

// DeleteMessage tombstone message then update the local feed and broadcast
func (s *Session) DeleteMessage(ctx context.Context, roomID, messageID string) (*domain.Message, error) {
	msg, err := s.writer.Delete(ctx, roomID, messageID, s.cfg.UserID)
	if err != nil {
		return nil, err
	}

	s.cache.MarkDeleted(roomID, messageID, msg.UpdatedAt)
	s.cache.InvalidateLatest(roomID)
	s.cache.InvalidateUnread(roomID)

	s.bus.BroadcastDeleted(ctx, *msg)
	return msg, nil
}

// EditMessage update body, other sessions see it on their next fetch
func (s *Session) EditMessage(ctx context.Context, roomID, messageID, body string) (*domain.Message, error) {
	msg, err := s.writer.Edit(ctx, roomID, messageID, s.cfg.UserID, body)
	if err != nil {
		return nil, err
	}
	s.cache.Prepend(roomID, *msg)
	return msg, nil
}

// HideMessage hide message for this user only
func (s *Session) HideMessage(ctx context.Context, roomID, messageID string) {
	s.readState.AddHiddenMessageID(ctx, roomID, messageID)
}

// ParticipantsStale report participant list of room need reload
func (s *Session) ParticipantsStale(roomID string) bool {
	return s.cache.ParticipantsStale(roomID)
}

// MarkParticipantsFresh participant list of room was reloaded
func (s *Session) MarkParticipantsFresh(roomID string) {
	s.cache.MarkParticipantsFresh(roomID)
}

// RoomsChanged reload joined rooms after join, exit, kick or ban
func (s *Session) RoomsChanged(ctx context.Context) error {
	if s.isStopped() {
		return ErrStopped
	}
	if err := s.subs.Sync(ctx); err != nil {
		return err
	}
	for _, roomID := range s.cache.Rooms() {
		if !s.subs.IsJoined(roomID) {
			s.cache.Drop(roomID)
		}
	}
	return nil
}

// Reconnect refresh every tracked room and resubscribe.
// Channels whose first subscribe failed are subscribed again as well.
func (s *Session) Reconnect(ctx context.Context) error {
	if s.isStopped() {
		return ErrStopped
	}
	err := s.bus.Reconnect(ctx, s.trackedRooms())
	if rerr := s.subs.Reapply(ctx); rerr != nil {
		err = errors.Join(err, fmt.Errorf("reapply subscriptions: %w", rerr))
	}
	return err
}

func (s *Session) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// State channel state
func (s *Session) State(channel string) ChannelState {
	return s.bus.State(channel)
}

// Channels subscribed channel names
func (s *Session) Channels() []string {
	return s.subs.Channels()
}

// Rooms joined room ids
func (s *Session) Rooms() []string {
	return s.subs.Rooms()
}

func (s *Session) trackedRooms() []string {
	set := make(map[string]struct{})
	for _, id := range s.subs.Rooms() {
		set[id] = struct{}{}
	}
	for _, id := range s.cache.Rooms() {
		set[id] = struct{}{}
	}
	rooms := make([]string, 0, len(set))
	for id := range set {
		rooms = append(rooms, id)
	}
	sort.Strings(rooms)
	return rooms
}

func (s *Session) latest(ctx context.Context, roomID string) (*domain.Message, error) {
	if m, fresh := s.cache.Latest(roomID); fresh {
		return m, nil
	}
	m, err := s.fetcher.FetchLatest(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("fetch latest: %w", err)
	}
	s.cache.SetLatest(roomID, m)
	return m, nil
}

func (s *Session) visible(ctx context.Context, roomID string, page domain.MessagePage) domain.MessagePage {
	hidden := s.readState.GetHiddenMessageIDs(ctx, roomID)
	if len(hidden) == 0 {
		return page
	}
	out := page
	out.Messages = make([]domain.Message, 0, len(page.Messages))
	for _, m := range page.Messages {
		if _, ok := hidden[m.ID]; !ok {
			out.Messages = append(out.Messages, m)
		}
	}
	return out
}

func (s *Session) onUpdate(u Update) {
	if u.Kind == UpdateMessageCreated && u.Message != nil {
		if s.subs.IsViewing(u.ChatroomID) {
			// 正在看這個房間，直接視為已讀
			s.readState.AdvanceReadMarker(s.ctx, u.ChatroomID, u.Message.ID, u.Message.CreatedAt)
			zero := 0
			s.cache.SetUnread(u.ChatroomID, zero)
			u.Unread = &zero
		} else if u.Message.IsUnreadFor(s.cfg.UserID) {
			n, err := s.counter.Count(s.ctx, u.ChatroomID)
			if err != nil {
				s.log.Warn("recount unread failed", zap.String("chatroom_id", u.ChatroomID), zap.Error(err))
			} else {
				s.cache.SetUnread(u.ChatroomID, n)
				u.Unread = &n
			}
		}
		if u.Message.Kind == domain.KindSystem {
			// 系統訊息代表成員異動
			go func() {
				if err := s.RoomsChanged(s.ctx); err != nil && !errors.Is(err, ErrStopped) && s.ctx.Err() == nil {
					s.log.Warn("resync rooms after system message failed", zap.Error(err))
				}
			}()
		}
	}
	s.listener(u)
}
