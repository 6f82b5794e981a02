package session

import (
	"context"
	"errors"
	"sort"
	"sync"

	"chatroom_realtime_service/internal/chat/domain"
)

// Scope decide which channels carry the joined rooms events
type Scope string

const (
	// ScopeUser one chat:user:<id> channel for all joined rooms
	ScopeUser Scope = "user"
	// ScopeRoom one chat:room:<id> channel per joined room
	ScopeRoom Scope = "room"
)

// ParseScope parse config value, unknown value use ScopeUser
func ParseScope(s string) Scope {
	if Scope(s) == ScopeRoom {
		return ScopeRoom
	}
	return ScopeUser
}

// RoomSource list rooms the user joined
type RoomSource interface {
	JoinedRoomIDs(ctx context.Context, userID string) ([]string, error)
}

// SubscriptionManager keep exactly one subscription per relevant channel
type SubscriptionManager struct {
	bus    *EventBus
	source RoomSource
	userID string
	scope  Scope

	// opMu serialize diff application
	opMu sync.Mutex

	mu       sync.Mutex
	joined   map[string]struct{}
	viewing  map[string]struct{}
	channels map[string]struct{}
	// started set by the first successful room load, closed by Close
	started bool
	closed  bool
}

// NewSubscriptionManager create SubscriptionManager
func NewSubscriptionManager(bus *EventBus, source RoomSource, userID string, scope Scope) *SubscriptionManager {
	return &SubscriptionManager{
		bus:      bus,
		source:   source,
		userID:   userID,
		scope:    scope,
		joined:   make(map[string]struct{}),
		viewing:  make(map[string]struct{}),
		channels: make(map[string]struct{}),
	}
}

// Sync reload joined rooms and subscribe/unsubscribe the difference
func (m *SubscriptionManager) Sync(ctx context.Context) error {
	ids, err := m.source.JoinedRoomIDs(ctx, m.userID)
	if err != nil {
		return err
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStopped
	}
	m.started = true
	m.joined = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		m.joined[id] = struct{}{}
	}
	for id := range m.viewing {
		if _, ok := m.joined[id]; !ok {
			delete(m.viewing, id)
		}
	}
	m.mu.Unlock()

	return m.applyLocked(ctx)
}

// Enter add room channel while the room is viewed
func (m *SubscriptionManager) Enter(ctx context.Context, roomID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrStopped
	}
	m.viewing[roomID] = struct{}{}
	m.mu.Unlock()
	return m.applyLocked(ctx)
}

// Leave remove viewed room
func (m *SubscriptionManager) Leave(ctx context.Context, roomID string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	delete(m.viewing, roomID)
	m.mu.Unlock()
	return m.applyLocked(ctx)
}

// Reapply subscribe desired channels missing from the managed set, e.g. after a failed first subscribe
func (m *SubscriptionManager) Reapply(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrStopped
	}
	return m.applyLocked(ctx)
}

// Close unsubscribe every managed channel, later Sync and Enter return ErrStopped
func (m *SubscriptionManager) Close() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	m.closed = true
	m.joined = make(map[string]struct{})
	m.viewing = make(map[string]struct{})
	m.mu.Unlock()
	return m.applyLocked(context.Background())
}

// Rooms joined room ids
func (m *SubscriptionManager) Rooms() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.joined)
}

// IsJoined check room in joined set
func (m *SubscriptionManager) IsJoined(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.joined[roomID]
	return ok
}

// IsViewing check room is opened on screen
func (m *SubscriptionManager) IsViewing(roomID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.viewing[roomID]
	return ok
}

// Channels managed channel names
func (m *SubscriptionManager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedKeys(m.channels)
}

func (m *SubscriptionManager) desiredLocked() map[string]struct{} {
	want := make(map[string]struct{})
	if m.closed {
		return want
	}
	switch m.scope {
	case ScopeRoom:
		for id := range m.joined {
			want[domain.RoomChannel(id)] = struct{}{}
		}
	default:
		// 沒有房間也要訂閱，之後加入的房間才收得到
		if m.started || len(m.viewing) > 0 {
			want[domain.UserChannel(m.userID)] = struct{}{}
		}
	}
	for id := range m.viewing {
		want[domain.RoomChannel(id)] = struct{}{}
	}
	return want
}

func (m *SubscriptionManager) applyLocked(ctx context.Context) error {
	m.mu.Lock()
	want := m.desiredLocked()
	var add, remove []string
	for name := range want {
		if _, ok := m.channels[name]; !ok {
			add = append(add, name)
		}
	}
	for name := range m.channels {
		if _, ok := want[name]; !ok {
			remove = append(remove, name)
		}
	}
	m.mu.Unlock()
	sort.Strings(add)
	sort.Strings(remove)

	var errs []error
	for _, name := range remove {
		if err := m.bus.Unsubscribe(name); err != nil {
			errs = append(errs, err)
		}
		m.mu.Lock()
		delete(m.channels, name)
		m.mu.Unlock()
	}
	for _, name := range add {
		if err := m.bus.Subscribe(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		m.mu.Lock()
		m.channels[name] = struct{}{}
		m.mu.Unlock()
	}
	return errors.Join(errs...)
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
