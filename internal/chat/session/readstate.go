package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"chatroom_realtime_service/internal/chat/domain"
	"chatroom_realtime_service/pkg/logger"
	"chatroom_realtime_service/pkg/metrics"

	"go.uber.org/zap"
)

// KVStore durable string key/value storage, Get return domain.ErrKeyNotFound for absent key
type KVStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// ReadStateStore per user read marker and hidden message ids, storage failures fall back to memory
type ReadStateStore struct {
	kv     KVStore
	userID string

	mu       sync.Mutex
	markers  map[string]*domain.ReadMarker
	hidden   map[string]map[string]struct{}
	// rooms whose hidden set lives only in memory because the durable read failed
	unsynced map[string]bool
}

// NewReadStateStore create ReadStateStore
func NewReadStateStore(kv KVStore, userID string) *ReadStateStore {
	return &ReadStateStore{
		kv:       kv,
		userID:   userID,
		markers:  make(map[string]*domain.ReadMarker),
		hidden:   make(map[string]map[string]struct{}),
		unsynced: make(map[string]bool),
	}
}

func (s *ReadStateStore) markerKey(chatroomID string) string {
	return fmt.Sprintf("chat:read_state:%s:%s:marker", s.userID, chatroomID)
}

func (s *ReadStateStore) hiddenKey(chatroomID string) string {
	return fmt.Sprintf("chat:read_state:%s:%s:hidden", s.userID, chatroomID)
}

// GetReadMarker return marker copy, nil when user never read the room
func (s *ReadStateStore) GetReadMarker(ctx context.Context, chatroomID string) *domain.ReadMarker {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.loadMarkerLocked(ctx, chatroomID)
	if !ok || m == nil {
		return nil
	}
	cp := *m
	return &cp
}

// SetReadMarker upsert marker, last write wins
func (s *ReadStateStore) SetReadMarker(ctx context.Context, chatroomID, messageID string, readAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setMarkerLocked(ctx, chatroomID, messageID, readAt)
}

// AdvanceReadMarker upsert marker only when readAt is newer than the stored one
func (s *ReadStateStore) AdvanceReadMarker(ctx context.Context, chatroomID, messageID string, readAt time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, _ := s.loadMarkerLocked(ctx, chatroomID); cur != nil && !readAt.After(cur.LastReadAt) {
		return false
	}
	s.setMarkerLocked(ctx, chatroomID, messageID, readAt)
	return true
}

// GetHiddenMessageIDs return copy of hidden ids of room
func (s *ReadStateStore) GetHiddenMessageIDs(ctx context.Context, chatroomID string) map[string]struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.loadHiddenLocked(ctx, chatroomID)
	out := make(map[string]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out
}

// AddHiddenMessageID add id to hidden set, duplicate add is no-op
func (s *ReadStateStore) AddHiddenMessageID(ctx context.Context, chatroomID, messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := s.loadHiddenLocked(ctx, chatroomID)
	if _, ok := set[messageID]; ok {
		return
	}
	set[messageID] = struct{}{}

	if s.unsynced[chatroomID] {
		// durable set unknown, written back after the next successful read
		return
	}
	s.writeHiddenLocked(ctx, chatroomID, set)
}

func (s *ReadStateStore) writeHiddenLocked(ctx context.Context, chatroomID string, set map[string]struct{}) {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	data, _ := json.Marshal(ids)
	if err := s.kv.Set(ctx, s.hiddenKey(chatroomID), string(data)); err != nil {
		s.storageFailed("add_hidden", chatroomID, err)
	}
}

// loadMarkerLocked return cached marker or read it from kv. ok false means kv read failed and nothing cached
func (s *ReadStateStore) loadMarkerLocked(ctx context.Context, chatroomID string) (*domain.ReadMarker, bool) {
	if m, ok := s.markers[chatroomID]; ok {
		return m, true
	}

	raw, err := s.kv.Get(ctx, s.markerKey(chatroomID))
	switch {
	case errors.Is(err, domain.ErrKeyNotFound):
		s.markers[chatroomID] = nil
		return nil, true
	case err != nil:
		// 讀取失敗不快取，下次再試
		s.storageFailed("get_marker", chatroomID, err)
		return nil, false
	}

	var m domain.ReadMarker
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		s.storageFailed("decode_marker", chatroomID, err)
		s.markers[chatroomID] = nil
		return nil, true
	}
	s.markers[chatroomID] = &m
	return &m, true
}

func (s *ReadStateStore) setMarkerLocked(ctx context.Context, chatroomID, messageID string, readAt time.Time) {
	m := &domain.ReadMarker{ChatroomID: chatroomID, LastReadMessageID: messageID, LastReadAt: readAt}
	s.markers[chatroomID] = m

	data, _ := json.Marshal(m)
	if err := s.kv.Set(ctx, s.markerKey(chatroomID), string(data)); err != nil {
		s.storageFailed("set_marker", chatroomID, err)
	}
}

func (s *ReadStateStore) loadHiddenLocked(ctx context.Context, chatroomID string) map[string]struct{} {
	set, ok := s.hidden[chatroomID]
	if ok && !s.unsynced[chatroomID] {
		return set
	}
	if set == nil {
		set = make(map[string]struct{})
	}

	raw, err := s.kv.Get(ctx, s.hiddenKey(chatroomID))
	switch {
	case errors.Is(err, domain.ErrKeyNotFound):
	case err != nil:
		s.storageFailed("get_hidden", chatroomID, err)
		s.hidden[chatroomID] = set
		s.unsynced[chatroomID] = true
		return set
	default:
		var ids []string
		if err := json.Unmarshal([]byte(raw), &ids); err != nil {
			s.storageFailed("decode_hidden", chatroomID, err)
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	}
	s.hidden[chatroomID] = set
	if s.unsynced[chatroomID] {
		delete(s.unsynced, chatroomID)
		s.writeHiddenLocked(ctx, chatroomID, set)
	}
	return set
}

func (s *ReadStateStore) storageFailed(op, chatroomID string, err error) {
	metrics.StorageFailures.WithLabelValues(op).Inc()
	logger.Log.Warn("read state storage failed, using memory",
		zap.String("op", op),
		zap.String("user_id", s.userID),
		zap.String("chatroom_id", chatroomID),
		zap.Error(err),
	)
}
