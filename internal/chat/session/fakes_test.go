package session

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"chatroom_realtime_service/internal/chat/domain"

	"github.com/google/uuid"
)

var errBoom = errors.New("boom")

// memStore in memory message table ordered by created_at then insert order
type memStore struct {
	mu        sync.Mutex
	clock     time.Time
	seq       int64
	rows      []storedMessage
	nicknames map[string]map[string]string
	failList  bool
	failCount bool
}

type storedMessage struct {
	seq int64
	msg domain.Message
}

func newMemStore() *memStore {
	return &memStore{
		clock:     time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		nicknames: make(map[string]map[string]string),
	}
}

func (s *memStore) setNickname(roomID, userID, nickname string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.nicknames[roomID] == nil {
		s.nicknames[roomID] = make(map[string]string)
	}
	s.nicknames[roomID][userID] = nickname
}

func (s *memStore) insert(roomID, senderID, body string, kind domain.MessageKind) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock = s.clock.Add(time.Second)
	s.seq++
	m := domain.Message{
		ID:         uuid.NewString(),
		ChatroomID: roomID,
		SenderID:   senderID,
		Body:       body,
		Kind:       kind,
		CreatedAt:  s.clock,
		UpdatedAt:  s.clock,
	}
	s.rows = append(s.rows, storedMessage{seq: s.seq, msg: m})
	return s.annotate(m)
}

func (s *memStore) tombstone(messageID string) (*domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.rows {
		if s.rows[i].msg.ID == messageID {
			s.clock = s.clock.Add(time.Millisecond)
			s.rows[i].msg.Tombstone(s.clock)
			m := s.annotate(s.rows[i].msg)
			return &m, true
		}
	}
	return nil, false
}

func (s *memStore) annotate(m domain.Message) domain.Message {
	m.Nickname = s.nicknames[m.ChatroomID][m.SenderID]
	return m
}

func (s *memStore) sorted(roomID string) []storedMessage {
	var out []storedMessage
	for _, r := range s.rows {
		if r.msg.ChatroomID == roomID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].msg.CreatedAt.Equal(out[j].msg.CreatedAt) {
			return out[i].msg.CreatedAt.After(out[j].msg.CreatedAt)
		}
		return out[i].seq > out[j].seq
	})
	return out
}

func (s *memStore) ListMessages(_ context.Context, q domain.MessageQuery) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failList {
		return nil, errBoom
	}
	var out []domain.Message
	for _, r := range s.sorted(q.ChatroomID) {
		if q.Before != nil && !r.msg.CreatedAt.Before(*q.Before) {
			continue
		}
		out = append(out, s.annotate(r.msg))
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (s *memStore) FindMessage(_ context.Context, messageID string) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.rows {
		if r.msg.ID == messageID {
			m := s.annotate(r.msg)
			return &m, nil
		}
	}
	return nil, nil
}

func (s *memStore) CountUnread(_ context.Context, q domain.UnreadQuery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCount {
		return 0, errBoom
	}
	n := 0
	for _, r := range s.rows {
		m := r.msg
		if m.ChatroomID != q.ChatroomID || !m.IsUnreadFor(q.ExcludeSenderID) {
			continue
		}
		if q.After != nil && !m.CreatedAt.After(*q.After) {
			continue
		}
		n++
	}
	return n, nil
}

// memWriter write side backed by memStore
type memWriter struct {
	store *memStore
}

func (w *memWriter) Send(_ context.Context, roomID, senderID, body string) (*domain.Message, error) {
	if body == "" {
		return nil, domain.ErrEmptyMessage
	}
	m := w.store.insert(roomID, senderID, body, domain.KindUser)
	return &m, nil
}

func (w *memWriter) Delete(_ context.Context, _, messageID, _ string) (*domain.Message, error) {
	m, ok := w.store.tombstone(messageID)
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	return m, nil
}

func (w *memWriter) Edit(_ context.Context, _, messageID, _, body string) (*domain.Message, error) {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	for i := range w.store.rows {
		if w.store.rows[i].msg.ID == messageID {
			w.store.rows[i].msg.Body = body
			w.store.rows[i].msg.IsEdited = true
			m := w.store.annotate(w.store.rows[i].msg)
			return &m, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

// memKV KVStore with failure switches
type memKV struct {
	mu      sync.Mutex
	data    map[string]string
	failGet bool
	failSet bool
	sets    int
}

func newMemKV() *memKV {
	return &memKV{data: make(map[string]string)}
}

func (kv *memKV) Get(_ context.Context, key string) (string, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.failGet {
		return "", errBoom
	}
	v, ok := kv.data[key]
	if !ok {
		return "", domain.ErrKeyNotFound
	}
	return v, nil
}

func (kv *memKV) Set(_ context.Context, key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.failSet {
		return errBoom
	}
	kv.sets++
	kv.data[key] = value
	return nil
}

func (kv *memKV) Remove(_ context.Context, key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	delete(kv.data, key)
	return nil
}

func (kv *memKV) setFail(get, set bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.failGet = get
	kv.failSet = set
}

// hub in memory pub/sub shared by transports, Send delivers synchronously
type hub struct {
	mu   sync.Mutex
	subs map[string][]*memChannel
}

func newHub() *hub {
	return &hub{subs: make(map[string][]*memChannel)}
}

func (h *hub) transport() *memTransport {
	return &memTransport{hub: h, channels: make(map[string]*memChannel)}
}

// publish deliver event to every subscribed channel with name
func (h *hub) publish(name, event string, payload []byte) {
	h.mu.Lock()
	targets := append([]*memChannel{}, h.subs[name]...)
	h.mu.Unlock()

	for _, c := range targets {
		c.deliver(event, payload)
	}
}

func (h *hub) publishEvent(t domain.EventType, m domain.Message, channel string) {
	payload, _ := json.Marshal(domain.NewEvent(t, m))
	h.publish(channel, string(t), payload)
}

func (h *hub) add(c *memChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[c.name] = append(h.subs[c.name], c)
}

func (h *hub) remove(c *memChannel) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.subs[c.name]
	for i, x := range list {
		if x == c {
			h.subs[c.name] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

type memTransport struct {
	hub *hub

	mu       sync.Mutex
	channels map[string]*memChannel
}

func (t *memTransport) Channel(name string) Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c, ok := t.channels[name]; ok {
		return c
	}
	c := &memChannel{hub: t.hub, name: name, handlers: make(map[string][]func([]byte))}
	t.channels[name] = c
	return c
}

func (t *memTransport) channel(name string) *memChannel {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.channels[name]
}

type memChannel struct {
	hub  *hub
	name string

	mu           sync.Mutex
	handlers     map[string][]func([]byte)
	subscribed   bool
	onDrop       func(error)
	subErr       error
	subscribes   int
	unsubscribes int
	sent         []string
}

func (c *memChannel) On(event string, handler func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

func (c *memChannel) Subscribe(_ context.Context, onDrop func(error)) error {
	c.mu.Lock()
	c.subscribes++
	if c.subErr != nil {
		err := c.subErr
		c.mu.Unlock()
		return err
	}
	c.subscribed = true
	c.onDrop = onDrop
	c.mu.Unlock()

	c.hub.add(c)
	return nil
}

func (c *memChannel) Send(_ context.Context, event string, payload []byte) error {
	c.mu.Lock()
	c.sent = append(c.sent, event)
	c.mu.Unlock()

	c.hub.publish(c.name, event, payload)
	return nil
}

func (c *memChannel) Unsubscribe() error {
	c.mu.Lock()
	c.unsubscribes++
	was := c.subscribed
	c.subscribed = false
	c.mu.Unlock()

	if was {
		c.hub.remove(c)
	}
	return nil
}

// drop simulate transport disconnect
func (c *memChannel) drop(err error) {
	c.mu.Lock()
	cb := c.onDrop
	c.subscribed = false
	c.mu.Unlock()

	c.hub.remove(c)
	if cb != nil {
		cb(err)
	}
}

func (c *memChannel) setSubscribeErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subErr = err
}

func (c *memChannel) deliver(event string, payload []byte) {
	c.mu.Lock()
	hs := append([]func([]byte){}, c.handlers[event]...)
	c.mu.Unlock()

	for _, h := range hs {
		h(payload)
	}
}

func (c *memChannel) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribes, c.unsubscribes
}

// memRooms joined room source
type memRooms struct {
	mu     sync.Mutex
	joined map[string][]string
	err    error
}

func newMemRooms() *memRooms {
	return &memRooms{joined: make(map[string][]string)}
}

func (r *memRooms) set(userID string, rooms ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joined[userID] = rooms
}

func (r *memRooms) JoinedRoomIDs(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	return append([]string{}, r.joined[userID]...), nil
}

// memBadge badge value
type memBadge struct {
	mu     sync.Mutex
	count  int
	setErr error
	sets   int
}

func (b *memBadge) BadgeCount(context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count, nil
}

func (b *memBadge) SetBadgeCount(_ context.Context, n int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.setErr != nil {
		return b.setErr
	}
	b.sets++
	b.count = n
	return nil
}

func (b *memBadge) value() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// recorder collect listener updates
type recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *recorder) listen(u Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) kinds() []UpdateKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]UpdateKind, 0, len(r.updates))
	for _, u := range r.updates {
		out = append(out, u.Kind)
	}
	return out
}

func (r *recorder) last(kind UpdateKind) (Update, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.updates) - 1; i >= 0; i-- {
		if r.updates[i].Kind == kind {
			return r.updates[i], true
		}
	}
	return Update{}, false
}

// harness one user session wired to shared store and hub
type harness struct {
	userID    string
	session   *Session
	transport *memTransport
	kv        *memKV
	badge     *memBadge
	rec       *recorder
}

func newHarness(store *memStore, h *hub, rooms *memRooms, userID string, scope Scope) *harness {
	hs := &harness{
		userID:    userID,
		transport: h.transport(),
		kv:        newMemKV(),
		badge:     &memBadge{},
		rec:       &recorder{},
	}
	s, err := New(Config{UserID: userID, Scope: scope}, Dependencies{
		Store:     store,
		Writer:    &memWriter{store: store},
		KV:        hs.kv,
		Transport: hs.transport,
		Rooms:     rooms,
		Badge:     hs.badge,
		Listener:  hs.rec.listen,
	})
	if err != nil {
		panic(err)
	}
	hs.session = s
	return hs
}

func ids(msgs []domain.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.ID)
	}
	return out
}

func mustEvent(t domain.EventType, m domain.Message) []byte {
	payload, err := json.Marshal(domain.NewEvent(t, m))
	if err != nil {
		panic(err)
	}
	return payload
}
