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

// Transport realtime collaborator, hand out named channels
type Transport interface {
	Channel(name string) Channel
}

// Channel named broadcast channel.
// Handlers registered by On are called one at a time in delivery order.
type Channel interface {
	On(event string, handler func(payload []byte))
	// Subscribe block until the subscription is acknowledged, onDrop is called once if the transport drops afterwards
	Subscribe(ctx context.Context, onDrop func(err error)) error
	Send(ctx context.Context, event string, payload []byte) error
	Unsubscribe() error
}

// ChannelState state of one logical channel
type ChannelState int

const (
	// StateUnsubscribed no subscription
	StateUnsubscribed ChannelState = iota
	// StateSubscribing waiting subscription ack
	StateSubscribing
	// StateActive receiving events
	StateActive
	// StateReconnecting transport dropped or reconnect in progress
	StateReconnecting
)

func (s ChannelState) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	}
	return fmt.Sprintf("ChannelState(%d)", int(s))
}

// UpdateKind kind of Update
type UpdateKind string

const (
	// UpdateMessageCreated message added to cache
	UpdateMessageCreated UpdateKind = "message_created"
	// UpdateMessageDeleted message tombstoned in cache
	UpdateMessageDeleted UpdateKind = "message_deleted"
	// UpdateChannelDropped transport dropped a channel
	UpdateChannelDropped UpdateKind = "channel_dropped"
	// UpdateResynced reconnect finished
	UpdateResynced UpdateKind = "resynced"
)

// Update change applied to the session, sent to Listener
type Update struct {
	Kind       UpdateKind
	Channel    string
	ChatroomID string
	MessageID  string
	Message    *domain.Message
	// Unread recomputed unread count of ChatroomID, nil when not recomputed
	Unread *int
	Err    error
}

// Listener receive updates, called from channel goroutines
type Listener func(Update)

type busChannel struct {
	name  string
	ch    Channel
	state ChannelState
	// gen increase on every subscribe, a drop from an older subscription is ignored
	gen int
}

// EventBus keep channel state machines and apply events to FeedCache
type EventBus struct {
	transport Transport
	fetcher   *Fetcher
	cache     *FeedCache
	counter   *UnreadCounter
	listener  Listener
	log       *logger.LogInfo

	mu       sync.Mutex
	channels map[string]*busChannel
	closed   bool
}

// NewEventBus create EventBus, counter and listener can be nil
func NewEventBus(transport Transport, fetcher *Fetcher, cache *FeedCache, counter *UnreadCounter, listener Listener) *EventBus {
	if listener == nil {
		listener = func(Update) {}
	}
	return &EventBus{
		transport: transport,
		fetcher:   fetcher,
		cache:     cache,
		counter:   counter,
		listener:  listener,
		log:       logger.Log,
		channels:  make(map[string]*busChannel),
	}
}

// State state of channel
func (b *EventBus) State(name string) ChannelState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if bc, ok := b.channels[name]; ok {
		return bc.state
	}
	return StateUnsubscribed
}

// Channels names of channels not Unsubscribed
func (b *EventBus) Channels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.channels))
	for name, bc := range b.channels {
		if bc.state != StateUnsubscribed {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Subscribe subscribe channel, no-op when Active or Subscribing
func (b *EventBus) Subscribe(ctx context.Context, name string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrStopped
	}
	bc, ok := b.channels[name]
	if ok && (bc.state == StateActive || bc.state == StateSubscribing) {
		b.mu.Unlock()
		return nil
	}
	if !ok {
		bc = &busChannel{name: name, ch: b.transport.Channel(name)}
		bc.ch.On(string(domain.EventMessageCreated), func(p []byte) { b.dispatch(name, domain.EventMessageCreated, p) })
		bc.ch.On(string(domain.EventMessageDeleted), func(p []byte) { b.dispatch(name, domain.EventMessageDeleted, p) })
		b.channels[name] = bc
	}
	prev := bc.state
	bc.state = StateSubscribing
	b.mu.Unlock()

	return b.subscribe(ctx, bc, prev, StateSubscribing)
}

// subscribe run the transport handshake for bc, expect is the state set by caller before the handshake
func (b *EventBus) subscribe(ctx context.Context, bc *busChannel, failState, expect ChannelState) error {
	b.mu.Lock()
	bc.gen++
	gen := bc.gen
	b.mu.Unlock()

	err := bc.ch.Subscribe(ctx, func(err error) { b.dropped(bc, gen, err) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		if bc.state == expect {
			bc.state = failState
		}
		return fmt.Errorf("subscribe %s: %w", bc.name, err)
	}
	if bc.state != expect {
		// unsubscribed while waiting ack
		if uerr := bc.ch.Unsubscribe(); uerr != nil {
			b.log.Warn("unsubscribe after late ack failed", zap.String("channel", bc.name), zap.Error(uerr))
		}
		return nil
	}
	bc.state = StateActive
	b.log.Debug("channel active", zap.String("channel", bc.name))
	return nil
}

// Unsubscribe unsubscribe channel, no-op when Unsubscribed
func (b *EventBus) Unsubscribe(name string) error {
	b.mu.Lock()
	bc, ok := b.channels[name]
	if !ok || bc.state == StateUnsubscribed {
		b.mu.Unlock()
		return nil
	}
	wasSubscribing := bc.state == StateSubscribing
	bc.state = StateUnsubscribed
	bc.gen++
	b.mu.Unlock()

	if wasSubscribing {
		// subscribe() unsubscribes when the ack arrives
		return nil
	}
	if err := bc.ch.Unsubscribe(); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", name, err)
	}
	return nil
}

// Close unsubscribe every channel, Subscribe and Reconnect fail with ErrStopped afterwards
func (b *EventBus) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()

	for _, name := range b.Channels() {
		if err := b.Unsubscribe(name); err != nil {
			b.log.Warn("close channel failed", zap.String("channel", name), zap.Error(err))
		}
	}
}

func (b *EventBus) dropped(bc *busChannel, gen int, err error) {
	b.mu.Lock()
	if bc.gen != gen || bc.state != StateActive {
		b.mu.Unlock()
		return
	}
	bc.state = StateReconnecting
	b.mu.Unlock()

	b.log.Warn("channel dropped", zap.String("channel", bc.name), zap.Error(err))
	b.listener(Update{Kind: UpdateChannelDropped, Channel: bc.name, Err: err})
}

// Reconnect unsubscribe tracked channels, refresh rooms from store, then resubscribe.
// Channels stay Reconnecting when refresh or their resubscribe fails.
func (b *EventBus) Reconnect(ctx context.Context, rooms []string) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrStopped
	}
	var tracked []*busChannel
	for _, bc := range b.channels {
		if bc.state != StateUnsubscribed {
			tracked = append(tracked, bc)
		}
	}
	sort.Slice(tracked, func(i, j int) bool { return tracked[i].name < tracked[j].name })
	for _, bc := range tracked {
		bc.state = StateReconnecting
		bc.gen++
	}
	b.mu.Unlock()

	for _, bc := range tracked {
		if err := bc.ch.Unsubscribe(); err != nil {
			b.log.Warn("unsubscribe before reconnect failed", zap.String("channel", bc.name), zap.Error(err))
		}
	}

	if err := b.refresh(ctx, rooms); err != nil {
		metrics.Reconnects.WithLabelValues("refresh_failed").Inc()
		b.listener(Update{Kind: UpdateResynced, Err: err})
		return fmt.Errorf("refresh before resubscribe: %w", err)
	}

	var errs []error
	for _, bc := range tracked {
		if err := b.subscribe(ctx, bc, StateReconnecting, StateReconnecting); err != nil {
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)
	if err != nil {
		metrics.Reconnects.WithLabelValues("subscribe_failed").Inc()
	} else {
		metrics.Reconnects.WithLabelValues("ok").Inc()
	}
	b.listener(Update{Kind: UpdateResynced, Err: err})
	return err
}

// refresh reload first page, latest message and unread count of every room
func (b *EventBus) refresh(ctx context.Context, rooms []string) error {
	for _, roomID := range rooms {
		page, err := b.fetcher.FetchPage(ctx, roomID, nil)
		if err != nil {
			return fmt.Errorf("fetch %s: %w", roomID, err)
		}
		b.cache.PutPages(roomID, page)
		b.cache.InvalidateLatest(roomID)
		if len(page.Messages) > 0 {
			b.cache.SetLatest(roomID, &page.Messages[0])
		} else {
			b.cache.SetLatest(roomID, nil)
		}

		b.cache.InvalidateUnread(roomID)
		if b.counter != nil {
			n, err := b.counter.Count(ctx, roomID)
			if err != nil {
				return fmt.Errorf("count unread %s: %w", roomID, err)
			}
			b.cache.SetUnread(roomID, n)
		}
		b.cache.InvalidateParticipants(roomID)
	}
	return nil
}

// BroadcastCreated notify room channel that msg was stored, dropped when the channel is not Active
func (b *EventBus) BroadcastCreated(ctx context.Context, msg domain.Message) {
	b.broadcast(ctx, domain.NewEvent(domain.EventMessageCreated, msg))
}

// BroadcastDeleted notify room channel that msg was tombstoned, dropped when the channel is not Active
func (b *EventBus) BroadcastDeleted(ctx context.Context, msg domain.Message) {
	b.broadcast(ctx, domain.NewEvent(domain.EventMessageDeleted, msg))
}

func (b *EventBus) broadcast(ctx context.Context, ev domain.Event) {
	name := domain.RoomChannel(ev.ChatroomID)

	b.mu.Lock()
	bc, ok := b.channels[name]
	active := ok && bc.state == StateActive
	b.mu.Unlock()

	if !active {
		metrics.Broadcasts.WithLabelValues(string(ev.Type), "dropped").Inc()
		b.log.Debug("broadcast dropped, channel not active", zap.String("channel", name), zap.String("event", string(ev.Type)))
		return
	}

	payload, _ := json.Marshal(ev)
	if err := bc.ch.Send(ctx, string(ev.Type), payload); err != nil {
		metrics.Broadcasts.WithLabelValues(string(ev.Type), "failed").Inc()
		b.log.Warn("broadcast failed", zap.String("channel", name), zap.String("event", string(ev.Type)), zap.Error(err))
		return
	}
	metrics.Broadcasts.WithLabelValues(string(ev.Type), "sent").Inc()
}

func (b *EventBus) dispatch(name string, t domain.EventType, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			metrics.EventsRejected.WithLabelValues(string(t), "panic").Inc()
			b.log.Error("event handler panic", zap.String("channel", name), zap.Any("panic", r))
		}
	}()

	if b.State(name) != StateActive {
		metrics.EventsRejected.WithLabelValues(string(t), "inactive").Inc()
		return
	}

	var ev domain.Event
	if err := json.Unmarshal(payload, &ev); err != nil || !ev.Valid() || ev.Type != t {
		metrics.EventsRejected.WithLabelValues(string(t), "malformed").Inc()
		b.log.Warn("malformed event", zap.String("channel", name), zap.ByteString("payload", payload), zap.Error(err))
		return
	}

	switch t {
	case domain.EventMessageCreated:
		b.applyCreated(name, ev)
	case domain.EventMessageDeleted:
		b.applyDeleted(name, ev)
	}
}

func (b *EventBus) applyCreated(name string, ev domain.Event) {
	msg, err := b.fetcher.FetchOne(context.Background(), ev.MessageID)
	if err != nil {
		metrics.EventsRejected.WithLabelValues(string(ev.Type), "fetch_error").Inc()
		b.log.Warn("fetch created message failed", zap.String("channel", name), zap.String("message_id", ev.MessageID), zap.Error(err))
		return
	}
	if msg == nil || msg.ChatroomID != ev.ChatroomID {
		metrics.EventsRejected.WithLabelValues(string(ev.Type), "not_found").Inc()
		return
	}

	if b.cache.Contains(ev.ChatroomID, msg.ID) {
		// 自己送出的訊息或從另一個 channel 收過，只更新內容
		b.cache.Prepend(ev.ChatroomID, *msg)
		metrics.EventsRejected.WithLabelValues(string(ev.Type), "duplicate").Inc()
		return
	}

	b.cache.Prepend(ev.ChatroomID, *msg)
	b.cache.SetLatest(ev.ChatroomID, msg)
	b.cache.InvalidateUnread(ev.ChatroomID)
	if msg.Kind == domain.KindSystem {
		b.cache.InvalidateParticipants(ev.ChatroomID)
	}

	metrics.EventsApplied.WithLabelValues(string(ev.Type)).Inc()
	b.listener(Update{Kind: UpdateMessageCreated, Channel: name, ChatroomID: ev.ChatroomID, MessageID: ev.MessageID, Message: msg})
}

func (b *EventBus) applyDeleted(name string, ev domain.Event) {
	b.cache.MarkDeleted(ev.ChatroomID, ev.MessageID, time.Now())
	b.cache.InvalidateLatest(ev.ChatroomID)
	b.cache.InvalidateUnread(ev.ChatroomID)

	metrics.EventsApplied.WithLabelValues(string(ev.Type)).Inc()
	b.listener(Update{Kind: UpdateMessageDeleted, Channel: name, ChatroomID: ev.ChatroomID, MessageID: ev.MessageID})
}
