package app

import (
	"context"

	"chatroom_realtime_service/internal/chat/domain"
	notifydomain "chatroom_realtime_service/internal/notification/domain"

	"github.com/stretchr/testify/mock"
)

// MockRoomRepository Mock RoomRepository
type MockRoomRepository struct {
	mock.Mock
}

// CreateRoom mock create room
func (m *MockRoomRepository) CreateRoom(ctx context.Context, room *domain.Chatroom) error {
	args := m.Called(ctx, room)
	return args.Error(0)
}

// FindByID mock find room by room id
func (m *MockRoomRepository) FindByID(ctx context.Context, roomID string) (*domain.Chatroom, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Chatroom), args.Error(1)
	}
	return nil, args.Error(1)
}

// UpdateName mock rename room
func (m *MockRoomRepository) UpdateName(ctx context.Context, roomID, name string) error {
	args := m.Called(ctx, roomID, name)
	return args.Error(0)
}

// UpdateHost mock change host
func (m *MockRoomRepository) UpdateHost(ctx context.Context, roomID, hostID string) error {
	args := m.Called(ctx, roomID, hostID)
	return args.Error(0)
}

// AddBan mock ban
func (m *MockRoomRepository) AddBan(ctx context.Context, roomID, userID string) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

// Close mock close room
func (m *MockRoomRepository) Close(ctx context.Context, roomID string) error {
	args := m.Called(ctx, roomID)
	return args.Error(0)
}

// MockParticipantRepository Mock ParticipantRepository
type MockParticipantRepository struct {
	mock.Mock
}

// AutoMigrate mock migrate
func (m *MockParticipantRepository) AutoMigrate() error {
	args := m.Called()
	return args.Error(0)
}

// Create mock create participant
func (m *MockParticipantRepository) Create(ctx context.Context, p *domain.ChatroomParticipant) error {
	args := m.Called(ctx, p)
	return args.Error(0)
}

// Find mock find participant
func (m *MockParticipantRepository) Find(ctx context.Context, roomID, userID string) (*domain.ChatroomParticipant, error) {
	args := m.Called(ctx, roomID, userID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.ChatroomParticipant), args.Error(1)
	}
	return nil, args.Error(1)
}

// UpdateNickname mock rename
func (m *MockParticipantRepository) UpdateNickname(ctx context.Context, roomID, userID, nickname string) error {
	args := m.Called(ctx, roomID, userID, nickname)
	return args.Error(0)
}

// Delete mock delete participant
func (m *MockParticipantRepository) Delete(ctx context.Context, roomID, userID string) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

// ListByRoom mock list participants
func (m *MockParticipantRepository) ListByRoom(ctx context.Context, roomID string) ([]domain.ChatroomParticipant, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.ChatroomParticipant), args.Error(1)
	}
	return nil, args.Error(1)
}

// CountByRoom mock count participants
func (m *MockParticipantRepository) CountByRoom(ctx context.Context, roomID string) (int, error) {
	args := m.Called(ctx, roomID)
	return args.Int(0), args.Error(1)
}

// ListRoomIDsByUser mock joined rooms
func (m *MockParticipantRepository) ListRoomIDsByUser(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) != nil {
		return args.Get(0).([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockMessageRepository Mock MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// Migrate mock migrate
func (m *MockMessageRepository) Migrate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// Insert mock insert, created_at assigned like the database does
func (m *MockMessageRepository) Insert(ctx context.Context, msg *domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

// ListMessages mock list messages
func (m *MockMessageRepository) ListMessages(ctx context.Context, q domain.MessageQuery) ([]domain.Message, error) {
	args := m.Called(ctx, q)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// FindMessage mock find message
func (m *MockMessageRepository) FindMessage(ctx context.Context, messageID string) (*domain.Message, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// CountUnread mock count unread
func (m *MockMessageRepository) CountUnread(ctx context.Context, q domain.UnreadQuery) (int, error) {
	args := m.Called(ctx, q)
	return args.Int(0), args.Error(1)
}

// MarkDeleted mock tombstone
func (m *MockMessageRepository) MarkDeleted(ctx context.Context, messageID string) (*domain.Message, error) {
	args := m.Called(ctx, messageID)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// UpdateBody mock edit
func (m *MockMessageRepository) UpdateBody(ctx context.Context, messageID, body string) (*domain.Message, error) {
	args := m.Called(ctx, messageID, body)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockEventPublisher Mock MessageEventPublisher
type MockEventPublisher struct {
	mock.Mock
}

// PublishCreated mock kafka publish
func (m *MockEventPublisher) PublishCreated(ctx context.Context, rec domain.MessageCreatedRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

// Close mock close
func (m *MockEventPublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}

// MockBroadcaster Mock Broadcaster
type MockBroadcaster struct {
	mock.Mock
}

// Publish mock publish
func (m *MockBroadcaster) Publish(ctx context.Context, channel, event string, payload []byte) error {
	args := m.Called(ctx, channel, event, payload)
	return args.Error(0)
}

// MockSystemMessagePoster Mock SystemMessagePoster
type MockSystemMessagePoster struct {
	mock.Mock
}

// PostSystemMessage mock system message
func (m *MockSystemMessagePoster) PostSystemMessage(ctx context.Context, roomID, body string, extra ...string) (*domain.Message, error) {
	args := m.Called(ctx, roomID, body, extra)
	if args.Get(0) != nil {
		return args.Get(0).(*domain.Message), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockDeviceRegistrar Mock DeviceRegistrar
type MockDeviceRegistrar struct {
	mock.Mock
}

// Upsert mock register device
func (m *MockDeviceRegistrar) Upsert(ctx context.Context, d *notifydomain.Device) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}
