package app

import (
	"context"

	chatdomain "chatroom_realtime_service/internal/chat/domain"
	"chatroom_realtime_service/internal/notification/domain"

	"github.com/segmentio/kafka-go"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/mock"
)

// MockMessageReader Mock MessageReader
type MockMessageReader struct {
	mock.Mock
}

// FetchMessage mock fetch message
func (m *MockMessageReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	args := m.Called(ctx)
	return args.Get(0).(kafka.Message), args.Error(1)
}

// CommitMessages mock commit
func (m *MockMessageReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

// MockParticipantLister Mock ParticipantLister
type MockParticipantLister struct {
	mock.Mock
}

// ListByRoom mock list participants
func (m *MockParticipantLister) ListByRoom(ctx context.Context, roomID string) ([]chatdomain.ChatroomParticipant, error) {
	args := m.Called(ctx, roomID)
	if args.Get(0) != nil {
		return args.Get(0).([]chatdomain.ChatroomParticipant), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockDeviceRepository Mock DeviceRepository
type MockDeviceRepository struct {
	mock.Mock
}

// Upsert mock upsert
func (m *MockDeviceRepository) Upsert(ctx context.Context, d *domain.Device) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

// ListEnabledByUsers mock list devices
func (m *MockDeviceRepository) ListEnabledByUsers(ctx context.Context, userIDs []string) ([]domain.Device, error) {
	args := m.Called(ctx, userIDs)
	if args.Get(0) != nil {
		return args.Get(0).([]domain.Device), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockPushQueue Mock PushQueue
type MockPushQueue struct {
	mock.Mock
}

// Publish mock publish
func (m *MockPushQueue) Publish(ctx context.Context, batch domain.PushBatch) error {
	args := m.Called(ctx, batch)
	return args.Error(0)
}

// Consume mock consume
func (m *MockPushQueue) Consume(consumer string) (<-chan amqp.Delivery, error) {
	args := m.Called(consumer)
	if args.Get(0) != nil {
		return args.Get(0).(<-chan amqp.Delivery), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockPushProvider Mock PushProvider
type MockPushProvider struct {
	mock.Mock
}

// Send mock send
func (m *MockPushProvider) Send(ctx context.Context, msgs []domain.PushMessage) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

// MockAcknowledger Mock amqp.Acknowledger
type MockAcknowledger struct {
	mock.Mock
}

// Ack mock ack
func (m *MockAcknowledger) Ack(tag uint64, multiple bool) error {
	args := m.Called(tag, multiple)
	return args.Error(0)
}

// Nack mock nack
func (m *MockAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	args := m.Called(tag, multiple, requeue)
	return args.Error(0)
}

// Reject mock reject
func (m *MockAcknowledger) Reject(tag uint64, requeue bool) error {
	args := m.Called(tag, requeue)
	return args.Error(0)
}
