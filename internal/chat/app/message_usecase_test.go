package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"chatroom_realtime_service/internal/chat/domain"
	"chatroom_realtime_service/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetNewNop()
}

type messageFixture struct {
	msgRepo  *MockMessageRepository
	partRepo *MockParticipantRepository
	roomRepo *MockRoomRepository
	events   *MockEventPublisher
	pub      *MockBroadcaster
	uc       *MessageUseCase
}

func newMessageFixture() *messageFixture {
	f := &messageFixture{
		msgRepo:  new(MockMessageRepository),
		partRepo: new(MockParticipantRepository),
		roomRepo: new(MockRoomRepository),
		events:   new(MockEventPublisher),
		pub:      new(MockBroadcaster),
	}
	f.uc = NewMessageUseCase(f.msgRepo, f.partRepo, f.roomRepo, f.events, f.pub)
	return f
}

func (f *messageFixture) assertAll(t *testing.T) {
	mock.AssertExpectationsForObjects(t, f.msgRepo, f.partRepo, f.roomRepo, f.events, f.pub)
}

func participants(roomID string, ids ...string) []domain.ChatroomParticipant {
	out := make([]domain.ChatroomParticipant, 0, len(ids))
	for i, id := range ids {
		out = append(out, domain.ChatroomParticipant{
			ChatroomID: roomID,
			UserID:     id,
			Nickname:   "nick-" + id,
			JoinedAt:   time.Unix(int64(i), 0),
		})
	}
	return out
}

func eventPayload(t *testing.T, ev domain.Event) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func TestMessageUseCase_SendFansOutToOthers(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	room := &domain.Chatroom{ID: "r1", Name: "lobby", HostID: "a", Capacity: 10}
	created := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)

	f.roomRepo.On("FindByID", ctx, "r1").Return(room, nil)
	f.partRepo.On("Find", ctx, "r1", "a").Return(&participants("r1", "a")[0], nil)
	f.msgRepo.On("Insert", ctx, mock.AnythingOfType("*domain.Message")).Run(func(args mock.Arguments) {
		args.Get(1).(*domain.Message).CreatedAt = created
	}).Return(nil)
	f.events.On("PublishCreated", ctx, mock.MatchedBy(func(rec domain.MessageCreatedRecord) bool {
		return rec.RoomName == "lobby" && rec.Message.Nickname == "nick-a" && rec.Message.Body == "hello"
	})).Return(nil)
	f.partRepo.On("ListByRoom", ctx, "r1").Return(participants("r1", "a", "b", "c"), nil)
	f.pub.On("Publish", ctx, domain.UserChannel("b"), string(domain.EventMessageCreated), mock.Anything).Return(nil)
	f.pub.On("Publish", ctx, domain.UserChannel("c"), string(domain.EventMessageCreated), mock.Anything).Return(nil)

	msg, err := f.uc.Send(ctx, "r1", "a", "hello")
	require.NoError(t, err)
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, domain.KindUser, msg.Kind)
	assert.Equal(t, created, msg.CreatedAt)
	assert.Equal(t, "nick-a", msg.Nickname)

	f.pub.AssertCalled(t, "Publish", ctx, domain.UserChannel("b"), string(domain.EventMessageCreated),
		eventPayload(t, domain.Event{Type: domain.EventMessageCreated, ChatroomID: "r1", MessageID: msg.ID}))
	f.pub.AssertNotCalled(t, "Publish", ctx, domain.UserChannel("a"), mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestMessageUseCase_SendValidation(t *testing.T) {
	ctx := context.Background()

	f := newMessageFixture()
	_, err := f.uc.Send(ctx, "r1", "a", "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)

	f.roomRepo.On("FindByID", ctx, "missing").Return(nil, nil)
	_, err = f.uc.Send(ctx, "missing", "a", "hi")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	f.roomRepo.On("FindByID", ctx, "closed").Return(&domain.Chatroom{ID: "closed", Closed: true}, nil)
	_, err = f.uc.Send(ctx, "closed", "a", "hi")
	assert.ErrorIs(t, err, domain.ErrRoomClosed)

	f.roomRepo.On("FindByID", ctx, "r1").Return(&domain.Chatroom{ID: "r1"}, nil)
	f.partRepo.On("Find", ctx, "r1", "stranger").Return(nil, nil)
	_, err = f.uc.Send(ctx, "r1", "stranger", "hi")
	assert.ErrorIs(t, err, domain.ErrNotParticipant)

	f.msgRepo.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything)
}

func TestMessageUseCase_SendSurvivesPublishFailures(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()

	f.roomRepo.On("FindByID", ctx, "r1").Return(&domain.Chatroom{ID: "r1"}, nil)
	f.partRepo.On("Find", ctx, "r1", "a").Return(&participants("r1", "a")[0], nil)
	f.msgRepo.On("Insert", ctx, mock.Anything).Return(nil)
	f.events.On("PublishCreated", ctx, mock.Anything).Return(errors.New("kafka down"))
	f.partRepo.On("ListByRoom", ctx, "r1").Return(participants("r1", "a", "b"), nil)
	f.pub.On("Publish", ctx, domain.UserChannel("b"), mock.Anything, mock.Anything).Return(errors.New("redis down"))

	msg, err := f.uc.Send(ctx, "r1", "a", "still stored")
	require.NoError(t, err)
	assert.Equal(t, "still stored", msg.Body)
	f.assertAll(t)
}

func TestMessageUseCase_PostSystemMessage(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()

	f.msgRepo.On("Insert", ctx, mock.MatchedBy(func(m *domain.Message) bool {
		return m.Kind == domain.KindSystem && m.SenderID == domain.SystemSenderID
	})).Return(nil)
	f.partRepo.On("ListByRoom", ctx, "r1").Return(participants("r1", "a", "b"), nil)
	for _, ch := range []string{domain.UserChannel("a"), domain.UserChannel("b"), domain.UserChannel("kicked"), domain.RoomChannel("r1")} {
		f.pub.On("Publish", ctx, ch, string(domain.EventMessageCreated), mock.Anything).Return(nil).Once()
	}

	msg, err := f.uc.PostSystemMessage(ctx, "r1", "kicked was removed", "kicked", "a")
	require.NoError(t, err)
	assert.Equal(t, domain.KindSystem, msg.Kind)
	f.pub.AssertNumberOfCalls(t, "Publish", 4)
	f.assertAll(t)
}

func TestMessageUseCase_Delete(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	room := &domain.Chatroom{ID: "r1", HostID: "host"}
	original := &domain.Message{ID: "m1", ChatroomID: "r1", SenderID: "a", Body: "oops", Kind: domain.KindUser}
	tomb := *original
	tomb.Tombstone(time.Now())

	f.msgRepo.On("FindMessage", ctx, "m1").Return(original, nil)
	f.roomRepo.On("FindByID", ctx, "r1").Return(room, nil)

	_, err := f.uc.Delete(ctx, "r1", "m1", "b")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.uc.Delete(ctx, "other-room", "m1", "a")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)

	f.msgRepo.On("MarkDeleted", ctx, "m1").Return(&tomb, nil)
	f.partRepo.On("ListByRoom", ctx, "r1").Return(participants("r1", "a", "b", "host"), nil)
	f.pub.On("Publish", ctx, domain.UserChannel("a"), string(domain.EventMessageDeleted), mock.Anything).Return(nil)
	f.pub.On("Publish", ctx, domain.UserChannel("b"), string(domain.EventMessageDeleted), mock.Anything).Return(nil)

	// host 可以刪別人的訊息
	deleted, err := f.uc.Delete(ctx, "r1", "m1", "host")
	require.NoError(t, err)
	assert.True(t, deleted.IsDeleted)
	assert.Equal(t, domain.DeletedBody, deleted.Body)
	f.pub.AssertNotCalled(t, "Publish", ctx, domain.UserChannel("host"), mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestMessageUseCase_DeleteTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	tomb := &domain.Message{ID: "m1", ChatroomID: "r1", SenderID: "a", Kind: domain.KindUser}
	tomb.Tombstone(time.Now())
	f.msgRepo.On("FindMessage", ctx, "m1").Return(tomb, nil)

	got, err := f.uc.Delete(ctx, "r1", "m1", "a")
	require.NoError(t, err)
	assert.True(t, got.IsDeleted)
	f.msgRepo.AssertNotCalled(t, "MarkDeleted", mock.Anything, mock.Anything)
	f.pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestMessageUseCase_Edit(t *testing.T) {
	ctx := context.Background()
	f := newMessageFixture()
	own := &domain.Message{ID: "m1", ChatroomID: "r1", SenderID: "a", Body: "teh", Kind: domain.KindUser}
	gone := &domain.Message{ID: "m2", ChatroomID: "r1", SenderID: "a", Kind: domain.KindUser}
	gone.Tombstone(time.Now())

	f.msgRepo.On("FindMessage", ctx, "m1").Return(own, nil)
	f.msgRepo.On("FindMessage", ctx, "m2").Return(gone, nil)
	f.msgRepo.On("FindMessage", ctx, "missing").Return(nil, nil)

	_, err := f.uc.Edit(ctx, "r1", "m1", "b", "the")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.uc.Edit(ctx, "r1", "m2", "a", "the")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	_, err = f.uc.Edit(ctx, "r1", "missing", "a", "the")
	assert.ErrorIs(t, err, domain.ErrMessageNotFound)
	_, err = f.uc.Edit(ctx, "r1", "m1", "a", "")
	assert.ErrorIs(t, err, domain.ErrEmptyMessage)

	edited := *own
	edited.Body = "the"
	edited.IsEdited = true
	f.msgRepo.On("UpdateBody", ctx, "m1", "the").Return(&edited, nil)

	got, err := f.uc.Edit(ctx, "r1", "m1", "a", "the")
	require.NoError(t, err)
	assert.True(t, got.IsEdited)
	f.pub.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
