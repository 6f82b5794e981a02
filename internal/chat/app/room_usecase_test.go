package app

import (
	"context"
	"testing"
	"time"

	"chatroom_realtime_service/internal/chat/domain"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type roomFixture struct {
	roomRepo *MockRoomRepository
	partRepo *MockParticipantRepository
	notices  *MockSystemMessagePoster
	uc       *RoomUseCase
}

func newRoomFixture() *roomFixture {
	f := &roomFixture{
		roomRepo: new(MockRoomRepository),
		partRepo: new(MockParticipantRepository),
		notices:  new(MockSystemMessagePoster),
	}
	f.uc = NewRoomUseCase(f.roomRepo, f.partRepo, f.notices)
	f.uc.now = func() time.Time { return time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC) }
	return f
}

func (f *roomFixture) expectNotice(roomID string) {
	f.notices.On("PostSystemMessage", mock.Anything, roomID, mock.Anything, mock.Anything).Return(&domain.Message{}, nil)
}

func TestRoomUseCase_Create(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture()
	nick := gofakeit.FirstName()

	f.roomRepo.On("CreateRoom", ctx, mock.MatchedBy(func(r *domain.Chatroom) bool {
		return r.Name == "lobby" && r.HostID == "host" && r.Capacity == domain.DefaultCapacity
	})).Return(nil)
	f.partRepo.On("Create", ctx, mock.MatchedBy(func(p *domain.ChatroomParticipant) bool {
		return p.UserID == "host" && p.Nickname == nick
	})).Return(nil)
	f.notices.On("PostSystemMessage", ctx, mock.Anything, nick+" created the room", []string(nil)).Return(&domain.Message{}, nil)

	room, err := f.uc.Create(ctx, "host", "  lobby ", 0, " "+nick+" ")
	require.NoError(t, err)
	assert.NotEmpty(t, room.ID)
	assert.Equal(t, []string{}, room.BannedIDs)
	mock.AssertExpectationsForObjects(t, f.roomRepo, f.partRepo, f.notices)

	_, err = f.uc.Create(ctx, "host", " ", 0, nick)
	assert.ErrorIs(t, err, domain.ErrInvalidRoomName)
	_, err = f.uc.Create(ctx, "host", "lobby", 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidNickname)
}

func TestRoomUseCase_JoinRules(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture()

	f.roomRepo.On("FindByID", ctx, "missing").Return(nil, nil)
	f.roomRepo.On("FindByID", ctx, "closed").Return(&domain.Chatroom{ID: "closed", Closed: true, Capacity: 5}, nil)
	f.roomRepo.On("FindByID", ctx, "banned").Return(&domain.Chatroom{ID: "banned", Capacity: 5, BannedIDs: []string{"u1"}}, nil)
	f.roomRepo.On("FindByID", ctx, "full").Return(&domain.Chatroom{ID: "full", Capacity: 2}, nil)
	f.partRepo.On("Find", ctx, "full", "u1").Return(nil, nil)
	f.partRepo.On("CountByRoom", ctx, "full").Return(2, nil)

	_, err := f.uc.Join(ctx, "missing", "u1", "alex")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
	_, err = f.uc.Join(ctx, "closed", "u1", "alex")
	assert.ErrorIs(t, err, domain.ErrRoomClosed)
	_, err = f.uc.Join(ctx, "banned", "u1", "alex")
	assert.ErrorIs(t, err, domain.ErrBanned)
	_, err = f.uc.Join(ctx, "full", "u1", "alex")
	assert.ErrorIs(t, err, domain.ErrRoomFull)
	_, err = f.uc.Join(ctx, "full", "u1", "this-nickname-is-way-too-long-for-a-room")
	assert.ErrorIs(t, err, domain.ErrInvalidNickname)

	f.partRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.notices.AssertNotCalled(t, "PostSystemMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRoomUseCase_JoinConflictAndRejoin(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture()
	room := &domain.Chatroom{ID: "r1", Capacity: 10}
	existing := &domain.ChatroomParticipant{ChatroomID: "r1", UserID: "u2", Nickname: "bea"}

	f.roomRepo.On("FindByID", ctx, "r1").Return(room, nil)
	f.partRepo.On("Find", ctx, "r1", "u1").Return(nil, nil)
	f.partRepo.On("Find", ctx, "r1", "u2").Return(existing, nil)
	f.partRepo.On("CountByRoom", ctx, "r1").Return(1, nil)
	f.partRepo.On("Create", ctx, mock.Anything).Return(domain.ErrNicknameTaken)

	_, err := f.uc.Join(ctx, "r1", "u1", "bea")
	assert.ErrorIs(t, err, domain.ErrNicknameTaken)
	assert.True(t, domain.IsConflict(err))

	// 已經是成員就直接回傳
	p, err := f.uc.Join(ctx, "r1", "u2", "other")
	require.NoError(t, err)
	assert.Equal(t, existing, p)
	f.partRepo.AssertNumberOfCalls(t, "Create", 1)
	f.notices.AssertNotCalled(t, "PostSystemMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRoomUseCase_ConcurrentJoinReturnsStoredParticipant(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture()
	room := &domain.Chatroom{ID: "r1", Capacity: 10}
	stored := &domain.ChatroomParticipant{ChatroomID: "r1", UserID: "u1", Nickname: "bea"}

	f.roomRepo.On("FindByID", ctx, "r1").Return(room, nil)
	f.partRepo.On("Find", ctx, "r1", "u1").Return(nil, nil).Once()
	f.partRepo.On("Find", ctx, "r1", "u1").Return(stored, nil).Once()
	f.partRepo.On("CountByRoom", ctx, "r1").Return(1, nil)
	f.partRepo.On("Create", ctx, mock.Anything).Return(domain.ErrAlreadyJoined)

	p, err := f.uc.Join(ctx, "r1", "u1", "bea")
	require.NoError(t, err)
	assert.Equal(t, stored, p)
	f.notices.AssertNotCalled(t, "PostSystemMessage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRoomUseCase_JoinPostsNotice(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture()

	f.roomRepo.On("FindByID", ctx, "r1").Return(&domain.Chatroom{ID: "r1", Capacity: 10}, nil)
	f.partRepo.On("Find", ctx, "r1", "u1").Return(nil, nil)
	f.partRepo.On("CountByRoom", ctx, "r1").Return(3, nil)
	f.partRepo.On("Create", ctx, mock.Anything).Return(nil)
	f.notices.On("PostSystemMessage", ctx, "r1", "alex joined", []string(nil)).Return(&domain.Message{}, nil)

	p, err := f.uc.Join(ctx, "r1", "u1", "alex")
	require.NoError(t, err)
	assert.Equal(t, "alex", p.Nickname)
	assert.Equal(t, f.uc.now().UTC(), p.JoinedAt)
	f.notices.AssertExpectations(t)
}

func TestRoomUseCase_Rename(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture()
	f.partRepo.On("Find", ctx, "r1", "u1").Return(&domain.ChatroomParticipant{ChatroomID: "r1", UserID: "u1", Nickname: "alex"}, nil)
	f.partRepo.On("Find", ctx, "r1", "ghost").Return(nil, nil)
	f.partRepo.On("UpdateNickname", ctx, "r1", "u1", "taken").Return(domain.ErrNicknameTaken)
	f.partRepo.On("UpdateNickname", ctx, "r1", "u1", "alexis").Return(nil)
	f.notices.On("PostSystemMessage", ctx, "r1", "alex is now alexis", []string(nil)).Return(&domain.Message{}, nil)

	assert.ErrorIs(t, f.uc.Rename(ctx, "r1", "u1", "taken"), domain.ErrNicknameTaken)
	assert.ErrorIs(t, f.uc.Rename(ctx, "r1", "ghost", "boo"), domain.ErrNotParticipant)
	assert.NoError(t, f.uc.Rename(ctx, "r1", "u1", "alex"))
	assert.NoError(t, f.uc.Rename(ctx, "r1", "u1", "alexis"))
	f.partRepo.AssertNumberOfCalls(t, "UpdateNickname", 2)
	f.notices.AssertExpectations(t)
}

func TestRoomUseCase_HostExitPassesHost(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture()
	f.roomRepo.On("FindByID", ctx, "r1").Return(&domain.Chatroom{ID: "r1", HostID: "host"}, nil)
	f.partRepo.On("Find", ctx, "r1", "host").Return(&domain.ChatroomParticipant{UserID: "host", Nickname: "hana"}, nil)
	f.partRepo.On("Delete", ctx, "r1", "host").Return(nil)
	f.partRepo.On("ListByRoom", ctx, "r1").Return(participants("r1", "early", "late"), nil)
	f.roomRepo.On("UpdateHost", ctx, "r1", "early").Return(nil)
	f.notices.On("PostSystemMessage", ctx, "r1", "hana left, nick-early is now the host", []string{"host"}).Return(&domain.Message{}, nil)

	require.NoError(t, f.uc.Exit(ctx, "r1", "host"))
	mock.AssertExpectationsForObjects(t, f.roomRepo, f.partRepo, f.notices)
}

func TestRoomUseCase_LastExitClosesRoom(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture()
	f.roomRepo.On("FindByID", ctx, "r1").Return(&domain.Chatroom{ID: "r1", HostID: "host"}, nil)
	f.partRepo.On("Find", ctx, "r1", "host").Return(&domain.ChatroomParticipant{UserID: "host", Nickname: "hana"}, nil)
	f.partRepo.On("Delete", ctx, "r1", "host").Return(nil)
	f.partRepo.On("ListByRoom", ctx, "r1").Return([]domain.ChatroomParticipant{}, nil)
	f.roomRepo.On("Close", ctx, "r1").Return(nil)
	f.expectNotice("r1")

	require.NoError(t, f.uc.Exit(ctx, "r1", "host"))
	f.roomRepo.AssertNotCalled(t, "UpdateHost", mock.Anything, mock.Anything, mock.Anything)
	mock.AssertExpectationsForObjects(t, f.roomRepo, f.partRepo)
}

func TestRoomUseCase_HostOnlyActions(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture()
	f.roomRepo.On("FindByID", ctx, "r1").Return(&domain.Chatroom{ID: "r1", HostID: "host"}, nil)

	assert.ErrorIs(t, f.uc.Kick(ctx, "r1", "u1", "u2"), domain.ErrNotHost)
	assert.ErrorIs(t, f.uc.Ban(ctx, "r1", "u1", "u2"), domain.ErrNotHost)
	assert.ErrorIs(t, f.uc.TransferHost(ctx, "r1", "u1", "u2"), domain.ErrNotHost)
	assert.ErrorIs(t, f.uc.Kick(ctx, "r1", "host", "host"), domain.ErrInvalidTarget)
}

func TestRoomUseCase_KickBanTransfer(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture()
	f.roomRepo.On("FindByID", ctx, "r1").Return(&domain.Chatroom{ID: "r1", HostID: "host"}, nil)
	f.partRepo.On("Find", ctx, "r1", "u1").Return(&domain.ChatroomParticipant{UserID: "u1", Nickname: "uno"}, nil)
	f.partRepo.On("Find", ctx, "r1", "u2").Return(&domain.ChatroomParticipant{UserID: "u2", Nickname: "dos"}, nil)
	f.partRepo.On("Find", ctx, "r1", "u3").Return(&domain.ChatroomParticipant{UserID: "u3", Nickname: "tres"}, nil)
	f.partRepo.On("Delete", ctx, "r1", "u1").Return(nil)
	f.partRepo.On("Delete", ctx, "r1", "u2").Return(nil)
	f.roomRepo.On("AddBan", ctx, "r1", "u2").Return(nil)
	f.roomRepo.On("UpdateHost", ctx, "r1", "u3").Return(nil)
	f.notices.On("PostSystemMessage", ctx, "r1", "uno was removed", []string{"u1"}).Return(&domain.Message{}, nil)
	f.notices.On("PostSystemMessage", ctx, "r1", "dos was banned", []string{"u2"}).Return(&domain.Message{}, nil)
	f.notices.On("PostSystemMessage", ctx, "r1", "tres is now the host", []string(nil)).Return(&domain.Message{}, nil)

	require.NoError(t, f.uc.Kick(ctx, "r1", "host", "u1"))
	require.NoError(t, f.uc.Ban(ctx, "r1", "host", "u2"))
	require.NoError(t, f.uc.TransferHost(ctx, "r1", "host", "u3"))
	mock.AssertExpectationsForObjects(t, f.roomRepo, f.partRepo, f.notices)
}

func TestRoomUseCase_JoinedRoomIDs(t *testing.T) {
	ctx := context.Background()
	f := newRoomFixture()
	f.partRepo.On("ListRoomIDsByUser", ctx, "u1").Return([]string{"r1", "r2"}, nil)
	f.partRepo.On("Find", ctx, "r1", "u1").Return(&domain.ChatroomParticipant{UserID: "u1"}, nil)

	ids, err := f.uc.JoinedRoomIDs(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, ids)

	ok, err := f.uc.IsParticipant(ctx, "r1", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
}
