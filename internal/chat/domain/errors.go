package domain

import "errors"

var (
	// ErrNicknameTaken nickname already used in room, the conflict flag shown to user
	ErrNicknameTaken = errors.New("nickname already taken in this room")
	// ErrInvalidNickname nickname empty or too long
	ErrInvalidNickname = errors.New("nickname must be 1-24 characters")
	// ErrInvalidRoomName room name empty
	ErrInvalidRoomName = errors.New("room name is required")
	// ErrRoomNotFound room not exist
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomClosed room closed by host
	ErrRoomClosed = errors.New("room is closed")
	// ErrRoomFull room reach capacity
	ErrRoomFull = errors.New("room is full")
	// ErrBanned user banned from room
	ErrBanned = errors.New("banned from this room")
	// ErrNotParticipant user not joined room
	ErrNotParticipant = errors.New("not a participant of this room")
	// ErrNotHost action need host
	ErrNotHost = errors.New("only the host can do this")
	// ErrInvalidTarget target user missing or the actor self
	ErrInvalidTarget = errors.New("invalid target user")
	// ErrForbidden actor can not mutate the message
	ErrForbidden = errors.New("not allowed to modify this message")
	// ErrEmptyMessage message body empty
	ErrEmptyMessage = errors.New("message body is empty")
	// ErrMessageNotFound message not exist
	ErrMessageNotFound = errors.New("message not found")
	// ErrAlreadyJoined participant row for the user already exists
	ErrAlreadyJoined = errors.New("already joined this room")
	// ErrKeyNotFound durable key not exist
	ErrKeyNotFound = errors.New("key not found")
)

// IsConflict report whether err is a user correctable conflict
func IsConflict(err error) bool {
	return errors.Is(err, ErrNicknameTaken)
}
