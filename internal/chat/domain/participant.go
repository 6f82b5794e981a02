package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// MaxNicknameLength nickname max rune count
const MaxNicknameLength = 24

// ChatroomParticipant user joined to a room under a nickname, nickname unique in room
type ChatroomParticipant struct {
	ChatroomID string    `gorm:"primaryKey;type:varchar(64);uniqueIndex:idx_participant_nickname,priority:1" json:"chatroom_id"`
	UserID     string    `gorm:"primaryKey;type:varchar(64);index" json:"user_id"`
	Nickname   string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_participant_nickname,priority:2" json:"nickname"`
	JoinedAt   time.Time `gorm:"not null" json:"joined_at"`
}

// TableName gorm table name
func (ChatroomParticipant) TableName() string {
	return "chatroom_participants"
}

// NormalizeNickname trim nickname and check length
func NormalizeNickname(nickname string) (string, error) {
	n := strings.TrimSpace(nickname)
	if n == "" || utf8.RuneCountInString(n) > MaxNicknameLength {
		return "", ErrInvalidNickname
	}
	return n, nil
}
