package domain

import "time"

// MessageKind message authored by participant or generated by the room
type MessageKind string

const (
	// KindUser message sent by a participant
	KindUser MessageKind = "user"
	// KindSystem synthetic message for membership or room state change
	KindSystem MessageKind = "system"
)

const (
	// PageSize feed page size
	PageSize = 30
	// DeletedBody placeholder body of a tombstoned message
	DeletedBody = "This message has been deleted."
	// SystemSenderID sender id of system messages
	SystemSenderID = "system"
)

// Message chat message, id/chatroom_id/sender_id/created_at never change after insert
type Message struct {
	ID         string      `json:"id"`
	ChatroomID string      `json:"chatroom_id"`
	SenderID   string      `json:"sender_id"`
	Body       string      `json:"body"`
	Kind       MessageKind `json:"kind"`
	IsDeleted  bool        `json:"is_deleted"`
	IsEdited   bool        `json:"is_edited"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`

	// Nickname sender nickname in the room at read time, not stored with the message
	Nickname string `json:"nickname,omitempty"`
}

// Tombstone mark message deleted and replace body
func (m *Message) Tombstone(at time.Time) {
	m.IsDeleted = true
	m.Body = DeletedBody
	m.UpdatedAt = at
}

// IsUnreadFor report whether message contributes to userID unread count, the read marker is checked by caller
func (m Message) IsUnreadFor(userID string) bool {
	return m.Kind == KindUser && !m.IsDeleted && m.SenderID != userID
}

// MessagePage one page of feed, messages descending by created_at
type MessagePage struct {
	Messages   []Message  `json:"messages"`
	NextCursor *time.Time `json:"next_cursor"`
	HasMore    bool       `json:"has_more"`
}

// MessageQuery feed query, Before is exclusive upper bound
type MessageQuery struct {
	ChatroomID string
	Before     *time.Time
	Limit      int
}

// UnreadQuery unread count query, After nil means no lower bound
type UnreadQuery struct {
	ChatroomID      string
	After           *time.Time
	ExcludeSenderID string
}

// MessageCreatedRecord record written to kafka after a message is stored
type MessageCreatedRecord struct {
	Message  Message `json:"message"`
	RoomName string  `json:"room_name"`
}
