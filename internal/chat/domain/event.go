package domain

import (
	"encoding/json"
	"strings"
)

// EventType realtime event name
type EventType string

const (
	// EventMessageCreated message inserted
	EventMessageCreated EventType = "message_created"
	// EventMessageDeleted message tombstoned
	EventMessageDeleted EventType = "message_deleted"
)

// BroadcastType envelope type of every broadcast on a channel
const BroadcastType = "broadcast"

const (
	userChannelPrefix = "chat:user:"
	roomChannelPrefix = "chat:room:"
)

// Event realtime payload, only ids, receiver fetch the full record
type Event struct {
	Type       EventType `json:"type"`
	ChatroomID string    `json:"chatroom_id"`
	MessageID  string    `json:"message_id"`
}

// Valid check required fields
func (e Event) Valid() bool {
	return (e.Type == EventMessageCreated || e.Type == EventMessageDeleted) && e.ChatroomID != "" && e.MessageID != ""
}

// NewEvent build event for message
func NewEvent(t EventType, m Message) Event {
	return Event{Type: t, ChatroomID: m.ChatroomID, MessageID: m.ID}
}

// Envelope wire format on pub/sub channel
type Envelope struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

// UserChannel user scoped channel name
func UserChannel(userID string) string {
	return userChannelPrefix + userID
}

// RoomChannel room scoped channel name
func RoomChannel(roomID string) string {
	return roomChannelPrefix + roomID
}

// RoomIDFromChannel return room id of a room channel
func RoomIDFromChannel(channel string) (string, bool) {
	if !strings.HasPrefix(channel, roomChannelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(channel, roomChannelPrefix), true
}
