package domain

import "time"

// ReadMarker last message a user read in a room
type ReadMarker struct {
	ChatroomID        string    `json:"chatroom_id"`
	LastReadMessageID string    `json:"last_read_message_id"`
	LastReadAt        time.Time `json:"last_read_at"`
}
