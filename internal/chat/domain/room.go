package domain

import (
	"strings"
	"time"
)

// DefaultCapacity capacity used when create room without one
const DefaultCapacity = 50

// Chatroom definition chat room
type Chatroom struct {
	ID        string    `bson:"_id" json:"id"`
	Name      string    `bson:"name" json:"name"`
	HostID    string    `bson:"host_id" json:"host_id"`
	Capacity  int       `bson:"capacity" json:"capacity"`
	BannedIDs []string  `bson:"banned_ids" json:"-"`
	Closed    bool      `bson:"closed" json:"closed"`
	CreatedAt time.Time `bson:"created_at" json:"created_at"`
}

// IsBanned check user banned from room
func (r *Chatroom) IsBanned(userID string) bool {
	for _, id := range r.BannedIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsHost check user is room host
func (r *Chatroom) IsHost(userID string) bool {
	return r.HostID == userID
}

// NormalizeRoomName trim room name
func NormalizeRoomName(name string) (string, error) {
	n := strings.TrimSpace(name)
	if n == "" {
		return "", ErrInvalidRoomName
	}
	return n, nil
}
