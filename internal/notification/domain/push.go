package domain

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	// MaxBodyLength push body max rune count
	MaxBodyLength = 120
	// DefaultBatchSize provider batch size
	DefaultBatchSize = 100
	// PushQueue rabbitmq queue of push batches
	PushQueue = "push_batches"
)

var (
	// ErrInvalidDevice device token missing
	ErrInvalidDevice = errors.New("device token is required")
	// ErrProviderRejected provider refuse the batch, retry will not help
	ErrProviderRejected = errors.New("push provider rejected batch")
	// ErrProviderUnavailable provider or network failure, batch can be retried
	ErrProviderUnavailable = errors.New("push provider unavailable")
)

// Device push token of a user device
type Device struct {
	Token                string    `bson:"_id" json:"token"`
	UserID               string    `bson:"user_id" json:"user_id"`
	Platform             string    `bson:"platform" json:"platform"`
	NotificationsEnabled bool      `bson:"notifications_enabled" json:"notifications_enabled"`
	UpdatedAt            time.Time `bson:"updated_at" json:"updated_at"`
}

// PushMessage one notification for one device
type PushMessage struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Sound string            `json:"sound,omitempty"`
	Data  map[string]string `json:"data"`
}

// PushBatch messages submitted to the provider in one request
type PushBatch struct {
	ID        string        `json:"id"`
	MessageID string        `json:"message_id"`
	Messages  []PushMessage `json:"messages"`
}

// Route deep link of a chat room
func Route(chatroomID string) string {
	return "/chatroom/" + chatroomID
}

// TruncateBody cut body to MaxBodyLength runes
func TruncateBody(body string) string {
	body = strings.TrimSpace(body)
	if utf8.RuneCountInString(body) <= MaxBodyLength {
		return body
	}
	runes := []rune(body)
	return string(runes[:MaxBodyLength-3]) + "..."
}

// Chunk split messages into batches of size n
func Chunk(msgs []PushMessage, n int) [][]PushMessage {
	if n <= 0 {
		n = DefaultBatchSize
	}
	var out [][]PushMessage
	for len(msgs) > n {
		out = append(out, msgs[:n:n])
		msgs = msgs[n:]
	}
	if len(msgs) > 0 {
		out = append(out, msgs)
	}
	return out
}
