package domain

// Action websocket request action
type Action string

const (
	// CreateRoom websocket action create_room
	CreateRoom Action = "create_room"
	// JoinRoom websocket action join_room
	JoinRoom Action = "join_room"
	// Rename websocket action rename
	Rename Action = "rename"
	// ExitRoom websocket action exit_room
	ExitRoom Action = "exit_room"
	// Kick websocket action kick
	Kick Action = "kick"
	// Ban websocket action ban
	Ban Action = "ban"
	// TransferHost websocket action transfer_host
	TransferHost Action = "transfer_host"

	// EnterRoom websocket action enter_room
	EnterRoom Action = "enter_room"
	// LoadMore websocket action load_more
	LoadMore Action = "load_more"
	// LeaveRoom websocket action leave_room
	LeaveRoom Action = "leave_room"

	// SendMessage websocket action send_message
	SendMessage Action = "send_message"
	// DeleteMessage websocket action delete_message
	DeleteMessage Action = "delete_message"
	// EditMessage websocket action edit_message
	EditMessage Action = "edit_message"
	// HideMessage websocket action hide_message
	HideMessage Action = "hide_message"

	// ReadRoom websocket action read_room
	ReadRoom Action = "read_room"
	// GetUnread websocket action get_unread
	GetUnread Action = "get_unread"
	// Foreground websocket action foreground
	Foreground Action = "foreground"
	// Reconnect websocket action reconnect
	Reconnect Action = "reconnect"

	// NotifyMessageCreated server push message_created
	NotifyMessageCreated Action = "message_created"
	// NotifyMessageDeleted server push message_deleted
	NotifyMessageDeleted Action = "message_deleted"
	// NotifyChannelDropped server push channel_dropped
	NotifyChannelDropped Action = "channel_dropped"
	// NotifyResynced server push resynced
	NotifyResynced Action = "resynced"
	// NotifyBadge server push badge
	NotifyBadge Action = "badge"
)

// WSRequest websocket Request
type WSRequest struct {
	Action    string `json:"action"`
	RoomID    string `json:"room_id"`
	RoomName  string `json:"room_name"`
	Capacity  int    `json:"capacity"`
	Nickname  string `json:"nickname"`
	TargetID  string `json:"target_id"`
	Content   string `json:"content"`
	MessageID string `json:"message_id"`
}

// WSResponse websocket Response
type WSResponse struct {
	Action   string                 `json:"action"`
	Success  bool                   `json:"success"`
	Conflict bool                   `json:"conflict,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Error    string                 `json:"error,omitempty"`
}
