package model

import (
	"encoding/json"
	"time"
)

// Connection states of the realtime channel. At most one channel is open
// at any instant, bound to at most one room.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateOpen         ConnState = "open"
	StateClosed       ConnState = "closed"
)

const (
	MessageTypeText = "text"
	MessageTypeFile = "file"
)

// Frame discriminants recognized on the push channel.
// Anything else is ignored.
const (
	FrameTypeMessage = "message"
	FrameTypeTyping  = "typing"
	FrameTypeRead    = "read"
)

type Room struct {
	ID                 int64      `json:"id"`
	ProjectID          int64      `json:"project_id"`
	ProjectTitle       string     `json:"project_title"`
	OtherUserID        int64      `json:"other_user_id"`
	OtherUserName      string     `json:"other_user_name"`
	LastMessagePreview string     `json:"last_message_preview"`
	LastMessageAt      *time.Time `json:"last_message_at"`
	UnreadCount        int        `json:"unread_count"`
	CreatedAt          *time.Time `json:"created_at,omitempty"`
}

type Message struct {
	ID          int64      `json:"id"`
	RoomID      int64      `json:"room_id"`
	SenderID    int64      `json:"sender_id"`
	SenderName  string     `json:"sender_name"`
	Content     string     `json:"content"`
	MessageType string     `json:"message_type"`
	FileURL     string     `json:"file_url,omitempty"`
	FileName    string     `json:"file_name,omitempty"`
	FileSize    int64      `json:"file_size,omitempty"`
	IsRead      bool       `json:"is_read"`
	CreatedAt   *time.Time `json:"created_at"`
}

// FileRef is the upload endpoint's answer, passed into a file-message send.
type FileRef struct {
	URL  string `json:"file_url"`
	Name string `json:"file_name"`
	Size int64  `json:"file_size"`
}

// Frame is the wire shape of push-channel traffic in both directions.
// Data is populated for "message" frames only.
type Frame struct {
	Type       string          `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	UserID     int64           `json:"user_id,omitempty"`
	IsTyping   bool            `json:"is_typing"`
	MessageIDs []int64         `json:"message_ids,omitempty"`
}

// Event is a decoded inbound frame. RoomID is the room the channel was
// bound to when the frame arrived, so late frames from a previous room
// can be discarded after a switch.
type Event struct {
	Type       string
	RoomID     int64
	Message    *Message
	UserID     int64
	IsTyping   bool
	MessageIDs []int64
}
