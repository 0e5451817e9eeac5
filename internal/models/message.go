package models

import "time"

// MaxMessageLength is the maximum chat body length in characters.
const MaxMessageLength = 1000

// MessageKind distinguishes user chat from system announcements.
type MessageKind string

const (
	MessageKindText   MessageKind = "text"
	MessageKindSystem MessageKind = "system"
)

// ParseMessageKind converts a string to MessageKind.
// An empty string is treated as text.
func ParseMessageKind(s string) (MessageKind, bool) {
	switch s {
	case "", "text":
		return MessageKindText, true
	case "system":
		return MessageKindSystem, true
	default:
		return "", false
	}
}

// Message is a persisted chat message joined with its author.
type Message struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Username  string      `json:"username"`
	Role      Role        `json:"role"`
	Body      string      `json:"message"`
	Kind      MessageKind `json:"message_type"`
	CreatedAt time.Time   `json:"created_at"`
	// IsOwnMessage is relative to whoever receives the record.
	IsOwnMessage bool `json:"is_own_message"`
}

// ForViewer returns a copy with IsOwnMessage computed for the given user.
func (m *Message) ForViewer(userID string) *Message {
	c := *m
	c.IsOwnMessage = userID != "" && m.UserID == userID
	return &c
}
