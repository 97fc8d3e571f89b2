package notification

import (
	"time"

	"github.com/google/uuid"
)

// Notification is an in-app message as seen by one receiver.
type Notification struct {
	ID         uuid.UUID  `json:"id"`
	SenderID   *uuid.UUID `json:"sender_id,omitempty"`
	SenderName string     `json:"sender_name,omitempty"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	IsRead     bool       `json:"is_read"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Recipient identifies a receiver by id and by the email used for pushes.
type Recipient struct {
	ID    uuid.UUID
	Email string
}

// Inbox is the notification list pushed to websocket clients.
type Inbox struct {
	Notifications []*Notification `json:"notifications"`
	UnreadCount   int             `json:"unread_count"`
}
