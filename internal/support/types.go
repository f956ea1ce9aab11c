// Package support provides the REST client and wire types for the support
// conversation resource. Types mirror the banking backend's JSON shapes.
package support

import "time"

// SenderType identifies who wrote a message.
type SenderType string

const (
	SenderCustomer SenderType = "CUSTOMER"
	SenderAdmin    SenderType = "ADMIN"
)

// ConversationStatus is the lifecycle state of a support conversation.
type ConversationStatus string

const (
	StatusOpen       ConversationStatus = "OPEN"
	StatusInProgress ConversationStatus = "IN_PROGRESS"
	StatusResolved   ConversationStatus = "RESOLVED"
	StatusClosed     ConversationStatus = "CLOSED"
)

// Valid reports whether s is one of the statuses the backend accepts.
func (s ConversationStatus) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusResolved, StatusClosed:
		return true
	}
	return false
}

// ChatMessage is a persisted support message. ID is its identity: consumers
// must treat repeated deliveries of the same ID as one message.
type ChatMessage struct {
	ID         int64      `json:"id"`
	SenderType SenderType `json:"sender_type"`
	SenderName string     `json:"sender_name,omitempty"`
	Message    string     `json:"message"`
	IsRead     bool       `json:"is_read"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Conversation is the detail shape returned by the conversation endpoints.
type Conversation struct {
	ID            int64              `json:"id"`
	CustomerName  string             `json:"customer_name"`
	CustomerEmail string             `json:"customer_email"`
	Status        ConversationStatus `json:"status"`
	Subject       string             `json:"subject"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	LastMessageAt *time.Time         `json:"last_message_at"`
	Messages      []ChatMessage      `json:"messages"`
	UnreadCount   int                `json:"unread_count"`
}

// LastMessage is the truncated preview attached to list items.
type LastMessage struct {
	Message    string     `json:"message"`
	SenderType SenderType `json:"sender_type"`
	CreatedAt  time.Time  `json:"created_at"`
}

// ConversationListItem is the lightweight shape returned by the list endpoint.
type ConversationListItem struct {
	ID            int64              `json:"id"`
	CustomerName  string             `json:"customer_name"`
	CustomerEmail string             `json:"customer_email"`
	Status        ConversationStatus `json:"status"`
	Subject       string             `json:"subject"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	LastMessageAt *time.Time         `json:"last_message_at"`
	UnreadCount   int                `json:"unread_count"`
	LastMessage   *LastMessage       `json:"last_message"`
}

// NotificationPriority ranks portal notifications.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "LOW"
	PriorityMedium NotificationPriority = "MEDIUM"
	PriorityHigh   NotificationPriority = "HIGH"
	PriorityUrgent NotificationPriority = "URGENT"
)

// Notification is pushed over the notification socket.
type Notification struct {
	ID               int64                `json:"id"`
	NotificationType string               `json:"notification_type"`
	Priority         NotificationPriority `json:"priority"`
	Title            string               `json:"title"`
	Message          string               `json:"message"`
	ActionURL        string               `json:"action_url,omitempty"`
	Metadata         map[string]any       `json:"metadata,omitempty"`
	IsRead           bool                 `json:"is_read"`
	ReadAt           *time.Time           `json:"read_at,omitempty"`
	CreatedAt        time.Time            `json:"created_at"`
}

// Urgent reports whether the notification should be surfaced prominently.
func (n Notification) Urgent() bool {
	return n.Priority == PriorityHigh || n.Priority == PriorityUrgent
}
