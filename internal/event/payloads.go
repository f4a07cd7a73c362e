package event

import "time"

// TypingPayload is the TYPING event body.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	IsTyping       bool   `json:"isTyping"`
}

// ReadReceiptPayload is the READ_RECEIPT event body. A receipt with an empty
// MessageID marks the whole conversation as read.
type ReadReceiptPayload struct {
	MessageID      string    `json:"messageId,omitempty"`
	ConversationID string    `json:"conversationId"`
	ReadAt         time.Time `json:"readAt"`
}

// PresencePayload is the USER_ONLINE / USER_OFFLINE event body.
type PresencePayload struct {
	UserID string `json:"userId"`
}

// NotificationPayload is the NOTIFICATION event body.
type NotificationPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
}

// ConnectionStatePayload is published locally by the connection manager.
// Terminal means the automatic reconnect budget is exhausted and recovery
// requires a fresh Connect call.
type ConnectionStatePayload struct {
	Connected bool `json:"connected"`
	Attempts  int  `json:"attempts"`
	Terminal  bool `json:"terminal"`
}
