package model

import "time"

// MessageType classifies a message body.
type MessageType string

const (
	MessageTypeText  MessageType = "TEXT"
	MessageTypeImage MessageType = "IMAGE"
	MessageTypeFile  MessageType = "FILE"
)

// Message is a chat message, both on the wire and in MongoDB. The id is
// server-assigned once persisted; clients use a temporary id for entries
// that have not been confirmed yet.
type Message struct {
	ID             string      `json:"id" bson:"_id"`
	ConversationID string      `json:"conversationId,omitempty" bson:"conversation_id"`
	SenderID       string      `json:"senderId" bson:"sender_id"`
	ReceiverID     string      `json:"receiverId" bson:"receiver_id"`
	Content        string      `json:"content" bson:"content"`
	Type           MessageType `json:"messageType" bson:"message_type"`
	ActivityID     string      `json:"activityId,omitempty" bson:"activity_id,omitempty"`
	Timestamp      time.Time   `json:"timestamp" bson:"timestamp"`
	Read           bool        `json:"read" bson:"read"`
}

// CreateMessageRequest is the durable-create payload sent to the message API.
type CreateMessageRequest struct {
	ReceiverID  string      `json:"receiverId"`
	Content     string      `json:"content"`
	MessageType MessageType `json:"messageType"`
	ActivityID  string      `json:"activityId,omitempty"`
}

// UnreadCount is the response shape of the unread-count query.
type UnreadCount struct {
	Count int64 `json:"count"`
}
