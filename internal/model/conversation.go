package model

import "time"

// Conversation is a two-party conversation summary. UnreadCount is computed
// per viewer: the number of unread messages not sent by that viewer.
type Conversation struct {
	ID             string    `json:"id" bson:"_id"`
	ParticipantIDs []string  `json:"participantIds" bson:"participant_ids"`
	LastMessage    *Message  `json:"lastMessage,omitempty" bson:"last_message,omitempty"`
	UnreadCount    int       `json:"unreadCount" bson:"-"`
	CreatedAt      time.Time `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" bson:"updated_at"`
}

// Peer returns the participant that is not the given user. Falls back to an
// empty string for malformed documents.
func (c Conversation) Peer(userID string) string {
	for _, id := range c.ParticipantIDs {
		if id != userID {
			return id
		}
	}
	return ""
}

// HasParticipant reports whether the user takes part in the conversation.
func (c Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}
