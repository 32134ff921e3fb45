package models

import "time"

// Conversation is a chat between two or more members.
type Conversation struct {
	ID        int       `db:"id" json:"id"`
	CreatorID int       `db:"creator_id" json:"creator_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Member is a participant of a conversation. Username and AvatarURL are
// snapshots taken when the member joined.
type Member struct {
	ConversationID int       `db:"conversation_id" json:"conversation_id"`
	UserID         int       `db:"user_id" json:"user_id"`
	Username       string    `db:"username" json:"username"`
	AvatarURL      string    `db:"avatar_url" json:"avatar_url,omitempty"`
	JoinedAt       time.Time `db:"joined_at" json:"joined_at"`
}

// ConversationSummary provides an API-friendly view of a conversation for a user.
type ConversationSummary struct {
	ConversationID int       `db:"id" json:"conversation_id"`
	Members        []Member  `json:"members"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// ConversationVisibility models per-user conversation visibility state.
type ConversationVisibility struct {
	ConversationID int  `db:"conversation_id" json:"conversation_id"`
	UserID         int  `db:"user_id" json:"user_id"`
	Hidden         bool `db:"hidden" json:"hidden"`
}
