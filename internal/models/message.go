package models

import (
	"strings"
	"time"
)

// MessageType tags the content union of a message. Attachments live in
// separate fields, so a text message can still carry images and an image
// message can carry no text.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeSystem MessageType = "system"
)

// MessageStatus tracks the lifecycle of a locally-originated message. Messages
// loaded from the server or received over the realtime transport carry no
// status and are implicitly sent.
type MessageStatus string

const (
	StatusSending MessageStatus = "sending"
	StatusSent    MessageStatus = "sent"
	StatusError   MessageStatus = "error"
)

// TempIDPrefix is reserved for client-minted message identities. Canonical
// identities are server-assigned UUIDs, so the prefix guarantees the two
// identity spaces never collide.
const TempIDPrefix = "local-"

// RevokedPlaceholder replaces the text of a revoked message.
const RevokedPlaceholder = "This message has been revoked"

// RevokeWindow bounds how long after sending a message may still be revoked.
const RevokeWindow = time.Hour

// AttachmentKind distinguishes image attachments from generic files.
type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a stored binary attached to a message.
type Attachment struct {
	ID           int            `db:"id" json:"id,omitempty"`
	MessageID    string         `db:"message_id" json:"-"`
	Kind         AttachmentKind `db:"kind" json:"kind"`
	Name         string         `db:"name" json:"name"`
	ContentType  string         `db:"content_type" json:"content_type"`
	Size         int64          `db:"size" json:"size"`
	URL          string         `db:"url" json:"url"`
	ThumbnailURL string         `db:"thumbnail_url" json:"thumbnail_url,omitempty"`
}

// Seen is a read receipt: a member plus the time they caught up.
type Seen struct {
	UserID int       `db:"user_id" json:"user_id"`
	SeenAt time.Time `db:"seen_at" json:"seen_at"`
}

// Message is a chat message. ID is either a canonical server-assigned UUID
// or, on a not-yet-confirmed optimistic entry, a client-minted id carrying
// TempIDPrefix. Exactly one of the two identity spaces is active at a time.
type Message struct {
	ID             string        `db:"id" json:"id"`
	ConversationID int           `db:"conversation_id" json:"conversation_id"`
	SenderID       int           `db:"sender_id" json:"sender_id"`
	SenderUsername string        `db:"sender_username" json:"sender_username,omitempty"`
	Type           MessageType   `db:"type" json:"type"`
	Text           string        `db:"text" json:"text"`
	Images         []Attachment  `json:"images,omitempty"`
	File           *Attachment   `json:"file,omitempty"`
	ReplyTo        string        `db:"reply_to" json:"reply_to,omitempty"`
	Revoked        bool          `db:"revoked" json:"revoked"`
	Seens          []Seen        `json:"seens,omitempty"`
	Status         MessageStatus `db:"-" json:"status,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// IsTemp reports whether the message still carries a client-minted identity.
func (m Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// ChatEvent is broadcast through websockets.
type ChatEvent struct {
	Type      string     `json:"type"`
	Message   *Message   `json:"message,omitempty"`
	MessageID string     `json:"message_id,omitempty"`
	UserID    int        `json:"user_id,omitempty"`
	SeenAt    *time.Time `json:"seen_at,omitempty"`
}
