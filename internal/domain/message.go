package domain

import "time"

// MessageType distinguishes plain text from attachment messages.
type MessageType string

// Message types carried over from the original chat model.
const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageDocument MessageType = "document"
	MessageFile     MessageType = "file"
)

// Attachment describes an uploaded file. Uploading itself happens elsewhere.
type Attachment struct {
	Filename     string `json:"filename" bson:"filename"`
	OriginalName string `json:"originalName" bson:"original_name"`
	MimeType     string `json:"mimeType" bson:"mime_type"`
	Size         int64  `json:"size" bson:"size"`
	URL          string `json:"url" bson:"url"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty" bson:"thumbnail_url,omitempty"`
}

// Message is one persisted chat message.
type Message struct {
	ID        string      `json:"id" bson:"_id"`
	GroupID   string      `json:"groupId" bson:"group_id"`
	SenderID  string      `json:"-" bson:"sender_id"`
	Sender    UserSummary `json:"sender" bson:"-"`
	Content   string      `json:"content" bson:"content"`
	Type      MessageType `json:"messageType" bson:"message_type"`
	File      *Attachment `json:"file,omitempty" bson:"file,omitempty"`
	CreatedAt time.Time   `json:"createdAt" bson:"created_at"`
	UpdatedAt time.Time   `json:"updatedAt" bson:"updated_at"`
}
