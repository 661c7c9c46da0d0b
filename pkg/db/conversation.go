// Database models for companion conversations
package db

import "time"

// Conversation represents one ongoing exchange with the companion.
// It exclusively owns its Messages: deleting a conversation deletes them.
type Conversation struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	Title     string    `json:"title" gorm:"size:200"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Message represents one immutable turn of a conversation. Rows are
// never edited after creation; ordering within a conversation is by
// CreatedAt ascending, and that is the only ordering guarantee.
type Message struct {
	ID             string      `json:"id" gorm:"primaryKey;size:36"`
	ConversationID string      `json:"conversation_id" gorm:"index;size:36;not null"`
	Role           string      `json:"role" gorm:"size:20;not null"` // user, assistant
	Content        string      `json:"content" gorm:"type:text;not null"`
	ImageURLs      StringArray `json:"image_urls,omitempty" gorm:"type:json"`
	AudioText      string      `json:"audio_text,omitempty" gorm:"type:text"`
	CreatedAt      time.Time   `json:"created_at"`
}

func (Message) TableName() string {
	return "messages"
}

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)
