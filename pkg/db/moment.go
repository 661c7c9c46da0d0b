// Database models for the moments timeline
package db

import "time"

// Moment is a social post derived from (or independent of) a
// conversation. ConversationID is nullable so clearing conversations
// detaches moments instead of deleting them.
type Moment struct {
	ID              string      `json:"id" gorm:"primaryKey;size:36"`
	AuthorName      string      `json:"author_name" gorm:"size:100;not null"`
	AuthorAvatarURL string      `json:"author_avatar_url,omitempty" gorm:"size:500"`
	Content         string      `json:"content" gorm:"type:text;not null"`
	ImageURLs       StringArray `json:"image_urls,omitempty" gorm:"type:json"`
	Location        string      `json:"location,omitempty" gorm:"size:200"`
	ConversationID  *string     `json:"conversation_id,omitempty" gorm:"index;size:36"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

func (Moment) TableName() string {
	return "moments"
}

// MomentLike records one user's like on a moment. At most one like per
// user per moment.
type MomentLike struct {
	ID        string    `json:"id" gorm:"primaryKey;size:36"`
	MomentID  string    `json:"moment_id" gorm:"size:36;not null;uniqueIndex:uq_moment_like_user"`
	UserName  string    `json:"user_name" gorm:"size:100;not null;uniqueIndex:uq_moment_like_user"`
	CreatedAt time.Time `json:"created_at"`
}

func (MomentLike) TableName() string {
	return "moment_likes"
}

// MomentComment is a comment on a moment, optionally replying to
// another comment.
type MomentComment struct {
	ID          string    `json:"id" gorm:"primaryKey;size:36"`
	MomentID    string    `json:"moment_id" gorm:"index;size:36;not null"`
	ParentID    *string   `json:"parent_id,omitempty" gorm:"size:36"`
	UserName    string    `json:"user_name" gorm:"size:100;not null"`
	ReplyToName string    `json:"reply_to_name,omitempty" gorm:"size:100"`
	Content     string    `json:"content" gorm:"type:text;not null"`
	CreatedAt   time.Time `json:"created_at"`
}

func (MomentComment) TableName() string {
	return "moment_comments"
}
