// API types for the companion chat surface
package models

import (
	"github.com/heartside/heartside/pkg/db"
)

// ========== Type aliases for database types ==========
// These allow other packages to use models.Message instead of db.Message

type Conversation = db.Conversation
type Message = db.Message
type Moment = db.Moment
type MomentLike = db.MomentLike
type MomentComment = db.MomentComment

// ========== Constant aliases from db package ==========

const (
	RoleUser      = db.RoleUser
	RoleAssistant = db.RoleAssistant
)

// ========== Chat API types ==========

// ChatRequest is one user turn submitted to the streaming chat
// endpoint. SessionID is optional: when empty or unknown a new
// conversation is created and its id is emitted as the first output
// unit.
type ChatRequest struct {
	SessionID           string   `json:"session_id,omitempty"`
	Message             string   `json:"message"`
	ImageURLs           []string `json:"image_urls,omitempty"`
	AudioText           string   `json:"audio_text,omitempty"`
	MaxCompletionTokens int      `json:"max_completion_tokens,omitempty"`
}

// SessionSummary is one row of the conversation list.
type SessionSummary struct {
	ID           string  `json:"id"`
	Title        string  `json:"title"`
	CreatedAt    string  `json:"created_at"`
	MessageCount int64   `json:"message_count"`
	PreviewImage *string `json:"preview_image,omitempty"`
}

// SessionsResponse is the paged conversation list.
type SessionsResponse struct {
	Sessions []SessionSummary `json:"sessions"`
	Total    int64            `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

// ClearSessionsResponse reports what a full history wipe removed.
type ClearSessionsResponse struct {
	DeletedSessions int64 `json:"deleted_sessions"`
	DeletedMessages int64 `json:"deleted_messages"`
	DetachedMoments int64 `json:"detached_moments"`
}

// SessionDetail identifies a conversation in the message history view.
type SessionDetail struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// MessageView is one message in the history view, with image
// references already sanitized against the upload root.
type MessageView struct {
	ID        string   `json:"id"`
	Role      string   `json:"role"`
	Content   string   `json:"content"`
	ImageURLs []string `json:"image_urls"`
	AudioText string   `json:"audio_text,omitempty"`
	CreatedAt string   `json:"created_at"`
}

// SessionMessagesResponse is the full message history of a conversation.
type SessionMessagesResponse struct {
	Session  SessionDetail `json:"session"`
	Messages []MessageView `json:"messages"`
}

// TranscriptionResponse carries the text of a transcribed audio clip.
type TranscriptionResponse struct {
	Text string `json:"text"`
}

// ========== Moment API types ==========

// MomentCreateRequest creates a timeline post directly.
type MomentCreateRequest struct {
	AuthorName      string   `json:"author_name,omitempty"`
	AuthorAvatarURL string   `json:"author_avatar_url,omitempty"`
	Content         string   `json:"content"`
	ImageURLs       []string `json:"image_urls,omitempty"`
	Location        string   `json:"location,omitempty"`
	SessionID       *string  `json:"session_id,omitempty"`
}

// SessionToMomentRequest derives a timeline post from a conversation.
type SessionToMomentRequest struct {
	AuthorName      string `json:"author_name,omitempty"`
	AuthorAvatarURL string `json:"author_avatar_url,omitempty"`
	Location        string `json:"location,omitempty"`
}

// MomentCommentCreateRequest adds a comment, optionally replying to
// another comment on the same moment.
type MomentCommentCreateRequest struct {
	UserName    string  `json:"user_name,omitempty"`
	ReplyToName string  `json:"reply_to_name,omitempty"`
	Content     string  `json:"content"`
	ParentID    *string `json:"parent_id,omitempty"`
}

// MomentCommentResponse is one serialized comment.
type MomentCommentResponse struct {
	ID          string  `json:"id"`
	MomentID    string  `json:"moment_id"`
	ParentID    *string `json:"parent_id,omitempty"`
	UserName    string  `json:"user_name"`
	ReplyToName string  `json:"reply_to_name,omitempty"`
	Content     string  `json:"content"`
	CreatedAt   string  `json:"created_at"`
}

// MomentResponse is one serialized timeline post.
type MomentResponse struct {
	ID              string                  `json:"id"`
	AuthorName      string                  `json:"author_name"`
	AuthorAvatarURL string                  `json:"author_avatar_url,omitempty"`
	Content         string                  `json:"content"`
	ImageURLs       []string                `json:"image_urls"`
	Location        string                  `json:"location,omitempty"`
	SessionID       *string                 `json:"session_id,omitempty"`
	CreatedAt       string                  `json:"created_at"`
	LikeCount       int                     `json:"like_count"`
	CommentCount    int                     `json:"comment_count"`
	Likes           []string                `json:"likes"`
	LikedByMe       bool                    `json:"liked_by_me"`
	Comments        []MomentCommentResponse `json:"comments"`
}

// MomentsListResponse is the paged timeline.
type MomentsListResponse struct {
	Moments []MomentResponse `json:"moments"`
	Total   int64            `json:"total"`
	Page    int              `json:"page"`
	Limit   int              `json:"limit"`
	HasMore bool             `json:"has_more"`
}

// MomentLikeToggleRequest toggles the caller's like on a moment.
type MomentLikeToggleRequest struct {
	UserName string `json:"user_name,omitempty"`
}

// MomentLikeToggleResponse reports the like state after a toggle.
type MomentLikeToggleResponse struct {
	MomentID  string   `json:"moment_id"`
	Liked     bool     `json:"liked"`
	LikeCount int      `json:"like_count"`
	Likes     []string `json:"likes"`
}

// MomentDeleteResponse acknowledges a deletion.
type MomentDeleteResponse struct {
	MomentID string `json:"moment_id"`
	Deleted  bool   `json:"deleted"`
}
