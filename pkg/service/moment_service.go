// Moment service - timeline posts derived from conversations
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heartside/heartside/pkg/db"
	"github.com/heartside/heartside/pkg/models"
	"github.com/heartside/heartside/pkg/utils"
)

var (
	ErrMomentNotFound       = errors.New("moment not found")
	ErrMomentEmptySource    = errors.New("conversation has no content to publish")
	ErrCommentParentInvalid = errors.New("parent comment does not belong to this moment")
	ErrNotMomentAuthor      = errors.New("only the author can delete a moment")
)

const (
	// captionMaxRunes hard-caps the sanitized caption.
	captionMaxRunes = 220

	// fallbackSeedMaxRunes caps the user-text seed in the fallback
	// caption before the template suffix is applied.
	fallbackSeedMaxRunes = 36

	// momentMaxImages caps the image grid of one post.
	momentMaxImages = 9

	// assistantCommentLimit is how many recent companion replies are
	// copied into the comment section of a derived post.
	assistantCommentLimit    = 6
	assistantCommentMaxRunes = 1000

	defaultUserName      = "你"
	assistantCommentName = "AI陪伴助手"
)

const captionInstruction = "你是一位温柔的生活记录者。请把用户的倾诉和陪伴者的回应融合成一条朋友圈文案：" +
	"第一人称，1到2句自然的话，20到80字，不要任何标签、引号或markdown标记，直接输出文案本身。"

const fallbackTemplateSuffix = "。把心事写下来，日子也会一点点变轻🌿"

// Keyword categories for the deterministic fallback caption, checked
// in order against the recent assistant replies plus the latest user
// text.
var fallbackCategories = []struct {
	keywords []string
	caption  string
}{
	{
		keywords: []string{"夜奶", "哄睡", "带娃", "宝宝", "奶睡", "断奶"},
		caption:  "带娃的日子琐碎又辛苦，今天也把心事说了出来，给自己一点温柔🌙",
	},
	{
		keywords: []string{"心情不好", "崩溃", "撑不住", "好累", "难过", "委屈", "焦虑"},
		caption:  "今天有点累，还好把情绪说了出来。慢慢来，一切都会好起来的🌿",
	},
}

// roleLabelPattern strips leading role labels a model sometimes echoes
// back at the start of a line.
var roleLabelPattern = regexp.MustCompile(`^(?:AI陪伴助手|助手|AI|assistant|user|用户)[:：]\s*`)

// horizontalSpacePattern collapses runs of spaces and tabs.
var horizontalSpacePattern = regexp.MustCompile(`[ \t]+`)

// blankRunPattern collapses three or more consecutive newlines.
var blankRunPattern = regexp.MustCompile(`\n{3,}`)

// MomentService owns the timeline: direct posts, posts derived from
// conversations, likes and threaded comments.
type MomentService struct {
	db        *gorm.DB
	generator CaptionGenerator
	preparer  *ImagePreparer
	logger    *slog.Logger
}

// NewMomentService creates a moment service. A nil generator selects
// the deterministic fallback caption for every derived post.
func NewMomentService(database *gorm.DB, generator CaptionGenerator, preparer *ImagePreparer) *MomentService {
	return &MomentService{
		db:        database,
		generator: generator,
		preparer:  preparer,
		logger:    utils.GetLogger(),
	}
}

// AutoMigrate creates the moment tables.
func (s *MomentService) AutoMigrate() error {
	return s.db.AutoMigrate(&db.Moment{}, &db.MomentLike{}, &db.MomentComment{})
}

// ========== Caption synthesis ==========

// SynthesizeCaption produces the post text for a conversation. The
// generative path is used when a generator is configured and the
// conversation has assistant replies; any generation failure or empty
// result falls through to the deterministic fallback. The result is
// never empty.
func (s *MomentService) SynthesizeCaption(ctx context.Context, userTexts, assistantTexts []string, seed string) string {
	if s.generator != nil && len(assistantTexts) > 0 {
		caption, err := s.generator.GenerateCaption(ctx, captionInstruction, captionPrompt(userTexts, assistantTexts))
		if err != nil {
			s.logger.Warn("Caption generation failed, using fallback", "error", err)
		} else if sanitized := sanitizeCaption(caption); sanitized != "" {
			return sanitized
		}
	}
	return fallbackCaption(userTexts, assistantTexts, seed)
}

// captionPrompt renders the conversation transcript for the
// generation call.
func captionPrompt(userTexts, assistantTexts []string) string {
	var b strings.Builder
	b.WriteString("用户的倾诉：\n")
	for _, text := range userTexts {
		b.WriteString("- " + text + "\n")
	}
	b.WriteString("\n陪伴者的回应：\n")
	for _, text := range assistantTexts {
		b.WriteString("- " + text + "\n")
	}
	b.WriteString("\n请生成朋友圈文案。")
	return b.String()
}

// sanitizeCaption normalizes raw model output into post text: role
// labels and markdown markers are stripped per line, blank-line runs
// and horizontal whitespace are collapsed, and the result is
// hard-truncated. Applying it twice yields the same string.
func sanitizeCaption(raw string) string {
	lines := strings.Split(raw, "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		for {
			stripped := roleLabelPattern.ReplaceAllString(line, "")
			stripped = strings.TrimLeft(stripped, ">#- \t")
			stripped = strings.Trim(stripped, "*")
			stripped = strings.Trim(stripped, `"“”`)
			stripped = strings.TrimSpace(stripped)
			if stripped == line {
				break
			}
			line = stripped
		}
		lines[i] = horizontalSpacePattern.ReplaceAllString(line, " ")
	}

	text := strings.Join(lines, "\n")
	text = blankRunPattern.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)

	runes := []rune(text)
	if len(runes) > captionMaxRunes {
		// Truncation can expose a stray marker at the new end of the
		// text; re-sanitizing keeps the function a fixed point.
		return sanitizeCaption(string(runes[:captionMaxRunes]))
	}
	return text
}

// fallbackCaption is the deterministic path: a keyword category match
// over the recent exchange wins first; otherwise the latest user text
// (or the seed) is reshaped into a fixed template.
func fallbackCaption(userTexts, assistantTexts []string, seed string) string {
	latestUser := ""
	for i := len(userTexts) - 1; i >= 0; i-- {
		if text := collapseSpaces(userTexts[i]); text != "" {
			latestUser = text
			break
		}
	}

	recent := assistantTexts
	if len(recent) > assistantCommentLimit {
		recent = recent[len(recent)-assistantCommentLimit:]
	}
	haystack := strings.Join(recent, " ") + " " + latestUser
	for _, category := range fallbackCategories {
		if containsAny(haystack, category.keywords) {
			return category.caption
		}
	}

	if latestUser == "" {
		if seed = collapseSpaces(seed); seed != "" {
			return seed
		}
		return "记录一段对话心情"
	}

	phrase := strings.ReplaceAll(latestUser, "怎么办", "慢慢来")
	phrase = strings.TrimRight(phrase, "？?。")
	runes := []rune(phrase)
	if len(runes) > fallbackSeedMaxRunes {
		phrase = string(runes[:fallbackSeedMaxRunes]) + "…"
	}
	return phrase + fallbackTemplateSuffix
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ========== Derived posts ==========

// CollectImages gathers the post's image grid: user-authored images in
// chat order, deduplicated, capped.
func (s *MomentService) CollectImages(messages []db.Message) []string {
	images := []string{}
	seen := map[string]bool{}
	for i := range messages {
		if messages[i].Role != db.RoleUser {
			continue
		}
		for _, img := range s.preparer.SanitizeImageURLs(messages[i].ImageURLs) {
			if seen[img] {
				continue
			}
			images = append(images, img)
			seen[img] = true
			if len(images) >= momentMaxImages {
				return images
			}
		}
	}
	return images
}

// collectAssistantComments turns the most recent companion replies
// into comment texts.
func collectAssistantComments(messages []db.Message) []string {
	comments := []string{}
	for i := range messages {
		if messages[i].Role != db.RoleAssistant {
			continue
		}
		text := collapseSpaces(messages[i].Content)
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > assistantCommentMaxRunes {
			text = string(runes[:assistantCommentMaxRunes])
		}
		comments = append(comments, text)
	}
	if len(comments) > assistantCommentLimit {
		comments = comments[len(comments)-assistantCommentLimit:]
	}
	return comments
}

// CreateMomentFromConversation derives a timeline post from a stored
// conversation: synthesized caption, collected image grid, and the
// companion's recent replies as seeded comments.
func (s *MomentService) CreateMomentFromConversation(ctx context.Context, conversationID string, req *models.SessionToMomentRequest) (*models.MomentResponse, error) {
	var conv db.Conversation
	if err := s.db.First(&conv, "id = ?", conversationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var messages []db.Message
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, ErrMomentEmptySource
	}

	var userTexts, assistantTexts []string
	for i := range messages {
		text := strings.TrimSpace(messages[i].Content)
		if text == "" {
			continue
		}
		switch messages[i].Role {
		case db.RoleUser:
			userTexts = append(userTexts, text)
		case db.RoleAssistant:
			assistantTexts = append(assistantTexts, text)
		}
	}

	caption := s.SynthesizeCaption(ctx, userTexts, assistantTexts, conv.Title)
	images := s.CollectImages(messages)
	comments := collectAssistantComments(messages)
	if caption == "" && len(images) == 0 {
		return nil, ErrMomentEmptySource
	}

	moment := &db.Moment{
		ID:              uuid.New().String(),
		AuthorName:      normalizeUserName(req.AuthorName),
		AuthorAvatarURL: strings.TrimSpace(req.AuthorAvatarURL),
		Content:         caption,
		ImageURLs:       images,
		Location:        strings.TrimSpace(req.Location),
		ConversationID:  &conversationID,
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(moment).Error; err != nil {
			return fmt.Errorf("failed to create moment: %w", err)
		}
		for _, text := range comments {
			comment := &db.MomentComment{
				ID:       uuid.New().String(),
				MomentID: moment.ID,
				UserName: assistantCommentName,
				Content:  text,
			}
			if err := tx.Create(comment).Error; err != nil {
				return fmt.Errorf("failed to seed comment: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.momentResponse(moment, defaultUserName)
}

// ========== Timeline CRUD ==========

// CreateMoment publishes a post directly.
func (s *MomentService) CreateMoment(req *models.MomentCreateRequest) (*models.MomentResponse, error) {
	content := strings.TrimSpace(req.Content)
	images := s.preparer.SanitizeImageURLs(req.ImageURLs)
	if content == "" && len(images) == 0 {
		return nil, ErrMomentEmptySource
	}

	moment := &db.Moment{
		ID:              uuid.New().String(),
		AuthorName:      normalizeUserName(req.AuthorName),
		AuthorAvatarURL: strings.TrimSpace(req.AuthorAvatarURL),
		Content:         content,
		ImageURLs:       images,
		Location:        strings.TrimSpace(req.Location),
		ConversationID:  req.SessionID,
	}
	if err := s.db.Create(moment).Error; err != nil {
		return nil, fmt.Errorf("failed to create moment: %w", err)
	}
	return s.momentResponse(moment, defaultUserName)
}

// ListMoments returns the paged timeline, newest first, with like and
// comment state resolved for the viewing user.
func (s *MomentService) ListMoments(page, limit int, viewer string) (*models.MomentsListResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	viewer = normalizeUserName(viewer)
	offset := (page - 1) * limit

	var total int64
	if err := s.db.Model(&db.Moment{}).Count(&total).Error; err != nil {
		return nil, err
	}

	var moments []db.Moment
	if err := s.db.Order("created_at DESC").Limit(limit).Offset(offset).Find(&moments).Error; err != nil {
		return nil, err
	}

	responses := make([]models.MomentResponse, 0, len(moments))
	for i := range moments {
		resp, err := s.momentResponse(&moments[i], viewer)
		if err != nil {
			return nil, err
		}
		responses = append(responses, *resp)
	}

	return &models.MomentsListResponse{
		Moments: responses,
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: int64(offset+len(moments)) < total,
	}, nil
}

// ToggleLike flips the user's like on a moment and reports the new
// state.
func (s *MomentService) ToggleLike(momentID string, userName string) (*models.MomentLikeToggleResponse, error) {
	if err := s.requireMoment(momentID); err != nil {
		return nil, err
	}
	userName = normalizeUserName(userName)

	liked := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var existing db.MomentLike
		err := tx.Where("moment_id = ? AND user_name = ?", momentID, userName).First(&existing).Error
		switch {
		case err == nil:
			return tx.Delete(&existing).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			liked = true
			return tx.Create(&db.MomentLike{
				ID:       uuid.New().String(),
				MomentID: momentID,
				UserName: userName,
			}).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}

	likes, err := s.momentLikes(momentID)
	if err != nil {
		return nil, err
	}
	return &models.MomentLikeToggleResponse{
		MomentID:  momentID,
		Liked:     liked,
		LikeCount: len(likes),
		Likes:     likes,
	}, nil
}

// AddComment appends a comment, optionally threaded under a parent
// comment on the same moment.
func (s *MomentService) AddComment(momentID string, req *models.MomentCommentCreateRequest) (*models.MomentCommentResponse, error) {
	if err := s.requireMoment(momentID); err != nil {
		return nil, err
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		return nil, errors.New("comment content is required")
	}

	replyTo := strings.TrimSpace(req.ReplyToName)
	if req.ParentID != nil && *req.ParentID != "" {
		var parent db.MomentComment
		if err := s.db.First(&parent, "id = ?", *req.ParentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrCommentParentInvalid
			}
			return nil, err
		}
		if parent.MomentID != momentID {
			return nil, ErrCommentParentInvalid
		}
		if replyTo == "" {
			replyTo = parent.UserName
		}
	}

	comment := &db.MomentComment{
		ID:          uuid.New().String(),
		MomentID:    momentID,
		ParentID:    req.ParentID,
		UserName:    normalizeUserName(req.UserName),
		ReplyToName: replyTo,
		Content:     content,
	}
	if err := s.db.Create(comment).Error; err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}
	resp := commentResponse(comment)
	return &resp, nil
}

// DeleteMoment removes a post and its likes and comments. Only the
// author may delete.
func (s *MomentService) DeleteMoment(momentID string, userName string) (*models.MomentDeleteResponse, error) {
	var moment db.Moment
	if err := s.db.First(&moment, "id = ?", momentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMomentNotFound
		}
		return nil, err
	}
	if moment.AuthorName != normalizeUserName(userName) {
		return nil, ErrNotMomentAuthor
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("moment_id = ?", momentID).Delete(&db.MomentLike{}).Error; err != nil {
			return err
		}
		if err := tx.Where("moment_id = ?", momentID).Delete(&db.MomentComment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&moment).Error
	})
	if err != nil {
		return nil, err
	}
	return &models.MomentDeleteResponse{MomentID: momentID, Deleted: true}, nil
}

// ========== Serialization helpers ==========

func (s *MomentService) requireMoment(momentID string) error {
	var moment db.Moment
	if err := s.db.Select("id").First(&moment, "id = ?", momentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrMomentNotFound
		}
		return err
	}
	return nil
}

func (s *MomentService) momentLikes(momentID string) ([]string, error) {
	var likes []db.MomentLike
	if err := s.db.Where("moment_id = ?", momentID).Order("created_at ASC").Find(&likes).Error; err != nil {
		return nil, err
	}
	names := make([]string, 0, len(likes))
	for i := range likes {
		names = append(names, likes[i].UserName)
	}
	return names, nil
}

func (s *MomentService) momentResponse(moment *db.Moment, viewer string) (*models.MomentResponse, error) {
	likes, err := s.momentLikes(moment.ID)
	if err != nil {
		return nil, err
	}

	var comments []db.MomentComment
	if err := s.db.Where("moment_id = ?", moment.ID).Order("created_at ASC").Find(&comments).Error; err != nil {
		return nil, err
	}
	commentViews := make([]models.MomentCommentResponse, 0, len(comments))
	for i := range comments {
		commentViews = append(commentViews, commentResponse(&comments[i]))
	}

	likedByMe := false
	for _, name := range likes {
		if name == viewer {
			likedByMe = true
			break
		}
	}

	return &models.MomentResponse{
		ID:              moment.ID,
		AuthorName:      moment.AuthorName,
		AuthorAvatarURL: moment.AuthorAvatarURL,
		Content:         moment.Content,
		ImageURLs:       s.preparer.SanitizeImageURLs(moment.ImageURLs),
		Location:        moment.Location,
		SessionID:       moment.ConversationID,
		CreatedAt:       moment.CreatedAt.UTC().Format(time.RFC3339),
		LikeCount:       len(likes),
		CommentCount:    len(commentViews),
		Likes:           likes,
		LikedByMe:       likedByMe,
		Comments:        commentViews,
	}, nil
}

func commentResponse(comment *db.MomentComment) models.MomentCommentResponse {
	return models.MomentCommentResponse{
		ID:          comment.ID,
		MomentID:    comment.MomentID,
		ParentID:    comment.ParentID,
		UserName:    comment.UserName,
		ReplyToName: comment.ReplyToName,
		Content:     comment.Content,
		CreatedAt:   comment.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func normalizeUserName(name string) string {
	if normalized := strings.TrimSpace(name); normalized != "" {
		return normalized
	}
	return defaultUserName
}
