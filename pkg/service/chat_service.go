// Chat service - streaming completion orchestration over stored conversations
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/heartside/heartside/pkg/db"
	"github.com/heartside/heartside/pkg/models"
	"github.com/heartside/heartside/pkg/tokens"
	"github.com/heartside/heartside/pkg/utils"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrInputTooLarge        = errors.New("input exceeds model context limit")
)

const (
	// sessionUnitPrefix tags the very first output unit of a chat
	// turn, carrying the conversation id.
	sessionUnitPrefix = "session:"

	// errorUnitPrefix tags the single terminal error unit. No further
	// units follow it.
	errorUnitPrefix = "error: "

	// titleMaxRunes caps the conversation title derived from the
	// first user turn.
	titleMaxRunes = 40

	defaultTitle = "新对话"
)

// ChatService owns the per-turn orchestration: conversation
// resolution, durable persistence of the user turn, history
// truncation, budget checks, streaming completion and persistence of
// the full assistant reply.
type ChatService struct {
	db        *gorm.DB
	provider  CompletionProvider
	preparer  *ImagePreparer
	estimator *tokens.Estimator
	budget    tokens.BudgetParams
	logger    *slog.Logger
}

// NewChatService creates a chat service. The completion provider is
// chosen once by the caller (live or scripted) and injected.
func NewChatService(database *gorm.DB, provider CompletionProvider, preparer *ImagePreparer, estimator *tokens.Estimator, budget tokens.BudgetParams) *ChatService {
	return &ChatService{
		db:        database,
		provider:  provider,
		preparer:  preparer,
		estimator: estimator,
		budget:    budget,
		logger:    utils.GetLogger(),
	}
}

// AutoMigrate creates the conversation tables.
func (s *ChatService) AutoMigrate() error {
	return s.db.AutoMigrate(&db.Conversation{}, &db.Message{})
}

// ========== Conversation management ==========

// GetConversation retrieves a conversation by id.
func (s *ChatService) GetConversation(id string) (*db.Conversation, error) {
	var conv db.Conversation
	if err := s.db.First(&conv, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	return &conv, nil
}

// getOrCreateConversation resolves an existing conversation or creates
// a new one when no id is supplied or the id is unknown.
func (s *ChatService) getOrCreateConversation(id string) (*db.Conversation, error) {
	if id != "" {
		conv, err := s.GetConversation(id)
		if err == nil {
			return conv, nil
		}
		if !errors.Is(err, ErrConversationNotFound) {
			return nil, err
		}
	}

	conv := &db.Conversation{ID: uuid.New().String()}
	if err := s.db.Create(conv).Error; err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// deriveTitle builds a conversation title from the first user turn:
// internal whitespace collapsed, truncated to a fixed rune cap.
func deriveTitle(content string) string {
	normalized := strings.Join(strings.Fields(content), " ")
	if normalized == "" {
		return defaultTitle
	}
	runes := []rune(normalized)
	if len(runes) > titleMaxRunes {
		runes = runes[:titleMaxRunes]
	}
	return string(runes)
}

// ========== Streaming chat ==========

// ProcessChat runs one chat turn and returns a lazy, ordered,
// single-pass sequence of output units. The first unit is always
// "session:<conversationId>"; subsequent units are raw reply deltas. A
// terminal error is signaled by a single "error: "-prefixed unit with
// no further units.
//
// If the caller's context is cancelled mid-stream, the in-flight
// provider call is cancelled and the partial assistant reply is
// discarded: only fully streamed replies are persisted.
func (s *ChatService) ProcessChat(ctx context.Context, req *models.ChatRequest) <-chan string {
	units := make(chan string, 16)
	go func() {
		defer close(units)
		s.processChat(ctx, req, units)
	}()
	return units
}

func (s *ChatService) processChat(ctx context.Context, req *models.ChatRequest, units chan<- string) {
	conv, err := s.getOrCreateConversation(req.SessionID)
	if err != nil {
		s.logger.Error("Failed to resolve conversation", "error", err)
		s.emit(ctx, units, errorUnitPrefix+err.Error())
		return
	}

	// The conversation id goes out before any model output so a
	// caller that started without an id learns it immediately.
	if !s.emit(ctx, units, sessionUnitPrefix+conv.ID) {
		return
	}

	now := time.Now()
	updates := map[string]interface{}{"updated_at": now}
	if conv.Title == "" && strings.TrimSpace(req.Message) != "" {
		updates["title"] = deriveTitle(req.Message)
	}
	if err := s.db.Model(&db.Conversation{}).Where("id = ?", conv.ID).Updates(updates).Error; err != nil {
		s.logger.Error("Failed to update conversation metadata", "error", err, "conversationID", conv.ID)
	}

	// Persist the user turn before any model call so a later failure
	// never loses user input.
	userMsg := &db.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           db.RoleUser,
		Content:        req.Message,
		ImageURLs:      req.ImageURLs,
		AudioText:      req.AudioText,
	}
	if err := s.db.Create(userMsg).Error; err != nil {
		s.logger.Error("Failed to persist user message", "error", err, "conversationID", conv.ID)
		s.emit(ctx, units, errorUnitPrefix+"failed to persist message")
		return
	}

	history, err := s.recentHistory(conv.ID)
	if err != nil {
		s.logger.Error("Failed to load history", "error", err, "conversationID", conv.ID)
		s.emit(ctx, units, errorUnitPrefix+"failed to load history")
		return
	}

	inputTokens := s.estimator.ConversationCost(history)
	available := s.budget.MaxContextTokens - inputTokens - s.budget.SafetyMargin
	if available < 1 {
		s.logger.Error("Input exceeds context budget",
			"conversationID", conv.ID,
			"inputTokens", inputTokens,
			"maxContextTokens", s.budget.MaxContextTokens)
		s.emit(ctx, units, fmt.Sprintf("%s%v (%d tokens, limit %d)",
			errorUnitPrefix, ErrInputTooLarge, inputTokens, s.budget.MaxContextTokens))
		return
	}

	completionTokens := s.completionCap(req.MaxCompletionTokens, available)
	s.logger.Debug("Token budget",
		"conversationID", conv.ID,
		"inputTokens", inputTokens,
		"available", available,
		"completionTokens", completionTokens)

	payload := s.preparer.BuildPayload(history)

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := s.provider.StreamCompletion(streamCtx, payload, completionTokens)
	if err != nil {
		s.logger.Error("Completion stream failed to start", "error", err, "conversationID", conv.ID)
		s.emit(ctx, units, errorUnitPrefix+err.Error())
		return
	}
	defer stream.Close()

	// Forward deltas as they arrive while accumulating the full
	// reply. A mid-stream failure keeps whatever was already emitted
	// but persists nothing: the full transcript was never obtained.
	var full strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if streamCtx.Err() != nil {
				s.logger.Info("Chat stream cancelled", "conversationID", conv.ID)
				return
			}
			s.logger.Error("Completion stream error", "error", err, "conversationID", conv.ID)
			s.emit(ctx, units, errorUnitPrefix+err.Error())
			return
		}
		if chunk.Content == "" {
			continue
		}
		if !s.emit(ctx, units, chunk.Content) {
			return
		}
		full.WriteString(chunk.Content)
	}

	// A cancelled caller may leave a provider that closed its stream
	// early; the transcript is partial and must not be persisted.
	if ctx.Err() != nil {
		return
	}

	assistantMsg := &db.Message{
		ID:             uuid.New().String(),
		ConversationID: conv.ID,
		Role:           db.RoleAssistant,
		Content:        full.String(),
	}
	if err := s.db.Create(assistantMsg).Error; err != nil {
		s.logger.Error("Failed to persist assistant message", "error", err, "conversationID", conv.ID)
		s.emit(ctx, units, errorUnitPrefix+"failed to persist reply")
		return
	}
	s.db.Model(&db.Conversation{}).Where("id = ?", conv.ID).Update("updated_at", time.Now())
}

// emit sends one unit unless the caller has gone away.
func (s *ChatService) emit(ctx context.Context, units chan<- string, unit string) bool {
	select {
	case <-ctx.Done():
		return false
	case units <- unit:
		return true
	}
}

// recentHistory loads the newest messages of a conversation (bounded
// by the history message cap), oldest-first, and trims them to the
// history token budget.
func (s *ChatService) recentHistory(conversationID string) ([]db.Message, error) {
	var newest []db.Message
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at DESC").
		Limit(s.budget.MaxHistoryMessages).
		Find(&newest).Error; err != nil {
		return nil, err
	}

	history := make([]db.Message, 0, len(newest))
	for i := len(newest) - 1; i >= 0; i-- {
		history = append(history, newest[i])
	}

	return s.estimator.Truncate(history, s.budget.MaxHistoryMessages, s.budget.MaxHistoryTokens), nil
}

// completionCap determines the completion token limit: an explicit
// caller value is clamped to the available budget; otherwise a fixed
// fraction of the budget, clamped between floor and ceiling.
func (s *ChatService) completionCap(requested, available int) int {
	if requested > 0 {
		if requested > available {
			return available
		}
		return requested
	}

	limit := int(float64(available) * s.budget.CompletionFraction)
	if limit > s.budget.CompletionCeiling {
		limit = s.budget.CompletionCeiling
	}
	if limit < s.budget.CompletionFloor {
		limit = s.budget.CompletionFloor
	}
	return limit
}

// ========== Session listing and history ==========

// GetSessions returns the paged conversation list, newest first.
func (s *ChatService) GetSessions(page, limit int) (*models.SessionsResponse, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	offset := (page - 1) * limit

	var total int64
	if err := s.db.Model(&db.Conversation{}).Count(&total).Error; err != nil {
		return nil, err
	}

	var conversations []db.Conversation
	if err := s.db.Order("updated_at DESC").Limit(limit).Offset(offset).Find(&conversations).Error; err != nil {
		return nil, err
	}

	sessions := make([]models.SessionSummary, 0, len(conversations))
	for i := range conversations {
		conv := &conversations[i]

		var count int64
		if err := s.db.Model(&db.Message{}).Where("conversation_id = ?", conv.ID).Count(&count).Error; err != nil {
			return nil, err
		}

		title := conv.Title
		if title == "" {
			title = fmt.Sprintf("对话 %s", shortID(conv.ID))
		}

		sessions = append(sessions, models.SessionSummary{
			ID:           conv.ID,
			Title:        title,
			CreatedAt:    conv.CreatedAt.UTC().Format(time.RFC3339),
			MessageCount: count,
			PreviewImage: s.sessionPreviewImage(conv.ID),
		})
	}

	return &models.SessionsResponse{
		Sessions: sessions,
		Total:    total,
		Page:     page,
		Limit:    limit,
	}, nil
}

// sessionPreviewImage returns the first image reference of the
// conversation, if any.
func (s *ChatService) sessionPreviewImage(conversationID string) *string {
	var messages []db.Message
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil
	}
	for i := range messages {
		if len(messages[i].ImageURLs) > 0 {
			img := messages[i].ImageURLs[0]
			return &img
		}
	}
	return nil
}

// GetSessionMessages returns the full ordered history of a
// conversation with image references sanitized against the upload
// root.
func (s *ChatService) GetSessionMessages(conversationID string) (*models.SessionMessagesResponse, error) {
	conv, err := s.GetConversation(conversationID)
	if err != nil {
		return nil, err
	}

	var messages []db.Message
	if err := s.db.Where("conversation_id = ?", conversationID).
		Order("created_at ASC").
		Find(&messages).Error; err != nil {
		return nil, err
	}

	title := conv.Title
	if title == "" {
		title = fmt.Sprintf("对话 %s", shortID(conv.ID))
	}

	views := make([]models.MessageView, 0, len(messages))
	for i := range messages {
		msg := &messages[i]
		views = append(views, models.MessageView{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			ImageURLs: s.preparer.SanitizeImageURLs(msg.ImageURLs),
			AudioText: msg.AudioText,
			CreatedAt: msg.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	return &models.SessionMessagesResponse{
		Session:  models.SessionDetail{ID: conv.ID, Title: title},
		Messages: views,
	}, nil
}

// ClearSessions deletes every conversation and its messages, and
// detaches moments that referenced them.
func (s *ChatService) ClearSessions() (*models.ClearSessionsResponse, error) {
	result := &models.ClearSessionsResponse{}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Model(&db.Conversation{}).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		detach := tx.Model(&db.Moment{}).Where("conversation_id IN ?", ids).Update("conversation_id", nil)
		if detach.Error != nil {
			return detach.Error
		}
		result.DetachedMoments = detach.RowsAffected

		deleteMessages := tx.Where("conversation_id IN ?", ids).Delete(&db.Message{})
		if deleteMessages.Error != nil {
			return deleteMessages.Error
		}
		result.DeletedMessages = deleteMessages.RowsAffected

		deleteConversations := tx.Where("id IN ?", ids).Delete(&db.Conversation{})
		if deleteConversations.Error != nil {
			return deleteConversations.Error
		}
		result.DeletedSessions = deleteConversations.RowsAffected
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
