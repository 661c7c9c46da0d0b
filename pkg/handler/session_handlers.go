// Session HTTP handlers - conversation history and derived posts
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/heartside/heartside/pkg/models"
	"github.com/heartside/heartside/pkg/service"
)

// SessionHandler handles conversation-history HTTP requests
type SessionHandler struct {
	chatService   *service.ChatService
	momentService *service.MomentService
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(chatService *service.ChatService, momentService *service.MomentService) *SessionHandler {
	return &SessionHandler{
		chatService:   chatService,
		momentService: momentService,
	}
}

// RegisterRoutes registers session routes
func (h *SessionHandler) RegisterRoutes(r *gin.RouterGroup) {
	sessions := r.Group("/sessions")
	{
		sessions.GET("", h.ListSessions)
		sessions.DELETE("", h.ClearSessions)
		sessions.GET("/:id/messages", h.GetMessages)
		sessions.POST("/:id/moment", h.CreateMoment)
	}
}

// ListSessions returns the paged conversation list
// GET /api/sessions?page=1&limit=20
func (h *SessionHandler) ListSessions(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit > 100 {
		limit = 100
	}

	resp, err := h.chatService.GetSessions(page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ClearSessions wipes the full conversation history
// DELETE /api/sessions
func (h *SessionHandler) ClearSessions(c *gin.Context) {
	resp, err := h.chatService.ClearSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GetMessages returns the full history of one conversation
// GET /api/sessions/:id/messages
func (h *SessionHandler) GetMessages(c *gin.Context) {
	resp, err := h.chatService.GetSessionMessages(c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrConversationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "对话不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CreateMoment derives a timeline post from a conversation
// POST /api/sessions/:id/moment
func (h *SessionHandler) CreateMoment(c *gin.Context) {
	var req models.SessionToMomentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.momentService.CreateMomentFromConversation(c.Request.Context(), c.Param("id"), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrConversationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "对话不存在"})
		case errors.Is(err, service.ErrMomentEmptySource):
			c.JSON(http.StatusBadRequest, gin.H{"error": "该对话暂无可生成的内容"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}
