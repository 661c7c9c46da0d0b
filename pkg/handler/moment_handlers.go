// Moment HTTP handlers - the timeline surface
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/heartside/heartside/pkg/models"
	"github.com/heartside/heartside/pkg/service"
)

// MomentHandler handles timeline HTTP requests
type MomentHandler struct {
	momentService *service.MomentService
}

// NewMomentHandler creates a new moment handler
func NewMomentHandler(momentService *service.MomentService) *MomentHandler {
	return &MomentHandler{
		momentService: momentService,
	}
}

// RegisterRoutes registers timeline routes
func (h *MomentHandler) RegisterRoutes(r *gin.RouterGroup) {
	moments := r.Group("/moments")
	{
		moments.GET("", h.ListMoments)
		moments.POST("", h.CreateMoment)
		moments.POST("/:id/likes/toggle", h.ToggleLike)
		moments.POST("/:id/comments", h.AddComment)
		moments.DELETE("/:id", h.DeleteMoment)
	}
}

// ListMoments returns the paged timeline
// GET /api/moments?page=1&limit=10&user_name=你
func (h *MomentHandler) ListMoments(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	if limit > 100 {
		limit = 100
	}

	resp, err := h.momentService.ListMoments(page, limit, c.Query("user_name"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// CreateMoment publishes a post directly
// POST /api/moments
func (h *MomentHandler) CreateMoment(c *gin.Context) {
	var req models.MomentCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.momentService.CreateMoment(&req)
	if err != nil {
		if errors.Is(err, service.ErrMomentEmptySource) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "动态内容不能为空"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ToggleLike flips the caller's like on a moment
// POST /api/moments/:id/likes/toggle
func (h *MomentHandler) ToggleLike(c *gin.Context) {
	var req models.MomentLikeToggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.momentService.ToggleLike(c.Param("id"), req.UserName)
	if err != nil {
		if errors.Is(err, service.ErrMomentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "动态不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

// AddComment appends a comment to a moment
// POST /api/moments/:id/comments
func (h *MomentHandler) AddComment(c *gin.Context) {
	var req models.MomentCommentCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.momentService.AddComment(c.Param("id"), &req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMomentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "动态不存在"})
		case errors.Is(err, service.ErrCommentParentInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": "父评论不属于该动态"})
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}

// DeleteMoment removes a post
// DELETE /api/moments/:id?user_name=你
func (h *MomentHandler) DeleteMoment(c *gin.Context) {
	resp, err := h.momentService.DeleteMoment(c.Param("id"), c.Query("user_name"))
	if err != nil {
		switch {
		case errors.Is(err, service.ErrMomentNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "动态不存在"})
		case errors.Is(err, service.ErrNotMomentAuthor):
			c.JSON(http.StatusForbidden, gin.H{"error": "只能删除自己发布的动态"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, resp)
}
