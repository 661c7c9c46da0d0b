// Chat HTTP handlers - streaming companion chat and transcription
package handler

import (
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/heartside/heartside/pkg/models"
	"github.com/heartside/heartside/pkg/service"
)

// maxAudioUploadBytes caps one transcription upload.
const maxAudioUploadBytes = 25 << 20

// ChatHandler handles chat-related HTTP requests
type ChatHandler struct {
	chatService *service.ChatService
	transcriber service.TranscriptionProvider
}

// NewChatHandler creates a new chat handler
func NewChatHandler(chatService *service.ChatService, transcriber service.TranscriptionProvider) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		transcriber: transcriber,
	}
}

// RegisterRoutes registers chat routes
func (h *ChatHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/chat", h.Chat)
	r.POST("/transcribe", h.Transcribe)
}

// Chat handles one streamed chat turn
// POST /api/chat
//
// The response is a plain-text chunk stream: the first chunk is
// "session:<id>", subsequent chunks are reply deltas, and a terminal
// failure is a single "error: "-prefixed chunk.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering

	units := h.chatService.ProcessChat(c.Request.Context(), &req)

	w := c.Writer
	for unit := range units {
		fmt.Fprint(w, unit)
		w.Flush()
	}
}

// Transcribe converts an uploaded audio clip to text
// POST /api/transcribe
func (h *ChatHandler) Transcribe(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audio file is required"})
		return
	}
	if fileHeader.Size > maxAudioUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "audio file too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(io.LimitReader(file, maxAudioUploadBytes))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	text, err := h.transcriber.Transcribe(c.Request.Context(), audio, fileHeader.Filename)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, models.TranscriptionResponse{Text: text})
}
