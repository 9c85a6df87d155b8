package api

import (
	"net/http"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/service"
	"streamkit/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// ChatHandler serves chat ingestion, history and moderator actions
type ChatHandler struct {
	chat *service.ChatService
}

// NewChatHandler creates a ChatHandler
func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// RegisterRoutes registers chat routes on the /streams group
func (h *ChatHandler) RegisterRoutes(streams *gin.RouterGroup) {
	chat := streams.Group("/:streamId/chat")
	chat.GET("/messages", h.RecentMessages)

	authed := chat.Group("", middleware.RequireUser())
	{
		authed.POST("/messages", h.SendMessage)
		authed.DELETE("/messages/:messageId", h.DeleteMessage)

		authed.GET("/bans", h.ListBans)
		authed.POST("/bans", h.BanUser)
		authed.DELETE("/bans/:userId", h.UnbanUser)

		authed.GET("/timeouts", h.ListTimeouts)
		authed.POST("/timeouts", h.TimeoutUser)
		authed.DELETE("/timeouts/:userId", h.RemoveTimeout)
	}
}

// RecentMessages returns the latest visible chat messages, oldest first
func (h *ChatHandler) RecentMessages(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	messages, err := h.chat.RecentMessages(requestContext(c), streamID, intQuery(c, "limit", 0))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// SendMessage runs content through the ingestion pipeline. Slash commands
// are executed and answered with the resulting moderator message.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	var req models.SendMessageRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.chat.Send(requestContext(c), currentActor(c), streamID, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

// DeleteMessage soft-deletes a chat message
func (h *ChatHandler) DeleteMessage(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	messageID, ok := idParam(c, "messageId")
	if !ok {
		return
	}
	msg, err := h.chat.DeleteMessage(requestContext(c), currentActor(c), streamID, messageID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, msg)
}

// ListBans lists the stream's bans for moderators
func (h *ChatHandler) ListBans(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	bans, err := h.chat.ListBans(requestContext(c), currentActor(c), streamID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bans": bans})
}

// BanUser bans a user from the stream's chat
func (h *ChatHandler) BanUser(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	var req models.ModerationRequest
	if !bindJSON(c, &req) {
		return
	}
	ban, err := h.chat.BanUser(requestContext(c), currentActor(c), streamID, &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, ban)
}

// UnbanUser lifts a ban
func (h *ChatHandler) UnbanUser(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	if err := h.chat.UnbanUser(requestContext(c), currentActor(c), streamID, c.Param("userId")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListTimeouts lists timeouts still in force
func (h *ChatHandler) ListTimeouts(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	timeouts, err := h.chat.ListTimeouts(requestContext(c), currentActor(c), streamID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"timeouts": timeouts})
}

// TimeoutUser times a user out for the requested number of seconds
func (h *ChatHandler) TimeoutUser(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	var req models.ModerationRequest
	if !bindJSON(c, &req) {
		return
	}
	timeout, err := h.chat.TimeoutUser(requestContext(c), currentActor(c), streamID, &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, timeout)
}

// RemoveTimeout lifts a timeout early
func (h *ChatHandler) RemoveTimeout(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	if err := h.chat.RemoveTimeout(requestContext(c), currentActor(c), streamID, c.Param("userId")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
