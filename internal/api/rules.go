package api

import (
	"net/http"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/service"
	"streamkit/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// RuleHandler serves the moderation rule store: settings, filters, emotes
// and the moderator set
type RuleHandler struct {
	rules *service.RuleService
}

// NewRuleHandler creates a RuleHandler
func NewRuleHandler(rules *service.RuleService) *RuleHandler {
	return &RuleHandler{rules: rules}
}

// RegisterRoutes registers rule routes on the /streams group
func (h *RuleHandler) RegisterRoutes(streams *gin.RouterGroup) {
	auth := middleware.RequireUser()

	streams.GET("/:streamId/chat/settings", h.GetSettings)
	streams.PUT("/:streamId/chat/settings", auth, h.UpdateSettings)

	streams.GET("/:streamId/chat/filters", auth, h.ListFilters)
	streams.POST("/:streamId/chat/filters", auth, h.CreateFilter)
	streams.PATCH("/:streamId/chat/filters/:filterId", auth, h.UpdateFilter)
	streams.DELETE("/:streamId/chat/filters/:filterId", auth, h.DeleteFilter)

	streams.GET("/:streamId/emotes", h.ListEmotes)
	streams.POST("/:streamId/emotes", auth, h.CreateEmote)
	streams.DELETE("/:streamId/emotes/:emoteId", auth, h.DeleteEmote)

	streams.GET("/:streamId/moderators", h.ListModerators)
	streams.POST("/:streamId/moderators", auth, h.AddModerator)
	streams.DELETE("/:streamId/moderators/:userId", auth, h.RemoveModerator)
}

// GetSettings returns the stream's chat settings
func (h *RuleHandler) GetSettings(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	settings, err := h.rules.GetSettings(requestContext(c), streamID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// UpdateSettings replaces the whole settings document
func (h *RuleHandler) UpdateSettings(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	var req models.ChatSettings
	if !bindJSON(c, &req) {
		return
	}
	settings, err := h.rules.UpdateSettings(requestContext(c), currentActor(c), streamID, req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, settings)
}

// ListFilters lists chat filters for moderators
func (h *RuleHandler) ListFilters(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	filters, err := h.rules.ListFilters(requestContext(c), currentActor(c), streamID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"filters": filters})
}

// CreateFilter adds a chat filter
func (h *RuleHandler) CreateFilter(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	var req models.CreateFilterRequest
	if !bindJSON(c, &req) {
		return
	}
	filter, err := h.rules.CreateFilter(requestContext(c), currentActor(c), streamID, &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, filter)
}

// UpdateFilter enables or disables a chat filter
func (h *RuleHandler) UpdateFilter(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	filterID, ok := idParam(c, "filterId")
	if !ok {
		return
	}
	var req models.UpdateFilterRequest
	if !bindJSON(c, &req) {
		return
	}
	filter, err := h.rules.SetFilterActive(requestContext(c), currentActor(c), streamID, filterID, req.IsActive)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, filter)
}

// DeleteFilter removes a chat filter
func (h *RuleHandler) DeleteFilter(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	filterID, ok := idParam(c, "filterId")
	if !ok {
		return
	}
	if err := h.rules.DeleteFilter(requestContext(c), currentActor(c), streamID, filterID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListEmotes lists the stream's emotes
func (h *RuleHandler) ListEmotes(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	emotes, err := h.rules.ListEmotes(requestContext(c), streamID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"emotes": emotes})
}

// CreateEmote adds an emote
func (h *RuleHandler) CreateEmote(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	var req models.CreateEmoteRequest
	if !bindJSON(c, &req) {
		return
	}
	emote, err := h.rules.CreateEmote(requestContext(c), currentActor(c), streamID, &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, emote)
}

// DeleteEmote removes an emote
func (h *RuleHandler) DeleteEmote(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	emoteID, ok := idParam(c, "emoteId")
	if !ok {
		return
	}
	if err := h.rules.DeleteEmote(requestContext(c), currentActor(c), streamID, emoteID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListModerators lists the stream's moderators
func (h *RuleHandler) ListModerators(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	mods, err := h.rules.ListModerators(requestContext(c), streamID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"moderators": mods})
}

// AddModerator adds a moderator
func (h *RuleHandler) AddModerator(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	var req models.AddModeratorRequest
	if !bindJSON(c, &req) {
		return
	}
	mod, err := h.rules.AddModerator(requestContext(c), currentActor(c), streamID, req.UserID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, mod)
}

// RemoveModerator removes a moderator
func (h *RuleHandler) RemoveModerator(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	if err := h.rules.RemoveModerator(requestContext(c), currentActor(c), streamID, c.Param("userId")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
