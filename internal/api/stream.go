package api

import (
	"net/http"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/service"
	"streamkit/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// StreamHandler serves stream sessions, audience membership and the
// interaction tracker
type StreamHandler struct {
	streams *service.StreamService
	tracker *service.Tracker
}

// NewStreamHandler creates a StreamHandler
func NewStreamHandler(streams *service.StreamService, tracker *service.Tracker) *StreamHandler {
	return &StreamHandler{streams: streams, tracker: tracker}
}

// RegisterRoutes registers stream routes on the /streams group
func (h *StreamHandler) RegisterRoutes(streams *gin.RouterGroup) {
	auth := middleware.RequireUser()

	streams.GET("", h.ListStreams)
	streams.POST("", auth, h.CreateStream)
	streams.GET("/:streamId", h.GetStream)
	streams.POST("/:streamId/start", auth, h.StartStream)
	streams.POST("/:streamId/end", auth, h.EndStream)
	streams.PUT("/:streamId/chat-enabled", auth, h.SetChatEnabled)
	streams.POST("/:streamId/follow", auth, h.Follow)
	streams.DELETE("/:streamId/follow", auth, h.Unfollow)
	streams.POST("/:streamId/subscribers", auth, h.GrantSubscription)
	streams.GET("/:streamId/interactions", h.Interactions)
}

// CreateStream creates a stream session owned by the caller
func (h *StreamHandler) CreateStream(c *gin.Context) {
	var req models.CreateStreamRequest
	if !bindJSON(c, &req) {
		return
	}

	stream, err := h.streams.CreateStream(requestContext(c), currentActor(c), &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, stream)
}

// ListStreams lists streams, only live ones when ?live=true
func (h *StreamHandler) ListStreams(c *gin.Context) {
	streams, err := h.streams.ListStreams(requestContext(c), c.Query("live") == "true")
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"streams": streams})
}

// GetStream returns a stream session
func (h *StreamHandler) GetStream(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	stream, err := h.streams.GetStream(requestContext(c), streamID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stream)
}

// StartStream marks a stream live
func (h *StreamHandler) StartStream(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	stream, err := h.streams.StartStream(requestContext(c), currentActor(c), streamID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stream)
}

// EndStream ends a stream
func (h *StreamHandler) EndStream(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	stream, err := h.streams.EndStream(requestContext(c), currentActor(c), streamID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stream)
}

// SetChatEnabled turns chat on or off
func (h *StreamHandler) SetChatEnabled(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	var req models.UpdateChatEnabledRequest
	if !bindJSON(c, &req) {
		return
	}
	stream, err := h.streams.SetChatEnabled(requestContext(c), currentActor(c), streamID, req.Enabled)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, stream)
}

// Follow records the caller as a follower
func (h *StreamHandler) Follow(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	f, err := h.streams.Follow(requestContext(c), currentActor(c), streamID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

// Unfollow removes the caller's follow
func (h *StreamHandler) Unfollow(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	if err := h.streams.Unfollow(requestContext(c), currentActor(c), streamID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GrantSubscription mirrors a subscription purchased through billing
func (h *StreamHandler) GrantSubscription(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	var req models.GrantSubscriptionRequest
	if !bindJSON(c, &req) {
		return
	}
	sub, err := h.streams.GrantSubscription(requestContext(c), currentActor(c), streamID, req.UserID, req.Tier, req.ExpiresAt)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sub)
}

// Interactions returns the tracker snapshot: totals, recent entries and the leaderboard
func (h *StreamHandler) Interactions(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	ctx := requestContext(c)
	if _, err := h.streams.GetStream(ctx, streamID); err != nil {
		fail(c, err)
		return
	}
	snap, err := h.tracker.Snapshot(ctx, streamID, intQuery(c, "recent", 20), intQuery(c, "top", 10))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
