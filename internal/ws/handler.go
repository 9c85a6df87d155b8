package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/service"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Outbound frame types
const (
	FrameChatHistory  = "chat_history"
	FrameChatInsert   = "chat_insert"
	FrameChatDelete   = "chat_delete"
	FrameModeration   = "moderation"
	FrameChatAck      = "chat_ack"
	FrameChatRejected = "chat_rejected"
	FrameError        = "error"
	FramePong         = "pong"
)

// Inbound frame types; reaction frames also go out to viewers
const (
	FrameChat     = "chat"
	FrameReaction = "reaction"
	FrameOverlay  = "overlay"
	FramePing     = "ping"
)

// Error codes specific to the gateway
const (
	CodeInvalidFrame     = "INVALID_FRAME"
	CodeStreamAtCapacity = "STREAM_AT_CAPACITY"
	CodeOriginNotAllowed = "ORIGIN_NOT_ALLOWED"
)

func (h *Hub) newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		CheckOrigin:      h.originAllowed,
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
}

// originAllowed admits requests without an Origin header (non-browser
// clients) and browser origins on the allow list. An empty list or "*"
// admits every origin.
func (h *Hub) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// Frame is the envelope for every message in both directions
type Frame struct {
	Type    string `json:"type"`
	Content any    `json:"content,omitempty"`
}

type inboundFrame struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

type chatInput struct {
	Nonce   string `json:"nonce"`
	Content string `json:"content"`
}

type chatAck struct {
	Nonce   string              `json:"nonce"`
	Message *models.ChatMessage `json:"message"`
	Action  string              `json:"action"`
	Reason  string              `json:"reason,omitempty"`
}

type errorContent struct {
	Nonce   string `json:"nonce,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type historyContent struct {
	StreamID uint                 `json:"stream_id"`
	Messages []models.ChatMessage `json:"messages"`
}

func rejection(nonce string, err error) errorContent {
	appErr := apperrors.FromError(err)
	return errorContent{
		Nonce:   nonce,
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	}
}

func chatFrameType(kind string) string {
	switch kind {
	case service.ChatEventDelete:
		return FrameChatDelete
	case service.ChatEventModeration:
		return FrameModeration
	default:
		return FrameChatInsert
	}
}

// contextFor derives a connection context carrying the request's IDs
func contextFor(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithCancel(middleware.WithRequestContext(context.Background(), c))
}

// ServeWs upgrades a request on /ws/streams/:streamId. Feeds are opened
// before the upgrade so a missing stream or an unavailable broker is
// reported as a plain HTTP error.
func (h *Hub) ServeWs(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("streamId"), 10, 64)
	if err != nil || id == 0 {
		_ = c.Error(apperrors.NewValidationError("INVALID_REQUEST", "Invalid streamId"))
		return
	}
	streamID := uint(id)

	if !h.originAllowed(c.Request) {
		h.log.Warn("Websocket origin rejected", "stream_id", streamID, "origin", c.Request.Header.Get("Origin"))
		_ = c.Error(apperrors.NewForbiddenError(CodeOriginNotAllowed, "Origin is not allowed"))
		return
	}

	if limit := h.cfg.MaxConnsPerStream; limit > 0 && h.Connections(streamID) >= limit {
		_ = c.Error(apperrors.NewUnavailableError(CodeStreamAtCapacity, "Stream has reached its connection limit"))
		return
	}

	var actor *models.Actor
	if user, ok := middleware.CurrentUser(c); ok {
		actor = &models.Actor{ID: user.UserID, DisplayName: user.DisplayName, AvatarURL: user.AvatarURL}
	}

	ctx, cancel := contextFor(c)

	chatFeed, err := h.chat.Subscribe(ctx, streamID)
	if err != nil {
		cancel()
		_ = c.Error(err)
		return
	}
	reactionFeed, err := h.reactions.Subscribe(ctx, streamID)
	if err != nil {
		chatFeed.Close()
		cancel()
		_ = c.Error(err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("Websocket upgrade failed", "stream_id", streamID, "error", err.Error())
		chatFeed.Close()
		reactionFeed.Close()
		cancel()
		return
	}

	client := &Client{
		ID:        uuid.NewString(),
		hub:       h,
		conn:      conn,
		streamID:  streamID,
		actor:     actor,
		send:      make(chan []byte, h.cfg.SendBuffer),
		log:       h.log.WithStream(streamID).WithRequestID(middleware.GetRequestID(ctx)).WithUserID(middleware.GetViewerID(ctx)),
		chat:      chatFeed,
		reactions: reactionFeed,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	if !h.join(client) {
		client.close()
		return
	}

	client.enqueue(FrameChatHistory, historyContent{StreamID: streamID, Messages: chatFeed.Snapshot})

	go client.writePump()
	go client.forward()
	go client.readPump()
}
