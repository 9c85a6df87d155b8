package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/service"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum frame size allowed from peer
	maxMessageSize = 8 * 1024
)

// Client is one websocket connection watching a single stream
type Client struct {
	ID       string
	hub      *Hub
	conn     *websocket.Conn
	streamID uint
	// actor is nil for anonymous viewers, who may watch but not write
	actor *models.Actor
	send  chan []byte
	log   *logger.Logger

	chat      *service.ChatFeed
	reactions *service.ReactionFeed

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// close tears the connection down; safe to call from any goroutine, more than once
func (c *Client) close() {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
		c.chat.Close()
		c.reactions.Close()
		_ = c.conn.Close()
		c.hub.leave(c)
	})
}

// enqueue queues a frame for the write pump. A client whose queue is full
// is disconnected rather than allowed to stall delivery.
func (c *Client) enqueue(frameType string, content any) {
	payload, err := json.Marshal(Frame{Type: frameType, Content: content})
	if err != nil {
		c.log.LogError(err, "Failed to encode frame", "type", frameType)
		return
	}

	select {
	case <-c.done:
	case c.send <- payload:
	default:
		c.log.Warn("Client send queue full, disconnecting", "client_id", c.ID)
		go c.close()
	}
}

func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Debug("Websocket read failed", "client_id", c.ID, "error", err.Error())
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError(apperrors.NewValidationError(CodeInvalidFrame, "Frame is not valid JSON"))
			continue
		}
		c.handle(frame)
	}
}

func (c *Client) handle(frame inboundFrame) {
	switch frame.Type {
	case FramePing:
		c.enqueue(FramePong, nil)
	case FrameChat:
		c.handleChat(frame.Content)
	case FrameReaction, FrameOverlay:
		c.handleReaction(frame.Type, frame.Content)
	default:
		c.sendError(apperrors.NewValidationError(CodeInvalidFrame, "Unknown frame type: "+frame.Type))
	}
}

// handleChat runs a message through the pipeline and answers with an ack
// or a rejection carrying the client's nonce, so an optimistic local echo
// can be confirmed or rolled back. The inserted message itself arrives
// through the chat feed like everyone else's.
func (c *Client) handleChat(raw json.RawMessage) {
	var in chatInput
	if err := json.Unmarshal(raw, &in); err != nil {
		c.enqueue(FrameChatRejected, rejection(in.Nonce, apperrors.NewValidationError(CodeInvalidFrame, "Malformed chat frame")))
		return
	}

	result, err := c.hub.chat.Send(c.ctx, c.actor, c.streamID, in.Content)
	if err != nil {
		c.enqueue(FrameChatRejected, rejection(in.Nonce, err))
		return
	}
	c.enqueue(FrameChatAck, chatAck{
		Nonce:   in.Nonce,
		Message: result.Message,
		Action:  string(result.Action),
		Reason:  result.Reason,
	})
}

func (c *Client) handleReaction(kind string, raw json.RawMessage) {
	var req models.ReactionRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		c.sendError(apperrors.NewValidationError(CodeInvalidFrame, "Malformed reaction frame"))
		return
	}
	req.Kind = kind
	if _, err := c.hub.reactions.Publish(c.ctx, c.actor, c.streamID, &req); err != nil {
		c.sendError(err)
	}
}

func (c *Client) sendError(err error) {
	appErr := apperrors.FromError(err)
	c.enqueue(FrameError, errorContent{
		Code:    appErr.Code,
		Message: appErr.Message,
		Details: appErr.Details,
	})
}

// forward relays feed events to the peer until the chat feed ends. A chat
// feed that ends was evicted for falling behind; the client must reconnect
// for a fresh snapshot.
func (c *Client) forward() {
	chatEvents := c.chat.Events()
	reactionEvents := c.reactions.Events()

	for {
		select {
		case <-c.done:
			return

		case ev, ok := <-chatEvents:
			if !ok {
				if c.chat.Evicted() {
					c.log.Warn("Client fell behind the chat feed", "client_id", c.ID, "stream_id", c.streamID)
				}
				c.close()
				return
			}
			c.enqueue(chatFrameType(ev.Kind), ev)

		case ev, ok := <-reactionEvents:
			if !ok {
				reactionEvents = nil
				continue
			}
			c.enqueue(FrameReaction, ev)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			// drain what queued up meanwhile, one frame per message
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.conn.WriteMessage(websocket.TextMessage, <-c.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
