package ws

import (
	"context"
	"sync"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/service"
	"streamkit/backend/pkg/logger"
	"streamkit/backend/shared/observability"

	"github.com/gorilla/websocket"
)

// ChatService is the part of the chat pipeline the gateway drives
type ChatService interface {
	Subscribe(ctx context.Context, streamID uint) (*service.ChatFeed, error)
	Send(ctx context.Context, actor *models.Actor, streamID uint, content string) (*service.IngestResult, error)
}

// ReactionBus is the part of the reaction bus the gateway drives
type ReactionBus interface {
	Subscribe(ctx context.Context, streamID uint) (*service.ReactionFeed, error)
	Publish(ctx context.Context, actor *models.Actor, streamID uint, req *models.ReactionRequest) (*service.ReactionEvent, error)
}

// Config tunes the gateway
type Config struct {
	MaxConnsPerStream int
	SendBuffer        int
	// AllowedOrigins lists browser origins that may open a connection
	AllowedOrigins []string
}

// DefaultConfig returns the gateway defaults
func DefaultConfig() Config {
	return Config{
		MaxConnsPerStream: 5000,
		SendBuffer:        256,
	}
}

// Hub tracks live connections per stream
type Hub struct {
	chat      ChatService
	reactions ReactionBus
	cfg       Config
	log       *logger.Logger
	upgrader  websocket.Upgrader

	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}

	mu      sync.RWMutex
	streams map[uint]map[*Client]struct{}
}

// NewHub creates a Hub; call Run before serving connections
func NewHub(chat ChatService, reactions ReactionBus, cfg Config, log *logger.Logger) *Hub {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = DefaultConfig().SendBuffer
	}
	h := &Hub{
		chat:       chat,
		reactions:  reactions,
		cfg:        cfg,
		log:        log.WithComponent("ws"),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		stopped:    make(chan struct{}),
		streams:    make(map[uint]map[*Client]struct{}),
	}
	h.upgrader = h.newUpgrader()
	return h
}

// Run processes registrations until ctx is done, then closes every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			clients, ok := h.streams[client.streamID]
			if !ok {
				clients = make(map[*Client]struct{})
				h.streams[client.streamID] = clients
			}
			clients[client] = struct{}{}
			n := len(clients)
			h.mu.Unlock()

			observability.Metrics().ConnectionOpened(ctx)
			h.log.Debug("Client registered", "client_id", client.ID, "stream_id", client.streamID, "connections", n)

		case client := <-h.unregister:
			h.remove(ctx, client)

		case <-ctx.Done():
			close(h.stopped)
			h.mu.Lock()
			var all []*Client
			for _, clients := range h.streams {
				for c := range clients {
					all = append(all, c)
				}
			}
			h.streams = make(map[uint]map[*Client]struct{})
			h.mu.Unlock()

			for _, c := range all {
				c.close()
				observability.Metrics().ConnectionClosed(context.Background())
			}
			h.log.Info("Hub stopped", "closed", len(all))
			return
		}
	}
}

func (h *Hub) remove(ctx context.Context, client *Client) {
	h.mu.Lock()
	clients, ok := h.streams[client.streamID]
	if ok {
		if _, ok = clients[client]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.streams, client.streamID)
			}
		}
	}
	h.mu.Unlock()

	if ok {
		observability.Metrics().ConnectionClosed(ctx)
		h.log.Debug("Client unregistered", "client_id", client.ID, "stream_id", client.streamID)
	}
}

// Connections returns the number of live connections on a stream
func (h *Hub) Connections(streamID uint) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.streams[streamID])
}

// Total returns the number of live connections across all streams
func (h *Hub) Total() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, clients := range h.streams {
		n += len(clients)
	}
	return n
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.stopped:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stopped:
	}
}
