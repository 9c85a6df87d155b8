// Package relay mirrors chat from external platforms into a stream.
package relay

import (
	"context"
	"errors"
	"strings"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/service"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"

	twitch "github.com/gempir/go-twitch-irc/v4"
)

// Ingester accepts chat relayed from another platform
type Ingester interface {
	IngestRelayed(ctx context.Context, streamID uint, msg service.RelayedMessage) (*service.IngestResult, error)
}

// TwitchConfig names the channel to mirror and the stream it feeds. Without
// bot credentials the relay connects anonymously, which is read-only.
type TwitchConfig struct {
	Channel  string
	StreamID uint
	Username string
	Token    string
}

// Enabled reports whether a channel and target stream are configured
func (c TwitchConfig) Enabled() bool {
	return c.Channel != "" && c.StreamID != 0
}

// TwitchRelay reads a Twitch channel over IRC and feeds it to the chat pipeline
type TwitchRelay struct {
	cfg    TwitchConfig
	chat   Ingester
	log    *logger.Logger
	client *twitch.Client
}

// NewTwitchRelay creates a relay; Run connects it
func NewTwitchRelay(cfg TwitchConfig, chat Ingester, log *logger.Logger) *TwitchRelay {
	cfg.Channel = strings.TrimPrefix(strings.ToLower(cfg.Channel), "#")

	var client *twitch.Client
	if cfg.Username != "" && cfg.Token != "" {
		client = twitch.NewClient(cfg.Username, cfg.Token)
	} else {
		client = twitch.NewAnonymousClient()
	}

	return &TwitchRelay{
		cfg:    cfg,
		chat:   chat,
		log:    log.WithComponent("twitch-relay").WithStream(cfg.StreamID),
		client: client,
	}
}

// Run joins the channel and relays messages until ctx is done
func (r *TwitchRelay) Run(ctx context.Context) error {
	r.client.OnPrivateMessage(func(msg twitch.PrivateMessage) {
		r.handle(ctx, msg)
	})
	r.client.OnConnect(func() {
		r.log.Info("Connected to Twitch chat", "channel", r.cfg.Channel)
	})

	stop := context.AfterFunc(ctx, func() {
		_ = r.client.Disconnect()
	})
	defer stop()

	r.client.Join(r.cfg.Channel)
	err := r.client.Connect()
	if errors.Is(err, twitch.ErrClientDisconnected) || ctx.Err() != nil {
		r.log.Info("Twitch relay stopped", "channel", r.cfg.Channel)
		return nil
	}
	return err
}

func (r *TwitchRelay) handle(ctx context.Context, msg twitch.PrivateMessage) {
	if r.cfg.Username != "" && strings.EqualFold(msg.User.Name, r.cfg.Username) {
		return
	}

	relayed := relayedFrom(msg)
	result, err := r.chat.IngestRelayed(ctx, r.cfg.StreamID, relayed)
	if err != nil {
		// bans, timeouts and filters refuse messages routinely
		if apperrors.KindOf(err) == apperrors.KindInternal || apperrors.KindOf(err) == apperrors.KindTransient {
			r.log.LogError(err, "Failed to relay message", "twitch_user", msg.User.Name)
		} else {
			r.log.Debug("Relayed message refused", "twitch_user", msg.User.Name, "code", apperrors.GetErrorCode(err))
		}
		return
	}
	if result.Warned() {
		r.log.Debug("Relayed message flagged", "twitch_user", msg.User.Name, "reason", result.Reason)
	}
}

// relayedFrom maps a Twitch message onto engine identities. Twitch users
// get a namespaced id so they can be banned without colliding with native
// accounts.
func relayedFrom(msg twitch.PrivateMessage) service.RelayedMessage {
	login := strings.ToLower(msg.User.Name)
	display := msg.User.DisplayName
	if display == "" {
		display = msg.User.Name
	}
	return service.RelayedMessage{
		UserID:      "twitch:" + login,
		DisplayName: display,
		Content:     msg.Message,
		Source:      models.SourceTwitch,
	}
}
