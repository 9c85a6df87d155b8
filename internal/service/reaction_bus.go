package service

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/realtime"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"
	"streamkit/backend/pkg/ratelimit"
	"streamkit/backend/shared/observability"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const maxDisplayMS = 30_000

// ReactionConfig tunes the reaction bus
type ReactionConfig struct {
	DisplayDuration time.Duration
	// Rate and Burst bound each viewer's reactions per stream
	Rate   float64
	Burst  int
	Buffer int
}

// DefaultReactionConfig returns the bus defaults
func DefaultReactionConfig() ReactionConfig {
	return ReactionConfig{
		DisplayDuration: 3 * time.Second,
		Rate:            5,
		Burst:           10,
		Buffer:          128,
	}
}

// ReactionBus broadcasts ephemeral reactions, overlays and engine signals.
// Nothing is persisted and nothing is queued for absent subscribers.
type ReactionBus struct {
	broker  realtime.Broker
	access  *Access
	ledger  *Ledger
	limiter *ratelimit.KeyedLimiter
	cfg     ReactionConfig
	log     *logger.Logger
	now     func() time.Time
}

// NewReactionBus creates a ReactionBus
func NewReactionBus(broker realtime.Broker, access *Access, ledger *Ledger, cfg ReactionConfig, log *logger.Logger) *ReactionBus {
	defaults := DefaultReactionConfig()
	if cfg.DisplayDuration <= 0 {
		cfg.DisplayDuration = defaults.DisplayDuration
	}
	if cfg.Rate <= 0 {
		cfg.Rate = defaults.Rate
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaults.Buffer
	}

	return &ReactionBus{
		broker: broker,
		access: access,
		ledger: ledger,
		limiter: ratelimit.New(ratelimit.Options{
			Limit:          rate.Limit(cfg.Rate),
			Burst:          cfg.Burst,
			ExpiryDuration: 10 * time.Minute,
		}),
		cfg: cfg,
		log: log.WithComponent("reactions"),
		now: utcNow,
	}
}

// Run sweeps idle rate limit buckets until ctx is done
func (b *ReactionBus) Run(ctx context.Context) {
	b.limiter.Run(ctx, time.Minute)
}

// Publish broadcasts a viewer reaction or overlay to everyone watching the
// stream. The analytics row is written in the background.
func (b *ReactionBus) Publish(ctx context.Context, actor *models.Actor, streamID uint, req *models.ReactionRequest) (*ReactionEvent, error) {
	if actor == nil {
		return nil, errUnauthenticated()
	}

	kind := strings.ToLower(strings.TrimSpace(req.Kind))
	if kind == "" {
		kind = EventReaction
	}
	var payload models.InteractionPayload
	switch kind {
	case EventReaction:
		if strings.TrimSpace(req.Emoji) == "" {
			return nil, apperrors.NewValidationError(CodeInvalidReaction, "emoji is required")
		}
		payload = models.ReactionPayload{Emoji: req.Emoji}
	case EventOverlay:
		if strings.TrimSpace(req.Effect) == "" {
			return nil, apperrors.NewValidationError(CodeInvalidReaction, "effect is required")
		}
		payload = models.OverlayTriggerPayload{Effect: req.Effect, Text: req.Text}
	default:
		return nil, apperrors.ValidationWithDetails(CodeInvalidReaction, "Unknown reaction kind", map[string]string{"kind": kind})
	}

	if _, err := b.access.Stream(ctx, streamID); err != nil {
		return nil, err
	}
	if !b.limiter.Allow(strconv.FormatUint(uint64(streamID), 10) + ":" + actor.ID) {
		return nil, apperrors.NewTooManyRequestsError(CodeRateLimited, "Too many reactions, slow down")
	}

	displayMS := req.DisplayMS
	if displayMS <= 0 {
		displayMS = b.cfg.DisplayDuration.Milliseconds()
	}
	if displayMS > maxDisplayMS {
		displayMS = maxDisplayMS
	}

	ev := &ReactionEvent{
		ID:          uuid.NewString(),
		Kind:        kind,
		StreamID:    streamID,
		ViewerID:    actor.ID,
		DisplayName: actor.DisplayName,
		Emoji:       req.Emoji,
		Effect:      req.Effect,
		Text:        req.Text,
		DisplayMS:   displayMS,
		SentAt:      b.now(),
	}
	if err := b.send(ctx, ev); err != nil {
		return nil, err
	}

	observability.Metrics().ReactionPublished(ctx, kind)
	b.ledger.RecordAsync(ctx, streamID, actor.ID, payload)
	return ev, nil
}

// Signal broadcasts an engine event such as a poll update. Failures are
// logged; signals are advisory.
func (b *ReactionBus) Signal(ctx context.Context, streamID uint, kind string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		b.log.LogError(err, "Failed to encode signal", "stream_id", streamID, "kind", kind)
		return
	}
	ev := &ReactionEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		StreamID:  streamID,
		Data:      raw,
		DisplayMS: b.cfg.DisplayDuration.Milliseconds(),
		SentAt:    b.now(),
	}
	if err := b.send(ctx, ev); err != nil {
		b.log.Warn("Failed to publish signal", "stream_id", streamID, "kind", kind, "error", err.Error())
	}
}

func (b *ReactionBus) send(ctx context.Context, ev *ReactionEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return apperrors.NewInternalServerError("ENCODE_FAILED", "Failed to encode event").WithCause(err)
	}
	if err := b.broker.Publish(ctx, reactionChannel(ev.StreamID), payload); err != nil {
		return apperrors.NewUnavailableError(CodeRealtimeUnavailable, "Live updates are unavailable").WithCause(err)
	}
	return nil
}

// ReactionFeed receives a stream's reactions. Events a slow consumer cannot
// take are dropped, never queued.
type ReactionFeed struct {
	*Feed[ReactionEvent]
	once sync.Once
}

// Close ends the feed and reports how many events it dropped
func (f *ReactionFeed) Close() {
	f.Feed.Close()
	f.once.Do(func() {
		if n := f.Dropped(); n > 0 {
			observability.Metrics().ReactionsDropped(context.Background(), n)
		}
	})
}

// Subscribe attaches a feed to the stream's reaction channel
func (b *ReactionBus) Subscribe(ctx context.Context, streamID uint) (*ReactionFeed, error) {
	if _, err := b.access.Stream(ctx, streamID); err != nil {
		return nil, err
	}
	sub, err := b.broker.Subscribe(ctx, reactionChannel(streamID),
		realtime.WithBuffer(b.cfg.Buffer),
		realtime.WithOverflow(realtime.OverflowDrop),
	)
	if err != nil {
		return nil, apperrors.NewUnavailableError(CodeRealtimeUnavailable, "Live updates are unavailable").WithCause(err)
	}
	return &ReactionFeed{Feed: newFeed[ReactionEvent](sub, nil)}, nil
}
