package service

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/moderation"
	"streamkit/backend/internal/realtime"
	"streamkit/backend/internal/repository"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"
	"streamkit/backend/shared/observability"

	"go.opentelemetry.io/otel/attribute"
)

// ChatConfig tunes the ingestion pipeline and its feeds
type ChatConfig struct {
	SnapshotSize     int
	MaxMessageLength int
	SubscriberBuffer int
	StoreRetries     int
}

// DefaultChatConfig returns the pipeline defaults
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		SnapshotSize:     50,
		MaxMessageLength: 500,
		SubscriberBuffer: 256,
		StoreRetries:     3,
	}
}

// IngestResult is the outcome of an accepted message
type IngestResult struct {
	Message *models.ChatMessage `json:"message"`
	Action  moderation.Action   `json:"action"`
	Reason  string              `json:"reason,omitempty"`
}

// Warned reports whether a warn filter or rule flagged the message
func (r *IngestResult) Warned() bool {
	return r.Action == moderation.ActionWarn
}

// RelayedMessage is chat mirrored from an external platform
type RelayedMessage struct {
	UserID      string
	DisplayName string
	Content     string
	Source      string
}

// candidate is a message on its way through the gates
type candidate struct {
	userID      string
	displayName string
	content     string
	commandType string
	source      string
	relayed     bool
}

// ChatService runs the chat pipeline: gate checks, filter evaluation,
// persistence and publication. Within an instance, messages for one stream
// pass through a per-stream lock so commit order equals publish order.
type ChatService struct {
	chat      repository.ChatRepository
	rules     *RuleService
	access    *Access
	audience  Audience
	broker    realtime.Broker
	evaluator *moderation.Evaluator
	cfg       ChatConfig
	log       *logger.Logger
	now       func() time.Time

	locks sync.Map
}

// NewChatService creates a ChatService
func NewChatService(
	repos *repository.Repositories,
	rules *RuleService,
	access *Access,
	audience Audience,
	broker realtime.Broker,
	cfg ChatConfig,
	log *logger.Logger,
) *ChatService {
	defaults := DefaultChatConfig()
	if cfg.SnapshotSize <= 0 {
		cfg.SnapshotSize = defaults.SnapshotSize
	}
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = defaults.MaxMessageLength
	}
	if cfg.SubscriberBuffer <= 0 {
		cfg.SubscriberBuffer = defaults.SubscriberBuffer
	}
	if cfg.StoreRetries <= 0 {
		cfg.StoreRetries = defaults.StoreRetries
	}

	return &ChatService{
		chat:      repos.Chat,
		rules:     rules,
		access:    access,
		audience:  audience,
		broker:    broker,
		evaluator: moderation.NewEvaluator(),
		cfg:       cfg,
		log:       log.WithComponent("chat"),
		now:       utcNow,
	}
}

func (s *ChatService) lock(streamID uint) *sync.Mutex {
	mu, _ := s.locks.LoadOrStore(streamID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Send runs a viewer's message through the pipeline. Slash commands are
// routed to moderator actions, except /me which is ordinary chat.
func (s *ChatService) Send(ctx context.Context, actor *models.Actor, streamID uint, content string) (*IngestResult, error) {
	ctx, span := observability.StartSpan(ctx, "chat.send", attribute.Int64("stream_id", int64(streamID)))
	defer span.End()

	res, err := s.send(ctx, actor, streamID, content)
	if err != nil && apperrors.KindOf(err) == apperrors.KindInternal {
		observability.RecordError(span, err)
	}
	return res, err
}

func (s *ChatService) send(ctx context.Context, actor *models.Actor, streamID uint, content string) (*IngestResult, error) {
	if actor == nil {
		return nil, errUnauthenticated()
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidationError(CodeInvalidMessage, "message must not be empty")
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxMessageLength {
		return nil, apperrors.ValidationWithDetails(CodeInvalidMessage, "message is too long", map[string]int{
			"max_length": s.cfg.MaxMessageLength,
		})
	}

	stream, err := s.access.Stream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if !stream.ChatEnabled {
		return nil, apperrors.NewForbiddenError(CodeChatDisabled, "Chat is disabled for this stream")
	}

	c := candidate{
		userID:      actor.ID,
		displayName: actor.DisplayName,
		content:     content,
		source:      models.SourceNative,
	}

	if strings.HasPrefix(content, "/") {
		cmd, err := parseCommand(content)
		if err != nil {
			return nil, err
		}
		if cmd.name != commandMe {
			return s.runCommand(ctx, actor, stream, cmd)
		}
		c.content = cmd.text
		c.commandType = commandMe
	}

	return s.ingest(ctx, stream, c)
}

// IngestRelayed accepts chat mirrored from an external platform. The
// platform enforces its own slow mode and tiers; bans, timeouts and filters
// still apply.
func (s *ChatService) IngestRelayed(ctx context.Context, streamID uint, msg RelayedMessage) (*IngestResult, error) {
	content := strings.TrimSpace(msg.Content)
	if msg.UserID == "" || content == "" {
		return nil, apperrors.NewValidationError(CodeInvalidMessage, "relayed message needs a user and content")
	}
	if utf8.RuneCountInString(content) > s.cfg.MaxMessageLength {
		content = string([]rune(content)[:s.cfg.MaxMessageLength])
	}

	stream, err := s.access.Stream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if !stream.ChatEnabled {
		return nil, apperrors.NewForbiddenError(CodeChatDisabled, "Chat is disabled for this stream")
	}

	source := msg.Source
	if source == "" {
		source = models.SourceTwitch
	}
	return s.ingest(ctx, stream, candidate{
		userID:      msg.UserID,
		displayName: msg.DisplayName,
		content:     content,
		source:      source,
		relayed:     true,
	})
}

func (s *ChatService) ingest(ctx context.Context, stream *models.StreamSession, c candidate) (*IngestResult, error) {
	mu := s.lock(stream.ID)
	mu.Lock()
	defer mu.Unlock()

	metrics := observability.Metrics()

	snap, err := s.rules.Snapshot(ctx, stream.ID)
	if err != nil {
		return nil, err
	}

	cooldown, err := s.checkGates(ctx, stream, snap, c)
	if err != nil {
		metrics.ChatMessage(ctx, "rejected", apperrors.GetErrorCode(err))
		return nil, err
	}

	result := s.evaluator.Evaluate(c.content, snap.Settings, snap.Filters, snap.EmoteSet)
	if len(result.InvalidFilters) > 0 {
		s.log.Warn("Skipping filters with invalid patterns", "stream_id", stream.ID, "filter_ids", result.InvalidFilters)
	}
	if result.Action == moderation.ActionReject {
		metrics.ChatMessage(ctx, "rejected", result.Reason)
		return nil, apperrors.ForbiddenWithDetails(CodeMessageRejected, "Message rejected by chat moderation", map[string]any{
			"reason":    result.Reason,
			"filter_id": result.FilterID,
		})
	}

	msg := &models.ChatMessage{
		StreamID:    stream.ID,
		UserID:      c.userID,
		DisplayName: c.displayName,
		Content:     result.Body,
		MessageType: models.MessageChat,
		IsCommand:   c.commandType != "",
		CommandType: c.commandType,
		Flagged:     result.Action == moderation.ActionWarn,
		Source:      c.source,
		CreatedAt:   s.now(),
	}
	if cooldown > 0 {
		if err := s.claimCooldown(ctx, msg, cooldown); err != nil {
			metrics.ChatMessage(ctx, "rejected", apperrors.GetErrorCode(err))
			return nil, err
		}
	}
	if err := s.persist(ctx, msg); err != nil {
		return nil, err
	}

	metrics.ChatMessage(ctx, "persisted", string(result.Action))
	return &IngestResult{Message: msg, Action: result.Action, Reason: result.Reason}, nil
}

// persist writes msg and publishes the insert. Publication failures are
// logged; the row is already committed and subscribers resync on reconnect.
func (s *ChatService) persist(ctx context.Context, msg *models.ChatMessage) error {
	err := retryStore(ctx, s.cfg.StoreRetries, func(ctx context.Context) error {
		return s.chat.CreateMessage(ctx, msg)
	})
	if err != nil {
		return storeError(err)
	}
	s.publish(ctx, msg.StreamID, ChatEvent{Kind: ChatEventInsert, StreamID: msg.StreamID, Message: msg})
	return nil
}

func (s *ChatService) publish(ctx context.Context, streamID uint, ev ChatEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.log.LogError(err, "Failed to encode chat event", "stream_id", streamID, "kind", ev.Kind)
		return
	}
	if err := s.broker.Publish(ctx, chatChannel(streamID), payload); err != nil {
		s.log.LogError(err, "Failed to publish chat event", "stream_id", streamID, "kind", ev.Kind)
	}
}

// claimCooldown opens the sender's slow-mode window in the store. The claim
// is atomic there, so instances sharing a database admit one message per
// window between them.
func (s *ChatService) claimCooldown(ctx context.Context, msg *models.ChatMessage, interval time.Duration) error {
	last, ok, err := s.chat.ClaimCooldown(ctx, msg.StreamID, msg.UserID, msg.CreatedAt, interval)
	if err != nil {
		return storeError(err)
	}
	if ok {
		return nil
	}
	return slowModeError(interval, msg.CreatedAt.Sub(last))
}

// slowModeError rejects a message sent elapsed into an interval-long window
func slowModeError(interval, elapsed time.Duration) error {
	wait := interval - elapsed
	if wait <= 0 {
		return nil
	}
	return apperrors.ForbiddenWithDetails(CodeSlowMode, "Slow mode is on", map[string]int{
		"retry_after": ceilSeconds(wait),
	})
}

// checkGates applies the per-user gates. It returns the slow-mode interval
// the message must claim before it is stored, zero when exempt. The slow-mode
// gate here only reads the window; the claim is what holds under races.
func (s *ChatService) checkGates(ctx context.Context, stream *models.StreamSession, snap *RuleSnapshot, c candidate) (time.Duration, error) {
	now := s.now()

	banned, err := s.chat.IsBanned(ctx, stream.ID, c.userID)
	if err != nil {
		return 0, storeError(err)
	}
	if banned {
		return 0, apperrors.NewForbiddenError(CodeUserBanned, "You are banned from this chat")
	}

	timeout, err := s.chat.FindTimeout(ctx, stream.ID, c.userID)
	switch {
	case err == nil && timeout.Active(now):
		return 0, apperrors.ForbiddenWithDetails(CodeUserTimedOut, "You are timed out", map[string]any{
			"expires_at":  timeout.ExpiresAt,
			"retry_after": ceilSeconds(timeout.ExpiresAt.Sub(now)),
		})
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return 0, storeError(err)
	}

	if c.relayed {
		return 0, nil
	}

	privileged, err := s.access.Privileged(ctx, stream, c.userID)
	if err != nil {
		return 0, err
	}
	if privileged {
		return 0, nil
	}

	settings := snap.Settings
	var cooldown time.Duration
	if settings.SlowMode && settings.SlowModeInterval > 0 {
		cooldown = time.Duration(settings.SlowModeInterval) * time.Second
		last, ok, err := s.chat.CooldownStart(ctx, stream.ID, c.userID)
		if err != nil {
			return 0, storeError(err)
		}
		if ok {
			if err := slowModeError(cooldown, now.Sub(last)); err != nil {
				return 0, err
			}
		}
	}

	subscriber := func() (bool, error) {
		ok, err := s.audience.IsSubscriber(ctx, stream.ID, c.userID)
		if err != nil {
			return false, storeError(err)
		}
		return ok, nil
	}

	if settings.SubscriberOnly {
		ok, err := subscriber()
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, apperrors.NewForbiddenError(CodeSubscriberOnly, "Chat is in subscriber-only mode")
		}
	}

	if settings.FollowerOnly {
		followedAt, ok, err := s.audience.FollowedAt(ctx, stream.ID, c.userID)
		if err != nil {
			return 0, storeError(err)
		}
		if !ok {
			return 0, apperrors.NewForbiddenError(CodeFollowerOnly, "Chat is in follower-only mode")
		}
		minAge := time.Duration(settings.FollowerMinAge) * time.Minute
		if wait := minAge - now.Sub(followedAt); minAge > 0 && wait > 0 {
			return 0, apperrors.ForbiddenWithDetails(CodeFollowerOnly, "You have not followed long enough", map[string]int{
				"retry_after": ceilSeconds(wait),
			})
		}
	}

	if settings.EmoteOnly && !moderation.IsEmoteOnly(c.content, snap.EmoteSet) {
		return 0, apperrors.NewForbiddenError(CodeEmoteOnly, "Chat is in emote-only mode")
	}

	for _, tok := range moderation.EmoteTokens(c.content, snap.EmoteSet) {
		emote, ok := snap.Emote(tok)
		if !ok {
			emote, ok = snap.Emote(strings.Trim(tok, ":"))
		}
		if !ok {
			continue
		}
		if emote.ModeratorOnly {
			return 0, apperrors.ForbiddenWithDetails(CodeEmoteRestricted, "Emote is for moderators only", map[string]string{"emote": emote.Name})
		}
		if emote.SubscriberOnly {
			ok, err := subscriber()
			if err != nil {
				return 0, err
			}
			if !ok {
				return 0, apperrors.ForbiddenWithDetails(CodeEmoteRestricted, "Emote is for subscribers only", map[string]string{"emote": emote.Name})
			}
		}
	}

	return cooldown, nil
}

func ceilSeconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

// ChatFeed is a live view of a stream's chat: a snapshot of the most recent
// messages followed by every change after it.
type ChatFeed struct {
	*Feed[ChatEvent]
	Snapshot []models.ChatMessage
}

// Subscribe attaches a new feed to the stream's chat. The broker
// subscription is opened before the snapshot is read, so nothing committed
// in between is lost; inserts already in the snapshot are dropped. A feed
// that falls behind is evicted and should resubscribe.
func (s *ChatService) Subscribe(ctx context.Context, streamID uint) (*ChatFeed, error) {
	if _, err := s.access.Stream(ctx, streamID); err != nil {
		return nil, err
	}

	sub, err := s.broker.Subscribe(ctx, chatChannel(streamID),
		realtime.WithBuffer(s.cfg.SubscriberBuffer),
		realtime.WithOverflow(realtime.OverflowEvict),
	)
	if err != nil {
		return nil, apperrors.NewUnavailableError(CodeRealtimeUnavailable, "Live updates are unavailable").WithCause(err)
	}

	snapshot, err := s.chat.Recent(ctx, streamID, s.cfg.SnapshotSize)
	if err != nil {
		sub.Close()
		return nil, storeError(err)
	}

	var lastID uint
	if n := len(snapshot); n > 0 {
		lastID = snapshot[n-1].ID
	}
	keep := func(ev ChatEvent) bool {
		return ev.Kind != ChatEventInsert || ev.Message == nil || ev.Message.ID > lastID
	}

	return &ChatFeed{
		Feed:     newFeed(sub, keep),
		Snapshot: snapshot,
	}, nil
}
