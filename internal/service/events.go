package service

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/realtime"
)

// Chat event kinds
const (
	ChatEventInsert     = "insert"
	ChatEventDelete     = "delete"
	ChatEventModeration = "moderation"
)

// ChatEvent is one change on a stream's chat channel
type ChatEvent struct {
	Kind       string              `json:"kind"`
	StreamID   uint                `json:"stream_id"`
	Message    *models.ChatMessage `json:"message,omitempty"`
	MessageID  uint                `json:"message_id,omitempty"`
	Moderation *ModerationEvent    `json:"moderation,omitempty"`
}

// ModerationEvent describes a ban, unban or timeout
type ModerationEvent struct {
	Action      string     `json:"action"`
	UserID      string     `json:"user_id"`
	ModeratorID string     `json:"moderator_id"`
	Reason      string     `json:"reason,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Reaction bus event kinds. Viewers publish reactions and overlays; the
// others are engine signals.
const (
	EventReaction        = "reaction"
	EventOverlay         = "overlay"
	EventPollUpdate      = "poll_update"
	EventQuizCompleted   = "quiz_completed"
	EventChallengeUpdate = "challenge_update"
)

// ReactionEvent is an ephemeral, unpersisted signal. Clients drop it from
// view DisplayMS milliseconds after SentAt.
type ReactionEvent struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	StreamID    uint            `json:"stream_id"`
	ViewerID    string          `json:"viewer_id,omitempty"`
	DisplayName string          `json:"display_name,omitempty"`
	Emoji       string          `json:"emoji,omitempty"`
	Effect      string          `json:"effect,omitempty"`
	Text        string          `json:"text,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	DisplayMS   int64           `json:"display_ms"`
	SentAt      time.Time       `json:"sent_at"`
}

func chatChannel(streamID uint) string {
	return "stream:" + strconv.FormatUint(uint64(streamID), 10) + ":chat"
}

func reactionChannel(streamID uint) string {
	return "stream:" + strconv.FormatUint(uint64(streamID), 10) + ":reactions"
}

// Feed decodes a broker subscription into typed events. Undecodable payloads
// are skipped. Events is closed when the feed ends for any reason.
type Feed[T any] struct {
	sub    *realtime.Subscription
	events chan T
	done   chan struct{}
	once   sync.Once
}

func newFeed[T any](sub *realtime.Subscription, keep func(T) bool) *Feed[T] {
	f := &Feed[T]{
		sub:    sub,
		events: make(chan T),
		done:   make(chan struct{}),
	}
	go f.run(keep)
	return f
}

func (f *Feed[T]) run(keep func(T) bool) {
	defer close(f.events)
	for {
		select {
		case <-f.done:
			return
		case payload, ok := <-f.sub.C():
			if !ok {
				return
			}
			var ev T
			if err := json.Unmarshal(payload, &ev); err != nil {
				continue
			}
			if keep != nil && !keep(ev) {
				continue
			}
			select {
			case f.events <- ev:
			case <-f.done:
				return
			}
		}
	}
}

// Events delivers decoded events in publish order
func (f *Feed[T]) Events() <-chan T {
	return f.events
}

// Close stops delivery to this feed only; safe to call more than once
func (f *Feed[T]) Close() {
	f.once.Do(func() {
		close(f.done)
		f.sub.Close()
	})
}

// Evicted reports whether the feed ended because its consumer fell behind
func (f *Feed[T]) Evicted() bool {
	return f.sub.Evicted()
}

// Dropped is the number of events discarded for a slow consumer
func (f *Feed[T]) Dropped() int64 {
	return f.sub.Dropped()
}
