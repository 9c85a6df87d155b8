package models

import (
	"time"
)

// AutoModSettings holds heuristic moderation thresholds
type AutoModSettings struct {
	Enabled          bool       `json:"enabled"`
	SpamDetection    bool       `json:"spam_detection"`
	LinkProtection   bool       `json:"link_protection"`
	CapsLimitPercent int        `json:"caps_limit_percent" binding:"min=0,max=100"`
	MaxEmotes        int        `json:"max_emotes" binding:"min=0"`
	BlockedTerms     StringList `json:"blocked_terms" gorm:"type:text"`
}

// ChatSettings is the per-stream chat configuration, mutated only by the owner
type ChatSettings struct {
	StreamID uint `json:"stream_id" gorm:"primaryKey;autoIncrement:false"`
	SlowMode bool `json:"slow_mode"`
	// SlowModeInterval is in seconds
	SlowModeInterval int  `json:"slow_mode_interval" binding:"min=0"`
	SubscriberOnly   bool `json:"subscriber_only"`
	FollowerOnly     bool `json:"follower_only"`
	// FollowerMinAge is in minutes
	FollowerMinAge int             `json:"follower_min_age" binding:"min=0"`
	EmoteOnly      bool            `json:"emote_only"`
	AutoMod        AutoModSettings `json:"auto_mod_settings" gorm:"embedded;embeddedPrefix:automod_"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// DefaultChatSettings returns the settings a stream starts with
func DefaultChatSettings(streamID uint) ChatSettings {
	return ChatSettings{
		StreamID:         streamID,
		SlowModeInterval: 30,
		AutoMod: AutoModSettings{
			CapsLimitPercent: 70,
			MaxEmotes:        10,
			BlockedTerms:     StringList{},
		},
	}
}

// FilterType is the action a matching filter takes
type FilterType string

const (
	FilterBlock   FilterType = "block"
	FilterReplace FilterType = "replace"
	FilterWarn    FilterType = "warn"
)

// Valid reports whether t is a known filter type
func (t FilterType) Valid() bool {
	return t == FilterBlock || t == FilterReplace || t == FilterWarn
}

// ChatFilter is a pattern rule owned by a stream
type ChatFilter struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	StreamID    uint       `json:"stream_id" gorm:"not null;index"`
	Pattern     string     `json:"pattern" gorm:"not null"`
	IsRegex     bool       `json:"is_regex"`
	FilterType  FilterType `json:"filter_type" gorm:"not null"`
	Replacement string     `json:"replacement"`
	IsActive    bool       `json:"is_active"`
	CreatedAt   time.Time  `json:"created_at"`
}

// MessageType distinguishes viewer chat from engine messages
type MessageType string

const (
	MessageChat   MessageType = "chat"
	MessageSystem MessageType = "system"
	MessageMod    MessageType = "mod"
)

// Message sources
const (
	SourceNative = "native"
	SourceTwitch = "twitch"
)

// ChatMessage is one persisted chat row. Rows are soft-deleted only.
type ChatMessage struct {
	ID              uint        `json:"id" gorm:"primaryKey"`
	StreamID        uint        `json:"stream_id" gorm:"not null;index:idx_chat_messages_stream_user,priority:1"`
	UserID          string      `json:"user_id" gorm:"not null;index:idx_chat_messages_stream_user,priority:2"`
	DisplayName     string      `json:"display_name"`
	Content         string      `json:"content" gorm:"not null"`
	MessageType     MessageType `json:"message_type" gorm:"not null"`
	IsCommand       bool        `json:"is_command"`
	CommandType     string      `json:"command_type,omitempty"`
	IsDeleted       bool        `json:"is_deleted"`
	DeletedBy       string      `json:"deleted_by,omitempty"`
	DeletedAt       *time.Time  `json:"deleted_at,omitempty"`
	TimeoutDuration int         `json:"timeout_duration,omitempty"`
	Flagged         bool        `json:"flagged"`
	Source          string      `json:"source"`
	CreatedAt       time.Time   `json:"created_at" gorm:"index:idx_chat_messages_stream_user,priority:3"`
}

// BannedUser is an unbounded ban from a stream's chat
type BannedUser struct {
	StreamID  uint      `json:"stream_id" gorm:"primaryKey;autoIncrement:false"`
	UserID    string    `json:"user_id" gorm:"primaryKey"`
	BannedBy  string    `json:"banned_by"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatTimeout is a bounded ban; at most one row per stream and user
type ChatTimeout struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	StreamID  uint      `json:"stream_id" gorm:"not null;uniqueIndex:idx_chat_timeouts_stream_user"`
	UserID    string    `json:"user_id" gorm:"not null;uniqueIndex:idx_chat_timeouts_stream_user"`
	IssuedBy  string    `json:"issued_by"`
	Reason    string    `json:"reason,omitempty"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
}

// Active reports whether the timeout is still in force
func (t *ChatTimeout) Active(now time.Time) bool {
	return t.ExpiresAt.After(now)
}

// ChatCooldown is the start of a user's current slow-mode window
type ChatCooldown struct {
	StreamID uint      `json:"stream_id" gorm:"primaryKey;autoIncrement:false"`
	UserID   string    `json:"user_id" gorm:"primaryKey"`
	LastAt   time.Time `json:"last_at" gorm:"not null"`
}

// Emote is a stream-scoped emote referenced by name from message content
type Emote struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	StreamID       uint      `json:"stream_id" gorm:"not null;uniqueIndex:idx_emotes_stream_name"`
	Name           string    `json:"name" gorm:"not null;uniqueIndex:idx_emotes_stream_name"`
	URL            string    `json:"url"`
	SubscriberOnly bool      `json:"subscriber_only"`
	ModeratorOnly  bool      `json:"moderator_only"`
	CreatedAt      time.Time `json:"created_at"`
}

// SendMessageRequest represents a chat message submission
type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

// CreateFilterRequest represents a request to add a chat filter
type CreateFilterRequest struct {
	Pattern     string     `json:"pattern" binding:"required"`
	IsRegex     bool       `json:"is_regex"`
	FilterType  FilterType `json:"filter_type" binding:"required"`
	Replacement string     `json:"replacement"`
	IsActive    *bool      `json:"is_active"`
}

// UpdateFilterRequest toggles a filter
type UpdateFilterRequest struct {
	IsActive bool `json:"is_active"`
}

// CreateEmoteRequest represents a request to add an emote
type CreateEmoteRequest struct {
	Name           string `json:"name" binding:"required,max=64"`
	URL            string `json:"url" binding:"required"`
	SubscriberOnly bool   `json:"subscriber_only"`
	ModeratorOnly  bool   `json:"moderator_only"`
}

// ModerationRequest carries a ban or timeout target
type ModerationRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Reason string `json:"reason"`
	// Duration is in seconds and only used for timeouts
	Duration int `json:"duration"`
}

// AddModeratorRequest names a user to add to the moderator set
type AddModeratorRequest struct {
	UserID string `json:"user_id" binding:"required"`
}
