package models

import (
	"time"
)

// Actor is the authenticated caller as seen by the engine
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// StreamSession identifies one live broadcast
type StreamSession struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	OwnerID     string     `json:"owner_id" gorm:"not null;index"`
	Title       string     `json:"title"`
	IsLive      bool       `json:"is_live" gorm:"not null"`
	ChatEnabled bool       `json:"chat_enabled" gorm:"not null"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName overrides the table name
func (StreamSession) TableName() string {
	return "stream_sessions"
}

// StreamModerator is a member of a stream's moderator set
type StreamModerator struct {
	StreamID  uint      `json:"stream_id" gorm:"primaryKey;autoIncrement:false"`
	UserID    string    `json:"user_id" gorm:"primaryKey"`
	AddedBy   string    `json:"added_by"`
	CreatedAt time.Time `json:"created_at"`
}

// StreamFollower records when a viewer followed a stream
type StreamFollower struct {
	StreamID   uint      `json:"stream_id" gorm:"primaryKey;autoIncrement:false"`
	UserID     string    `json:"user_id" gorm:"primaryKey"`
	FollowedAt time.Time `json:"followed_at"`
}

// StreamSubscriber records a paid subscription to a stream
type StreamSubscriber struct {
	StreamID  uint       `json:"stream_id" gorm:"primaryKey;autoIncrement:false"`
	UserID    string     `json:"user_id" gorm:"primaryKey"`
	Tier      int        `json:"tier"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Active reports whether the subscription covers now
func (s *StreamSubscriber) Active(now time.Time) bool {
	return s.ExpiresAt == nil || s.ExpiresAt.After(now)
}

// CreateStreamRequest represents a request to create a stream session
type CreateStreamRequest struct {
	Title       string `json:"title" binding:"required,max=200"`
	ChatEnabled *bool  `json:"chat_enabled"`
}

// UpdateChatEnabledRequest toggles chat for a stream
type UpdateChatEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// GrantSubscriptionRequest mirrors a subscription purchased elsewhere
type GrantSubscriptionRequest struct {
	UserID    string     `json:"user_id" binding:"required"`
	Tier      int        `json:"tier"`
	ExpiresAt *time.Time `json:"expires_at"`
}
