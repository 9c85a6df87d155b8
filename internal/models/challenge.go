package models

import (
	"time"
)

// Challenge is a community goal whose progress only increases
type Challenge struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	StreamID        uint       `json:"stream_id" gorm:"not null;index"`
	Title           string     `json:"title" gorm:"not null"`
	Description     string     `json:"description"`
	CurrentProgress int        `json:"current_progress"`
	TargetValue     int        `json:"target_value" gorm:"not null"`
	RewardType      string     `json:"reward_type"`
	RewardAmount    int        `json:"reward_amount"`
	IsActive        bool       `json:"is_active"`
	CreatedBy       string     `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// ChallengeParticipant is a user in a challenge; at most once per challenge
type ChallengeParticipant struct {
	ChallengeID uint      `json:"challenge_id" gorm:"primaryKey;autoIncrement:false"`
	UserID      string    `json:"user_id" gorm:"primaryKey"`
	Progress    int       `json:"progress"`
	JoinedAt    time.Time `json:"joined_at"`
}

// CreateChallengeRequest represents a request to create a challenge
type CreateChallengeRequest struct {
	Title        string `json:"title" binding:"required,max=200"`
	Description  string `json:"description"`
	TargetValue  int    `json:"target_value" binding:"required,min=1"`
	RewardType   string `json:"reward_type"`
	RewardAmount int    `json:"reward_amount" binding:"min=0"`
}

// ProgressRequest adds progress for a participant
type ProgressRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Delta  int    `json:"delta" binding:"required,min=1"`
}
