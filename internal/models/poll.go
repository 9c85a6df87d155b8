package models

import (
	"time"
)

// Poll is a question viewers answer once each
type Poll struct {
	ID                   uint         `json:"id" gorm:"primaryKey"`
	StreamID             uint         `json:"stream_id" gorm:"not null;index"`
	Question             string       `json:"question" gorm:"not null"`
	AllowMultipleChoices bool         `json:"allow_multiple_choices"`
	IsActive             bool         `json:"is_active"`
	CreatedBy            string       `json:"created_by"`
	CreatedAt            time.Time    `json:"created_at"`
	EndedAt              *time.Time   `json:"ended_at,omitempty"`
	Options              []PollOption `json:"options" gorm:"foreignKey:PollID"`
}

// HasOption reports whether id names one of the poll's options
func (p *Poll) HasOption(id string) bool {
	for _, o := range p.Options {
		if o.OptionID == id {
			return true
		}
	}
	return false
}

// PollOption is one choice; OptionID is unique within the poll
type PollOption struct {
	ID       uint   `json:"-" gorm:"primaryKey"`
	PollID   uint   `json:"-" gorm:"not null;uniqueIndex:idx_poll_options_poll_option"`
	OptionID string `json:"id" gorm:"not null;uniqueIndex:idx_poll_options_poll_option"`
	Text     string `json:"text" gorm:"not null"`
	Position int    `json:"position"`
}

// PollResponse is a user's single vote on a poll
type PollResponse struct {
	ID                uint       `json:"id" gorm:"primaryKey"`
	PollID            uint       `json:"poll_id" gorm:"not null;uniqueIndex:idx_poll_responses_poll_user"`
	UserID            string     `json:"user_id" gorm:"not null;uniqueIndex:idx_poll_responses_poll_user"`
	SelectedOptionIDs StringList `json:"selected_option_ids" gorm:"type:text;not null"`
	CreatedAt         time.Time  `json:"created_at"`
}

// OptionResult is the live tally for one option
type OptionResult struct {
	OptionID   string  `json:"id"`
	Text       string  `json:"text"`
	Votes      int     `json:"votes"`
	Percentage float64 `json:"percentage"`
}

// PollResults is recomputed from all responses on every read
type PollResults struct {
	PollID         uint           `json:"poll_id"`
	TotalResponses int            `json:"total_responses"`
	Options        []OptionResult `json:"options"`
}

// PollView is what a given viewer sees: results once they have voted
type PollView struct {
	Poll     *Poll        `json:"poll"`
	HasVoted bool         `json:"has_voted"`
	Results  *PollResults `json:"results,omitempty"`
}

// PollOptionInput is an option in a create request
type PollOptionInput struct {
	ID   string `json:"id" binding:"required,max=64"`
	Text string `json:"text" binding:"required,max=200"`
}

// CreatePollRequest represents a request to create a poll
type CreatePollRequest struct {
	Question             string            `json:"question" binding:"required,max=300"`
	Options              []PollOptionInput `json:"options" binding:"required,min=2,dive"`
	AllowMultipleChoices bool              `json:"allow_multiple_choices"`
	Activate             bool              `json:"activate"`
}

// VoteRequest represents a vote submission
type VoteRequest struct {
	OptionIDs []string `json:"option_ids"`
}
