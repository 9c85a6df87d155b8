package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Interaction types recorded in the ledger
const (
	InteractionChallengeJoin     = "challenge_join"
	InteractionChallengeProgress = "challenge_progress"
	InteractionOverlayTrigger    = "overlay_trigger"
	InteractionReaction          = "reaction"
	InteractionPollVote          = "poll_vote"
	InteractionQuizAnswer        = "quiz_answer"
	InteractionQuizCompleted     = "quiz_completed"
)

// StreamInteraction is an append-only ledger row
type StreamInteraction struct {
	ID              uint      `json:"id" gorm:"primaryKey"`
	StreamID        uint      `json:"stream_id" gorm:"not null;index:idx_stream_interactions_stream_viewer,priority:1"`
	ViewerID        string    `json:"viewer_id" gorm:"not null;index:idx_stream_interactions_stream_viewer,priority:2"`
	InteractionType string    `json:"interaction_type" gorm:"not null"`
	InteractionData string    `json:"-" gorm:"type:text"`
	CreatedAt       time.Time `json:"created_at"`
}

// InteractionPayload is the typed body of a ledger row
type InteractionPayload interface {
	InteractionType() string
}

// ChallengeJoinPayload records a viewer joining a challenge
type ChallengeJoinPayload struct {
	ChallengeID uint `json:"challenge_id"`
}

// ChallengeProgressPayload records progress added to a participant
type ChallengeProgressPayload struct {
	ChallengeID uint `json:"challenge_id"`
	Delta       int  `json:"delta"`
	Progress    int  `json:"progress"`
}

// OverlayTriggerPayload records a visual overlay fired by a viewer
type OverlayTriggerPayload struct {
	Effect string `json:"effect"`
	Text   string `json:"text,omitempty"`
}

// ReactionPayload records an emoji reaction
type ReactionPayload struct {
	Emoji string `json:"emoji"`
}

// PollVotePayload records a vote
type PollVotePayload struct {
	PollID    uint     `json:"poll_id"`
	OptionIDs []string `json:"option_ids"`
}

// QuizAnswerPayload records a quiz answer
type QuizAnswerPayload struct {
	QuizID     uint `json:"quiz_id"`
	QuestionID uint `json:"question_id"`
	Correct    bool `json:"correct"`
}

// QuizCompletedPayload records a finished quiz
type QuizCompletedPayload struct {
	QuizID uint `json:"quiz_id"`
	Score  int  `json:"score"`
	Total  int  `json:"total"`
}

// UnknownPayload keeps rows whose type this build does not know
type UnknownPayload struct {
	Kind string
	Raw  json.RawMessage
}

// MarshalJSON emits the stored payload untouched
func (u UnknownPayload) MarshalJSON() ([]byte, error) {
	if len(u.Raw) == 0 {
		return []byte("null"), nil
	}
	return u.Raw, nil
}

func (ChallengeJoinPayload) InteractionType() string     { return InteractionChallengeJoin }
func (ChallengeProgressPayload) InteractionType() string { return InteractionChallengeProgress }
func (OverlayTriggerPayload) InteractionType() string    { return InteractionOverlayTrigger }
func (ReactionPayload) InteractionType() string          { return InteractionReaction }
func (PollVotePayload) InteractionType() string          { return InteractionPollVote }
func (QuizAnswerPayload) InteractionType() string        { return InteractionQuizAnswer }
func (QuizCompletedPayload) InteractionType() string     { return InteractionQuizCompleted }
func (u UnknownPayload) InteractionType() string         { return u.Kind }

// NewInteraction builds a ledger row from a typed payload
func NewInteraction(streamID uint, viewerID string, payload InteractionPayload) (*StreamInteraction, error) {
	var data []byte
	if u, ok := payload.(UnknownPayload); ok {
		data = u.Raw
	} else {
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", payload.InteractionType(), err)
		}
	}

	return &StreamInteraction{
		StreamID:        streamID,
		ViewerID:        viewerID,
		InteractionType: payload.InteractionType(),
		InteractionData: string(data),
	}, nil
}

// Payload decodes InteractionData according to InteractionType
func (i *StreamInteraction) Payload() (InteractionPayload, error) {
	return DecodePayload(i.InteractionType, []byte(i.InteractionData))
}

// DecodePayload decodes raw into the payload type registered for kind.
// Unregistered kinds, and registered ones that fail to decode, come back as
// UnknownPayload.
func DecodePayload(kind string, raw []byte) (InteractionPayload, error) {
	unmarshal := func(v any) error {
		if len(raw) == 0 {
			return nil
		}
		return json.Unmarshal(raw, v)
	}

	var (
		p   InteractionPayload
		err error
	)
	switch kind {
	case InteractionChallengeJoin:
		var v ChallengeJoinPayload
		err = unmarshal(&v)
		p = v
	case InteractionChallengeProgress:
		var v ChallengeProgressPayload
		err = unmarshal(&v)
		p = v
	case InteractionOverlayTrigger:
		var v OverlayTriggerPayload
		err = unmarshal(&v)
		p = v
	case InteractionReaction:
		var v ReactionPayload
		err = unmarshal(&v)
		p = v
	case InteractionPollVote:
		var v PollVotePayload
		err = unmarshal(&v)
		p = v
	case InteractionQuizAnswer:
		var v QuizAnswerPayload
		err = unmarshal(&v)
		p = v
	case InteractionQuizCompleted:
		var v QuizCompletedPayload
		err = unmarshal(&v)
		p = v
	default:
		return UnknownPayload{Kind: kind, Raw: json.RawMessage(raw)}, nil
	}
	if err != nil {
		return UnknownPayload{Kind: kind, Raw: json.RawMessage(raw)},
			fmt.Errorf("decode %s payload: %w", kind, err)
	}
	return p, nil
}

// InteractionView is a decoded ledger row for API consumers
type InteractionView struct {
	ID        uint               `json:"id"`
	StreamID  uint               `json:"stream_id"`
	ViewerID  string             `json:"viewer_id"`
	Type      string             `json:"interaction_type"`
	Payload   InteractionPayload `json:"interaction_data"`
	CreatedAt time.Time          `json:"created_at"`
}

// UnmarshalJSON picks the payload type from interaction_type
func (v *InteractionView) UnmarshalJSON(data []byte) error {
	type view InteractionView
	var wire struct {
		view
		Payload json.RawMessage `json:"interaction_data"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	payload, err := DecodePayload(wire.Type, wire.Payload)
	if err != nil {
		return err
	}
	*v = InteractionView(wire.view)
	v.Payload = payload
	return nil
}

// TrackerSnapshot is the dashboard aggregate for one stream
type TrackerSnapshot struct {
	StreamID          uint              `json:"stream_id"`
	TotalInteractions int64             `json:"total_interactions"`
	UniqueViewers     int64             `json:"unique_viewers"`
	PerViewer         float64           `json:"interactions_per_viewer"`
	Recent            []InteractionView `json:"recent"`
	Leaderboard       []LeaderboardRow  `json:"leaderboard"`
	ComputedAt        time.Time         `json:"computed_at"`
}

// LeaderboardRow is one viewer's interaction count
type LeaderboardRow struct {
	ViewerID string `json:"viewer_id"`
	Count    int64  `json:"count"`
}

// ReactionRequest is a viewer reaction or overlay trigger. Kind defaults to
// reaction; overlays carry an effect instead of an emoji.
type ReactionRequest struct {
	Kind      string `json:"kind"`
	Emoji     string `json:"emoji" binding:"max=32"`
	Effect    string `json:"effect" binding:"max=64"`
	Text      string `json:"text" binding:"max=200"`
	DisplayMS int64  `json:"display_ms" binding:"min=0"`
}
