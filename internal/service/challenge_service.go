package service

import (
	"context"
	"strings"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/policy"
	"streamkit/backend/internal/repository"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"
)

// ChallengeService runs community goals. Progress only ever increases.
type ChallengeService struct {
	challenges repository.ChallengeRepository
	access     *Access
	ledger     *Ledger
	bus        *ReactionBus
	log        *logger.Logger
	now        func() time.Time
}

// NewChallengeService creates a ChallengeService
func NewChallengeService(challenges repository.ChallengeRepository, access *Access, ledger *Ledger, bus *ReactionBus, log *logger.Logger) *ChallengeService {
	return &ChallengeService{
		challenges: challenges,
		access:     access,
		ledger:     ledger,
		bus:        bus,
		log:        log.WithComponent("challenges"),
		now:        utcNow,
	}
}

// CreateChallenge creates an active challenge
func (s *ChallengeService) CreateChallenge(ctx context.Context, actor *models.Actor, streamID uint, req *models.CreateChallengeRequest) (*models.Challenge, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageChallenges, ""); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperrors.NewValidationError(CodeInvalidChallenge, "title is required")
	}
	if req.TargetValue < 1 {
		return nil, apperrors.NewValidationError(CodeInvalidChallenge, "target_value must be positive")
	}
	if req.RewardAmount < 0 {
		return nil, apperrors.NewValidationError(CodeInvalidChallenge, "reward_amount must not be negative")
	}

	c := &models.Challenge{
		StreamID:     streamID,
		Title:        title,
		Description:  req.Description,
		TargetValue:  req.TargetValue,
		RewardType:   req.RewardType,
		RewardAmount: req.RewardAmount,
		IsActive:     true,
		CreatedBy:    actor.ID,
		CreatedAt:    s.now(),
	}
	if err := s.challenges.Create(ctx, c); err != nil {
		return nil, storeError(err)
	}

	s.log.Info("Challenge created", "stream_id", streamID, "challenge_id", c.ID, "target", c.TargetValue)
	s.signal(ctx, c)
	return c, nil
}

func (s *ChallengeService) challenge(ctx context.Context, streamID, challengeID uint) (*models.Challenge, error) {
	c, err := s.challenges.FindByID(ctx, challengeID)
	if err != nil {
		return nil, notFound(err, CodeChallengeNotFound, "Challenge not found")
	}
	if c.StreamID != streamID {
		return nil, apperrors.NewNotFoundError(CodeChallengeNotFound, "Challenge not found")
	}
	return c, nil
}

// GetChallenge returns one challenge
func (s *ChallengeService) GetChallenge(ctx context.Context, streamID, challengeID uint) (*models.Challenge, error) {
	return s.challenge(ctx, streamID, challengeID)
}

// ListChallenges returns the stream's challenges, newest first
func (s *ChallengeService) ListChallenges(ctx context.Context, streamID uint) ([]models.Challenge, error) {
	if _, err := s.access.Stream(ctx, streamID); err != nil {
		return nil, err
	}
	challenges, err := s.challenges.List(ctx, streamID)
	if err != nil {
		return nil, storeError(err)
	}
	return challenges, nil
}

// ListParticipants returns participants by progress, earliest joiners first on ties
func (s *ChallengeService) ListParticipants(ctx context.Context, streamID, challengeID uint) ([]models.ChallengeParticipant, error) {
	if _, err := s.challenge(ctx, streamID, challengeID); err != nil {
		return nil, err
	}
	participants, err := s.challenges.ListParticipants(ctx, challengeID)
	if err != nil {
		return nil, storeError(err)
	}
	return participants, nil
}

// Join adds actor to an active challenge, once
func (s *ChallengeService) Join(ctx context.Context, actor *models.Actor, streamID, challengeID uint) (*models.ChallengeParticipant, error) {
	if actor == nil {
		return nil, errUnauthenticated()
	}
	c, err := s.challenge(ctx, streamID, challengeID)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, apperrors.NewConflictError(CodeChallengeInactive, "Challenge has ended")
	}

	p := &models.ChallengeParticipant{ChallengeID: c.ID, UserID: actor.ID, JoinedAt: s.now()}
	if err := s.challenges.AddParticipant(ctx, p); err != nil {
		return nil, conflict(err, CodeAlreadyJoined, "Already participating in this challenge")
	}

	s.ledger.RecordAsync(ctx, streamID, actor.ID, models.ChallengeJoinPayload{ChallengeID: c.ID})
	return p, nil
}

// RecordProgress adds delta to a participant and to the challenge total.
// The challenge completes the first time its total reaches the target.
func (s *ChallengeService) RecordProgress(ctx context.Context, actor *models.Actor, streamID, challengeID uint, req *models.ProgressRequest) (*models.ChallengeParticipant, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageChallenges, ""); err != nil {
		return nil, err
	}
	if req.Delta <= 0 {
		return nil, apperrors.NewValidationError(CodeInvalidProgress, "delta must be positive")
	}
	c, err := s.challenge(ctx, streamID, challengeID)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, apperrors.NewConflictError(CodeChallengeInactive, "Challenge has ended")
	}

	updated, p, err := s.challenges.AddProgress(ctx, c.ID, req.UserID, req.Delta, s.now())
	if err != nil {
		return nil, notFound(err, CodeNotParticipant, "User is not participating in this challenge")
	}

	s.ledger.RecordAsync(ctx, streamID, req.UserID, models.ChallengeProgressPayload{
		ChallengeID: c.ID,
		Delta:       req.Delta,
		Progress:    p.Progress,
	})
	if c.CompletedAt == nil && updated.CompletedAt != nil {
		s.log.Info("Challenge completed", "stream_id", streamID, "challenge_id", c.ID)
	}
	s.signal(ctx, updated)
	return p, nil
}

// EndChallenge stops joins and progress
func (s *ChallengeService) EndChallenge(ctx context.Context, actor *models.Actor, streamID, challengeID uint) (*models.Challenge, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageChallenges, ""); err != nil {
		return nil, err
	}
	c, err := s.challenge(ctx, streamID, challengeID)
	if err != nil {
		return nil, err
	}
	if err := s.challenges.End(ctx, c.ID); err != nil {
		return nil, notFound(err, CodeChallengeNotFound, "Challenge not found")
	}
	c.IsActive = false
	s.signal(ctx, c)
	return c, nil
}

func (s *ChallengeService) signal(ctx context.Context, c *models.Challenge) {
	s.bus.Signal(ctx, c.StreamID, EventChallengeUpdate, c)
}
