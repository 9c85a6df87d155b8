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

// StreamService manages stream sessions and their audience
type StreamService struct {
	streams repository.StreamRepository
	access  *Access
	log     *logger.Logger
	now     func() time.Time
}

// NewStreamService creates a StreamService
func NewStreamService(streams repository.StreamRepository, access *Access, log *logger.Logger) *StreamService {
	return &StreamService{
		streams: streams,
		access:  access,
		log:     log.WithComponent("streams"),
		now:     utcNow,
	}
}

// CreateStream creates an offline stream owned by actor
func (s *StreamService) CreateStream(ctx context.Context, actor *models.Actor, req *models.CreateStreamRequest) (*models.StreamSession, error) {
	if actor == nil {
		return nil, errUnauthenticated()
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperrors.NewValidationError("INVALID_STREAM", "title is required")
	}

	stream := &models.StreamSession{
		OwnerID:     actor.ID,
		Title:       title,
		ChatEnabled: req.ChatEnabled == nil || *req.ChatEnabled,
	}
	if err := s.streams.Create(ctx, stream); err != nil {
		return nil, storeError(err)
	}

	s.log.Info("Stream created", "stream_id", stream.ID, "user_id", actor.ID)
	return stream, nil
}

// GetStream returns a stream by id
func (s *StreamService) GetStream(ctx context.Context, streamID uint) (*models.StreamSession, error) {
	return s.access.Stream(ctx, streamID)
}

// ListStreams returns streams, newest first
func (s *StreamService) ListStreams(ctx context.Context, liveOnly bool) ([]models.StreamSession, error) {
	streams, err := s.streams.List(ctx, liveOnly)
	if err != nil {
		return nil, storeError(err)
	}
	return streams, nil
}

// StartStream marks the stream live
func (s *StreamService) StartStream(ctx context.Context, actor *models.Actor, streamID uint) (*models.StreamSession, error) {
	return s.setLive(ctx, actor, streamID, true)
}

// EndStream marks the stream offline
func (s *StreamService) EndStream(ctx context.Context, actor *models.Actor, streamID uint) (*models.StreamSession, error) {
	return s.setLive(ctx, actor, streamID, false)
}

func (s *StreamService) setLive(ctx context.Context, actor *models.Actor, streamID uint, live bool) (*models.StreamSession, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageStream, ""); err != nil {
		return nil, err
	}
	if err := s.streams.SetLive(ctx, streamID, live, s.now()); err != nil {
		return nil, notFound(err, CodeStreamNotFound, "Stream not found")
	}
	s.log.Info("Stream live state changed", "stream_id", streamID, "is_live", live)
	return s.access.Stream(ctx, streamID)
}

// SetChatEnabled turns chat on or off for the stream
func (s *StreamService) SetChatEnabled(ctx context.Context, actor *models.Actor, streamID uint, enabled bool) (*models.StreamSession, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageStream, ""); err != nil {
		return nil, err
	}
	if err := s.streams.SetChatEnabled(ctx, streamID, enabled); err != nil {
		return nil, notFound(err, CodeStreamNotFound, "Stream not found")
	}
	return s.access.Stream(ctx, streamID)
}

// Follow records actor as a follower of the stream
func (s *StreamService) Follow(ctx context.Context, actor *models.Actor, streamID uint) (*models.StreamFollower, error) {
	if actor == nil {
		return nil, errUnauthenticated()
	}
	if _, err := s.access.Stream(ctx, streamID); err != nil {
		return nil, err
	}

	f := &models.StreamFollower{StreamID: streamID, UserID: actor.ID, FollowedAt: s.now()}
	if err := s.streams.Follow(ctx, f); err != nil {
		return nil, conflict(err, CodeAlreadyFollowing, "Already following this stream")
	}
	return f, nil
}

// Unfollow removes actor from the stream's followers
func (s *StreamService) Unfollow(ctx context.Context, actor *models.Actor, streamID uint) error {
	if actor == nil {
		return errUnauthenticated()
	}
	if err := s.streams.Unfollow(ctx, streamID, actor.ID); err != nil {
		return storeError(err)
	}
	return nil
}

// GrantSubscription records a paid subscription for userID. Billing lives
// elsewhere; the owner mirrors its result here.
func (s *StreamService) GrantSubscription(ctx context.Context, actor *models.Actor, streamID uint, userID string, tier int, expiresAt *time.Time) (*models.StreamSubscriber, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageStream, ""); err != nil {
		return nil, err
	}
	if strings.TrimSpace(userID) == "" {
		return nil, apperrors.NewValidationError("INVALID_SUBSCRIPTION", "user_id is required")
	}
	if tier < 1 {
		tier = 1
	}

	sub := &models.StreamSubscriber{StreamID: streamID, UserID: userID, Tier: tier, ExpiresAt: expiresAt}
	if err := s.streams.SaveSubscriber(ctx, sub); err != nil {
		return nil, storeError(err)
	}
	return sub, nil
}
