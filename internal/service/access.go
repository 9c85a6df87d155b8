package service

import (
	"context"
	"errors"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/policy"
	"streamkit/backend/internal/repository"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"
)

// Access resolves stream ownership and moderator membership and asks the
// capability policy whether an actor may perform a privileged action.
type Access struct {
	streams repository.StreamRepository
	policy  *policy.Engine
	log     *logger.Logger
}

// NewAccess creates an Access checker
func NewAccess(streams repository.StreamRepository, engine *policy.Engine, log *logger.Logger) *Access {
	return &Access{
		streams: streams,
		policy:  engine,
		log:     log.WithComponent("access"),
	}
}

// Stream loads a stream or returns a 404
func (a *Access) Stream(ctx context.Context, streamID uint) (*models.StreamSession, error) {
	stream, err := a.streams.FindByID(ctx, streamID)
	if err != nil {
		return nil, notFound(err, CodeStreamNotFound, "Stream not found")
	}
	return stream, nil
}

// Privileged reports whether userID owns or moderates the stream
func (a *Access) Privileged(ctx context.Context, stream *models.StreamSession, userID string) (bool, error) {
	if userID == stream.OwnerID {
		return true, nil
	}
	isMod, err := a.streams.IsModerator(ctx, stream.ID, userID)
	if err != nil {
		return false, storeError(err)
	}
	return isMod, nil
}

// Authorize checks actor against the capability policy for action. target is
// the user the action applies to and may be empty. It must run before any
// mutation.
func (a *Access) Authorize(ctx context.Context, actor *models.Actor, stream *models.StreamSession, action policy.Action, target string) error {
	if actor == nil {
		return errUnauthenticated()
	}

	in := policy.Input{
		Action: action,
		Actor:  actor.ID,
		Owner:  stream.OwnerID,
		Target: target,
	}

	var err error
	if actor.ID != stream.OwnerID {
		if in.ActorIsModerator, err = a.streams.IsModerator(ctx, stream.ID, actor.ID); err != nil {
			return storeError(err)
		}
	}
	if target != "" && target != stream.OwnerID {
		if in.TargetIsModerator, err = a.streams.IsModerator(ctx, stream.ID, target); err != nil {
			return storeError(err)
		}
	}

	decision, err := a.policy.Decide(ctx, in)
	if err != nil {
		a.log.LogError(err, "Policy evaluation failed, denying", "action", string(action), "stream_id", stream.ID)
		return apperrors.NewForbiddenError(CodeForbidden, "Action not permitted")
	}
	if !decision.Allow {
		return apperrors.ForbiddenWithDetails(CodeForbidden, "Action not permitted", map[string]string{
			"action": string(action),
			"reason": decision.Reason,
		})
	}
	return nil
}

// AuthorizeStream loads the stream and authorizes action in one step
func (a *Access) AuthorizeStream(ctx context.Context, actor *models.Actor, streamID uint, action policy.Action, target string) (*models.StreamSession, error) {
	if actor == nil {
		return nil, errUnauthenticated()
	}
	stream, err := a.Stream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	if err := a.Authorize(ctx, actor, stream, action, target); err != nil {
		return nil, err
	}
	return stream, nil
}

// Audience answers the subscription and follower questions behind the
// audience-tier chat gates
type Audience interface {
	IsSubscriber(ctx context.Context, streamID uint, userID string) (bool, error)
	// FollowedAt returns when userID followed the stream, false if they do not
	FollowedAt(ctx context.Context, streamID uint, userID string) (time.Time, bool, error)
}

type storeAudience struct {
	streams repository.StreamRepository
	now     func() time.Time
}

// NewStoreAudience answers audience questions from the stream tables
func NewStoreAudience(streams repository.StreamRepository) Audience {
	return &storeAudience{streams: streams, now: utcNow}
}

func (a *storeAudience) IsSubscriber(ctx context.Context, streamID uint, userID string) (bool, error) {
	sub, err := a.streams.FindSubscriber(ctx, streamID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.Active(a.now()), nil
}

func (a *storeAudience) FollowedAt(ctx context.Context, streamID uint, userID string) (time.Time, bool, error) {
	f, err := a.streams.FindFollower(ctx, streamID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return f.FollowedAt, true, nil
}

func utcNow() time.Time {
	return time.Now().UTC()
}
