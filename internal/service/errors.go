package service

import (
	"context"
	"errors"

	"streamkit/backend/internal/repository"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/resilience"
)

// Error codes surfaced to clients
const (
	CodeUnauthenticated     = "UNAUTHENTICATED"
	CodeForbidden           = "FORBIDDEN"
	CodeStoreFailure        = "STORE_FAILURE"
	CodeStoreUnavailable    = "STORE_UNAVAILABLE"
	CodeRealtimeUnavailable = "REALTIME_UNAVAILABLE"
	CodeRateLimited         = "RATE_LIMITED"

	CodeStreamNotFound   = "STREAM_NOT_FOUND"
	CodeAlreadyFollowing = "ALREADY_FOLLOWING"

	CodeChatDisabled    = "CHAT_DISABLED"
	CodeInvalidMessage  = "INVALID_MESSAGE"
	CodeInvalidCommand  = "INVALID_COMMAND"
	CodeUserBanned      = "USER_BANNED"
	CodeUserTimedOut    = "USER_TIMED_OUT"
	CodeSlowMode        = "SLOW_MODE"
	CodeSubscriberOnly  = "SUBSCRIBER_ONLY"
	CodeFollowerOnly    = "FOLLOWER_ONLY"
	CodeEmoteOnly       = "EMOTE_ONLY"
	CodeEmoteRestricted = "EMOTE_RESTRICTED"
	CodeMessageRejected = "MESSAGE_REJECTED"
	CodeMessageNotFound = "MESSAGE_NOT_FOUND"
	CodeAlreadyBanned   = "ALREADY_BANNED"
	CodeNotBanned       = "NOT_BANNED"
	CodeAlreadyTimedOut = "ALREADY_TIMED_OUT"
	CodeNotTimedOut     = "NOT_TIMED_OUT"
	CodeInvalidDuration = "INVALID_DURATION"

	CodeInvalidSettings   = "INVALID_SETTINGS"
	CodeInvalidFilter     = "INVALID_FILTER"
	CodeFilterNotFound    = "FILTER_NOT_FOUND"
	CodeEmoteExists       = "EMOTE_EXISTS"
	CodeEmoteNotFound     = "EMOTE_NOT_FOUND"
	CodeModeratorExists   = "MODERATOR_EXISTS"
	CodeModeratorNotFound = "MODERATOR_NOT_FOUND"

	CodeInvalidPoll  = "INVALID_POLL"
	CodePollNotFound = "POLL_NOT_FOUND"
	CodePollInactive = "POLL_INACTIVE"
	CodeInvalidVote  = "INVALID_VOTE"
	CodeAlreadyVoted = "ALREADY_VOTED"

	CodeInvalidQuiz            = "INVALID_QUIZ"
	CodeQuizNotFound           = "QUIZ_NOT_FOUND"
	CodeQuizInactive           = "QUIZ_INACTIVE"
	CodeQuestionNotFound       = "QUESTION_NOT_FOUND"
	CodeQuestionOutOfOrder     = "QUESTION_OUT_OF_ORDER"
	CodeInvalidAnswer          = "INVALID_ANSWER"
	CodeAnswerAlreadySubmitted = "ANSWER_ALREADY_SUBMITTED"

	CodeInvalidChallenge  = "INVALID_CHALLENGE"
	CodeChallengeNotFound = "CHALLENGE_NOT_FOUND"
	CodeChallengeInactive = "CHALLENGE_INACTIVE"
	CodeAlreadyJoined     = "ALREADY_JOINED"
	CodeNotParticipant    = "NOT_PARTICIPANT"
	CodeInvalidProgress   = "INVALID_PROGRESS"

	CodeInvalidReaction = "INVALID_REACTION"
)

func errUnauthenticated() error {
	return apperrors.NewUnauthorizedError(CodeUnauthenticated, "Authentication required")
}

// storeError turns a repository failure into an AppError. Transient failures
// become 503 so clients can roll back optimistic state and retry later.
func storeError(err error) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if repository.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
		return apperrors.NewUnavailableError(CodeStoreUnavailable, "The data store is temporarily unavailable").WithCause(err)
	}
	return apperrors.NewInternalServerError(CodeStoreFailure, "Failed to access the data store").WithCause(err)
}

// notFound maps repository.ErrNotFound to a 404 with the given code
func notFound(err error, code, message string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.NewNotFoundError(code, message)
	}
	return storeError(err)
}

// conflict maps repository.ErrDuplicate to a 409 with the given code
func conflict(err error, code, message string) error {
	if errors.Is(err, repository.ErrDuplicate) {
		return apperrors.NewConflictError(code, message)
	}
	return storeError(err)
}

// retryStore retries fn while the store reports transient failures
func retryStore(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	policy := resilience.DefaultRetryPolicy(repository.IsTransient)
	if attempts > 0 {
		policy.Attempts = attempts
	}
	return resilience.Retry(ctx, policy, fn)
}
