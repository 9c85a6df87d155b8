package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/moderation"
	"streamkit/backend/internal/policy"
	"streamkit/backend/internal/repository"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/shared/observability"
)

// maxTimeoutSeconds caps a timeout at two weeks
const maxTimeoutSeconds = 14 * 24 * 60 * 60

// Moderation event actions
const (
	ModerationBan       = "ban"
	ModerationUnban     = "unban"
	ModerationTimeout   = "timeout"
	ModerationUntimeout = "untimeout"
)

const (
	commandMe      = "me"
	commandBan     = "ban"
	commandUnban   = "unban"
	commandTimeout = "timeout"
	commandDelete  = "delete"
)

type command struct {
	name      string
	target    string
	reason    string
	text      string
	seconds   int
	messageID uint
}

func invalidCommand(msg string) error {
	return apperrors.NewValidationError(CodeInvalidCommand, msg)
}

// parseCommand reads a slash command. Arguments are whitespace separated;
// a reason is the remainder of the line.
func parseCommand(content string) (*command, error) {
	fields := strings.Fields(strings.TrimPrefix(content, "/"))
	if len(fields) == 0 {
		return nil, invalidCommand("empty command")
	}

	cmd := &command{name: strings.ToLower(fields[0])}
	args := fields[1:]
	rest := func(from int) string {
		if len(args) <= from {
			return ""
		}
		return strings.Join(args[from:], " ")
	}

	switch cmd.name {
	case commandMe:
		cmd.text = rest(0)
		if cmd.text == "" {
			return nil, invalidCommand("usage: /me <text>")
		}
	case commandBan:
		if len(args) < 1 {
			return nil, invalidCommand("usage: /ban <user> [reason]")
		}
		cmd.target, cmd.reason = args[0], rest(1)
	case commandUnban:
		if len(args) != 1 {
			return nil, invalidCommand("usage: /unban <user>")
		}
		cmd.target = args[0]
	case commandTimeout:
		if len(args) < 2 {
			return nil, invalidCommand("usage: /timeout <user> <seconds> [reason]")
		}
		secs, err := strconv.Atoi(args[1])
		if err != nil {
			return nil, invalidCommand("timeout duration must be a number of seconds")
		}
		cmd.target, cmd.seconds, cmd.reason = args[0], secs, rest(2)
	case commandDelete:
		if len(args) != 1 {
			return nil, invalidCommand("usage: /delete <message id>")
		}
		id, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil || id == 0 {
			return nil, invalidCommand("message id must be a positive number")
		}
		cmd.messageID = uint(id)
	default:
		return nil, apperrors.ValidationWithDetails(CodeInvalidCommand, "Unknown command", map[string]string{
			"command": cmd.name,
		})
	}
	return cmd, nil
}

// runCommand performs a moderator command and records it as a mod message
func (s *ChatService) runCommand(ctx context.Context, actor *models.Actor, stream *models.StreamSession, cmd *command) (*IngestResult, error) {
	var (
		summary  string
		duration int
	)

	switch cmd.name {
	case commandBan:
		if _, err := s.BanUser(ctx, actor, stream.ID, &models.ModerationRequest{UserID: cmd.target, Reason: cmd.reason}); err != nil {
			return nil, err
		}
		summary = fmt.Sprintf("%s has been banned", cmd.target)
	case commandUnban:
		if err := s.UnbanUser(ctx, actor, stream.ID, cmd.target); err != nil {
			return nil, err
		}
		summary = fmt.Sprintf("%s has been unbanned", cmd.target)
	case commandTimeout:
		if _, err := s.TimeoutUser(ctx, actor, stream.ID, &models.ModerationRequest{UserID: cmd.target, Reason: cmd.reason, Duration: cmd.seconds}); err != nil {
			return nil, err
		}
		summary = fmt.Sprintf("%s has been timed out for %d seconds", cmd.target, cmd.seconds)
		duration = cmd.seconds
	case commandDelete:
		if _, err := s.DeleteMessage(ctx, actor, stream.ID, cmd.messageID); err != nil {
			return nil, err
		}
		summary = fmt.Sprintf("message %d has been deleted", cmd.messageID)
	}
	if cmd.reason != "" {
		summary += ": " + cmd.reason
	}

	msg := &models.ChatMessage{
		StreamID:        stream.ID,
		UserID:          actor.ID,
		DisplayName:     actor.DisplayName,
		Content:         summary,
		MessageType:     models.MessageMod,
		IsCommand:       true,
		CommandType:     cmd.name,
		TimeoutDuration: duration,
		Source:          models.SourceNative,
	}

	mu := s.lock(stream.ID)
	mu.Lock()
	defer mu.Unlock()

	msg.CreatedAt = s.now()
	if err := s.persist(ctx, msg); err != nil {
		return nil, err
	}
	return &IngestResult{Message: msg, Action: moderation.ActionAllow}, nil
}

// DeleteMessage soft-deletes a message. Deleting an already deleted message
// succeeds without publishing again.
func (s *ChatService) DeleteMessage(ctx context.Context, actor *models.Actor, streamID, messageID uint) (*models.ChatMessage, error) {
	if actor == nil {
		return nil, errUnauthenticated()
	}
	stream, err := s.access.Stream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	msg, err := s.chat.FindMessage(ctx, messageID)
	if err != nil {
		return nil, notFound(err, CodeMessageNotFound, "Message not found")
	}
	if msg.StreamID != streamID {
		return nil, apperrors.NewNotFoundError(CodeMessageNotFound, "Message not found")
	}

	target := ""
	if msg.UserID != actor.ID {
		target = msg.UserID
	}
	if err := s.access.Authorize(ctx, actor, stream, policy.ActionDeleteMessage, target); err != nil {
		return nil, err
	}

	// the delete must not reach the feed ahead of the message's insert
	mu := s.lock(streamID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	changed, err := s.chat.SoftDelete(ctx, messageID, actor.ID, now)
	if err != nil {
		return nil, storeError(err)
	}
	if !changed {
		return msg, nil
	}

	msg.IsDeleted = true
	msg.DeletedBy = actor.ID
	msg.DeletedAt = &now

	s.publish(ctx, streamID, ChatEvent{Kind: ChatEventDelete, StreamID: streamID, MessageID: messageID})
	observability.Metrics().ModerationAction(ctx, "delete")
	s.log.Info("Chat message deleted", "stream_id", streamID, "message_id", messageID, "moderator_id", actor.ID)
	return msg, nil
}

// BanUser bans a user from the stream's chat until unbanned
func (s *ChatService) BanUser(ctx context.Context, actor *models.Actor, streamID uint, req *models.ModerationRequest) (*models.BannedUser, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, apperrors.NewValidationError(CodeInvalidCommand, "user_id is required")
	}
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionBan, userID); err != nil {
		return nil, err
	}

	ban := &models.BannedUser{
		StreamID:  streamID,
		UserID:    userID,
		BannedBy:  actor.ID,
		Reason:    req.Reason,
		CreatedAt: s.now(),
	}

	mu := s.lock(streamID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.chat.CreateBan(ctx, ban); err != nil {
		return nil, conflict(err, CodeAlreadyBanned, "User is already banned")
	}

	s.moderated(ctx, streamID, &ModerationEvent{
		Action:      ModerationBan,
		UserID:      userID,
		ModeratorID: actor.ID,
		Reason:      req.Reason,
	})
	return ban, nil
}

// UnbanUser lifts a ban
func (s *ChatService) UnbanUser(ctx context.Context, actor *models.Actor, streamID uint, userID string) error {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionUnban, userID); err != nil {
		return err
	}

	mu := s.lock(streamID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.chat.DeleteBan(ctx, streamID, userID); err != nil {
		return notFound(err, CodeNotBanned, "User is not banned")
	}

	s.moderated(ctx, streamID, &ModerationEvent{
		Action:      ModerationUnban,
		UserID:      userID,
		ModeratorID: actor.ID,
	})
	return nil
}

// TimeoutUser bans a user for req.Duration seconds. An expired timeout is
// replaced; an active one is a conflict.
func (s *ChatService) TimeoutUser(ctx context.Context, actor *models.Actor, streamID uint, req *models.ModerationRequest) (*models.ChatTimeout, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, apperrors.NewValidationError(CodeInvalidCommand, "user_id is required")
	}
	if req.Duration <= 0 || req.Duration > maxTimeoutSeconds {
		return nil, apperrors.ValidationWithDetails(CodeInvalidDuration, "Timeout duration is out of range", map[string]int{
			"min": 1,
			"max": maxTimeoutSeconds,
		})
	}
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionTimeout, userID); err != nil {
		return nil, err
	}

	mu := s.lock(streamID)
	mu.Lock()
	defer mu.Unlock()

	now := s.now()
	t := &models.ChatTimeout{
		StreamID:  streamID,
		UserID:    userID,
		IssuedBy:  actor.ID,
		Reason:    req.Reason,
		ExpiresAt: now.Add(time.Duration(req.Duration) * time.Second),
		CreatedAt: now,
	}
	if err := s.chat.PutTimeout(ctx, t, now); err != nil {
		return nil, s.timeoutConflict(ctx, err, streamID, userID)
	}

	expires := t.ExpiresAt
	s.moderated(ctx, streamID, &ModerationEvent{
		Action:      ModerationTimeout,
		UserID:      userID,
		ModeratorID: actor.ID,
		Reason:      req.Reason,
		ExpiresAt:   &expires,
	})
	return t, nil
}

// RemoveTimeout lifts a timeout before it expires
func (s *ChatService) RemoveTimeout(ctx context.Context, actor *models.Actor, streamID uint, userID string) error {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionTimeout, userID); err != nil {
		return err
	}

	mu := s.lock(streamID)
	mu.Lock()
	defer mu.Unlock()

	if err := s.chat.DeleteTimeout(ctx, streamID, userID); err != nil {
		return notFound(err, CodeNotTimedOut, "User is not timed out")
	}

	s.moderated(ctx, streamID, &ModerationEvent{
		Action:      ModerationUntimeout,
		UserID:      userID,
		ModeratorID: actor.ID,
	})
	return nil
}

// ListBans returns the stream's bans, newest first
func (s *ChatService) ListBans(ctx context.Context, actor *models.Actor, streamID uint) ([]models.BannedUser, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionBan, ""); err != nil {
		return nil, err
	}
	bans, err := s.chat.ListBans(ctx, streamID)
	if err != nil {
		return nil, storeError(err)
	}
	return bans, nil
}

// ListTimeouts returns timeouts still in force, soonest to expire first
func (s *ChatService) ListTimeouts(ctx context.Context, actor *models.Actor, streamID uint) ([]models.ChatTimeout, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionTimeout, ""); err != nil {
		return nil, err
	}
	timeouts, err := s.chat.ListActiveTimeouts(ctx, streamID, s.now())
	if err != nil {
		return nil, storeError(err)
	}
	return timeouts, nil
}

// RecentMessages returns up to limit visible messages, oldest first
func (s *ChatService) RecentMessages(ctx context.Context, streamID uint, limit int) ([]models.ChatMessage, error) {
	if _, err := s.access.Stream(ctx, streamID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > s.cfg.SnapshotSize {
		limit = s.cfg.SnapshotSize
	}
	msgs, err := s.chat.Recent(ctx, streamID, limit)
	if err != nil {
		return nil, storeError(err)
	}
	return msgs, nil
}

// timeoutConflict reports when the timeout already in force runs out
func (s *ChatService) timeoutConflict(ctx context.Context, err error, streamID uint, userID string) error {
	if !errors.Is(err, repository.ErrDuplicate) {
		return storeError(err)
	}
	existing, ferr := s.chat.FindTimeout(ctx, streamID, userID)
	if ferr != nil {
		return apperrors.NewConflictError(CodeAlreadyTimedOut, "User is already timed out")
	}
	return apperrors.ConflictWithDetails(CodeAlreadyTimedOut, "User is already timed out", map[string]time.Time{
		"expires_at": existing.ExpiresAt,
	})
}

// moderated publishes a moderation event; callers hold the stream lock
func (s *ChatService) moderated(ctx context.Context, streamID uint, ev *ModerationEvent) {
	s.publish(ctx, streamID, ChatEvent{Kind: ChatEventModeration, StreamID: streamID, Moderation: ev})
	observability.Metrics().ModerationAction(ctx, ev.Action)
	s.log.Info("Moderation action",
		"stream_id", streamID,
		"action", ev.Action,
		"user_id", ev.UserID,
		"moderator_id", ev.ModeratorID,
	)
}
