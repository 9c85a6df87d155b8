package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/moderation"
	"streamkit/backend/internal/policy"
	"streamkit/backend/internal/repository"
	"streamkit/backend/pkg/cache"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"
)

const defaultRulesTTL = 5 * time.Second

// RuleSnapshot is everything the evaluator needs for one stream
type RuleSnapshot struct {
	Settings models.ChatSettings
	Filters  []models.ChatFilter
	Emotes   []models.Emote
	EmoteSet moderation.EmoteSet
}

// Emote returns the stream emote named name
func (s *RuleSnapshot) Emote(name string) (models.Emote, bool) {
	for _, e := range s.Emotes {
		if e.Name == name {
			return e, true
		}
	}
	return models.Emote{}, false
}

// RuleService owns per-stream chat settings, filters, emotes and the
// moderator set. Every mutation is owner-only.
type RuleService struct {
	rules   repository.RuleRepository
	streams repository.StreamRepository
	access  *Access
	cache   *cache.Cache[uint, *RuleSnapshot]
	log     *logger.Logger
}

// NewRuleService creates a RuleService; snapshots are cached for ttl
func NewRuleService(repos *repository.Repositories, access *Access, ttl time.Duration, log *logger.Logger) *RuleService {
	if ttl <= 0 {
		ttl = defaultRulesTTL
	}
	return &RuleService{
		rules:   repos.Rules,
		streams: repos.Streams,
		access:  access,
		cache:   cache.New[uint, *RuleSnapshot](cache.Options{TTL: ttl, MaxItems: 10000}),
		log:     log.WithComponent("rules"),
	}
}

// Run expires cached snapshots until ctx is done
func (s *RuleService) Run(ctx context.Context) {
	s.cache.Run(ctx, time.Minute)
}

func (s *RuleService) invalidate(streamID uint) {
	s.cache.Delete(streamID)
}

// Snapshot returns the stream's current rules, served from a short-lived cache
func (s *RuleService) Snapshot(ctx context.Context, streamID uint) (*RuleSnapshot, error) {
	if snap, ok := s.cache.Get(streamID); ok {
		return snap, nil
	}

	settings, err := s.settings(ctx, streamID)
	if err != nil {
		return nil, err
	}
	filters, err := s.rules.ListFilters(ctx, streamID, true)
	if err != nil {
		return nil, storeError(err)
	}
	emotes, err := s.rules.ListEmotes(ctx, streamID)
	if err != nil {
		return nil, storeError(err)
	}

	names := make([]string, len(emotes))
	for i, e := range emotes {
		names[i] = e.Name
	}
	snap := &RuleSnapshot{
		Settings: *settings,
		Filters:  filters,
		Emotes:   emotes,
		EmoteSet: moderation.NewEmoteSet(names...),
	}
	s.cache.Set(streamID, snap)
	return snap, nil
}

func (s *RuleService) settings(ctx context.Context, streamID uint) (*models.ChatSettings, error) {
	settings, err := s.rules.GetSettings(ctx, streamID)
	if errors.Is(err, repository.ErrNotFound) {
		defaults := models.DefaultChatSettings(streamID)
		return &defaults, nil
	}
	if err != nil {
		return nil, storeError(err)
	}
	return settings, nil
}

// GetSettings returns the stream's chat settings, defaults if never saved
func (s *RuleService) GetSettings(ctx context.Context, streamID uint) (*models.ChatSettings, error) {
	if _, err := s.access.Stream(ctx, streamID); err != nil {
		return nil, err
	}
	return s.settings(ctx, streamID)
}

// UpdateSettings replaces the stream's chat settings
func (s *RuleService) UpdateSettings(ctx context.Context, actor *models.Actor, streamID uint, req models.ChatSettings) (*models.ChatSettings, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionUpdateSettings, ""); err != nil {
		return nil, err
	}

	if err := validateSettings(&req); err != nil {
		return nil, err
	}
	req.StreamID = streamID
	if req.AutoMod.BlockedTerms == nil {
		req.AutoMod.BlockedTerms = models.StringList{}
	}

	if err := s.rules.SaveSettings(ctx, &req); err != nil {
		return nil, storeError(err)
	}
	s.invalidate(streamID)

	s.log.Info("Chat settings updated", "stream_id", streamID, "user_id", actor.ID)
	return &req, nil
}

func validateSettings(s *models.ChatSettings) error {
	switch {
	case s.SlowModeInterval < 0:
		return apperrors.NewValidationError(CodeInvalidSettings, "slow_mode_interval must not be negative")
	case s.SlowMode && s.SlowModeInterval == 0:
		return apperrors.NewValidationError(CodeInvalidSettings, "slow_mode_interval is required when slow mode is on")
	case s.FollowerMinAge < 0:
		return apperrors.NewValidationError(CodeInvalidSettings, "follower_min_age must not be negative")
	case s.AutoMod.CapsLimitPercent < 0 || s.AutoMod.CapsLimitPercent > 100:
		return apperrors.NewValidationError(CodeInvalidSettings, "caps_limit_percent must be between 0 and 100")
	case s.AutoMod.MaxEmotes < 0:
		return apperrors.NewValidationError(CodeInvalidSettings, "max_emotes must not be negative")
	}

	terms := make(models.StringList, 0, len(s.AutoMod.BlockedTerms))
	for _, t := range s.AutoMod.BlockedTerms {
		if t = strings.TrimSpace(t); t != "" {
			terms = append(terms, t)
		}
	}
	s.AutoMod.BlockedTerms = terms
	return nil
}

// CreateFilter adds a pattern filter. Invalid regexes are refused here; the
// evaluator still tolerates any that reach it.
func (s *RuleService) CreateFilter(ctx context.Context, actor *models.Actor, streamID uint, req *models.CreateFilterRequest) (*models.ChatFilter, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageFilters, ""); err != nil {
		return nil, err
	}

	if !req.FilterType.Valid() {
		return nil, apperrors.NewValidationError(CodeInvalidFilter, "filter_type must be block, replace or warn")
	}
	if err := moderation.ValidatePattern(req.Pattern, req.IsRegex); err != nil {
		return nil, apperrors.NewValidationError(CodeInvalidFilter, err.Error())
	}

	filter := &models.ChatFilter{
		StreamID:   streamID,
		Pattern:    req.Pattern,
		IsRegex:    req.IsRegex,
		FilterType: req.FilterType,
		IsActive:   req.IsActive == nil || *req.IsActive,
	}
	if req.FilterType == models.FilterReplace {
		filter.Replacement = req.Replacement
	}

	if err := s.rules.CreateFilter(ctx, filter); err != nil {
		return nil, storeError(err)
	}
	s.invalidate(streamID)
	return filter, nil
}

// SetFilterActive toggles a filter
func (s *RuleService) SetFilterActive(ctx context.Context, actor *models.Actor, streamID, filterID uint, active bool) (*models.ChatFilter, error) {
	filter, err := s.ownedFilter(ctx, actor, streamID, filterID)
	if err != nil {
		return nil, err
	}
	if err := s.rules.SetFilterActive(ctx, filterID, active); err != nil {
		return nil, notFound(err, CodeFilterNotFound, "Filter not found")
	}
	s.invalidate(streamID)
	filter.IsActive = active
	return filter, nil
}

// DeleteFilter removes a filter
func (s *RuleService) DeleteFilter(ctx context.Context, actor *models.Actor, streamID, filterID uint) error {
	if _, err := s.ownedFilter(ctx, actor, streamID, filterID); err != nil {
		return err
	}
	if err := s.rules.DeleteFilter(ctx, filterID); err != nil {
		return notFound(err, CodeFilterNotFound, "Filter not found")
	}
	s.invalidate(streamID)
	return nil
}

func (s *RuleService) ownedFilter(ctx context.Context, actor *models.Actor, streamID, filterID uint) (*models.ChatFilter, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageFilters, ""); err != nil {
		return nil, err
	}
	filter, err := s.rules.FindFilter(ctx, filterID)
	if err != nil {
		return nil, notFound(err, CodeFilterNotFound, "Filter not found")
	}
	if filter.StreamID != streamID {
		return nil, apperrors.NewNotFoundError(CodeFilterNotFound, "Filter not found")
	}
	return filter, nil
}

// ListFilters returns every filter of the stream, newest first
func (s *RuleService) ListFilters(ctx context.Context, actor *models.Actor, streamID uint) ([]models.ChatFilter, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageFilters, ""); err != nil {
		return nil, err
	}
	filters, err := s.rules.ListFilters(ctx, streamID, false)
	if err != nil {
		return nil, storeError(err)
	}
	return filters, nil
}

// CreateEmote adds a stream emote; names are unique per stream
func (s *RuleService) CreateEmote(ctx context.Context, actor *models.Actor, streamID uint, req *models.CreateEmoteRequest) (*models.Emote, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageEmotes, ""); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" || strings.ContainsAny(name, " \t\n") {
		return nil, apperrors.NewValidationError("INVALID_EMOTE", "emote name must be a single word")
	}

	emote := &models.Emote{
		StreamID:       streamID,
		Name:           name,
		URL:            req.URL,
		SubscriberOnly: req.SubscriberOnly,
		ModeratorOnly:  req.ModeratorOnly,
	}
	if err := s.rules.CreateEmote(ctx, emote); err != nil {
		return nil, conflict(err, CodeEmoteExists, "An emote with this name already exists")
	}
	s.invalidate(streamID)
	return emote, nil
}

// DeleteEmote removes an emote. Messages that used it are left untouched.
func (s *RuleService) DeleteEmote(ctx context.Context, actor *models.Actor, streamID, emoteID uint) error {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageEmotes, ""); err != nil {
		return err
	}
	emote, err := s.rules.FindEmote(ctx, emoteID)
	if err != nil {
		return notFound(err, CodeEmoteNotFound, "Emote not found")
	}
	if emote.StreamID != streamID {
		return apperrors.NewNotFoundError(CodeEmoteNotFound, "Emote not found")
	}
	if err := s.rules.DeleteEmote(ctx, emoteID); err != nil {
		return notFound(err, CodeEmoteNotFound, "Emote not found")
	}
	s.invalidate(streamID)
	return nil
}

// ListEmotes returns the stream's emotes
func (s *RuleService) ListEmotes(ctx context.Context, streamID uint) ([]models.Emote, error) {
	if _, err := s.access.Stream(ctx, streamID); err != nil {
		return nil, err
	}
	emotes, err := s.rules.ListEmotes(ctx, streamID)
	if err != nil {
		return nil, storeError(err)
	}
	return emotes, nil
}

// AddModerator adds userID to the stream's moderator set
func (s *RuleService) AddModerator(ctx context.Context, actor *models.Actor, streamID uint, userID string) (*models.StreamModerator, error) {
	stream, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageModerators, "")
	if err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID == "" || userID == stream.OwnerID {
		return nil, apperrors.NewValidationError("INVALID_MODERATOR", "user_id must name someone other than the owner")
	}

	mod := &models.StreamModerator{StreamID: streamID, UserID: userID, AddedBy: actor.ID}
	if err := s.streams.AddModerator(ctx, mod); err != nil {
		return nil, conflict(err, CodeModeratorExists, "User is already a moderator")
	}
	s.log.Info("Moderator added", "stream_id", streamID, "moderator_id", userID, "user_id", actor.ID)
	return mod, nil
}

// RemoveModerator removes userID from the moderator set
func (s *RuleService) RemoveModerator(ctx context.Context, actor *models.Actor, streamID uint, userID string) error {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageModerators, ""); err != nil {
		return err
	}
	if err := s.streams.RemoveModerator(ctx, streamID, userID); err != nil {
		return notFound(err, CodeModeratorNotFound, "User is not a moderator")
	}
	return nil
}

// ListModerators returns the stream's moderator set
func (s *RuleService) ListModerators(ctx context.Context, streamID uint) ([]models.StreamModerator, error) {
	if _, err := s.access.Stream(ctx, streamID); err != nil {
		return nil, err
	}
	mods, err := s.streams.ListModerators(ctx, streamID)
	if err != nil {
		return nil, storeError(err)
	}
	return mods, nil
}
