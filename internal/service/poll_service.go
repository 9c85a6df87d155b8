package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/policy"
	"streamkit/backend/internal/repository"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"
	"streamkit/backend/shared/observability"
)

// PollService runs polls. Responses are unique per poll and user in the
// store; results are recomputed from every response on each read.
type PollService struct {
	polls  repository.PollRepository
	access *Access
	ledger *Ledger
	bus    *ReactionBus
	log    *logger.Logger
	now    func() time.Time
}

// NewPollService creates a PollService
func NewPollService(polls repository.PollRepository, access *Access, ledger *Ledger, bus *ReactionBus, log *logger.Logger) *PollService {
	return &PollService{
		polls:  polls,
		access: access,
		ledger: ledger,
		bus:    bus,
		log:    log.WithComponent("polls"),
		now:    utcNow,
	}
}

// CreatePoll creates a poll; with req.Activate it replaces the active poll
func (s *PollService) CreatePoll(ctx context.Context, actor *models.Actor, streamID uint, req *models.CreatePollRequest) (*models.Poll, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManagePolls, ""); err != nil {
		return nil, err
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, apperrors.NewValidationError(CodeInvalidPoll, "question is required")
	}
	if len(req.Options) < 2 {
		return nil, apperrors.NewValidationError(CodeInvalidPoll, "a poll needs at least two options")
	}

	seen := make(map[string]bool, len(req.Options))
	options := make([]models.PollOption, 0, len(req.Options))
	for i, o := range req.Options {
		id, text := strings.TrimSpace(o.ID), strings.TrimSpace(o.Text)
		if id == "" || text == "" {
			return nil, apperrors.NewValidationError(CodeInvalidPoll, "every option needs an id and text")
		}
		if seen[id] {
			return nil, apperrors.ValidationWithDetails(CodeInvalidPoll, "option ids must be unique", map[string]string{"option_id": id})
		}
		seen[id] = true
		options = append(options, models.PollOption{OptionID: id, Text: text, Position: i})
	}

	poll := &models.Poll{
		StreamID:             streamID,
		Question:             question,
		AllowMultipleChoices: req.AllowMultipleChoices,
		IsActive:             req.Activate,
		CreatedBy:            actor.ID,
		CreatedAt:            s.now(),
		Options:              options,
	}
	if err := s.polls.Create(ctx, poll); err != nil {
		return nil, storeError(err)
	}

	s.log.Info("Poll created", "stream_id", streamID, "poll_id", poll.ID, "active", poll.IsActive)
	if poll.IsActive {
		s.signal(ctx, poll, &models.PollResults{PollID: poll.ID, Options: emptyResults(poll)})
	}
	return poll, nil
}

// managedPoll loads a poll of streamID after authorizing actor to manage polls
func (s *PollService) managedPoll(ctx context.Context, actor *models.Actor, streamID, pollID uint) (*models.Poll, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManagePolls, ""); err != nil {
		return nil, err
	}
	return s.poll(ctx, streamID, pollID)
}

func (s *PollService) poll(ctx context.Context, streamID, pollID uint) (*models.Poll, error) {
	poll, err := s.polls.FindByID(ctx, pollID)
	if err != nil {
		return nil, notFound(err, CodePollNotFound, "Poll not found")
	}
	if poll.StreamID != streamID {
		return nil, apperrors.NewNotFoundError(CodePollNotFound, "Poll not found")
	}
	return poll, nil
}

// ActivatePoll makes the poll the stream's only active poll
func (s *PollService) ActivatePoll(ctx context.Context, actor *models.Actor, streamID, pollID uint) (*models.Poll, error) {
	poll, err := s.managedPoll(ctx, actor, streamID, pollID)
	if err != nil {
		return nil, err
	}
	if err := s.polls.Activate(ctx, poll.ID); err != nil {
		return nil, notFound(err, CodePollNotFound, "Poll not found")
	}
	poll.IsActive = true
	poll.EndedAt = nil

	if results, err := s.results(ctx, poll); err == nil {
		s.signal(ctx, poll, results)
	}
	return poll, nil
}

// ClosePoll stops voting; results stay readable
func (s *PollService) ClosePoll(ctx context.Context, actor *models.Actor, streamID, pollID uint) (*models.PollResults, error) {
	poll, err := s.managedPoll(ctx, actor, streamID, pollID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.polls.Close(ctx, poll.ID, now); err != nil {
		return nil, notFound(err, CodePollNotFound, "Poll not found")
	}
	poll.IsActive = false
	poll.EndedAt = &now

	results, err := s.results(ctx, poll)
	if err != nil {
		return nil, err
	}
	s.signal(ctx, poll, results)
	return results, nil
}

// ListPolls returns the stream's polls, newest first
func (s *PollService) ListPolls(ctx context.Context, streamID uint) ([]models.Poll, error) {
	if _, err := s.access.Stream(ctx, streamID); err != nil {
		return nil, err
	}
	polls, err := s.polls.List(ctx, streamID)
	if err != nil {
		return nil, storeError(err)
	}
	return polls, nil
}

// GetPoll returns the poll as actor sees it. Results are shown once the
// actor has voted, once the poll is closed, or to the stream's staff.
func (s *PollService) GetPoll(ctx context.Context, actor *models.Actor, streamID, pollID uint) (*models.PollView, error) {
	stream, err := s.access.Stream(ctx, streamID)
	if err != nil {
		return nil, err
	}
	poll, err := s.poll(ctx, streamID, pollID)
	if err != nil {
		return nil, err
	}

	view := &models.PollView{Poll: poll}
	showResults := !poll.IsActive
	if actor != nil {
		if view.HasVoted, err = s.polls.HasResponded(ctx, poll.ID, actor.ID); err != nil {
			return nil, storeError(err)
		}
		privileged, err := s.access.Privileged(ctx, stream, actor.ID)
		if err != nil {
			return nil, err
		}
		showResults = showResults || view.HasVoted || privileged
	}
	if showResults {
		if view.Results, err = s.results(ctx, poll); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// Results returns the live tally
func (s *PollService) Results(ctx context.Context, streamID, pollID uint) (*models.PollResults, error) {
	poll, err := s.poll(ctx, streamID, pollID)
	if err != nil {
		return nil, err
	}
	return s.results(ctx, poll)
}

// SubmitVote records actor's single response to the poll. Duplicate option
// ids are collapsed; a second vote is rejected and changes nothing.
func (s *PollService) SubmitVote(ctx context.Context, actor *models.Actor, streamID, pollID uint, optionIDs []string) (*models.PollResults, error) {
	if actor == nil {
		return nil, errUnauthenticated()
	}
	poll, err := s.poll(ctx, streamID, pollID)
	if err != nil {
		return nil, err
	}
	if !poll.IsActive {
		return nil, apperrors.NewConflictError(CodePollInactive, "Poll is not accepting votes")
	}

	selected := make([]string, 0, len(optionIDs))
	seen := make(map[string]bool, len(optionIDs))
	for _, id := range optionIDs {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		if !poll.HasOption(id) {
			return nil, apperrors.ValidationWithDetails(CodeInvalidVote, "Unknown option", map[string]string{"option_id": id})
		}
		seen[id] = true
		selected = append(selected, id)
	}
	if len(selected) == 0 {
		return nil, apperrors.NewValidationError(CodeInvalidVote, "Select an option")
	}
	if !poll.AllowMultipleChoices && len(selected) != 1 {
		return nil, apperrors.NewValidationError(CodeInvalidVote, "This poll allows a single choice")
	}

	// the unique index decides; this only saves a write
	voted, err := s.polls.HasResponded(ctx, poll.ID, actor.ID)
	if err != nil {
		return nil, storeError(err)
	}
	if voted {
		return nil, alreadyVoted()
	}

	resp := &models.PollResponse{
		PollID:            poll.ID,
		UserID:            actor.ID,
		SelectedOptionIDs: models.StringList(selected),
		CreatedAt:         s.now(),
	}
	err = retryStore(ctx, 3, func(ctx context.Context) error {
		return s.polls.CreateResponse(ctx, resp)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, alreadyVoted()
	}
	if err != nil {
		return nil, storeError(err)
	}

	observability.Metrics().PollVote(ctx)
	s.ledger.RecordAsync(ctx, streamID, actor.ID, models.PollVotePayload{PollID: poll.ID, OptionIDs: selected})

	results, err := s.results(ctx, poll)
	if err != nil {
		return nil, err
	}
	s.signal(ctx, poll, results)
	return results, nil
}

func alreadyVoted() error {
	return apperrors.NewConflictError(CodeAlreadyVoted, "You have already voted in this poll")
}

func (s *PollService) results(ctx context.Context, poll *models.Poll) (*models.PollResults, error) {
	responses, err := s.polls.ListResponses(ctx, poll.ID)
	if err != nil {
		return nil, storeError(err)
	}
	return Tally(poll, responses), nil
}

// Tally computes each option's share of all responses. With multiple
// choices the shares can sum past 100.
func Tally(poll *models.Poll, responses []models.PollResponse) *models.PollResults {
	counts := make(map[string]int, len(poll.Options))
	for _, r := range responses {
		for _, id := range r.SelectedOptionIDs {
			counts[id]++
		}
	}

	results := &models.PollResults{
		PollID:         poll.ID,
		TotalResponses: len(responses),
		Options:        emptyResults(poll),
	}
	for i := range results.Options {
		opt := &results.Options[i]
		opt.Votes = counts[opt.OptionID]
		if len(responses) > 0 {
			opt.Percentage = math.Round(float64(opt.Votes)/float64(len(responses))*10000) / 100
		}
	}
	return results
}

func emptyResults(poll *models.Poll) []models.OptionResult {
	out := make([]models.OptionResult, len(poll.Options))
	for i, o := range poll.Options {
		out[i] = models.OptionResult{OptionID: o.OptionID, Text: o.Text}
	}
	return out
}

type pollSignal struct {
	PollID   uint                `json:"poll_id"`
	Question string              `json:"question"`
	IsActive bool                `json:"is_active"`
	Results  *models.PollResults `json:"results"`
}

func (s *PollService) signal(ctx context.Context, poll *models.Poll, results *models.PollResults) {
	s.bus.Signal(ctx, poll.StreamID, EventPollUpdate, pollSignal{
		PollID:   poll.ID,
		Question: poll.Question,
		IsActive: poll.IsActive,
		Results:  results,
	})
}
