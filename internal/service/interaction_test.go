package service

import (
	"context"
	"encoding/json"
	"testing"

	"streamkit/backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func yesNoPoll(t *testing.T, h *harness, activate bool) *models.Poll {
	t.Helper()
	poll, err := h.polls.CreatePoll(context.Background(), owner, h.stream.ID, &models.CreatePollRequest{
		Question: "Ship it?",
		Options:  []models.PollOptionInput{{ID: "a", Text: "Yes"}, {ID: "b", Text: "No"}},
		Activate: activate,
	})
	require.NoError(t, err)
	return poll
}

func TestPollService_SplitVote(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	poll := yesNoPoll(t, h, true)

	_, err := h.polls.SubmitVote(ctx, viewer, h.stream.ID, poll.ID, []string{"a"})
	require.NoError(t, err)
	results, err := h.polls.SubmitVote(ctx, bystander, h.stream.ID, poll.ID, []string{"b"})
	require.NoError(t, err)

	require.Len(t, results.Options, 2)
	assert.Equal(t, 2, results.TotalResponses)
	assert.Equal(t, 50.0, results.Options[0].Percentage)
	assert.Equal(t, 50.0, results.Options[1].Percentage)
}

func TestPollService_SecondVoteRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	poll := yesNoPoll(t, h, true)

	before, err := h.polls.SubmitVote(ctx, viewer, h.stream.ID, poll.ID, []string{"a"})
	require.NoError(t, err)

	_, err = h.polls.SubmitVote(ctx, viewer, h.stream.ID, poll.ID, []string{"b"})
	requireCode(t, err, CodeAlreadyVoted)

	after, err := h.polls.Results(ctx, h.stream.ID, poll.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestPollService_VoteValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	poll := yesNoPoll(t, h, true)

	_, err := h.polls.SubmitVote(ctx, nil, h.stream.ID, poll.ID, []string{"a"})
	requireCode(t, err, CodeUnauthenticated)
	_, err = h.polls.SubmitVote(ctx, viewer, h.stream.ID, poll.ID, nil)
	requireCode(t, err, CodeInvalidVote)
	_, err = h.polls.SubmitVote(ctx, viewer, h.stream.ID, poll.ID, []string{"a", "b"})
	requireCode(t, err, CodeInvalidVote)
	_, err = h.polls.SubmitVote(ctx, viewer, h.stream.ID, poll.ID, []string{"z"})
	requireCode(t, err, CodeInvalidVote)

	// duplicates collapse to a single choice
	results, err := h.polls.SubmitVote(ctx, viewer, h.stream.ID, poll.ID, []string{"a", "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, results.Options[0].Votes)

	_, err = h.polls.ClosePoll(ctx, owner, h.stream.ID, poll.ID)
	require.NoError(t, err)
	_, err = h.polls.SubmitVote(ctx, bystander, h.stream.ID, poll.ID, []string{"b"})
	requireCode(t, err, CodePollInactive)
}

func TestPollService_CreateValidationAndPermissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.polls.CreatePoll(ctx, viewer, h.stream.ID, &models.CreatePollRequest{
		Question: "?",
		Options:  []models.PollOptionInput{{ID: "a", Text: "A"}, {ID: "b", Text: "B"}},
	})
	requireCode(t, err, CodeForbidden)

	_, err = h.polls.CreatePoll(ctx, mod, h.stream.ID, &models.CreatePollRequest{
		Question: "?",
		Options:  []models.PollOptionInput{{ID: "a", Text: "A"}, {ID: "a", Text: "B"}},
	})
	requireCode(t, err, CodeInvalidPoll)

	_, err = h.polls.CreatePoll(ctx, mod, h.stream.ID, &models.CreatePollRequest{
		Question: "?",
		Options:  []models.PollOptionInput{{ID: "a", Text: "A"}},
	})
	requireCode(t, err, CodeInvalidPoll)

	polls, err := h.polls.ListPolls(ctx, h.stream.ID)
	require.NoError(t, err)
	assert.Empty(t, polls)
}

func TestPollService_SingleActivePoll(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	first := yesNoPoll(t, h, true)
	second := yesNoPoll(t, h, true)

	view, err := h.polls.GetPoll(ctx, viewer, h.stream.ID, first.ID)
	require.NoError(t, err)
	assert.False(t, view.Poll.IsActive)

	_, err = h.polls.ActivatePoll(ctx, mod, h.stream.ID, first.ID)
	require.NoError(t, err)

	view, err = h.polls.GetPoll(ctx, viewer, h.stream.ID, second.ID)
	require.NoError(t, err)
	assert.False(t, view.Poll.IsActive)
}

func TestPollService_ViewShowsResultsAfterVoting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	poll := yesNoPoll(t, h, true)

	view, err := h.polls.GetPoll(ctx, viewer, h.stream.ID, poll.ID)
	require.NoError(t, err)
	assert.False(t, view.HasVoted)
	assert.Nil(t, view.Results)

	_, err = h.polls.SubmitVote(ctx, viewer, h.stream.ID, poll.ID, []string{"b"})
	require.NoError(t, err)

	view, err = h.polls.GetPoll(ctx, viewer, h.stream.ID, poll.ID)
	require.NoError(t, err)
	assert.True(t, view.HasVoted)
	require.NotNil(t, view.Results)
	assert.Equal(t, 100.0, view.Results.Options[1].Percentage)

	staff, err := h.polls.GetPoll(ctx, mod, h.stream.ID, poll.ID)
	require.NoError(t, err)
	assert.NotNil(t, staff.Results)
}

func TestTally_MultipleChoice(t *testing.T) {
	poll := &models.Poll{Options: []models.PollOption{{OptionID: "a"}, {OptionID: "b"}, {OptionID: "c"}}}
	responses := []models.PollResponse{
		{SelectedOptionIDs: models.StringList{"a", "b"}},
		{SelectedOptionIDs: models.StringList{"a"}},
		{SelectedOptionIDs: models.StringList{"c"}},
	}

	results := Tally(poll, responses)
	assert.Equal(t, 3, results.TotalResponses)
	assert.Equal(t, 66.67, results.Options[0].Percentage)
	assert.Equal(t, 33.33, results.Options[1].Percentage)
	assert.Equal(t, 33.33, results.Options[2].Percentage)

	empty := Tally(poll, nil)
	assert.Equal(t, 0.0, empty.Options[0].Percentage)
}

func twoQuestionQuiz(t *testing.T, h *harness) *models.Quiz {
	t.Helper()
	quiz, err := h.quizzes.CreateQuiz(context.Background(), mod, h.stream.ID, &models.CreateQuizRequest{
		Title: "Trivia",
		Questions: []models.QuizQuestionInput{
			{Prompt: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: "4"},
			{Prompt: "Capital of France?", Options: []string{"Paris", "Rome"}, CorrectAnswer: "Paris"},
		},
	})
	require.NoError(t, err)
	require.Len(t, quiz.Questions, 2)
	return quiz
}

func TestQuizService_ScoreAndCompletion(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	quiz := twoQuestionQuiz(t, h)

	feed, err := h.bus.Subscribe(ctx, h.stream.ID)
	require.NoError(t, err)
	defer feed.Close()

	q1, q2 := quiz.Questions[0], quiz.Questions[1]

	out, err := h.quizzes.SubmitAnswer(ctx, viewer, h.stream.ID, quiz.ID, q1.ID, "4")
	require.NoError(t, err)
	assert.True(t, out.IsCorrect)
	assert.False(t, out.Completed)
	require.NotNil(t, out.NextQuestion)
	assert.Equal(t, q2.ID, out.NextQuestion.ID)
	requireNoEvent(t, feed.Events())

	out, err = h.quizzes.SubmitAnswer(ctx, viewer, h.stream.ID, quiz.ID, q2.ID, "Rome")
	require.NoError(t, err)
	assert.False(t, out.IsCorrect)
	assert.True(t, out.Completed)
	assert.Nil(t, out.NextQuestion)
	assert.Equal(t, 1, out.Score)
	assert.Equal(t, 2, out.Total)

	ev := recvEvent(t, feed.Events())
	assert.Equal(t, EventQuizCompleted, ev.Kind)
	var signal quizCompletedSignal
	require.NoError(t, json.Unmarshal(ev.Data, &signal))
	assert.Equal(t, 1, signal.Score)
	assert.Equal(t, viewer.ID, signal.ViewerID)

	progress, err := h.quizzes.Progress(ctx, viewer, h.stream.ID, quiz.ID)
	require.NoError(t, err)
	assert.True(t, progress.Completed)
	assert.Equal(t, 2, progress.Answered)
	assert.Equal(t, 1, progress.Score)
}

func TestQuizService_AnswerRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	quiz := twoQuestionQuiz(t, h)
	q1, q2 := quiz.Questions[0], quiz.Questions[1]

	_, err := h.quizzes.SubmitAnswer(ctx, viewer, h.stream.ID, quiz.ID, q2.ID, "Paris")
	requireCode(t, err, CodeQuestionOutOfOrder)

	_, err = h.quizzes.SubmitAnswer(ctx, viewer, h.stream.ID, quiz.ID, q1.ID, "5")
	requireCode(t, err, CodeInvalidAnswer)

	_, err = h.quizzes.SubmitAnswer(ctx, viewer, h.stream.ID, quiz.ID, q1.ID, "3")
	require.NoError(t, err)

	_, err = h.quizzes.SubmitAnswer(ctx, viewer, h.stream.ID, quiz.ID, q1.ID, "4")
	requireCode(t, err, CodeAnswerAlreadySubmitted)

	_, err = h.quizzes.SubmitAnswer(ctx, viewer, h.stream.ID, quiz.ID, 9999, "4")
	requireCode(t, err, CodeQuestionNotFound)

	_, err = h.quizzes.SetQuizActive(ctx, owner, h.stream.ID, quiz.ID, false)
	require.NoError(t, err)
	_, err = h.quizzes.SubmitAnswer(ctx, viewer, h.stream.ID, quiz.ID, q2.ID, "Paris")
	requireCode(t, err, CodeQuizInactive)
}

func TestQuizService_HidesCorrectAnswers(t *testing.T) {
	h := newHarness(t)
	quiz := twoQuestionQuiz(t, h)

	got, err := h.quizzes.GetQuiz(context.Background(), h.stream.ID, quiz.ID)
	require.NoError(t, err)
	raw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "correct")

	_, err = h.quizzes.CreateQuiz(context.Background(), owner, h.stream.ID, &models.CreateQuizRequest{
		Title:     "Broken",
		Questions: []models.QuizQuestionInput{{Prompt: "?", Options: []string{"a", "b"}, CorrectAnswer: "c"}},
	})
	requireCode(t, err, CodeInvalidQuiz)
}

func TestReactionBus_NoSubscribers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ev, err := h.bus.Publish(ctx, viewer, h.stream.ID, &models.ReactionRequest{Emoji: "heart"})
	require.NoError(t, err)
	assert.Equal(t, int64(3000), ev.DisplayMS)

	// a late subscriber sees nothing from before it joined
	feed, err := h.bus.Subscribe(ctx, h.stream.ID)
	require.NoError(t, err)
	defer feed.Close()
	requireNoEvent(t, feed.Events())
}

func TestReactionBus_DeliversAndRecords(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.bus.Subscribe(ctx, h.stream.ID)
	require.NoError(t, err)
	defer a.Close()
	b, err := h.bus.Subscribe(ctx, h.stream.ID)
	require.NoError(t, err)
	defer b.Close()

	_, err = h.bus.Publish(ctx, viewer, h.stream.ID, &models.ReactionRequest{Kind: "overlay", Effect: "confetti", Text: "gg"})
	require.NoError(t, err)

	for _, feed := range []*ReactionFeed{a, b} {
		ev := recvEvent(t, feed.Events())
		assert.Equal(t, EventOverlay, ev.Kind)
		assert.Equal(t, "confetti", ev.Effect)
		assert.Equal(t, viewer.ID, ev.ViewerID)
	}

	h.ledger.Flush()
	snap, err := h.tracker.Snapshot(ctx, h.stream.ID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TotalInteractions)
	require.Len(t, snap.Recent, 1)
	assert.Equal(t, models.OverlayTriggerPayload{Effect: "confetti", Text: "gg"}, snap.Recent[0].Payload)
}

func TestReactionBus_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.bus.Publish(ctx, nil, h.stream.ID, &models.ReactionRequest{Emoji: "heart"})
	requireCode(t, err, CodeUnauthenticated)
	_, err = h.bus.Publish(ctx, viewer, h.stream.ID, &models.ReactionRequest{})
	requireCode(t, err, CodeInvalidReaction)
	_, err = h.bus.Publish(ctx, viewer, h.stream.ID, &models.ReactionRequest{Kind: "fireworks"})
	requireCode(t, err, CodeInvalidReaction)
}

func TestReactionBus_RateLimited(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var limited bool
	for i := 0; i < DefaultReactionConfig().Burst+5; i++ {
		_, err := h.bus.Publish(ctx, viewer, h.stream.ID, &models.ReactionRequest{Emoji: "fire"})
		if err != nil {
			requireCode(t, err, CodeRateLimited)
			limited = true
			break
		}
	}
	assert.True(t, limited)

	// buckets are per viewer
	_, err := h.bus.Publish(ctx, bystander, h.stream.ID, &models.ReactionRequest{Emoji: "fire"})
	require.NoError(t, err)
}

func TestChallengeService_Progress(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c, err := h.challenges.CreateChallenge(ctx, owner, h.stream.ID, &models.CreateChallengeRequest{Title: "100 hype", TargetValue: 10})
	require.NoError(t, err)

	_, err = h.challenges.Join(ctx, viewer, h.stream.ID, c.ID)
	require.NoError(t, err)
	_, err = h.challenges.Join(ctx, viewer, h.stream.ID, c.ID)
	requireCode(t, err, CodeAlreadyJoined)

	_, err = h.challenges.RecordProgress(ctx, viewer, h.stream.ID, c.ID, &models.ProgressRequest{UserID: viewer.ID, Delta: 5})
	requireCode(t, err, CodeForbidden)
	_, err = h.challenges.RecordProgress(ctx, mod, h.stream.ID, c.ID, &models.ProgressRequest{UserID: viewer.ID, Delta: 0})
	requireCode(t, err, CodeInvalidProgress)
	_, err = h.challenges.RecordProgress(ctx, mod, h.stream.ID, c.ID, &models.ProgressRequest{UserID: bystander.ID, Delta: 5})
	requireCode(t, err, CodeNotParticipant)

	p, err := h.challenges.RecordProgress(ctx, mod, h.stream.ID, c.ID, &models.ProgressRequest{UserID: viewer.ID, Delta: 6})
	require.NoError(t, err)
	assert.Equal(t, 6, p.Progress)
	p, err = h.challenges.RecordProgress(ctx, mod, h.stream.ID, c.ID, &models.ProgressRequest{UserID: viewer.ID, Delta: 6})
	require.NoError(t, err)
	assert.Equal(t, 12, p.Progress)

	got, err := h.challenges.GetChallenge(ctx, h.stream.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, got.CurrentProgress)
	assert.NotNil(t, got.CompletedAt)

	_, err = h.challenges.EndChallenge(ctx, owner, h.stream.ID, c.ID)
	require.NoError(t, err)
	_, err = h.challenges.Join(ctx, bystander, h.stream.ID, c.ID)
	requireCode(t, err, CodeChallengeInactive)
}

func TestTracker_Snapshot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	poll := yesNoPoll(t, h, true)
	_, err := h.polls.SubmitVote(ctx, viewer, h.stream.ID, poll.ID, []string{"a"})
	require.NoError(t, err)
	_, err = h.bus.Publish(ctx, viewer, h.stream.ID, &models.ReactionRequest{Emoji: "heart"})
	require.NoError(t, err)
	_, err = h.bus.Publish(ctx, bystander, h.stream.ID, &models.ReactionRequest{Emoji: "fire"})
	require.NoError(t, err)
	h.ledger.Flush()

	snap, err := h.tracker.Snapshot(ctx, h.stream.ID, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.TotalInteractions)
	assert.Equal(t, int64(2), snap.UniqueViewers)
	assert.Equal(t, 1.5, snap.PerViewer)
	assert.Len(t, snap.Recent, 2)
	require.Len(t, snap.Leaderboard, 2)
	assert.Equal(t, viewer.ID, snap.Leaderboard[0].ViewerID)
	assert.Equal(t, int64(2), snap.Leaderboard[0].Count)
}
