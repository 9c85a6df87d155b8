package repository_test

import (
	"context"
	"testing"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/repository"
	"streamkit/backend/internal/repository/repotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStream(t *testing.T, repos *repository.Repositories, owner string) *models.StreamSession {
	t.Helper()
	stream := &models.StreamSession{OwnerID: owner, Title: "test", IsLive: true, ChatEnabled: true}
	require.NoError(t, repos.Streams.Create(context.Background(), stream))
	return stream
}

func TestPollRepository_SingleActivePoll(t *testing.T) {
	repos, _ := repotest.NewRepositories(t)
	ctx := context.Background()
	stream := newStream(t, repos, "owner")

	first := &models.Poll{
		StreamID: stream.ID,
		Question: "first?",
		IsActive: true,
		Options: []models.PollOption{
			{OptionID: "a", Text: "A", Position: 0},
			{OptionID: "b", Text: "B", Position: 1},
		},
	}
	require.NoError(t, repos.Polls.Create(ctx, first))

	second := &models.Poll{
		StreamID: stream.ID,
		Question: "second?",
		IsActive: true,
		Options:  []models.PollOption{{OptionID: "x", Text: "X"}, {OptionID: "y", Text: "Y", Position: 1}},
	}
	require.NoError(t, repos.Polls.Create(ctx, second))

	got, err := repos.Polls.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.Len(t, got.Options, 2)
	assert.Equal(t, "a", got.Options[0].OptionID)

	require.NoError(t, repos.Polls.Activate(ctx, first.ID))

	got, err = repos.Polls.FindByID(ctx, second.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	got, err = repos.Polls.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestPollRepository_DuplicateResponse(t *testing.T) {
	repos, _ := repotest.NewRepositories(t)
	ctx := context.Background()
	stream := newStream(t, repos, "owner")

	poll := &models.Poll{
		StreamID: stream.ID,
		Question: "q",
		IsActive: true,
		Options:  []models.PollOption{{OptionID: "a", Text: "A"}, {OptionID: "b", Text: "B", Position: 1}},
	}
	require.NoError(t, repos.Polls.Create(ctx, poll))

	require.NoError(t, repos.Polls.CreateResponse(ctx, &models.PollResponse{
		PollID: poll.ID, UserID: "u1", SelectedOptionIDs: models.StringList{"a"},
	}))
	err := repos.Polls.CreateResponse(ctx, &models.PollResponse{
		PollID: poll.ID, UserID: "u1", SelectedOptionIDs: models.StringList{"b"},
	})
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	voted, err := repos.Polls.HasResponded(ctx, poll.ID, "u1")
	require.NoError(t, err)
	assert.True(t, voted)

	responses, err := repos.Polls.ListResponses(ctx, poll.ID)
	require.NoError(t, err)
	require.Len(t, responses, 1)
	assert.Equal(t, models.StringList{"a"}, responses[0].SelectedOptionIDs)

	assert.ErrorIs(t, repos.Polls.Close(ctx, 9999, time.Now()), repository.ErrNotFound)
}

func TestChatRepository_SoftDeleteAndRecent(t *testing.T) {
	repos, _ := repotest.NewRepositories(t)
	ctx := context.Background()
	stream := newStream(t, repos, "owner")

	var ids []uint
	for _, body := range []string{"one", "two", "three"} {
		msg := &models.ChatMessage{
			StreamID:    stream.ID,
			UserID:      "u1",
			Content:     body,
			MessageType: models.MessageChat,
			Source:      models.SourceNative,
		}
		require.NoError(t, repos.Chat.CreateMessage(ctx, msg))
		ids = append(ids, msg.ID)
	}

	deleted, err := repos.Chat.SoftDelete(ctx, ids[1], "mod", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = repos.Chat.SoftDelete(ctx, ids[1], "mod", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, deleted)

	recent, err := repos.Chat.Recent(ctx, stream.ID, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "one", recent[0].Content)
	assert.Equal(t, "three", recent[1].Content)

	recent, err = repos.Chat.Recent(ctx, stream.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "three", recent[0].Content)
}

func TestChatRepository_ClaimCooldown(t *testing.T) {
	repos, _ := repotest.NewRepositories(t)
	ctx := context.Background()
	stream := newStream(t, repos, "owner")
	now := time.Now().UTC()

	_, ok, err := repos.Chat.CooldownStart(ctx, stream.ID, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = repos.Chat.ClaimCooldown(ctx, stream.ID, "u1", now, 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	start, ok, err := repos.Chat.CooldownStart(ctx, stream.ID, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.WithinDuration(t, now, start, time.Millisecond)

	last, ok, err := repos.Chat.ClaimCooldown(ctx, stream.ID, "u1", now.Add(4*time.Second), 10*time.Second)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.WithinDuration(t, now, last, time.Millisecond)

	// windows are per user
	_, ok, err = repos.Chat.ClaimCooldown(ctx, stream.ID, "u2", now.Add(4*time.Second), 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	last, ok, err = repos.Chat.ClaimCooldown(ctx, stream.ID, "u1", now.Add(10*time.Second), 10*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.WithinDuration(t, now.Add(10*time.Second), last, time.Millisecond)
}

func TestChatRepository_Timeouts(t *testing.T) {
	repos, _ := repotest.NewRepositories(t)
	ctx := context.Background()
	stream := newStream(t, repos, "owner")
	now := time.Now().UTC()

	require.NoError(t, repos.Chat.PutTimeout(ctx, &models.ChatTimeout{
		StreamID: stream.ID, UserID: "u1", IssuedBy: "mod", ExpiresAt: now.Add(time.Minute),
	}, now))

	err := repos.Chat.PutTimeout(ctx, &models.ChatTimeout{
		StreamID: stream.ID, UserID: "u1", IssuedBy: "mod", ExpiresAt: now.Add(time.Hour),
	}, now)
	assert.ErrorIs(t, err, repository.ErrDuplicate)

	// two minutes later the first timeout has lapsed and may be replaced
	later := now.Add(2 * time.Minute)
	require.NoError(t, repos.Chat.PutTimeout(ctx, &models.ChatTimeout{
		StreamID: stream.ID, UserID: "u1", IssuedBy: "mod", ExpiresAt: later.Add(time.Minute),
	}, later))

	active, err := repos.Chat.ListActiveTimeouts(ctx, stream.ID, later)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.True(t, active[0].Active(later))

	require.NoError(t, repos.Chat.DeleteTimeout(ctx, stream.ID, "u1"))
	_, err = repos.Chat.FindTimeout(ctx, stream.ID, "u1")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestChatRepository_Bans(t *testing.T) {
	repos, _ := repotest.NewRepositories(t)
	ctx := context.Background()
	stream := newStream(t, repos, "owner")

	require.NoError(t, repos.Chat.CreateBan(ctx, &models.BannedUser{StreamID: stream.ID, UserID: "u1", BannedBy: "owner"}))
	assert.ErrorIs(t, repos.Chat.CreateBan(ctx, &models.BannedUser{StreamID: stream.ID, UserID: "u1"}), repository.ErrDuplicate)

	banned, err := repos.Chat.IsBanned(ctx, stream.ID, "u1")
	require.NoError(t, err)
	assert.True(t, banned)

	require.NoError(t, repos.Chat.DeleteBan(ctx, stream.ID, "u1"))
	assert.ErrorIs(t, repos.Chat.DeleteBan(ctx, stream.ID, "u1"), repository.ErrNotFound)
}

func TestRuleRepository_SettingsUpsertKeepsZeroValues(t *testing.T) {
	repos, _ := repotest.NewRepositories(t)
	ctx := context.Background()
	stream := newStream(t, repos, "owner")

	_, err := repos.Rules.GetSettings(ctx, stream.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	settings := models.DefaultChatSettings(stream.ID)
	settings.SlowMode = true
	require.NoError(t, repos.Rules.SaveSettings(ctx, &settings))

	settings.SlowMode = false
	settings.AutoMod.BlockedTerms = models.StringList{"spoiler"}
	require.NoError(t, repos.Rules.SaveSettings(ctx, &settings))

	got, err := repos.Rules.GetSettings(ctx, stream.ID)
	require.NoError(t, err)
	assert.False(t, got.SlowMode)
	assert.Equal(t, 30, got.SlowModeInterval)
	assert.Equal(t, models.StringList{"spoiler"}, got.AutoMod.BlockedTerms)
}

func TestRuleRepository_FiltersNewestFirst(t *testing.T) {
	repos, _ := repotest.NewRepositories(t)
	ctx := context.Background()
	stream := newStream(t, repos, "owner")

	older := &models.ChatFilter{StreamID: stream.ID, Pattern: "a", FilterType: models.FilterBlock, IsActive: true}
	newer := &models.ChatFilter{StreamID: stream.ID, Pattern: "b", FilterType: models.FilterWarn, IsActive: true}
	inactive := &models.ChatFilter{StreamID: stream.ID, Pattern: "c", FilterType: models.FilterBlock}
	require.NoError(t, repos.Rules.CreateFilter(ctx, older))
	require.NoError(t, repos.Rules.CreateFilter(ctx, newer))
	require.NoError(t, repos.Rules.CreateFilter(ctx, inactive))

	active, err := repos.Rules.ListFilters(ctx, stream.ID, true)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, newer.ID, active[0].ID)
	assert.Equal(t, older.ID, active[1].ID)

	all, err := repos.Rules.ListFilters(ctx, stream.ID, false)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStreamRepository_Moderators(t *testing.T) {
	repos, _ := repotest.NewRepositories(t)
	ctx := context.Background()
	stream := newStream(t, repos, "owner")

	require.NoError(t, repos.Streams.AddModerator(ctx, &models.StreamModerator{StreamID: stream.ID, UserID: "m1", AddedBy: "owner"}))

	isMod, err := repos.Streams.IsModerator(ctx, stream.ID, "m1")
	require.NoError(t, err)
	assert.True(t, isMod)

	isMod, err = repos.Streams.IsModerator(ctx, stream.ID, "u1")
	require.NoError(t, err)
	assert.False(t, isMod)

	require.NoError(t, repos.Streams.RemoveModerator(ctx, stream.ID, "m1"))
	mods, err := repos.Streams.ListModerators(ctx, stream.ID)
	require.NoError(t, err)
	assert.Empty(t, mods)
}

func TestInteractionRepository_Aggregates(t *testing.T) {
	repos, _ := repotest.NewRepositories(t)
	ctx := context.Background()
	stream := newStream(t, repos, "owner")

	for _, viewer := range []string{"bob", "alice", "bob", "carol", "alice"} {
		row, err := models.NewInteraction(stream.ID, viewer, models.ReactionPayload{Emoji: "🔥"})
		require.NoError(t, err)
		require.NoError(t, repos.Interactions.Append(ctx, row))
	}

	total, err := repos.Interactions.Count(ctx, stream.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	viewers, err := repos.Interactions.CountViewers(ctx, stream.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), viewers)

	board, err := repos.Interactions.Leaderboard(ctx, stream.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, []models.LeaderboardRow{
		{ViewerID: "alice", Count: 2},
		{ViewerID: "bob", Count: 2},
		{ViewerID: "carol", Count: 1},
	}, board)

	recent, err := repos.Interactions.Recent(ctx, stream.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "alice", recent[0].ViewerID)
	assert.Equal(t, "carol", recent[1].ViewerID)
}

func TestChallengeRepository_AddProgress(t *testing.T) {
	repos, _ := repotest.NewRepositories(t)
	ctx := context.Background()
	stream := newStream(t, repos, "owner")

	challenge := &models.Challenge{StreamID: stream.ID, Title: "hype", TargetValue: 10, IsActive: true}
	require.NoError(t, repos.Challenges.Create(ctx, challenge))
	require.NoError(t, repos.Challenges.AddParticipant(ctx, &models.ChallengeParticipant{
		ChallengeID: challenge.ID, UserID: "u1", JoinedAt: time.Now().UTC(),
	}))
	assert.ErrorIs(t, repos.Challenges.AddParticipant(ctx, &models.ChallengeParticipant{
		ChallengeID: challenge.ID, UserID: "u1", JoinedAt: time.Now().UTC(),
	}), repository.ErrDuplicate)

	now := time.Now().UTC()
	c, p, err := repos.Challenges.AddProgress(ctx, challenge.ID, "u1", 4, now)
	require.NoError(t, err)
	assert.Equal(t, 4, c.CurrentProgress)
	assert.Equal(t, 4, p.Progress)
	assert.Nil(t, c.CompletedAt)

	c, p, err = repos.Challenges.AddProgress(ctx, challenge.ID, "u1", 6, now)
	require.NoError(t, err)
	assert.Equal(t, 10, c.CurrentProgress)
	assert.Equal(t, 10, p.Progress)
	assert.NotNil(t, c.CompletedAt)

	_, _, err = repos.Challenges.AddProgress(ctx, challenge.ID, "stranger", 1, now)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}
