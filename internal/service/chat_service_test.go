package service

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/moderation"
	"streamkit/backend/internal/repository"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recvEvent[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "feed closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	var zero T
	return zero
}

func requireNoEvent[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func TestChatService_BlockFilterRejects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.addFilter(t, models.CreateFilterRequest{Pattern: "spam", FilterType: models.FilterBlock})

	_, err := h.chat.Send(ctx, viewer, h.stream.ID, "this is spam")
	requireCode(t, err, CodeMessageRejected)
	assert.Equal(t, 403, apperrors.GetStatusCode(err))

	res, err := h.chat.Send(ctx, viewer, h.stream.ID, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Message.Content)
	assert.Equal(t, moderation.ActionAllow, res.Action)

	msgs, err := h.repos.Chat.Recent(ctx, h.stream.ID, 50)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestChatService_RegexReplace(t *testing.T) {
	h := newHarness(t)
	h.addFilter(t, models.CreateFilterRequest{
		Pattern:     "d(a)rn",
		IsRegex:     true,
		FilterType:  models.FilterReplace,
		Replacement: "****",
	})

	res, err := h.chat.Send(context.Background(), viewer, h.stream.ID, "darn this game")
	require.NoError(t, err)
	assert.Equal(t, "**** this game", res.Message.Content)
	assert.Equal(t, moderation.ActionRewrite, res.Action)
}

func TestChatService_WarnFlagsMessage(t *testing.T) {
	h := newHarness(t)
	h.addFilter(t, models.CreateFilterRequest{Pattern: "heck", FilterType: models.FilterWarn})

	res, err := h.chat.Send(context.Background(), viewer, h.stream.ID, "what the heck")
	require.NoError(t, err)
	assert.True(t, res.Warned())
	assert.True(t, res.Message.Flagged)
	assert.Equal(t, "what the heck", res.Message.Content)
}

func TestChatService_InputValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.chat.Send(ctx, nil, h.stream.ID, "hi")
	requireCode(t, err, CodeUnauthenticated)

	_, err = h.chat.Send(ctx, viewer, h.stream.ID, "   ")
	requireCode(t, err, CodeInvalidMessage)

	long := make([]rune, DefaultChatConfig().MaxMessageLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = h.chat.Send(ctx, viewer, h.stream.ID, string(long))
	requireCode(t, err, CodeInvalidMessage)

	_, err = h.chat.Send(ctx, viewer, 9999, "hi")
	requireCode(t, err, CodeStreamNotFound)

	_, err = h.streams.SetChatEnabled(ctx, owner, h.stream.ID, false)
	require.NoError(t, err)
	_, err = h.chat.Send(ctx, viewer, h.stream.ID, "hi")
	requireCode(t, err, CodeChatDisabled)
}

func TestChatService_BannedUserNeverPersists(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.chat.BanUser(ctx, mod, h.stream.ID, &models.ModerationRequest{UserID: viewer.ID, Reason: "spam"})
	require.NoError(t, err)

	for _, content := range []string{"hello", "/me waves", "another"} {
		_, err := h.chat.Send(ctx, viewer, h.stream.ID, content)
		requireCode(t, err, CodeUserBanned)
	}
	_, err = h.chat.IngestRelayed(ctx, h.stream.ID, RelayedMessage{UserID: viewer.ID, Content: "relayed"})
	requireCode(t, err, CodeUserBanned)

	msgs, err := h.repos.Chat.Recent(ctx, h.stream.ID, 50)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	_, err = h.chat.BanUser(ctx, owner, h.stream.ID, &models.ModerationRequest{UserID: viewer.ID})
	requireCode(t, err, CodeAlreadyBanned)

	require.NoError(t, h.chat.UnbanUser(ctx, owner, h.stream.ID, viewer.ID))
	requireCode(t, h.chat.UnbanUser(ctx, owner, h.stream.ID, viewer.ID), CodeNotBanned)

	_, err = h.chat.Send(ctx, viewer, h.stream.ID, "back again")
	require.NoError(t, err)
}

func TestChatService_Timeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.chat.TimeoutUser(ctx, mod, h.stream.ID, &models.ModerationRequest{UserID: viewer.ID, Duration: 0})
	requireCode(t, err, CodeInvalidDuration)

	_, err = h.chat.TimeoutUser(ctx, mod, h.stream.ID, &models.ModerationRequest{UserID: viewer.ID, Duration: 60})
	require.NoError(t, err)

	_, err = h.chat.Send(ctx, viewer, h.stream.ID, "hello")
	requireCode(t, err, CodeUserTimedOut)

	_, err = h.chat.TimeoutUser(ctx, mod, h.stream.ID, &models.ModerationRequest{UserID: viewer.ID, Duration: 60})
	requireCode(t, err, CodeAlreadyTimedOut)
	assert.Equal(t, 409, apperrors.GetStatusCode(err))
	details, ok := apperrors.GetErrorDetails(err).(map[string]time.Time)
	require.True(t, ok, "details: %#v", apperrors.GetErrorDetails(err))
	assert.WithinDuration(t, h.clock.Now().Add(60*time.Second), details["expires_at"], time.Second)

	timeouts, err := h.chat.ListTimeouts(ctx, mod, h.stream.ID)
	require.NoError(t, err)
	require.Len(t, timeouts, 1)

	h.clock.Advance(61 * time.Second)
	_, err = h.chat.Send(ctx, viewer, h.stream.ID, "hello")
	require.NoError(t, err)

	// an expired timeout is replaced rather than conflicting
	_, err = h.chat.TimeoutUser(ctx, mod, h.stream.ID, &models.ModerationRequest{UserID: viewer.ID, Duration: 30})
	require.NoError(t, err)
	require.NoError(t, h.chat.RemoveTimeout(ctx, mod, h.stream.ID, viewer.ID))
	requireCode(t, h.chat.RemoveTimeout(ctx, mod, h.stream.ID, viewer.ID), CodeNotTimedOut)
}

func TestChatService_SlowMode(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.updateSettings(t, func(s *models.ChatSettings) {
		s.SlowMode = true
		s.SlowModeInterval = 10
	})

	first, err := h.chat.Send(ctx, viewer, h.stream.ID, "one")
	require.NoError(t, err)

	h.clock.Advance(4 * time.Second)
	_, err = h.chat.Send(ctx, viewer, h.stream.ID, "two")
	requireCode(t, err, CodeSlowMode)
	assert.Equal(t, map[string]int{"retry_after": 6}, apperrors.GetErrorDetails(err))

	// moderators and the owner are exempt
	_, err = h.chat.Send(ctx, mod, h.stream.ID, "mod one")
	require.NoError(t, err)
	_, err = h.chat.Send(ctx, mod, h.stream.ID, "mod two")
	require.NoError(t, err)

	h.clock.Advance(6 * time.Second)
	second, err := h.chat.Send(ctx, viewer, h.stream.ID, "two")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, second.Message.CreatedAt.Sub(first.Message.CreatedAt), 10*time.Second)
}

func TestChatService_SlowModeHoldsAcrossInstances(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.updateSettings(t, func(s *models.ChatSettings) {
		s.SlowMode = true
		s.SlowModeInterval = 10
	})

	// a second gateway instance over the same database
	other := NewChatService(h.repos, h.rules, h.access, NewStoreAudience(h.repos.Streams), h.broker, DefaultChatConfig(), logger.Discard())
	other.now = h.clock.Now

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, svc := range []*ChatService{h.chat, other} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = svc.Send(ctx, viewer, h.stream.ID, "first!")
		}()
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		requireCode(t, err, CodeSlowMode)
	}
	assert.Equal(t, 1, accepted)

	msgs, err := h.repos.Chat.Recent(ctx, h.stream.ID, 10)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

// stallingChat holds the first CreateMessage after its row commits
type stallingChat struct {
	repository.ChatRepository
	once      sync.Once
	committed chan struct{}
	release   chan struct{}
}

func (s *stallingChat) CreateMessage(ctx context.Context, msg *models.ChatMessage) error {
	if err := s.ChatRepository.CreateMessage(ctx, msg); err != nil {
		return err
	}
	s.once.Do(func() {
		close(s.committed)
		<-s.release
	})
	return nil
}

func TestChatService_DeleteNeverOvertakesInsert(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	stall := &stallingChat{
		ChatRepository: h.repos.Chat,
		committed:      make(chan struct{}),
		release:        make(chan struct{}),
	}
	h.chat.chat = stall

	feed, err := h.chat.Subscribe(ctx, h.stream.ID)
	require.NoError(t, err)
	defer feed.Close()

	sent := make(chan error, 1)
	go func() {
		_, err := h.chat.Send(ctx, viewer, h.stream.ID, "delete me")
		sent <- err
	}()
	<-stall.committed

	msgs, err := h.repos.Chat.Recent(ctx, h.stream.ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	id := msgs[0].ID

	deleted := make(chan error, 1)
	go func() {
		_, err := h.chat.DeleteMessage(ctx, mod, h.stream.ID, id)
		deleted <- err
	}()

	// the delete waits for the insert to be published
	requireNoEvent(t, feed.Events())
	close(stall.release)

	require.NoError(t, <-sent)
	require.NoError(t, <-deleted)

	ev := recvEvent(t, feed.Events())
	assert.Equal(t, ChatEventInsert, ev.Kind)
	assert.Equal(t, id, ev.Message.ID)
	ev = recvEvent(t, feed.Events())
	assert.Equal(t, ChatEventDelete, ev.Kind)
	assert.Equal(t, id, ev.MessageID)
}

func TestChatService_AudienceGates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.updateSettings(t, func(s *models.ChatSettings) { s.SubscriberOnly = true })
	_, err := h.chat.Send(ctx, viewer, h.stream.ID, "hi")
	requireCode(t, err, CodeSubscriberOnly)

	_, err = h.streams.GrantSubscription(ctx, owner, h.stream.ID, viewer.ID, 1, nil)
	require.NoError(t, err)
	_, err = h.chat.Send(ctx, viewer, h.stream.ID, "hi")
	require.NoError(t, err)

	h.updateSettings(t, func(s *models.ChatSettings) { s.FollowerOnly = true })
	_, err = h.chat.Send(ctx, bystander, h.stream.ID, "hi")
	requireCode(t, err, CodeFollowerOnly)

	_, err = h.streams.Follow(ctx, bystander, h.stream.ID)
	require.NoError(t, err)
	_, err = h.chat.Send(ctx, bystander, h.stream.ID, "hi")
	require.NoError(t, err)

	_, err = h.chat.Send(ctx, owner, h.stream.ID, "owner is exempt")
	require.NoError(t, err)
}

func TestChatService_Emotes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.rules.CreateEmote(ctx, owner, h.stream.ID, &models.CreateEmoteRequest{Name: "Kappa", URL: "https://cdn.example/kappa.png"})
	require.NoError(t, err)
	_, err = h.rules.CreateEmote(ctx, owner, h.stream.ID, &models.CreateEmoteRequest{Name: "ModHat", URL: "https://cdn.example/hat.png", ModeratorOnly: true})
	require.NoError(t, err)
	_, err = h.rules.CreateEmote(ctx, owner, h.stream.ID, &models.CreateEmoteRequest{Name: "Kappa", URL: "https://cdn.example/other.png"})
	requireCode(t, err, CodeEmoteExists)

	_, err = h.chat.Send(ctx, viewer, h.stream.ID, "nice ModHat")
	requireCode(t, err, CodeEmoteRestricted)
	_, err = h.chat.Send(ctx, mod, h.stream.ID, "nice ModHat")
	require.NoError(t, err)

	h.updateSettings(t, func(s *models.ChatSettings) { s.EmoteOnly = true })
	_, err = h.chat.Send(ctx, viewer, h.stream.ID, "hello")
	requireCode(t, err, CodeEmoteOnly)
	_, err = h.chat.Send(ctx, viewer, h.stream.ID, "Kappa Kappa")
	require.NoError(t, err)
	_, err = h.chat.Send(ctx, viewer, h.stream.ID, ":notreal:")
	requireCode(t, err, CodeEmoteOnly)
	_, err = h.chat.Send(ctx, viewer, h.stream.ID, ":ModHat:")
	requireCode(t, err, CodeEmoteRestricted)
}

func TestChatService_Commands(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.chat.Send(ctx, viewer, h.stream.ID, "/me waves")
	require.NoError(t, err)
	assert.Equal(t, "waves", res.Message.Content)
	assert.Equal(t, "me", res.Message.CommandType)
	assert.Equal(t, models.MessageChat, res.Message.MessageType)

	_, err = h.chat.Send(ctx, viewer, h.stream.ID, "/ban bystander")
	requireCode(t, err, CodeForbidden)
	banned, err := h.repos.Chat.IsBanned(ctx, h.stream.ID, bystander.ID)
	require.NoError(t, err)
	assert.False(t, banned, "denied command must not mutate")

	res, err = h.chat.Send(ctx, mod, h.stream.ID, "/timeout bystander 30 calm down")
	require.NoError(t, err)
	assert.Equal(t, models.MessageMod, res.Message.MessageType)
	assert.Equal(t, 30, res.Message.TimeoutDuration)
	assert.Equal(t, "timeout", res.Message.CommandType)

	res, err = h.chat.Send(ctx, mod, h.stream.ID, "/ban bystander repeated spam")
	require.NoError(t, err)
	assert.Equal(t, "ban", res.Message.CommandType)
	banned, err = h.repos.Chat.IsBanned(ctx, h.stream.ID, bystander.ID)
	require.NoError(t, err)
	assert.True(t, banned)

	msg, err := h.chat.Send(ctx, viewer, h.stream.ID, "delete me")
	require.NoError(t, err)
	_, err = h.chat.Send(ctx, owner, h.stream.ID, "/delete "+strconv.FormatUint(uint64(msg.Message.ID), 10))
	require.NoError(t, err)
	stored, err := h.repos.Chat.FindMessage(ctx, msg.Message.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsDeleted)

	_, err = h.chat.Send(ctx, mod, h.stream.ID, "/dance")
	requireCode(t, err, CodeInvalidCommand)
	_, err = h.chat.Send(ctx, mod, h.stream.ID, "/timeout bystander soon")
	requireCode(t, err, CodeInvalidCommand)
}

func TestChatService_ModeratorsCannotActOnOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.chat.BanUser(ctx, mod, h.stream.ID, &models.ModerationRequest{UserID: owner.ID})
	requireCode(t, err, CodeForbidden)

	_, err = h.chat.ListBans(ctx, viewer, h.stream.ID)
	requireCode(t, err, CodeForbidden)

	res, err := h.chat.Send(ctx, owner, h.stream.ID, "owner message")
	require.NoError(t, err)
	_, err = h.chat.DeleteMessage(ctx, mod, h.stream.ID, res.Message.ID)
	requireCode(t, err, CodeForbidden)

	// owners may remove their own messages
	_, err = h.chat.DeleteMessage(ctx, owner, h.stream.ID, res.Message.ID)
	require.NoError(t, err)
}

func TestChatService_SubscribeFeed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	before, err := h.chat.Send(ctx, viewer, h.stream.ID, "before")
	require.NoError(t, err)

	feed, err := h.chat.Subscribe(ctx, h.stream.ID)
	require.NoError(t, err)
	defer feed.Close()
	require.Len(t, feed.Snapshot, 1)
	assert.Equal(t, before.Message.ID, feed.Snapshot[0].ID)

	after, err := h.chat.Send(ctx, viewer, h.stream.ID, "after")
	require.NoError(t, err)

	ev := recvEvent(t, feed.Events())
	assert.Equal(t, ChatEventInsert, ev.Kind)
	require.NotNil(t, ev.Message)
	assert.Equal(t, after.Message.ID, ev.Message.ID)

	_, err = h.chat.DeleteMessage(ctx, mod, h.stream.ID, after.Message.ID)
	require.NoError(t, err)
	ev = recvEvent(t, feed.Events())
	assert.Equal(t, ChatEventDelete, ev.Kind)
	assert.Equal(t, after.Message.ID, ev.MessageID)

	// deleting again is a no-op and publishes nothing
	again, err := h.chat.DeleteMessage(ctx, mod, h.stream.ID, after.Message.ID)
	require.NoError(t, err)
	assert.True(t, again.IsDeleted)
	requireNoEvent(t, feed.Events())

	_, err = h.chat.BanUser(ctx, mod, h.stream.ID, &models.ModerationRequest{UserID: bystander.ID})
	require.NoError(t, err)
	ev = recvEvent(t, feed.Events())
	assert.Equal(t, ChatEventModeration, ev.Kind)
	require.NotNil(t, ev.Moderation)
	assert.Equal(t, ModerationBan, ev.Moderation.Action)
	assert.Equal(t, bystander.ID, ev.Moderation.UserID)
}

func TestChatService_FeedCloseIsIdempotentAndIsolated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.chat.Subscribe(ctx, h.stream.ID)
	require.NoError(t, err)
	b, err := h.chat.Subscribe(ctx, h.stream.ID)
	require.NoError(t, err)
	defer b.Close()

	a.Close()
	a.Close()

	_, ok := <-a.Events()
	assert.False(t, ok)

	_, err = h.chat.Send(ctx, viewer, h.stream.ID, "still here")
	require.NoError(t, err)
	ev := recvEvent(t, b.Events())
	assert.Equal(t, "still here", ev.Message.Content)
}

func TestChatService_RelayedSkipsViewerGates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.updateSettings(t, func(s *models.ChatSettings) {
		s.SubscriberOnly = true
		s.SlowMode = true
		s.SlowModeInterval = 30
	})
	h.addFilter(t, models.CreateFilterRequest{Pattern: "spam", FilterType: models.FilterBlock})

	msg := RelayedMessage{UserID: "twitch:someone", DisplayName: "someone", Content: "hi from twitch"}
	res, err := h.chat.IngestRelayed(ctx, h.stream.ID, msg)
	require.NoError(t, err)
	assert.Equal(t, models.SourceTwitch, res.Message.Source)

	_, err = h.chat.IngestRelayed(ctx, h.stream.ID, msg)
	require.NoError(t, err)

	msg.Content = "buy spam"
	_, err = h.chat.IngestRelayed(ctx, h.stream.ID, msg)
	requireCode(t, err, CodeMessageRejected)
}
