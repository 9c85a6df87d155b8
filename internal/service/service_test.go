package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/policy"
	"streamkit/backend/internal/realtime"
	"streamkit/backend/internal/repository"
	"streamkit/backend/internal/repository/repotest"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"

	"github.com/stretchr/testify/require"
)

var (
	owner     = &models.Actor{ID: "owner", DisplayName: "Owner"}
	mod       = &models.Actor{ID: "mod", DisplayName: "Mod"}
	viewer    = &models.Actor{ID: "viewer", DisplayName: "Viewer"}
	bystander = &models.Actor{ID: "bystander", DisplayName: "Bystander"}
)

// clock is a settable time source
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	repos      *repository.Repositories
	broker     *realtime.MemoryBroker
	access     *Access
	rules      *RuleService
	streams    *StreamService
	chat       *ChatService
	ledger     *Ledger
	tracker    *Tracker
	bus        *ReactionBus
	polls      *PollService
	quizzes    *QuizService
	challenges *ChallengeService
	clock      *clock
	stream     *models.StreamSession
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()

	repos, _ := repotest.NewRepositories(t)
	engine, err := policy.NewDefaultEngine(ctx)
	require.NoError(t, err)

	log := logger.Discard()
	broker := realtime.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	h := &harness{
		repos:  repos,
		broker: broker,
		clock:  newClock(),
	}
	h.access = NewAccess(repos.Streams, engine, log)
	h.rules = NewRuleService(repos, h.access, time.Minute, log)
	h.streams = NewStreamService(repos.Streams, h.access, log)
	h.streams.now = h.clock.Now
	h.chat = NewChatService(repos, h.rules, h.access, NewStoreAudience(repos.Streams), broker, DefaultChatConfig(), log)
	h.chat.now = h.clock.Now
	h.ledger = NewLedger(repos.Interactions, time.Second, log)
	t.Cleanup(h.ledger.Flush)
	h.tracker = NewTracker(repos.Interactions, log)
	h.bus = NewReactionBus(broker, h.access, h.ledger, DefaultReactionConfig(), log)
	h.polls = NewPollService(repos.Polls, h.access, h.ledger, h.bus, log)
	h.quizzes = NewQuizService(repos.Quizzes, h.access, h.ledger, h.bus, log)
	h.challenges = NewChallengeService(repos.Challenges, h.access, h.ledger, h.bus, log)

	h.stream, err = h.streams.CreateStream(ctx, owner, &models.CreateStreamRequest{Title: "test stream"})
	require.NoError(t, err)
	_, err = h.rules.AddModerator(ctx, owner, h.stream.ID, mod.ID)
	require.NoError(t, err)
	return h
}

func (h *harness) updateSettings(t *testing.T, change func(*models.ChatSettings)) {
	t.Helper()
	settings := models.DefaultChatSettings(h.stream.ID)
	change(&settings)
	_, err := h.rules.UpdateSettings(context.Background(), owner, h.stream.ID, settings)
	require.NoError(t, err)
}

func (h *harness) addFilter(t *testing.T, req models.CreateFilterRequest) *models.ChatFilter {
	t.Helper()
	f, err := h.rules.CreateFilter(context.Background(), owner, h.stream.ID, &req)
	require.NoError(t, err)
	return f
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperrors.GetErrorCode(err), "error: %v", err)
}
