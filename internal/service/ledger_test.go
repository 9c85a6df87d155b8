package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/repository"
	"streamkit/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingInteractions rejects every append
type failingInteractions struct {
	repository.InteractionRepository
	attempts atomic.Int32
}

func (f *failingInteractions) Append(context.Context, *models.StreamInteraction) error {
	f.attempts.Add(1)
	return errors.New("ledger table unavailable")
}

func TestLedger_WriteFailuresDoNotFailActions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	log := logger.Discard()

	failing := &failingInteractions{InteractionRepository: h.repos.Interactions}
	ledger := NewLedger(failing, time.Second, log)
	polls := NewPollService(h.repos.Polls, h.access, ledger, h.bus, log)
	challenges := NewChallengeService(h.repos.Challenges, h.access, ledger, h.bus, log)

	poll := yesNoPoll(t, h, true)
	results, err := polls.SubmitVote(ctx, viewer, h.stream.ID, poll.ID, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 1, results.TotalResponses)

	c, err := challenges.CreateChallenge(ctx, owner, h.stream.ID, &models.CreateChallengeRequest{Title: "hype", TargetValue: 5})
	require.NoError(t, err)
	p, err := challenges.Join(ctx, viewer, h.stream.ID, c.ID)
	require.NoError(t, err)
	assert.Equal(t, viewer.ID, p.UserID)

	ledger.Close()
	assert.GreaterOrEqual(t, failing.attempts.Load(), int32(2))
}

func TestLedger_CloseDrainsConcurrentWriters(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ledger := NewLedger(h.repos.Interactions, time.Second, logger.Discard())

	const writers = 20
	var producers sync.WaitGroup
	for i := 0; i < writers; i++ {
		producers.Add(1)
		go func() {
			defer producers.Done()
			ledger.RecordAsync(ctx, h.stream.ID, viewer.ID, models.ReactionPayload{Emoji: "👏"})
		}()
	}
	ledger.Close()
	producers.Wait()

	n, err := h.repos.Interactions.Count(ctx, h.stream.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(writers), n)

	// writes after Close still land
	ledger.RecordAsync(ctx, h.stream.ID, viewer.ID, models.ReactionPayload{Emoji: "👋"})
	n, err = h.repos.Interactions.Count(ctx, h.stream.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(writers+1), n)
}
