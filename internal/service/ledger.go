package service

import (
	"context"
	"sync"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/repository"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"
	"streamkit/backend/shared/observability"
)

const defaultLedgerTimeout = 5 * time.Second

// Ledger appends viewer interactions. Writes are analytics and never decide
// whether the action that produced them succeeds.
type Ledger struct {
	repo    repository.InteractionRepository
	log     *logger.Logger
	timeout time.Duration

	// mu orders wg.Add against Flush and Close
	mu     sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// NewLedger creates a Ledger; timeout bounds each asynchronous write
func NewLedger(repo repository.InteractionRepository, timeout time.Duration, log *logger.Logger) *Ledger {
	if timeout <= 0 {
		timeout = defaultLedgerTimeout
	}
	return &Ledger{
		repo:    repo,
		log:     log.WithComponent("ledger"),
		timeout: timeout,
	}
}

// Record appends one interaction synchronously
func (l *Ledger) Record(ctx context.Context, streamID uint, viewerID string, payload models.InteractionPayload) error {
	row, err := models.NewInteraction(streamID, viewerID, payload)
	if err != nil {
		return apperrors.NewValidationError("INVALID_INTERACTION", err.Error())
	}
	if err := l.repo.Append(ctx, row); err != nil {
		return storeError(err)
	}
	return nil
}

// RecordAsync appends in the background. Failures are logged and counted.
func (l *Ledger) RecordAsync(ctx context.Context, streamID uint, viewerID string, payload models.InteractionPayload) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.timeout)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		// shutting down: write inline so Close's wait stays exact
		defer cancel()
		l.record(ctx, streamID, viewerID, payload)
		return
	}
	l.wg.Add(1)
	l.mu.Unlock()

	go func() {
		defer l.wg.Done()
		defer cancel()
		l.record(ctx, streamID, viewerID, payload)
	}()
}

func (l *Ledger) record(ctx context.Context, streamID uint, viewerID string, payload models.InteractionPayload) {
	if err := l.Record(ctx, streamID, viewerID, payload); err != nil {
		observability.Metrics().LedgerFailure(ctx, payload.InteractionType())
		l.log.Warn("Failed to record interaction",
			"stream_id", streamID,
			"viewer_id", viewerID,
			"interaction_type", payload.InteractionType(),
			"error", err.Error(),
		)
	}
}

// Flush waits for in-flight asynchronous writes
func (l *Ledger) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.wg.Wait()
}

// Close waits for in-flight writes; later RecordAsync calls write inline
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	l.wg.Wait()
}

// Tracker derives dashboard aggregates from the ledger on every call
type Tracker struct {
	repo repository.InteractionRepository
	log  *logger.Logger
	now  func() time.Time
}

// NewTracker creates a Tracker
func NewTracker(repo repository.InteractionRepository, log *logger.Logger) *Tracker {
	return &Tracker{repo: repo, log: log.WithComponent("tracker"), now: utcNow}
}

// Snapshot computes totals, the recentN newest interactions and the topN
// leaderboard for a stream
func (t *Tracker) Snapshot(ctx context.Context, streamID uint, recentN, topN int) (*models.TrackerSnapshot, error) {
	if recentN <= 0 {
		recentN = 20
	}
	if topN <= 0 {
		topN = 10
	}

	total, err := t.repo.Count(ctx, streamID)
	if err != nil {
		return nil, storeError(err)
	}
	viewers, err := t.repo.CountViewers(ctx, streamID)
	if err != nil {
		return nil, storeError(err)
	}
	rows, err := t.repo.Recent(ctx, streamID, recentN)
	if err != nil {
		return nil, storeError(err)
	}
	board, err := t.repo.Leaderboard(ctx, streamID, topN)
	if err != nil {
		return nil, storeError(err)
	}

	recent := make([]models.InteractionView, 0, len(rows))
	for i := range rows {
		payload, err := rows[i].Payload()
		if err != nil {
			t.log.Warn("Undecodable interaction payload", "id", rows[i].ID, "error", err.Error())
		}
		recent = append(recent, models.InteractionView{
			ID:        rows[i].ID,
			StreamID:  rows[i].StreamID,
			ViewerID:  rows[i].ViewerID,
			Type:      rows[i].InteractionType,
			Payload:   payload,
			CreatedAt: rows[i].CreatedAt,
		})
	}

	snap := &models.TrackerSnapshot{
		StreamID:          streamID,
		TotalInteractions: total,
		UniqueViewers:     viewers,
		Recent:            recent,
		Leaderboard:       board,
		ComputedAt:        t.now(),
	}
	if viewers > 0 {
		snap.PerViewer = float64(total) / float64(viewers)
	}
	return snap, nil
}
