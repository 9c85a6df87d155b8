package repository

import (
	"context"

	"streamkit/backend/internal/models"

	"gorm.io/gorm"
)

// InteractionRepository is the append-only interaction ledger
type InteractionRepository interface {
	Append(ctx context.Context, row *models.StreamInteraction) error
	Count(ctx context.Context, streamID uint) (int64, error)
	CountViewers(ctx context.Context, streamID uint) (int64, error)
	Recent(ctx context.Context, streamID uint, limit int) ([]models.StreamInteraction, error)
	// Leaderboard ranks viewers by interaction count, ties by viewer id
	Leaderboard(ctx context.Context, streamID uint, limit int) ([]models.LeaderboardRow, error)
}

type interactionRepository struct {
	db *gorm.DB
}

// NewInteractionRepository creates a gorm-backed InteractionRepository
func NewInteractionRepository(db *gorm.DB) InteractionRepository {
	return &interactionRepository{db: db}
}

func (r *interactionRepository) Append(ctx context.Context, row *models.StreamInteraction) error {
	return translate(r.db.WithContext(ctx).Create(row).Error)
}

func (r *interactionRepository) Count(ctx context.Context, streamID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.StreamInteraction{}).Where("stream_id = ?", streamID).Count(&n).Error
	return n, translate(err)
}

func (r *interactionRepository) CountViewers(ctx context.Context, streamID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.StreamInteraction{}).
		Where("stream_id = ?", streamID).
		Distinct("viewer_id").
		Count(&n).Error
	return n, translate(err)
}

func (r *interactionRepository) Recent(ctx context.Context, streamID uint, limit int) ([]models.StreamInteraction, error) {
	var rows []models.StreamInteraction
	err := r.db.WithContext(ctx).
		Where("stream_id = ?", streamID).
		Order("id DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, translate(err)
}

func (r *interactionRepository) Leaderboard(ctx context.Context, streamID uint, limit int) ([]models.LeaderboardRow, error) {
	var rows []struct {
		ViewerID     string
		Interactions int64
	}
	err := r.db.WithContext(ctx).Model(&models.StreamInteraction{}).
		Select("viewer_id, COUNT(*) AS interactions").
		Where("stream_id = ?", streamID).
		Group("viewer_id").
		Order("interactions DESC, viewer_id ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, translate(err)
	}

	out := make([]models.LeaderboardRow, len(rows))
	for i, row := range rows {
		out[i] = models.LeaderboardRow{ViewerID: row.ViewerID, Count: row.Interactions}
	}
	return out, nil
}
