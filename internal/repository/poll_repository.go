package repository

import (
	"context"
	"time"

	"streamkit/backend/internal/models"

	"gorm.io/gorm"
)

// PollRepository stores polls, options and responses
type PollRepository interface {
	// Create inserts the poll with its options; an active poll deactivates the others
	Create(ctx context.Context, poll *models.Poll) error
	FindByID(ctx context.Context, id uint) (*models.Poll, error)
	List(ctx context.Context, streamID uint) ([]models.Poll, error)
	Activate(ctx context.Context, id uint) error
	Close(ctx context.Context, id uint, at time.Time) error

	CreateResponse(ctx context.Context, resp *models.PollResponse) error
	HasResponded(ctx context.Context, pollID uint, userID string) (bool, error)
	ListResponses(ctx context.Context, pollID uint) ([]models.PollResponse, error)
}

type pollRepository struct {
	db *gorm.DB
}

// NewPollRepository creates a gorm-backed PollRepository
func NewPollRepository(db *gorm.DB) PollRepository {
	return &pollRepository{db: db}
}

func withOrderedOptions(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (r *pollRepository) Create(ctx context.Context, poll *models.Poll) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if poll.IsActive {
			if err := deactivateOthers(tx, poll.StreamID, 0); err != nil {
				return err
			}
		}
		return tx.Create(poll).Error
	})
	return translate(err)
}

func deactivateOthers(tx *gorm.DB, streamID, keep uint) error {
	return tx.Model(&models.Poll{}).
		Where("stream_id = ? AND is_active = ? AND id <> ?", streamID, true, keep).
		Update("is_active", false).Error
}

func (r *pollRepository) FindByID(ctx context.Context, id uint) (*models.Poll, error) {
	var poll models.Poll
	err := r.db.WithContext(ctx).Preload("Options", withOrderedOptions).First(&poll, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &poll, nil
}

func (r *pollRepository) List(ctx context.Context, streamID uint) ([]models.Poll, error) {
	var polls []models.Poll
	err := r.db.WithContext(ctx).
		Preload("Options", withOrderedOptions).
		Where("stream_id = ?", streamID).
		Order("id DESC").
		Find(&polls).Error
	return polls, translate(err)
}

func (r *pollRepository) Activate(ctx context.Context, id uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var poll models.Poll
		if err := tx.First(&poll, id).Error; err != nil {
			return err
		}
		if err := deactivateOthers(tx, poll.StreamID, poll.ID); err != nil {
			return err
		}
		return tx.Model(&poll).Updates(map[string]interface{}{"is_active": true, "ended_at": nil}).Error
	})
	return translate(err)
}

func (r *pollRepository) Close(ctx context.Context, id uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Poll{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"is_active": false, "ended_at": at})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *pollRepository) CreateResponse(ctx context.Context, resp *models.PollResponse) error {
	return translate(r.db.WithContext(ctx).Create(resp).Error)
}

func (r *pollRepository) HasResponded(ctx context.Context, pollID uint, userID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.PollResponse{}).
		Where("poll_id = ? AND user_id = ?", pollID, userID).
		Count(&n).Error
	return n > 0, translate(err)
}

func (r *pollRepository) ListResponses(ctx context.Context, pollID uint) ([]models.PollResponse, error) {
	var responses []models.PollResponse
	err := r.db.WithContext(ctx).Where("poll_id = ?", pollID).Find(&responses).Error
	return responses, translate(err)
}
