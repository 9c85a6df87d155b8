package repository

import (
	"context"
	"time"

	"streamkit/backend/internal/models"

	"gorm.io/gorm"
)

// ChallengeRepository stores challenges and their participants
type ChallengeRepository interface {
	Create(ctx context.Context, c *models.Challenge) error
	FindByID(ctx context.Context, id uint) (*models.Challenge, error)
	List(ctx context.Context, streamID uint) ([]models.Challenge, error)
	End(ctx context.Context, id uint) error

	AddParticipant(ctx context.Context, p *models.ChallengeParticipant) error
	ListParticipants(ctx context.Context, challengeID uint) ([]models.ChallengeParticipant, error)
	// AddProgress increments participant and challenge progress in one transaction
	AddProgress(ctx context.Context, challengeID uint, userID string, delta int, now time.Time) (*models.Challenge, *models.ChallengeParticipant, error)
}

type challengeRepository struct {
	db *gorm.DB
}

// NewChallengeRepository creates a gorm-backed ChallengeRepository
func NewChallengeRepository(db *gorm.DB) ChallengeRepository {
	return &challengeRepository{db: db}
}

func (r *challengeRepository) Create(ctx context.Context, c *models.Challenge) error {
	return translate(r.db.WithContext(ctx).Create(c).Error)
}

func (r *challengeRepository) FindByID(ctx context.Context, id uint) (*models.Challenge, error) {
	var c models.Challenge
	if err := r.db.WithContext(ctx).First(&c, id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (r *challengeRepository) List(ctx context.Context, streamID uint) ([]models.Challenge, error) {
	var challenges []models.Challenge
	err := r.db.WithContext(ctx).Where("stream_id = ?", streamID).Order("id DESC").Find(&challenges).Error
	return challenges, translate(err)
}

func (r *challengeRepository) End(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.Challenge{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *challengeRepository) AddParticipant(ctx context.Context, p *models.ChallengeParticipant) error {
	return translate(r.db.WithContext(ctx).Create(p).Error)
}

func (r *challengeRepository) ListParticipants(ctx context.Context, challengeID uint) ([]models.ChallengeParticipant, error) {
	var participants []models.ChallengeParticipant
	err := r.db.WithContext(ctx).
		Where("challenge_id = ?", challengeID).
		Order("progress DESC, joined_at ASC").
		Find(&participants).Error
	return participants, translate(err)
}

func (r *challengeRepository) AddProgress(ctx context.Context, challengeID uint, userID string, delta int, now time.Time) (*models.Challenge, *models.ChallengeParticipant, error) {
	var (
		challenge   models.Challenge
		participant models.ChallengeParticipant
	)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ChallengeParticipant{}).
			Where("challenge_id = ? AND user_id = ?", challengeID, userID).
			Update("progress", gorm.Expr("progress + ?", delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}

		if err := tx.Model(&models.Challenge{}).
			Where("id = ?", challengeID).
			Update("current_progress", gorm.Expr("current_progress + ?", delta)).Error; err != nil {
			return err
		}

		if err := tx.First(&challenge, challengeID).Error; err != nil {
			return err
		}
		if challenge.CompletedAt == nil && challenge.CurrentProgress >= challenge.TargetValue {
			if err := tx.Model(&challenge).Update("completed_at", now).Error; err != nil {
				return err
			}
			challenge.CompletedAt = &now
		}

		return tx.Where("challenge_id = ? AND user_id = ?", challengeID, userID).First(&participant).Error
	})
	if err != nil {
		return nil, nil, translate(err)
	}
	return &challenge, &participant, nil
}
