package repository

import (
	"context"

	"streamkit/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RuleRepository stores chat settings, filters and emotes
type RuleRepository interface {
	GetSettings(ctx context.Context, streamID uint) (*models.ChatSettings, error)
	SaveSettings(ctx context.Context, settings *models.ChatSettings) error

	CreateFilter(ctx context.Context, f *models.ChatFilter) error
	FindFilter(ctx context.Context, id uint) (*models.ChatFilter, error)
	SetFilterActive(ctx context.Context, id uint, active bool) error
	DeleteFilter(ctx context.Context, id uint) error
	ListFilters(ctx context.Context, streamID uint, activeOnly bool) ([]models.ChatFilter, error)

	CreateEmote(ctx context.Context, e *models.Emote) error
	FindEmote(ctx context.Context, id uint) (*models.Emote, error)
	DeleteEmote(ctx context.Context, id uint) error
	ListEmotes(ctx context.Context, streamID uint) ([]models.Emote, error)
}

type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a gorm-backed RuleRepository
func NewRuleRepository(db *gorm.DB) RuleRepository {
	return &ruleRepository{db: db}
}

func (r *ruleRepository) GetSettings(ctx context.Context, streamID uint) (*models.ChatSettings, error) {
	var s models.ChatSettings
	if err := r.db.WithContext(ctx).Where("stream_id = ?", streamID).First(&s).Error; err != nil {
		return nil, translate(err)
	}
	return &s, nil
}

// SaveSettings upserts the full settings row so zero values are written too
func (r *ruleRepository) SaveSettings(ctx context.Context, settings *models.ChatSettings) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stream_id"}},
		UpdateAll: true,
	}).Create(settings).Error
	return translate(err)
}

func (r *ruleRepository) CreateFilter(ctx context.Context, f *models.ChatFilter) error {
	return translate(r.db.WithContext(ctx).Create(f).Error)
}

func (r *ruleRepository) FindFilter(ctx context.Context, id uint) (*models.ChatFilter, error) {
	var f models.ChatFilter
	if err := r.db.WithContext(ctx).First(&f, id).Error; err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (r *ruleRepository) SetFilterActive(ctx context.Context, id uint, active bool) error {
	res := r.db.WithContext(ctx).Model(&models.ChatFilter{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ruleRepository) DeleteFilter(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.ChatFilter{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFilters returns filters in evaluation order, newest first
func (r *ruleRepository) ListFilters(ctx context.Context, streamID uint, activeOnly bool) ([]models.ChatFilter, error) {
	var filters []models.ChatFilter
	q := r.db.WithContext(ctx).Where("stream_id = ?", streamID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	err := q.Order("created_at DESC, id DESC").Find(&filters).Error
	return filters, translate(err)
}

func (r *ruleRepository) CreateEmote(ctx context.Context, e *models.Emote) error {
	return translate(r.db.WithContext(ctx).Create(e).Error)
}

func (r *ruleRepository) FindEmote(ctx context.Context, id uint) (*models.Emote, error) {
	var e models.Emote
	if err := r.db.WithContext(ctx).First(&e, id).Error; err != nil {
		return nil, translate(err)
	}
	return &e, nil
}

func (r *ruleRepository) DeleteEmote(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.Emote{}, id)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *ruleRepository) ListEmotes(ctx context.Context, streamID uint) ([]models.Emote, error) {
	var emotes []models.Emote
	err := r.db.WithContext(ctx).Where("stream_id = ?", streamID).Order("name ASC").Find(&emotes).Error
	return emotes, translate(err)
}
