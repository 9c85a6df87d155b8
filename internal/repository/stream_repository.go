package repository

import (
	"context"
	"time"

	"streamkit/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StreamRepository stores stream sessions and their audience
type StreamRepository interface {
	Create(ctx context.Context, stream *models.StreamSession) error
	FindByID(ctx context.Context, id uint) (*models.StreamSession, error)
	List(ctx context.Context, liveOnly bool) ([]models.StreamSession, error)
	SetLive(ctx context.Context, id uint, live bool, at time.Time) error
	SetChatEnabled(ctx context.Context, id uint, enabled bool) error

	IsModerator(ctx context.Context, streamID uint, userID string) (bool, error)
	AddModerator(ctx context.Context, mod *models.StreamModerator) error
	RemoveModerator(ctx context.Context, streamID uint, userID string) error
	ListModerators(ctx context.Context, streamID uint) ([]models.StreamModerator, error)

	Follow(ctx context.Context, f *models.StreamFollower) error
	Unfollow(ctx context.Context, streamID uint, userID string) error
	FindFollower(ctx context.Context, streamID uint, userID string) (*models.StreamFollower, error)
	SaveSubscriber(ctx context.Context, s *models.StreamSubscriber) error
	FindSubscriber(ctx context.Context, streamID uint, userID string) (*models.StreamSubscriber, error)
}

type streamRepository struct {
	db *gorm.DB
}

// NewStreamRepository creates a gorm-backed StreamRepository
func NewStreamRepository(db *gorm.DB) StreamRepository {
	return &streamRepository{db: db}
}

func (r *streamRepository) Create(ctx context.Context, stream *models.StreamSession) error {
	return translate(r.db.WithContext(ctx).Create(stream).Error)
}

func (r *streamRepository) FindByID(ctx context.Context, id uint) (*models.StreamSession, error) {
	var stream models.StreamSession
	if err := r.db.WithContext(ctx).First(&stream, id).Error; err != nil {
		return nil, translate(err)
	}
	return &stream, nil
}

func (r *streamRepository) List(ctx context.Context, liveOnly bool) ([]models.StreamSession, error) {
	var streams []models.StreamSession
	q := r.db.WithContext(ctx).Order("id DESC")
	if liveOnly {
		q = q.Where("is_live = ?", true)
	}
	err := q.Find(&streams).Error
	return streams, translate(err)
}

func (r *streamRepository) SetLive(ctx context.Context, id uint, live bool, at time.Time) error {
	updates := map[string]interface{}{"is_live": live}
	if live {
		updates["started_at"] = at
		updates["ended_at"] = nil
	} else {
		updates["ended_at"] = at
	}
	return r.update(ctx, id, updates)
}

func (r *streamRepository) SetChatEnabled(ctx context.Context, id uint, enabled bool) error {
	return r.update(ctx, id, map[string]interface{}{"chat_enabled": enabled})
}

func (r *streamRepository) update(ctx context.Context, id uint, updates map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.StreamSession{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *streamRepository) IsModerator(ctx context.Context, streamID uint, userID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.StreamModerator{}).
		Where("stream_id = ? AND user_id = ?", streamID, userID).
		Count(&n).Error
	return n > 0, translate(err)
}

func (r *streamRepository) AddModerator(ctx context.Context, mod *models.StreamModerator) error {
	return translate(r.db.WithContext(ctx).Create(mod).Error)
}

func (r *streamRepository) RemoveModerator(ctx context.Context, streamID uint, userID string) error {
	res := r.db.WithContext(ctx).
		Where("stream_id = ? AND user_id = ?", streamID, userID).
		Delete(&models.StreamModerator{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *streamRepository) ListModerators(ctx context.Context, streamID uint) ([]models.StreamModerator, error) {
	var mods []models.StreamModerator
	err := r.db.WithContext(ctx).Where("stream_id = ?", streamID).Order("created_at ASC").Find(&mods).Error
	return mods, translate(err)
}

func (r *streamRepository) Follow(ctx context.Context, f *models.StreamFollower) error {
	return translate(r.db.WithContext(ctx).Create(f).Error)
}

func (r *streamRepository) Unfollow(ctx context.Context, streamID uint, userID string) error {
	err := r.db.WithContext(ctx).
		Where("stream_id = ? AND user_id = ?", streamID, userID).
		Delete(&models.StreamFollower{}).Error
	return translate(err)
}

func (r *streamRepository) FindFollower(ctx context.Context, streamID uint, userID string) (*models.StreamFollower, error) {
	var f models.StreamFollower
	err := r.db.WithContext(ctx).Where("stream_id = ? AND user_id = ?", streamID, userID).First(&f).Error
	if err != nil {
		return nil, translate(err)
	}
	return &f, nil
}

func (r *streamRepository) SaveSubscriber(ctx context.Context, s *models.StreamSubscriber) error {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stream_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"tier", "expires_at"}),
	}).Create(s).Error
	return translate(err)
}

func (r *streamRepository) FindSubscriber(ctx context.Context, streamID uint, userID string) (*models.StreamSubscriber, error) {
	var s models.StreamSubscriber
	err := r.db.WithContext(ctx).Where("stream_id = ? AND user_id = ?", streamID, userID).First(&s).Error
	if err != nil {
		return nil, translate(err)
	}
	return &s, nil
}
