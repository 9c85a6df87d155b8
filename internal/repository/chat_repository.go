package repository

import (
	"context"
	"time"

	"streamkit/backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChatRepository stores chat messages, bans and timeouts
type ChatRepository interface {
	CreateMessage(ctx context.Context, msg *models.ChatMessage) error
	FindMessage(ctx context.Context, id uint) (*models.ChatMessage, error)
	// CooldownStart returns the start of the user's slow-mode window
	CooldownStart(ctx context.Context, streamID uint, userID string) (time.Time, bool, error)
	// ClaimCooldown starts the user's slow-mode window at now unless one
	// begun within interval is still open, in which case it reports false
	// and the window's start.
	ClaimCooldown(ctx context.Context, streamID uint, userID string, now time.Time, interval time.Duration) (time.Time, bool, error)
	// Recent returns up to limit visible messages in ascending id order
	Recent(ctx context.Context, streamID uint, limit int) ([]models.ChatMessage, error)
	// SoftDelete marks a message deleted; it reports false when it already was
	SoftDelete(ctx context.Context, id uint, by string, at time.Time) (bool, error)

	IsBanned(ctx context.Context, streamID uint, userID string) (bool, error)
	CreateBan(ctx context.Context, ban *models.BannedUser) error
	DeleteBan(ctx context.Context, streamID uint, userID string) error
	ListBans(ctx context.Context, streamID uint) ([]models.BannedUser, error)

	FindTimeout(ctx context.Context, streamID uint, userID string) (*models.ChatTimeout, error)
	// PutTimeout inserts a timeout, replacing an expired one; an active one is a duplicate
	PutTimeout(ctx context.Context, t *models.ChatTimeout, now time.Time) error
	DeleteTimeout(ctx context.Context, streamID uint, userID string) error
	ListActiveTimeouts(ctx context.Context, streamID uint, now time.Time) ([]models.ChatTimeout, error)
}

type chatRepository struct {
	db *gorm.DB
}

// NewChatRepository creates a gorm-backed ChatRepository
func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{db: db}
}

func (r *chatRepository) CreateMessage(ctx context.Context, msg *models.ChatMessage) error {
	return translate(r.db.WithContext(ctx).Create(msg).Error)
}

func (r *chatRepository) FindMessage(ctx context.Context, id uint) (*models.ChatMessage, error) {
	var msg models.ChatMessage
	if err := r.db.WithContext(ctx).First(&msg, id).Error; err != nil {
		return nil, translate(err)
	}
	return &msg, nil
}

func (r *chatRepository) CooldownStart(ctx context.Context, streamID uint, userID string) (time.Time, bool, error) {
	var cds []models.ChatCooldown
	err := r.db.WithContext(ctx).Where("stream_id = ? AND user_id = ?", streamID, userID).Limit(1).Find(&cds).Error
	if err != nil {
		return time.Time{}, false, translate(err)
	}
	if len(cds) == 0 {
		return time.Time{}, false, nil
	}
	return cds[0].LastAt, true, nil
}

func (r *chatRepository) ClaimCooldown(ctx context.Context, streamID uint, userID string, now time.Time, interval time.Duration) (time.Time, bool, error) {
	db := r.db.WithContext(ctx)

	// the conditional update and the insert each admit a single winner
	res := db.Model(&models.ChatCooldown{}).
		Where("stream_id = ? AND user_id = ? AND last_at <= ?", streamID, userID, now.Add(-interval)).
		Update("last_at", now)
	if res.Error != nil {
		return time.Time{}, false, translate(res.Error)
	}
	if res.RowsAffected > 0 {
		return now, true, nil
	}

	res = db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.ChatCooldown{StreamID: streamID, UserID: userID, LastAt: now})
	if res.Error != nil {
		return time.Time{}, false, translate(res.Error)
	}
	if res.RowsAffected > 0 {
		return now, true, nil
	}

	var cd models.ChatCooldown
	if err := db.Where("stream_id = ? AND user_id = ?", streamID, userID).First(&cd).Error; err != nil {
		return time.Time{}, false, translate(err)
	}
	return cd.LastAt, false, nil
}

func (r *chatRepository) Recent(ctx context.Context, streamID uint, limit int) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	err := r.db.WithContext(ctx).
		Where("stream_id = ? AND is_deleted = ?", streamID, false).
		Order("id DESC").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, translate(err)
	}

	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *chatRepository) SoftDelete(ctx context.Context, id uint, by string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("id = ? AND is_deleted = ?", id, false).
		Updates(map[string]interface{}{
			"is_deleted": true,
			"deleted_by": by,
			"deleted_at": at,
		})
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (r *chatRepository) IsBanned(ctx context.Context, streamID uint, userID string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.BannedUser{}).
		Where("stream_id = ? AND user_id = ?", streamID, userID).
		Count(&n).Error
	return n > 0, translate(err)
}

func (r *chatRepository) CreateBan(ctx context.Context, ban *models.BannedUser) error {
	return translate(r.db.WithContext(ctx).Create(ban).Error)
}

func (r *chatRepository) DeleteBan(ctx context.Context, streamID uint, userID string) error {
	res := r.db.WithContext(ctx).
		Where("stream_id = ? AND user_id = ?", streamID, userID).
		Delete(&models.BannedUser{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *chatRepository) ListBans(ctx context.Context, streamID uint) ([]models.BannedUser, error) {
	var bans []models.BannedUser
	err := r.db.WithContext(ctx).Where("stream_id = ?", streamID).Order("created_at DESC").Find(&bans).Error
	return bans, translate(err)
}

func (r *chatRepository) FindTimeout(ctx context.Context, streamID uint, userID string) (*models.ChatTimeout, error) {
	var t models.ChatTimeout
	err := r.db.WithContext(ctx).Where("stream_id = ? AND user_id = ?", streamID, userID).First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (r *chatRepository) PutTimeout(ctx context.Context, t *models.ChatTimeout, now time.Time) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// drop an expired row so the unique index admits the new one
		if err := tx.Where("stream_id = ? AND user_id = ? AND expires_at <= ?", t.StreamID, t.UserID, now).
			Delete(&models.ChatTimeout{}).Error; err != nil {
			return err
		}
		return tx.Create(t).Error
	})
	return translate(err)
}

func (r *chatRepository) DeleteTimeout(ctx context.Context, streamID uint, userID string) error {
	res := r.db.WithContext(ctx).
		Where("stream_id = ? AND user_id = ?", streamID, userID).
		Delete(&models.ChatTimeout{})
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *chatRepository) ListActiveTimeouts(ctx context.Context, streamID uint, now time.Time) ([]models.ChatTimeout, error) {
	var timeouts []models.ChatTimeout
	err := r.db.WithContext(ctx).
		Where("stream_id = ? AND expires_at > ?", streamID, now).
		Order("expires_at ASC").
		Find(&timeouts).Error
	return timeouts, translate(err)
}
