package repository

import (
	"context"

	"streamkit/backend/internal/models"

	"gorm.io/gorm"
)

// QuizRepository stores quizzes, questions and answers
type QuizRepository interface {
	Create(ctx context.Context, quiz *models.Quiz) error
	FindByID(ctx context.Context, id uint) (*models.Quiz, error)
	List(ctx context.Context, streamID uint) ([]models.Quiz, error)
	SetActive(ctx context.Context, id uint, active bool) error

	CreateResponse(ctx context.Context, resp *models.QuizResponse) error
	ListResponses(ctx context.Context, quizID uint, userID string) ([]models.QuizResponse, error)
	CountCorrect(ctx context.Context, quizID uint, userID string) (int64, error)
}

type quizRepository struct {
	db *gorm.DB
}

// NewQuizRepository creates a gorm-backed QuizRepository
func NewQuizRepository(db *gorm.DB) QuizRepository {
	return &quizRepository{db: db}
}

func withOrderedQuestions(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

func (r *quizRepository) Create(ctx context.Context, quiz *models.Quiz) error {
	return translate(r.db.WithContext(ctx).Create(quiz).Error)
}

func (r *quizRepository) FindByID(ctx context.Context, id uint) (*models.Quiz, error) {
	var quiz models.Quiz
	err := r.db.WithContext(ctx).Preload("Questions", withOrderedQuestions).First(&quiz, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &quiz, nil
}

func (r *quizRepository) List(ctx context.Context, streamID uint) ([]models.Quiz, error) {
	var quizzes []models.Quiz
	err := r.db.WithContext(ctx).
		Preload("Questions", withOrderedQuestions).
		Where("stream_id = ?", streamID).
		Order("id DESC").
		Find(&quizzes).Error
	return quizzes, translate(err)
}

func (r *quizRepository) SetActive(ctx context.Context, id uint, active bool) error {
	res := r.db.WithContext(ctx).Model(&models.Quiz{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *quizRepository) CreateResponse(ctx context.Context, resp *models.QuizResponse) error {
	return translate(r.db.WithContext(ctx).Create(resp).Error)
}

func (r *quizRepository) ListResponses(ctx context.Context, quizID uint, userID string) ([]models.QuizResponse, error) {
	var responses []models.QuizResponse
	err := r.db.WithContext(ctx).
		Where("quiz_id = ? AND user_id = ?", quizID, userID).
		Order("id ASC").
		Find(&responses).Error
	return responses, translate(err)
}

func (r *quizRepository) CountCorrect(ctx context.Context, quizID uint, userID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.QuizResponse{}).
		Where("quiz_id = ? AND user_id = ? AND is_correct = ?", quizID, userID, true).
		Count(&n).Error
	return n, translate(err)
}
