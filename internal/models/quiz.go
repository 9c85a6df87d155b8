package models

import (
	"time"
)

// Quiz is an ordered list of questions answered sequentially
type Quiz struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	StreamID  uint           `json:"stream_id" gorm:"not null;index"`
	Title     string         `json:"title" gorm:"not null"`
	IsActive  bool           `json:"is_active"`
	CreatedBy string         `json:"created_by"`
	CreatedAt time.Time      `json:"created_at"`
	Questions []QuizQuestion `json:"questions" gorm:"foreignKey:QuizID"`
}

// QuizQuestion holds options and the correct answer, which is never serialized
type QuizQuestion struct {
	ID            uint       `json:"id" gorm:"primaryKey"`
	QuizID        uint       `json:"quiz_id" gorm:"not null;index"`
	Position      int        `json:"position"`
	Prompt        string     `json:"prompt" gorm:"not null"`
	Options       StringList `json:"options" gorm:"type:text;not null"`
	CorrectAnswer string     `json:"-" gorm:"not null"`
}

// QuizResponse is one answer; unique per quiz, user and question
type QuizResponse struct {
	ID             uint      `json:"id" gorm:"primaryKey"`
	QuizID         uint      `json:"quiz_id" gorm:"not null;uniqueIndex:idx_quiz_responses_unique,priority:1"`
	UserID         string    `json:"user_id" gorm:"not null;uniqueIndex:idx_quiz_responses_unique,priority:2"`
	QuestionID     uint      `json:"question_id" gorm:"not null;uniqueIndex:idx_quiz_responses_unique,priority:3"`
	SelectedAnswer string    `json:"selected_answer"`
	IsCorrect      bool      `json:"is_correct"`
	CreatedAt      time.Time `json:"created_at"`
}

// AnswerOutcome is returned after each accepted answer
type AnswerOutcome struct {
	IsCorrect    bool          `json:"is_correct"`
	NextQuestion *QuizQuestion `json:"next_question,omitempty"`
	Completed    bool          `json:"completed"`
	Score        int           `json:"score"`
	Total        int           `json:"total"`
}

// QuizProgress is a user's position in a quiz
type QuizProgress struct {
	QuizID       uint          `json:"quiz_id"`
	Answered     int           `json:"answered"`
	Score        int           `json:"score"`
	Total        int           `json:"total"`
	Completed    bool          `json:"completed"`
	NextQuestion *QuizQuestion `json:"next_question,omitempty"`
}

// QuizQuestionInput is a question in a create request
type QuizQuestionInput struct {
	Prompt        string   `json:"prompt" binding:"required"`
	Options       []string `json:"options" binding:"required,min=2"`
	CorrectAnswer string   `json:"correct_answer" binding:"required"`
}

// CreateQuizRequest represents a request to create a quiz
type CreateQuizRequest struct {
	Title     string              `json:"title" binding:"required,max=200"`
	Questions []QuizQuestionInput `json:"questions" binding:"required,min=1,dive"`
}

// AnswerRequest represents a quiz answer submission
type AnswerRequest struct {
	QuestionID uint   `json:"question_id" binding:"required"`
	Answer     string `json:"answer" binding:"required"`
}
