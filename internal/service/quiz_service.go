package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/policy"
	"streamkit/backend/internal/repository"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/logger"
	"streamkit/backend/shared/observability"
)

// QuizService runs quizzes answered one question at a time, in order
type QuizService struct {
	quizzes repository.QuizRepository
	access  *Access
	ledger  *Ledger
	bus     *ReactionBus
	log     *logger.Logger
	now     func() time.Time
}

// NewQuizService creates a QuizService
func NewQuizService(quizzes repository.QuizRepository, access *Access, ledger *Ledger, bus *ReactionBus, log *logger.Logger) *QuizService {
	return &QuizService{
		quizzes: quizzes,
		access:  access,
		ledger:  ledger,
		bus:     bus,
		log:     log.WithComponent("quizzes"),
		now:     utcNow,
	}
}

// CreateQuiz creates an active quiz
func (s *QuizService) CreateQuiz(ctx context.Context, actor *models.Actor, streamID uint, req *models.CreateQuizRequest) (*models.Quiz, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageQuizzes, ""); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperrors.NewValidationError(CodeInvalidQuiz, "title is required")
	}
	if len(req.Questions) == 0 {
		return nil, apperrors.NewValidationError(CodeInvalidQuiz, "a quiz needs at least one question")
	}

	questions := make([]models.QuizQuestion, 0, len(req.Questions))
	for i, q := range req.Questions {
		prompt := strings.TrimSpace(q.Prompt)
		if prompt == "" {
			return nil, invalidQuestion(i, "prompt is required")
		}
		options := make(models.StringList, 0, len(q.Options))
		for _, o := range q.Options {
			o = strings.TrimSpace(o)
			if o == "" || options.Contains(o) {
				return nil, invalidQuestion(i, "options must be non-empty and distinct")
			}
			options = append(options, o)
		}
		if len(options) < 2 {
			return nil, invalidQuestion(i, "a question needs at least two options")
		}
		correct := strings.TrimSpace(q.CorrectAnswer)
		if !options.Contains(correct) {
			return nil, invalidQuestion(i, "correct answer must be one of the options")
		}
		questions = append(questions, models.QuizQuestion{
			Position:      i,
			Prompt:        prompt,
			Options:       options,
			CorrectAnswer: correct,
		})
	}

	quiz := &models.Quiz{
		StreamID:  streamID,
		Title:     title,
		IsActive:  true,
		CreatedBy: actor.ID,
		CreatedAt: s.now(),
		Questions: questions,
	}
	if err := s.quizzes.Create(ctx, quiz); err != nil {
		return nil, storeError(err)
	}

	s.log.Info("Quiz created", "stream_id", streamID, "quiz_id", quiz.ID, "questions", len(questions))
	return quiz, nil
}

func invalidQuestion(index int, msg string) error {
	return apperrors.ValidationWithDetails(CodeInvalidQuiz, msg, map[string]int{"question_index": index})
}

func (s *QuizService) quiz(ctx context.Context, streamID, quizID uint) (*models.Quiz, error) {
	quiz, err := s.quizzes.FindByID(ctx, quizID)
	if err != nil {
		return nil, notFound(err, CodeQuizNotFound, "Quiz not found")
	}
	if quiz.StreamID != streamID {
		return nil, apperrors.NewNotFoundError(CodeQuizNotFound, "Quiz not found")
	}
	return quiz, nil
}

// GetQuiz returns the quiz; correct answers are never serialized
func (s *QuizService) GetQuiz(ctx context.Context, streamID, quizID uint) (*models.Quiz, error) {
	return s.quiz(ctx, streamID, quizID)
}

// ListQuizzes returns the stream's quizzes, newest first
func (s *QuizService) ListQuizzes(ctx context.Context, streamID uint) ([]models.Quiz, error) {
	if _, err := s.access.Stream(ctx, streamID); err != nil {
		return nil, err
	}
	quizzes, err := s.quizzes.List(ctx, streamID)
	if err != nil {
		return nil, storeError(err)
	}
	return quizzes, nil
}

// SetQuizActive opens or closes a quiz for answers
func (s *QuizService) SetQuizActive(ctx context.Context, actor *models.Actor, streamID, quizID uint, active bool) (*models.Quiz, error) {
	if _, err := s.access.AuthorizeStream(ctx, actor, streamID, policy.ActionManageQuizzes, ""); err != nil {
		return nil, err
	}
	quiz, err := s.quiz(ctx, streamID, quizID)
	if err != nil {
		return nil, err
	}
	if err := s.quizzes.SetActive(ctx, quiz.ID, active); err != nil {
		return nil, notFound(err, CodeQuizNotFound, "Quiz not found")
	}
	quiz.IsActive = active
	return quiz, nil
}

// Progress returns where actor stands in the quiz
func (s *QuizService) Progress(ctx context.Context, actor *models.Actor, streamID, quizID uint) (*models.QuizProgress, error) {
	if actor == nil {
		return nil, errUnauthenticated()
	}
	quiz, err := s.quiz(ctx, streamID, quizID)
	if err != nil {
		return nil, err
	}
	responses, err := s.quizzes.ListResponses(ctx, quiz.ID, actor.ID)
	if err != nil {
		return nil, storeError(err)
	}

	answered, score := tallyResponses(responses)
	progress := &models.QuizProgress{
		QuizID:   quiz.ID,
		Answered: len(answered),
		Score:    score,
		Total:    len(quiz.Questions),
	}
	if next := nextQuestion(quiz, answered); next != nil {
		progress.NextQuestion = next
	} else {
		progress.Completed = true
	}
	return progress, nil
}

func tallyResponses(responses []models.QuizResponse) (map[uint]bool, int) {
	answered := make(map[uint]bool, len(responses))
	score := 0
	for _, r := range responses {
		answered[r.QuestionID] = true
		if r.IsCorrect {
			score++
		}
	}
	return answered, score
}

func nextQuestion(quiz *models.Quiz, answered map[uint]bool) *models.QuizQuestion {
	for i := range quiz.Questions {
		if !answered[quiz.Questions[i].ID] {
			return &quiz.Questions[i]
		}
	}
	return nil
}

// SubmitAnswer records actor's answer to the next unanswered question. The
// completion signal fires only after the last question is answered.
func (s *QuizService) SubmitAnswer(ctx context.Context, actor *models.Actor, streamID, quizID, questionID uint, answer string) (*models.AnswerOutcome, error) {
	if actor == nil {
		return nil, errUnauthenticated()
	}
	quiz, err := s.quiz(ctx, streamID, quizID)
	if err != nil {
		return nil, err
	}
	if !quiz.IsActive {
		return nil, apperrors.NewConflictError(CodeQuizInactive, "Quiz is not accepting answers")
	}

	var question *models.QuizQuestion
	for i := range quiz.Questions {
		if quiz.Questions[i].ID == questionID {
			question = &quiz.Questions[i]
			break
		}
	}
	if question == nil {
		return nil, apperrors.NewNotFoundError(CodeQuestionNotFound, "Question not found")
	}

	responses, err := s.quizzes.ListResponses(ctx, quiz.ID, actor.ID)
	if err != nil {
		return nil, storeError(err)
	}
	answered, score := tallyResponses(responses)
	if answered[question.ID] {
		return nil, answerSubmitted()
	}
	if next := nextQuestion(quiz, answered); next != nil && next.ID != question.ID {
		return nil, apperrors.ValidationWithDetails(CodeQuestionOutOfOrder, "Answer the questions in order", map[string]uint{
			"expected_question_id": next.ID,
		})
	}

	answer = strings.TrimSpace(answer)
	if !question.Options.Contains(answer) {
		return nil, apperrors.NewValidationError(CodeInvalidAnswer, "Answer is not one of the options")
	}

	resp := &models.QuizResponse{
		QuizID:         quiz.ID,
		UserID:         actor.ID,
		QuestionID:     question.ID,
		SelectedAnswer: answer,
		IsCorrect:      answer == question.CorrectAnswer,
		CreatedAt:      s.now(),
	}
	err = retryStore(ctx, 3, func(ctx context.Context) error {
		return s.quizzes.CreateResponse(ctx, resp)
	})
	if errors.Is(err, repository.ErrDuplicate) {
		return nil, answerSubmitted()
	}
	if err != nil {
		return nil, storeError(err)
	}

	observability.Metrics().QuizAnswer(ctx, resp.IsCorrect)
	s.ledger.RecordAsync(ctx, streamID, actor.ID, models.QuizAnswerPayload{
		QuizID:     quiz.ID,
		QuestionID: question.ID,
		Correct:    resp.IsCorrect,
	})

	answered[question.ID] = true
	if resp.IsCorrect {
		score++
	}
	outcome := &models.AnswerOutcome{
		IsCorrect: resp.IsCorrect,
		Score:     score,
		Total:     len(quiz.Questions),
	}
	if next := nextQuestion(quiz, answered); next != nil {
		outcome.NextQuestion = next
		return outcome, nil
	}

	outcome.Completed = true
	if correct, err := s.quizzes.CountCorrect(ctx, quiz.ID, actor.ID); err == nil {
		outcome.Score = int(correct)
	}
	s.completed(ctx, quiz, actor, outcome)
	return outcome, nil
}

func answerSubmitted() error {
	return apperrors.NewConflictError(CodeAnswerAlreadySubmitted, "You have already answered this question")
}

type quizCompletedSignal struct {
	QuizID   uint   `json:"quiz_id"`
	ViewerID string `json:"viewer_id"`
	Score    int    `json:"score"`
	Total    int    `json:"total"`
}

func (s *QuizService) completed(ctx context.Context, quiz *models.Quiz, actor *models.Actor, outcome *models.AnswerOutcome) {
	s.ledger.RecordAsync(ctx, quiz.StreamID, actor.ID, models.QuizCompletedPayload{
		QuizID: quiz.ID,
		Score:  outcome.Score,
		Total:  outcome.Total,
	})
	s.bus.Signal(ctx, quiz.StreamID, EventQuizCompleted, quizCompletedSignal{
		QuizID:   quiz.ID,
		ViewerID: actor.ID,
		Score:    outcome.Score,
		Total:    outcome.Total,
	})
	s.log.Info("Quiz completed", "stream_id", quiz.StreamID, "quiz_id", quiz.ID, "user_id", actor.ID, "score", outcome.Score)
}
