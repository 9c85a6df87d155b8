package api

import (
	"net/http"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/service"
	"streamkit/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// InteractionHandler serves polls, quizzes, challenges and reactions
type InteractionHandler struct {
	polls      *service.PollService
	quizzes    *service.QuizService
	challenges *service.ChallengeService
	reactions  *service.ReactionBus
}

// NewInteractionHandler creates an InteractionHandler
func NewInteractionHandler(
	polls *service.PollService,
	quizzes *service.QuizService,
	challenges *service.ChallengeService,
	reactions *service.ReactionBus,
) *InteractionHandler {
	return &InteractionHandler{
		polls:      polls,
		quizzes:    quizzes,
		challenges: challenges,
		reactions:  reactions,
	}
}

type activeRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// RegisterRoutes registers interaction routes on the /streams group
func (h *InteractionHandler) RegisterRoutes(streams *gin.RouterGroup) {
	auth := middleware.RequireUser()

	polls := streams.Group("/:streamId/polls")
	{
		polls.GET("", h.ListPolls)
		polls.POST("", auth, h.CreatePoll)
		polls.GET("/:pollId", h.GetPoll)
		polls.GET("/:pollId/results", h.PollResults)
		polls.POST("/:pollId/activate", auth, h.ActivatePoll)
		polls.POST("/:pollId/close", auth, h.ClosePoll)
		polls.POST("/:pollId/votes", auth, h.Vote)
	}

	quizzes := streams.Group("/:streamId/quizzes")
	{
		quizzes.GET("", h.ListQuizzes)
		quizzes.POST("", auth, h.CreateQuiz)
		quizzes.GET("/:quizId", h.GetQuiz)
		quizzes.PUT("/:quizId/active", auth, h.SetQuizActive)
		quizzes.GET("/:quizId/progress", auth, h.QuizProgress)
		quizzes.POST("/:quizId/answers", auth, h.Answer)
	}

	challenges := streams.Group("/:streamId/challenges")
	{
		challenges.GET("", h.ListChallenges)
		challenges.POST("", auth, h.CreateChallenge)
		challenges.GET("/:challengeId", h.GetChallenge)
		challenges.GET("/:challengeId/participants", h.ListParticipants)
		challenges.POST("/:challengeId/join", auth, h.JoinChallenge)
		challenges.POST("/:challengeId/progress", auth, h.RecordProgress)
		challenges.POST("/:challengeId/end", auth, h.EndChallenge)
	}

	streams.POST("/:streamId/reactions", auth, h.React)
}

// ListPolls lists the stream's polls
func (h *InteractionHandler) ListPolls(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	polls, err := h.polls.ListPolls(requestContext(c), streamID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"polls": polls})
}

// CreatePoll creates a poll, optionally activating it
func (h *InteractionHandler) CreatePoll(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	var req models.CreatePollRequest
	if !bindJSON(c, &req) {
		return
	}
	poll, err := h.polls.CreatePoll(requestContext(c), currentActor(c), streamID, &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, poll)
}

// GetPoll includes results once the caller has voted or the poll has closed
func (h *InteractionHandler) GetPoll(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	pollID, ok := idParam(c, "pollId")
	if !ok {
		return
	}
	view, err := h.polls.GetPoll(requestContext(c), currentActor(c), streamID, pollID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// PollResults returns the current tally of a poll
func (h *InteractionHandler) PollResults(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	pollID, ok := idParam(c, "pollId")
	if !ok {
		return
	}
	results, err := h.polls.Results(requestContext(c), streamID, pollID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// ActivatePoll makes a poll the stream's active poll
func (h *InteractionHandler) ActivatePoll(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	pollID, ok := idParam(c, "pollId")
	if !ok {
		return
	}
	poll, err := h.polls.ActivatePoll(requestContext(c), currentActor(c), streamID, pollID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, poll)
}

// ClosePoll closes a poll and returns its final tally
func (h *InteractionHandler) ClosePoll(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	pollID, ok := idParam(c, "pollId")
	if !ok {
		return
	}
	results, err := h.polls.ClosePoll(requestContext(c), currentActor(c), streamID, pollID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, results)
}

// Vote records the caller's vote
func (h *InteractionHandler) Vote(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	pollID, ok := idParam(c, "pollId")
	if !ok {
		return
	}
	var req models.VoteRequest
	if !bindJSON(c, &req) {
		return
	}
	results, err := h.polls.SubmitVote(requestContext(c), currentActor(c), streamID, pollID, req.OptionIDs)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, results)
}

// ListQuizzes lists the stream's quizzes
func (h *InteractionHandler) ListQuizzes(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	quizzes, err := h.quizzes.ListQuizzes(requestContext(c), streamID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quizzes": quizzes})
}

// CreateQuiz creates a quiz with its questions
func (h *InteractionHandler) CreateQuiz(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	var req models.CreateQuizRequest
	if !bindJSON(c, &req) {
		return
	}
	quiz, err := h.quizzes.CreateQuiz(requestContext(c), currentActor(c), streamID, &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, quiz)
}

// GetQuiz returns a quiz without its answers
func (h *InteractionHandler) GetQuiz(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	quizID, ok := idParam(c, "quizId")
	if !ok {
		return
	}
	quiz, err := h.quizzes.GetQuiz(requestContext(c), streamID, quizID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz)
}

// SetQuizActive opens or closes a quiz
func (h *InteractionHandler) SetQuizActive(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	quizID, ok := idParam(c, "quizId")
	if !ok {
		return
	}
	var req activeRequest
	if !bindJSON(c, &req) {
		return
	}
	quiz, err := h.quizzes.SetQuizActive(requestContext(c), currentActor(c), streamID, quizID, *req.Active)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, quiz)
}

// QuizProgress returns the caller's score and completion for a quiz
func (h *InteractionHandler) QuizProgress(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	quizID, ok := idParam(c, "quizId")
	if !ok {
		return
	}
	progress, err := h.quizzes.Progress(requestContext(c), currentActor(c), streamID, quizID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// Answer records the caller's answer to one quiz question
func (h *InteractionHandler) Answer(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	quizID, ok := idParam(c, "quizId")
	if !ok {
		return
	}
	var req models.AnswerRequest
	if !bindJSON(c, &req) {
		return
	}
	outcome, err := h.quizzes.SubmitAnswer(requestContext(c), currentActor(c), streamID, quizID, req.QuestionID, req.Answer)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, outcome)
}

// ListChallenges lists the stream's challenges
func (h *InteractionHandler) ListChallenges(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	challenges, err := h.challenges.ListChallenges(requestContext(c), streamID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"challenges": challenges})
}

// CreateChallenge creates a community challenge
func (h *InteractionHandler) CreateChallenge(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	var req models.CreateChallengeRequest
	if !bindJSON(c, &req) {
		return
	}
	challenge, err := h.challenges.CreateChallenge(requestContext(c), currentActor(c), streamID, &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, challenge)
}

// GetChallenge returns a challenge with its progress
func (h *InteractionHandler) GetChallenge(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	challengeID, ok := idParam(c, "challengeId")
	if !ok {
		return
	}
	challenge, err := h.challenges.GetChallenge(requestContext(c), streamID, challengeID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

// ListParticipants lists a challenge's participants
func (h *InteractionHandler) ListParticipants(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	challengeID, ok := idParam(c, "challengeId")
	if !ok {
		return
	}
	participants, err := h.challenges.ListParticipants(requestContext(c), streamID, challengeID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": participants})
}

// JoinChallenge enrols the caller in a challenge
func (h *InteractionHandler) JoinChallenge(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	challengeID, ok := idParam(c, "challengeId")
	if !ok {
		return
	}
	p, err := h.challenges.Join(requestContext(c), currentActor(c), streamID, challengeID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// RecordProgress adds progress for a participant
func (h *InteractionHandler) RecordProgress(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	challengeID, ok := idParam(c, "challengeId")
	if !ok {
		return
	}
	var req models.ProgressRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.challenges.RecordProgress(requestContext(c), currentActor(c), streamID, challengeID, &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// EndChallenge closes a challenge
func (h *InteractionHandler) EndChallenge(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	challengeID, ok := idParam(c, "challengeId")
	if !ok {
		return
	}
	challenge, err := h.challenges.EndChallenge(requestContext(c), currentActor(c), streamID, challengeID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, challenge)
}

// React fans a reaction or overlay out to current viewers. Nothing is stored
// on the stream; the ledger records it asynchronously.
func (h *InteractionHandler) React(c *gin.Context) {
	streamID, ok := streamParam(c)
	if !ok {
		return
	}
	var req models.ReactionRequest
	if !bindJSON(c, &req) {
		return
	}
	ev, err := h.reactions.Publish(requestContext(c), currentActor(c), streamID, &req)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ev)
}
