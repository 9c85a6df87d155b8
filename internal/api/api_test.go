package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"streamkit/backend/internal/models"
	"streamkit/backend/internal/policy"
	"streamkit/backend/internal/realtime"
	"streamkit/backend/internal/repository/repotest"
	"streamkit/backend/internal/service"
	"streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/health"
	"streamkit/backend/pkg/jwt"
	"streamkit/backend/pkg/logger"
	"streamkit/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	engine *gin.Engine
	tokens *jwt.Service
	ledger *service.Ledger
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	repos, _ := repotest.NewRepositories(t)
	engine, err := policy.NewDefaultEngine(context.Background())
	require.NoError(t, err)

	log := logger.Discard()
	broker := realtime.NewMemoryBroker()
	t.Cleanup(func() { _ = broker.Close() })

	access := service.NewAccess(repos.Streams, engine, log)
	rules := service.NewRuleService(repos, access, time.Minute, log)
	streams := service.NewStreamService(repos.Streams, access, log)
	chat := service.NewChatService(repos, rules, access, service.NewStoreAudience(repos.Streams), broker, service.DefaultChatConfig(), log)
	ledger := service.NewLedger(repos.Interactions, time.Second, log)
	t.Cleanup(ledger.Flush)
	bus := service.NewReactionBus(broker, access, ledger, service.DefaultReactionConfig(), log)

	tokens := jwt.NewService("test-secret", time.Hour)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(errors.ErrorHandler(), middleware.OptionalAuth(tokens, log))

	v1 := r.Group("/api/v1/streams")
	NewStreamHandler(streams, service.NewTracker(repos.Interactions, log)).RegisterRoutes(v1)
	NewChatHandler(chat).RegisterRoutes(v1)
	NewRuleHandler(rules).RegisterRoutes(v1)
	NewInteractionHandler(
		service.NewPollService(repos.Polls, access, ledger, bus, log),
		service.NewQuizService(repos.Quizzes, access, ledger, bus, log),
		service.NewChallengeService(repos.Challenges, access, ledger, bus, log),
		bus,
	).RegisterRoutes(v1)

	return &testAPI{engine: r, tokens: tokens, ledger: ledger}
}

func (a *testAPI) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		token, err := a.tokens.GenerateToken(jwt.Identity{UserID: userID, DisplayName: userID})
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

type errorBody struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func requireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) errorBody {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	body := decode[errorBody](t, w)
	require.Equal(t, code, body.Error.Code)
	return body
}

func (a *testAPI) createStream(t *testing.T, owner string) uint {
	t.Helper()
	w := a.do(t, http.MethodPost, "/api/v1/streams", owner, models.CreateStreamRequest{Title: "Friday stream"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[models.StreamSession](t, w).ID
}

func streamPath(id uint, rest string) string {
	return fmt.Sprintf("/api/v1/streams/%d%s", id, rest)
}

func TestStreams_CreateRequiresAuth(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodPost, "/api/v1/streams", "", models.CreateStreamRequest{Title: "x"})
	requireError(t, w, http.StatusUnauthorized, "AUTH_REQUIRED")

	id := a.createStream(t, "owner")

	w = a.do(t, http.MethodGet, streamPath(id, ""), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stream := decode[models.StreamSession](t, w)
	assert.Equal(t, "owner", stream.OwnerID)
	assert.True(t, stream.ChatEnabled)
	assert.False(t, stream.IsLive)

	w = a.do(t, http.MethodPost, streamPath(id, "/start"), "viewer", nil)
	requireError(t, w, http.StatusForbidden, service.CodeForbidden)

	w = a.do(t, http.MethodPost, streamPath(id, "/start"), "owner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[models.StreamSession](t, w).IsLive)

	w = a.do(t, http.MethodGet, "/api/v1/streams?live=true", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Streams []models.StreamSession `json:"streams"`
	}](t, w)
	require.Len(t, list.Streams, 1)
}

func TestStreams_InvalidAndUnknownIDs(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(t, http.MethodGet, "/api/v1/streams/abc", "", nil)
	requireError(t, w, http.StatusBadRequest, CodeInvalidRequest)

	w = a.do(t, http.MethodGet, "/api/v1/streams/999", "", nil)
	requireError(t, w, http.StatusNotFound, service.CodeStreamNotFound)
}

func TestChat_SendAndFilterRejection(t *testing.T) {
	a := newTestAPI(t)
	id := a.createStream(t, "owner")

	w := a.do(t, http.MethodPost, streamPath(id, "/chat/filters"), "owner", models.CreateFilterRequest{
		Pattern:    "badword",
		FilterType: models.FilterBlock,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, http.MethodPost, streamPath(id, "/chat/messages"), "viewer", models.SendMessageRequest{Content: "this has badword in it"})
	body := requireError(t, w, http.StatusForbidden, service.CodeMessageRejected)
	assert.Contains(t, string(body.Error.Details), "filter_id")

	w = a.do(t, http.MethodPost, streamPath(id, "/chat/messages"), "viewer", models.SendMessageRequest{Content: "hello there"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	result := decode[service.IngestResult](t, w)
	assert.Equal(t, "hello there", result.Message.Content)

	w = a.do(t, http.MethodGet, streamPath(id, "/chat/messages"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	history := decode[struct {
		Messages []models.ChatMessage `json:"messages"`
	}](t, w)
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "hello there", history.Messages[0].Content)

	w = a.do(t, http.MethodPost, streamPath(id, "/chat/messages"), "viewer", gin.H{})
	requireError(t, w, http.StatusBadRequest, CodeInvalidRequest)
}

func TestChat_BanFlow(t *testing.T) {
	a := newTestAPI(t)
	id := a.createStream(t, "owner")

	w := a.do(t, http.MethodPost, streamPath(id, "/chat/bans"), "viewer", models.ModerationRequest{UserID: "troll"})
	requireError(t, w, http.StatusForbidden, service.CodeForbidden)

	w = a.do(t, http.MethodPost, streamPath(id, "/chat/bans"), "owner", models.ModerationRequest{UserID: "troll", Reason: "spam"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, http.MethodPost, streamPath(id, "/chat/messages"), "troll", models.SendMessageRequest{Content: "let me in"})
	requireError(t, w, http.StatusForbidden, service.CodeUserBanned)

	w = a.do(t, http.MethodGet, streamPath(id, "/chat/bans"), "owner", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"troll"`)

	w = a.do(t, http.MethodDelete, streamPath(id, "/chat/bans/troll"), "owner", nil)
	require.Equal(t, http.StatusNoContent, w.Code)

	w = a.do(t, http.MethodPost, streamPath(id, "/chat/messages"), "troll", models.SendMessageRequest{Content: "sorry"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestChat_DeleteMessage(t *testing.T) {
	a := newTestAPI(t)
	id := a.createStream(t, "owner")

	w := a.do(t, http.MethodPost, streamPath(id, "/chat/messages"), "viewer", models.SendMessageRequest{Content: "oops"})
	require.Equal(t, http.StatusCreated, w.Code)
	msgID := decode[service.IngestResult](t, w).Message.ID

	w = a.do(t, http.MethodDelete, streamPath(id, fmt.Sprintf("/chat/messages/%d", msgID)), "bystander", nil)
	requireError(t, w, http.StatusForbidden, service.CodeForbidden)

	w = a.do(t, http.MethodDelete, streamPath(id, fmt.Sprintf("/chat/messages/%d", msgID)), "owner", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, decode[models.ChatMessage](t, w).IsDeleted)

	w = a.do(t, http.MethodGet, streamPath(id, "/chat/messages"), "", nil)
	assert.NotContains(t, w.Body.String(), "oops")
}

func TestRules_SettingsAndModerators(t *testing.T) {
	a := newTestAPI(t)
	id := a.createStream(t, "owner")

	settings := models.DefaultChatSettings(id)
	settings.SlowMode = true
	settings.SlowModeInterval = 10

	w := a.do(t, http.MethodPut, streamPath(id, "/chat/settings"), "viewer", settings)
	requireError(t, w, http.StatusForbidden, service.CodeForbidden)

	w = a.do(t, http.MethodPut, streamPath(id, "/chat/settings"), "owner", settings)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, streamPath(id, "/chat/settings"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[models.ChatSettings](t, w)
	assert.True(t, got.SlowMode)
	assert.Equal(t, 10, got.SlowModeInterval)

	w = a.do(t, http.MethodPost, streamPath(id, "/moderators"), "owner", models.AddModeratorRequest{UserID: "mod"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, http.MethodPost, streamPath(id, "/moderators"), "owner", models.AddModeratorRequest{UserID: "mod"})
	requireError(t, w, http.StatusConflict, service.CodeModeratorExists)

	w = a.do(t, http.MethodGet, streamPath(id, "/moderators"), "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mod"`)
}

func TestPolls_VoteOnceAndSeeResults(t *testing.T) {
	a := newTestAPI(t)
	id := a.createStream(t, "owner")

	w := a.do(t, http.MethodPost, streamPath(id, "/polls"), "owner", models.CreatePollRequest{
		Question: "Next game?",
		Options: []models.PollOptionInput{
			{ID: "a", Text: "Chess"},
			{ID: "b", Text: "Go"},
		},
		Activate: true,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	pollID := decode[models.Poll](t, w).ID

	pollPath := streamPath(id, fmt.Sprintf("/polls/%d", pollID))

	w = a.do(t, http.MethodGet, pollPath, "viewer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	view := decode[models.PollView](t, w)
	assert.False(t, view.HasVoted)
	assert.Nil(t, view.Results)

	w = a.do(t, http.MethodPost, pollPath+"/votes", "viewer", models.VoteRequest{OptionIDs: []string{"a"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	results := decode[models.PollResults](t, w)
	assert.Equal(t, 1, results.TotalResponses)

	w = a.do(t, http.MethodPost, pollPath+"/votes", "viewer", models.VoteRequest{OptionIDs: []string{"b"}})
	requireError(t, w, http.StatusConflict, service.CodeAlreadyVoted)

	w = a.do(t, http.MethodGet, pollPath, "viewer", nil)
	view = decode[models.PollView](t, w)
	assert.True(t, view.HasVoted)
	require.NotNil(t, view.Results)
	assert.Equal(t, 1, view.Results.Options[0].Votes)
	assert.Equal(t, 100.0, view.Results.Options[0].Percentage)
}

func TestQuizzes_AnswerFlow(t *testing.T) {
	a := newTestAPI(t)
	id := a.createStream(t, "owner")

	w := a.do(t, http.MethodPost, streamPath(id, "/quizzes"), "owner", models.CreateQuizRequest{
		Title: "Trivia",
		Questions: []models.QuizQuestionInput{
			{Prompt: "2+2?", Options: []string{"3", "4"}, CorrectAnswer: "4"},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), "correct_answer")
	quiz := decode[models.Quiz](t, w)

	answer := models.AnswerRequest{QuestionID: quiz.Questions[0].ID, Answer: "4"}
	w = a.do(t, http.MethodPost, streamPath(id, fmt.Sprintf("/quizzes/%d/answers", quiz.ID)), "viewer", answer)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	outcome := decode[models.AnswerOutcome](t, w)
	assert.True(t, outcome.IsCorrect)
	assert.True(t, outcome.Completed)
	assert.Equal(t, 1, outcome.Score)

	w = a.do(t, http.MethodPost, streamPath(id, fmt.Sprintf("/quizzes/%d/answers", quiz.ID)), "viewer", answer)
	requireError(t, w, http.StatusConflict, service.CodeAnswerAlreadySubmitted)
}

func TestChallenges_JoinAndProgress(t *testing.T) {
	a := newTestAPI(t)
	id := a.createStream(t, "owner")

	w := a.do(t, http.MethodPost, streamPath(id, "/challenges"), "owner", models.CreateChallengeRequest{Title: "100 subs", TargetValue: 3})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	challengeID := decode[models.Challenge](t, w).ID
	base := streamPath(id, fmt.Sprintf("/challenges/%d", challengeID))

	w = a.do(t, http.MethodPost, base+"/join", "viewer", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = a.do(t, http.MethodPost, base+"/join", "viewer", nil)
	requireError(t, w, http.StatusConflict, service.CodeAlreadyJoined)

	w = a.do(t, http.MethodPost, base+"/progress", "owner", models.ProgressRequest{UserID: "viewer", Delta: 3})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 3, decode[models.ChallengeParticipant](t, w).Progress)

	w = a.do(t, http.MethodGet, base, "", nil)
	challenge := decode[models.Challenge](t, w)
	assert.Equal(t, 3, challenge.CurrentProgress)
	assert.NotNil(t, challenge.CompletedAt)
}

func TestReactions_AcceptedAndTracked(t *testing.T) {
	a := newTestAPI(t)
	id := a.createStream(t, "owner")

	w := a.do(t, http.MethodPost, streamPath(id, "/reactions"), "viewer", models.ReactionRequest{Emoji: "🎉"})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	ev := decode[service.ReactionEvent](t, w)
	assert.Equal(t, service.EventReaction, ev.Kind)
	assert.Equal(t, int64(3000), ev.DisplayMS)

	w = a.do(t, http.MethodPost, streamPath(id, "/reactions"), "viewer", models.ReactionRequest{Kind: "overlay"})
	requireError(t, w, http.StatusBadRequest, service.CodeInvalidReaction)

	a.ledger.Flush()
	w = a.do(t, http.MethodGet, streamPath(id, "/interactions"), "", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	snap := decode[models.TrackerSnapshot](t, w)
	assert.Equal(t, int64(1), snap.TotalInteractions)
	assert.Equal(t, int64(1), snap.UniqueViewers)
	require.Len(t, snap.Recent, 1)
	assert.Equal(t, models.ReactionPayload{Emoji: "🎉"}, snap.Recent[0].Payload)
}

func TestHealthHandler(t *testing.T) {
	checker := health.NewChecker(logger.Discard(), time.Minute)
	down := true
	checker.RegisterDatabaseCheck(func(context.Context) error {
		if down {
			return fmt.Errorf("connection refused")
		}
		return nil
	})

	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHealthHandler(checker, nil, "test").RegisterHealthRoutes(r)

	checker.RunChecks(context.Background())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	down = false
	checker.RunChecks(context.Background())
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[HealthResponse](t, w)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Contains(t, resp.Components, "database")
}
