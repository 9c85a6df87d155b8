package validator

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"streamkit/backend/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const schema = `openapi: 3.0.3
info:
  title: test
  version: "1"
paths:
  /api/v1/streams/{streamId}/chat/messages:
    post:
      parameters:
        - name: streamId
          in: path
          required: true
          schema:
            type: integer
      requestBody:
        required: true
        content:
          application/json:
            schema:
              type: object
              required: [content]
              properties:
                content:
                  type: string
                  minLength: 1
      responses:
        "201":
          description: created
`

func newEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	path := filepath.Join(t.TempDir(), "openapi.yaml")
	require.NoError(t, os.WriteFile(path, []byte(schema), 0o600))

	v, err := NewOpenAPIValidator(path)
	require.NoError(t, err)

	r := gin.New()
	r.Use(errors.ErrorHandler())
	r.Use(v.Middleware())
	r.POST("/api/v1/streams/:streamId/chat/messages", func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	r.GET("/undocumented", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestRejectsBodyNotMatchingSchema(t *testing.T) {
	r := newEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/streams/1/chat/messages", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
}

func TestAcceptsValidBodyAndUndocumentedRoutes(t *testing.T) {
	r := newEngine(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/streams/1/chat/messages", strings.NewReader(`{"content":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusCreated, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/undocumented", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestShippedSchemaCoversStreamRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	v, err := NewOpenAPIValidator(filepath.Join("..", "..", "api", "openapi.yaml"))
	require.NoError(t, err)

	r := gin.New()
	r.Use(errors.ErrorHandler())
	r.Use(v.Middleware())
	r.POST("/api/v1/streams/:streamId/chat/timeouts", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.POST("/api/v1/streams/:streamId/polls", func(c *gin.Context) { c.Status(http.StatusCreated) })

	cases := []struct {
		name string
		path string
		body string
		code int
	}{
		{"timeout", "/api/v1/streams/1/chat/timeouts", `{"user_id":"u1","duration":60}`, http.StatusCreated},
		{"timeout without target", "/api/v1/streams/1/chat/timeouts", `{"duration":60}`, http.StatusBadRequest},
		{"non-numeric stream", "/api/v1/streams/abc/chat/timeouts", `{"user_id":"u1"}`, http.StatusBadRequest},
		{"poll", "/api/v1/streams/1/polls", `{"question":"?","options":[{"id":"a","text":"A"},{"id":"b","text":"B"}]}`, http.StatusCreated},
		{"poll with one option", "/api/v1/streams/1/polls", `{"question":"?","options":[{"id":"a","text":"A"}]}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, tc.path, strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.code, w.Code, w.Body.String())
		})
	}
}
