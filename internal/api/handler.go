package api

import (
	"context"
	"fmt"
	"strconv"

	"streamkit/backend/internal/models"
	apperrors "streamkit/backend/pkg/errors"
	"streamkit/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// CodeInvalidRequest is returned for malformed bodies and path parameters
const CodeInvalidRequest = "INVALID_REQUEST"

// currentActor returns the authenticated caller, or nil for anonymous requests
func currentActor(c *gin.Context) *models.Actor {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		return nil
	}
	return &models.Actor{
		ID:          user.UserID,
		DisplayName: user.DisplayName,
		AvatarURL:   user.AvatarURL,
	}
}

func requestContext(c *gin.Context) context.Context {
	return middleware.WithRequestContext(c.Request.Context(), c)
}

// idParam parses a positive numeric path parameter
func idParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		_ = c.Error(apperrors.NewValidationError(CodeInvalidRequest, fmt.Sprintf("Invalid %s", name)))
		return 0, false
	}
	return uint(id), true
}

func streamParam(c *gin.Context) (uint, bool) {
	return idParam(c, "streamId")
}

func bindJSON(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(apperrors.NewValidationError(CodeInvalidRequest, err.Error()))
		return false
	}
	return true
}

func intQuery(c *gin.Context, name string, def int) int {
	raw := c.Query(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func fail(c *gin.Context, err error) {
	_ = c.Error(err)
}
