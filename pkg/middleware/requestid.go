package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
)

type contextKey string

const (
	requestIDCtxKey contextKey = "requestID"
	viewerIDCtxKey  contextKey = "viewerID"
)

// WithRequestContext carries the request ID and caller id from gin onto ctx,
// so work that outlives the request (websocket connections, ledger writes)
// can still be correlated with it.
func WithRequestContext(parent context.Context, c *gin.Context) context.Context {
	ctx := parent
	if requestID := c.GetString("requestID"); requestID != "" {
		ctx = context.WithValue(ctx, requestIDCtxKey, requestID)
	}
	if viewerID := c.GetString(userIDKey); viewerID != "" {
		ctx = context.WithValue(ctx, viewerIDCtxKey, viewerID)
	}
	return ctx
}

// GetRequestID extracts the request ID from a context
func GetRequestID(ctx context.Context) string {
	requestID, _ := ctx.Value(requestIDCtxKey).(string)
	return requestID
}

// GetViewerID extracts the authenticated caller id; empty for anonymous viewers
func GetViewerID(ctx context.Context) string {
	viewerID, _ := ctx.Value(viewerIDCtxKey).(string)
	return viewerID
}
