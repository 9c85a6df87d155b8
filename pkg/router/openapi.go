package router

import (
	"os"
	"path/filepath"

	"streamkit/backend/pkg/validator"
)

// AddOpenAPIValidation validates documented REST requests against the schema
// at schemaPath and serves the schema under /api/docs. It must run before
// SetupRoutes since gin binds middleware at registration time.
func (r *Router) AddOpenAPIValidation(schemaPath string) {
	if !fileExists(schemaPath) {
		r.Logger.Warn("OpenAPI schema file not found, skipping validation", "path", schemaPath)
		return
	}

	v, err := validator.NewOpenAPIValidator(schemaPath)
	if err != nil {
		r.Logger.LogError(err, "Failed to initialize OpenAPI validator", "path", schemaPath)
		return
	}

	r.Engine.Use(v.Middleware())
	r.Engine.StaticFile("/api/docs/"+filepath.Base(schemaPath), schemaPath)
	r.Logger.Info("OpenAPI validation enabled", "schema", schemaPath, "url", "/api/docs/"+filepath.Base(schemaPath))
}

func fileExists(filename string) bool {
	info, err := os.Stat(filename)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
