package api

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/jroosing/resolvfuzz/internal/api/handlers"
	"github.com/jroosing/resolvfuzz/internal/config"

	_ "github.com/jroosing/resolvfuzz/internal/api/docs" // swagger docs
	"github.com/jroosing/resolvfuzz/internal/api/middleware"
)

func RegisterRoutes(r *gin.Engine, h *handlers.Handler, cfg *config.Config) {
	// Swagger UI at /swagger/*
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// Liveness probe, unauthenticated, outside the versioned group.
	r.GET("/healthz", h.Health)

	api := r.Group("/api/v1")

	// Optional API key protection.
	if cfg != nil && cfg.API.APIKey != "" {
		api.Use(middleware.RequireAPIKey(cfg.API.APIKey))
	}

	api.GET("/stats", h.Stats)
	api.GET("/corpus/:resolver", h.CorpusSize)
	api.GET("/diffs/:fingerprint", h.GetDiff)
}
