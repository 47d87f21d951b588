package http

import (
	"github.com/gin-gonic/gin"

	httpH "github.com/docfold/docgraph-backend/internal/http/handlers"
	httpMW "github.com/docfold/docgraph-backend/internal/http/middleware"
	"github.com/docfold/docgraph-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log *logger.Logger

	DocumentHandler *httpH.DocumentHandler
	QueryHandler    *httpH.QueryHandler
	HealthHandler   *httpH.HealthHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpMW.RequestLogger(cfg.Log))

	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.DocumentHandler != nil {
			api.POST("/documents", cfg.DocumentHandler.Ingest)
			api.DELETE("/documents/*id", cfg.DocumentHandler.Delete)
		}
		if cfg.QueryHandler != nil {
			api.POST("/query", cfg.QueryHandler.Query)
		}
	}

	return r
}
