package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/satyaki-up/trendboard/internal/config"
)

func NewRouter(cfg config.Config, log zerolog.Logger, d Deps) *gin.Engine {
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("m", c.Request.Method).
			Str("p", c.FullPath()).
			Int("s", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http")
	})

	h := NewHandlers(cfg, log, d)

	r.GET("/healthz", h.Healthz)

	api := r.Group("/api")
	api.POST("/snapshot", h.StartSnapshot)
	api.GET("/snapshot/status", h.SnapshotStatus)
	api.GET("/snapshot/progress", h.SnapshotProgress)
	api.GET("/snapshot/history", h.SnapshotHistory)

	api.GET("/data", h.Fields)
	api.POST("/data", h.SetField)
	api.GET("/data/history", h.FieldHistory)
	api.GET("/data/history/:key", h.FieldHistory)

	return r
}
