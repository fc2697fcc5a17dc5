/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"time"

	"github.com/aminederouich/pfe-back-sub000/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func NewRouter(cfg config.Config, log zerolog.Logger, svc Service) *gin.Engine {
	if cfg.AppEnv != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().Str("m", c.Request.Method).Str("p", c.FullPath()).Int("s", c.Writer.Status()).
			Dur("took", time.Since(start)).Msg("http")
	})

	h := NewHandlers(cfg, log, svc)

	r.GET("/healthz", h.Healthz)

	admin := r.Group("/admin")
	admin.GET("/last-run", h.LastRun)
	admin.POST("/sync", h.RunSync)
	admin.POST("/weekly", h.RunWeekly)

	r.GET("/rules/:ownerId", h.GetRule)
	r.PUT("/rules/:ownerId", h.PutRule)

	r.POST("/tickets", h.AddTicket)

	r.POST("/scores/calculate", h.CalculateScore)
	r.POST("/scores/calculate-batch", h.CalculateBatch)
	r.GET("/scores/owner/:ownerId", h.ScoresByOwner)

	r.GET("/leaderboard/weekly/:weekId", h.WeeklyLeaderboard)

	return r
}
