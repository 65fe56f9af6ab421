package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheckHandler 返回服务的健康状态，数据库不可用时返回 503
func (s *Server) HealthCheckHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		s.log.WithError(err).Warn("database ping failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "DOWN",
			"service": "botcloud",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":  "UP",
		"service": "botcloud",
	})
}
