package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// LogsHandler 处理 GET /api/bots/:botId/logs 请求，按时间升序返回
func (s *Server) LogsHandler(c *gin.Context) {
	botID := c.Param("botId")
	if !s.authorize(c, botID) {
		return
	}

	limit := s.fetchLimit
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	if limit > maxLogLimit {
		limit = maxLogLimit
	}

	lines, err := s.orch.FetchHistory(c.Request.Context(), botID, limit)
	if err != nil {
		s.fail(c, botID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"botId": botID, "logs": lines})
}

// StatusHandler 处理 GET /api/bots/:botId/status 请求
func (s *Server) StatusHandler(c *gin.Context) {
	botID := c.Param("botId")
	if !s.authorize(c, botID) {
		return
	}
	st, err := s.orch.State(c.Request.Context(), botID)
	if err != nil {
		s.fail(c, botID, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ExpiryHandler 处理 PUT /api/bots/:botId/expiry 请求
func (s *Server) ExpiryHandler(c *gin.Context) {
	botID := c.Param("botId")
	var opt ExpiryOption
	if err := c.ShouldBindJSON(&opt); err != nil || opt.ExpiresAt.IsZero() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expiresAt is required"})
		return
	}
	if !s.authorize(c, botID) {
		return
	}

	if err := s.store.SetExpiry(c.Request.Context(), botID, opt.ExpiresAt); err != nil {
		s.fail(c, botID, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"botId": botID, "expiresAt": opt.ExpiresAt})
}

// DeleteBotHandler 处理 DELETE /api/bots/:botId 请求
func (s *Server) DeleteBotHandler(c *gin.Context) {
	botID := c.Param("botId")
	if !s.authorize(c, botID) {
		return
	}
	if err := s.orch.RequestDelete(c.Request.Context(), botID); err != nil {
		s.fail(c, botID, err)
		return
	}
	c.Status(http.StatusNoContent)
}
