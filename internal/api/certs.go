package api

import (
	"errors"
	"net/http"
	"sort"

	"botcloud/internal/https"

	"github.com/gin-gonic/gin"
)

// CertInfoHandler 获取证书信息
// GET /api/admin/certs
func (s *Server) CertInfoHandler(c *gin.Context) {
	if s.certs == nil || !s.certs.Config().IsHTTPS() {
		c.JSON(http.StatusNotFound, gin.H{"error": "HTTPS is not enabled"})
		return
	}
	info, err := s.certs.CertInfo()
	if errors.Is(err, https.ErrNoCertificate) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

// RunningBotsHandler 列出运行中的实例
// GET /api/admin/bots
func (s *Server) RunningBotsHandler(c *gin.Context) {
	handles := s.orch.Running()
	list := make([]RunningBot, 0, len(handles))
	for _, h := range handles {
		list = append(list, RunningBot{
			BotID:     h.Identity,
			PID:       h.PID,
			WorkDir:   h.WorkDir,
			StartedAt: h.StartedAt,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].BotID < list[j].BotID })
	c.JSON(http.StatusOK, gin.H{"bots": list})
}
