package api

import (
	"errors"
	"fmt"
	"net/http"

	"botcloud/internal/auth"
	"botcloud/internal/models"
	"botcloud/internal/service"

	"github.com/gin-gonic/gin"
)

// authorize 校验 botId 以及调用方对该 bot 的归属
func (s *Server) authorize(c *gin.Context, botID string) bool {
	if !models.ValidIdentity(botID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": service.ErrInvalidIdentity.Error()})
		return false
	}
	if err := auth.CheckOwner(c.Request.Context(), s.owners, auth.Caller(c), botID); err != nil {
		s.fail(c, botID, err)
		return false
	}
	return true
}

// approve 向经济系统申请部署
func (s *Server) approve(c *gin.Context, botID string) bool {
	if err := s.gate.ApproveDeploy(c.Request.Context(), auth.Caller(c), botID); err != nil {
		if !errors.Is(err, auth.ErrGateRejected) {
			err = fmt.Errorf("%w: %v", auth.ErrGateRejected, err)
		}
		s.fail(c, botID, err)
		return false
	}
	return true
}

// accepted 返回 202；带 ?wait=true 时等待启动阶段结束
func (s *Server) accepted(c *gin.Context, d *service.Deployment) {
	if c.Query("wait") == "true" {
		if err := d.Wait(c.Request.Context()); err != nil {
			s.fail(c, d.Identity, err)
			return
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"botId": d.Identity, "message": "Deployment started."})
}

// DeployHandler 处理 POST /api/deploy 请求
func (s *Server) DeployHandler(c *gin.Context) {
	var opt DeployOption
	if err := c.ShouldBindJSON(&opt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.authorize(c, opt.BotID) || !s.approve(c, opt.BotID) {
		return
	}

	d, err := s.orch.RequestDeploy(c.Request.Context(), opt.BotID, models.VCSSource(opt.RepoURL))
	if err != nil {
		s.fail(c, opt.BotID, err)
		return
	}
	s.accepted(c, d)
}

// DeployZipHandler 处理 POST /api/deploy-zip 请求（multipart: botId, package）
func (s *Server) DeployZipHandler(c *gin.Context) {
	if s.maxArchive > 0 {
		// 预留 1MB 给 multipart 头和其他字段
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxArchive+1<<20)
	}

	botID := c.PostForm("botId")
	header, err := c.FormFile("package")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, botID, service.ErrSourceTooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "package file is required"})
		return
	}
	if !s.authorize(c, botID) {
		return
	}
	if s.maxArchive > 0 && header.Size > s.maxArchive {
		s.fail(c, botID, fmt.Errorf("%w: %d bytes", service.ErrSourceTooLarge, header.Size))
		return
	}
	if !s.approve(c, botID) {
		return
	}

	f, err := header.Open()
	if err != nil {
		s.fail(c, botID, err)
		return
	}
	// 解压在 RequestDeploy 返回前完成
	defer f.Close()

	d, err := s.orch.RequestDeploy(c.Request.Context(), botID, models.ArchiveSource(header.Filename, f, header.Size))
	if err != nil {
		s.fail(c, botID, err)
		return
	}
	s.accepted(c, d)
}

// StopHandler 处理 POST /api/stop 请求
func (s *Server) StopHandler(c *gin.Context) {
	var opt BotOption
	if err := c.ShouldBindJSON(&opt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.authorize(c, opt.BotID) {
		return
	}

	if !s.orch.RequestStop(c.Request.Context(), opt.BotID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Bot is not running."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RestartHandler 处理 POST /api/restart 请求
func (s *Server) RestartHandler(c *gin.Context) {
	var opt RestartOption
	if err := c.ShouldBindJSON(&opt); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !s.authorize(c, opt.BotID) || !s.approve(c, opt.BotID) {
		return
	}

	d, err := s.orch.RequestRestart(c.Request.Context(), opt.BotID, opt.Update)
	if errors.Is(err, service.ErrArtifactMissing) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Deployment files not found."})
		return
	}
	if err != nil {
		s.fail(c, opt.BotID, err)
		return
	}
	if c.Query("wait") == "true" {
		if err := d.Wait(c.Request.Context()); err != nil {
			s.fail(c, opt.BotID, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
