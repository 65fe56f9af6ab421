package router

import (
	"net/http"

	"botcloud/internal/api"
	"botcloud/internal/auth"
	"botcloud/internal/logger"

	"github.com/gin-gonic/gin"
)

// New 组装 HTTP 路由
//
//	/health           健康检查（无认证）
//	/api/...          部署与查询接口（令牌认证）
//	/ws               日志订阅 WebSocket（令牌认证）
func New(s *api.Server, ws http.Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.LoggerWithWriter(logger.Writer(), "/health"))
	r.Use(gin.RecoveryWithWriter(logger.Writer()))

	r.GET("/health", s.HealthCheckHandler)

	apiGroup := r.Group("/api", auth.TokenAuthMiddleware())
	{
		apiGroup.POST("/deploy", s.DeployHandler)
		apiGroup.POST("/deploy-zip", s.DeployZipHandler)
		apiGroup.POST("/stop", s.StopHandler)
		apiGroup.POST("/restart", s.RestartHandler)

		bots := apiGroup.Group("/bots/:botId")
		bots.GET("/logs", s.LogsHandler)
		bots.GET("/status", s.StatusHandler)
		bots.PUT("/expiry", s.ExpiryHandler)
		bots.DELETE("", s.DeleteBotHandler)

		admin := apiGroup.Group("/admin")
		admin.GET("/bots", s.RunningBotsHandler)
		admin.GET("/certs", s.CertInfoHandler)
	}

	if ws != nil {
		r.GET("/ws", auth.TokenAuthMiddleware(), gin.WrapH(ws))
	}
	return r
}
