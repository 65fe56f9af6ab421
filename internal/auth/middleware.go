package auth

import (
	"net/http"
	"strings"

	"botcloud/config"

	"github.com/gin-gonic/gin"
)

const (
	// CallerHeader 调用方身份（由前置的用户系统注入）
	CallerHeader = "X-Botcloud-User"
	callerKey    = "botcloud.caller"
)

// TokenAuthMiddleware 令牌认证中间件
// 支持两种认证方式：
// 1. Token 方式: Authorization: token <TOKEN>
// 2. Basic Auth 方式: Authorization: Basic base64(user:TOKEN) 或 base64(TOKEN:)
// 认证通过后从 X-Botcloud-User（或 Basic Auth 用户名）解析调用方
func TokenAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		caller := strings.TrimSpace(c.GetHeader(CallerHeader))

		if config.BotCloudToken == "" {
			// 未配置令牌，允许所有请求（仅用于开发）
			c.Set(callerKey, caller)
			c.Next()
			return
		}

		authHeader := c.GetHeader("Authorization")
		if strings.HasPrefix(authHeader, "token ") {
			if strings.TrimPrefix(authHeader, "token ") == config.BotCloudToken {
				c.Set(callerKey, caller)
				c.Next()
				return
			}
		}

		user, password, hasAuth := c.Request.BasicAuth()
		if hasAuth && (user == config.BotCloudToken || password == config.BotCloudToken) {
			if caller == "" && user != config.BotCloudToken {
				caller = user
			}
			c.Set(callerKey, caller)
			c.Next()
			return
		}

		c.Header("WWW-Authenticate", `Basic realm="BotCloud"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

// Caller 返回当前请求的调用方，未知时为空串
func Caller(c *gin.Context) string {
	return c.GetString(callerKey)
}
