package api

import "time"

const (
	defaultLogLimit = 500
	maxLogLimit     = 5000
)

// DeployOption POST /api/deploy 请求体
type DeployOption struct {
	BotID   string `json:"botId" binding:"required"`
	RepoURL string `json:"repoUrl" binding:"required"`
}

// BotOption POST /api/stop 请求体
type BotOption struct {
	BotID string `json:"botId" binding:"required"`
}

// RestartOption POST /api/restart 请求体
type RestartOption struct {
	BotID  string `json:"botId" binding:"required"`
	Update bool   `json:"update"`
}

// ExpiryOption PUT /api/bots/:botId/expiry 请求体
type ExpiryOption struct {
	ExpiresAt time.Time `json:"expiresAt" binding:"required"`
}

// RunningBot 管理端运行中实例视图
type RunningBot struct {
	BotID     string    `json:"botId"`
	PID       int       `json:"pid"`
	WorkDir   string    `json:"workDir"`
	StartedAt time.Time `json:"startedAt"`
}
