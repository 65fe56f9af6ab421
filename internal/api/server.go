package api

import (
	"context"
	"time"

	"botcloud/internal/auth"
	"botcloud/internal/https"
	"botcloud/internal/logger"
	"botcloud/internal/service"

	"github.com/sirupsen/logrus"
)

// BotStore API 层直接使用的存储能力
type BotStore interface {
	SetExpiry(ctx context.Context, botID string, expiresAt time.Time) error
	Ping(ctx context.Context) error
}

// Options API 层参数
type Options struct {
	Gate            auth.Gate      // 为空时全部放行
	Ownership       auth.Ownership // 为空时全部放行
	Certs           *https.Manager // 为空表示未启用 HTTPS
	MaxArchiveBytes int64          // 上传包大小上限，<=0 不限制
	FetchLimit      int            // GET /logs 默认条数
}

type Server struct {
	orch   *service.Orchestrator
	store  BotStore
	gate   auth.Gate
	owners auth.Ownership
	certs  *https.Manager

	maxArchive int64
	fetchLimit int
	log        *logrus.Entry
}

func NewServer(orch *service.Orchestrator, store BotStore, opts Options) *Server {
	if opts.Gate == nil {
		opts.Gate = auth.AllowAll{}
	}
	if opts.Ownership == nil {
		opts.Ownership = auth.AllowAll{}
	}
	if opts.FetchLimit <= 0 {
		opts.FetchLimit = defaultLogLimit
	}
	return &Server{
		orch:       orch,
		store:      store,
		gate:       opts.Gate,
		owners:     opts.Ownership,
		certs:      opts.Certs,
		maxArchive: opts.MaxArchiveBytes,
		fetchLimit: opts.FetchLimit,
		log:        logger.For("api"),
	}
}
