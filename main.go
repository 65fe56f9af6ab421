package main

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"botcloud/config"
	"botcloud/internal/api"
	"botcloud/internal/db"
	"botcloud/internal/expiry"
	"botcloud/internal/gateway"
	"botcloud/internal/hub"
	bothttps "botcloud/internal/https"
	"botcloud/internal/keeper"
	"botcloud/internal/logger"
	"botcloud/internal/router"
	"botcloud/internal/service"
	"botcloud/internal/stager"

	"github.com/gin-gonic/gin"
)

func main() {
	// 确保必要目录存在
	initDirectories()

	// 初始化日志
	if err := logger.Init(logger.Config{
		Level:      config.LogLevel,
		OutputFile: config.LogFile,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}); err != nil {
		logger.Logger.WithError(err).Warn("failed to open log file, using stdout")
	}
	defer logger.Close()
	gin.SetMode(gin.ReleaseMode)
	gin.DefaultWriter = logger.Writer()
	gin.DefaultErrorWriter = logger.Writer()

	log := logger.For("main")
	log.Info("Starting BotCloud...")

	store, err := db.Open(config.DBFile)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	log.Info("Database initialized")

	h := hub.New(store)
	st := stager.New(config.DeployDir, config.MaxArchiveBytes, h)
	sv := keeper.New(h, config.StopGrace)
	orch := service.NewOrchestrator(st, sv, h, store, service.Options{
		InstallCmd: config.InstallCmd,
		RunCmd:     config.RunCmd,
		FetchLimit: config.FetchLimit,
	})
	gw := gateway.New(h, config.HistoryLimit)

	// 创建用于优雅退出的 Context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go expiry.New(store, orch, h, config.ExpiryInterval).Run(ctx)

	certs, tlsConfig := setupTLS(ctx)
	server := api.NewServer(orch, store, api.Options{
		Certs:           certs,
		MaxArchiveBytes: config.MaxArchiveBytes,
		FetchLimit:      config.FetchLimit,
	})

	srv := &http.Server{
		Addr:      ":" + config.HTTPPort,
		Handler:   router.New(server, gw),
		TLSConfig: tlsConfig,
	}

	srvErrCh := make(chan error, 1)
	go func() {
		var err error
		if tlsConfig != nil {
			log.Infof("HTTPS listening on :%s", config.HTTPPort)
			err = srv.ListenAndServeTLS("", "")
		} else {
			log.Infof("HTTP listening on :%s", config.HTTPPort)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErrCh <- err
		}
	}()

	// 信号处理
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("Received signal: %v. Shutting down...", sig)
	case err := <-srvErrCh:
		log.WithError(err).Error("Service error. Shutting down...")
	}

	cancel()

	shutdownCtx, done := context.WithTimeout(context.Background(), 2*config.StopGrace+10*time.Second)
	defer done()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	gw.Close()
	orch.Close()
	if err := sv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("some bots did not exit in time")
	}
	if err := store.Close(); err != nil {
		log.WithError(err).Warn("failed to close database")
	}
	log.Info("BotCloud exit.")
}

func initDirectories() {
	dirs := []string{
		config.DeployDir,             // 部署目录
		config.CertsDir,              // 证书目录
		filepath.Dir(config.LogFile), // 日志目录
		filepath.Dir(config.DBFile),  // 数据库目录
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Logger.WithError(err).Warnf("failed to create directory %s", dir)
		}
	}
}

// setupTLS 读取 https.yaml 并准备证书，失败时回退到 HTTP
func setupTLS(ctx context.Context) (*bothttps.Manager, *tls.Config) {
	log := logger.For("https")

	cfg, err := bothttps.LoadConfig(config.HTTPSConfig)
	if err != nil {
		log.WithError(err).Warn("invalid HTTPS config, falling back to HTTP")
		return nil, nil
	}

	certs := bothttps.NewManager(cfg, config.CertsDir, config.CertFile, config.KeyFile)
	tlsConfig, err := certs.Setup(ctx)
	if err != nil {
		log.WithError(err).Warn("TLS setup failed, falling back to HTTP")
		return certs, nil
	}
	if tlsConfig == nil {
		return certs, nil
	}

	// HTTP-01 挑战需要独立的 HTTP 监听
	if challenge := certs.ChallengeHandler(); challenge != nil {
		go func() {
			addr := certs.ChallengeAddr()
			log.Infof("ACME HTTP-01 challenge listening on %s", addr)
			if err := http.ListenAndServe(addr, challenge); err != nil {
				log.WithError(err).Error("challenge listener stopped")
			}
		}()
	}

	go certs.Watch(ctx, 30*time.Second)
	return certs, tlsConfig
}
