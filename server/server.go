package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"soundscape/cache"
	"soundscape/config"
	"soundscape/core/audio"
	"soundscape/core/auth"
	"soundscape/core/mixer"
	"soundscape/core/render"
	"soundscape/core/session"
	"soundscape/core/source"
	"soundscape/core/stream"
	"soundscape/db"
	"soundscape/logger"
	"soundscape/repository"
	"soundscape/storage"
)

// Start initializes and starts the HTTP server. It returns after a graceful
// shutdown on SIGINT or SIGTERM.
func Start(cfg *config.Config) {
	// Connect to the database
	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("连接数据库失败", logger.ErrorField(err))
	}
	defer db.CloseGormDB()
	if err := db.AutoMigrate(); err != nil {
		logger.Fatal("数据库迁移失败", logger.ErrorField(err))
	}

	// Redis 与 MinIO 不可用时降级运行：不缓存渲染结果，不支持 minio:// 音源
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Warn("连接 Redis 失败，缓存已禁用", logger.ErrorField(err))
	} else {
		defer cache.CloseRedis()
	}
	store, err := storage.InitMinio(cfg)
	if err != nil {
		logger.Warn("初始化 MinIO 失败，对象存储已禁用", logger.ErrorField(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ffmpeg := audio.NewFFmpegProcessor(cfg.FFmpegPath, cfg.FFprobePath)
	resolverOpts := source.Options{
		SourceDir: cfg.SourceAudioDir,
		CacheDir:  cfg.SourceCacheDir,
	}
	if cache.RedisClient != nil {
		resolverOpts.Meta = cache.NewSourceCache()
	}
	if store != nil {
		resolverOpts.Objects = store
	}
	resolver := source.NewResolver(resolverOpts)
	go func() {
		if err := resolver.Watch(ctx); err != nil {
			logger.Warn("音源缓存目录监听失败", logger.ErrorField(err))
		}
	}()

	pipeline := render.NewPipeline(ffmpeg, resolver, render.Config{
		TempDir:              cfg.RenderTempDir,
		Bitrate:              cfg.AudioBitrate,
		MasterCompensationDB: cfg.MasterCompensationDB,
		DefaultDuration:      cfg.RenderDuration,
	})
	renderQueue := render.NewQueue(pipeline, cfg.RenderWorkers, cfg.RenderWorkers*4)
	defer renderQueue.Stop()

	sessions := session.NewManager(
		session.NewLoader(resolver, audio.NewDecoder(ffmpeg)),
		mixer.Options{
			MaxTracks:         cfg.MaxTracks,
			LeadDelay:         cfg.LeadDelay,
			SeekGuardDelay:    cfg.SeekGuardDelay,
			MasterGainDB:      cfg.MasterGainDB,
			NormalizeTargetDB: &cfg.NormalizeTargetDB,
		},
		cfg.MaxSessions)
	defer sessions.CloseAll()

	deps := Dependencies{
		Users:       repository.NewGormUserRepository(db.GormDB),
		Soundscapes: repository.NewGormSoundscapeRepository(db.GormDB),
		Issuer:      auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL),
		Renders:     renderQueue,
		Sessions:    sessions,
		MP3:         stream.NewMP3Monitor(ffmpeg.PCMToMP3Command, cfg.AudioBitrate),
		RTC:         stream.NewRTCMonitor(cfg.ICEServers...),
		Config:      cfg,
	}
	if store != nil && cache.RedisClient != nil {
		deps.Store = store
		deps.RenderCache = cache.NewRenderCache()
	}

	// 流式接口长时间写出，不设置 WriteTimeout
	server := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     NewRouter(NewAPIHandler(deps)),
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("服务器启动", logger.String("addr", cfg.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("服务器启动失败", logger.ErrorField(err))
		}
	}()

	// 等待中断信号
	<-stop
	logger.Info("正在关闭服务器...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// 先关闭会话，结束长连接
	sessions.CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("服务器强制关闭", logger.ErrorField(err))
	}
	logger.Info("服务器已停止")
}
