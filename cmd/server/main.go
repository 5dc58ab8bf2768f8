package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leadledger/internal/config"
	"leadledger/internal/handler"
	"leadledger/internal/infrastructure/cache"
	"leadledger/internal/infrastructure/database"
	"leadledger/internal/infrastructure/logger"
	"leadledger/internal/infrastructure/metrics"
	"leadledger/internal/infrastructure/mq"
	"leadledger/internal/job"
	"leadledger/internal/service"
	"leadledger/pkg/idgen"

	"go.uber.org/zap"
)

const defaultConfigPath = "config/config.yaml"

func main() {
	// 加载配置
	configPath := os.Getenv("LEDGER_CONFIG")
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}

	// 初始化日志
	zlog, err := logger.New(&cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	// 初始化 ID 生成器
	if err := idgen.Init(cfg.Server.WorkerID); err != nil {
		zlog.Fatal("初始化ID生成器失败", zap.Error(err))
	}

	// 初始化数据库
	db, err := database.Open(&cfg.Database, zlog)
	if err != nil {
		zlog.Fatal("初始化数据库失败", zap.Error(err))
	}

	// 初始化 Redis（未启用时为 nil，锁与缓存自动跳过）
	redisClient, err := cache.InitRedis(&cfg.Redis, zlog)
	if err != nil {
		zlog.Fatal("初始化 Redis 失败", zap.Error(err))
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	m := metrics.New()
	deps := service.Dependencies{
		DB:          db,
		Redis:       redisClient,
		Config:      cfg,
		Logger:      zlog,
		Metrics:     m,
		Leaderboard: cache.NewLeaderboardCache(redisClient, time.Duration(cfg.Business.LeaderboardCacheTTLSeconds)*time.Second),
	}

	// 创建上下文（用于优雅关闭）
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动后台任务
	var outboxSender *job.OutboxSender
	if cfg.Kafka.Enabled {
		publisher, err := mq.InitKafka(&cfg.Kafka)
		if err != nil {
			zlog.Fatal("初始化 Kafka 失败", zap.Error(err))
		}
		defer publisher.Close()

		outboxSender = job.NewOutboxSender(db, publisher, cfg.Business.MaxRetryCount, m, zlog)
		go outboxSender.Start(ctx)
	} else {
		zlog.Warn("Kafka 未启用，事件保留在 outbox 表中")
	}

	reconcileJob := job.NewEarnedReconcileJob(
		service.NewReportService(deps),
		service.NewAuditService(deps),
		time.Duration(cfg.Business.ReconcileIntervalSeconds)*time.Second,
		zlog,
	)
	go reconcileJob.Start(ctx)

	// 设置路由
	router := handler.SetupRouter(deps)

	// 启动 HTTP 服务
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// 在 goroutine 中启动服务器
	go func() {
		zlog.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zlog.Info("正在关闭服务...")

	// 停止后台任务，再取消上下文中断进行中的请求
	reconcileJob.Stop()
	if outboxSender != nil {
		outboxSender.Stop()
	}
	cancel()

	// 关闭 HTTP 服务（等待最多5秒）
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error("服务关闭异常", zap.Error(err))
	}

	zlog.Info("服务已关闭")
}
