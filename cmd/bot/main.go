package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"forwardbot/internal/app"
	"forwardbot/internal/config"
	"forwardbot/internal/logger"
)

func main() {
	// 初始化logger
	logger.Init()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		logger.L().Fatalf("配置加载失败: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)

	// 初始化应用
	application, err := app.New(cfg)
	if err != nil {
		logger.L().Fatalf("应用初始化失败: %v", err)
	}

	// 监听退出信号
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.L().Info("Forward bot is running, press Ctrl+C to stop")
	if err := application.Run(ctx); err != nil {
		logger.L().Errorf("Bot 运行出错: %v", err)
	}

	// 优雅关闭：运行中的任务在边界落库 paused，可显式恢复
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := application.Close(shutdownCtx); err != nil {
		logger.L().Errorf("应用关闭失败: %v", err)
	}
	logger.L().Info("Forward bot stopped")
}
