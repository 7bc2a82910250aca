package app

import (
	"context"
	"fmt"
	"time"

	"forwardbot/internal/config"
	"forwardbot/internal/forward/engine"
	"forwardbot/internal/forward/repository"
	"forwardbot/internal/forward/service"
	"forwardbot/internal/logger"
	"forwardbot/internal/mongo"
	"forwardbot/internal/telegram"
)

// App 应用服务容器
// 负责管理所有服务的生命周期（初始化、运行、关闭）
type App struct {
	MongoDB *mongo.Client
	Engine  *engine.Engine
	Sweeper *service.Sweeper
	Bot     *telegram.Bot

	limiter *telegram.RateLimiter
}

// New 初始化应用及其所有服务
// 按顺序初始化各个服务，任何服务初始化失败都会返回错误
func New(cfg *config.Config) (*App, error) {
	app := &App{}

	// 初始化 MongoDB
	mongoClient, err := mongo.NewClient(mongo.Config{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDBName,
		Timeout:  cfg.MongoTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("init MongoDB failed: %w", err)
	}
	app.MongoDB = mongoClient
	logger.L().Info("MongoDB initialized successfully")

	db := mongoClient.Database()
	taskRepo := repository.NewMongoTaskRepository(db)
	channelRepo := repository.NewMongoChannelRepository(db)
	configRepo := repository.NewMongoConfigRepository(db)
	fingerprintRepo := repository.NewMongoFingerprintRepository(db)
	archiveRepo := repository.NewMongoArchiveRepository(db)

	ctx := context.Background()
	if err := ensureIndexes(ctx, cfg, taskRepo, channelRepo, configRepo, fingerprintRepo, archiveRepo); err != nil {
		app.Close(ctx)
		return nil, err
	}

	// 上个进程死亡时遗留的 active 任务降级为 paused，等用户显式恢复
	demoted, err := taskRepo.DemoteActiveTasks(ctx)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("demote stale active tasks failed: %w", err)
	}
	if demoted > 0 {
		logger.L().Warnf("Demoted %d stale active tasks to paused", demoted)
	}

	// Bot API 客户端先行，投递和通知都挂在它上面
	telegramCfg := telegram.Config{Token: cfg.TelegramToken, OwnerIDs: cfg.BotOwnerIDs}
	api, err := telegram.NewClient(telegramCfg)
	if err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("init Telegram client failed: %w", err)
	}

	app.limiter = telegram.NewRateLimiter(30)
	relay := telegram.NewRelay(api, app.limiter)
	source := telegram.NewArchiveSource(archiveRepo)
	notifier := telegram.NewNotifier(api)

	app.Engine = engine.New(
		taskRepo,
		fingerprintRepo,
		source,
		relay,
		engine.NewRegistry(),
		notifier,
		engine.SystemClock(),
		engine.Options{
			Delay:    cfg.ForwardDelay,
			PageSize: cfg.PageSize,
		},
	)

	svc := service.NewForwardService(app.Engine, taskRepo, channelRepo, configRepo)

	app.Sweeper = service.NewSweeper(taskRepo, time.Duration(cfg.TaskRetentionDays)*24*time.Hour)
	if err := app.Sweeper.Start(); err != nil {
		app.Close(ctx)
		return nil, fmt.Errorf("start task sweeper failed: %w", err)
	}

	archiver := telegram.NewArchiver(archiveRepo)
	app.Bot = telegram.New(telegramCfg, api, svc, channelRepo, archiver)

	return app, nil
}

// ensureIndexes 初始化全部集合索引
func ensureIndexes(
	ctx context.Context,
	cfg *config.Config,
	tasks repository.TaskRepository,
	channels repository.ChannelRepository,
	configs repository.ConfigRepository,
	fingerprints repository.FingerprintRepository,
	archive repository.ArchiveRepository,
) error {
	if err := tasks.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure task indexes failed: %w", err)
	}
	if err := channels.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure channel indexes failed: %w", err)
	}
	if err := configs.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure config indexes failed: %w", err)
	}
	if err := fingerprints.EnsureIndexes(ctx, cfg.FingerprintTTL); err != nil {
		return fmt.Errorf("ensure fingerprint indexes failed: %w", err)
	}
	if err := archive.EnsureIndexes(ctx); err != nil {
		return fmt.Errorf("ensure archive indexes failed: %w", err)
	}
	logger.L().Debug("All indexes ensured")
	return nil
}

// Run 启动 Bot 并阻塞到上下文取消
func (a *App) Run(ctx context.Context) error {
	return a.Bot.Start(ctx)
}

// Close 优雅关闭所有服务
// 先停引擎让任务在边界落库 paused，再关外围设施
func (a *App) Close(ctx context.Context) error {
	if a.Engine != nil {
		if err := a.Engine.Shutdown(ctx); err != nil {
			logger.L().Errorf("Engine shutdown: %v", err)
		}
	}
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}
	if a.Bot != nil {
		if err := a.Bot.Stop(ctx); err != nil {
			logger.L().Errorf("Bot stop: %v", err)
		}
	}
	if a.limiter != nil {
		a.limiter.Close()
	}
	if a.MongoDB != nil {
		if err := a.MongoDB.Close(ctx); err != nil {
			return fmt.Errorf("close MongoDB failed: %w", err)
		}
	}
	return nil
}
