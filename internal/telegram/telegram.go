package telegram

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	botModels "github.com/go-telegram/bot/models"

	"forwardbot/internal/forward/repository"
	"forwardbot/internal/forward/service"
	"forwardbot/internal/logger"
)

// Config Telegram Bot 配置
type Config struct {
	Token    string  // Bot Token
	OwnerIDs []int64 // Owner 用户 IDs
	Debug    bool    // 是否开启调试模式
}

// Bot Telegram Bot 服务
type Bot struct {
	bot        *bot.Bot
	svc        service.Service
	channels   repository.ChannelRepository
	archiver   *Archiver
	ownerIDs   []int64
	workerPool *WorkerPool
}

// NewClient 创建底层 Bot API 客户端
// 先于 Bot 构建：投递适配器和通知器直接依赖它
func NewClient(cfg Config) (*bot.Bot, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token cannot be empty")
	}

	opts := []bot.Option{}
	if cfg.Debug {
		opts = append(opts, bot.WithDebug())
	}

	api, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return api, nil
}

// New 创建 Telegram Bot 实例并注册全部处理器
func New(cfg Config, api *bot.Bot, svc service.Service, channels repository.ChannelRepository, archiver *Archiver) *Bot {
	telegramBot := &Bot{
		bot:        api,
		svc:        svc,
		channels:   channels,
		archiver:   archiver,
		ownerIDs:   cfg.OwnerIDs,
		workerPool: NewWorkerPool(8, 256),
	}

	telegramBot.registerHandlers()

	logger.L().Info("Telegram bot initialized successfully")
	return telegramBot
}

// Start 启动 Bot（阻塞式，应在 goroutine 中运行）
func (b *Bot) Start(ctx context.Context) error {
	logger.L().Info("Starting Telegram bot...")
	b.bot.Start(ctx)
	logger.L().Info("Telegram bot stopped")
	return nil
}

// Stop 停止 Bot，等待在执行的 handler 完成
func (b *Bot) Stop(ctx context.Context) error {
	logger.L().Info("Stopping Telegram bot...")
	b.workerPool.Shutdown()
	return nil
}

// asyncHandler 把 handler 包装为经工作池异步执行
func (b *Bot) asyncHandler(handler bot.HandlerFunc) bot.HandlerFunc {
	return func(ctx context.Context, botInstance *bot.Bot, update *botModels.Update) {
		b.workerPool.Submit(HandlerTask{
			Ctx:         ctx,
			BotInstance: botInstance,
			Update:      update,
			Handler:     handler,
		})
	}
}
