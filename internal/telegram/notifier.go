package telegram

import (
	"context"

	"github.com/go-telegram/bot"

	"forwardbot/internal/logger"
)

// Notifier 任务终态通知：把完成/取消/失败消息私发给任务所有者
type Notifier struct {
	api *bot.Bot
}

// NewNotifier 创建通知器
func NewNotifier(api *bot.Bot) *Notifier {
	return &Notifier{api: api}
}

// Notify 发送通知，失败只记日志（通知不影响任务结果）
func (n *Notifier) Notify(ctx context.Context, userID int64, text string) {
	if userID == 0 {
		return
	}

	_, err := n.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: userID,
		Text:   text,
	})
	if err != nil {
		logger.L().Errorf("Failed to notify user %d: %v", userID, err)
	}
}
