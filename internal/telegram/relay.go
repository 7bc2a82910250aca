package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-telegram/bot"

	"forwardbot/internal/forward"
)

// Relay 基于 Bot API 的投递适配器
// CopyMessage 逐条复制（可改写说明/按钮），ForwardMessages 整批带署名转发
type Relay struct {
	api     *bot.Bot
	limiter *RateLimiter
}

// NewRelay 创建投递适配器
// limiter 控制对 Bot API 的全局调用频率，任务内的节奏由引擎的间隔负责
func NewRelay(api *bot.Bot, limiter *RateLimiter) *Relay {
	return &Relay{api: api, limiter: limiter}
}

// DeliverOne 复制一条消息到目标
func (r *Relay) DeliverOne(ctx context.Context, destChatID, sourceChatID int64, msg *forward.Message, opts forward.DeliverOptions) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	params := &bot.CopyMessageParams{
		ChatID:         destChatID,
		FromChatID:     sourceChatID,
		MessageID:      int(msg.ID),
		ProtectContent: opts.Protect,
	}
	if opts.Caption != "" {
		params.Caption = opts.Caption
	}
	if opts.Button != "" {
		if markup := ParseButtonTemplate(opts.Button); markup != nil {
			params.ReplyMarkup = markup
		}
	}

	if _, err := r.api.CopyMessage(ctx, params); err != nil {
		return classifyAPIError(err)
	}
	return nil
}

// DeliverBatch 整批转发，保留来源署名
func (r *Relay) DeliverBatch(ctx context.Context, destChatID, sourceChatID int64, messageIDs []int64, protect bool) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	ids := make([]int, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = int(id)
	}

	params := &bot.ForwardMessagesParams{
		ChatID:         destChatID,
		FromChatID:     sourceChatID,
		MessageIDs:     ids,
		ProtectContent: protect,
	}

	if _, err := r.api.ForwardMessages(ctx, params); err != nil {
		return classifyAPIError(err)
	}
	return nil
}

// classifyAPIError 把 Bot API 错误翻译成引擎的错误分类
// 429 带等待时长 → 限流；权限/参数/鉴权类 → 永久失败；其余按瞬态处理
func classifyAPIError(err error) error {
	if err == nil {
		return nil
	}

	var tooMany *bot.TooManyRequestsError
	if errors.As(err, &tooMany) {
		wait := time.Duration(tooMany.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		return &forward.RateLimitedError{Wait: wait}
	}

	var migrate *bot.MigrateError
	if errors.As(err, &migrate) {
		return forward.Fatalf("chat migrated to %d, re-register the channel", migrate.MigrateToChatID)
	}

	switch {
	case errors.Is(err, bot.ErrorForbidden):
		return forward.Fatalf("access forbidden: %v", err)
	case errors.Is(err, bot.ErrorBadRequest):
		return forward.Fatalf("bad request: %v", err)
	case errors.Is(err, bot.ErrorUnauthorized):
		return forward.Fatalf("unauthorized: %v", err)
	case errors.Is(err, bot.ErrorNotFound):
		return forward.Fatalf("not found: %v", err)
	}

	return fmt.Errorf("telegram api error: %w", err)
}
