package forward

import (
	"context"
)

// Source 源频道历史消息适配器
// 序列按消息ID升序，由ID游标驱动，可从任意游标安全重启
type Source interface {
	// PageMessages 返回 chatID 中 ID 在 (afterID, beforeID] 内的一页消息
	// beforeID 为 0 表示不设上界；返回空页表示窗口枚举完毕
	PageMessages(ctx context.Context, chatID, afterID, beforeID int64, pageSize int) ([]*Message, error)
}

// DeliverOptions 单条投递的附加选项
type DeliverOptions struct {
	Caption string // 覆盖说明文字，空表示保留原文
	Button  string // 内联按钮模板
	Protect bool   // 内容保护
}

// Relay 投递适配器
// 返回错误分三类：*RateLimitedError（限流等待）、*FatalError（永久失败）、
// 其余视为瞬态错误，可原样重试
type Relay interface {
	// DeliverOne 把一条消息复制到目标
	DeliverOne(ctx context.Context, destChatID, sourceChatID int64, msg *Message, opts DeliverOptions) error

	// DeliverBatch 把一批消息ID整体转发到目标（保留来源署名）
	// 从引擎视角批次不存在部分成功：要么整批成功，要么整批报错可重发
	DeliverBatch(ctx context.Context, destChatID, sourceChatID int64, messageIDs []int64, protect bool) error
}

// Notifier 任务终态通知
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
}

// NopNotifier 空通知器
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, int64, string) {}
