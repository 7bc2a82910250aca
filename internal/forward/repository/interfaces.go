package repository

import (
	"context"
	"time"

	"forwardbot/internal/forward"
)

// TaskRepository 转发任务进度存储接口
// 每条任务记录的写入都是单文档原子更新，检查点和状态不会出现撕裂读
type TaskRepository interface {
	// SaveTask 创建或整体覆盖任务记录
	SaveTask(ctx context.Context, task *forward.Task) error

	// GetByTaskID 根据任务ID获取任务
	GetByTaskID(ctx context.Context, taskID string) (*forward.Task, error)

	// ListByUser 列出用户的任务，statuses 非空时按状态过滤
	ListByUser(ctx context.Context, userID int64, statuses []forward.Status) ([]*forward.Task, error)

	// FindActiveByPair 查找同一 (源, 目标) 通路上的 active 任务
	FindActiveByPair(ctx context.Context, pair forward.Pair) (*forward.Task, error)

	// UpdateProgress 原子更新检查点和计数器
	UpdateProgress(ctx context.Context, taskID string, checkpoint int64, counters forward.Counters) error

	// UpdateStatus 更新任务状态，errDetail 仅在 failed 时写入，其余状态清空
	UpdateStatus(ctx context.Context, taskID string, status forward.Status, errDetail string) error

	// DeleteTask 删除任务，active 状态拒绝删除
	DeleteTask(ctx context.Context, taskID string) error

	// DemoteActiveTasks 启动时把所有 active 任务降级为 paused
	// 表示上一个进程中途死亡，需要用户显式恢复
	DemoteActiveTasks(ctx context.Context) (int64, error)

	// PurgeTerminalTasks 清理早于 before 的终态任务，返回删除数
	PurgeTerminalTasks(ctx context.Context, before time.Time) (int64, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// ChannelRepository 频道引用存储接口
type ChannelRepository interface {
	// Add 登记频道引用
	Add(ctx context.Context, ref *forward.ChannelRef) error

	// GetByRefID 根据引用ID获取
	GetByRefID(ctx context.Context, userID int64, refID string) (*forward.ChannelRef, error)

	// ListByUser 列出用户的全部频道引用
	ListByUser(ctx context.Context, userID int64) ([]*forward.ChannelRef, error)

	// UpdateTitle 刷新频道标题
	UpdateTitle(ctx context.Context, refID string, title string) error

	// UpdateLastMessage 登记频道的最后一条消息ID（/lastmsg）
	UpdateLastMessage(ctx context.Context, refID string, messageID int64) error

	// Delete 删除频道引用（调用方负责检查是否被 active 任务引用）
	Delete(ctx context.Context, userID int64, refID string) error

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// ConfigRepository 用户转发配置存储接口
type ConfigRepository interface {
	// GetByUserID 获取用户配置，不存在时返回默认配置
	GetByUserID(ctx context.Context, userID int64) (forward.Config, error)

	// Update 整体覆盖用户配置
	Update(ctx context.Context, userID int64, cfg forward.Config) error

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}

// FingerprintRepository 去重指纹存储接口
// 指纹按目标隔离：同一内容转发到不同目标互不影响
type FingerprintRepository interface {
	// Seen 判断指纹是否已在目标中出现过
	Seen(ctx context.Context, destChatID int64, fingerprint string) (bool, error)

	// Record 记录指纹，重复记录静默成功
	Record(ctx context.Context, destChatID int64, fingerprint string) error

	// EnsureIndexes 确保索引存在（含 TTL 自动过期）
	EnsureIndexes(ctx context.Context, ttl time.Duration) error
}

// ArchiveRepository 频道消息归档存储接口
// Bot 持续归档可见频道的消息，历史分页读取归档
type ArchiveRepository interface {
	// Save 归档一条消息（按 chat+message_id 幂等）
	Save(ctx context.Context, chatID int64, msg *forward.Message) error

	// PageAscending 返回 ID 在 (afterID, beforeID] 内的一页消息，按ID升序
	// beforeID 为 0 表示不设上界
	PageAscending(ctx context.Context, chatID, afterID, beforeID int64, limit int) ([]*forward.Message, error)

	// EnsureIndexes 确保索引存在
	EnsureIndexes(ctx context.Context) error
}
