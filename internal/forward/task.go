package forward

import (
	"time"
)

// Status 任务状态
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// IsTerminal 判断状态是否为终态
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

// IsResumable 判断任务是否可被恢复
func (s Status) IsResumable() bool {
	return s == StatusPaused || s == StatusFailed || s == StatusCancelled
}

// Pair 标识一条 (源, 目标) 转发通路
// 同一通路同时只允许一个 active 任务
type Pair struct {
	SourceChatID int64
	DestChatID   int64
}

// Counters 任务计数器
type Counters struct {
	Total     int64 `bson:"total"`     // 枚举窗口内的消息总数（发现阶段统计）
	Forwarded int64 `bson:"forwarded"` // 已成功转发数
	Duplicate int64 `bson:"duplicate"` // 去重跳过数
	Filtered  int64 `bson:"filtered"`  // 过滤跳过数
	Deleted   int64 `bson:"deleted"`   // 空消息/服务消息跳过数
}

// Processed 已处理的消息总数
func (c Counters) Processed() int64 {
	return c.Forwarded + c.Duplicate + c.Filtered + c.Deleted
}

// ChannelRef 用户登记的频道引用
type ChannelRef struct {
	RefID         string    `bson:"ref_id"`  // 引用ID (UUID)
	UserID        int64     `bson:"user_id"` // 所属用户
	ChatID        int64     `bson:"chat_id"` // 频道的 Telegram Chat ID
	Title         string    `bson:"title"`
	Link          string    `bson:"link"`            // 添加时使用的链接或用户名
	LastMessageID int64     `bson:"last_message_id"` // /lastmsg 登记的窗口上界，0 表示未设置
	AddedAt       time.Time `bson:"added_at"`
}

// Task 转发任务
// Checkpoint 是最后一条成功转发的消息ID，恢复时从 Checkpoint+1 开始
type Task struct {
	TaskID       string    `bson:"task_id"`
	UserID       int64     `bson:"user_id"`
	SourceRefID  string    `bson:"source_ref_id"`
	DestRefID    string    `bson:"dest_ref_id"`
	SourceChatID int64     `bson:"source_chat_id"`
	DestChatID   int64     `bson:"dest_chat_id"`
	StartAfterID int64     `bson:"start_after_id"` // 初始检查点，窗口下界（不含）
	UpperBoundID int64     `bson:"upper_bound_id"` // 窗口上界（含），0 表示到历史末尾
	Checkpoint   int64     `bson:"checkpoint"`
	Counters     Counters  `bson:"counters"`
	Status       Status    `bson:"status"`
	Error        string    `bson:"error,omitempty"` // 仅 status=failed 时有值
	Config       Config    `bson:"config"`          // 启动时的配置快照
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

// Clone 返回任务的深拷贝
// 引擎把任务指针交给后台循环持续更新，对外只暴露拷贝
func (t *Task) Clone() *Task {
	clone := *t
	clone.Config = t.Config.Clone()
	return &clone
}

// Pair 返回任务的转发通路
func (t *Task) Pair() Pair {
	return Pair{SourceChatID: t.SourceChatID, DestChatID: t.DestChatID}
}

// ProgressPercent 计算进度百分比，夹取到 [0,100]
// 发现阶段的总数可能滞后于实际窗口，百分比可能算出超过 100，显示时必须夹取
func (t *Task) ProgressPercent() int {
	if t.Counters.Total <= 0 {
		return 0
	}
	percent := int(t.Counters.Forwarded * 100 / t.Counters.Total)
	if percent < 0 {
		return 0
	}
	if percent > 100 {
		return 100
	}
	return percent
}
