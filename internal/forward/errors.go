package forward

import (
	"errors"
	"fmt"
	"time"
)

// 控制面同步返回的错误
var (
	// ErrConflict 同一 (源, 目标) 通路已有 active 任务
	ErrConflict = errors.New("an active task already exists for this source/destination pair")

	// ErrAlreadyComplete 尝试恢复已完成的任务
	ErrAlreadyComplete = errors.New("task is already completed")

	// ErrTaskNotFound 任务不存在
	ErrTaskNotFound = errors.New("task not found")

	// ErrChannelNotFound 频道引用不存在
	ErrChannelNotFound = errors.New("channel reference not found")

	// ErrChannelInUse 频道引用被 active 任务占用，不能删除
	ErrChannelInUse = errors.New("channel reference is used by an active task")

	// ErrTaskActive 任务处于 active 状态，不允许此操作
	ErrTaskActive = errors.New("task is active")
)

// ValidationError 控制面入参错误，同步拒绝，不产生任何状态变更
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// RateLimitedError 服务商限流信号，携带必须等待的时长
// 引擎自动暂停等待后重试，不会作为失败上抛
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.Wait)
}

// FatalError 不可自动恢复的错误（权限丢失、目标不存在等）
// 任务转入 failed，需要用户显式恢复
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string {
	return e.Reason
}

// Fatalf 构造 FatalError
func Fatalf(format string, args ...interface{}) *FatalError {
	return &FatalError{Reason: fmt.Sprintf(format, args...)}
}
