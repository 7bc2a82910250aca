package engine

import (
	"sync"

	"forwardbot/internal/forward"
)

// Registry 活动任务注册表
// 持有 (源, 目标) 通路互斥和取消标记，是引擎唯一的共享内存状态
// 只做进程内快速判断，跨进程的互斥由存储层的 active 状态保证
type Registry struct {
	mu        sync.Mutex
	active    map[forward.Pair]string // 通路 -> 持有它的任务ID
	cancelled map[string]bool
}

// NewRegistry 创建注册表
func NewRegistry() *Registry {
	return &Registry{
		active:    make(map[forward.Pair]string),
		cancelled: make(map[string]bool),
	}
}

// TryAcquire 尝试占用通路，已被占用时返回 false
func (r *Registry) TryAcquire(pair forward.Pair, taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, held := r.active[pair]; held {
		return false
	}
	r.active[pair] = taskID
	return true
}

// Release 释放通路
func (r *Registry) Release(pair forward.Pair) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, pair)
}

// ActiveTask 返回占用通路的任务ID
func (r *Registry) ActiveTask(pair forward.Pair) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	taskID, ok := r.active[pair]
	return taskID, ok
}

// ActiveCount 当前运行中的任务数
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// SetCancel 设置取消标记，引擎在消息边界和分页边界检查
func (r *Registry) SetCancel(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancelled[taskID] = true
}

// IsCancelled 查询取消标记
func (r *Registry) IsCancelled(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled[taskID]
}

// ClearCancel 清除取消标记（任务结束时调用）
func (r *Registry) ClearCancel(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancelled, taskID)
}
